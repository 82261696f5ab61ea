package peerstore

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testAddr() netip.AddrPort {
	return netip.MustParseAddrPort("203.0.113.5:6881")
}

func TestNewPeerInfoTracksKnownPeerCount(t *testing.T) {
	before := KnownPeerCount()
	pi := NewPeerInfo(testAddr(), 0, FromTracker)
	require.EqualValues(t, before+1, KnownPeerCount())
	pi.Close()
	require.EqualValues(t, before, KnownPeerCount())
}

func TestFoundAtKeepsMostTrustedProvenance(t *testing.T) {
	pi := NewPeerInfo(testAddr(), 0, FromPex)
	defer pi.Close()
	require.Equal(t, FromPex, pi.FromBest())

	pi.FoundAt(FromTracker)
	require.Equal(t, FromTracker, pi.FromBest(), "tracker sorts before pex, so it becomes the new best")

	pi.FoundAt(FromDhtAnnouncePeer)
	require.Equal(t, FromTracker, pi.FromBest(), "a less-trusted sighting must not overwrite the best one")

	require.Equal(t, FromPex, pi.FromFirst(), "first-seen provenance never changes")
}

func TestSetConnectedResetsFailureStreakAndPieceDataClock(t *testing.T) {
	pi := NewPeerInfo(testAddr(), 0, FromTracker)
	defer pi.Close()

	pi.OnConnectionFailed()
	pi.OnConnectionFailed()
	pi.SetLatestPieceDataTime(time.Now())
	require.EqualValues(t, 2, pi.ConnectionFailureCount())
	require.True(t, pi.HasTransferredPieceData())

	pi.SetConnected(time.Now(), true)
	require.EqualValues(t, 0, pi.ConnectionFailureCount())
	require.False(t, pi.HasTransferredPieceData())
	require.True(t, pi.IsConnected())
}

func TestOnConnectionFailedSaturates(t *testing.T) {
	pi := NewPeerInfo(testAddr(), 0, FromTracker)
	defer pi.Close()
	for i := 0; i < 300; i++ {
		pi.OnConnectionFailed()
	}
	require.EqualValues(t, 255, pi.ConnectionFailureCount())
}

func TestIdleSecsIsNoneWhenNotConnected(t *testing.T) {
	pi := NewPeerInfo(testAddr(), 0, FromTracker)
	defer pi.Close()
	require.False(t, pi.IdleSecs(time.Now()).Ok)
}

func TestIdleSecsMeasuresSinceLastPieceDataOrStateChange(t *testing.T) {
	pi := NewPeerInfo(testAddr(), 0, FromTracker)
	defer pi.Close()

	now := time.Now()
	pi.SetConnected(now, true)
	later := now.Add(30 * time.Second)

	idle := pi.IdleSecs(later)
	require.True(t, idle.Ok)
	require.EqualValues(t, 30, idle.Value)
}

func TestReconnectIntervalZeroForPeerWithNoHistory(t *testing.T) {
	pi := NewPeerInfo(testAddr(), 0, FromTracker)
	defer pi.Close()
	now := time.Now()
	require.True(t, pi.ReconnectIntervalHasPassed(now), "a peer with no history and no attempts reconnects immediately")
}

func TestReconnectIntervalBacksOffWithConsecutiveFailures(t *testing.T) {
	pi := NewPeerInfo(testAddr(), 0, FromTracker)
	defer pi.Close()
	pi.SetConnectable(false)

	now := time.Now()
	pi.SetConnectionAttemptTime(now)
	pi.OnConnectionFailed()

	require.False(t, pi.ReconnectIntervalHasPassed(now.Add(5*time.Second)), "still inside the backoff window")
	// step = num_consecutive_fails(1) + 2 (unreachable) = 3 -> 15 minute backoff.
	require.False(t, pi.ReconnectIntervalHasPassed(now.Add(5*time.Minute)))
	require.True(t, pi.ReconnectIntervalHasPassed(now.Add(16*time.Minute)))
}

func TestSetPexFlagsAndPexFlagsRoundTrip(t *testing.T) {
	pi := NewPeerInfo(testAddr(), addedFSeed|addedFConnectable, FromPex)
	defer pi.Close()

	require.True(t, pi.IsSeed())
	require.True(t, pi.IsConnectable().Ok)
	require.True(t, pi.IsConnectable().Value)
	require.EqualValues(t, addedFSeed|addedFConnectable, pi.PexFlags())
}

func TestPexFlagsReflectsLaterDirectKnowledgeOverPexHint(t *testing.T) {
	pi := NewPeerInfo(testAddr(), addedFConnectable, FromPex)
	defer pi.Close()

	// A direct connection attempt later proves this peer unreachable,
	// overriding the earlier PEX hint.
	pi.SetConnectable(false)
	require.EqualValues(t, uint8(0), pi.PexFlags()&addedFConnectable)
}

func TestCompareByFailureCountOrdersAscending(t *testing.T) {
	a := NewPeerInfo(testAddr(), 0, FromTracker)
	b := NewPeerInfo(testAddr(), 0, FromTracker)
	defer a.Close()
	defer b.Close()

	b.OnConnectionFailed()
	require.Equal(t, -1, a.CompareByFailureCount(b))
	require.Equal(t, 1, b.CompareByFailureCount(a))
	require.Equal(t, 0, a.CompareByFailureCount(a))
}
