package bandwidth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dannyzb/torrentcore/common"
)

func TestClampNeverExceedsRequestAndIsMonotone(t *testing.T) {
	n := NewNode()
	n.SetClock(func() int64 { return 1000 })
	n.SetLimited(common.Up, true)
	n.SetDesiredBps(common.Up, 1000)
	n.band[common.Up].bytesLeft = 500

	require.LessOrEqual(t, n.Clamp(0, common.Up, 1000), int64(1000))
	require.EqualValues(t, 0, n.Clamp(0, common.Up, 0))

	small := n.Clamp(0, common.Up, 10)
	large := n.Clamp(0, common.Up, 400)
	require.LessOrEqual(t, small, large)
}

func TestClampUnlimitedPassesThrough(t *testing.T) {
	n := NewNode()
	require.EqualValues(t, 42, n.Clamp(1000, common.Up, 42))
}

func TestClampSoftCapAt90Percent(t *testing.T) {
	n := NewNode()
	n.SetLimited(common.Up, true)
	n.SetDesiredBps(common.Up, 1000)
	n.band[common.Up].bytesLeft = 1000
	// Simulate an observed DOWN raw rate of 950 bytes/sec by recording 950
	// bytes strictly inside the 1000ms window ending at "now". The time must
	// be more than GranularityMSec past 0, or the sample coalesces into the
	// zero-dated start slot, which the window excludes.
	n.band[common.Down].desiredBps = 1000
	n.band[common.Down].raw.Record(500, 950)

	got := n.Clamp(1000, common.Up, 100)
	require.EqualValues(t, 80, got, "950/1000 = 0.95 > 0.9 -> 20%% reduction")
}

func TestClampOverLimitReturnsZero(t *testing.T) {
	n := NewNode()
	n.SetLimited(common.Up, true)
	n.SetDesiredBps(common.Up, 1000)
	n.band[common.Up].bytesLeft = 1000
	n.band[common.Down].desiredBps = 1000
	n.band[common.Down].raw.Record(500, 1500)

	got := n.Clamp(1000, common.Up, 100)
	require.EqualValues(t, 0, got)
}

func TestClampHonorsParentLimits(t *testing.T) {
	parent := NewNode()
	parent.SetLimited(common.Up, true)
	parent.SetDesiredBps(common.Up, 1000)
	parent.band[common.Up].bytesLeft = 5

	child := NewNode()
	child.SetParent(parent)
	child.SetHonorParentLimits(common.Up, true)

	require.EqualValues(t, 5, child.Clamp(1000, common.Up, 100))
}

func TestSetParentReparentingIsIdempotent(t *testing.T) {
	parent := NewNode()
	child := NewNode()

	child.SetParent(parent)
	require.Equal(t, []*Node{child}, parent.Children())

	child.SetParent(parent)
	require.Equal(t, []*Node{child}, parent.Children(), "reparenting to the same parent must not duplicate")
}

func TestSetParentRejectsSelfParenting(t *testing.T) {
	n := NewNode()
	require.Panics(t, func() { n.SetParent(n) })
}

func TestSetParentRejectsCycle(t *testing.T) {
	grandparent := NewNode()
	parent := NewNode()
	parent.SetParent(grandparent)

	require.Panics(t, func() { grandparent.SetParent(parent) })
}

func TestDeparentRemovesFromParentChildren(t *testing.T) {
	parent := NewNode()
	a := NewNode()
	b := NewNode()
	a.SetParent(parent)
	b.SetParent(parent)
	require.Len(t, parent.Children(), 2)

	a.Remove()
	require.Len(t, parent.Children(), 1)
	require.Equal(t, b, parent.Children()[0])
	require.Nil(t, a.Parent())
}

func TestNotifyConsumedPropagatesToAncestors(t *testing.T) {
	grandparent := NewNode()
	parent := NewNode()
	parent.SetParent(grandparent)
	child := NewNode()
	child.SetParent(parent)

	for _, n := range []*Node{grandparent, parent, child} {
		n.SetLimited(common.Down, true)
		n.SetDesiredBps(common.Down, 1000)
	}
	grandparent.band[common.Down].bytesLeft = 1000
	parent.band[common.Down].bytesLeft = 1000
	child.band[common.Down].bytesLeft = 1000

	child.NotifyConsumed(common.Down, 100, true, 1000)

	require.EqualValues(t, 900, child.band[common.Down].bytesLeft)
	require.EqualValues(t, 900, parent.band[common.Down].bytesLeft)
	require.EqualValues(t, 900, grandparent.band[common.Down].bytesLeft)
}

func TestNotifyConsumedIgnoresNonPieceDataForBudget(t *testing.T) {
	n := NewNode()
	n.SetLimited(common.Up, true)
	n.SetDesiredBps(common.Up, 1000)
	n.band[common.Up].bytesLeft = 1000

	n.NotifyConsumed(common.Up, 500, false, 1000)
	require.EqualValues(t, 1000, n.band[common.Up].bytesLeft, "non-piece-data bytes must not be charged")
}

func TestAllocateRefillsBytesLeftForLimitedNodes(t *testing.T) {
	root := NewNode()
	root.SetLimited(common.Up, true)
	root.SetDesiredBps(common.Up, 6000)
	root.SetLimited(common.Down, true)
	root.SetDesiredBps(common.Down, 3000)

	root.Allocate(1000)

	require.EqualValues(t, 6000, root.band[common.Up].bytesLeft)
	require.EqualValues(t, 3000, root.band[common.Down].bytesLeft)
}

func TestPhaseOneFlushesEachFinishingPeerOnceWithFullIncrement(t *testing.T) {
	finishingPeer1 := &finishingPeer{}
	finishingPeer2 := &finishingPeer{}
	peers := []PeerIO{finishingPeer1, finishingPeer2}
	phaseOne(peers, common.Up)

	require.Len(t, finishingPeer1.flushCalls, 1)
	require.Len(t, finishingPeer2.flushCalls, 1)
	require.EqualValues(t, phaseOneIncrement, finishingPeer1.flushCalls[0])
}

// finishingPeer reports using less than the full increment on its first
// Flush call, so a single phase-one pass drains it immediately.
type finishingPeer struct {
	priority   common.Priority
	flushCalls []int
}

func (p *finishingPeer) Flush(dir common.Direction, maxBytes int) int {
	p.flushCalls = append(p.flushCalls, maxBytes)
	return maxBytes - 1
}
func (p *finishingPeer) FlushOutgoingProtocolMsgs()            {}
func (p *finishingPeer) SetPriority(pr common.Priority)        { p.priority = pr }
func (p *finishingPeer) Priority() common.Priority             { return p.priority }
func (p *finishingPeer) SetEnabled(common.Direction, bool)     {}
func (p *finishingPeer) HasBandwidthLeft(common.Direction) bool { return false }

func TestAllocateGathersPeersIntoBuckets(t *testing.T) {
	root := NewNode()

	high := NewNode()
	highPeer := &finishingPeer{}
	high.SetPeer(highPeer)
	high.SetPriority(common.PriorityHigh)
	high.SetParent(root)

	low := NewNode()
	lowPeer := &finishingPeer{}
	low.SetPeer(lowPeer)
	low.SetParent(root)

	root.Allocate(1000)

	// A high priority peer is serviced by the high, normal, and low bucket
	// passes -- three Flush calls per direction, six total.
	require.Len(t, highPeer.flushCalls, 6)
	// A default (low) priority peer is only serviced by the low bucket.
	require.Len(t, lowPeer.flushCalls, 2)
}

func TestAllocateEnablesPhaseTwoBasedOnBandwidthLeft(t *testing.T) {
	root := NewNode()
	n := NewNode()
	p := &fakePeerWithBandwidth{bandwidthLeft: [common.NumDirections]bool{true, false}}
	n.SetPeer(p)
	n.SetParent(root)

	root.Allocate(1000)

	require.True(t, p.enabled[common.Up])
	require.False(t, p.enabled[common.Down])
}

type fakePeerWithBandwidth struct {
	enabled       [common.NumDirections]bool
	bandwidthLeft [common.NumDirections]bool
}

func (p *fakePeerWithBandwidth) Flush(dir common.Direction, maxBytes int) int { return maxBytes - 1 }
func (p *fakePeerWithBandwidth) FlushOutgoingProtocolMsgs()                   {}
func (p *fakePeerWithBandwidth) SetPriority(common.Priority)                 {}
func (p *fakePeerWithBandwidth) Priority() common.Priority                   { return common.PriorityNormal }
func (p *fakePeerWithBandwidth) SetEnabled(dir common.Direction, enabled bool) {
	p.enabled[dir] = enabled
}
func (p *fakePeerWithBandwidth) HasBandwidthLeft(dir common.Direction) bool {
	return p.bandwidthLeft[dir]
}
