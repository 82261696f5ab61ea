package peerstore

import (
	"net/netip"
	"time"

	. "github.com/anacrolix/generics"

	"github.com/dannyzb/torrentcore/common"
)

// From identifies how a peer was discovered. Lower values are considered
// more trustworthy provenance when two discoveries of the same peer race —
// FoundAt keeps the minimum it's seen, matching peer-mgr.h's
// from_best_ = std::min(from_best_, from).
type From int

const (
	FromIncoming From = iota
	FromTracker
	FromDhtGetPeers
	FromDhtAnnouncePeer
	FromPex
	FromUtHolepunch
	FromResume
)

func (f From) String() string {
	switch f {
	case FromIncoming:
		return "incoming"
	case FromTracker:
		return "tracker"
	case FromDhtGetPeers:
		return "dht-get-peers"
	case FromDhtAnnouncePeer:
		return "dht-announce-peer"
	case FromPex:
		return "pex"
	case FromUtHolepunch:
		return "holepunch"
	case FromResume:
		return "resume"
	default:
		return "unknown"
	}
}

// knownPeerCount is the process-wide live PeerInfo count, the Go analogue of
// peer-mgr.h's static n_known_peers atomic (SUPPLEMENTED FEATURE: the
// original exposes it as tr_peer_info::known_peer_count()).
var knownPeerCount common.Count

// KnownPeerCount reports how many PeerInfo values are currently alive.
func KnownPeerCount() int64 { return knownPeerCount.Int64() }

// PeerInfo is what's remembered about a peer across connection attempts:
// where it came from, whether it's reachable, and its recent failure/success
// history. A PeerInfo outlives any single connection.
type PeerInfo struct {
	addr netip.AddrPort

	fromFirst From
	fromBest  From

	connectionAttemptedAt time.Time
	connectionChangedAt   time.Time
	pieceDataAt           time.Time

	blocklisted   Option[bool]
	isConnectable Option[bool]
	supportsUTP   Option[bool]

	numConsecutiveFails common.SaturatingByte
	pexFlags            uint8

	isBanned    bool
	isConnected bool
	isSeed      bool
}

// minimumReconnectIntervalSecs is the reconnect interval for a reachable peer
// that sent piece data within the last 2*minimumReconnectIntervalSecs
// seconds. Other peers follow the failure-count ladder in
// reconnectIntervalSecs, which starts at 0.
const minimumReconnectIntervalSecs = 5

// NewPeerInfo starts tracking a newly discovered peer and bumps the
// process-wide known-peer count. Callers must call Close when the PeerInfo
// is discarded.
func NewPeerInfo(addr netip.AddrPort, pexFlags uint8, from From) *PeerInfo {
	knownPeerCount.Add(1)
	pi := &PeerInfo{
		addr:      addr,
		fromFirst: from,
		fromBest:  from,
	}
	pi.SetPexFlags(pexFlags)
	return pi
}

// Close releases this PeerInfo's slot in the process-wide known-peer count.
// Grounded on tr_peer_info's destructor decrementing n_known_peers.
func (p *PeerInfo) Close() {
	knownPeerCount.Add(-1)
}

func (p *PeerInfo) Addr() netip.AddrPort { return p.addr }

func (p *PeerInfo) FromFirst() From { return p.fromFirst }
func (p *PeerInfo) FromBest() From  { return p.fromBest }

// FoundAt records another sighting of this peer, keeping whichever
// provenance sorts lowest (most trusted).
func (p *PeerInfo) FoundAt(from From) {
	if from < p.fromBest {
		p.fromBest = from
	}
}

func (p *PeerInfo) SetSeed(seed bool) { p.isSeed = seed }
func (p *PeerInfo) IsSeed() bool      { return p.isSeed }

func (p *PeerInfo) SetConnectable(v bool) { p.isConnectable = Some(v) }
func (p *PeerInfo) IsConnectable() Option[bool] { return p.isConnectable }

func (p *PeerInfo) SetUTPSupported(v bool) { p.supportsUTP = Some(v) }
func (p *PeerInfo) SupportsUTP() Option[bool] { return p.supportsUTP }

// CompareByFailureCount orders peers by consecutive-failure count, ascending
// (SUPPLEMENTED FEATURE, grounded on compare_by_failure_count).
func (p *PeerInfo) CompareByFailureCount(other *PeerInfo) int {
	a, b := p.numConsecutiveFails.Get(), other.numConsecutiveFails.Get()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// CompareByPieceDataTime orders peers by how recently they last sent piece
// data, ascending (SUPPLEMENTED FEATURE, grounded on compare_by_piece_data_time).
func (p *PeerInfo) CompareByPieceDataTime(other *PeerInfo) int {
	switch {
	case p.pieceDataAt.Before(other.pieceDataAt):
		return -1
	case p.pieceDataAt.After(other.pieceDataAt):
		return 1
	default:
		return 0
	}
}

// SetConnected records a connection state transition. On a successful
// connection the failure streak and piece-data clock both reset, matching
// tr_peer_info::set_connected.
func (p *PeerInfo) SetConnected(now time.Time, connected bool) {
	p.connectionChangedAt = now
	p.isConnected = connected
	if connected {
		p.numConsecutiveFails.Reset()
		p.pieceDataAt = time.Time{}
	}
}

func (p *PeerInfo) IsConnected() bool { return p.isConnected }

func (p *PeerInfo) Ban()        { p.isBanned = true }
func (p *PeerInfo) IsBanned() bool { return p.isBanned }

// SetBlocklistedDirty forgets the cached blocklist verdict, forcing the next
// IsBlocklisted-style check to recompute it.
func (p *PeerInfo) SetBlocklistedDirty() { p.blocklisted = None[bool]() }

func (p *PeerInfo) Blocklisted() Option[bool]        { return p.blocklisted }
func (p *PeerInfo) SetBlocklisted(v bool)            { p.blocklisted = Some(v) }

func (p *PeerInfo) ConnectionAttemptTime() time.Time { return p.connectionAttemptedAt }
func (p *PeerInfo) SetConnectionAttemptTime(t time.Time) {
	p.connectionAttemptedAt = t
}

func (p *PeerInfo) SetLatestPieceDataTime(t time.Time) { p.pieceDataAt = t }
func (p *PeerInfo) HasTransferredPieceData() bool      { return !p.pieceDataAt.IsZero() }

// IdleSecs reports how long it's been since this peer last sent piece data
// or changed connection state, if currently connected. SUPPLEMENTED FEATURE,
// grounded on tr_peer_info::idle_secs.
func (p *PeerInfo) IdleSecs(now time.Time) Option[int64] {
	if !p.isConnected {
		return None[int64]()
	}
	last := p.pieceDataAt
	if p.connectionChangedAt.After(last) {
		last = p.connectionChangedAt
	}
	return Some(int64(now.Sub(last).Seconds()))
}

// ReconnectIntervalHasPassed reports whether enough time has elapsed since
// the last connection attempt or state change to justify trying again.
func (p *PeerInfo) ReconnectIntervalHasPassed(now time.Time) bool {
	last := p.connectionAttemptedAt
	if p.connectionChangedAt.After(last) {
		last = p.connectionChangedAt
	}
	interval := now.Sub(last)
	return interval >= time.Duration(p.reconnectIntervalSecs(now))*time.Second
}

// reconnectIntervalSecs is get_reconnect_interval_secs, unchanged in
// meaning from peer-mgr.h: peers we were recently exchanging piece data
// with get reconnected to quickly; otherwise back off by consecutive
// failure count, doubly penalized when the last attempt found the peer
// outright unreachable.
func (p *PeerInfo) reconnectIntervalSecs(now time.Time) int64 {
	unreachable := p.isConnectable.Ok && !p.isConnectable.Value

	if !unreachable && now.Sub(p.pieceDataAt) <= minimumReconnectIntervalSecs*2*time.Second {
		return minimumReconnectIntervalSecs
	}

	step := int(p.numConsecutiveFails.Get())
	if unreachable {
		step += 2
	}

	switch step {
	case 0:
		return 0
	case 1:
		return 10
	case 2:
		return 60 * 2
	case 3:
		return 60 * 15
	case 4:
		return 60 * 30
	case 5:
		return 60 * 60
	default:
		return 60 * 120
	}
}

// OnConnectionFailed bumps the consecutive-failure counter, saturating
// rather than wrapping.
func (p *PeerInfo) OnConnectionFailed() { p.numConsecutiveFails.Increment() }

func (p *PeerInfo) ConnectionFailureCount() uint8 { return p.numConsecutiveFails.Get() }

// SetPexFlags absorbs an incoming added.f byte: it both stores the raw
// flags and folds ADDED_F_CONNECTABLE/ADDED_F_UTP_FLAGS/ADDED_F_SEED_FLAG
// into the corresponding tri-state/bool fields.
func (p *PeerInfo) SetPexFlags(flags uint8) {
	p.pexFlags = flags

	if flags&addedFConnectable != 0 {
		p.SetConnectable(true)
	}
	if flags&addedFUTP != 0 {
		p.SetUTPSupported(true)
	}
	p.isSeed = flags&addedFSeed != 0
}

// PexFlags reassembles an added.f byte from the raw flags overlaid with
// whatever tri-state info has since been learned directly (e.g. a
// successful uTP handshake overriding an earlier "unknown" PEX hint).
func (p *PeerInfo) PexFlags() uint8 {
	ret := p.pexFlags

	if p.isConnectable.Ok {
		if p.isConnectable.Value {
			ret |= addedFConnectable
		} else {
			ret &^= addedFConnectable
		}
	}

	if p.supportsUTP.Ok {
		if p.supportsUTP.Value {
			ret |= addedFUTP
		} else {
			ret &^= addedFUTP
		}
	}

	if p.isSeed {
		ret |= addedFSeed
	}

	return ret
}
