package bandwidth

import (
	"math/rand"
	"time"

	"github.com/dannyzb/torrentcore/common"
)

// phaseOneIncrement is the chunk size handed to a peer on each phase-one
// pass: large enough to fill a full µTP frame, small enough to leave room
// for the next frame to go out promptly. Grounded on bandwidth.cc's
// `Increment` constant.
const phaseOneIncrement = 3000

// Node is a node in a tree of rate-limited channels. Each node owns zero or
// one PeerIO and any number of children; it never owns its parent or its
// children (those are owned by whatever assembled the tree — a torrent or a
// session). Node itself is not safe for concurrent use: per spec.md §5, the
// scheduler runs on a single thread and none of Node's methods take locks.
type Node struct {
	parent   *Node
	children []*Node
	peer     PeerIO
	priority common.Priority

	band [common.NumDirections]Band

	// now, if set, overrides the wall clock. Tests set this; production
	// code leaves it nil and gets time.Now().
	now func() int64
}

// NewNode returns an unattached Node with both directions unlimited.
func NewNode() *Node {
	return &Node{}
}

func (n *Node) resolveNow(nowMs int64) int64 {
	if nowMs != 0 {
		return nowMs
	}
	if n.now != nil {
		return n.now()
	}
	return time.Now().UnixMilli()
}

// SetClock overrides the node's time source. Intended for tests.
func (n *Node) SetClock(f func() int64) { n.now = f }

// Parent returns the node's current parent, or nil if unattached.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the node's current children. The returned slice is
// owned by Node; callers must not mutate it.
func (n *Node) Children() []*Node { return n.children }

// SetPeer attaches or clears the peer this node schedules bandwidth for.
func (n *Node) SetPeer(p PeerIO) { n.peer = p }

func (n *Node) SetPriority(p common.Priority) { n.priority = p }

// Band exposes direction dir's band for read access (rate queries, UI).
func (n *Node) Band(dir common.Direction) *Band { return &n.band[dir] }

func (n *Node) SetLimited(dir common.Direction, limited bool) {
	n.band[dir].isLimited = limited
}

func (n *Node) SetDesiredBps(dir common.Direction, bps int64) {
	n.band[dir].desiredBps = bps
}

func (n *Node) SetHonorParentLimits(dir common.Direction, honor bool) {
	n.band[dir].honorParentLimits = honor
}

// Limits is the bulk-read counterpart of SetLimits, grounded on
// bandwidth.cc's get_limits/set_limits pair (SUPPLEMENTED FEATURES).
type Limits struct {
	UpBps, DownBps     int64
	UpLimited, DownLimited bool
}

func (n *Node) Limits() Limits {
	return Limits{
		UpBps:        n.band[common.Up].desiredBps,
		DownBps:      n.band[common.Down].desiredBps,
		UpLimited:    n.band[common.Up].isLimited,
		DownLimited:  n.band[common.Down].isLimited,
	}
}

func (n *Node) SetLimits(l Limits) {
	n.SetDesiredBps(common.Up, l.UpBps)
	n.SetDesiredBps(common.Down, l.DownBps)
	n.SetLimited(common.Up, l.UpLimited)
	n.SetLimited(common.Down, l.DownLimited)
}

// deparent removes n from its current parent's children, unordered
// (swap-with-last), the same O(1) removal bandwidth.cc uses since the
// children list is never relied on to be sorted.
func (n *Node) deparent() {
	if n.parent == nil {
		return
	}
	siblings := n.parent.children
	for i, c := range siblings {
		if c == n {
			siblings[i] = siblings[len(siblings)-1]
			n.parent.children = siblings[:len(siblings)-1]
			break
		}
	}
	n.parent = nil
}

// SetParent reparents n atomically: it's removed from its old parent before
// being added to newParent, so a tree walk never observes n listed twice or
// unlisted. Calling SetParent(p) twice in a row is a no-op the second time
// (reparenting idempotence).
//
// Panics if n == newParent or if newParent is already in n's subtree, which
// would create a cycle — spec.md calls this a contract violation that should
// assert for internal callers.
func (n *Node) SetParent(newParent *Node) {
	if n == newParent {
		panic("bandwidth: node cannot be its own parent")
	}
	if newParent != nil && newParent == n.parent {
		return
	}
	if newParent != nil && n.isAncestorOf(newParent) {
		panic("bandwidth: SetParent would create a cycle")
	}

	n.deparent()

	if newParent != nil {
		newParent.children = append(newParent.children, n)
		n.parent = newParent
	}
}

// Remove deparents n without attaching it anywhere else. Children are not
// reparented automatically — the caller must reparent them first, or they're
// left pointing at a parent no longer reachable from the tree root.
func (n *Node) Remove() {
	n.deparent()
}

func (n *Node) isAncestorOf(target *Node) bool {
	for _, c := range n.children {
		if c == target || c.isAncestorOf(target) {
			return true
		}
	}
	return false
}

// Clamp returns how many of the requested bytes the caller may send/receive
// immediately in direction dir. Always ≤ requested, always 0 for a 0
// request, and monotone non-decreasing in requested.
//
// Faithfully preserves the original's quirk (flagged as an open question in
// spec.md §9): the soft-cap ratio always compares against the DOWN rate and
// DOWN's desired_bps, even when clamping UP.
func (n *Node) Clamp(nowMs int64, dir common.Direction, requested int64) int64 {
	nowMs = n.resolveNow(nowMs)
	result := requested

	if band := &n.band[dir]; band.isLimited {
		if result > band.bytesLeft {
			result = band.bytesLeft
		}

		if result > 0 {
			downBand := &n.band[common.Down]
			current := downBand.raw.Rate(nowMs, 1000)
			desired := downBand.desiredBps
			var r float64
			if desired >= 1 {
				r = float64(current) / float64(desired)
			}

			switch {
			case r > 1.0:
				result = 0
			case r > 0.9:
				result -= result / 5
			case r > 0.8:
				result -= result / 10
			}
		}
	}

	if n.parent != nil && n.band[dir].honorParentLimits && result > 0 {
		result = n.parent.Clamp(nowMs, dir, result)
	}

	return result
}

// NotifyConsumed records bytes consumed in direction dir on this node and
// every ancestor, so a tick's allocate() sees budgets already debited by the
// time it runs phase two. Non-piece-data bytes are recorded into the raw
// history but never charged against bytesLeft — spec.md §9 calls this out
// explicitly as intentional, not an oversight.
func (n *Node) NotifyConsumed(dir common.Direction, nBytes int64, isPieceData bool, nowMs int64) {
	nowMs = n.resolveNow(nowMs)
	band := &n.band[dir]

	if band.isLimited && isPieceData {
		dec := nBytes
		if dec > band.bytesLeft {
			dec = band.bytesLeft
		}
		band.bytesLeft -= dec
	}

	band.raw.Record(nowMs, nBytes)
	if isPieceData {
		band.piece.Record(nowMs, nBytes)
	}

	if n.parent != nil {
		n.parent.NotifyConsumed(dir, nBytes, isPieceData, nowMs)
	}
}

// allocateBandwidth is the refill-phase recursive descent: it refills every
// limited band along the way, folds in the inherited priority, and appends
// live peers to workingSet.
func (n *Node) allocateBandwidth(parentPriority common.Priority, periodMs int64, workingSet []PeerIO) []PeerIO {
	priority := parentPriority
	if n.priority > priority {
		priority = n.priority
	}

	for dir := common.Direction(0); dir < common.NumDirections; dir++ {
		n.band[dir].refill(periodMs)
	}

	if n.peer != nil {
		n.peer.SetPriority(priority)
		workingSet = append(workingSet, n.peer)
	}

	for _, c := range n.children {
		workingSet = c.allocateBandwidth(priority, periodMs, workingSet)
	}

	return workingSet
}

// phaseOne is the fair round-robin drain: peers are shuffled, then each is
// handed phaseOneIncrement bytes repeatedly until it can't use a full
// increment, at which point it's dropped from this pass (but may still
// reappear in a lower-priority bucket's own pass).
func phaseOne(peers []PeerIO, dir common.Direction) {
	if len(peers) == 0 {
		return
	}
	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })

	nUnfinished := len(peers)
	for nUnfinished > 0 {
		i := 0
		for i < nUnfinished {
			used := peers[i].Flush(dir, phaseOneIncrement)
			if used != phaseOneIncrement {
				peers[i], peers[nUnfinished-1] = peers[nUnfinished-1], peers[i]
				nUnfinished--
			} else {
				i++
			}
		}
	}
}

// bucket partitions the working set by priority: HIGH peers land in all
// three buckets, NORMAL in normal+low, LOW in low only, so higher-priority
// peers are serviced by more passes of phaseOne.
func bucket(workingSet []PeerIO) (high, normal, low []PeerIO) {
	for _, p := range workingSet {
		switch p.Priority() {
		case common.PriorityHigh:
			high = append(high, p)
			fallthrough
		case common.PriorityNormal:
			normal = append(normal, p)
			fallthrough
		default:
			low = append(low, p)
		}
	}
	return
}

// Allocate drives one scheduling tick from this node down: refill budgets,
// gather the working set of live peers, pre-drain their protocol messages,
// then run the fair phase-one drain followed by the opportunistic phase-two
// enable pass.
func (n *Node) Allocate(periodMs int64) {
	workingSet := n.allocateBandwidth(common.PriorityLow, periodMs, nil)

	for _, p := range workingSet {
		p.FlushOutgoingProtocolMsgs()
	}

	high, normal, low := bucket(workingSet)
	for _, b := range [][]PeerIO{high, normal, low} {
		phaseOne(b, common.Up)
		phaseOne(b, common.Down)
	}

	for _, p := range workingSet {
		p.SetEnabled(common.Up, p.HasBandwidthLeft(common.Up))
		p.SetEnabled(common.Down, p.HasBandwidthLeft(common.Down))
	}
}
