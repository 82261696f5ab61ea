package bandwidth

import "github.com/dannyzb/torrentcore/common"

// PeerIO is the collaborator a Node schedules bandwidth for: a single peer's
// I/O connection. The spec treats the peer wire-protocol and socket layers as
// external collaborators; this is the minimal surface the scheduler itself
// needs, per spec.md §6.
//
// A Node holds its peer weakly in spirit (the real peer's lifetime is owned
// by the torrent/session layer, not by the bandwidth tree): Go doesn't have
// C++'s std::weak_ptr, so Node stores a PeerIO directly but never assumes it
// outlives a single allocate() cycle — the working set gathered during
// refill is what's "upgraded to strong" for the duration of one tick, per
// the spec's "weak references to peers" design note.
type PeerIO interface {
	// Flush attempts to consume up to maxBytes of direction dir's quota and
	// returns how much was actually used. Called repeatedly with a small
	// fixed increment during phase one.
	Flush(dir common.Direction, maxBytes int) (bytesConsumed int)

	// FlushOutgoingProtocolMsgs sends queued handshake/keepalive-style
	// messages regardless of rate limits, during the pre-drain step.
	FlushOutgoingProtocolMsgs()

	SetPriority(p common.Priority)
	Priority() common.Priority

	// SetEnabled toggles on-demand I/O for dir, used by phase two to let
	// idle capacity be consumed between allocate() ticks.
	SetEnabled(dir common.Direction, enabled bool)

	// HasBandwidthLeft reports whether the root-clamped budget for dir is
	// still positive for this peer.
	HasBandwidthLeft(dir common.Direction) bool
}
