package magnetmeta

import (
	"time"
)

// MetadataPieceSize is the chunk size the ut_metadata extension transfers
// the info-dict in, unchanged from torrent-magnet.cc's METADATA_PIECE_SIZE.
const MetadataPieceSize = 16 * 1024

// MinRepeatIntervalSecs bounds how often the same metadata piece may be
// re-requested, so a slow peer doesn't get hammered while its response is
// still in flight.
const MinRepeatIntervalSecs = 3

// metadataNode tracks one outstanding piece request: which piece, and when
// it was last asked for (zero if never).
type metadataNode struct {
	piece       int
	requestedAt time.Time
}

// incompleteMetadata holds an in-progress info-dict assembly: the raw bytes
// (pre-sized, holes unfilled), and a FIFO of pieces still needed, ordered
// least to most recently requested.
type incompleteMetadata struct {
	data        []byte
	piecesNeeded []metadataNode
	pieceCount  int
}

func divCeil(numerator, denominator int64) int64 {
	q := numerator / denominator
	if numerator%denominator != 0 {
		q++
	}
	return q
}

func createAllNeeded(n int) []metadataNode {
	nodes := make([]metadataNode, n)
	for i := range nodes {
		nodes[i].piece = i
	}
	return nodes
}

// MetadataAssembler drives the ut_metadata handshake-to-completion sequence
// for a single torrent: request pieces, accept them, verify once complete.
// Not safe for concurrent use — the caller serializes calls the same way
// the rest of a torrent's per-torrent state is serialized.
type MetadataAssembler struct {
	tm   TorrentMetainfo
	sha1 Sha1

	complete bool
	m        *incompleteMetadata
}

// NewMetadataAssembler builds an assembler for a torrent whose info-hash and
// completion callback are provided by tm.
func NewMetadataAssembler(tm TorrentMetainfo, sha1 Sha1) *MetadataAssembler {
	return &MetadataAssembler{tm: tm, sha1: sha1}
}

// Init sizes the assembly buffer from a magnet link's reported metadata
// size (or a peer's extension handshake metadata_size). Returns false if
// metadata is already complete, assembly is already in progress, or size
// is non-positive — matching tr_torrentSetMetadataSizeHint's guard clauses.
func (a *MetadataAssembler) Init(size int64) bool {
	if a.complete || a.m != nil {
		return false
	}
	if size <= 0 {
		return false
	}

	n := divCeil(size, MetadataPieceSize)
	if n <= 0 {
		return false
	}

	a.m = &incompleteMetadata{
		data:        make([]byte, size),
		piecesNeeded: createAllNeeded(int(n)),
		pieceCount:  int(n),
	}
	return true
}

func (a *MetadataAssembler) pieceLength(piece int) int {
	if piece+1 == a.m.pieceCount {
		return len(a.m.data) - piece*MetadataPieceSize
	}
	return MetadataPieceSize
}

// AcceptPiece stores a received metadata piece if it's still needed and the
// right size, discarding it silently otherwise (a duplicate or stale
// response from a slow peer). Returns true if the piece was accepted.
func (a *MetadataAssembler) AcceptPiece(piece int, data []byte) bool {
	if a.m == nil || piece < 0 || piece >= a.m.pieceCount {
		return false
	}
	if len(data) != a.pieceLength(piece) {
		return false
	}

	idx := -1
	for i, node := range a.m.piecesNeeded {
		if node.piece == piece {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}

	offset := piece * MetadataPieceSize
	copy(a.m.data[offset:], data)

	a.m.piecesNeeded = append(a.m.piecesNeeded[:idx], a.m.piecesNeeded[idx+1:]...)
	return true
}

// NextRequest returns the next metadata piece to request, rotating it to
// the back of the FIFO with its requested-at timestamp updated. Returns
// ok=false if there's nothing outstanding, or the least-recently-requested
// piece was already asked for within MinRepeatIntervalSecs.
func (a *MetadataAssembler) NextRequest(now time.Time) (piece int, ok bool) {
	if a.m == nil || len(a.m.piecesNeeded) == 0 {
		return 0, false
	}

	front := a.m.piecesNeeded[0]
	if now.Before(front.requestedAt.Add(MinRepeatIntervalSecs * time.Second)) {
		return 0, false
	}

	front.requestedAt = now
	a.m.piecesNeeded = append(a.m.piecesNeeded[1:], front)
	return front.piece, true
}

// IdleTick checks whether every piece has arrived and, if so, attempts to
// finalize the metadata: verify its hash and hand it to TorrentMetainfo.
// A verification or parse failure (reported by TorrentMetainfo) restarts
// the whole download, matching on_have_all_metainfo's "drat" path.
func (a *MetadataAssembler) IdleTick() {
	if a.m == nil || len(a.m.piecesNeeded) != 0 {
		return
	}

	if a.sha1(a.m.data) != a.tm.InfoHash() {
		a.m.piecesNeeded = createAllNeeded(a.m.pieceCount)
		return
	}

	if err := a.tm.OnMetadataComplete(a.m.data); err != nil {
		a.m.piecesNeeded = createAllNeeded(a.m.pieceCount)
		return
	}

	a.complete = true
	a.m = nil
}

// Progress reports assembly progress in [0,1]: 1 once complete, otherwise
// the fraction of pieces that have arrived.
func (a *MetadataAssembler) Progress() float64 {
	if a.complete {
		return 1.0
	}
	if a.m == nil || a.m.pieceCount == 0 {
		return 0.0
	}
	have := a.m.pieceCount - len(a.m.piecesNeeded)
	return float64(have) / float64(a.m.pieceCount)
}

// Complete reports whether metadata assembly has finished successfully.
func (a *MetadataAssembler) Complete() bool { return a.complete }
