package magnetmeta

// TorrentMetainfo is the external collaborator that knows how to turn a
// completed, checksum-verified info-dict into a usable torrent: parsing its
// bencoding, merging it with the rest of the .torrent structure, and
// persisting it. MetadataAssembler never parses bencode itself — per
// torrent-magnet.cc's use_new_metainfo, that's the metainfo layer's job.
type TorrentMetainfo interface {
	// InfoHash returns the SHA-1 this torrent's info-dict must hash to.
	InfoHash() [20]byte

	// OnMetadataComplete is called once every piece has been received and
	// the assembled bytes hash-verify. An error here (bad bencoding, a
	// metainfo that fails to round-trip) means the assembler discards the
	// pieces and starts the download over, matching on_have_all_metainfo's
	// "drat, redownload" path.
	OnMetadataComplete(infoDict []byte) error
}

// Sha1 computes the SHA-1 digest of data. A func type rather than an
// interface so callers can pass crypto/sha1's Sum directly.
type Sha1 func(data []byte) [20]byte
