// Package magnetmeta assembles a torrent's info-dict from the ut_metadata
// extension pieces peers hand over one at a time, verifying the result
// against the torrent's info-hash before handing it to an external
// collaborator for parsing.
//
// Grounded on libtransmission's torrent-magnet.cc, restructured as a single
// type driven by explicit calls instead of tr_torrent-embedded state.
package magnetmeta
