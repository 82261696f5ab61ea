// Package peerstore tracks what's known about a peer across connections:
// where it was found, whether it's reachable, how many times it's failed,
// and the compact PEX encoding used to gossip it to other peers.
//
// Grounded on libtransmission's peer-mgr.h (tr_peer_info, tr_pex), rebuilt
// the way the teacher repo shapes its own peer-state types.
package peerstore
