// Package bandwidth implements the hierarchical rate limiter that schedules
// I/O across peers: a tree of Nodes, each owning an optional PeerIO and a
// per-direction Band, refilled and drained once per Allocate tick.
//
// Grounded on libtransmission's bandwidth.cc/.h, generalized into Go's
// interface-and-struct idiom the way the teacher repo structures its own
// scheduling packages.
package bandwidth
