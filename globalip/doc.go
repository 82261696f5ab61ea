// Package globalip discovers and caches this host's source and global
// (internet-facing) addresses, for both IPv4 and IPv6 independently.
//
// Grounded on libtransmission's global-ip-cache.cc/.h: a connected-UDP
// probe finds the source address actually used to reach the internet, and
// an HTTP query to an external "what's my IP" service confirms the
// internet-visible global address, since NAT means those two can differ.
package globalip
