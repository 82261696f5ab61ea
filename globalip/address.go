package globalip

import "net/netip"

// Family distinguishes the two address families the cache tracks
// independently, the same way common.Direction distinguishes up
// from down. Grounded on global-ip-cache.cc's TR_AF_INET/TR_AF_INET6 pair.
type Family int

const (
	V4 Family = iota
	V6
	NumFamilies
)

func (f Family) String() string {
	switch f {
	case V4:
		return "IPv4"
	case V6:
		return "IPv6"
	default:
		return "unknown"
	}
}

// Network returns the UDP network name dialed when probing for this
// family's source address.
func (f Family) Network() string {
	if f == V6 {
		return "udp6"
	}
	return "udp4"
}

// Matches reports whether addr belongs to this address family.
func (f Family) Matches(addr netip.Addr) bool {
	if f == V6 {
		return addr.Is6() && !addr.Is4In6()
	}
	return addr.Is4() || addr.Is4In6()
}

// AnyAddr is the unspecified bind address for this family, used when no
// explicit bind address has been configured.
func (f Family) AnyAddr() netip.Addr {
	if f == V6 {
		return netip.IPv6Unspecified()
	}
	return netip.IPv4Unspecified()
}

// probeDestination is a fixed, known-global-unicast address used purely to
// make the kernel pick a route (and thus a source address) for this
// family; no packet is ever actually sent, since the socket stays UDP and
// unwritten-to. Taken from global-ip-cache.cc's DstIP constants.
func (f Family) probeDestination() string {
	if f == V6 {
		return "2001:1890:1112:1::20"
	}
	return "91.121.74.28"
}

// IsGlobalUnicast reports whether addr is routable on the public internet:
// not unspecified, loopback, link-local, multicast, or private-use.
func IsGlobalUnicast(addr netip.Addr) bool {
	return addr.IsValid() &&
		addr.IsGlobalUnicast() &&
		!addr.IsPrivate() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLoopback()
}
