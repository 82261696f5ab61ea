package peerstore

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// added.f flag bits, unchanged in meaning from peer-mgr.h's anonymous enum.
const (
	addedFEncryption  uint8 = 1 << 0
	addedFSeed        uint8 = 1 << 1
	addedFUTP         uint8 = 1 << 2
	addedFHolepunch   uint8 = 1 << 3
	addedFConnectable uint8 = 1 << 4
)

// Pex is a single compact peer-exchange entry: address, port, and the
// added.f flags byte. Grounded on peer-mgr.h's tr_pex.
type Pex struct {
	Addr  netip.Addr
	Port  uint16
	Flags uint8
}

const (
	compactIPv4Len = 4 + 2
	compactIPv6Len = 16 + 2
)

// PexCompactIPv4 encodes pex entries in the 6-bytes-per-peer compact IPv4
// PEX wire format: 4 bytes of address, 2 of big-endian port. Entries whose
// Addr is not a 4-in-6 or plain IPv4 address are skipped.
func PexCompactIPv4(pex []Pex) []byte {
	out := make([]byte, 0, len(pex)*compactIPv4Len)
	for _, p := range pex {
		if !p.Addr.Is4() && !p.Addr.Is4In6() {
			continue
		}
		a4 := p.Addr.As4()
		out = append(out, a4[:]...)
		out = binary.BigEndian.AppendUint16(out, p.Port)
	}
	return out
}

// PexCompactIPv6 is PexCompactIPv4's IPv6 counterpart: 18 bytes per peer.
func PexCompactIPv6(pex []Pex) []byte {
	out := make([]byte, 0, len(pex)*compactIPv6Len)
	for _, p := range pex {
		if !p.Addr.Is6() || p.Addr.Is4In6() {
			continue
		}
		a16 := p.Addr.As16()
		out = append(out, a16[:]...)
		out = binary.BigEndian.AppendUint16(out, p.Port)
	}
	return out
}

// ParsePexCompactIPv4 decodes the wire format PexCompactIPv4 produces.
// addedF is optional per-peer flags (one byte per entry, from a separate
// "added.f" bencode key); if shorter than the peer count the remaining
// peers get flags 0, matching from_compact_ipv4's tolerant length handling.
func ParsePexCompactIPv4(compact []byte, addedF []byte) ([]Pex, error) {
	return parsePexCompact(compact, addedF, compactIPv4Len, func(b []byte) netip.Addr {
		return netip.AddrFrom4([4]byte(b[:4]))
	})
}

// ParsePexCompactIPv6 is ParsePexCompactIPv4's IPv6 counterpart.
func ParsePexCompactIPv6(compact []byte, addedF []byte) ([]Pex, error) {
	return parsePexCompact(compact, addedF, compactIPv6Len, func(b []byte) netip.Addr {
		return netip.AddrFrom16([16]byte(b[:16]))
	})
}

func parsePexCompact(compact []byte, addedF []byte, stride int, addrOf func([]byte) netip.Addr) ([]Pex, error) {
	if len(compact)%stride != 0 {
		return nil, fmt.Errorf("peerstore: compact peer list length %d is not a multiple of %d", len(compact), stride)
	}
	n := len(compact) / stride
	out := make([]Pex, n)
	for i := 0; i < n; i++ {
		entry := compact[i*stride : (i+1)*stride]
		addr := addrOf(entry)
		port := binary.BigEndian.Uint16(entry[stride-2:])
		var flags uint8
		if i < len(addedF) {
			flags = addedF[i]
		}
		out[i] = Pex{Addr: addr, Port: port, Flags: flags}
	}
	return out, nil
}

// IsValidForPeers reports whether p is usable as a dial target: a non-zero
// address and a non-zero port.
func (p Pex) IsValidForPeers() bool {
	return p.Addr.IsValid() && !p.Addr.IsUnspecified() && p.Port != 0
}
