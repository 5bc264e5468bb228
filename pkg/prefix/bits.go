// Package prefix converts between textual IP prefixes and the bit strings
// used as trie keys.
package prefix

import (
	"fmt"
	"net/netip"
	"strings"
)

// Family is the address family of a parsed prefix.
type Family uint8

// Address families.
const (
	IPv4 Family = 4
	IPv6 Family = 6
)

// Parse parses a prefix in CIDR notation.  Host bits are cleared, and a bare
// address is treated as a host route.
func Parse(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("parse prefix %q: %w", s, err)
		}
		return netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()), nil
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("parse prefix %q: %w", s, err)
	}
	if p.Addr().Is4In6() && p.Bits() >= 96 {
		p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96)
	}
	return p.Masked(), nil
}

// ToBits returns the network bits of s truncated to its prefix length along
// with its address family.
func ToBits(s string) (string, Family, error) {
	p, err := Parse(s)
	if err != nil {
		return "", 0, err
	}
	return PrefixBits(p), familyOf(p.Addr()), nil
}

// PrefixBits renders a parsed prefix as a bit string.
func PrefixBits(p netip.Prefix) string {
	raw := p.Addr().AsSlice()
	var b strings.Builder
	b.Grow(p.Bits())
	for i := 0; i < p.Bits(); i++ {
		if raw[i/8]&(0x80>>(i%8)) != 0 {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// FromBits renders a bit string back into CIDR notation for the given
// family.
func FromBits(bits string, family Family) (string, error) {
	width := 32
	if family == IPv6 {
		width = 128
	}
	if len(bits) > width {
		return "", fmt.Errorf("bit string of length %d exceeds %d", len(bits), width)
	}
	raw := make([]byte, width/8)
	for i := 0; i < len(bits); i++ {
		switch bits[i] {
		case '1':
			raw[i/8] |= 0x80 >> (i % 8)
		case '0':
		default:
			return "", fmt.Errorf("invalid bit %q at offset %d", bits[i], i)
		}
	}
	addr, _ := netip.AddrFromSlice(raw)
	return netip.PrefixFrom(addr, len(bits)).String(), nil
}

// Length returns the prefix length of s, or -1 when s does not parse.
func Length(s string) int {
	p, err := Parse(s)
	if err != nil {
		return -1
	}
	return p.Bits()
}

func familyOf(addr netip.Addr) Family {
	if addr.Is4() {
		return IPv4
	}
	return IPv6
}

// ValidBits reports whether bits contains only '0' and '1'.
func ValidBits(bits string) bool {
	for i := 0; i < len(bits); i++ {
		if bits[i] != '0' && bits[i] != '1' {
			return false
		}
	}
	return true
}
