// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package mkt

import (
	"net"
	"strings"
)

// IPKey identifies a client address for limiting purposes. IPv6 addresses
// are collapsed to their 64-bit network prefix so that a host cannot dodge
// limits by rotating interface identifiers. The loopback address keeps all
// 16 bytes. An unparseable address yields the zero key.
type IPKey [net.IPv6len]byte

// NewIPKey builds the IPKey for a host address, with or without a port.
func NewIPKey(addr string) IPKey {
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		addr = host
	} else {
		// A bracketed IPv6 address with no port fails SplitHostPort.
		addr = strings.Trim(addr, "[]")
	}

	var key IPKey
	ip := net.ParseIP(addr)
	if ip == nil {
		return key
	}
	// net.ParseIP always yields a 16-byte slice, with IPv4 mapped into the
	// last 4 bytes, so an IPv4 address copies whole.
	n := net.IPv6len
	if ip.To4() == nil && !ip.Equal(net.IPv6loopback) {
		n = net.IPv6len / 2
	}
	copy(key[:n], ip[:n])
	return key
}

// String prints the key as an IP address.
func (k IPKey) String() string {
	return net.IP(k[:]).String()
}
