// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package mkt

import "testing"

func TestNewIPKey(t *testing.T) {
	// The port does not affect the key.
	if NewIPKey("1.2.3.4") != NewIPKey("1.2.3.4:5678") {
		t.Fatal("port changed the IPv4 key")
	}
	if NewIPKey("1.2.3.4") == NewIPKey("1.2.3.5") {
		t.Fatal("distinct IPv4 addresses collide")
	}

	// IPv6 drops the interface half, so two addresses in the same /64
	// share a key.
	a := NewIPKey("[2001:db8::1111:2222]:80")
	b := NewIPKey("2001:db8::3333:4444")
	if a != b {
		t.Fatal("same-prefix IPv6 addresses do not collide")
	}
	if a == NewIPKey("2001:db9::1") {
		t.Fatal("distinct IPv6 prefixes collide")
	}

	// Loopback keeps all 16 bytes.
	if NewIPKey("::1") == NewIPKey("::2") {
		t.Fatal("IPv6 loopback collapsed with a neighbor")
	}

	if NewIPKey("not an address") != (IPKey{}) {
		t.Fatal("garbage input did not map to the zero key")
	}
}
