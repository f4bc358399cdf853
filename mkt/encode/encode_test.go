// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package encode

import (
	"bytes"
	"testing"
)

func TestIntBytes(t *testing.T) {
	// Big-endian encoding keeps serialized integers in sort order.
	small := Uint64Bytes(255)
	big := Uint64Bytes(256)
	if bytes.Compare(small, big) >= 0 {
		t.Fatal("encoded integers do not sort numerically")
	}
	if BytesToUint64(big) != 256 {
		t.Fatalf("BytesToUint64 = %d, want 256", BytesToUint64(big))
	}
	if !bytes.Equal(Uint16Bytes(0x0102), []byte{1, 2}) {
		t.Fatalf("Uint16Bytes = %x", Uint16Bytes(0x0102))
	}
	if !bytes.Equal(Uint32Bytes(0x01020304), []byte{1, 2, 3, 4}) {
		t.Fatalf("Uint32Bytes = %x", Uint32Bytes(0x01020304))
	}
}

func TestBoolByte(t *testing.T) {
	if BoolByte(true) != 1 || BoolByte(false) != 0 {
		t.Fatal("BoolByte encoding wrong")
	}
	if !ByteBool(1) || ByteBool(0) {
		t.Fatal("ByteBool decoding wrong")
	}
	if !ByteBool(255) {
		t.Fatal("non-zero byte decoded as false")
	}
}

func TestSliceHelpers(t *testing.T) {
	b := RandomBytes(32)
	if len(b) != 32 {
		t.Fatalf("RandomBytes length = %d", len(b))
	}
	cp := CopySlice(b)
	if !bytes.Equal(b, cp) {
		t.Fatal("CopySlice mismatch")
	}
	cp[0] ^= 0xff
	if bytes.Equal(b, cp) {
		t.Fatal("CopySlice shares backing memory")
	}
	ClearBytes(b)
	if !bytes.Equal(b, make([]byte, 32)) {
		t.Fatal("ClearBytes left data behind")
	}
}
