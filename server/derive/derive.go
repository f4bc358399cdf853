// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package derive computes the content-addressed sub-account addresses that
// key every marketplace record. An address is derived from an owning program
// identity, an ordered seed tuple, and a single-byte bump chosen so that the
// address cannot be a public key, and therefore has no corresponding private
// key. Authority over a derived account belongs to whichever component can
// reproduce the same seeds; every mutating call must re-derive the expected
// address and compare it against the caller-supplied one.
package derive

import (
	"encoding/hex"

	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"vendue.org/vendue/mkt"
)

const (
	// AddressSize is the length in bytes of an Address.
	AddressSize = blake256.Size // 32

	// MaxSeeds is the maximum number of seeds in a derivation tuple,
	// excluding the bump.
	MaxSeeds = 16

	// MaxSeedLen is the maximum length of a single seed.
	MaxSeedLen = 32

	// marker domain-separates derived addresses from any other use of the
	// hash function.
	marker = "VendueDerivedAddress"
)

const (
	// ErrDerivedKeyInvalid is returned when a caller-supplied address or bump
	// does not reproduce the canonical derived address.
	ErrDerivedKeyInvalid = mkt.ErrorKind("derived key invalid")

	// ErrNoViableBump is returned when no bump in [0, 255] produces a keyless
	// address for the seed tuple.
	ErrNoViableBump = mkt.ErrorKind("no viable bump for seeds")

	// ErrInvalidSeeds is returned when a seed tuple exceeds the seed count or
	// seed length limits.
	ErrInvalidSeeds = mkt.ErrorKind("invalid seeds")
)

// Address is a derived sub-account address.
type Address [AddressSize]byte

// String returns a hexadecimal representation of the Address. String
// implements fmt.Stringer.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether the Address is the zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ProgramID returns the identity address of the named owning program.
func ProgramID(name string) Address {
	return blake256.Sum256([]byte("VendueProgram:" + name))
}

// hashSeeds computes the candidate address for a seed tuple and bump. Each
// seed is length-prefixed so that distinct tuples can never collide by
// concatenation.
func hashSeeds(program Address, bump uint8, seeds [][]byte) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Address{}, mkt.NewError(ErrInvalidSeeds, "too many seeds")
	}
	buf := make([]byte, 0, len(seeds)*(MaxSeedLen+1)+1+AddressSize+len(marker))
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return Address{}, mkt.NewError(ErrInvalidSeeds, "seed too long")
		}
		buf = append(buf, byte(len(seed)))
		buf = append(buf, seed...)
	}
	buf = append(buf, bump)
	buf = append(buf, program[:]...)
	buf = append(buf, marker...)
	return blake256.Sum256(buf), nil
}

// hasKey reports whether the candidate address is a valid public key, i.e.
// whether its bytes name a point on the curve when interpreted as a
// compressed key. A derived address must NOT have a key.
func hasKey(addr Address) bool {
	pk := make([]byte, 0, AddressSize+1)
	pk = append(pk, secp256k1.PubKeyFormatCompressedEven)
	pk = append(pk, addr[:]...)
	_, err := secp256k1.ParsePubKey(pk)
	return err == nil
}

// Find searches for the canonical bump for the seed tuple, counting down from
// 255, and returns the derived address along with it. The canonical bump is
// the largest bump whose address has no corresponding private key.
func Find(program Address, seeds ...[]byte) (Address, uint8, error) {
	for i := 255; i >= 0; i-- {
		bump := uint8(i)
		addr, err := hashSeeds(program, bump, seeds)
		if err != nil {
			return Address{}, 0, err
		}
		if !hasKey(addr) {
			return addr, bump, nil
		}
	}
	return Address{}, 0, ErrNoViableBump
}

// New derives the address for the seed tuple with an explicit bump. It errors
// if the resulting address has a corresponding key, so a caller-supplied
// non-canonical bump that lands on the curve is rejected here rather than
// silently accepted.
func New(program Address, bump uint8, seeds ...[]byte) (Address, error) {
	addr, err := hashSeeds(program, bump, seeds)
	if err != nil {
		return Address{}, err
	}
	if hasKey(addr) {
		return Address{}, mkt.NewError(ErrDerivedKeyInvalid, "address has a key")
	}
	return addr, nil
}

// Verify checks that the caller-supplied address and bump reproduce the
// derived address for the seed tuple. This proof is the sole basis of
// authority for any derived account.
func Verify(addr Address, program Address, bump uint8, seeds ...[]byte) error {
	derived, err := New(program, bump, seeds...)
	if err != nil {
		return err
	}
	if derived != addr {
		return mkt.NewError(ErrDerivedKeyInvalid, "supplied address does not match derivation")
	}
	return nil
}
