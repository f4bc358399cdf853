// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package account defines wallet identities. An AccountID is derived from a
// wallet's public key, so the ID itself proves which key it belongs to.
package account

import (
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// HashFunc is the hash function used to generate account IDs from pubkeys.
var HashFunc = blake256.Sum256

const (
	// HashSize is the size of an AccountID.
	HashSize = blake256.Size

	// PubKeySize is the length of a serialized compressed public key.
	PubKeySize = 33
)

// AccountID is the unique identifier for a wallet.
type AccountID [HashSize]byte

// NewID generates a unique account id from the provided public key bytes.
func NewID(pk []byte) AccountID {
	// Hash the pubkey hash.
	h := HashFunc(pk)
	return HashFunc(h[:])
}

// String returns a hexadecimal representation of the AccountID. String
// implements fmt.Stringer.
func (aid AccountID) String() string {
	return hex.EncodeToString(aid[:])
}

// IsZero reports whether the AccountID is the zero value.
func (aid AccountID) IsZero() bool {
	return aid == AccountID{}
}

// Account represents a marketplace wallet.
type Account struct {
	ID     AccountID
	PubKey *secp256k1.PublicKey
}

// NewAccountFromPubKey creates a wallet account from the provided public key
// bytes.
func NewAccountFromPubKey(pk []byte) (*Account, error) {
	if len(pk) != PubKeySize {
		return nil, fmt.Errorf("invalid pubkey length, "+
			"expected %d, got %d", PubKeySize, len(pk))
	}

	pubKey, err := secp256k1.ParsePubKey(pk)
	if err != nil {
		return nil, err
	}

	return &Account{
		ID:     NewID(pk),
		PubKey: pubKey,
	}, nil
}

// SignerSet is the set of wallets that signed the enclosing operation. The
// host runtime is assumed to have verified the signatures themselves; the
// engines only consult membership.
type SignerSet map[AccountID]struct{}

// NewSignerSet creates a SignerSet from the given account IDs.
func NewSignerSet(ids ...AccountID) SignerSet {
	s := make(SignerSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Signed reports whether the account signed the operation.
func (s SignerSet) Signed(id AccountID) bool {
	_, ok := s[id]
	return ok
}
