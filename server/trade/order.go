// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package trade defines the Order type and the trade-state registry. An
// order's derived address fully encodes its content, so the address is the
// order's identity: two orders with byte-identical content collapse onto the
// same trade state.
package trade

import (
	"vendue.org/vendue/mkt/encode"
	"vendue.org/vendue/server/account"
	"vendue.org/vendue/server/derive"
)

// ProgramAddr is the owning program identity for trade states.
var ProgramAddr = derive.ProgramID("trade")

var stateSeed = []byte("trade_state")

// Side distinguishes bids from asks.
type Side uint8

// The Side values.
const (
	UnknownSide Side = iota
	BidSide
	AskSide
)

// String returns a string representation of the Side.
func (s Side) String() string {
	switch s {
	case BidSide:
		return "bid"
	case AskSide:
		return "ask"
	default:
		return "unknown"
	}
}

// Order is the content tuple a trade state's address encodes. "Reading" an
// order back requires re-deriving the candidate address and checking whether
// the trade state is open.
type Order struct {
	Side   Side
	Wallet account.AccountID
	House  derive.Address
	// TokenAccount is the asset holding account referenced by the order. It
	// is the zero address for public bids, which bid on the asset itself
	// rather than a specific holding.
	TokenAccount derive.Address
	CurrencyMint derive.Address
	AssetMint    derive.Address
	Price        uint64
	Quantity     uint64
	// Partial marks an order as supporting partial fulfillment. It is part
	// of the order content, so it is encoded into the trade-state address.
	Partial bool

	addr *derive.Address // cache of the derived trade-state address
	bump uint8
}

// SerializeSize is the length in bytes of a serialized Order.
const SerializeSize = 1 + account.HashSize + 4*derive.AddressSize + 8 + 8 + 1

// Serialize marshals the Order into a []byte.
func (o *Order) Serialize() []byte {
	b := make([]byte, SerializeSize)

	b[0] = byte(o.Side)
	offset := 1

	copy(b[offset:], o.Wallet[:])
	offset += account.HashSize

	copy(b[offset:], o.House[:])
	offset += derive.AddressSize

	copy(b[offset:], o.TokenAccount[:])
	offset += derive.AddressSize

	copy(b[offset:], o.CurrencyMint[:])
	offset += derive.AddressSize

	copy(b[offset:], o.AssetMint[:])
	offset += derive.AddressSize

	encode.IntCoder.PutUint64(b[offset:offset+8], o.Price)
	offset += 8

	encode.IntCoder.PutUint64(b[offset:offset+8], o.Quantity)
	offset += 8

	b[offset] = encode.BoolByte(o.Partial)
	return b
}

// seeds returns the derivation seed tuple for the order's trade state.
func (o *Order) seeds() [][]byte {
	return [][]byte{
		stateSeed,
		{byte(o.Side)},
		o.Wallet[:],
		o.House[:],
		o.TokenAccount[:],
		o.CurrencyMint[:],
		o.AssetMint[:],
		encode.Uint64Bytes(o.Price),
		encode.Uint64Bytes(o.Quantity),
		{encode.BoolByte(o.Partial)},
	}
}

// StateKey derives the order's canonical trade-state address and bump. The
// result is cached on first use.
func (o *Order) StateKey() (derive.Address, uint8, error) {
	if o.addr != nil {
		return *o.addr, o.bump, nil
	}
	addr, bump, err := derive.Find(ProgramAddr, o.seeds()...)
	if err != nil {
		return derive.Address{}, 0, err
	}
	o.addr, o.bump = &addr, bump
	return addr, bump, nil
}

// VerifyStateKey checks that a caller-supplied address and bump reproduce the
// order's canonical trade-state address.
func (o *Order) VerifyStateKey(addr derive.Address, bump uint8) error {
	return derive.Verify(addr, ProgramAddr, bump, o.seeds()...)
}
