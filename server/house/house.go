// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package house defines the marketplace configuration aggregate. One House
// exists per (creator, currency mint) pair. Its derived address, and the
// derived addresses of its fee and treasury sub-accounts, are the keys under
// which all of the house's records live.
package house

import (
	"vendue.org/vendue/mkt"
	"vendue.org/vendue/mkt/calc"
	"vendue.org/vendue/mkt/encode"
	"vendue.org/vendue/server/account"
	"vendue.org/vendue/server/db"
	"vendue.org/vendue/server/derive"
)

// ProgramAddr is the owning program identity for all house-derived accounts.
var ProgramAddr = derive.ProgramID("house")

// Derivation seed prefixes.
var (
	seedPrefix   = []byte("house")
	feeSeed      = []byte("fee")
	treasurySeed = []byte("treasury")
	signerSeed   = []byte("signer")
)

// serializedLen is the length of a serialized House record.
const serializedLen = 4 + account.HashSize*5 + derive.AddressSize*3 + 2 + 4

const (
	// ErrInvalidAuthority is returned when a house mutation is attempted by
	// an account other than the house authority.
	ErrInvalidAuthority = mkt.ErrorKind("invalid house authority")

	// ErrImmutableField is returned when an update attempts to change the
	// creator or currency mint, which are part of the house's identity.
	ErrImmutableField = mkt.ErrorKind("house identity fields are immutable")
)

// House is the marketplace configuration. Created once by the operator,
// mutated only by its authority, never destroyed.
type House struct {
	Bump         uint8
	FeeBump      uint8
	TreasuryBump uint8
	SignerBump   uint8

	Creator   account.AccountID
	Authority account.AccountID
	// FeeWithdrawal and TreasuryWithdrawal are the destinations for the
	// authority-signed drains of the fee and treasury sub-accounts.
	FeeWithdrawal      account.AccountID
	TreasuryWithdrawal account.AccountID

	// CurrencyMint is the mint of the house currency. The zero address means
	// the native currency.
	CurrencyMint derive.Address

	FeeAccount derive.Address
	Treasury   derive.Address

	SellerFeeBasisPoints uint16

	RequiresSignOff    bool
	CanChangeSalePrice bool
	HasDelegate        bool
	// ProceedsToEscrow routes seller proceeds into the seller's escrow
	// account instead of the seller's funding account.
	ProceedsToEscrow bool

	DelegateKey account.AccountID
}

// Key derives the canonical house address for a creator and currency mint.
func Key(creator account.AccountID, currencyMint derive.Address) (derive.Address, uint8, error) {
	return derive.Find(ProgramAddr, seedPrefix, creator[:], currencyMint[:])
}

// FeeKey derives the house's fee-collection sub-account address.
func FeeKey(houseAddr derive.Address) (derive.Address, uint8, error) {
	return derive.Find(ProgramAddr, seedPrefix, houseAddr[:], feeSeed)
}

// TreasuryKey derives the house's treasury sub-account address.
func TreasuryKey(houseAddr derive.Address) (derive.Address, uint8, error) {
	return derive.Find(ProgramAddr, seedPrefix, houseAddr[:], treasurySeed)
}

// SignerKey derives the house's program-as-signer address, the standing
// delegate that asks approve for the listed asset.
func SignerKey(houseAddr derive.Address) (derive.Address, uint8, error) {
	return derive.Find(ProgramAddr, seedPrefix, houseAddr[:], signerSeed)
}

// Validate checks the house invariants.
func (h *House) Validate() error {
	if h.SellerFeeBasisPoints > calc.MaxBasisPoints {
		return calc.ErrInvalidBasisPoints
	}
	return nil
}

// Serialize marshals the House into a []byte.
func (h *House) Serialize() []byte {
	b := make([]byte, 0, serializedLen)
	b = append(b, h.Bump, h.FeeBump, h.TreasuryBump, h.SignerBump)
	b = append(b, h.Creator[:]...)
	b = append(b, h.Authority[:]...)
	b = append(b, h.FeeWithdrawal[:]...)
	b = append(b, h.TreasuryWithdrawal[:]...)
	b = append(b, h.CurrencyMint[:]...)
	b = append(b, h.FeeAccount[:]...)
	b = append(b, h.Treasury[:]...)
	b = append(b, encode.Uint16Bytes(h.SellerFeeBasisPoints)...)
	b = append(b, encode.BoolByte(h.RequiresSignOff), encode.BoolByte(h.CanChangeSalePrice),
		encode.BoolByte(h.HasDelegate), encode.BoolByte(h.ProceedsToEscrow))
	b = append(b, h.DelegateKey[:]...)
	return b
}

// Deserialize unmarshals a House from the serialization produced by
// Serialize.
func Deserialize(b []byte) (*House, error) {
	if len(b) != serializedLen {
		return nil, db.StoreError{Code: db.ErrUnknownHouse, Detail: "bad house record length"}
	}
	h := new(House)
	h.Bump, h.FeeBump, h.TreasuryBump, h.SignerBump = b[0], b[1], b[2], b[3]
	offset := 4
	copy(h.Creator[:], b[offset:])
	offset += account.HashSize
	copy(h.Authority[:], b[offset:])
	offset += account.HashSize
	copy(h.FeeWithdrawal[:], b[offset:])
	offset += account.HashSize
	copy(h.TreasuryWithdrawal[:], b[offset:])
	offset += account.HashSize
	copy(h.CurrencyMint[:], b[offset:])
	offset += derive.AddressSize
	copy(h.FeeAccount[:], b[offset:])
	offset += derive.AddressSize
	copy(h.Treasury[:], b[offset:])
	offset += derive.AddressSize
	h.SellerFeeBasisPoints = encode.IntCoder.Uint16(b[offset:])
	offset += 2
	h.RequiresSignOff = encode.ByteBool(b[offset])
	h.CanChangeSalePrice = encode.ByteBool(b[offset+1])
	h.HasDelegate = encode.ByteBool(b[offset+2])
	h.ProceedsToEscrow = encode.ByteBool(b[offset+3])
	offset += 4
	copy(h.DelegateKey[:], b[offset:])
	return h, nil
}

// Save writes the House record under its derived address.
func Save(tx db.Tx, addr derive.Address, h *House) error {
	return tx.Set(db.TableHouse, addr[:], h.Serialize())
}

// Load reads the House record stored under the derived address.
func Load(tx db.Tx, addr derive.Address) (*House, error) {
	b, err := tx.Get(db.TableHouse, addr[:])
	if err != nil {
		return nil, db.StoreError{Code: db.ErrUnknownHouse, Detail: addr.String()}
	}
	return Deserialize(b)
}
