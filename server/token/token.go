// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package token implements the asset-standard ledger: mints, per-wallet token
// accounts, and transfers. A token account may carry a standing delegation,
// which is how a seller's listed asset is moved at settlement without the
// seller signing again.
package token

import (
	"vendue.org/vendue/mkt"
	"vendue.org/vendue/mkt/calc"
	"vendue.org/vendue/mkt/encode"
	"vendue.org/vendue/server/account"
	"vendue.org/vendue/server/db"
	"vendue.org/vendue/server/derive"
)

// ProgramAddr is the owning program identity for token-derived accounts.
var ProgramAddr = derive.ProgramID("token")

var (
	mintSeed  = []byte("mint")
	tokenSeed = []byte("token")
)

const (
	// ErrInvalidTokenAmount is returned for a zero-amount transfer or a
	// transfer exceeding the source balance.
	ErrInvalidTokenAmount = mkt.ErrorKind("invalid token amount")

	// ErrNotEnoughTokens is returned when the source account holds less than
	// the transfer amount.
	ErrNotEnoughTokens = mkt.ErrorKind("not enough tokens")

	// ErrOwnerMismatch is returned when the transfer authority is not the
	// account owner.
	ErrOwnerMismatch = mkt.ErrorKind("token account owner mismatch")

	// ErrDelegateMismatch is returned when the transfer authority is not the
	// account's standing delegate, or the delegated allowance is exceeded.
	ErrDelegateMismatch = mkt.ErrorKind("token delegate mismatch")

	// ErrMintMismatch is returned when a transfer's source and destination
	// accounts hold different mints.
	ErrMintMismatch = mkt.ErrorKind("token mint mismatch")
)

// Mint describes a token mint.
type Mint struct {
	Supply    uint64
	Decimals  uint8
	Authority account.AccountID
}

// mintLen is the length of a serialized Mint record.
const mintLen = 8 + 1 + account.HashSize

// MintKey derives the canonical address of a mint created by the given
// authority under the given name.
func MintKey(authority account.AccountID, name []byte) (derive.Address, uint8, error) {
	return derive.Find(ProgramAddr, mintSeed, authority[:], name)
}

// Serialize marshals the Mint into a []byte.
func (m *Mint) Serialize() []byte {
	b := make([]byte, 0, mintLen)
	b = append(b, encode.Uint64Bytes(m.Supply)...)
	b = append(b, m.Decimals)
	b = append(b, m.Authority[:]...)
	return b
}

// DeserializeMint unmarshals a Mint from its serialization.
func DeserializeMint(b []byte) (*Mint, error) {
	if len(b) != mintLen {
		return nil, db.StoreError{Code: db.ErrUnknownMint, Detail: "bad mint record length"}
	}
	m := &Mint{
		Supply:   encode.IntCoder.Uint64(b),
		Decimals: b[8],
	}
	copy(m.Authority[:], b[9:])
	return m, nil
}

// Account is a token holding account for one (owner, mint) pair.
type Account struct {
	Mint            derive.Address
	Owner           account.AccountID
	Amount          uint64
	Delegate        derive.Address // zero when no delegation stands
	DelegatedAmount uint64
}

// acctLen is the length of a serialized token Account record.
const acctLen = derive.AddressSize + account.HashSize + 8 + derive.AddressSize + 8

// AccountKey derives the canonical token account address for an owner and
// mint.
func AccountKey(owner account.AccountID, mint derive.Address) (derive.Address, uint8, error) {
	return derive.Find(ProgramAddr, tokenSeed, owner[:], mint[:])
}

// Serialize marshals the Account into a []byte.
func (a *Account) Serialize() []byte {
	b := make([]byte, 0, acctLen)
	b = append(b, a.Mint[:]...)
	b = append(b, a.Owner[:]...)
	b = append(b, encode.Uint64Bytes(a.Amount)...)
	b = append(b, a.Delegate[:]...)
	b = append(b, encode.Uint64Bytes(a.DelegatedAmount)...)
	return b
}

// DeserializeAccount unmarshals an Account from its serialization.
func DeserializeAccount(b []byte) (*Account, error) {
	if len(b) != acctLen {
		return nil, db.StoreError{Code: db.ErrUnknownTokenAccount, Detail: "bad token account record length"}
	}
	a := new(Account)
	offset := 0
	copy(a.Mint[:], b[offset:])
	offset += derive.AddressSize
	copy(a.Owner[:], b[offset:])
	offset += account.HashSize
	a.Amount = encode.IntCoder.Uint64(b[offset:])
	offset += 8
	copy(a.Delegate[:], b[offset:])
	offset += derive.AddressSize
	a.DelegatedAmount = encode.IntCoder.Uint64(b[offset:])
	return a, nil
}

// SaveMint writes the Mint record under its derived address.
func SaveMint(tx db.Tx, addr derive.Address, m *Mint) error {
	return tx.Set(db.TableMint, addr[:], m.Serialize())
}

// LoadMint reads the Mint record stored under the derived address.
func LoadMint(tx db.Tx, addr derive.Address) (*Mint, error) {
	b, err := tx.Get(db.TableMint, addr[:])
	if err != nil {
		return nil, db.StoreError{Code: db.ErrUnknownMint, Detail: addr.String()}
	}
	return DeserializeMint(b)
}

// SaveAccount writes the token Account record under its derived address.
func SaveAccount(tx db.Tx, addr derive.Address, a *Account) error {
	return tx.Set(db.TableTokenAccount, addr[:], a.Serialize())
}

// LoadAccount reads the token Account record stored under the derived
// address.
func LoadAccount(tx db.Tx, addr derive.Address) (*Account, error) {
	b, err := tx.Get(db.TableTokenAccount, addr[:])
	if err != nil {
		return nil, db.StoreError{Code: db.ErrUnknownTokenAccount, Detail: addr.String()}
	}
	return DeserializeAccount(b)
}

// MintTo credits newly minted tokens to the destination account. The caller
// is responsible for having checked the mint authority's signature; the mint
// authority identity itself is still enforced here.
func MintTo(tx db.Tx, mintAddr, destAddr derive.Address, amount uint64, authority account.AccountID) error {
	if amount == 0 {
		return ErrInvalidTokenAmount
	}
	m, err := LoadMint(tx, mintAddr)
	if err != nil {
		return err
	}
	if m.Authority != authority {
		return ErrOwnerMismatch
	}
	dest, err := LoadAccount(tx, destAddr)
	if err != nil {
		return err
	}
	if dest.Mint != mintAddr {
		return ErrMintMismatch
	}
	if m.Supply, err = calc.Add64(m.Supply, amount); err != nil {
		return err
	}
	if dest.Amount, err = calc.Add64(dest.Amount, amount); err != nil {
		return err
	}
	if err := SaveMint(tx, mintAddr, m); err != nil {
		return err
	}
	return SaveAccount(tx, destAddr, dest)
}

// Authority identifies who is authorizing a transfer: the account owner, or
// the account's standing delegate. Exactly one should be set.
type Authority struct {
	Owner    account.AccountID
	Delegate derive.Address
}

// Transfer moves amount tokens between accounts of the same mint. A delegate
// authority spends from its delegated allowance, which is decremented; the
// delegation is cleared when the allowance reaches zero.
func Transfer(tx db.Tx, fromAddr, toAddr derive.Address, amount uint64, auth Authority) error {
	if amount == 0 {
		return ErrInvalidTokenAmount
	}
	from, err := LoadAccount(tx, fromAddr)
	if err != nil {
		return err
	}
	to, err := LoadAccount(tx, toAddr)
	if err != nil {
		return err
	}
	if from.Mint != to.Mint {
		return ErrMintMismatch
	}

	switch {
	case !auth.Delegate.IsZero():
		if from.Delegate != auth.Delegate {
			return ErrDelegateMismatch
		}
		if amount > from.DelegatedAmount {
			return mkt.NewError(ErrDelegateMismatch, "delegated allowance exceeded")
		}
		from.DelegatedAmount -= amount
		if from.DelegatedAmount == 0 {
			from.Delegate = derive.Address{}
		}
	case from.Owner == auth.Owner && !auth.Owner.IsZero():
	default:
		return ErrOwnerMismatch
	}

	if amount > from.Amount {
		return ErrNotEnoughTokens
	}
	from.Amount -= amount
	if to.Amount, err = calc.Add64(to.Amount, amount); err != nil {
		return err
	}

	if err := SaveAccount(tx, fromAddr, from); err != nil {
		return err
	}
	return SaveAccount(tx, toAddr, to)
}

// Debit removes amount tokens from the account with the owner's authority.
// It is used when funds leave a wallet's holding account for a derived
// escrow record rather than for another token account.
func Debit(tx db.Tx, acctAddr derive.Address, amount uint64, owner account.AccountID) error {
	if amount == 0 {
		return ErrInvalidTokenAmount
	}
	a, err := LoadAccount(tx, acctAddr)
	if err != nil {
		return err
	}
	if a.Owner != owner {
		return ErrOwnerMismatch
	}
	if amount > a.Amount {
		return ErrNotEnoughTokens
	}
	a.Amount -= amount
	return SaveAccount(tx, acctAddr, a)
}

// Credit adds amount tokens to the account without an authority check. It is
// the counterpart of Debit for funds returning from a derived escrow record.
func Credit(tx db.Tx, acctAddr derive.Address, amount uint64) error {
	a, err := LoadAccount(tx, acctAddr)
	if err != nil {
		return err
	}
	var sumErr error
	if a.Amount, sumErr = calc.Add64(a.Amount, amount); sumErr != nil {
		return sumErr
	}
	return SaveAccount(tx, acctAddr, a)
}

// Approve sets a standing delegation on the account. Only the account owner
// may approve.
func Approve(tx db.Tx, acctAddr derive.Address, delegate derive.Address, amount uint64, owner account.AccountID) error {
	if amount == 0 {
		return ErrInvalidTokenAmount
	}
	a, err := LoadAccount(tx, acctAddr)
	if err != nil {
		return err
	}
	if a.Owner != owner {
		return ErrOwnerMismatch
	}
	a.Delegate = delegate
	a.DelegatedAmount = amount
	return SaveAccount(tx, acctAddr, a)
}

// Revoke clears any standing delegation on the account. Only the account
// owner may revoke.
func Revoke(tx db.Tx, acctAddr derive.Address, owner account.AccountID) error {
	a, err := LoadAccount(tx, acctAddr)
	if err != nil {
		return err
	}
	if a.Owner != owner {
		return ErrOwnerMismatch
	}
	a.Delegate = derive.Address{}
	a.DelegatedAmount = 0
	return SaveAccount(tx, acctAddr, a)
}
