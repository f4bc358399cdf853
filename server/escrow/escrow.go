// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package escrow implements the per-(house, wallet) holding ledger that
// accumulates currency pending trade settlement. An escrow account is created
// lazily on first deposit and is never explicitly destroyed, though it may be
// drained to zero.
package escrow

import (
	"vendue.org/vendue/mkt"
	"vendue.org/vendue/mkt/calc"
	"vendue.org/vendue/mkt/encode"
	"vendue.org/vendue/server/account"
	"vendue.org/vendue/server/db"
	"vendue.org/vendue/server/derive"
	"vendue.org/vendue/server/house"
	"vendue.org/vendue/server/token"
)

// ProgramAddr is the owning program identity for escrow accounts.
var ProgramAddr = derive.ProgramID("escrow")

var escrowSeed = []byte("escrow")

const (
	// ErrInsufficientFunds is returned when an escrow debit exceeds the
	// account balance.
	ErrInsufficientFunds = mkt.ErrorKind("insufficient escrow funds")

	// ErrUnderRentExemption is returned when a withdrawal would leave a
	// non-zero balance below the minimum required to keep the account alive.
	ErrUnderRentExemption = mkt.ErrorKind("escrow balance would fall below rent exemption")
)

// recordLen is the length of a serialized escrow record: the bump byte and
// the balance.
const recordLen = 1 + 8

// Ledger tracks escrow balances. RentExemptMin is the minimum balance that
// must remain in a partially drained account.
type Ledger struct {
	RentExemptMin uint64
}

// New creates an escrow Ledger with the given minimum-alive threshold.
func New(rentExemptMin uint64) *Ledger {
	return &Ledger{RentExemptMin: rentExemptMin}
}

// Key derives the canonical escrow account address for a house and wallet.
func Key(houseAddr derive.Address, wallet account.AccountID) (derive.Address, uint8, error) {
	return derive.Find(ProgramAddr, escrowSeed, houseAddr[:], wallet[:])
}

type record struct {
	bump    uint8
	balance uint64
}

func loadRecord(tx db.Tx, addr derive.Address) (*record, error) {
	b, err := tx.Get(db.TableEscrow, addr[:])
	if err != nil {
		return nil, db.StoreError{Code: db.ErrUnknownEscrow, Detail: addr.String()}
	}
	if len(b) != recordLen {
		return nil, db.StoreError{Code: db.ErrUnknownEscrow, Detail: "bad escrow record length"}
	}
	return &record{bump: b[0], balance: encode.IntCoder.Uint64(b[1:])}, nil
}

func saveRecord(tx db.Tx, addr derive.Address, r *record) error {
	b := make([]byte, 0, recordLen)
	b = append(b, r.bump)
	b = append(b, encode.Uint64Bytes(r.balance)...)
	return tx.Set(db.TableEscrow, addr[:], b)
}

// Balance reads the escrow balance for a house and wallet. An account that
// has never received a deposit reads as zero.
func (l *Ledger) Balance(tx db.Tx, houseAddr derive.Address, wallet account.AccountID) (uint64, error) {
	addr, _, err := Key(houseAddr, wallet)
	if err != nil {
		return 0, err
	}
	r, err := loadRecord(tx, addr)
	if db.SameErrorTypes(err, db.StoreError{Code: db.ErrUnknownEscrow}) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return r.balance, nil
}

// Deposit moves amount of the house currency from the wallet's funding
// account into the derived escrow account, creating the account on first use.
// The caller must have verified the wallet's signature (or a delegate's scope
// grant).
func (l *Ledger) Deposit(tx db.Tx, h *house.House, houseAddr derive.Address, wallet account.AccountID, amount uint64) error {
	if amount == 0 {
		return token.ErrInvalidTokenAmount
	}

	// Pull funds from the wallet's funding account.
	if h.CurrencyMint.IsZero() {
		if err := token.DebitNative(tx, wallet[:], amount); err != nil {
			return err
		}
	} else {
		fundAddr, _, err := token.AccountKey(wallet, h.CurrencyMint)
		if err != nil {
			return err
		}
		if err := token.Debit(tx, fundAddr, amount, wallet); err != nil {
			return err
		}
	}

	addr, bump, err := Key(houseAddr, wallet)
	if err != nil {
		return err
	}
	r, err := loadRecord(tx, addr)
	if db.SameErrorTypes(err, db.StoreError{Code: db.ErrUnknownEscrow}) {
		r = &record{bump: bump}
	} else if err != nil {
		return err
	}
	if r.balance, err = calc.Add64(r.balance, amount); err != nil {
		return err
	}
	return saveRecord(tx, addr, r)
}

// Withdraw moves amount of the house currency out of the escrow account and
// back to the wallet's funding account. A withdrawal that would leave
// 0 < balance < RentExemptMin fails; draining to exactly zero is allowed and
// leaves the account allocated.
func (l *Ledger) Withdraw(tx db.Tx, h *house.House, houseAddr derive.Address, wallet account.AccountID, amount uint64) error {
	if amount == 0 {
		return token.ErrInvalidTokenAmount
	}

	addr, _, err := Key(houseAddr, wallet)
	if err != nil {
		return err
	}
	r, err := loadRecord(tx, addr)
	if err != nil {
		return err
	}
	if amount > r.balance {
		return ErrInsufficientFunds
	}
	remaining := r.balance - amount
	if remaining > 0 && remaining < l.RentExemptMin {
		return ErrUnderRentExemption
	}

	// Pay out to the wallet's funding account.
	if h.CurrencyMint.IsZero() {
		if err := token.CreditNative(tx, wallet[:], amount); err != nil {
			return err
		}
	} else {
		fundAddr, _, err := token.AccountKey(wallet, h.CurrencyMint)
		if err != nil {
			return err
		}
		if err := token.Credit(tx, fundAddr, amount); err != nil {
			return err
		}
	}

	r.balance = remaining
	return saveRecord(tx, addr, r)
}

// DebitForSale removes amount from the escrow balance during settlement. The
// rent-exemption floor does not apply to sale debits; only sufficiency is
// checked.
func (l *Ledger) DebitForSale(tx db.Tx, houseAddr derive.Address, wallet account.AccountID, amount uint64) error {
	addr, _, err := Key(houseAddr, wallet)
	if err != nil {
		return err
	}
	r, err := loadRecord(tx, addr)
	if err != nil {
		return mkt.NewError(ErrInsufficientFunds, "no escrow account")
	}
	if amount > r.balance {
		return ErrInsufficientFunds
	}
	r.balance -= amount
	return saveRecord(tx, addr, r)
}

// CreditFromSale adds amount to the escrow balance during settlement,
// creating the account if needed. Used when a house pays seller proceeds into
// escrow rather than directly to the wallet.
func (l *Ledger) CreditFromSale(tx db.Tx, houseAddr derive.Address, wallet account.AccountID, amount uint64) error {
	addr, bump, err := Key(houseAddr, wallet)
	if err != nil {
		return err
	}
	r, err := loadRecord(tx, addr)
	if db.SameErrorTypes(err, db.StoreError{Code: db.ErrUnknownEscrow}) {
		r = &record{bump: bump}
	} else if err != nil {
		return err
	}
	if r.balance, err = calc.Add64(r.balance, amount); err != nil {
		return err
	}
	return saveRecord(tx, addr, r)
}
