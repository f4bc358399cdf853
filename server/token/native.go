// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package token

import (
	"vendue.org/vendue/mkt/calc"
	"vendue.org/vendue/mkt/encode"
	"vendue.org/vendue/server/db"
)

// Native currency balances are keyed by a 32-byte address: a wallet's account
// ID for wallets, or a derived sub-account address for treasuries and fee
// accounts. An absent record reads as a zero balance.

// NativeBalance reads the native balance stored under the address.
func NativeBalance(tx db.Tx, addr []byte) (uint64, error) {
	b, err := tx.Get(db.TableBalance, addr)
	if err == db.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return encode.BytesToUint64(b), nil
}

// CreditNative adds amount to the native balance stored under the address.
func CreditNative(tx db.Tx, addr []byte, amount uint64) error {
	bal, err := NativeBalance(tx, addr)
	if err != nil {
		return err
	}
	if bal, err = calc.Add64(bal, amount); err != nil {
		return err
	}
	return tx.Set(db.TableBalance, addr, encode.Uint64Bytes(bal))
}

// DebitNative subtracts amount from the native balance stored under the
// address, erroring with ErrNotEnoughTokens if the balance is inadequate.
func DebitNative(tx db.Tx, addr []byte, amount uint64) error {
	bal, err := NativeBalance(tx, addr)
	if err != nil {
		return err
	}
	if amount > bal {
		return ErrNotEnoughTokens
	}
	return tx.Set(db.TableBalance, addr, encode.Uint64Bytes(bal-amount))
}

// MoveNative debits from and credits to in one step.
func MoveNative(tx db.Tx, from, to []byte, amount uint64) error {
	if err := DebitNative(tx, from, amount); err != nil {
		return err
	}
	return CreditNative(tx, to, amount)
}
