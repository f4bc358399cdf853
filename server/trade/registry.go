// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package trade

import (
	"vendue.org/vendue/mkt"
	"vendue.org/vendue/mkt/encode"
	"vendue.org/vendue/server/account"
	"vendue.org/vendue/server/db"
	"vendue.org/vendue/server/derive"
	"vendue.org/vendue/server/token"
)

const (
	// ErrTradeStateClosed is returned when an operation targets an absent or
	// closed trade state.
	ErrTradeStateClosed = mkt.ErrorKind("trade state not open")

	// ErrNotEnoughRemaining is returned when a settlement consumes more than
	// an order's remaining quantity.
	ErrNotEnoughRemaining = mkt.ErrorKind("not enough remaining quantity")
)

// recordLen is the length of a trade-state record: the bump byte that marks
// the state open, and the remaining quantity.
const recordLen = 1 + 8

// Registry manages trade-state records. Opening a state sets aside
// RentReserve from the fee payer's native balance to back the record;
// closing returns it.
type Registry struct {
	RentReserve uint64
}

// NewRegistry creates a trade-state Registry with the given per-record rent
// reserve.
func NewRegistry(rentReserve uint64) *Registry {
	return &Registry{RentReserve: rentReserve}
}

// State is an open trade-state record.
type State struct {
	Bump      uint8
	Remaining uint64
}

func loadState(tx db.Tx, addr derive.Address) (*State, error) {
	b, err := tx.Get(db.TableTradeState, addr[:])
	if err != nil {
		return nil, ErrTradeStateClosed
	}
	if len(b) != recordLen {
		return nil, db.StoreError{Code: db.ErrUnknownTradeState, Detail: "bad trade state record length"}
	}
	return &State{Bump: b[0], Remaining: encode.IntCoder.Uint64(b[1:])}, nil
}

func saveState(tx db.Tx, addr derive.Address, s *State) error {
	b := make([]byte, 0, recordLen)
	b = append(b, s.Bump)
	b = append(b, encode.Uint64Bytes(s.Remaining)...)
	return tx.Set(db.TableTradeState, addr[:], b)
}

// Lookup returns the open trade state for the order, or ErrTradeStateClosed.
func (r *Registry) Lookup(tx db.Tx, ord *Order) (*State, error) {
	addr, _, err := ord.StateKey()
	if err != nil {
		return nil, err
	}
	return loadState(tx, addr)
}

// IsOpen reports whether the order's trade state is open.
func (r *Registry) IsOpen(tx db.Tx, ord *Order) (bool, error) {
	addr, _, err := ord.StateKey()
	if err != nil {
		return false, err
	}
	has, err := tx.Has(db.TableTradeState, addr[:])
	if err != nil {
		return false, err
	}
	return has, nil
}

// Open writes the order's trade state, setting aside the rent reserve from
// the fee payer. Re-opening an already-open state with byte-identical content
// is idempotent: state is unchanged and no second reserve is taken.
func (r *Registry) Open(tx db.Tx, ord *Order, feePayer account.AccountID) error {
	addr, bump, err := ord.StateKey()
	if err != nil {
		return err
	}
	has, err := tx.Has(db.TableTradeState, addr[:])
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	if r.RentReserve > 0 {
		if err := token.DebitNative(tx, feePayer[:], r.RentReserve); err != nil {
			return err
		}
	}
	return saveState(tx, addr, &State{Bump: bump, Remaining: ord.Quantity})
}

// Close zeroes the order's trade state and returns the rent reserve to the
// fee payer. Closing an already-closed state fails with ErrTradeStateClosed.
func (r *Registry) Close(tx db.Tx, ord *Order, feePayer account.AccountID) error {
	addr, _, err := ord.StateKey()
	if err != nil {
		return err
	}
	return r.closeAt(tx, addr, feePayer)
}

func (r *Registry) closeAt(tx db.Tx, addr derive.Address, feePayer account.AccountID) error {
	if _, err := loadState(tx, addr); err != nil {
		return err
	}
	if err := tx.Delete(db.TableTradeState, addr[:]); err != nil {
		return err
	}
	if r.RentReserve > 0 {
		return token.CreditNative(tx, feePayer[:], r.RentReserve)
	}
	return nil
}

// Settle consumes quantity from the order's open trade state. A full
// consumption closes the state and returns the rent reserve to the fee
// payer; a partial consumption leaves the state open with the remaining
// quantity reduced.
func (r *Registry) Settle(tx db.Tx, ord *Order, quantity uint64, feePayer account.AccountID) error {
	addr, _, err := ord.StateKey()
	if err != nil {
		return err
	}
	s, err := loadState(tx, addr)
	if err != nil {
		return err
	}
	if quantity > s.Remaining {
		return ErrNotEnoughRemaining
	}
	if quantity == s.Remaining {
		return r.closeAt(tx, addr, feePayer)
	}
	s.Remaining -= quantity
	return saveState(tx, addr, s)
}
