// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package db defines the transactional store that holds every marketplace
// record. Records are keyed by their derived addresses, never by an
// incrementing identifier, and every operation's mutations are applied inside
// a single transaction so that a failure at any step leaves no partial
// effects.
package db

import (
	"context"
	"errors"
	"sync"
)

// Table identifies a class of records in the store. Each record class has its
// own key space.
type Table uint8

// The record tables.
const (
	TableHouse Table = iota
	TableEscrow
	TableTradeState
	TableScope
	TableMint
	TableTokenAccount
	TableBalance
)

// String returns the name of the table.
func (t Table) String() string {
	switch t {
	case TableHouse:
		return "houses"
	case TableEscrow:
		return "escrows"
	case TableTradeState:
		return "tradestates"
	case TableScope:
		return "scopes"
	case TableMint:
		return "mints"
	case TableTokenAccount:
		return "tokenaccounts"
	case TableBalance:
		return "balances"
	default:
		return "unknown"
	}
}

// ErrKeyNotFound is returned by Tx.Get for an absent record.
var ErrKeyNotFound = errors.New("key not found")

// Tx is a single store transaction. All reads observe a consistent snapshot,
// and writes are only visible to others after the enclosing Update commits.
type Tx interface {
	// Get retrieves the record stored under key. Returns ErrKeyNotFound if
	// there is no such record.
	Get(table Table, key []byte) ([]byte, error)

	// Has reports whether a record is stored under key.
	Has(table Table, key []byte) (bool, error)

	// Set stores the record under key, overwriting any existing record.
	Set(table Table, key, value []byte) error

	// Delete removes the record stored under key. Deleting an absent key is
	// not an error.
	Delete(table Table, key []byte) error
}

// Store is a transactional marketplace record store.
type Store interface {
	// View runs f in a read-only transaction.
	View(f func(Tx) error) error

	// Update runs f in a read-write transaction. If f returns an error, the
	// transaction is discarded and none of its writes are observable.
	Update(f func(Tx) error) error

	// Connect starts the store and begins any housekeeping. The returned
	// WaitGroup is done when the store has shut down after context
	// cancellation.
	Connect(ctx context.Context) (*sync.WaitGroup, error)
}

// StoreError is the error type used by store drivers for recognized errors.
// Not all returned errors will be of this type.
type StoreError struct {
	Code   uint16
	Detail string
}

// The possible Code values in a StoreError.
const (
	ErrGeneralFailure uint16 = iota
	ErrUnknownHouse
	ErrUnknownEscrow
	ErrUnknownTradeState
	ErrUnknownScope
	ErrUnknownMint
	ErrUnknownTokenAccount
)

func (se StoreError) Error() string {
	desc := "unrecognized error"
	switch se.Code {
	case ErrGeneralFailure:
		desc = "general failure"
	case ErrUnknownHouse:
		desc = "unknown house"
	case ErrUnknownEscrow:
		desc = "unknown escrow account"
	case ErrUnknownTradeState:
		desc = "unknown trade state"
	case ErrUnknownScope:
		desc = "unknown delegate scope"
	case ErrUnknownMint:
		desc = "unknown mint"
	case ErrUnknownTokenAccount:
		desc = "unknown token account"
	}

	if se.Detail == "" {
		return desc
	}
	return desc + ": " + se.Detail
}

// SameErrorTypes checks for error equality or StoreError.Code equality if
// both errors are of type StoreError.
func SameErrorTypes(errA, errB error) bool {
	if errors.Is(errA, errB) {
		return true
	}
	var seA StoreError
	if errors.As(errA, &seA) {
		var seB StoreError
		if errors.As(errB, &seB) && seA.Code == seB.Code {
			return true
		}
	}
	return false
}
