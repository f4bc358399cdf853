// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package scope implements the delegated-authority gate. A house authority
// may grant an external delegate a bounded set of capabilities; every
// privileged call invoked by the delegate is checked against the granted set
// before it reaches the shared operation logic.
package scope

import (
	"vendue.org/vendue/mkt"
	"vendue.org/vendue/server/account"
	"vendue.org/vendue/server/db"
	"vendue.org/vendue/server/derive"
	"vendue.org/vendue/server/house"
)

// ProgramAddr is the owning program identity for scope records.
var ProgramAddr = derive.ProgramID("delegate")

var scopeSeed = []byte("delegate")

// Capability is a named permission a house authority can grant to a delegate.
type Capability uint8

// The grantable capabilities, one per privileged operation.
const (
	CapDeposit Capability = iota
	CapWithdraw
	CapBuy
	CapPublicBuy
	CapSell
	CapCancel
	CapExecuteSale
	numCapabilities
)

// String returns the name of the Capability.
func (c Capability) String() string {
	switch c {
	case CapDeposit:
		return "deposit"
	case CapWithdraw:
		return "withdraw"
	case CapBuy:
		return "buy"
	case CapPublicBuy:
		return "public_buy"
	case CapSell:
		return "sell"
	case CapCancel:
		return "cancel"
	case CapExecuteSale:
		return "execute_sale"
	default:
		return "unknown"
	}
}

// MaxScopes is the maximum number of capabilities in one grant.
const MaxScopes = 7

const (
	// ErrTooManyScopes is returned when a grant exceeds MaxScopes entries or
	// names an unknown capability.
	ErrTooManyScopes = mkt.ErrorKind("too many delegate scopes")

	// ErrDuplicateScope is returned when a grant lists a capability twice.
	ErrDuplicateScope = mkt.ErrorKind("duplicate delegate scope")

	// ErrMissingScope is returned when a delegate invokes an operation whose
	// capability was not granted.
	ErrMissingScope = mkt.ErrorKind("missing delegate scope")

	// ErrNoDelegateSet is returned when a delegated call arrives for a house
	// with no delegation enabled.
	ErrNoDelegateSet = mkt.ErrorKind("no delegate program set")

	// ErrInvalidDelegate is returned when the invoking delegate is not the
	// house's configured delegate.
	ErrInvalidDelegate = mkt.ErrorKind("invalid delegate")
)

// Scope is the per-(house, delegate) record of granted capabilities.
type Scope struct {
	Bump         uint8
	Capabilities []Capability
}

// Key derives the canonical scope record address for a house and delegate.
func Key(houseAddr derive.Address, delegate account.AccountID) (derive.Address, uint8, error) {
	return derive.Find(ProgramAddr, scopeSeed, houseAddr[:], delegate[:])
}

// Serialize marshals the Scope into a []byte.
func (s *Scope) Serialize() []byte {
	b := make([]byte, 0, 2+len(s.Capabilities))
	b = append(b, s.Bump, byte(len(s.Capabilities)))
	for _, c := range s.Capabilities {
		b = append(b, byte(c))
	}
	return b
}

// Deserialize unmarshals a Scope from the serialization produced by
// Serialize.
func Deserialize(b []byte) (*Scope, error) {
	if len(b) < 2 || len(b) != 2+int(b[1]) {
		return nil, db.StoreError{Code: db.ErrUnknownScope, Detail: "bad scope record length"}
	}
	s := &Scope{Bump: b[0]}
	for _, c := range b[2:] {
		s.Capabilities = append(s.Capabilities, Capability(c))
	}
	return s, nil
}

// Granted reports whether the capability is present in the scope.
func (s *Scope) Granted(c Capability) bool {
	for _, granted := range s.Capabilities {
		if granted == c {
			return true
		}
	}
	return false
}

// validateCaps rejects oversized grants, unknown capabilities, and
// duplicates.
func validateCaps(caps []Capability) error {
	if len(caps) > MaxScopes {
		return ErrTooManyScopes
	}
	seen := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		if c >= numCapabilities {
			return mkt.NewError(ErrTooManyScopes, "unknown capability "+c.String())
		}
		if _, ok := seen[c]; ok {
			return ErrDuplicateScope
		}
		seen[c] = struct{}{}
	}
	return nil
}

// Grant creates or overwrites the scope record for the delegate and marks the
// house as delegate-handled. The caller must have verified the house
// authority's signature.
func Grant(tx db.Tx, h *house.House, houseAddr derive.Address, delegate account.AccountID, caps []Capability) error {
	if err := validateCaps(caps); err != nil {
		return err
	}

	scopeAddr, bump, err := Key(houseAddr, delegate)
	if err != nil {
		return err
	}
	s := &Scope{Bump: bump, Capabilities: caps}
	if err := tx.Set(db.TableScope, scopeAddr[:], s.Serialize()); err != nil {
		return err
	}

	h.HasDelegate = true
	h.DelegateKey = delegate
	return house.Save(tx, houseAddr, h)
}

// Authorize validates a delegate-invoked privileged call: the house must have
// delegation enabled, the invoking delegate must be the configured one, the
// supplied scope account must match its canonical derivation, and the
// required capability must have been granted.
func Authorize(tx db.Tx, h *house.House, houseAddr derive.Address, delegate account.AccountID,
	suppliedScope derive.Address, capability Capability) error {

	if !h.HasDelegate {
		return ErrNoDelegateSet
	}
	if h.DelegateKey != delegate {
		return ErrInvalidDelegate
	}

	scopeAddr, bump, err := Key(houseAddr, delegate)
	if err != nil {
		return err
	}
	if err := derive.Verify(suppliedScope, ProgramAddr, bump, scopeSeed, houseAddr[:], delegate[:]); err != nil {
		return err
	}
	if scopeAddr != suppliedScope {
		return derive.ErrDerivedKeyInvalid
	}

	b, err := tx.Get(db.TableScope, scopeAddr[:])
	if err != nil {
		return db.StoreError{Code: db.ErrUnknownScope, Detail: scopeAddr.String()}
	}
	s, err := Deserialize(b)
	if err != nil {
		return err
	}
	if !s.Granted(capability) {
		return mkt.NewError(ErrMissingScope, capability.String())
	}
	return nil
}
