// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package market implements the order lifecycle and trade execution engines.
// Each operation runs in a single store transaction: every validation happens
// before any mutating step commits, and a failure at any point leaves no
// partial effects.
package market

import (
	"errors"

	"vendue.org/vendue/mkt"
	"vendue.org/vendue/server/account"
	"vendue.org/vendue/server/db"
	"vendue.org/vendue/server/derive"
	"vendue.org/vendue/server/escrow"
	"vendue.org/vendue/server/house"
	"vendue.org/vendue/server/scope"
	"vendue.org/vendue/server/token"
	"vendue.org/vendue/server/trade"
)

const (
	// ErrSignatureRequired is returned when a required signer is missing.
	ErrSignatureRequired = mkt.ErrorKind("signature required")

	// ErrSaleRequiresSigner is returned when a zero-price ask is created with
	// neither the wallet nor an empowered authority as the sole signer.
	ErrSaleRequiresSigner = mkt.ErrorKind("sale requires signer")

	// ErrMustUseDelegateHandler is returned when the direct entry point of a
	// privileged operation is invoked on a delegate-handled house.
	ErrMustUseDelegateHandler = mkt.ErrorKind("house requires the delegate handler")

	// ErrHouseMismatch is returned when an operation's orders or accounts
	// reference different houses, mints, or terms than expected.
	ErrHouseMismatch = mkt.ErrorKind("house or terms mismatch")

	// ErrWrongSide is returned when an order's side does not match the
	// operation, e.g. a bid submitted through Sell.
	ErrWrongSide = mkt.ErrorKind("wrong order side")

	// ErrPartialUnsupported is returned when a settlement would partially
	// fill an order that was not created with partial support.
	ErrPartialUnsupported = mkt.ErrorKind("order does not support partial fills")

	// ErrPartialPriceMismatch is returned when a settlement's price does not
	// reconcile exactly with the order's per-unit terms.
	ErrPartialPriceMismatch = mkt.ErrorKind("partial price mismatch")
)

// Config is the Market configuration.
type Config struct {
	Store db.Store
	// RentExemptMin is the minimum balance that must remain in a partially
	// drained escrow account.
	RentExemptMin uint64
	// RentReserve is the native reserve set aside to back each open trade
	// state and returned when it closes.
	RentReserve uint64
}

// Market is the marketplace engine. All operations are safe for concurrent
// use; operations touching the same derived accounts are serialized by the
// store's transactions.
type Market struct {
	store  db.Store
	escrow *escrow.Ledger
	trades *trade.Registry
}

// New creates a Market.
func New(cfg *Config) *Market {
	return &Market{
		store:  cfg.Store,
		escrow: escrow.New(cfg.RentExemptMin),
		trades: trade.NewRegistry(cfg.RentReserve),
	}
}

// ActorKind distinguishes the direct-authority path from the delegated path.
type ActorKind uint8

// The ActorKind values.
const (
	// DirectActor is a wallet or house authority acting for itself.
	DirectActor ActorKind = iota
	// DelegateActor is an external delegate acting on the house's behalf
	// under a granted capability scope.
	DelegateActor
)

// Actor identifies who is invoking a privileged operation. The direct and
// delegated variants of every operation share one implementation,
// parameterized by the Actor and checked at entry.
type Actor struct {
	Kind ActorKind
	// Delegate is the invoking delegate's account, for DelegateActor.
	Delegate account.AccountID
	// Scope is the caller-supplied scope record address, for DelegateActor.
	// It must match its canonical derivation.
	Scope derive.Address
}

// Direct returns the direct-authority Actor.
func Direct() Actor {
	return Actor{Kind: DirectActor}
}

// Delegated returns a delegate Actor with the supplied scope account.
func Delegated(delegate account.AccountID, scopeAddr derive.Address) Actor {
	return Actor{Kind: DelegateActor, Delegate: delegate, Scope: scopeAddr}
}

// gate enforces the routing rule between the direct and delegated paths. A
// delegate-handled house rejects the direct path outright; a delegate must
// have signed and must hold the operation's capability.
func (m *Market) gate(tx db.Tx, h *house.House, houseAddr derive.Address, actor Actor,
	capability scope.Capability, signers account.SignerSet) error {

	switch actor.Kind {
	case DelegateActor:
		if !signers.Signed(actor.Delegate) {
			return mkt.NewError(ErrSignatureRequired, "delegate did not sign")
		}
		return scope.Authorize(tx, h, houseAddr, actor.Delegate, actor.Scope, capability)
	default:
		if h.HasDelegate {
			return ErrMustUseDelegateHandler
		}
		return nil
	}
}

// loadHouse reads and revalidates the house record.
func loadHouse(tx db.Tx, houseAddr derive.Address) (*house.House, error) {
	h, err := house.Load(tx, houseAddr)
	if err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// checkOrderHouse verifies that an order belongs to the house and references
// the house currency.
func checkOrderHouse(ord *trade.Order, h *house.House, houseAddr derive.Address) error {
	if ord.House != houseAddr {
		return mkt.NewError(ErrHouseMismatch, "order house "+ord.House.String())
	}
	if ord.CurrencyMint != h.CurrencyMint {
		return mkt.NewError(ErrHouseMismatch, "order currency mint "+ord.CurrencyMint.String())
	}
	return nil
}

// creditCurrency pays amount of the house currency to the owner. A native
// house credits the owner's native balance. A token-currency house credits
// the owner's currency-token account, creating it on first use.
func creditCurrency(tx db.Tx, h *house.House, owner account.AccountID, amount uint64) error {
	if h.CurrencyMint.IsZero() {
		return token.CreditNative(tx, owner[:], amount)
	}
	acctAddr, err := ensureTokenAccount(tx, owner, h.CurrencyMint)
	if err != nil {
		return err
	}
	return token.Credit(tx, acctAddr, amount)
}

// moveCurrency moves amount of the house currency from one owner to another,
// debiting with the sender's own authority.
func moveCurrency(tx db.Tx, h *house.House, from, to account.AccountID, amount uint64) error {
	if h.CurrencyMint.IsZero() {
		return token.MoveNative(tx, from[:], to[:], amount)
	}
	fromAddr, _, err := token.AccountKey(from, h.CurrencyMint)
	if err != nil {
		return err
	}
	if err := token.Debit(tx, fromAddr, amount, from); err != nil {
		return err
	}
	toAddr, err := ensureTokenAccount(tx, to, h.CurrencyMint)
	if err != nil {
		return err
	}
	return token.Credit(tx, toAddr, amount)
}

// EscrowBalance reads a wallet's escrow balance for the house.
func (m *Market) EscrowBalance(houseAddr derive.Address, wallet account.AccountID) (bal uint64, err error) {
	err = m.store.View(func(tx db.Tx) error {
		bal, err = m.escrow.Balance(tx, houseAddr, wallet)
		return err
	})
	return
}

// House reads the house record.
func (m *Market) House(houseAddr derive.Address) (h *house.House, err error) {
	err = m.store.View(func(tx db.Tx) error {
		h, err = loadHouse(tx, houseAddr)
		return err
	})
	return
}

// OrderStatus reports whether the order's trade state is open and how much
// quantity remains on it.
func (m *Market) OrderStatus(ord *trade.Order) (open bool, remaining uint64, err error) {
	err = m.store.View(func(tx db.Tx) error {
		s, err := m.trades.Lookup(tx, ord)
		if errors.Is(err, trade.ErrTradeStateClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		open, remaining = true, s.Remaining
		return nil
	})
	return
}
