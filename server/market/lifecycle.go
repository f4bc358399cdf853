// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package market

import (
	"vendue.org/vendue/mkt"
	"vendue.org/vendue/mkt/calc"
	"vendue.org/vendue/server/account"
	"vendue.org/vendue/server/db"
	"vendue.org/vendue/server/derive"
	"vendue.org/vendue/server/house"
	"vendue.org/vendue/server/scope"
	"vendue.org/vendue/server/token"
	"vendue.org/vendue/server/trade"
)

// Deposit credits a wallet's escrow account from its funding account. The
// depositing wallet must have signed; under delegation the delegate must
// additionally pass the scope gate.
func (m *Market) Deposit(houseAddr derive.Address, wallet account.AccountID, amount uint64,
	actor Actor, signers account.SignerSet) error {

	return m.store.Update(func(tx db.Tx) error {
		h, err := loadHouse(tx, houseAddr)
		if err != nil {
			return err
		}
		if err := m.gate(tx, h, houseAddr, actor, scope.CapDeposit, signers); err != nil {
			return err
		}
		if !signers.Signed(wallet) {
			return mkt.NewError(ErrSignatureRequired, "depositing wallet did not sign")
		}
		return m.escrow.Deposit(tx, h, houseAddr, wallet, amount)
	})
}

// Withdraw debits a wallet's escrow account and pays out to its funding
// account. The wallet must have signed on the direct path; on the delegated
// path the scope-gated delegate's signature suffices.
func (m *Market) Withdraw(houseAddr derive.Address, wallet account.AccountID, amount uint64,
	actor Actor, signers account.SignerSet) error {

	return m.store.Update(func(tx db.Tx) error {
		h, err := loadHouse(tx, houseAddr)
		if err != nil {
			return err
		}
		if err := m.gate(tx, h, houseAddr, actor, scope.CapWithdraw, signers); err != nil {
			return err
		}
		if actor.Kind == DirectActor && !signers.Signed(wallet) {
			return mkt.NewError(ErrSignatureRequired, "withdrawing wallet did not sign")
		}
		return m.escrow.Withdraw(tx, h, houseAddr, wallet, amount)
	})
}

// Sell opens an ask: it validates the seller's holding, applies the
// zero-price signer rule, approves the house's derived signer as the
// standing delegate for the listed quantity, and writes the trade state.
// Re-issuing a byte-identical ask is idempotent.
func (m *Market) Sell(houseAddr derive.Address, ord *trade.Order, actor Actor, signers account.SignerSet) error {
	if ord.Side != trade.AskSide {
		return mkt.NewError(ErrWrongSide, "sell requires an ask order")
	}

	return m.store.Update(func(tx db.Tx) error {
		h, err := loadHouse(tx, houseAddr)
		if err != nil {
			return err
		}
		if err := m.gate(tx, h, houseAddr, actor, scope.CapSell, signers); err != nil {
			return err
		}
		if err := checkOrderHouse(ord, h, houseAddr); err != nil {
			return err
		}
		if err := checkAskSigners(h, ord, signers); err != nil {
			return err
		}

		// The ask must reference the seller's canonical holding account for
		// the asset, and the holding must cover the listed quantity.
		acctAddr, _, err := token.AccountKey(ord.Wallet, ord.AssetMint)
		if err != nil {
			return err
		}
		if ord.TokenAccount != acctAddr {
			return mkt.NewError(ErrHouseMismatch, "ask token account is not the seller's holding")
		}
		acct, err := token.LoadAccount(tx, acctAddr)
		if err != nil {
			return err
		}
		if acct.Amount < ord.Quantity {
			return token.ErrNotEnoughTokens
		}

		// Standing delegation lets the house move the asset at settlement
		// without the seller signing again.
		signerAddr, _, err := house.SignerKey(houseAddr)
		if err != nil {
			return err
		}
		if err := token.Approve(tx, acctAddr, signerAddr, ord.Quantity, ord.Wallet); err != nil {
			return err
		}

		return m.trades.Open(tx, ord, ord.Wallet)
	})
}

// checkAskSigners applies the ask signer rules. A zero-price ask is legal
// only if exactly one of {wallet, empowered authority} signed. A priced ask
// requires the wallet's signature.
func checkAskSigners(h *house.House, ord *trade.Order, signers account.SignerSet) error {
	walletSigned := signers.Signed(ord.Wallet)
	if ord.Price > 0 {
		if !walletSigned {
			return mkt.NewError(ErrSignatureRequired, "selling wallet did not sign")
		}
		return nil
	}
	authoritySigned := h.CanChangeSalePrice && signers.Signed(h.Authority)
	if walletSigned == authoritySigned {
		// Never both, never neither.
		return ErrSaleRequiresSigner
	}
	return nil
}

// Buy opens a bid. A private bid references the asked holding account; a
// public bid (zero TokenAccount) bids on the asset itself. If the wallet's
// escrow balance does not cover the bid, the difference is pulled from the
// wallet's funding account immediately. Re-issuing a byte-identical bid is
// idempotent.
func (m *Market) Buy(houseAddr derive.Address, ord *trade.Order, actor Actor, signers account.SignerSet) error {
	if ord.Side != trade.BidSide {
		return mkt.NewError(ErrWrongSide, "buy requires a bid order")
	}
	capability := scope.CapBuy
	if ord.TokenAccount.IsZero() {
		capability = scope.CapPublicBuy
	}

	return m.store.Update(func(tx db.Tx) error {
		h, err := loadHouse(tx, houseAddr)
		if err != nil {
			return err
		}
		if err := m.gate(tx, h, houseAddr, actor, capability, signers); err != nil {
			return err
		}
		if err := checkOrderHouse(ord, h, houseAddr); err != nil {
			return err
		}
		if !signers.Signed(ord.Wallet) {
			return mkt.NewError(ErrSignatureRequired, "bidding wallet did not sign")
		}

		// Commit funds up-front: top the escrow account up to the bid total.
		total, err := calc.Mul64(ord.Price, ord.Quantity)
		if err != nil {
			return err
		}
		bal, err := m.escrow.Balance(tx, houseAddr, ord.Wallet)
		if err != nil {
			return err
		}
		if bal < total {
			if err := m.escrow.Deposit(tx, h, houseAddr, ord.Wallet, total-bal); err != nil {
				return err
			}
		}

		return m.trades.Open(tx, ord, ord.Wallet)
	})
}

// Cancel closes an open trade state, returns its rent reserve to the order's
// wallet, and, for asks, revokes the standing delegation. The wallet or the
// house authority must have signed on the direct path.
func (m *Market) Cancel(houseAddr derive.Address, ord *trade.Order, actor Actor, signers account.SignerSet) error {
	return m.store.Update(func(tx db.Tx) error {
		h, err := loadHouse(tx, houseAddr)
		if err != nil {
			return err
		}
		if err := m.gate(tx, h, houseAddr, actor, scope.CapCancel, signers); err != nil {
			return err
		}
		if err := checkOrderHouse(ord, h, houseAddr); err != nil {
			return err
		}
		if actor.Kind == DirectActor && !signers.Signed(ord.Wallet) && !signers.Signed(h.Authority) {
			return mkt.NewError(ErrSignatureRequired, "cancel requires the wallet or house authority")
		}

		if err := m.trades.Close(tx, ord, ord.Wallet); err != nil {
			return err
		}

		if ord.Side == trade.AskSide {
			return token.Revoke(tx, ord.TokenAccount, ord.Wallet)
		}
		return nil
	})
}
