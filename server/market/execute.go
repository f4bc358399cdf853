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

// ExecuteSale settles a crossed bid and ask at the given per-unit price and
// quantity. The execution is all-or-nothing: the buyer's escrow is debited
// for the full sale total, the asset moves under the house's standing
// delegation, both trade states are settled, and the proceeds are split
// between the house fee account and the seller. Any failed check leaves
// every account untouched.
func (m *Market) ExecuteSale(houseAddr derive.Address, bid, ask *trade.Order,
	price, quantity uint64, actor Actor, signers account.SignerSet) error {

	if bid.Side != trade.BidSide {
		return mkt.NewError(ErrWrongSide, "execute requires a bid order")
	}
	if ask.Side != trade.AskSide {
		return mkt.NewError(ErrWrongSide, "execute requires an ask order")
	}
	if quantity == 0 {
		return token.ErrInvalidTokenAmount
	}

	return m.store.Update(func(tx db.Tx) error {
		h, err := loadHouse(tx, houseAddr)
		if err != nil {
			return err
		}
		if err := m.gate(tx, h, houseAddr, actor, scope.CapExecuteSale, signers); err != nil {
			return err
		}
		if err := checkOrderHouse(bid, h, houseAddr); err != nil {
			return err
		}
		if err := checkOrderHouse(ask, h, houseAddr); err != nil {
			return err
		}
		if err := checkSaleTerms(bid, ask, price); err != nil {
			return err
		}
		if err := checkSaleSigners(h, bid, ask, price, signers); err != nil {
			return err
		}
		if err := m.checkPartial(tx, bid, ask, price, quantity); err != nil {
			return err
		}

		total, err := calc.Mul64(price, quantity)
		if err != nil {
			return err
		}
		fee, net, err := calc.SaleProceeds(total, h.SellerFeeBasisPoints)
		if err != nil {
			return err
		}

		// Purchase funds come out of the buyer's escrow, which Buy topped up
		// when the bid was placed. A free sale has nothing to debit, and the
		// buyer may have no escrow account at all.
		if total > 0 {
			if err := m.escrow.DebitForSale(tx, houseAddr, bid.Wallet, total); err != nil {
				return err
			}
		}

		// The asset moves from the seller's holding to the buyer's under the
		// standing delegation granted to the house signer at listing.
		buyerAcctAddr, err := ensureTokenAccount(tx, bid.Wallet, ask.AssetMint)
		if err != nil {
			return err
		}
		signerAddr, _, err := house.SignerKey(houseAddr)
		if err != nil {
			return err
		}
		auth := token.Authority{Delegate: signerAddr}
		if err := token.Transfer(tx, ask.TokenAccount, buyerAcctAddr, quantity, auth); err != nil {
			return err
		}

		if err := m.trades.Settle(tx, ask, quantity, ask.Wallet); err != nil {
			return err
		}
		if err := m.trades.Settle(tx, bid, quantity, bid.Wallet); err != nil {
			return err
		}

		log.Debugf("Executing sale on house %v: %d @ %d (fee %d, net %d)",
			houseAddr, quantity, price, fee, net)

		// Proceeds are disbursed in the house currency, the same currency the
		// buyer's escrow was funded with.
		if fee > 0 {
			if err := creditCurrency(tx, h, account.AccountID(h.FeeAccount), fee); err != nil {
				return err
			}
		}
		if net > 0 {
			if h.ProceedsToEscrow {
				return m.escrow.CreditFromSale(tx, houseAddr, ask.Wallet, net)
			}
			return creditCurrency(tx, h, ask.Wallet, net)
		}
		return nil
	})
}

// checkSaleTerms reconciles the execution price with both orders. The
// execution price must match the ask exactly. A private bid must reference
// the ask's holding account and match the price exactly; a public bid names
// no holding account and may have bid higher than the execution price.
func checkSaleTerms(bid, ask *trade.Order, price uint64) error {
	if bid.AssetMint != ask.AssetMint {
		return mkt.NewError(ErrHouseMismatch, "bid and ask reference different assets")
	}
	if price != ask.Price {
		return mkt.NewError(ErrPartialPriceMismatch, "execution price differs from ask")
	}
	if bid.TokenAccount.IsZero() {
		if bid.Price < price {
			return mkt.NewError(ErrPartialPriceMismatch, "public bid below execution price")
		}
		return nil
	}
	if bid.TokenAccount != ask.TokenAccount {
		return mkt.NewError(ErrHouseMismatch, "bid names a different holding than the ask")
	}
	if bid.Price != price {
		return mkt.NewError(ErrPartialPriceMismatch, "bid price differs from execution price")
	}
	return nil
}

// checkSaleSigners applies the execution signer rules. A sign-off house
// requires either its authority or both trading parties on every priced
// sale. A free sale requires the seller or the authority regardless.
func checkSaleSigners(h *house.House, bid, ask *trade.Order, price uint64, signers account.SignerSet) error {
	if price == 0 {
		if !signers.Signed(ask.Wallet) && !signers.Signed(h.Authority) {
			return ErrSaleRequiresSigner
		}
		return nil
	}
	if !h.RequiresSignOff {
		return nil
	}
	if signers.Signed(h.Authority) {
		return nil
	}
	if signers.Signed(ask.Wallet) && signers.Signed(bid.Wallet) {
		return nil
	}
	return mkt.NewError(ErrSignatureRequired, "house requires authority sign-off")
}

// checkPartial verifies that any partial fill is permitted by the order it
// partially fills. An order created without partial support settles only at
// its full remaining quantity, and a partial fill of a partial-capable order
// must keep the per-unit terms exact, which the address-encoded price
// already guarantees once the execution price is reconciled.
func (m *Market) checkPartial(tx db.Tx, bid, ask *trade.Order, price, quantity uint64) error {
	for _, ord := range []*trade.Order{ask, bid} {
		st, err := m.trades.Lookup(tx, ord)
		if err != nil {
			return err
		}
		if quantity > st.Remaining {
			return trade.ErrNotEnoughRemaining
		}
		if quantity < st.Remaining && !ord.Partial {
			return mkt.NewError(ErrPartialUnsupported, ord.Side.String()+" does not permit partial fills")
		}
	}
	return nil
}

// ensureTokenAccount loads the canonical token account for the owner and
// mint, creating an empty one when it does not exist yet.
func ensureTokenAccount(tx db.Tx, owner account.AccountID, mint derive.Address) (derive.Address, error) {
	addr, _, err := token.AccountKey(owner, mint)
	if err != nil {
		return derive.Address{}, err
	}
	_, err = token.LoadAccount(tx, addr)
	if db.SameErrorTypes(err, db.StoreError{Code: db.ErrUnknownTokenAccount}) {
		acct := &token.Account{Mint: mint, Owner: owner}
		return addr, token.SaveAccount(tx, addr, acct)
	}
	return addr, err
}
