// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package market

import (
	"vendue.org/vendue/mkt"
	"vendue.org/vendue/server/account"
	"vendue.org/vendue/server/db"
	"vendue.org/vendue/server/derive"
	"vendue.org/vendue/server/house"
	"vendue.org/vendue/server/scope"
)

// HouseParams are the operator-supplied settings for a new house.
type HouseParams struct {
	Creator            account.AccountID
	Authority          account.AccountID
	FeeWithdrawal      account.AccountID
	TreasuryWithdrawal account.AccountID
	// CurrencyMint is the house currency. The zero address selects the
	// native currency.
	CurrencyMint         derive.Address
	SellerFeeBasisPoints uint16
	RequiresSignOff      bool
	CanChangeSalePrice   bool
	ProceedsToEscrow     bool
}

// CreateHouse creates the marketplace configuration for a (creator, currency
// mint) pair and returns its derived address. The creator must have signed.
// Creating a house that already exists fails.
func (m *Market) CreateHouse(p *HouseParams, signers account.SignerSet) (derive.Address, error) {
	if !signers.Signed(p.Creator) {
		return derive.Address{}, mkt.NewError(ErrSignatureRequired, "creator did not sign")
	}

	houseAddr, bump, err := house.Key(p.Creator, p.CurrencyMint)
	if err != nil {
		return derive.Address{}, err
	}
	feeAddr, feeBump, err := house.FeeKey(houseAddr)
	if err != nil {
		return derive.Address{}, err
	}
	treasuryAddr, treasuryBump, err := house.TreasuryKey(houseAddr)
	if err != nil {
		return derive.Address{}, err
	}
	_, signerBump, err := house.SignerKey(houseAddr)
	if err != nil {
		return derive.Address{}, err
	}

	h := &house.House{
		Bump:                 bump,
		FeeBump:              feeBump,
		TreasuryBump:         treasuryBump,
		SignerBump:           signerBump,
		Creator:              p.Creator,
		Authority:            p.Authority,
		FeeWithdrawal:        p.FeeWithdrawal,
		TreasuryWithdrawal:   p.TreasuryWithdrawal,
		CurrencyMint:         p.CurrencyMint,
		FeeAccount:           feeAddr,
		Treasury:             treasuryAddr,
		SellerFeeBasisPoints: p.SellerFeeBasisPoints,
		RequiresSignOff:      p.RequiresSignOff,
		CanChangeSalePrice:   p.CanChangeSalePrice,
		ProceedsToEscrow:     p.ProceedsToEscrow,
	}
	if err := h.Validate(); err != nil {
		return derive.Address{}, err
	}

	err = m.store.Update(func(tx db.Tx) error {
		has, err := tx.Has(db.TableHouse, houseAddr[:])
		if err != nil {
			return err
		}
		if has {
			return mkt.NewError(ErrHouseMismatch, "house already exists")
		}
		return house.Save(tx, houseAddr, h)
	})
	if err != nil {
		return derive.Address{}, err
	}
	log.Infof("Created house %v (creator %v, fee %d bps)", houseAddr, p.Creator, p.SellerFeeBasisPoints)
	return houseAddr, nil
}

// HouseUpdate are the authority-mutable house settings. Identity fields
// (creator, currency mint) cannot change.
type HouseUpdate struct {
	Authority            account.AccountID
	FeeWithdrawal        account.AccountID
	TreasuryWithdrawal   account.AccountID
	SellerFeeBasisPoints uint16
	RequiresSignOff      bool
	CanChangeSalePrice   bool
	ProceedsToEscrow     bool
}

// UpdateHouse applies authority-signed changes to the house settings.
func (m *Market) UpdateHouse(houseAddr derive.Address, u *HouseUpdate, signers account.SignerSet) error {
	return m.store.Update(func(tx db.Tx) error {
		h, err := loadHouse(tx, houseAddr)
		if err != nil {
			return err
		}
		if !signers.Signed(h.Authority) {
			return house.ErrInvalidAuthority
		}

		h.Authority = u.Authority
		h.FeeWithdrawal = u.FeeWithdrawal
		h.TreasuryWithdrawal = u.TreasuryWithdrawal
		h.SellerFeeBasisPoints = u.SellerFeeBasisPoints
		h.RequiresSignOff = u.RequiresSignOff
		h.CanChangeSalePrice = u.CanChangeSalePrice
		h.ProceedsToEscrow = u.ProceedsToEscrow
		if err := h.Validate(); err != nil {
			return err
		}
		return house.Save(tx, houseAddr, h)
	})
}

// GrantScope writes the delegate's capability scope and marks the house as
// delegate-handled. Only the house authority may grant.
func (m *Market) GrantScope(houseAddr derive.Address, delegate account.AccountID,
	caps []scope.Capability, signers account.SignerSet) error {

	return m.store.Update(func(tx db.Tx) error {
		h, err := loadHouse(tx, houseAddr)
		if err != nil {
			return err
		}
		if !signers.Signed(h.Authority) {
			return house.ErrInvalidAuthority
		}
		return scope.Grant(tx, h, houseAddr, delegate, caps)
	})
}

// WithdrawFromFee drains amount from the house fee account to the configured
// fee withdrawal destination. Only the house authority may withdraw.
func (m *Market) WithdrawFromFee(houseAddr derive.Address, amount uint64, signers account.SignerSet) error {
	return m.store.Update(func(tx db.Tx) error {
		h, err := loadHouse(tx, houseAddr)
		if err != nil {
			return err
		}
		if !signers.Signed(h.Authority) {
			return house.ErrInvalidAuthority
		}
		return moveCurrency(tx, h, account.AccountID(h.FeeAccount), h.FeeWithdrawal, amount)
	})
}

// WithdrawFromTreasury drains amount from the house treasury to the
// configured treasury withdrawal destination. Only the house authority may
// withdraw.
func (m *Market) WithdrawFromTreasury(houseAddr derive.Address, amount uint64, signers account.SignerSet) error {
	return m.store.Update(func(tx db.Tx) error {
		h, err := loadHouse(tx, houseAddr)
		if err != nil {
			return err
		}
		if !signers.Signed(h.Authority) {
			return house.ErrInvalidAuthority
		}
		return moveCurrency(tx, h, account.AccountID(h.Treasury), h.TreasuryWithdrawal, amount)
	})
}
