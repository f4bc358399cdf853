// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package market

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

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
	tRentExemptMin = 1000
	tRentReserve   = 500
)

// tTx is an in-memory db.Tx over a table map.
type tTx struct {
	data map[db.Table]map[string][]byte
}

func (tx *tTx) Get(table db.Table, key []byte) ([]byte, error) {
	v, found := tx.data[table][string(key)]
	if !found {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (tx *tTx) Has(table db.Table, key []byte) (bool, error) {
	_, found := tx.data[table][string(key)]
	return found, nil
}

func (tx *tTx) Set(table db.Table, key, value []byte) error {
	m := tx.data[table]
	if m == nil {
		m = make(map[string][]byte)
		tx.data[table] = m
	}
	m[string(key)] = bytes.Clone(value)
	return nil
}

func (tx *tTx) Delete(table db.Table, key []byte) error {
	delete(tx.data[table], string(key))
	return nil
}

// tStore is an in-memory db.Store. Update runs the function against a copy of
// the data and commits the copy only on success, so a failed operation leaves
// no partial effects, same as the real driver.
type tStore struct {
	mtx  sync.Mutex
	data map[db.Table]map[string][]byte
}

func newTStore() *tStore {
	return &tStore{data: make(map[db.Table]map[string][]byte)}
}

func (s *tStore) snapshot() map[db.Table]map[string][]byte {
	cp := make(map[db.Table]map[string][]byte, len(s.data))
	for table, m := range s.data {
		cpm := make(map[string][]byte, len(m))
		for k, v := range m {
			cpm[k] = v
		}
		cp[table] = cpm
	}
	return cp
}

func (s *tStore) View(f func(db.Tx) error) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return f(&tTx{data: s.snapshot()})
}

func (s *tStore) Update(f func(db.Tx) error) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	cp := s.snapshot()
	if err := f(&tTx{data: cp}); err != nil {
		return err
	}
	s.data = cp
	return nil
}

func (s *tStore) Connect(_ context.Context) (*sync.WaitGroup, error) {
	return &sync.WaitGroup{}, nil
}

var (
	tCreator   = account.AccountID{0: 1}
	tAuthority = account.AccountID{0: 2}
	tSeller    = account.AccountID{0: 3}
	tBuyer     = account.AccountID{0: 4}
	tDelegate  = account.AccountID{0: 5}
	tFeeDest   = account.AccountID{0: 6}
)

type tRig struct {
	store     *tStore
	mkt       *Market
	houseAddr derive.Address
	assetMint derive.Address
}

// newTRig creates a market with a native-currency house and a seller holding
// assetSupply units of a fresh asset mint.
func newTRig(t *testing.T, p *HouseParams, assetSupply uint64) *tRig {
	t.Helper()
	store := newTStore()
	m := New(&Config{Store: store, RentExemptMin: tRentExemptMin, RentReserve: tRentReserve})

	if p == nil {
		p = &HouseParams{SellerFeeBasisPoints: 250}
	}
	p.Creator = tCreator
	p.Authority = tAuthority
	p.FeeWithdrawal = tFeeDest
	p.TreasuryWithdrawal = tFeeDest

	houseAddr, err := m.CreateHouse(p, account.NewSignerSet(tCreator))
	if err != nil {
		t.Fatalf("CreateHouse error: %v", err)
	}

	rig := &tRig{store: store, mkt: m, houseAddr: houseAddr}

	err = store.Update(func(tx db.Tx) error {
		mintAddr, _, err := token.MintKey(tCreator, []byte("artwork"))
		if err != nil {
			return err
		}
		rig.assetMint = mintAddr
		if err := token.SaveMint(tx, mintAddr, &token.Mint{Authority: tCreator}); err != nil {
			return err
		}
		sellerAcct, _, err := token.AccountKey(tSeller, mintAddr)
		if err != nil {
			return err
		}
		acct := &token.Account{Mint: mintAddr, Owner: tSeller, Amount: assetSupply}
		if err := token.SaveAccount(tx, sellerAcct, acct); err != nil {
			return err
		}
		// Native funding for rent reserves and purchases.
		if err := token.CreditNative(tx, tSeller[:], 10*tRentReserve); err != nil {
			return err
		}
		return token.CreditNative(tx, tBuyer[:], 100_000_000)
	})
	if err != nil {
		t.Fatalf("rig setup error: %v", err)
	}
	return rig
}

func (rig *tRig) ask(price, qty uint64, partial bool) *trade.Order {
	acctAddr, _, _ := token.AccountKey(tSeller, rig.assetMint)
	return &trade.Order{
		Side:         trade.AskSide,
		Wallet:       tSeller,
		House:        rig.houseAddr,
		TokenAccount: acctAddr,
		AssetMint:    rig.assetMint,
		Price:        price,
		Quantity:     qty,
		Partial:      partial,
	}
}

func (rig *tRig) bid(price, qty uint64, partial bool) *trade.Order {
	acctAddr, _, _ := token.AccountKey(tSeller, rig.assetMint)
	return &trade.Order{
		Side:         trade.BidSide,
		Wallet:       tBuyer,
		House:        rig.houseAddr,
		TokenAccount: acctAddr,
		AssetMint:    rig.assetMint,
		Price:        price,
		Quantity:     qty,
		Partial:      partial,
	}
}

func (rig *tRig) nativeBalance(t *testing.T, addr []byte) uint64 {
	t.Helper()
	var bal uint64
	err := rig.store.View(func(tx db.Tx) error {
		var err error
		bal, err = token.NativeBalance(tx, addr)
		return err
	})
	if err != nil {
		t.Fatalf("nativeBalance error: %v", err)
	}
	return bal
}

func (rig *tRig) tokenBalance(t *testing.T, owner account.AccountID) uint64 {
	return rig.mintBalance(t, owner, rig.assetMint)
}

func (rig *tRig) mintBalance(t *testing.T, owner account.AccountID, mint derive.Address) uint64 {
	t.Helper()
	acctAddr, _, err := token.AccountKey(owner, mint)
	if err != nil {
		t.Fatalf("AccountKey error: %v", err)
	}
	var amt uint64
	err = rig.store.View(func(tx db.Tx) error {
		acct, err := token.LoadAccount(tx, acctAddr)
		if db.SameErrorTypes(err, db.StoreError{Code: db.ErrUnknownTokenAccount}) {
			return nil
		}
		if err != nil {
			return err
		}
		amt = acct.Amount
		return nil
	})
	if err != nil {
		t.Fatalf("tokenBalance error: %v", err)
	}
	return amt
}

func TestCreateHouse(t *testing.T) {
	store := newTStore()
	m := New(&Config{Store: store, RentExemptMin: tRentExemptMin, RentReserve: tRentReserve})
	p := &HouseParams{Creator: tCreator, Authority: tAuthority, SellerFeeBasisPoints: 250}

	if _, err := m.CreateHouse(p, account.NewSignerSet()); !errors.Is(err, ErrSignatureRequired) {
		t.Fatalf("unsigned CreateHouse: error = %v, want ErrSignatureRequired", err)
	}

	houseAddr, err := m.CreateHouse(p, account.NewSignerSet(tCreator))
	if err != nil {
		t.Fatalf("CreateHouse error: %v", err)
	}
	h, err := m.House(houseAddr)
	if err != nil {
		t.Fatalf("House error: %v", err)
	}
	if h.Creator != tCreator || h.Authority != tAuthority || h.SellerFeeBasisPoints != 250 {
		t.Fatalf("house record = %+v", h)
	}
	if h.FeeAccount.IsZero() || h.Treasury.IsZero() {
		t.Fatal("sub-accounts not derived")
	}

	// One house per (creator, currency mint).
	if _, err := m.CreateHouse(p, account.NewSignerSet(tCreator)); !errors.Is(err, ErrHouseMismatch) {
		t.Fatalf("duplicate CreateHouse: error = %v, want ErrHouseMismatch", err)
	}

	// Out-of-range fee.
	bad := &HouseParams{Creator: tSeller, SellerFeeBasisPoints: 10_001}
	if _, err := m.CreateHouse(bad, account.NewSignerSet(tSeller)); err == nil {
		t.Fatal("CreateHouse accepted an out-of-range fee")
	}
}

func TestUpdateHouse(t *testing.T) {
	rig := newTRig(t, nil, 1)
	u := &HouseUpdate{
		Authority:            tAuthority,
		FeeWithdrawal:        tFeeDest,
		TreasuryWithdrawal:   tFeeDest,
		SellerFeeBasisPoints: 500,
		RequiresSignOff:      true,
	}

	if err := rig.mkt.UpdateHouse(rig.houseAddr, u, account.NewSignerSet(tSeller)); !errors.Is(err, house.ErrInvalidAuthority) {
		t.Fatalf("UpdateHouse by non-authority: error = %v", err)
	}
	if err := rig.mkt.UpdateHouse(rig.houseAddr, u, account.NewSignerSet(tAuthority)); err != nil {
		t.Fatalf("UpdateHouse error: %v", err)
	}
	h, err := rig.mkt.House(rig.houseAddr)
	if err != nil {
		t.Fatalf("House error: %v", err)
	}
	if h.SellerFeeBasisPoints != 500 || !h.RequiresSignOff {
		t.Fatalf("update not applied: %+v", h)
	}
	if h.Creator != tCreator {
		t.Fatal("update changed the creator")
	}
}

func TestDepositWithdraw(t *testing.T) {
	rig := newTRig(t, nil, 1)
	signers := account.NewSignerSet(tBuyer)

	if err := rig.mkt.Deposit(rig.houseAddr, tBuyer, 5000, Direct(), account.NewSignerSet()); !errors.Is(err, ErrSignatureRequired) {
		t.Fatalf("unsigned Deposit: error = %v", err)
	}
	if err := rig.mkt.Deposit(rig.houseAddr, tBuyer, 5000, Direct(), signers); err != nil {
		t.Fatalf("Deposit error: %v", err)
	}
	bal, err := rig.mkt.EscrowBalance(rig.houseAddr, tBuyer)
	if err != nil || bal != 5000 {
		t.Fatalf("EscrowBalance = (%d, %v), want 5000", bal, err)
	}

	if err := rig.mkt.Withdraw(rig.houseAddr, tBuyer, 2000, Direct(), account.NewSignerSet()); !errors.Is(err, ErrSignatureRequired) {
		t.Fatalf("unsigned Withdraw: error = %v", err)
	}
	if err := rig.mkt.Withdraw(rig.houseAddr, tBuyer, 5000-tRentExemptMin+1, Direct(), signers); !errors.Is(err, escrow.ErrUnderRentExemption) {
		t.Fatalf("under-exemption Withdraw: error = %v", err)
	}
	if err := rig.mkt.Withdraw(rig.houseAddr, tBuyer, 5000, Direct(), signers); err != nil {
		t.Fatalf("drain Withdraw error: %v", err)
	}
	if bal, _ = rig.mkt.EscrowBalance(rig.houseAddr, tBuyer); bal != 0 {
		t.Fatalf("EscrowBalance after drain = %d", bal)
	}
}

func TestSellBuyExecute(t *testing.T) {
	const price, qty = 1_000_000, 1
	rig := newTRig(t, nil, qty) // 250 bps

	ask := rig.ask(price, qty, false)
	if err := rig.mkt.Sell(rig.houseAddr, ask, Direct(), account.NewSignerSet()); !errors.Is(err, ErrSignatureRequired) {
		t.Fatalf("unsigned Sell: error = %v", err)
	}
	if err := rig.mkt.Sell(rig.houseAddr, rig.bid(price, qty, false), Direct(), account.NewSignerSet(tSeller)); !errors.Is(err, ErrWrongSide) {
		t.Fatalf("Sell with a bid: error = %v, want ErrWrongSide", err)
	}
	if err := rig.mkt.Sell(rig.houseAddr, ask, Direct(), account.NewSignerSet(tSeller)); err != nil {
		t.Fatalf("Sell error: %v", err)
	}
	open, remaining, err := rig.mkt.OrderStatus(ask)
	if err != nil || !open || remaining != qty {
		t.Fatalf("ask status = (%v, %d, %v)", open, remaining, err)
	}

	// The listing put a standing delegation on the seller's holding.
	err = rig.store.View(func(tx db.Tx) error {
		acct, err := token.LoadAccount(tx, ask.TokenAccount)
		if err != nil {
			return err
		}
		if acct.Delegate.IsZero() || acct.DelegatedAmount != qty {
			t.Fatalf("no standing delegation after Sell: %+v", acct)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View error: %v", err)
	}

	// Re-issuing the identical ask is idempotent.
	if err := rig.mkt.Sell(rig.houseAddr, rig.ask(price, qty, false), Direct(), account.NewSignerSet(tSeller)); err != nil {
		t.Fatalf("repeat Sell error: %v", err)
	}

	bid := rig.bid(price, qty, false)
	if err := rig.mkt.Buy(rig.houseAddr, bid, Direct(), account.NewSignerSet()); !errors.Is(err, ErrSignatureRequired) {
		t.Fatalf("unsigned Buy: error = %v", err)
	}
	if err := rig.mkt.Buy(rig.houseAddr, bid, Direct(), account.NewSignerSet(tBuyer)); err != nil {
		t.Fatalf("Buy error: %v", err)
	}
	// Buy committed the full bid total to escrow.
	bal, err := rig.mkt.EscrowBalance(rig.houseAddr, tBuyer)
	if err != nil || bal != price*qty {
		t.Fatalf("escrow after Buy = (%d, %v), want %d", bal, err, price*qty)
	}

	sellerBefore := rig.nativeBalance(t, tSeller[:])
	if err := rig.mkt.ExecuteSale(rig.houseAddr, bid, ask, price, qty, Direct(), account.NewSignerSet()); err != nil {
		t.Fatalf("ExecuteSale error: %v", err)
	}

	// The asset moved.
	if got := rig.tokenBalance(t, tBuyer); got != qty {
		t.Fatalf("buyer asset balance = %d, want %d", got, qty)
	}
	if got := rig.tokenBalance(t, tSeller); got != 0 {
		t.Fatalf("seller asset balance = %d, want 0", got)
	}

	// Proceeds split: 250 bps of 1,000,000.
	h, _ := rig.mkt.House(rig.houseAddr)
	if fee := rig.nativeBalance(t, h.FeeAccount[:]); fee != 25_000 {
		t.Fatalf("fee account = %d, want 25000", fee)
	}
	// The seller got the net proceeds plus the returned rent reserve.
	sellerAfter := rig.nativeBalance(t, tSeller[:])
	if sellerAfter != sellerBefore+975_000+tRentReserve {
		t.Fatalf("seller native balance = %d, want %d", sellerAfter, sellerBefore+975_000+tRentReserve)
	}

	// Escrow was drained and both trade states closed.
	if bal, _ = rig.mkt.EscrowBalance(rig.houseAddr, tBuyer); bal != 0 {
		t.Fatalf("buyer escrow after sale = %d", bal)
	}
	if open, _, _ := rig.mkt.OrderStatus(ask); open {
		t.Fatal("ask still open after full settlement")
	}
	if open, _, _ := rig.mkt.OrderStatus(bid); open {
		t.Fatal("bid still open after full settlement")
	}

	// Settled states cannot be executed again.
	err = rig.mkt.ExecuteSale(rig.houseAddr, bid, ask, price, qty, Direct(), account.NewSignerSet())
	if !errors.Is(err, trade.ErrTradeStateClosed) {
		t.Fatalf("re-execution: error = %v, want ErrTradeStateClosed", err)
	}
}

// A token-currency house must settle its fees and proceeds in the house
// currency, never in the native currency the rent reserves are paid in.
func TestTokenCurrencyExecution(t *testing.T) {
	currency, _, err := token.MintKey(tCreator, []byte("credits"))
	if err != nil {
		t.Fatalf("MintKey error: %v", err)
	}
	rig := newTRig(t, &HouseParams{SellerFeeBasisPoints: 250, CurrencyMint: currency}, 1)

	// Seed the currency mint and the buyer's funding account for it.
	const buyerFunding = 10_000_000
	err = rig.store.Update(func(tx db.Tx) error {
		if err := token.SaveMint(tx, currency, &token.Mint{Authority: tCreator}); err != nil {
			return err
		}
		buyerAcct, _, err := token.AccountKey(tBuyer, currency)
		if err != nil {
			return err
		}
		acct := &token.Account{Mint: currency, Owner: tBuyer, Amount: buyerFunding}
		return token.SaveAccount(tx, buyerAcct, acct)
	})
	if err != nil {
		t.Fatalf("currency setup error: %v", err)
	}

	const price, qty = 1_000_000, 1
	ask := rig.ask(price, qty, false)
	ask.CurrencyMint = currency
	bid := rig.bid(price, qty, false)
	bid.CurrencyMint = currency

	if err := rig.mkt.Sell(rig.houseAddr, ask, Direct(), account.NewSignerSet(tSeller)); err != nil {
		t.Fatalf("Sell error: %v", err)
	}
	if err := rig.mkt.Buy(rig.houseAddr, bid, Direct(), account.NewSignerSet(tBuyer)); err != nil {
		t.Fatalf("Buy error: %v", err)
	}
	// Buy pulled the bid total from the buyer's currency account.
	if got := rig.mintBalance(t, tBuyer, currency); got != buyerFunding-price {
		t.Fatalf("buyer currency balance after Buy = %d, want %d", got, buyerFunding-price)
	}

	sellerNativeBefore := rig.nativeBalance(t, tSeller[:])
	if err := rig.mkt.ExecuteSale(rig.houseAddr, bid, ask, price, qty, Direct(), account.NewSignerSet()); err != nil {
		t.Fatalf("ExecuteSale error: %v", err)
	}

	// The asset moved, and the 250 bps split landed in currency tokens.
	if got := rig.tokenBalance(t, tBuyer); got != qty {
		t.Fatalf("buyer asset balance = %d, want %d", got, qty)
	}
	h, _ := rig.mkt.House(rig.houseAddr)
	if fee := rig.mintBalance(t, account.AccountID(h.FeeAccount), currency); fee != 25_000 {
		t.Fatalf("fee account currency balance = %d, want 25000", fee)
	}
	if got := rig.mintBalance(t, tSeller, currency); got != 975_000 {
		t.Fatalf("seller currency balance = %d, want 975000", got)
	}

	// No native value was created: the seller's native balance moved only by
	// the returned rent reserve, and the fee account holds no native at all.
	if fee := rig.nativeBalance(t, h.FeeAccount[:]); fee != 0 {
		t.Fatalf("fee account native balance = %d, want 0", fee)
	}
	if got := rig.nativeBalance(t, tSeller[:]); got != sellerNativeBefore+tRentReserve {
		t.Fatalf("seller native balance = %d, want %d", got, sellerNativeBefore+tRentReserve)
	}

	// The authority fee withdrawal pays out in the house currency too.
	if err := rig.mkt.WithdrawFromFee(rig.houseAddr, 25_000, account.NewSignerSet(tAuthority)); err != nil {
		t.Fatalf("WithdrawFromFee error: %v", err)
	}
	if got := rig.mintBalance(t, tFeeDest, currency); got != 25_000 {
		t.Fatalf("fee destination currency balance = %d, want 25000", got)
	}
}

func TestPartialFill(t *testing.T) {
	rig := newTRig(t, &HouseParams{}, 10) // no fee

	// A partial-capable bid for 10 units crosses an ask for 4.
	ask := rig.ask(100, 4, false)
	if err := rig.mkt.Sell(rig.houseAddr, ask, Direct(), account.NewSignerSet(tSeller)); err != nil {
		t.Fatalf("Sell error: %v", err)
	}
	bid := rig.bid(100, 10, true)
	if err := rig.mkt.Buy(rig.houseAddr, bid, Direct(), account.NewSignerSet(tBuyer)); err != nil {
		t.Fatalf("Buy error: %v", err)
	}

	if err := rig.mkt.ExecuteSale(rig.houseAddr, bid, ask, 100, 4, Direct(), account.NewSignerSet()); err != nil {
		t.Fatalf("ExecuteSale error: %v", err)
	}

	// The ask settled fully; the bid remains open with 6 units.
	if open, _, _ := rig.mkt.OrderStatus(ask); open {
		t.Fatal("ask still open")
	}
	open, remaining, err := rig.mkt.OrderStatus(bid)
	if err != nil || !open || remaining != 6 {
		t.Fatalf("bid status = (%v, %d, %v), want (true, 6)", open, remaining, err)
	}
	if got := rig.tokenBalance(t, tBuyer); got != 4 {
		t.Fatalf("buyer asset balance = %d, want 4", got)
	}

	// Only the executed portion left escrow.
	bal, _ := rig.mkt.EscrowBalance(rig.houseAddr, tBuyer)
	if bal != 600 {
		t.Fatalf("buyer escrow = %d, want 600", bal)
	}
}

func TestPartialRejections(t *testing.T) {
	rig := newTRig(t, &HouseParams{}, 10)

	ask := rig.ask(100, 4, false)
	if err := rig.mkt.Sell(rig.houseAddr, ask, Direct(), account.NewSignerSet(tSeller)); err != nil {
		t.Fatalf("Sell error: %v", err)
	}

	// The bid does not permit partial fills, so a 4-unit execution against a
	// 10-unit bid fails.
	rigid := rig.bid(100, 10, false)
	if err := rig.mkt.Buy(rig.houseAddr, rigid, Direct(), account.NewSignerSet(tBuyer)); err != nil {
		t.Fatalf("Buy error: %v", err)
	}
	err := rig.mkt.ExecuteSale(rig.houseAddr, rigid, ask, 100, 4, Direct(), account.NewSignerSet())
	if !errors.Is(err, ErrPartialUnsupported) {
		t.Fatalf("rigid bid partial: error = %v, want ErrPartialUnsupported", err)
	}

	// Execution above the remaining quantity fails.
	err = rig.mkt.ExecuteSale(rig.houseAddr, rigid, ask, 100, 5, Direct(), account.NewSignerSet())
	if !errors.Is(err, trade.ErrNotEnoughRemaining) {
		t.Fatalf("over-quantity execution: error = %v, want ErrNotEnoughRemaining", err)
	}

	// The execution price must match the ask exactly.
	err = rig.mkt.ExecuteSale(rig.houseAddr, rigid, ask, 99, 4, Direct(), account.NewSignerSet())
	if !errors.Is(err, ErrPartialPriceMismatch) {
		t.Fatalf("price mismatch: error = %v, want ErrPartialPriceMismatch", err)
	}
}

func TestPublicBid(t *testing.T) {
	rig := newTRig(t, &HouseParams{}, 1)

	ask := rig.ask(100, 1, false)
	if err := rig.mkt.Sell(rig.houseAddr, ask, Direct(), account.NewSignerSet(tSeller)); err != nil {
		t.Fatalf("Sell error: %v", err)
	}

	// A public bid names no holding account and may bid above the ask.
	pub := rig.bid(150, 1, false)
	pub.TokenAccount = derive.Address{}
	if err := rig.mkt.Buy(rig.houseAddr, pub, Direct(), account.NewSignerSet(tBuyer)); err != nil {
		t.Fatalf("public Buy error: %v", err)
	}
	if err := rig.mkt.ExecuteSale(rig.houseAddr, pub, ask, 100, 1, Direct(), account.NewSignerSet()); err != nil {
		t.Fatalf("public ExecuteSale error: %v", err)
	}

	// Only the execution total left escrow; the overbid remains.
	bal, _ := rig.mkt.EscrowBalance(rig.houseAddr, tBuyer)
	if bal != 50 {
		t.Fatalf("buyer escrow = %d, want 50", bal)
	}
	if got := rig.tokenBalance(t, tBuyer); got != 1 {
		t.Fatalf("buyer asset balance = %d, want 1", got)
	}
}

func TestZeroPriceAskSigners(t *testing.T) {
	tests := []struct {
		name               string
		canChangeSalePrice bool
		signers            []account.AccountID
		wantErr            error
	}{
		{"wallet only", true, []account.AccountID{tSeller}, nil},
		{"authority only, empowered", true, []account.AccountID{tAuthority}, nil},
		{"authority only, not empowered", false, []account.AccountID{tAuthority}, ErrSaleRequiresSigner},
		{"neither", true, nil, ErrSaleRequiresSigner},
		{"both", true, []account.AccountID{tSeller, tAuthority}, ErrSaleRequiresSigner},
	}
	for _, test := range tests {
		rig := newTRig(t, &HouseParams{CanChangeSalePrice: test.canChangeSalePrice}, 1)
		ask := rig.ask(0, 1, false)
		err := rig.mkt.Sell(rig.houseAddr, ask, Direct(), account.NewSignerSet(test.signers...))
		if !errors.Is(err, test.wantErr) {
			t.Fatalf("%s: error = %v, want %v", test.name, err, test.wantErr)
		}
	}
}

func TestZeroPriceExecution(t *testing.T) {
	rig := newTRig(t, &HouseParams{CanChangeSalePrice: true}, 1)

	ask := rig.ask(0, 1, false)
	if err := rig.mkt.Sell(rig.houseAddr, ask, Direct(), account.NewSignerSet(tSeller)); err != nil {
		t.Fatalf("Sell error: %v", err)
	}
	bid := rig.bid(0, 1, false)
	if err := rig.mkt.Buy(rig.houseAddr, bid, Direct(), account.NewSignerSet(tBuyer)); err != nil {
		t.Fatalf("Buy error: %v", err)
	}

	// A free sale still requires the seller or the authority to sign off.
	err := rig.mkt.ExecuteSale(rig.houseAddr, bid, ask, 0, 1, Direct(), account.NewSignerSet(tBuyer))
	if !errors.Is(err, ErrSaleRequiresSigner) {
		t.Fatalf("free sale without sign-off: error = %v, want ErrSaleRequiresSigner", err)
	}
	err = rig.mkt.ExecuteSale(rig.houseAddr, bid, ask, 0, 1, Direct(), account.NewSignerSet(tAuthority))
	if err != nil {
		t.Fatalf("authority-signed free sale error: %v", err)
	}
	if got := rig.tokenBalance(t, tBuyer); got != 1 {
		t.Fatalf("buyer asset balance = %d, want 1", got)
	}
}

func TestRequiresSignOff(t *testing.T) {
	rig := newTRig(t, &HouseParams{RequiresSignOff: true}, 2)

	ask := rig.ask(100, 1, false)
	if err := rig.mkt.Sell(rig.houseAddr, ask, Direct(), account.NewSignerSet(tSeller)); err != nil {
		t.Fatalf("Sell error: %v", err)
	}
	bid := rig.bid(100, 1, false)
	if err := rig.mkt.Buy(rig.houseAddr, bid, Direct(), account.NewSignerSet(tBuyer)); err != nil {
		t.Fatalf("Buy error: %v", err)
	}

	err := rig.mkt.ExecuteSale(rig.houseAddr, bid, ask, 100, 1, Direct(), account.NewSignerSet())
	if !errors.Is(err, ErrSignatureRequired) {
		t.Fatalf("sale without authority sign-off: error = %v", err)
	}
	// One party alone cannot stand in for the authority.
	err = rig.mkt.ExecuteSale(rig.houseAddr, bid, ask, 100, 1, Direct(), account.NewSignerSet(tSeller))
	if !errors.Is(err, ErrSignatureRequired) {
		t.Fatalf("seller-only sale: error = %v", err)
	}
	err = rig.mkt.ExecuteSale(rig.houseAddr, bid, ask, 100, 1, Direct(), account.NewSignerSet(tAuthority))
	if err != nil {
		t.Fatalf("authority-signed sale error: %v", err)
	}

	// Both trading parties together may sign off without the authority.
	ask2 := rig.ask(200, 1, false)
	if err := rig.mkt.Sell(rig.houseAddr, ask2, Direct(), account.NewSignerSet(tSeller)); err != nil {
		t.Fatalf("second Sell error: %v", err)
	}
	bid2 := rig.bid(200, 1, false)
	if err := rig.mkt.Buy(rig.houseAddr, bid2, Direct(), account.NewSignerSet(tBuyer)); err != nil {
		t.Fatalf("second Buy error: %v", err)
	}
	err = rig.mkt.ExecuteSale(rig.houseAddr, bid2, ask2, 200, 1, Direct(), account.NewSignerSet(tSeller, tBuyer))
	if err != nil {
		t.Fatalf("party-signed sale error: %v", err)
	}
}

func TestProceedsToEscrow(t *testing.T) {
	rig := newTRig(t, &HouseParams{ProceedsToEscrow: true}, 1)

	ask := rig.ask(100_000, 1, false)
	if err := rig.mkt.Sell(rig.houseAddr, ask, Direct(), account.NewSignerSet(tSeller)); err != nil {
		t.Fatalf("Sell error: %v", err)
	}
	bid := rig.bid(100_000, 1, false)
	if err := rig.mkt.Buy(rig.houseAddr, bid, Direct(), account.NewSignerSet(tBuyer)); err != nil {
		t.Fatalf("Buy error: %v", err)
	}
	sellerBefore := rig.nativeBalance(t, tSeller[:])
	if err := rig.mkt.ExecuteSale(rig.houseAddr, bid, ask, 100_000, 1, Direct(), account.NewSignerSet()); err != nil {
		t.Fatalf("ExecuteSale error: %v", err)
	}

	// Net proceeds landed in the seller's escrow, not the funding account.
	bal, err := rig.mkt.EscrowBalance(rig.houseAddr, tSeller)
	if err != nil || bal != 100_000 {
		t.Fatalf("seller escrow = (%d, %v), want 100000", bal, err)
	}
	sellerAfter := rig.nativeBalance(t, tSeller[:])
	if sellerAfter != sellerBefore+tRentReserve {
		t.Fatalf("seller funding balance = %d, want only the returned reserve", sellerAfter)
	}
}

func TestCancel(t *testing.T) {
	rig := newTRig(t, nil, 1)

	ask := rig.ask(100, 1, false)
	if err := rig.mkt.Sell(rig.houseAddr, ask, Direct(), account.NewSignerSet(tSeller)); err != nil {
		t.Fatalf("Sell error: %v", err)
	}

	if err := rig.mkt.Cancel(rig.houseAddr, ask, Direct(), account.NewSignerSet()); !errors.Is(err, ErrSignatureRequired) {
		t.Fatalf("unsigned Cancel: error = %v", err)
	}
	if err := rig.mkt.Cancel(rig.houseAddr, ask, Direct(), account.NewSignerSet(tSeller)); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if open, _, _ := rig.mkt.OrderStatus(ask); open {
		t.Fatal("ask still open after Cancel")
	}

	// The standing delegation was revoked.
	err := rig.store.View(func(tx db.Tx) error {
		acct, err := token.LoadAccount(tx, ask.TokenAccount)
		if err != nil {
			return err
		}
		if !acct.Delegate.IsZero() || acct.DelegatedAmount != 0 {
			t.Fatalf("delegation survived Cancel: %+v", acct)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View error: %v", err)
	}

	if err := rig.mkt.Cancel(rig.houseAddr, ask, Direct(), account.NewSignerSet(tSeller)); !errors.Is(err, trade.ErrTradeStateClosed) {
		t.Fatalf("double Cancel: error = %v", err)
	}

	// The house authority may also cancel.
	bid := rig.bid(100, 1, false)
	if err := rig.mkt.Buy(rig.houseAddr, bid, Direct(), account.NewSignerSet(tBuyer)); err != nil {
		t.Fatalf("Buy error: %v", err)
	}
	if err := rig.mkt.Cancel(rig.houseAddr, bid, Direct(), account.NewSignerSet(tAuthority)); err != nil {
		t.Fatalf("authority Cancel error: %v", err)
	}
}

func TestDelegation(t *testing.T) {
	rig := newTRig(t, nil, 1)

	caps := []scope.Capability{scope.CapDeposit, scope.CapWithdraw}
	err := rig.mkt.GrantScope(rig.houseAddr, tDelegate, caps, account.NewSignerSet(tSeller))
	if !errors.Is(err, house.ErrInvalidAuthority) {
		t.Fatalf("GrantScope by non-authority: error = %v", err)
	}
	if err := rig.mkt.GrantScope(rig.houseAddr, tDelegate, caps, account.NewSignerSet(tAuthority)); err != nil {
		t.Fatalf("GrantScope error: %v", err)
	}

	// The direct path is closed once the house is delegate-handled.
	err = rig.mkt.Deposit(rig.houseAddr, tBuyer, 5000, Direct(), account.NewSignerSet(tBuyer))
	if !errors.Is(err, ErrMustUseDelegateHandler) {
		t.Fatalf("direct Deposit on delegated house: error = %v", err)
	}

	scopeAddr, _, err := scope.Key(rig.houseAddr, tDelegate)
	if err != nil {
		t.Fatalf("scope.Key error: %v", err)
	}
	actor := Delegated(tDelegate, scopeAddr)

	// The delegate must itself sign.
	err = rig.mkt.Deposit(rig.houseAddr, tBuyer, 5000, actor, account.NewSignerSet(tBuyer))
	if !errors.Is(err, ErrSignatureRequired) {
		t.Fatalf("delegate did not sign: error = %v", err)
	}
	// The depositing wallet must still sign.
	err = rig.mkt.Deposit(rig.houseAddr, tBuyer, 5000, actor, account.NewSignerSet(tDelegate))
	if !errors.Is(err, ErrSignatureRequired) {
		t.Fatalf("wallet did not sign: error = %v", err)
	}
	err = rig.mkt.Deposit(rig.houseAddr, tBuyer, 5000, actor, account.NewSignerSet(tDelegate, tBuyer))
	if err != nil {
		t.Fatalf("delegated Deposit error: %v", err)
	}

	// Withdraw under delegation does not require the wallet signature.
	err = rig.mkt.Withdraw(rig.houseAddr, tBuyer, 5000, actor, account.NewSignerSet(tDelegate))
	if err != nil {
		t.Fatalf("delegated Withdraw error: %v", err)
	}

	// An ungranted capability is rejected at the gate.
	ask := rig.ask(100, 1, false)
	err = rig.mkt.Sell(rig.houseAddr, ask, actor, account.NewSignerSet(tDelegate, tSeller))
	if !errors.Is(err, scope.ErrMissingScope) {
		t.Fatalf("ungranted Sell: error = %v, want ErrMissingScope", err)
	}
}

func TestExecuteAtomicity(t *testing.T) {
	rig := newTRig(t, nil, 1)

	ask := rig.ask(1_000_000, 1, false)
	if err := rig.mkt.Sell(rig.houseAddr, ask, Direct(), account.NewSignerSet(tSeller)); err != nil {
		t.Fatalf("Sell error: %v", err)
	}
	bid := rig.bid(1_000_000, 1, false)
	if err := rig.mkt.Buy(rig.houseAddr, bid, Direct(), account.NewSignerSet(tBuyer)); err != nil {
		t.Fatalf("Buy error: %v", err)
	}

	// Drain the buyer's escrow behind the market's back so the sale debit
	// fails after all the checks put the operation well underway.
	err := rig.store.Update(func(tx db.Tx) error {
		ledger := escrow.New(tRentExemptMin)
		return ledger.DebitForSale(tx, rig.houseAddr, tBuyer, 1_000_000)
	})
	if err != nil {
		t.Fatalf("drain error: %v", err)
	}

	err = rig.mkt.ExecuteSale(rig.houseAddr, bid, ask, 1_000_000, 1, Direct(), account.NewSignerSet())
	if !errors.Is(err, escrow.ErrInsufficientFunds) {
		t.Fatalf("underfunded execution: error = %v", err)
	}

	// Nothing moved: the asset is still the seller's, both states open.
	if got := rig.tokenBalance(t, tSeller); got != 1 {
		t.Fatalf("seller asset balance = %d, want 1", got)
	}
	if got := rig.tokenBalance(t, tBuyer); got != 0 {
		t.Fatalf("buyer asset balance = %d, want 0", got)
	}
	if open, _, _ := rig.mkt.OrderStatus(ask); !open {
		t.Fatal("ask closed by a failed execution")
	}
	if open, _, _ := rig.mkt.OrderStatus(bid); !open {
		t.Fatal("bid closed by a failed execution")
	}
	h, _ := rig.mkt.House(rig.houseAddr)
	if fee := rig.nativeBalance(t, h.FeeAccount[:]); fee != 0 {
		t.Fatalf("fee account credited by a failed execution: %d", fee)
	}
}

func TestHouseWithdrawals(t *testing.T) {
	rig := newTRig(t, nil, 1)
	h, _ := rig.mkt.House(rig.houseAddr)

	// Seed the fee account and treasury.
	err := rig.store.Update(func(tx db.Tx) error {
		if err := token.CreditNative(tx, h.FeeAccount[:], 700); err != nil {
			return err
		}
		return token.CreditNative(tx, h.Treasury[:], 300)
	})
	if err != nil {
		t.Fatalf("seed error: %v", err)
	}

	if err := rig.mkt.WithdrawFromFee(rig.houseAddr, 700, account.NewSignerSet(tSeller)); !errors.Is(err, house.ErrInvalidAuthority) {
		t.Fatalf("WithdrawFromFee by non-authority: error = %v", err)
	}
	if err := rig.mkt.WithdrawFromFee(rig.houseAddr, 700, account.NewSignerSet(tAuthority)); err != nil {
		t.Fatalf("WithdrawFromFee error: %v", err)
	}
	if err := rig.mkt.WithdrawFromTreasury(rig.houseAddr, 300, account.NewSignerSet(tAuthority)); err != nil {
		t.Fatalf("WithdrawFromTreasury error: %v", err)
	}
	if bal := rig.nativeBalance(t, tFeeDest[:]); bal != 1000 {
		t.Fatalf("withdrawal destination = %d, want 1000", bal)
	}
	if err := rig.mkt.WithdrawFromFee(rig.houseAddr, 1, account.NewSignerSet(tAuthority)); !errors.Is(err, token.ErrNotEnoughTokens) {
		t.Fatalf("overdrawn WithdrawFromFee: error = %v", err)
	}
}
