// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package rpc

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"vendue.org/vendue/mkt/msg"
	"vendue.org/vendue/server/account"
	"vendue.org/vendue/server/db"
	"vendue.org/vendue/server/derive"
	"vendue.org/vendue/server/escrow"
	"vendue.org/vendue/server/house"
	"vendue.org/vendue/server/market"
	"vendue.org/vendue/server/scope"
	"vendue.org/vendue/server/token"
	"vendue.org/vendue/server/trade"
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

// tStore is an in-memory db.Store that commits Update mutations only on
// success.
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

// tLink is a Link that captures sent messages.
type tLink struct {
	id       uint64
	sent     []*msg.Message
	banished bool
}

func (l *tLink) ID() uint64 { return l.id }

func (l *tLink) Send(m *msg.Message) error {
	l.sent = append(l.sent, m)
	return nil
}

func (l *tLink) Banish() { l.banished = true }

// lastResponse decodes the most recently captured response payload.
func (l *tLink) lastResponse(t *testing.T) *msg.ResponsePayload {
	t.Helper()
	if len(l.sent) == 0 {
		t.Fatal("no message sent on the link")
	}
	resp, err := l.sent[len(l.sent)-1].Response()
	if err != nil {
		t.Fatalf("Response error: %v", err)
	}
	return resp
}

func TestHandleMessage(t *testing.T) {
	link := &wsLink{}

	note, _ := msg.NewNotification(msg.HouseRoute, nil)
	if msgErr := handleMessage(link, note); msgErr == nil || msgErr.Code != msg.UnknownMessageType {
		t.Fatalf("notification: error = %v, want UnknownMessageType", msgErr)
	}

	zeroID := &msg.Message{Type: msg.Request, Route: msg.HouseRoute}
	if msgErr := handleMessage(link, zeroID); msgErr == nil || msgErr.Code != msg.RPCParseError {
		t.Fatalf("zero id: error = %v, want RPCParseError", msgErr)
	}

	req, _ := msg.NewRequest(1, "no_such_route", nil)
	if msgErr := handleMessage(link, req); msgErr == nil || msgErr.Code != msg.RPCUnknownRoute {
		t.Fatalf("unknown route: error = %v, want RPCUnknownRoute", msgErr)
	}
}

// request builds a request message and dispatches it to the registered route
// handler, failing the test on any protocol-level error.
func request(t *testing.T, link *tLink, route string, payload interface{}) {
	t.Helper()
	m, err := msg.NewRequest(1, route, payload)
	if err != nil {
		t.Fatalf("NewRequest error: %v", err)
	}
	handler := RouteHandler(route)
	if handler == nil {
		t.Fatalf("no handler registered for %q", route)
	}
	if msgErr := handler(link, m); msgErr != nil {
		t.Fatalf("%s handler error: %v", route, msgErr)
	}
}

func TestRoutes(t *testing.T) {
	store := newTStore()
	core := market.New(&market.Config{Store: store, RentExemptMin: 1000, RentReserve: 500})
	RegisterRoutes(core)

	creator := account.AccountID{0: 1}
	authority := account.AccountID{0: 2}
	seller := account.AccountID{0: 3}
	link := &tLink{id: 1}

	// Create a house.
	request(t, link, msg.CreateHouseRoute, &msg.CreateHouse{
		Creator:              creator[:],
		Authority:            authority[:],
		FeeWithdrawal:        authority[:],
		TreasuryWithdrawal:   authority[:],
		SellerFeeBasisPoints: 250,
		Signers:              []msg.Bytes{creator[:]},
	})
	createRes := new(msg.CreateHouseResult)
	if err := link.sent[len(link.sent)-1].UnmarshalResult(createRes); err != nil {
		t.Fatalf("UnmarshalResult error: %v", err)
	}
	if len(createRes.House) != derive.AddressSize {
		t.Fatalf("house address length = %d", len(createRes.House))
	}
	houseBytes := createRes.House

	// Query it back.
	request(t, link, msg.HouseRoute, &msg.HouseQuery{House: houseBytes})
	houseRes := new(msg.HouseResult)
	if err := link.sent[len(link.sent)-1].UnmarshalResult(houseRes); err != nil {
		t.Fatalf("UnmarshalResult error: %v", err)
	}
	if !bytes.Equal(houseRes.Creator, creator[:]) || houseRes.SellerFeeBasisPoints != 250 {
		t.Fatalf("house result = %+v", houseRes)
	}

	// A deposit without the wallet's signature comes back as an in-response
	// coded error, not a protocol failure.
	request(t, link, msg.DepositRoute, &msg.EscrowTransfer{
		House:  houseBytes,
		Wallet: seller[:],
		Amount: 5000,
	})
	if resp := link.lastResponse(t); resp.Error == nil || resp.Error.Code != msg.SignatureError {
		t.Fatalf("unsigned deposit response error = %v", resp.Error)
	}

	// Fund the seller and deposit for real.
	err := store.Update(func(tx db.Tx) error {
		return token.CreditNative(tx, seller[:], 10_000)
	})
	if err != nil {
		t.Fatalf("funding error: %v", err)
	}
	request(t, link, msg.DepositRoute, &msg.EscrowTransfer{
		House:   houseBytes,
		Wallet:  seller[:],
		Amount:  5000,
		Signers: []msg.Bytes{seller[:]},
	})
	if resp := link.lastResponse(t); resp.Error != nil {
		t.Fatalf("deposit response error = %v", resp.Error)
	}

	request(t, link, msg.EscrowBalanceRoute, &msg.EscrowBalanceQuery{House: houseBytes, Wallet: seller[:]})
	balRes := new(msg.EscrowBalanceResult)
	if err := link.sent[len(link.sent)-1].UnmarshalResult(balRes); err != nil {
		t.Fatalf("UnmarshalResult error: %v", err)
	}
	if balRes.Balance != 5000 {
		t.Fatalf("balance = %d, want 5000", balRes.Balance)
	}

	// An unknown house maps to a state error.
	var bogus derive.Address
	bogus[0] = 0xff
	request(t, link, msg.HouseRoute, &msg.HouseQuery{House: bogus[:]})
	if resp := link.lastResponse(t); resp.Error == nil || resp.Error.Code != msg.StateError {
		t.Fatalf("unknown house response error = %v", resp.Error)
	}

	// Malformed arguments are protocol errors, returned rather than sent.
	m, _ := msg.NewRequest(2, msg.HouseRoute, &msg.HouseQuery{House: msg.Bytes{1, 2, 3}})
	if msgErr := RouteHandler(msg.HouseRoute)(link, m); msgErr == nil || msgErr.Code != msg.ArgumentError {
		t.Fatalf("short address: error = %v, want ArgumentError", msgErr)
	}
	m, _ = msg.NewRequest(3, msg.SellRoute, &msg.Trade{
		House: houseBytes,
		Order: msg.Order{Side: "sideways", Wallet: seller[:], House: houseBytes, AssetMint: bogus[:]},
	})
	if msgErr := RouteHandler(msg.SellRoute)(link, m); msgErr == nil || msgErr.Code != msg.ArgumentError {
		t.Fatalf("bad side: error = %v, want ArgumentError", msgErr)
	}
}

func TestCodedError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{market.ErrSignatureRequired, msg.SignatureError},
		{market.ErrSaleRequiresSigner, msg.SignatureError},
		{house.ErrInvalidAuthority, msg.AuthorizationError},
		{market.ErrMustUseDelegateHandler, msg.AuthorizationError},
		{scope.ErrMissingScope, msg.AuthorizationError},
		{market.ErrHouseMismatch, msg.HouseError},
		{escrow.ErrInsufficientFunds, msg.EscrowError},
		{escrow.ErrUnderRentExemption, msg.EscrowError},
		{trade.ErrTradeStateClosed, msg.TradeError},
		{market.ErrWrongSide, msg.TradeError},
		{market.ErrPartialUnsupported, msg.TradeError},
		{token.ErrNotEnoughTokens, msg.TokenError},
		{db.StoreError{Code: db.ErrUnknownEscrow}, msg.StateError},
	}
	for _, test := range tests {
		if got := codedError(test.err); got.Code != test.code {
			t.Fatalf("codedError(%v) = %d, want %d", test.err, got.Code, test.code)
		}
	}
}
