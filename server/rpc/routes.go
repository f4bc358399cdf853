// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package rpc

import (
	"errors"
	"fmt"

	"vendue.org/vendue/mkt/calc"
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

// RegisterRoutes binds one message route to each marketplace operation.
// RegisterRoutes must be called exactly once, before the Server is started.
func RegisterRoutes(core *market.Market) {
	Route(msg.CreateHouseRoute, func(link Link, m *msg.Message) *msg.Error {
		req := new(msg.CreateHouse)
		if err := m.Unmarshal(req); err != nil {
			return msg.NewError(msg.RPCParseError, "parse error: %v", err)
		}
		params, signers, msgErr := parseCreateHouse(req)
		if msgErr != nil {
			return msgErr
		}
		houseAddr, err := core.CreateHouse(params, signers)
		if err != nil {
			return respondError(link, m.ID, err)
		}
		return respond(link, m.ID, &msg.CreateHouseResult{House: houseAddr[:]})
	})

	Route(msg.UpdateHouseRoute, func(link Link, m *msg.Message) *msg.Error {
		req := new(msg.UpdateHouse)
		if err := m.Unmarshal(req); err != nil {
			return msg.NewError(msg.RPCParseError, "parse error: %v", err)
		}
		houseAddr, msgErr := parseAddress(req.House, "house")
		if msgErr != nil {
			return msgErr
		}
		u := &market.HouseUpdate{
			SellerFeeBasisPoints: req.SellerFeeBasisPoints,
			RequiresSignOff:      req.RequiresSignOff,
			CanChangeSalePrice:   req.CanChangeSalePrice,
			ProceedsToEscrow:     req.ProceedsToEscrow,
		}
		for _, f := range []struct {
			b    msg.Bytes
			dest *account.AccountID
			name string
		}{
			{req.Authority, &u.Authority, "authority"},
			{req.FeeWithdrawal, &u.FeeWithdrawal, "feewithdrawal"},
			{req.TreasuryWithdrawal, &u.TreasuryWithdrawal, "treasurywithdrawal"},
		} {
			if *f.dest, msgErr = parseAccount(f.b, f.name); msgErr != nil {
				return msgErr
			}
		}
		signers, msgErr := parseSigners(req.Signers)
		if msgErr != nil {
			return msgErr
		}
		if err := core.UpdateHouse(houseAddr, u, signers); err != nil {
			return respondError(link, m.ID, err)
		}
		return respond(link, m.ID, true)
	})

	Route(msg.GrantScopeRoute, func(link Link, m *msg.Message) *msg.Error {
		req := new(msg.GrantScope)
		if err := m.Unmarshal(req); err != nil {
			return msg.NewError(msg.RPCParseError, "parse error: %v", err)
		}
		houseAddr, msgErr := parseAddress(req.House, "house")
		if msgErr != nil {
			return msgErr
		}
		delegate, msgErr := parseAccount(req.Delegate, "delegate")
		if msgErr != nil {
			return msgErr
		}
		signers, msgErr := parseSigners(req.Signers)
		if msgErr != nil {
			return msgErr
		}
		caps := make([]scope.Capability, 0, len(req.Capabilities))
		for _, c := range req.Capabilities {
			caps = append(caps, scope.Capability(c))
		}
		if err := core.GrantScope(houseAddr, delegate, caps, signers); err != nil {
			return respondError(link, m.ID, err)
		}
		return respond(link, m.ID, true)
	})

	Route(msg.WithdrawFeeRoute, houseWithdrawHandler(core.WithdrawFromFee))
	Route(msg.WithdrawTreasuryRoute, houseWithdrawHandler(core.WithdrawFromTreasury))

	Route(msg.DepositRoute, escrowTransferHandler(core.Deposit))
	Route(msg.WithdrawRoute, escrowTransferHandler(core.Withdraw))

	Route(msg.SellRoute, tradeHandler(core.Sell))
	Route(msg.BuyRoute, tradeHandler(core.Buy))
	Route(msg.CancelRoute, tradeHandler(core.Cancel))

	Route(msg.ExecuteSaleRoute, func(link Link, m *msg.Message) *msg.Error {
		req := new(msg.ExecuteSale)
		if err := m.Unmarshal(req); err != nil {
			return msg.NewError(msg.RPCParseError, "parse error: %v", err)
		}
		houseAddr, msgErr := parseAddress(req.House, "house")
		if msgErr != nil {
			return msgErr
		}
		bid, msgErr := parseOrder(&req.Bid)
		if msgErr != nil {
			return msgErr
		}
		ask, msgErr := parseOrder(&req.Ask)
		if msgErr != nil {
			return msgErr
		}
		actor, msgErr := parseActor(&req.Actor)
		if msgErr != nil {
			return msgErr
		}
		signers, msgErr := parseSigners(req.Signers)
		if msgErr != nil {
			return msgErr
		}
		err := core.ExecuteSale(houseAddr, bid, ask, req.Price, req.Quantity, actor, signers)
		if err != nil {
			return respondError(link, m.ID, err)
		}
		return respond(link, m.ID, true)
	})

	Route(msg.HouseRoute, func(link Link, m *msg.Message) *msg.Error {
		req := new(msg.HouseQuery)
		if err := m.Unmarshal(req); err != nil {
			return msg.NewError(msg.RPCParseError, "parse error: %v", err)
		}
		houseAddr, msgErr := parseAddress(req.House, "house")
		if msgErr != nil {
			return msgErr
		}
		h, err := core.House(houseAddr)
		if err != nil {
			return respondError(link, m.ID, err)
		}
		return respond(link, m.ID, &msg.HouseResult{
			Creator:              h.Creator[:],
			Authority:            h.Authority[:],
			CurrencyMint:         h.CurrencyMint[:],
			FeeAccount:           h.FeeAccount[:],
			Treasury:             h.Treasury[:],
			SellerFeeBasisPoints: h.SellerFeeBasisPoints,
			RequiresSignOff:      h.RequiresSignOff,
			CanChangeSalePrice:   h.CanChangeSalePrice,
			HasDelegate:          h.HasDelegate,
			ProceedsToEscrow:     h.ProceedsToEscrow,
		})
	})

	Route(msg.EscrowBalanceRoute, func(link Link, m *msg.Message) *msg.Error {
		req := new(msg.EscrowBalanceQuery)
		if err := m.Unmarshal(req); err != nil {
			return msg.NewError(msg.RPCParseError, "parse error: %v", err)
		}
		houseAddr, msgErr := parseAddress(req.House, "house")
		if msgErr != nil {
			return msgErr
		}
		wallet, msgErr := parseAccount(req.Wallet, "wallet")
		if msgErr != nil {
			return msgErr
		}
		bal, err := core.EscrowBalance(houseAddr, wallet)
		if err != nil {
			return respondError(link, m.ID, err)
		}
		return respond(link, m.ID, &msg.EscrowBalanceResult{Balance: bal})
	})

	Route(msg.OrderStatusRoute, func(link Link, m *msg.Message) *msg.Error {
		req := new(msg.OrderStatusQuery)
		if err := m.Unmarshal(req); err != nil {
			return msg.NewError(msg.RPCParseError, "parse error: %v", err)
		}
		ord, msgErr := parseOrder(&req.Order)
		if msgErr != nil {
			return msgErr
		}
		open, remaining, err := core.OrderStatus(ord)
		if err != nil {
			return respondError(link, m.ID, err)
		}
		return respond(link, m.ID, &msg.OrderStatusResult{Open: open, Remaining: remaining})
	})
}

func houseWithdrawHandler(op func(derive.Address, uint64, account.SignerSet) error) MsgHandler {
	return func(link Link, m *msg.Message) *msg.Error {
		req := new(msg.HouseWithdraw)
		if err := m.Unmarshal(req); err != nil {
			return msg.NewError(msg.RPCParseError, "parse error: %v", err)
		}
		houseAddr, msgErr := parseAddress(req.House, "house")
		if msgErr != nil {
			return msgErr
		}
		signers, msgErr := parseSigners(req.Signers)
		if msgErr != nil {
			return msgErr
		}
		if err := op(houseAddr, req.Amount, signers); err != nil {
			return respondError(link, m.ID, err)
		}
		return respond(link, m.ID, true)
	}
}

func escrowTransferHandler(op func(derive.Address, account.AccountID, uint64, market.Actor, account.SignerSet) error) MsgHandler {
	return func(link Link, m *msg.Message) *msg.Error {
		req := new(msg.EscrowTransfer)
		if err := m.Unmarshal(req); err != nil {
			return msg.NewError(msg.RPCParseError, "parse error: %v", err)
		}
		houseAddr, msgErr := parseAddress(req.House, "house")
		if msgErr != nil {
			return msgErr
		}
		wallet, msgErr := parseAccount(req.Wallet, "wallet")
		if msgErr != nil {
			return msgErr
		}
		actor, msgErr := parseActor(&req.Actor)
		if msgErr != nil {
			return msgErr
		}
		signers, msgErr := parseSigners(req.Signers)
		if msgErr != nil {
			return msgErr
		}
		if err := op(houseAddr, wallet, req.Amount, actor, signers); err != nil {
			return respondError(link, m.ID, err)
		}
		return respond(link, m.ID, true)
	}
}

func tradeHandler(op func(derive.Address, *trade.Order, market.Actor, account.SignerSet) error) MsgHandler {
	return func(link Link, m *msg.Message) *msg.Error {
		req := new(msg.Trade)
		if err := m.Unmarshal(req); err != nil {
			return msg.NewError(msg.RPCParseError, "parse error: %v", err)
		}
		houseAddr, msgErr := parseAddress(req.House, "house")
		if msgErr != nil {
			return msgErr
		}
		ord, msgErr := parseOrder(&req.Order)
		if msgErr != nil {
			return msgErr
		}
		actor, msgErr := parseActor(&req.Actor)
		if msgErr != nil {
			return msgErr
		}
		signers, msgErr := parseSigners(req.Signers)
		if msgErr != nil {
			return msgErr
		}
		if err := op(houseAddr, ord, actor, signers); err != nil {
			return respondError(link, m.ID, err)
		}
		return respond(link, m.ID, true)
	}
}

// respond sends a successful response carrying the result.
func respond(link Link, id uint64, result interface{}) *msg.Error {
	resp, err := msg.NewResponse(id, result, nil)
	if err != nil {
		return msg.NewError(msg.RPCInternal, "encode error: %v", err)
	}
	if err := link.Send(resp); err != nil {
		log.Debugf("error sending response to client %d: %v", link.ID(), err)
	}
	return nil
}

// respondError sends a response carrying the operation error mapped into the
// wire error codes.
func respondError(link Link, id uint64, opErr error) *msg.Error {
	resp, err := msg.NewResponse(id, nil, codedError(opErr))
	if err != nil {
		return msg.NewError(msg.RPCInternal, "encode error: %v", err)
	}
	if err := link.Send(resp); err != nil {
		log.Debugf("error sending error response to client %d: %v", link.ID(), err)
	}
	return nil
}

// codedError maps an operation error to its wire error code.
func codedError(err error) *msg.Error {
	code := msg.RPCInternal
	switch {
	case errors.Is(err, market.ErrSignatureRequired),
		errors.Is(err, market.ErrSaleRequiresSigner):
		code = msg.SignatureError
	case errors.Is(err, house.ErrInvalidAuthority),
		errors.Is(err, market.ErrMustUseDelegateHandler),
		errors.Is(err, scope.ErrMissingScope),
		errors.Is(err, scope.ErrNoDelegateSet),
		errors.Is(err, scope.ErrInvalidDelegate),
		errors.Is(err, scope.ErrTooManyScopes),
		errors.Is(err, scope.ErrDuplicateScope):
		code = msg.AuthorizationError
	case errors.Is(err, market.ErrHouseMismatch),
		errors.Is(err, house.ErrImmutableField):
		code = msg.HouseError
	case errors.Is(err, escrow.ErrInsufficientFunds),
		errors.Is(err, escrow.ErrUnderRentExemption):
		code = msg.EscrowError
	case errors.Is(err, trade.ErrTradeStateClosed),
		errors.Is(err, trade.ErrNotEnoughRemaining),
		errors.Is(err, market.ErrWrongSide),
		errors.Is(err, market.ErrPartialUnsupported),
		errors.Is(err, market.ErrPartialPriceMismatch):
		code = msg.TradeError
	case errors.Is(err, token.ErrInvalidTokenAmount),
		errors.Is(err, token.ErrNotEnoughTokens),
		errors.Is(err, token.ErrOwnerMismatch),
		errors.Is(err, token.ErrDelegateMismatch),
		errors.Is(err, token.ErrMintMismatch):
		code = msg.TokenError
	case errors.Is(err, calc.ErrNumericalOverflow),
		errors.Is(err, calc.ErrInvalidBasisPoints):
		code = msg.ArithmeticError
	default:
		var storeErr db.StoreError
		if errors.As(err, &storeErr) {
			code = msg.StateError
		}
	}
	return msg.NewError(code, "%v", err)
}

func parseCreateHouse(req *msg.CreateHouse) (*market.HouseParams, account.SignerSet, *msg.Error) {
	p := &market.HouseParams{
		SellerFeeBasisPoints: req.SellerFeeBasisPoints,
		RequiresSignOff:      req.RequiresSignOff,
		CanChangeSalePrice:   req.CanChangeSalePrice,
		ProceedsToEscrow:     req.ProceedsToEscrow,
	}
	var msgErr *msg.Error
	for _, f := range []struct {
		b    msg.Bytes
		dest *account.AccountID
		name string
	}{
		{req.Creator, &p.Creator, "creator"},
		{req.Authority, &p.Authority, "authority"},
		{req.FeeWithdrawal, &p.FeeWithdrawal, "feewithdrawal"},
		{req.TreasuryWithdrawal, &p.TreasuryWithdrawal, "treasurywithdrawal"},
	} {
		if *f.dest, msgErr = parseAccount(f.b, f.name); msgErr != nil {
			return nil, nil, msgErr
		}
	}
	if p.CurrencyMint, msgErr = parseOptionalAddress(req.CurrencyMint, "currencymint"); msgErr != nil {
		return nil, nil, msgErr
	}
	signers, msgErr := parseSigners(req.Signers)
	if msgErr != nil {
		return nil, nil, msgErr
	}
	return p, signers, nil
}

func parseAddress(b msg.Bytes, name string) (derive.Address, *msg.Error) {
	var addr derive.Address
	if len(b) != derive.AddressSize {
		return addr, msg.NewError(msg.ArgumentError, "%s is not a %d-byte address", name, derive.AddressSize)
	}
	copy(addr[:], b)
	return addr, nil
}

// parseOptionalAddress is like parseAddress, but an empty value selects the
// zero address.
func parseOptionalAddress(b msg.Bytes, name string) (derive.Address, *msg.Error) {
	if len(b) == 0 {
		return derive.Address{}, nil
	}
	return parseAddress(b, name)
}

func parseAccount(b msg.Bytes, name string) (account.AccountID, *msg.Error) {
	var aid account.AccountID
	if len(b) != account.HashSize {
		return aid, msg.NewError(msg.ArgumentError, "%s is not a %d-byte account ID", name, account.HashSize)
	}
	copy(aid[:], b)
	return aid, nil
}

func parseSigners(raw []msg.Bytes) (account.SignerSet, *msg.Error) {
	ids := make([]account.AccountID, 0, len(raw))
	for i, b := range raw {
		aid, msgErr := parseAccount(b, fmt.Sprintf("signer %d", i))
		if msgErr != nil {
			return nil, msgErr
		}
		ids = append(ids, aid)
	}
	return account.NewSignerSet(ids...), nil
}

func parseActor(a *msg.Actor) (market.Actor, *msg.Error) {
	if len(a.Delegate) == 0 {
		return market.Direct(), nil
	}
	delegate, msgErr := parseAccount(a.Delegate, "delegate")
	if msgErr != nil {
		return market.Actor{}, msgErr
	}
	scopeAddr, msgErr := parseAddress(a.Scope, "scope")
	if msgErr != nil {
		return market.Actor{}, msgErr
	}
	return market.Delegated(delegate, scopeAddr), nil
}

func parseOrder(o *msg.Order) (*trade.Order, *msg.Error) {
	ord := &trade.Order{
		Price:    o.Price,
		Quantity: o.Quantity,
		Partial:  o.Partial,
	}
	switch o.Side {
	case "bid":
		ord.Side = trade.BidSide
	case "ask":
		ord.Side = trade.AskSide
	default:
		return nil, msg.NewError(msg.ArgumentError, "unknown order side %q", o.Side)
	}
	var msgErr *msg.Error
	if ord.Wallet, msgErr = parseAccount(o.Wallet, "wallet"); msgErr != nil {
		return nil, msgErr
	}
	if ord.House, msgErr = parseAddress(o.House, "house"); msgErr != nil {
		return nil, msgErr
	}
	if ord.TokenAccount, msgErr = parseOptionalAddress(o.TokenAccount, "tokenacct"); msgErr != nil {
		return nil, msgErr
	}
	if ord.CurrencyMint, msgErr = parseOptionalAddress(o.CurrencyMint, "currencymint"); msgErr != nil {
		return nil, msgErr
	}
	if ord.AssetMint, msgErr = parseAddress(o.AssetMint, "assetmint"); msgErr != nil {
		return nil, msgErr
	}
	return ord, nil
}
