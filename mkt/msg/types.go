// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package msg

// Actor identifies the invoking party of a privileged request. An empty
// Delegate selects the direct path; otherwise the request runs on the
// delegated path and Scope must carry the delegate's scope record address.
type Actor struct {
	Delegate Bytes `json:"delegate,omitempty"`
	Scope    Bytes `json:"scope,omitempty"`
}

// Order is the wire form of an order. All addresses and account IDs are
// 32-byte hex strings. A public bid carries an empty tokenacct.
type Order struct {
	Side         string `json:"side"` // "bid" or "ask"
	Wallet       Bytes  `json:"wallet"`
	House        Bytes  `json:"house"`
	TokenAccount Bytes  `json:"tokenacct,omitempty"`
	CurrencyMint Bytes  `json:"currencymint,omitempty"`
	AssetMint    Bytes  `json:"assetmint"`
	Price        uint64 `json:"price"`
	Quantity     uint64 `json:"qty"`
	Partial      bool   `json:"partial,omitempty"`
}

// CreateHouse is the payload for a CreateHouseRoute request.
type CreateHouse struct {
	Creator              Bytes   `json:"creator"`
	Authority            Bytes   `json:"authority"`
	FeeWithdrawal        Bytes   `json:"feewithdrawal"`
	TreasuryWithdrawal   Bytes   `json:"treasurywithdrawal"`
	CurrencyMint         Bytes   `json:"currencymint,omitempty"`
	SellerFeeBasisPoints uint16  `json:"sellerfeebps"`
	RequiresSignOff      bool    `json:"requiressignoff,omitempty"`
	CanChangeSalePrice   bool    `json:"canchangesaleprice,omitempty"`
	ProceedsToEscrow     bool    `json:"proceedstoescrow,omitempty"`
	Signers              []Bytes `json:"signers"`
}

// CreateHouseResult is the result for a CreateHouseRoute response.
type CreateHouseResult struct {
	House Bytes `json:"house"`
}

// UpdateHouse is the payload for an UpdateHouseRoute request.
type UpdateHouse struct {
	House                Bytes   `json:"house"`
	Authority            Bytes   `json:"authority"`
	FeeWithdrawal        Bytes   `json:"feewithdrawal"`
	TreasuryWithdrawal   Bytes   `json:"treasurywithdrawal"`
	SellerFeeBasisPoints uint16  `json:"sellerfeebps"`
	RequiresSignOff      bool    `json:"requiressignoff,omitempty"`
	CanChangeSalePrice   bool    `json:"canchangesaleprice,omitempty"`
	ProceedsToEscrow     bool    `json:"proceedstoescrow,omitempty"`
	Signers              []Bytes `json:"signers"`
}

// GrantScope is the payload for a GrantScopeRoute request.
type GrantScope struct {
	House        Bytes   `json:"house"`
	Delegate     Bytes   `json:"delegate"`
	Capabilities []uint8 `json:"capabilities"`
	Signers      []Bytes `json:"signers"`
}

// HouseWithdraw is the payload for WithdrawFeeRoute and WithdrawTreasuryRoute
// requests.
type HouseWithdraw struct {
	House   Bytes   `json:"house"`
	Amount  uint64  `json:"amount"`
	Signers []Bytes `json:"signers"`
}

// EscrowTransfer is the payload for DepositRoute and WithdrawRoute requests.
type EscrowTransfer struct {
	House   Bytes   `json:"house"`
	Wallet  Bytes   `json:"wallet"`
	Amount  uint64  `json:"amount"`
	Actor   Actor   `json:"actor"`
	Signers []Bytes `json:"signers"`
}

// Trade is the payload for SellRoute, BuyRoute and CancelRoute requests.
type Trade struct {
	House   Bytes   `json:"house"`
	Order   Order   `json:"order"`
	Actor   Actor   `json:"actor"`
	Signers []Bytes `json:"signers"`
}

// ExecuteSale is the payload for an ExecuteSaleRoute request.
type ExecuteSale struct {
	House    Bytes   `json:"house"`
	Bid      Order   `json:"bid"`
	Ask      Order   `json:"ask"`
	Price    uint64  `json:"price"`
	Quantity uint64  `json:"qty"`
	Actor    Actor   `json:"actor"`
	Signers  []Bytes `json:"signers"`
}

// HouseQuery is the payload for a HouseRoute request.
type HouseQuery struct {
	House Bytes `json:"house"`
}

// HouseResult is the result for a HouseRoute response.
type HouseResult struct {
	Creator              Bytes  `json:"creator"`
	Authority            Bytes  `json:"authority"`
	CurrencyMint         Bytes  `json:"currencymint,omitempty"`
	FeeAccount           Bytes  `json:"feeaccount"`
	Treasury             Bytes  `json:"treasury"`
	SellerFeeBasisPoints uint16 `json:"sellerfeebps"`
	RequiresSignOff      bool   `json:"requiressignoff"`
	CanChangeSalePrice   bool   `json:"canchangesaleprice"`
	HasDelegate          bool   `json:"hasdelegate"`
	ProceedsToEscrow     bool   `json:"proceedstoescrow"`
}

// EscrowBalanceQuery is the payload for an EscrowBalanceRoute request.
type EscrowBalanceQuery struct {
	House  Bytes `json:"house"`
	Wallet Bytes `json:"wallet"`
}

// EscrowBalanceResult is the result for an EscrowBalanceRoute response.
type EscrowBalanceResult struct {
	Balance uint64 `json:"balance"`
}

// OrderStatusQuery is the payload for an OrderStatusRoute request.
type OrderStatusQuery struct {
	Order Order `json:"order"`
}

// OrderStatusResult is the result for an OrderStatusRoute response.
type OrderStatusResult struct {
	Open      bool   `json:"open"`
	Remaining uint64 `json:"remaining"`
}
