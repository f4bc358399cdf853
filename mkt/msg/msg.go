// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package msg defines the JSON messaging types used between marketplace
// clients and the server. A message is a {type, route, id, payload} envelope;
// the route determines how the payload is decoded.
package msg

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"vendue.org/vendue/mkt"
)

// Error codes
const (
	RPCErrorUnspecified = iota // 0
	RPCParseError              // 1
	RPCUnknownRoute            // 2
	RPCInternal                // 3
	RPCQuarantineClient        // 4
	UnknownMessageType         // 5
	UnknownResponseID          // 6
	ArgumentError              // 7
	SignatureError             // 8
	AuthorizationError         // 9
	HouseError                 // 10
	EscrowError                // 11
	TradeError                 // 12
	TokenError                 // 13
	ArithmeticError            // 14
	StateError                 // 15
)

// Routes are destinations for a "payload" of data. The route designation is a
// string sent as the "route" parameter of a JSON-encoded Message.
const (
	// CreateHouseRoute is a client-originating request to create the
	// marketplace configuration for a creator and currency mint.
	CreateHouseRoute = "create_house"
	// UpdateHouseRoute is a client-originating request to change the
	// authority-mutable house settings.
	UpdateHouseRoute = "update_house"
	// GrantScopeRoute is a client-originating request to empower a delegate
	// with a capability scope.
	GrantScopeRoute = "grant_scope"
	// WithdrawFeeRoute drains the house fee account to its configured
	// withdrawal destination.
	WithdrawFeeRoute = "withdraw_fee"
	// WithdrawTreasuryRoute drains the house treasury to its configured
	// withdrawal destination.
	WithdrawTreasuryRoute = "withdraw_treasury"
	// DepositRoute funds a wallet's escrow account.
	DepositRoute = "deposit"
	// WithdrawRoute pays out from a wallet's escrow account.
	WithdrawRoute = "withdraw"
	// SellRoute opens an ask.
	SellRoute = "sell"
	// BuyRoute opens a bid, private or public.
	BuyRoute = "buy"
	// CancelRoute closes an open order.
	CancelRoute = "cancel"
	// ExecuteSaleRoute settles a crossed bid and ask.
	ExecuteSaleRoute = "execute_sale"
	// HouseRoute requests the house configuration.
	HouseRoute = "house"
	// EscrowBalanceRoute requests a wallet's escrow balance.
	EscrowBalanceRoute = "escrow_balance"
	// OrderStatusRoute requests an order's open/remaining status.
	OrderStatusRoute = "order_status"
)

const errNullRespPayload = mkt.ErrorKind("null response payload")

// Bytes is a byte slice that marshals to and unmarshals from a hexadecimal
// JSON string rather than the default base-64.
type Bytes []byte

// String returns the hex encoding of the Bytes.
func (b Bytes) String() string {
	return hex.EncodeToString(b)
}

// MarshalJSON hex-encodes the bytes into a JSON string.
func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON decodes a JSON string of hexadecimal digits.
func (b *Bytes) UnmarshalJSON(enc []byte) error {
	var s string
	if err := json.Unmarshal(enc, &s); err != nil {
		return err
	}
	dec, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*b = dec
	return nil
}

// Error is returned as part of the Response to indicate that an error
// occurred during method execution.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error returns the error message. Satisfies the error interface.
func (e *Error) Error() string {
	return e.String()
}

// String satisfies the Stringer interface for pretty printing.
func (e Error) String() string {
	return fmt.Sprintf("error code %d: %s", e.Code, e.Message)
}

// NewError is a constructor for an Error.
func NewError(code int, format string, a ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, a...),
	}
}

// ResponsePayload is the payload for a Response-type Message.
type ResponsePayload struct {
	// Result is the payload, if successful, else nil.
	Result json.RawMessage `json:"result,omitempty"`
	// Error is the error, or nil if none was encountered.
	Error *Error `json:"error,omitempty"`
}

// MessageType indicates the type of message. MessageType is typically the
// first switch checked when examining a message, and how the rest of the
// message is decoded depends on its MessageType.
type MessageType uint8

const (
	InvalidMessageType MessageType = iota // 0
	Request                               // 1
	Response                              // 2
	Notification                          // 3
)

// String satisfies the Stringer interface for translating the MessageType
// code into a description, primarily for logging.
func (mt MessageType) String() string {
	switch mt {
	case Request:
		return "request"
	case Response:
		return "response"
	case Notification:
		return "notification"
	default:
		return "unknown MessageType"
	}
}

// Message is the primary messaging type for websocket communications.
type Message struct {
	// Type is the message type.
	Type MessageType `json:"type"`
	// Route is used for requests and notifications, and specifies a handler
	// for the message.
	Route string `json:"route,omitempty"`
	// ID is a unique number that is used to link a response to a request.
	ID uint64 `json:"id,omitempty"`
	// Payload is any data attached to the message. How Payload is decoded
	// depends on the Route.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeMessage decodes a *Message from JSON-formatted bytes. Note that
// *Message may be nil even if error is nil, when the message is JSON null,
// []byte("null").
func DecodeMessage(b []byte) (*Message, error) {
	m := new(Message)
	err := json.Unmarshal(b, &m)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// NewRequest is the constructor for a Request-type *Message.
func NewRequest(id uint64, route string, payload interface{}) (*Message, error) {
	if id == 0 {
		return nil, fmt.Errorf("id = 0 not allowed for a request-type message")
	}
	if route == "" {
		return nil, fmt.Errorf("empty string not allowed for route of request-type message")
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    Request,
		Payload: encoded,
		Route:   route,
		ID:      id,
	}, nil
}

// NewResponse encodes the result and creates a Response-type *Message.
func NewResponse(id uint64, result interface{}, rpcErr *Error) (*Message, error) {
	if id == 0 {
		return nil, fmt.Errorf("id = 0 not allowed for response-type message")
	}
	encResult, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	resp := &ResponsePayload{
		Result: encResult,
		Error:  rpcErr,
	}
	encResp, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    Response,
		Payload: encResp,
		ID:      id,
	}, nil
}

// Response attempts to decode the payload to a *ResponsePayload. Response
// will return an error if the Type is not Response.
func (msg *Message) Response() (*ResponsePayload, error) {
	if msg.Type != Response {
		return nil, fmt.Errorf("invalid type %d for ResponsePayload", msg.Type)
	}
	resp := new(ResponsePayload)
	err := json.Unmarshal(msg.Payload, &resp)
	if err != nil {
		return nil, err
	}
	if resp == nil /* null JSON */ {
		return nil, errNullRespPayload
	}
	return resp, nil
}

// NewNotification encodes the payload and creates a Notification-type
// *Message.
func NewNotification(route string, payload interface{}) (*Message, error) {
	if route == "" {
		return nil, fmt.Errorf("empty string not allowed for route of notification-type message")
	}
	encPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    Notification,
		Route:   route,
		Payload: encPayload,
	}, nil
}

// Unmarshal unmarshals the Payload field into the provided interface.
func (msg *Message) Unmarshal(payload interface{}) error {
	return json.Unmarshal(msg.Payload, payload)
}

// UnmarshalResult is a convenience method for decoding the Result field of a
// ResponsePayload.
func (msg *Message) UnmarshalResult(result interface{}) error {
	resp, err := msg.Response()
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("rpc error: %w", resp.Error)
	}
	return json.Unmarshal(resp.Result, result)
}

// String prints the message as a JSON-encoded string.
func (msg *Message) String() string {
	b, err := json.Marshal(msg)
	if err != nil {
		return "[Message decode error]"
	}
	return string(b)
}
