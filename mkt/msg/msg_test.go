// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package msg

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestRequest(t *testing.T) {
	// Zero ID and empty route are not allowed.
	if _, err := NewRequest(0, DepositRoute, nil); err == nil {
		t.Fatal("no error for id = 0 request")
	}
	if _, err := NewRequest(5, "", nil); err == nil {
		t.Fatal("no error for empty route request")
	}

	payload := &EscrowTransfer{
		House:  Bytes{0xaa, 0xbb},
		Wallet: Bytes{0xcc, 0xdd},
		Amount: 12345,
	}
	req, err := NewRequest(5, DepositRoute, payload)
	if err != nil {
		t.Fatalf("NewRequest error: %v", err)
	}
	if req.Type != Request || req.ID != 5 || req.Route != DepositRoute {
		t.Fatalf("envelope fields wrong: %s", req)
	}

	reread, err := DecodeMessage([]byte(req.String()))
	if err != nil {
		t.Fatalf("DecodeMessage error: %v", err)
	}
	back := new(EscrowTransfer)
	if err := reread.Unmarshal(back); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if !bytes.Equal(back.House, payload.House) || back.Amount != payload.Amount {
		t.Fatalf("reread payload = %+v, want %+v", back, payload)
	}
}

func TestResponse(t *testing.T) {
	if _, err := NewResponse(0, nil, nil); err == nil {
		t.Fatal("no error for id = 0 response")
	}

	result := &EscrowBalanceResult{Balance: 777}
	resp, err := NewResponse(5, result, nil)
	if err != nil {
		t.Fatalf("NewResponse error: %v", err)
	}
	back := new(EscrowBalanceResult)
	if err := resp.UnmarshalResult(back); err != nil {
		t.Fatalf("UnmarshalResult error: %v", err)
	}
	if back.Balance != 777 {
		t.Fatalf("Balance = %d, want 777", back.Balance)
	}

	// An error response surfaces through UnmarshalResult.
	errResp, err := NewResponse(6, nil, NewError(EscrowError, "insufficient funds"))
	if err != nil {
		t.Fatalf("NewResponse error: %v", err)
	}
	rp, err := errResp.Response()
	if err != nil {
		t.Fatalf("Response error: %v", err)
	}
	if rp.Error == nil || rp.Error.Code != EscrowError {
		t.Fatalf("response error = %v", rp.Error)
	}
	if err := errResp.UnmarshalResult(new(EscrowBalanceResult)); err == nil {
		t.Fatal("UnmarshalResult ignored the response error")
	}

	// Response() rejects non-response types.
	req, _ := NewRequest(1, HouseRoute, nil)
	if _, err := req.Response(); err == nil {
		t.Fatal("Response decoded a request")
	}
}

func TestNotification(t *testing.T) {
	if _, err := NewNotification("", nil); err == nil {
		t.Fatal("no error for empty route notification")
	}
	note, err := NewNotification(OrderStatusRoute, &OrderStatusResult{Open: true, Remaining: 4})
	if err != nil {
		t.Fatalf("NewNotification error: %v", err)
	}
	if note.Type != Notification || note.ID != 0 {
		t.Fatalf("envelope fields wrong: %s", note)
	}
}

func TestBytes(t *testing.T) {
	in := Bytes{0xde, 0xad, 0xbe, 0xef}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if string(b) != `"deadbeef"` {
		t.Fatalf("marshaled Bytes = %s", b)
	}
	var out Bytes
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Fatalf("round trip = %x", out)
	}
	if err := json.Unmarshal([]byte(`"zz"`), &out); err == nil {
		t.Fatal("Unmarshal accepted non-hex input")
	}
}
