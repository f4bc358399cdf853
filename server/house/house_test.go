// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package house

import (
	"errors"
	"reflect"
	"testing"

	"vendue.org/vendue/mkt/calc"
	"vendue.org/vendue/server/account"
	"vendue.org/vendue/server/derive"
)

func TestSerialization(t *testing.T) {
	h := &House{
		Bump:                 254,
		FeeBump:              253,
		TreasuryBump:         252,
		SignerBump:           251,
		Creator:              account.AccountID{0: 1},
		Authority:            account.AccountID{0: 2},
		FeeWithdrawal:        account.AccountID{0: 3},
		TreasuryWithdrawal:   account.AccountID{0: 4},
		CurrencyMint:         derive.ProgramID("currency"),
		FeeAccount:           derive.ProgramID("fee"),
		Treasury:             derive.ProgramID("treasury"),
		SellerFeeBasisPoints: 250,
		RequiresSignOff:      true,
		CanChangeSalePrice:   false,
		HasDelegate:          true,
		ProceedsToEscrow:     true,
		DelegateKey:          account.AccountID{0: 5},
	}
	b := h.Serialize()
	if len(b) != serializedLen {
		t.Fatalf("serialized length = %d, want %d", len(b), serializedLen)
	}
	reread, err := Deserialize(b)
	if err != nil {
		t.Fatalf("Deserialize error: %v", err)
	}
	if !reflect.DeepEqual(h, reread) {
		t.Fatalf("reread house = %+v, want %+v", reread, h)
	}

	if _, err := Deserialize(b[:len(b)-1]); err == nil {
		t.Fatal("Deserialize accepted a short record")
	}
}

func TestValidate(t *testing.T) {
	h := &House{SellerFeeBasisPoints: calc.MaxBasisPoints}
	if err := h.Validate(); err != nil {
		t.Fatalf("Validate rejected the maximum fee: %v", err)
	}
	h.SellerFeeBasisPoints++
	if err := h.Validate(); !errors.Is(err, calc.ErrInvalidBasisPoints) {
		t.Fatalf("Validate error = %v, want ErrInvalidBasisPoints", err)
	}
}

func TestDerivedKeys(t *testing.T) {
	creator := account.AccountID{0: 9}
	houseAddr, _, err := Key(creator, derive.Address{})
	if err != nil {
		t.Fatalf("Key error: %v", err)
	}

	// The sub-account addresses must be deterministic and pairwise distinct.
	feeAddr, _, err := FeeKey(houseAddr)
	if err != nil {
		t.Fatalf("FeeKey error: %v", err)
	}
	treasuryAddr, _, err := TreasuryKey(houseAddr)
	if err != nil {
		t.Fatalf("TreasuryKey error: %v", err)
	}
	signerAddr, _, err := SignerKey(houseAddr)
	if err != nil {
		t.Fatalf("SignerKey error: %v", err)
	}
	addrs := map[derive.Address]string{
		houseAddr:    "house",
		feeAddr:      "fee",
		treasuryAddr: "treasury",
		signerAddr:   "signer",
	}
	if len(addrs) != 4 {
		t.Fatalf("derived sub-account addresses collide: %v", addrs)
	}

	// A different currency mint gives a different house.
	otherAddr, _, err := Key(creator, derive.ProgramID("currency"))
	if err != nil {
		t.Fatalf("Key error: %v", err)
	}
	if otherAddr == houseAddr {
		t.Fatal("houses with different currency mints collide")
	}
}
