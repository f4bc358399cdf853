// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package calc provides the checked arithmetic used when moving value. Every
// helper fails closed on overflow rather than wrapping, since a wrapped
// amount would silently create or destroy funds.
package calc

import (
	"math/bits"

	"vendue.org/vendue/mkt"
)

const (
	// MaxBasisPoints is the largest legal fee rate, equal to 100%.
	MaxBasisPoints = 10_000
)

const (
	// ErrNumericalOverflow is returned when an arithmetic step would exceed
	// the uint64 range.
	ErrNumericalOverflow = mkt.ErrorKind("numerical overflow")

	// ErrInvalidBasisPoints is returned for a fee rate above MaxBasisPoints.
	ErrInvalidBasisPoints = mkt.ErrorKind("basis points out of range")
)

// Mul64 multiplies two uint64 values, erroring on overflow.
func Mul64(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrNumericalOverflow
	}
	return lo, nil
}

// Add64 adds two uint64 values, erroring on overflow.
func Add64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrNumericalOverflow
	}
	return sum, nil
}

// Sub64 subtracts b from a, erroring if the result would be negative.
func Sub64(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrNumericalOverflow
	}
	return diff, nil
}

// Fee computes the fee on amount at the given basis-point rate, rounded down.
// fee = amount * basisPoints / 10000, computed in 128 bits so that the
// intermediate product cannot overflow.
func Fee(amount uint64, basisPoints uint16) (uint64, error) {
	if basisPoints > MaxBasisPoints {
		return 0, ErrInvalidBasisPoints
	}
	hi, lo := bits.Mul64(amount, uint64(basisPoints))
	quo, _ := bits.Div64(hi, lo, MaxBasisPoints)
	return quo, nil
}

// SaleProceeds splits a sale amount into the marketplace fee and the seller's
// net proceeds. fee + net == amount always holds.
func SaleProceeds(amount uint64, basisPoints uint16) (fee, net uint64, err error) {
	fee, err = Fee(amount, basisPoints)
	if err != nil {
		return 0, 0, err
	}
	return fee, amount - fee, nil
}
