package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

var (
	// fieldModulus is the scalar field modulus shared by the commitment
	// hash, the nullifier derivation and the merkle tree.
	fieldModulus = fr.Modulus()

	maxU256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	maskLow = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

// FieldModulus returns a copy of the protocol field modulus.
func FieldModulus() *big.Int {
	return new(big.Int).Set(fieldModulus)
}

// SplitU256 splits a u256 value into its (low, high) 128-bit halves, the
// shape the ledger gateway expects in calldata.
func SplitU256(v *big.Int) (low, high *big.Int) {
	low = new(big.Int).And(v, maskLow)
	high = new(big.Int).Rsh(v, 128)
	return low, high
}

// CombineU256 reassembles a u256 value from its (low, high) halves.
func CombineU256(low, high *big.Int) *big.Int {
	v := new(big.Int).Lsh(high, 128)
	return v.Or(v, low)
}

// ParseU256 parses a non-negative decimal string into a u256 value.
func ParseU256(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid u256 value %q", s)
	}
	if v.Sign() < 0 || v.Cmp(maxU256) > 0 {
		return nil, fmt.Errorf("u256 value %q out of range", s)
	}
	return v, nil
}

// ParseFieldElement parses a field element from either a 0x-prefixed hex
// string or a decimal string, and rejects values outside the field.
func ParseFieldElement(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	var (
		v  *big.Int
		ok bool
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, ok = new(big.Int).SetString(s[2:], 16)
	} else {
		v, ok = new(big.Int).SetString(s, 10)
	}
	if !ok {
		return nil, fmt.Errorf("invalid field element %q", s)
	}
	if v.Sign() < 0 || v.Cmp(fieldModulus) >= 0 {
		return nil, fmt.Errorf("field element %q out of range", s)
	}
	return v, nil
}

// ReduceToField maps an arbitrary non-negative integer (such as a raw
// address) into the field by reduction.
func ReduceToField(v *big.Int) *big.Int {
	return new(big.Int).Mod(v, fieldModulus)
}
