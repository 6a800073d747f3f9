// Package zk implements the native hashing primitives of the protocol:
// commitments binding an owner to a deposit, action-scoped nullifiers, and
// the merkle node hash. All hashing is MiMC over the bn254 scalar field so
// the same values can be recomputed inside the proving circuit.
package zk

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"

	"vestazk-backend/internal/utils"
)

// Action identifies the kind of state-changing action a nullifier is
// scoped to. Distinct actions yield distinct nullifiers for the same
// commitment, so consuming one does not block the other.
type Action string

const (
	ActionBorrow Action = "borrow"
	ActionExit   Action = "exit"
)

// Tag returns the action's domain-separation tag as a field element.
func (a Action) Tag() *big.Int {
	return new(big.Int).SetBytes([]byte(a))
}

// HashFields computes the MiMC hash of the given values. Inputs are
// reduced into the field before hashing.
func HashFields(vals ...*big.Int) *big.Int {
	h := mimc.NewMiMC()
	for _, v := range vals {
		var e fr.Element
		e.SetBigInt(v)
		b := e.Bytes()
		h.Write(b[:])
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

// Commitment computes Hash(owner, amount, salt), the public leaf value
// that stands in for a deposit on the ledger.
func Commitment(owner, amount, salt *big.Int) *big.Int {
	return HashFields(owner, amount, salt)
}

// NewSalt draws a fresh random field element. A salt is generated once per
// deposit and never reused.
func NewSalt() (*big.Int, error) {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		return nil, fmt.Errorf("failed to sample salt: %w", err)
	}
	v := new(big.Int)
	e.BigInt(v)
	return v, nil
}

// Nullifier derives the one-time token for (commitment, action). Borrow
// nullifiers additionally bind the requested amount, so distinct borrow
// sizes remain distinguishable on the ledger's used-nullifier set.
func Nullifier(commitment *big.Int, action Action, amount *big.Int) (*big.Int, error) {
	switch action {
	case ActionBorrow:
		if amount == nil || amount.Sign() <= 0 {
			return nil, fmt.Errorf("borrow nullifier requires a positive amount")
		}
		return HashFields(commitment, action.Tag(), amount), nil
	case ActionExit:
		return HashFields(commitment, action.Tag()), nil
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}

// HashNodes computes the parent hash of two merkle siblings.
func HashNodes(left, right *big.Int) *big.Int {
	return HashFields(left, right)
}

// InField reports whether v is a canonical field element.
func InField(v *big.Int) bool {
	return v.Sign() >= 0 && v.Cmp(utils.FieldModulus()) < 0
}
