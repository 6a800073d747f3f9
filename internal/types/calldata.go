package types

import (
	"math/big"

	"vestazk-backend/internal/utils"
)

// Gateway entry points for state-changing calls.
const (
	MethodDeposit = "vault_deposit"
	MethodBorrow  = "vault_borrow"
	MethodExit    = "vault_emergencyExit"
)

// Call is an encoded state-changing gateway invocation: the opaque proof
// plus the ordered public calldata values. u256 values appear as (low,
// high) decimal-string pairs, field elements as single values.
type Call struct {
	Method   string   `json:"method"`
	Proof    []byte   `json:"proof"`
	Calldata []string `json:"calldata"`
}

func appendU256(calldata []string, v *big.Int) []string {
	low, high := utils.SplitU256(v)
	return append(calldata, low.String(), high.String())
}

// EncodeBorrowCall lays out borrow calldata in the gateway's expected
// order: merkle_root, borrow_amount, btc_price, usdc_price,
// min_health_factor, nullifier, owner. The nullifier and live merkle root
// are always included so the ledger can reject stale-root or
// reused-nullifier submissions on its own.
func EncodeBorrowCall(artifact *ProofArtifact) Call {
	p := artifact.Public
	calldata := []string{p.MerkleRoot.String()}
	calldata = appendU256(calldata, p.BorrowAmount)
	calldata = appendU256(calldata, p.BtcPrice)
	calldata = appendU256(calldata, p.UsdcPrice)
	calldata = appendU256(calldata, p.MinHealthFactor)
	calldata = append(calldata, p.Nullifier.String(), p.Owner.String())

	return Call{
		Method:   MethodBorrow,
		Proof:    append([]byte(nil), artifact.Proof...),
		Calldata: calldata,
	}
}

// EncodeExitCall lays out emergency-exit calldata: commitment, btc_amount,
// merkle_root, health_factor, nullifier.
func EncodeExitCall(artifact *ProofArtifact) Call {
	p := artifact.Public
	calldata := []string{p.Commitment.String()}
	calldata = appendU256(calldata, p.BtcAmount)
	calldata = append(calldata, p.MerkleRoot.String())
	calldata = appendU256(calldata, p.HealthFactor)
	calldata = append(calldata, p.Nullifier.String())

	return Call{
		Method:   MethodExit,
		Proof:    append([]byte(nil), artifact.Proof...),
		Calldata: calldata,
	}
}
