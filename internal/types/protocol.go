// Package types holds the wire-facing shapes shared between the protocol
// services and the external collaborators (ledger gateway, proof backend).
package types

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"vestazk-backend/internal/utils"
)

// ActionKind names a state-changing protocol action.
type ActionKind string

const (
	ActionKindBorrow ActionKind = "borrow"
	ActionKindExit   ActionKind = "exit"
)

// ActionStatus is the lifecycle state of an action flow.
type ActionStatus string

const (
	ActionStatusIdle           ActionStatus = "idle"
	ActionStatusProofRequested ActionStatus = "proof_requested"
	ActionStatusProofGenerated ActionStatus = "proof_generated"
	ActionStatusSubmitting     ActionStatus = "submitting"
	ActionStatusSuccess        ActionStatus = "success"
	ActionStatusError          ActionStatus = "error"
)

// Session is the explicit per-session context threaded through every
// component: the signing identity plus a correlation id. Nothing reads
// ambient global wallet state.
type Session struct {
	ID    string
	Owner string
}

// NewSession creates a session for the given owner identity.
func NewSession(owner string) *Session {
	return &Session{ID: uuid.New().String(), Owner: owner}
}

// OwnerField parses the owner identity as a field element.
func (s *Session) OwnerField() (*big.Int, error) {
	v, err := utils.ParseFieldElement(s.Owner)
	if err != nil {
		return nil, fmt.Errorf("invalid owner identity: %w", err)
	}
	return v, nil
}

// ProofInputs is the exact input record the proof backend expects. Values
// are decimal-string encoded integers or field elements.
type ProofInputs struct {
	MerkleRoot      string   `json:"merkle_root"`
	MerklePath      []string `json:"merkle_path"`
	MerkleIndices   []int    `json:"merkle_indices"`
	BorrowAmount    string   `json:"borrow_amount"`
	BtcPrice        string   `json:"btc_price"`
	UsdcPrice       string   `json:"usdc_price"`
	MinHealthFactor string   `json:"min_health_factor"`
	Owner           string   `json:"owner"`
	BtcAmount       string   `json:"btc_amount"`
	Salt            string   `json:"salt"`
	Nullifier       string   `json:"nullifier"`
}

// PublicInputs is the public subset of a proof's inputs. An artifact is
// only ever paired with the public inputs it was generated against.
type PublicInputs struct {
	MerkleRoot      *big.Int
	Commitment      *big.Int
	BorrowAmount    *big.Int
	BtcAmount       *big.Int
	BtcPrice        *big.Int
	UsdcPrice       *big.Int
	MinHealthFactor *big.Int
	HealthFactor    *big.Int
	Nullifier       *big.Int
	Owner           *big.Int
}

// ProofArtifact binds an opaque proof to the public inputs it commits to.
type ProofArtifact struct {
	Proof  []byte
	Public PublicInputs
}

// TxStatus is the terminal outcome of a gateway submission.
type TxStatus string

const (
	TxStatusAccepted TxStatus = "accepted"
	TxStatusReverted TxStatus = "reverted"
	TxStatusTimedOut TxStatus = "timed_out"
)

// TxReceipt reports the outcome of a single atomic submission.
type TxReceipt struct {
	TxHash string   `json:"tx_hash"`
	Status TxStatus `json:"status"`
	Reason string   `json:"reason,omitempty"`
}

// DepositReceipt is the result of a confirmed deposit call. The ledger
// echoes the commitment it recorded for cross-checking.
type DepositReceipt struct {
	TxHash     string
	Commitment *big.Int
}

// AggregateHealth is the pool-wide health snapshot the ledger exposes.
// HealthFactor is scaled by 1e6.
type AggregateHealth struct {
	CollateralUSD *big.Int
	DebtUSD       *big.Int
	HealthFactor  *big.Int
}
