package services

import (
	"context"
	"math/big"

	"vestazk-backend/internal/merkle"
	"vestazk-backend/internal/types"
)

// Gateway is the ledger surface the services depend on, satisfied by
// clients.GatewayClient.
type Gateway interface {
	GetMerkleRoot(ctx context.Context) (*big.Int, error)
	GetCommitmentCount(ctx context.Context) (uint64, error)
	IsNullifierUsed(ctx context.Context, nullifier *big.Int) (bool, error)
	GetAggregateHealth(ctx context.Context) (*types.AggregateHealth, error)
	GetMerkleWitness(ctx context.Context, commitment *big.Int) (*merkle.Witness, error)
	Deposit(ctx context.Context, commitment, amount *big.Int) (*types.DepositReceipt, error)
	Submit(ctx context.Context, call *types.Call) (*types.TxReceipt, error)
}

// Prover generates proofs for the protocol circuits, satisfied by
// clients.ProverClient.
type Prover interface {
	Prove(ctx context.Context, inputs *types.ProofInputs) (*types.ProofArtifact, error)
}
