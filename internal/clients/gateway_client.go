package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"vestazk-backend/internal/merkle"
	"vestazk-backend/internal/types"
	"vestazk-backend/internal/utils"
)

// ErrGatewayUnavailable means the vault ledger gateway could not be
// reached or returned a malformed response.
var ErrGatewayUnavailable = errors.New("vault gateway unavailable")

// GatewayClient exposes the vault ledger gateway's JSON-RPC surface.
// Numeric values travel as decimal strings on the wire.
type GatewayClient struct {
	rpc *rpc.Client
}

// NewGatewayClient dials the gateway endpoint.
func NewGatewayClient(endpoint string) (*GatewayClient, error) {
	c, err := rpc.Dial(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial vault gateway at %s: %w", endpoint, err)
	}
	return &GatewayClient{rpc: c}, nil
}

// Close releases the underlying RPC connection.
func (g *GatewayClient) Close() {
	g.rpc.Close()
}

// GetMerkleRoot returns the live commitment tree root.
func (g *GatewayClient) GetMerkleRoot(ctx context.Context) (*big.Int, error) {
	var raw string
	if err := g.rpc.CallContext(ctx, &raw, "vault_getMerkleRoot"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	root, err := utils.ParseFieldElement(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: bad merkle root %q: %v", ErrGatewayUnavailable, raw, err)
	}
	return root, nil
}

// GetCommitmentCount returns the number of leaves in the commitment tree.
func (g *GatewayClient) GetCommitmentCount(ctx context.Context) (uint64, error) {
	var count uint64
	if err := g.rpc.CallContext(ctx, &count, "vault_getCommitmentCount"); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return count, nil
}

// IsNullifierUsed reports whether the nullifier was already spent.
func (g *GatewayClient) IsNullifierUsed(ctx context.Context, nullifier *big.Int) (bool, error) {
	var used bool
	if err := g.rpc.CallContext(ctx, &used, "vault_isNullifierUsed", nullifier.String()); err != nil {
		return false, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return used, nil
}

// GetAggregateHealth returns pool-wide totals and the aggregate health
// factor scaled by 1e6.
func (g *GatewayClient) GetAggregateHealth(ctx context.Context) (*types.AggregateHealth, error) {
	var raw struct {
		TotalCollateral string `json:"total_collateral"`
		TotalDebt       string `json:"total_debt"`
		HealthFactor    string `json:"health_factor"`
	}
	if err := g.rpc.CallContext(ctx, &raw, "vault_getAggregateHealthFactor"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	out := &types.AggregateHealth{}
	var err error
	if out.CollateralUSD, err = utils.ParseU256(raw.TotalCollateral); err != nil {
		return nil, fmt.Errorf("%w: bad total collateral: %v", ErrGatewayUnavailable, err)
	}
	if out.DebtUSD, err = utils.ParseU256(raw.TotalDebt); err != nil {
		return nil, fmt.Errorf("%w: bad total debt: %v", ErrGatewayUnavailable, err)
	}
	if out.HealthFactor, err = utils.ParseU256(raw.HealthFactor); err != nil {
		return nil, fmt.Errorf("%w: bad health factor: %v", ErrGatewayUnavailable, err)
	}
	return out, nil
}

// Deposit locks collateral under the given commitment and returns the
// transaction hash together with the commitment the ledger recorded.
func (g *GatewayClient) Deposit(ctx context.Context, commitment, amount *big.Int) (*types.DepositReceipt, error) {
	var raw struct {
		TxHash     string `json:"tx_hash"`
		Commitment string `json:"commitment"`
	}
	err := g.rpc.CallContext(ctx, &raw, "vault_deposit", commitment.String(), amount.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	recorded, err := utils.ParseFieldElement(raw.Commitment)
	if err != nil {
		return nil, fmt.Errorf("%w: bad commitment echo: %v", ErrGatewayUnavailable, err)
	}
	return &types.DepositReceipt{TxHash: raw.TxHash, Commitment: recorded}, nil
}

// GetMerkleWitness fetches the membership path for a commitment.
func (g *GatewayClient) GetMerkleWitness(ctx context.Context, commitment *big.Int) (*merkle.Witness, error) {
	var raw struct {
		Root    string   `json:"root"`
		Path    []string `json:"path"`
		Indices []int    `json:"indices"`
	}
	err := g.rpc.CallContext(ctx, &raw, "vault_getMerkleWitness", commitment.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	w := &merkle.Witness{
		Leaf:    new(big.Int).Set(commitment),
		Path:    make([]*big.Int, 0, len(raw.Path)),
		Indices: raw.Indices,
	}
	for i, s := range raw.Path {
		v, err := utils.ParseFieldElement(s)
		if err != nil {
			return nil, fmt.Errorf("%w: bad witness node %d: %v", ErrGatewayUnavailable, i, err)
		}
		w.Path = append(w.Path, v)
	}
	if w.Root, err = utils.ParseFieldElement(raw.Root); err != nil {
		return nil, fmt.Errorf("%w: bad witness root: %v", ErrGatewayUnavailable, err)
	}
	return w, nil
}

// Submit sends a proof-carrying call and waits for its inclusion outcome.
func (g *GatewayClient) Submit(ctx context.Context, call *types.Call) (*types.TxReceipt, error) {
	params := struct {
		Proof    []byte   `json:"proof"`
		Calldata []string `json:"calldata"`
	}{Proof: call.Proof, Calldata: call.Calldata}

	var raw struct {
		TxHash string `json:"tx_hash"`
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := g.rpc.CallContext(ctx, &raw, call.Method, params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	receipt := &types.TxReceipt{TxHash: raw.TxHash, Reason: raw.Reason}
	switch raw.Status {
	case "accepted":
		receipt.Status = types.TxStatusAccepted
	case "reverted":
		receipt.Status = types.TxStatusReverted
	case "timed_out":
		receipt.Status = types.TxStatusTimedOut
	default:
		return nil, fmt.Errorf("%w: unknown tx status %q", ErrGatewayUnavailable, raw.Status)
	}

	logrus.WithFields(logrus.Fields{
		"component": "gateway",
		"method":    call.Method,
		"tx_hash":   receipt.TxHash,
		"status":    raw.Status,
	}).Info("submission settled")
	return receipt, nil
}
