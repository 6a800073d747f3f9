package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"vestazk-backend/internal/types"
	"vestazk-backend/internal/utils"
)

// ErrProverUnavailable means the proof backend failed, rejected the
// request, or could not be reached. It always propagates as an explicit
// failure; there is no placeholder artifact path.
var ErrProverUnavailable = errors.New("proof backend unavailable")

// ProverClient talks to the proof backend service over HTTP.
type ProverClient struct {
	BaseURL string
	Client  *http.Client
}

// NewProverClient creates a proof backend client. The timeout bounds a
// single proof generation request, which routinely runs tens of seconds.
func NewProverClient(baseURL string, timeout time.Duration) *ProverClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ProverClient{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

// proveResponse is the backend's response envelope. PublicEcho returns the
// inputs the backend actually proved against, for binding checks.
type proveResponse struct {
	Success      bool               `json:"success"`
	Proof        string             `json:"proof"`
	PublicEcho   *types.ProofInputs `json:"public_inputs"`
	ErrorMessage *string            `json:"error_message"`
}

// Prove submits the input record and returns the proof artifact bound to
// its public inputs. Any backend failure surfaces as ErrProverUnavailable.
func (c *ProverClient) Prove(ctx context.Context, inputs *types.ProofInputs) (*types.ProofArtifact, error) {
	body, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proof inputs: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/api/proof/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build proof request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProverUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrProverUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrProverUnavailable, resp.StatusCode, string(data))
	}

	var result proveResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrProverUnavailable, err)
	}
	if !result.Success || result.Proof == "" {
		msg := "no detail"
		if result.ErrorMessage != nil {
			msg = *result.ErrorMessage
		}
		return nil, fmt.Errorf("%w: %s", ErrProverUnavailable, msg)
	}

	proof, err := hexutil.Decode(result.Proof)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid proof encoding: %v", ErrProverUnavailable, err)
	}

	// The proof must be bound to the exact public values it was generated
	// against; a backend echoing different values is a hard failure.
	if result.PublicEcho != nil {
		if result.PublicEcho.MerkleRoot != inputs.MerkleRoot ||
			result.PublicEcho.Nullifier != inputs.Nullifier {
			return nil, fmt.Errorf("%w: public input echo mismatch", ErrProverUnavailable)
		}
	}

	public, err := publicFromInputs(inputs)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"component": "prover",
		"duration":  time.Since(started).String(),
		"bytes":     len(proof),
	}).Info("proof generated")

	return &types.ProofArtifact{Proof: proof, Public: *public}, nil
}

// publicFromInputs extracts the public subset of a proof input record.
func publicFromInputs(in *types.ProofInputs) (*types.PublicInputs, error) {
	p := &types.PublicInputs{}
	var err error
	if p.MerkleRoot, err = utils.ParseFieldElement(in.MerkleRoot); err != nil {
		return nil, fmt.Errorf("invalid merkle root: %w", err)
	}
	if p.BorrowAmount, err = utils.ParseU256(in.BorrowAmount); err != nil {
		return nil, fmt.Errorf("invalid borrow amount: %w", err)
	}
	if p.BtcAmount, err = utils.ParseU256(in.BtcAmount); err != nil {
		return nil, fmt.Errorf("invalid btc amount: %w", err)
	}
	if p.BtcPrice, err = utils.ParseU256(in.BtcPrice); err != nil {
		return nil, fmt.Errorf("invalid btc price: %w", err)
	}
	if p.UsdcPrice, err = utils.ParseU256(in.UsdcPrice); err != nil {
		return nil, fmt.Errorf("invalid usdc price: %w", err)
	}
	if p.MinHealthFactor, err = utils.ParseU256(in.MinHealthFactor); err != nil {
		return nil, fmt.Errorf("invalid min health factor: %w", err)
	}
	if p.Nullifier, err = utils.ParseFieldElement(in.Nullifier); err != nil {
		return nil, fmt.Errorf("invalid nullifier: %w", err)
	}
	if p.Owner, err = utils.ParseFieldElement(in.Owner); err != nil {
		return nil, fmt.Errorf("invalid owner: %w", err)
	}
	return p, nil
}
