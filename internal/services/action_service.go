package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"vestazk-backend/internal/config"
	"vestazk-backend/internal/events"
	"vestazk-backend/internal/health"
	"vestazk-backend/internal/merkle"
	"vestazk-backend/internal/metrics"
	"vestazk-backend/internal/models"
	"vestazk-backend/internal/repository"
	"vestazk-backend/internal/types"
	"vestazk-backend/internal/zk"
)

// ActionService drives the borrow and emergency-exit flows end to end:
// witness revalidation, local health gating, nullifier derivation, proof
// generation and the single atomic submission. Every flow walks the same
// lifecycle (proof_requested, proof_generated, submitting, then success
// or error) and nothing retries implicitly.
type ActionService struct {
	gateway Gateway
	prover  Prover
	repo    repository.CommitmentRepository
	events  *events.Publisher

	btcPriceRaw  string
	usdcPriceRaw string
	btcPrice     decimal.Decimal
	usdcPrice    decimal.Decimal
	minBorrowPct int64
	minExitPct   int64
	proverWait   time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}

	log *logrus.Entry
}

// NewActionService wires the action flows. pub may be nil.
func NewActionService(gateway Gateway, prover Prover, repo repository.CommitmentRepository,
	pub *events.Publisher, cfg *config.Config) *ActionService {
	return &ActionService{
		gateway:      gateway,
		prover:       prover,
		repo:         repo,
		events:       pub,
		btcPriceRaw:  cfg.Protocol.BtcPriceRaw,
		usdcPriceRaw: cfg.Protocol.UsdcPriceRaw,
		btcPrice:     decimal.NewFromInt(cfg.Protocol.BtcPrice),
		usdcPrice:    decimal.NewFromInt(cfg.Protocol.UsdcPrice),
		minBorrowPct: cfg.Protocol.MinHealthBorrowPct,
		minExitPct:   cfg.Protocol.MinHealthExitPct,
		proverWait:   cfg.ProverTimeout(),
		inFlight:     make(map[string]struct{}),
		log:          logrus.WithField("component", "action_service"),
	}
}

// Borrow borrows amount (USDC, 1e6 units) against the owner's position.
func (s *ActionService) Borrow(ctx context.Context, session *types.Session, amount *big.Int) (*types.TxReceipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: borrow amount must be positive", ErrInvalidInput)
	}
	return s.run(ctx, session, types.ActionKindBorrow, amount)
}

// Exit withdraws the full collateral and closes the position. On a
// confirmed exit the stored record is deleted; its nullifier is spent and
// the position can never be acted on again.
func (s *ActionService) Exit(ctx context.Context, session *types.Session) (*types.TxReceipt, error) {
	return s.run(ctx, session, types.ActionKindExit, nil)
}

func (s *ActionService) run(ctx context.Context, session *types.Session, kind types.ActionKind, amount *big.Int) (receipt *types.TxReceipt, err error) {
	if session == nil || session.Owner == "" {
		return nil, fmt.Errorf("%w: no signing identity in session", ErrWalletUnavailable)
	}
	if err := s.acquire(session.Owner, kind); err != nil {
		return nil, err
	}
	defer s.release(session.Owner, kind)

	log := s.log.WithFields(logrus.Fields{
		"session": session.ID,
		"kind":    string(kind),
	})

	defer func() {
		if err != nil {
			s.transition(session, kind, types.ActionStatusError, "", err)
			metrics.ActionsTotal.WithLabelValues(string(kind), "error").Inc()
		} else {
			s.transition(session, kind, types.ActionStatusSuccess, receipt.TxHash, nil)
			metrics.ActionsTotal.WithLabelValues(string(kind), "success").Inc()
		}
	}()

	owner, perr := session.OwnerField()
	if perr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, perr)
	}

	record, perr := s.repo.Load(ctx, session.Owner)
	if perr != nil {
		return nil, fmt.Errorf("failed to load position: %w", perr)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: deposit first or import a backup", ErrNoCommitment)
	}

	commitment, collateral, salt, perr := recordSecrets(record)
	if perr != nil {
		return nil, perr
	}

	// Verify the stored secrets still derive the recorded leaf before
	// anything is spent on proving.
	if derived := zk.Commitment(owner, collateral, salt); derived.Cmp(commitment) != 0 {
		return nil, fmt.Errorf("%w: stored secrets do not derive commitment %s",
			ErrInvalidInput, record.Commitment)
	}

	liveRoot, perr := s.gateway.GetMerkleRoot(ctx)
	if perr != nil {
		return nil, perr
	}
	witness, perr := s.freshWitness(ctx, record, commitment, liveRoot)
	if perr != nil {
		return nil, perr
	}

	if perr := s.gateHealth(kind, collateral, amount); perr != nil {
		return nil, perr
	}

	nullifier, perr := zk.Nullifier(commitment, actionFor(kind), amount)
	if perr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, perr)
	}
	used, perr := s.gateway.IsNullifierUsed(ctx, nullifier)
	if perr != nil {
		return nil, perr
	}
	if used {
		return nil, fmt.Errorf("%w: %s", ErrNullifierUsed, nullifier)
	}

	s.transition(session, kind, types.ActionStatusProofRequested, "", nil)
	artifact, perr := s.prove(ctx, kind, record, witness, liveRoot, owner, amount, salt, nullifier)
	if perr != nil {
		return nil, perr
	}
	s.transition(session, kind, types.ActionStatusProofGenerated, "", nil)

	// The proof must bind the root that will be submitted. A tree update
	// between witness refresh and proving shows up here.
	if artifact.Public.MerkleRoot.Cmp(liveRoot) != 0 {
		return nil, fmt.Errorf("%w: proof bound to root %s, live root is %s",
			ErrRootMismatch, artifact.Public.MerkleRoot, liveRoot)
	}
	artifact.Public.Commitment = commitment

	var call types.Call
	switch kind {
	case types.ActionKindBorrow:
		call = types.EncodeBorrowCall(artifact)
	case types.ActionKindExit:
		call = types.EncodeExitCall(artifact)
	}

	s.transition(session, kind, types.ActionStatusSubmitting, "", nil)
	receipt, perr = s.gateway.Submit(ctx, &call)
	if perr != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubmissionFailed, perr)
	}
	switch receipt.Status {
	case types.TxStatusReverted:
		return nil, fmt.Errorf("%w: %s", ErrSubmissionFailed, receipt.Reason)
	case types.TxStatusTimedOut:
		return nil, fmt.Errorf("%w: tx %s", ErrSubmissionTimeout, receipt.TxHash)
	}

	if kind == types.ActionKindExit {
		if derr := s.repo.Delete(ctx, session.Owner); derr != nil {
			// The exit landed; the stale record is unusable either way
			// because its nullifier is spent.
			log.WithError(derr).Warn("exit confirmed but record cleanup failed")
		}
	}
	log.WithField("tx_hash", receipt.TxHash).Info("action confirmed")
	return receipt, nil
}

// freshWitness revalidates the cached witness against the live root. On a
// stale root it refetches the path once; the refreshed witness is used
// for this action only, never written back.
func (s *ActionService) freshWitness(ctx context.Context, record *models.CommitmentRecord, commitment, liveRoot *big.Int) (*merkle.Witness, error) {
	cached, err := record.Witness()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	tracker, err := merkle.NewTracker(cached)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if err := tracker.Refresh(liveRoot); err == nil {
		return tracker.Witness(), nil
	} else if !errors.Is(err, merkle.ErrStaleRoot) {
		return nil, fmt.Errorf("%w: %v", ErrRootMismatch, err)
	}

	s.log.WithField("live_root", liveRoot.String()).Info("cached witness stale, refetching path")
	fresh, err := s.gateway.GetMerkleWitness(ctx, commitment)
	if err != nil {
		return nil, fmt.Errorf("%w: witness refetch failed: %v", ErrRootMismatch, err)
	}
	root, err := fresh.ComputeRoot()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRootMismatch, err)
	}
	if root.Cmp(liveRoot) != 0 {
		return nil, fmt.Errorf("%w: refetched witness yields %s, live root is %s",
			ErrRootMismatch, root, liveRoot)
	}
	fresh.Root = new(big.Int).Set(liveRoot)
	return fresh, nil
}

// gateHealth enforces the per-action health minimum locally, before any
// proof is requested. Borrow checks the post-borrow position; exit repays
// all debt, so its position is unbounded and always passes.
func (s *ActionService) gateHealth(kind types.ActionKind, collateral, borrowAmount *big.Int) error {
	if kind != types.ActionKindBorrow {
		return nil
	}
	ratio := health.Evaluate(collateral, borrowAmount, s.btcPrice, s.usdcPrice)
	min := health.FromPercent(s.minBorrowPct)
	if !ratio.Meets(min) {
		return fmt.Errorf("%w: health factor %s below minimum %s",
			ErrInsufficientHealth, ratio, min)
	}
	return nil
}

func (s *ActionService) prove(ctx context.Context, kind types.ActionKind, record *models.CommitmentRecord,
	witness *merkle.Witness, liveRoot, owner, amount, salt, nullifier *big.Int) (*types.ProofArtifact, error) {

	path := make([]string, len(witness.Path))
	for i, p := range witness.Path {
		path[i] = p.String()
	}
	inputs := &types.ProofInputs{
		MerkleRoot:    liveRoot.String(),
		MerklePath:    path,
		MerkleIndices: append([]int(nil), witness.Indices...),
		BtcPrice:      s.btcPriceRaw,
		UsdcPrice:     s.usdcPriceRaw,
		Owner:         owner.String(),
		BtcAmount:     record.Amount,
		Salt:          salt.String(),
		Nullifier:     nullifier.String(),
	}
	switch kind {
	case types.ActionKindBorrow:
		inputs.BorrowAmount = amount.String()
		inputs.MinHealthFactor = strconv.FormatInt(s.minBorrowPct, 10)
	case types.ActionKindExit:
		inputs.BorrowAmount = "0"
		inputs.MinHealthFactor = strconv.FormatInt(s.minExitPct, 10)
	}

	proveCtx, cancel := context.WithTimeout(ctx, s.proverWait)
	defer cancel()

	started := time.Now()
	artifact, err := s.prover.Prove(proveCtx, inputs)
	metrics.ProofDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.ProofRequestsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.ProofRequestsTotal.WithLabelValues("success").Inc()

	if kind == types.ActionKindExit {
		// The exit circuit proves the closed position's health at the
		// exit threshold, published in 1e6 scale.
		artifact.Public.HealthFactor = big.NewInt(s.minExitPct * 10000)
	}
	return artifact, nil
}

func (s *ActionService) transition(session *types.Session, kind types.ActionKind, status types.ActionStatus, txHash string, cause error) {
	fields := logrus.Fields{
		"session": session.ID,
		"kind":    string(kind),
		"status":  string(status),
	}
	ev := events.ActionStatusEvent{
		SessionID: session.ID,
		Kind:      kind,
		Status:    status,
		TxHash:    txHash,
		Timestamp: time.Now().Unix(),
	}
	if cause != nil {
		ev.Error = cause.Error()
		s.log.WithFields(fields).WithError(cause).Error("action failed")
	} else {
		s.log.WithFields(fields).Info("action status")
	}
	s.events.PublishActionStatus(ev)
}

func (s *ActionService) acquire(owner string, kind types.ActionKind) error {
	key := owner + "/" + string(kind)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return fmt.Errorf("%w: %s for %s", ErrActionInFlight, kind, owner)
	}
	s.inFlight[key] = struct{}{}
	return nil
}

func (s *ActionService) release(owner string, kind types.ActionKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, owner+"/"+string(kind))
}

func actionFor(kind types.ActionKind) zk.Action {
	if kind == types.ActionKindExit {
		return zk.ActionExit
	}
	return zk.ActionBorrow
}

// recordSecrets parses the persisted position fields.
func recordSecrets(record *models.CommitmentRecord) (commitment, amount, salt *big.Int, err error) {
	var ok bool
	if commitment, ok = new(big.Int).SetString(record.Commitment, 10); !ok {
		return nil, nil, nil, fmt.Errorf("%w: corrupt commitment %q", ErrInvalidInput, record.Commitment)
	}
	if amount, ok = new(big.Int).SetString(record.Amount, 10); !ok || amount.Sign() <= 0 {
		return nil, nil, nil, fmt.Errorf("%w: corrupt amount %q", ErrInvalidInput, record.Amount)
	}
	if salt, ok = new(big.Int).SetString(record.Salt, 10); !ok {
		return nil, nil, nil, fmt.Errorf("%w: corrupt salt %q", ErrInvalidInput, record.Salt)
	}
	return commitment, amount, salt, nil
}
