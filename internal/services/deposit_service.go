package services

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"vestazk-backend/internal/merkle"
	"vestazk-backend/internal/models"
	"vestazk-backend/internal/repository"
	"vestazk-backend/internal/types"
	"vestazk-backend/internal/zk"
)

// DepositService opens a position: it generates the secret salt, derives
// the commitment, locks collateral through the gateway and persists the
// record only after the ledger confirmed the deposit.
type DepositService struct {
	gateway Gateway
	repo    repository.CommitmentRepository
	log     *logrus.Entry
}

// NewDepositService wires the deposit flow.
func NewDepositService(gateway Gateway, repo repository.CommitmentRepository) *DepositService {
	return &DepositService{
		gateway: gateway,
		repo:    repo,
		log:     logrus.WithField("component", "deposit_service"),
	}
}

// Deposit locks amount satoshis of collateral for the session owner.
// One position per owner: a second deposit is refused while a record
// exists, because its salt would be orphaned by a new commitment.
func (s *DepositService) Deposit(ctx context.Context, session *types.Session, amount *big.Int) (*models.CommitmentRecord, error) {
	if session == nil || session.Owner == "" {
		return nil, fmt.Errorf("%w: no signing identity in session", ErrWalletUnavailable)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: deposit amount must be positive", ErrInvalidInput)
	}
	owner, err := session.OwnerField()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	existing, err := s.repo.Load(ctx, session.Owner)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing position: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: commitment %s", ErrPositionExists, existing.Commitment)
	}

	salt, err := zk.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	commitment := zk.Commitment(owner, amount, salt)

	log := s.log.WithFields(logrus.Fields{
		"session":    session.ID,
		"commitment": commitment.String(),
	})
	log.Info("submitting deposit")

	receipt, err := s.gateway.Deposit(ctx, commitment, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	if receipt.Commitment.Cmp(commitment) != 0 {
		// The ledger inserted a different leaf than we derived. Do not
		// persist: the stored secrets would never satisfy a membership
		// proof against that leaf.
		return nil, fmt.Errorf("%w: ledger recorded commitment %s, derived %s",
			ErrSubmissionFailed, receipt.Commitment, commitment)
	}

	witness, err := s.fetchVerifiedWitness(ctx, commitment)
	if err != nil {
		return nil, err
	}

	record := &models.CommitmentRecord{
		Owner:      session.Owner,
		Commitment: commitment.String(),
		Amount:     amount.String(),
		Salt:       salt.String(),
	}
	if err := record.SetWitness(witness); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("deposit confirmed (tx %s) but record save failed: %w", receipt.TxHash, err)
	}

	log.WithField("tx_hash", receipt.TxHash).Info("deposit confirmed")
	return record, nil
}

// fetchVerifiedWitness pulls the membership path for the new leaf and
// checks it reproduces the root the gateway claims, before it is cached.
func (s *DepositService) fetchVerifiedWitness(ctx context.Context, commitment *big.Int) (*merkle.Witness, error) {
	witness, err := s.gateway.GetMerkleWitness(ctx, commitment)
	if err != nil {
		return nil, fmt.Errorf("deposit confirmed but witness fetch failed: %w", err)
	}
	root, err := witness.ComputeRoot()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRootMismatch, err)
	}
	if root.Cmp(witness.Root) != 0 {
		return nil, fmt.Errorf("%w: witness path yields %s, gateway claims %s",
			ErrRootMismatch, root, witness.Root)
	}
	return witness, nil
}

// Status returns the owner's stored position, or (nil, nil) when none
// exists.
func (s *DepositService) Status(ctx context.Context, session *types.Session) (*models.CommitmentRecord, error) {
	if session == nil || session.Owner == "" {
		return nil, fmt.Errorf("%w: no signing identity in session", ErrWalletUnavailable)
	}
	return s.repo.Load(ctx, session.Owner)
}

// Export returns the owner's position backup blob, or (nil, nil) when no
// position exists.
func (s *DepositService) Export(ctx context.Context, session *types.Session) ([]byte, error) {
	if session == nil || session.Owner == "" {
		return nil, fmt.Errorf("%w: no signing identity in session", ErrWalletUnavailable)
	}
	return s.repo.Export(ctx, session.Owner)
}

// Import restores a position from a backup blob. The cached witness may
// be stale; the action services revalidate it against the live root.
func (s *DepositService) Import(ctx context.Context, session *types.Session, blob []byte) error {
	if session == nil || session.Owner == "" {
		return fmt.Errorf("%w: no signing identity in session", ErrWalletUnavailable)
	}
	if len(blob) == 0 {
		return fmt.Errorf("%w: empty backup", ErrInvalidInput)
	}
	started := time.Now()
	if err := s.repo.Import(ctx, session.Owner, blob); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	s.log.WithFields(logrus.Fields{
		"session":  session.ID,
		"duration": time.Since(started).String(),
	}).Info("position restored from backup")
	return nil
}
