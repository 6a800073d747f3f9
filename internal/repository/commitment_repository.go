package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"vestazk-backend/internal/models"
)

// CommitmentRepository is the commitment store: one record per owner
// identity. Load and Export report an absent record as (nil, nil); absence
// is a normal state before the first deposit, not an error.
type CommitmentRepository interface {
	Save(ctx context.Context, record *models.CommitmentRecord) error
	Load(ctx context.Context, owner string) (*models.CommitmentRecord, error)
	Delete(ctx context.Context, owner string) error
	Export(ctx context.Context, owner string) ([]byte, error)
	Import(ctx context.Context, owner string, blob []byte) error
}

// Crypter is an injected confidentiality-at-rest capability. The store
// itself assumes nothing about the cipher; NoopCrypter stores plaintext.
type Crypter interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// NoopCrypter passes data through unchanged.
type NoopCrypter struct{}

func (NoopCrypter) Encrypt(p []byte) ([]byte, error) { return p, nil }
func (NoopCrypter) Decrypt(c []byte) ([]byte, error) { return c, nil }

// commitmentRepository implements CommitmentRepository on GORM/Postgres.
// The salt column is passed through the injected crypter.
type commitmentRepository struct {
	db      *gorm.DB
	crypter Crypter
}

// NewCommitmentRepository creates a database-backed commitment store.
func NewCommitmentRepository(db *gorm.DB, crypter Crypter) CommitmentRepository {
	if crypter == nil {
		crypter = NoopCrypter{}
	}
	return &commitmentRepository{db: db, crypter: crypter}
}

// Save writes or overwrites the one record for the record's owner.
func (r *commitmentRepository) Save(ctx context.Context, record *models.CommitmentRecord) error {
	if record.Owner == "" {
		return fmt.Errorf("record owner is required")
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	sealed, err := r.crypter.Encrypt([]byte(record.Salt))
	if err != nil {
		return fmt.Errorf("failed to seal salt: %w", err)
	}
	stored := *record
	stored.Salt = string(sealed)

	var existing models.CommitmentRecord
	err = r.db.WithContext(ctx).Where("owner = ?", record.Owner).First(&existing).Error
	switch {
	case err == nil:
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
		return r.db.WithContext(ctx).Save(&stored).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return r.db.WithContext(ctx).Create(&stored).Error
	default:
		return err
	}
}

// Load retrieves the record for the owner, or (nil, nil) when absent.
func (r *commitmentRepository) Load(ctx context.Context, owner string) (*models.CommitmentRecord, error) {
	var record models.CommitmentRecord
	err := r.db.WithContext(ctx).Where("owner = ?", owner).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	salt, err := r.crypter.Decrypt([]byte(record.Salt))
	if err != nil {
		return nil, fmt.Errorf("failed to unseal salt: %w", err)
	}
	record.Salt = string(salt)
	return &record, nil
}

// Delete removes the owner's record. Deleting an absent record is a no-op.
func (r *commitmentRepository) Delete(ctx context.Context, owner string) error {
	return r.db.WithContext(ctx).Where("owner = ?", owner).Delete(&models.CommitmentRecord{}).Error
}

// Export serializes the owner's record into the portable backup format.
func (r *commitmentRepository) Export(ctx context.Context, owner string) ([]byte, error) {
	record, err := r.Load(ctx, owner)
	if err != nil || record == nil {
		return nil, err
	}
	backup, err := record.ToBackup()
	if err != nil {
		return nil, err
	}
	return json.Marshal(backup)
}

// Import restores a record for the owner from a backup blob, overwriting
// any existing record.
func (r *commitmentRepository) Import(ctx context.Context, owner string, blob []byte) error {
	var backup models.BackupRecord
	if err := json.Unmarshal(blob, &backup); err != nil {
		return fmt.Errorf("invalid backup blob: %w", err)
	}
	record, err := models.FromBackup(owner, &backup)
	if err != nil {
		return err
	}
	return r.Save(ctx, record)
}
