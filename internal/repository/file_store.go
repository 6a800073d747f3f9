package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"vestazk-backend/internal/models"
)

// fileStore implements CommitmentRepository as one JSON file per owner,
// in the portable backup format. The whole blob is passed through the
// injected crypter at rest. Intended for single-writer, local-first
// deployments without a database.
type fileStore struct {
	dir     string
	crypter Crypter
}

// NewFileStore creates a file-backed commitment store rooted at dir.
func NewFileStore(dir string, crypter Crypter) (CommitmentRepository, error) {
	if crypter == nil {
		crypter = NoopCrypter{}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &fileStore{dir: dir, crypter: crypter}, nil
}

func (s *fileStore) path(owner string) string {
	// Owners are hex identities; strip the prefix for a stable filename.
	name := strings.TrimPrefix(strings.ToLower(owner), "0x")
	return filepath.Join(s.dir, name+".json")
}

func (s *fileStore) Save(_ context.Context, record *models.CommitmentRecord) error {
	if record.Owner == "" {
		return fmt.Errorf("record owner is required")
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	backup, err := record.ToBackup()
	if err != nil {
		return err
	}
	blob, err := json.Marshal(backup)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	sealed, err := s.crypter.Encrypt(blob)
	if err != nil {
		return fmt.Errorf("failed to seal record: %w", err)
	}

	tmp := s.path(record.Owner) + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return os.Rename(tmp, s.path(record.Owner))
}

func (s *fileStore) Load(_ context.Context, owner string) (*models.CommitmentRecord, error) {
	sealed, err := os.ReadFile(s.path(owner))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	blob, err := s.crypter.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal record: %w", err)
	}
	var backup models.BackupRecord
	if err := json.Unmarshal(blob, &backup); err != nil {
		return nil, fmt.Errorf("corrupt record for %s: %w", owner, err)
	}
	return models.FromBackup(owner, &backup)
}

func (s *fileStore) Delete(_ context.Context, owner string) error {
	err := os.Remove(s.path(owner))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *fileStore) Export(ctx context.Context, owner string) ([]byte, error) {
	record, err := s.Load(ctx, owner)
	if err != nil || record == nil {
		return nil, err
	}
	backup, err := record.ToBackup()
	if err != nil {
		return nil, err
	}
	return json.Marshal(backup)
}

func (s *fileStore) Import(ctx context.Context, owner string, blob []byte) error {
	var backup models.BackupRecord
	if err := json.Unmarshal(blob, &backup); err != nil {
		return fmt.Errorf("invalid backup blob: %w", err)
	}
	record, err := models.FromBackup(owner, &backup)
	if err != nil {
		return err
	}
	return s.Save(ctx, record)
}
