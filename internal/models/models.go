package models

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"vestazk-backend/internal/merkle"
	"vestazk-backend/internal/utils"
)

// CommitmentRecord is the one persisted position per owner identity. The
// commitment, amount and salt are immutable once created; the merkle
// fields are a cached witness for the tree state at deposit time and must
// be revalidated against the live root before use.
type CommitmentRecord struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	Owner         string    `json:"owner" gorm:"uniqueIndex;not null"`
	Commitment    string    `json:"commitment" gorm:"index;not null"`
	Amount        string    `json:"amount" gorm:"not null"`
	Salt          string    `json:"salt" gorm:"not null"`
	MerkleRoot    string    `json:"merkle_root" gorm:"not null"`
	MerklePath    string    `json:"merkle_path" gorm:"type:jsonb;not null"`
	MerkleIndices string    `json:"merkle_indices" gorm:"type:jsonb;not null"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BackupRecord is the portable JSON form of a CommitmentRecord, the shape
// produced by export and accepted by import.
type BackupRecord struct {
	Commitment    string   `json:"commitment"`
	BtcAmount     string   `json:"btcAmount"`
	Salt          string   `json:"salt"`
	MerkleRoot    string   `json:"merkleRoot"`
	MerklePath    []string `json:"merklePath"`
	MerkleIndices []int    `json:"merkleIndices"`
	Timestamp     int64    `json:"timestamp"`
}

// SetWitness stores the witness path and indices as JSON columns and the
// witness root as the deposit-time snapshot.
func (r *CommitmentRecord) SetWitness(w *merkle.Witness) error {
	path := make([]string, len(w.Path))
	for i, p := range w.Path {
		path[i] = p.String()
	}
	pathJSON, err := json.Marshal(path)
	if err != nil {
		return fmt.Errorf("failed to encode merkle path: %w", err)
	}
	idxJSON, err := json.Marshal(w.Indices)
	if err != nil {
		return fmt.Errorf("failed to encode merkle indices: %w", err)
	}
	r.MerklePath = string(pathJSON)
	r.MerkleIndices = string(idxJSON)
	r.MerkleRoot = w.Root.String()
	return nil
}

// Witness reconstructs the cached merkle witness from the record.
func (r *CommitmentRecord) Witness() (*merkle.Witness, error) {
	var path []string
	if err := json.Unmarshal([]byte(r.MerklePath), &path); err != nil {
		return nil, fmt.Errorf("failed to decode merkle path: %w", err)
	}
	var indices []int
	if err := json.Unmarshal([]byte(r.MerkleIndices), &indices); err != nil {
		return nil, fmt.Errorf("failed to decode merkle indices: %w", err)
	}

	w := &merkle.Witness{
		Path:    make([]*big.Int, len(path)),
		Indices: indices,
	}
	var err error
	if w.Leaf, err = utils.ParseFieldElement(r.Commitment); err != nil {
		return nil, err
	}
	if w.Root, err = utils.ParseFieldElement(r.MerkleRoot); err != nil {
		return nil, err
	}
	for i, p := range path {
		if w.Path[i], err = utils.ParseFieldElement(p); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// ToBackup converts the record into its portable backup form.
func (r *CommitmentRecord) ToBackup() (*BackupRecord, error) {
	var path []string
	if err := json.Unmarshal([]byte(r.MerklePath), &path); err != nil {
		return nil, fmt.Errorf("failed to decode merkle path: %w", err)
	}
	var indices []int
	if err := json.Unmarshal([]byte(r.MerkleIndices), &indices); err != nil {
		return nil, fmt.Errorf("failed to decode merkle indices: %w", err)
	}
	return &BackupRecord{
		Commitment:    r.Commitment,
		BtcAmount:     r.Amount,
		Salt:          r.Salt,
		MerkleRoot:    r.MerkleRoot,
		MerklePath:    path,
		MerkleIndices: indices,
		Timestamp:     r.CreatedAt.Unix(),
	}, nil
}

// FromBackup reconstructs a record for the given owner from its backup
// form. The record id is assigned by the store on save.
func FromBackup(owner string, b *BackupRecord) (*CommitmentRecord, error) {
	pathJSON, err := json.Marshal(b.MerklePath)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merkle path: %w", err)
	}
	idxJSON, err := json.Marshal(b.MerkleIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merkle indices: %w", err)
	}
	return &CommitmentRecord{
		Owner:         owner,
		Commitment:    b.Commitment,
		Amount:        b.BtcAmount,
		Salt:          b.Salt,
		MerkleRoot:    b.MerkleRoot,
		MerklePath:    string(pathJSON),
		MerkleIndices: string(idxJSON),
		CreatedAt:     time.Unix(b.Timestamp, 0).UTC(),
	}, nil
}
