package models

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vestazk-backend/internal/merkle"
)

func sampleWitness(t *testing.T) *merkle.Witness {
	t.Helper()
	w := &merkle.Witness{
		Leaf:    big.NewInt(12345),
		Path:    make([]*big.Int, merkle.Depth),
		Indices: make([]int, merkle.Depth),
	}
	for i := 0; i < merkle.Depth; i++ {
		w.Path[i] = big.NewInt(int64(i + 1))
		w.Indices[i] = i % 2
	}
	root, err := w.ComputeRoot()
	require.NoError(t, err)
	w.Root = root
	return w
}

func TestWitnessColumnsRoundTrip(t *testing.T) {
	w := sampleWitness(t)
	record := &CommitmentRecord{
		Owner:      "0xabc",
		Commitment: "12345",
		Amount:     "100000000",
		Salt:       "777",
	}
	require.NoError(t, record.SetWitness(w))
	assert.Equal(t, w.Root.String(), record.MerkleRoot)

	got, err := record.Witness()
	require.NoError(t, err)
	assert.Equal(t, w.Leaf.String(), got.Leaf.String())
	assert.Equal(t, w.Indices, got.Indices)
	root, err := got.ComputeRoot()
	require.NoError(t, err)
	assert.Equal(t, w.Root.String(), root.String())
}

func TestBackupRoundTrip(t *testing.T) {
	w := sampleWitness(t)
	record := &CommitmentRecord{
		Owner:      "0xabc",
		Commitment: "12345",
		Amount:     "100000000",
		Salt:       "777",
	}
	require.NoError(t, record.SetWitness(w))

	backup, err := record.ToBackup()
	require.NoError(t, err)
	assert.Equal(t, "12345", backup.Commitment)
	assert.Equal(t, "100000000", backup.BtcAmount)
	assert.Equal(t, "777", backup.Salt)
	assert.Len(t, backup.MerklePath, merkle.Depth)

	restored, err := FromBackup("0xabc", backup)
	require.NoError(t, err)
	assert.Equal(t, record.Commitment, restored.Commitment)
	assert.Equal(t, record.Amount, restored.Amount)
	assert.Equal(t, record.Salt, restored.Salt)
	assert.Equal(t, record.MerkleRoot, restored.MerkleRoot)
	assert.Equal(t, record.MerklePath, restored.MerklePath)
}

func TestWitnessRejectsCorruptColumns(t *testing.T) {
	record := &CommitmentRecord{
		Commitment:    "12345",
		MerkleRoot:    "1",
		MerklePath:    "not json",
		MerkleIndices: "[]",
	}
	_, err := record.Witness()
	assert.Error(t, err)
}
