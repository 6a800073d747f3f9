package services

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vestazk-backend/internal/merkle"
	"vestazk-backend/internal/types"
	"vestazk-backend/internal/utils"
	"vestazk-backend/internal/zk"
)

// depositGateway wraps fakeGateway so the witness can be derived from the
// commitment the service generates.
type depositGateway struct {
	fakeGateway
	t *testing.T
}

func (g *depositGateway) GetMerkleWitness(_ context.Context, commitment *big.Int) (*merkle.Witness, error) {
	if g.witnessErr != nil {
		return nil, g.witnessErr
	}
	return buildWitness(g.t, commitment), nil
}

func TestDepositCreatesRecord(t *testing.T) {
	repo := newMemoryRepo()
	gw := &depositGateway{t: t}
	svc := NewDepositService(gw, repo)

	owner := "123456"
	session := types.NewSession(owner)
	amount := big.NewInt(100000000)

	record, err := svc.Deposit(context.Background(), session, amount)
	require.NoError(t, err)
	require.NotNil(t, record)

	// The stored secrets re-derive the commitment the ledger recorded.
	ownerField, err := utils.ParseFieldElement(owner)
	require.NoError(t, err)
	salt, ok := new(big.Int).SetString(record.Salt, 10)
	require.True(t, ok)
	derived := zk.Commitment(ownerField, amount, salt)
	assert.Equal(t, derived.String(), record.Commitment)
	require.Len(t, gw.deposits, 1)
	assert.Equal(t, derived.String(), gw.deposits[0].String())

	// The cached witness reproduces its snapshot root.
	w, err := record.Witness()
	require.NoError(t, err)
	root, err := w.ComputeRoot()
	require.NoError(t, err)
	assert.Equal(t, w.Root.String(), root.String())

	stored, err := repo.Load(context.Background(), owner)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestDepositRefusedWhilePositionOpen(t *testing.T) {
	repo := newMemoryRepo()
	owner := "123456"
	seedPosition(t, repo, owner)

	gw := &depositGateway{t: t}
	svc := NewDepositService(gw, repo)

	_, err := svc.Deposit(context.Background(), types.NewSession(owner), big.NewInt(1))
	assert.ErrorIs(t, err, ErrPositionExists)
	assert.Empty(t, gw.deposits)
}

func TestDepositCommitmentEchoMismatch(t *testing.T) {
	repo := newMemoryRepo()
	gw := &depositGateway{t: t}
	gw.depositEcho = big.NewInt(31337)
	svc := NewDepositService(gw, repo)

	owner := "123456"
	_, err := svc.Deposit(context.Background(), types.NewSession(owner), big.NewInt(100000000))
	require.ErrorIs(t, err, ErrSubmissionFailed)

	// Nothing unusable is persisted.
	stored, err := repo.Load(context.Background(), owner)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestDepositInvalidAmount(t *testing.T) {
	svc := NewDepositService(&depositGateway{t: t}, newMemoryRepo())

	_, err := svc.Deposit(context.Background(), types.NewSession("123456"), big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Deposit(context.Background(), types.NewSession("123456"), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestExportImportRoundTrip(t *testing.T) {
	repo := newMemoryRepo()
	owner := "123456"
	_, commitment := seedPosition(t, repo, owner)

	svc := NewDepositService(&depositGateway{t: t}, repo)
	session := types.NewSession(owner)

	blob, err := svc.Export(context.Background(), session)
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	require.NoError(t, repo.Delete(context.Background(), owner))

	require.NoError(t, svc.Import(context.Background(), session, blob))
	restored, err := repo.Load(context.Background(), owner)
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, commitment.String(), restored.Commitment)
}

func TestExportWithoutPosition(t *testing.T) {
	svc := NewDepositService(&depositGateway{t: t}, newMemoryRepo())

	blob, err := svc.Export(context.Background(), types.NewSession("123456"))
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestImportRejectsGarbage(t *testing.T) {
	svc := NewDepositService(&depositGateway{t: t}, newMemoryRepo())

	err := svc.Import(context.Background(), types.NewSession("123456"), []byte("not json"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = svc.Import(context.Background(), types.NewSession("123456"), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
