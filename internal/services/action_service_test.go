package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vestazk-backend/internal/clients"
	"vestazk-backend/internal/config"
	"vestazk-backend/internal/merkle"
	"vestazk-backend/internal/models"
	"vestazk-backend/internal/types"
	"vestazk-backend/internal/utils"
	"vestazk-backend/internal/zk"
)

// memoryRepo is an in-memory CommitmentRepository for tests.
type memoryRepo struct {
	mu      sync.Mutex
	records map[string]*models.CommitmentRecord
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: make(map[string]*models.CommitmentRecord)}
}

func (m *memoryRepo) Save(_ context.Context, r *models.CommitmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.records[r.Owner] = &cp
	return nil
}

func (m *memoryRepo) Load(_ context.Context, owner string) (*models.CommitmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[owner]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memoryRepo) Delete(_ context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, owner)
	return nil
}

func (m *memoryRepo) Export(ctx context.Context, owner string) ([]byte, error) {
	r, err := m.Load(ctx, owner)
	if err != nil || r == nil {
		return nil, err
	}
	b, err := r.ToBackup()
	if err != nil {
		return nil, err
	}
	return json.Marshal(b)
}

func (m *memoryRepo) Import(ctx context.Context, owner string, blob []byte) error {
	var b models.BackupRecord
	if err := json.Unmarshal(blob, &b); err != nil {
		return err
	}
	r, err := models.FromBackup(owner, &b)
	if err != nil {
		return err
	}
	return m.Save(ctx, r)
}

// fakeGateway scripts the ledger surface.
type fakeGateway struct {
	mu            sync.Mutex
	root          *big.Int
	count         uint64
	nullifierUsed bool
	witness       *merkle.Witness
	witnessErr    error
	submitStatus  types.TxStatus
	submitReason  string
	submitGate    chan struct{} // when set, Submit blocks until closed
	submitted     []*types.Call
	deposits      []*big.Int
	depositEcho   *big.Int // overrides the echoed commitment when set
}

func (f *fakeGateway) GetMerkleRoot(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.root), nil
}

func (f *fakeGateway) GetCommitmentCount(context.Context) (uint64, error) {
	return f.count, nil
}

func (f *fakeGateway) IsNullifierUsed(context.Context, *big.Int) (bool, error) {
	return f.nullifierUsed, nil
}

func (f *fakeGateway) GetAggregateHealth(context.Context) (*types.AggregateHealth, error) {
	return &types.AggregateHealth{
		CollateralUSD: big.NewInt(65000000000),
		DebtUSD:       big.NewInt(50000000000),
		HealthFactor:  big.NewInt(1300000),
	}, nil
}

func (f *fakeGateway) GetMerkleWitness(context.Context, *big.Int) (*merkle.Witness, error) {
	if f.witnessErr != nil {
		return nil, f.witnessErr
	}
	return f.witness.Clone(), nil
}

func (f *fakeGateway) Deposit(_ context.Context, commitment, _ *big.Int) (*types.DepositReceipt, error) {
	f.mu.Lock()
	f.deposits = append(f.deposits, new(big.Int).Set(commitment))
	f.mu.Unlock()
	echo := commitment
	if f.depositEcho != nil {
		echo = f.depositEcho
	}
	return &types.DepositReceipt{TxHash: "0xdep", Commitment: new(big.Int).Set(echo)}, nil
}

func (f *fakeGateway) Submit(_ context.Context, call *types.Call) (*types.TxReceipt, error) {
	if f.submitGate != nil {
		<-f.submitGate
	}
	f.mu.Lock()
	f.submitted = append(f.submitted, call)
	f.mu.Unlock()
	status := f.submitStatus
	if status == "" {
		status = types.TxStatusAccepted
	}
	return &types.TxReceipt{TxHash: "0xabc", Status: status, Reason: f.submitReason}, nil
}

// fakeProver derives public inputs from the request like the real backend.
type fakeProver struct {
	mu     sync.Mutex
	err    error
	inputs []*types.ProofInputs
	// root override makes the artifact claim a different root
	rootOverride *big.Int
}

func (f *fakeProver) Prove(_ context.Context, in *types.ProofInputs) (*types.ProofArtifact, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	mustInt := func(s string) *big.Int {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			panic(fmt.Sprintf("bad test input %q", s))
		}
		return v
	}
	public := types.PublicInputs{
		MerkleRoot:      mustInt(in.MerkleRoot),
		BorrowAmount:    mustInt(in.BorrowAmount),
		BtcAmount:       mustInt(in.BtcAmount),
		BtcPrice:        mustInt(in.BtcPrice),
		UsdcPrice:       mustInt(in.UsdcPrice),
		MinHealthFactor: mustInt(in.MinHealthFactor),
		Nullifier:       mustInt(in.Nullifier),
		Owner:           mustInt(in.Owner),
	}
	if f.rootOverride != nil {
		public.MerkleRoot = f.rootOverride
	}
	return &types.ProofArtifact{Proof: []byte{1, 2, 3}, Public: public}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Prover: config.ProverConfig{Timeout: 5},
		Protocol: config.ProtocolConfig{
			BtcPriceRaw:        "65000000000",
			UsdcPriceRaw:       "1000000",
			BtcPrice:           65000,
			UsdcPrice:          1,
			MinHealthBorrowPct: 110,
			MinHealthExitPct:   150,
		},
	}
}

// buildWitness constructs a consistent depth-20 membership path for leaf.
func buildWitness(t *testing.T, leaf *big.Int) *merkle.Witness {
	t.Helper()
	w := &merkle.Witness{
		Leaf:    new(big.Int).Set(leaf),
		Path:    make([]*big.Int, merkle.Depth),
		Indices: make([]int, merkle.Depth),
	}
	for i := 0; i < merkle.Depth; i++ {
		w.Path[i] = big.NewInt(int64(i + 1))
	}
	root, err := w.ComputeRoot()
	require.NoError(t, err)
	w.Root = root
	return w
}

// seedPosition stores a 1 BTC position for the owner and returns the
// witness and commitment.
func seedPosition(t *testing.T, repo *memoryRepo, owner string) (*merkle.Witness, *big.Int) {
	t.Helper()
	ownerField, err := utils.ParseFieldElement(owner)
	require.NoError(t, err)
	salt, err := zk.NewSalt()
	require.NoError(t, err)
	amount := big.NewInt(100000000) // 1 BTC in satoshis
	commitment := zk.Commitment(ownerField, amount, salt)

	record := &models.CommitmentRecord{
		Owner:      owner,
		Commitment: commitment.String(),
		Amount:     amount.String(),
		Salt:       salt.String(),
	}
	witness := buildWitness(t, commitment)
	require.NoError(t, record.SetWitness(witness))
	require.NoError(t, repo.Save(context.Background(), record))
	return witness, commitment
}

func TestBorrowHappyPath(t *testing.T) {
	repo := newMemoryRepo()
	owner := "123456"
	witness, commitment := seedPosition(t, repo, owner)

	gw := &fakeGateway{root: witness.Root}
	prover := &fakeProver{}
	svc := NewActionService(gw, prover, repo, nil, testConfig())

	session := types.NewSession(owner)
	amount := big.NewInt(50000000000) // 50000 USDC

	receipt, err := svc.Borrow(context.Background(), session, amount)
	require.NoError(t, err)
	assert.Equal(t, types.TxStatusAccepted, receipt.Status)

	// Proof inputs carry the live root, raw prices and the borrow minimum.
	require.Len(t, prover.inputs, 1)
	in := prover.inputs[0]
	assert.Equal(t, witness.Root.String(), in.MerkleRoot)
	assert.Equal(t, "50000000000", in.BorrowAmount)
	assert.Equal(t, "65000000000", in.BtcPrice)
	assert.Equal(t, "1000000", in.UsdcPrice)
	assert.Equal(t, "110", in.MinHealthFactor)
	assert.Len(t, in.MerklePath, merkle.Depth)

	// Calldata: root, amount pair, price pairs, min pair, nullifier, owner.
	require.Len(t, gw.submitted, 1)
	call := gw.submitted[0]
	assert.Equal(t, types.MethodBorrow, call.Method)
	expectedNullifier, err := zk.Nullifier(commitment, zk.ActionBorrow, amount)
	require.NoError(t, err)
	assert.Equal(t, []string{
		witness.Root.String(),
		"50000000000", "0",
		"65000000000", "0",
		"1000000", "0",
		"110", "0",
		expectedNullifier.String(),
		"123456",
	}, call.Calldata)

	// Borrow leaves the position record in place.
	rec, err := repo.Load(context.Background(), owner)
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestBorrowInsufficientHealthBlocksProof(t *testing.T) {
	repo := newMemoryRepo()
	owner := "123456"
	witness, _ := seedPosition(t, repo, owner)

	gw := &fakeGateway{root: witness.Root}
	prover := &fakeProver{}
	svc := NewActionService(gw, prover, repo, nil, testConfig())

	// 60000 USDC against 1 BTC at 65000 is under the 110% minimum.
	_, err := svc.Borrow(context.Background(), types.NewSession(owner), big.NewInt(60000000000))
	assert.ErrorIs(t, err, ErrInsufficientHealth)
	assert.Empty(t, prover.inputs)
	assert.Empty(t, gw.submitted)
}

func TestBorrowStaleRootRefetchesWitness(t *testing.T) {
	repo := newMemoryRepo()
	owner := "123456"
	_, commitment := seedPosition(t, repo, owner)

	// The tree moved on: the live witness has different siblings.
	fresh := &merkle.Witness{
		Leaf:    new(big.Int).Set(commitment),
		Path:    make([]*big.Int, merkle.Depth),
		Indices: make([]int, merkle.Depth),
	}
	for i := 0; i < merkle.Depth; i++ {
		fresh.Path[i] = big.NewInt(int64(100 + i))
	}
	liveRoot, err := fresh.ComputeRoot()
	require.NoError(t, err)
	fresh.Root = liveRoot

	gw := &fakeGateway{root: liveRoot, witness: fresh}
	prover := &fakeProver{}
	svc := NewActionService(gw, prover, repo, nil, testConfig())

	receipt, err := svc.Borrow(context.Background(), types.NewSession(owner), big.NewInt(1000000))
	require.NoError(t, err)
	assert.Equal(t, types.TxStatusAccepted, receipt.Status)

	// The proof used the refetched path against the live root.
	require.Len(t, prover.inputs, 1)
	assert.Equal(t, liveRoot.String(), prover.inputs[0].MerkleRoot)

	// The stored record still carries the deposit-time witness.
	rec, err := repo.Load(context.Background(), owner)
	require.NoError(t, err)
	assert.NotEqual(t, liveRoot.String(), rec.MerkleRoot)
}

func TestBorrowStaleRootRefetchFails(t *testing.T) {
	repo := newMemoryRepo()
	owner := "123456"
	seedPosition(t, repo, owner)

	gw := &fakeGateway{
		root:       big.NewInt(999999), // does not match any witness
		witnessErr: errors.New("leaf not found"),
	}
	svc := NewActionService(gw, &fakeProver{}, repo, nil, testConfig())

	_, err := svc.Borrow(context.Background(), types.NewSession(owner), big.NewInt(1000000))
	assert.ErrorIs(t, err, ErrRootMismatch)
}

func TestBorrowNullifierAlreadyUsed(t *testing.T) {
	repo := newMemoryRepo()
	owner := "123456"
	witness, _ := seedPosition(t, repo, owner)

	gw := &fakeGateway{root: witness.Root, nullifierUsed: true}
	prover := &fakeProver{}
	svc := NewActionService(gw, prover, repo, nil, testConfig())

	_, err := svc.Borrow(context.Background(), types.NewSession(owner), big.NewInt(1000000))
	assert.ErrorIs(t, err, ErrNullifierUsed)
	assert.Empty(t, prover.inputs)
}

func TestBorrowProverUnavailableIsExplicit(t *testing.T) {
	repo := newMemoryRepo()
	owner := "123456"
	witness, _ := seedPosition(t, repo, owner)

	gw := &fakeGateway{root: witness.Root}
	prover := &fakeProver{err: fmt.Errorf("%w: connection refused", clients.ErrProverUnavailable)}
	svc := NewActionService(gw, prover, repo, nil, testConfig())

	_, err := svc.Borrow(context.Background(), types.NewSession(owner), big.NewInt(1000000))
	assert.ErrorIs(t, err, clients.ErrProverUnavailable)
	assert.Empty(t, gw.submitted)
}

func TestBorrowRejectsProofBoundToOtherRoot(t *testing.T) {
	repo := newMemoryRepo()
	owner := "123456"
	witness, _ := seedPosition(t, repo, owner)

	gw := &fakeGateway{root: witness.Root}
	prover := &fakeProver{rootOverride: big.NewInt(31337)}
	svc := NewActionService(gw, prover, repo, nil, testConfig())

	_, err := svc.Borrow(context.Background(), types.NewSession(owner), big.NewInt(1000000))
	assert.ErrorIs(t, err, ErrRootMismatch)
	assert.Empty(t, gw.submitted)
}

func TestBorrowSubmissionReverted(t *testing.T) {
	repo := newMemoryRepo()
	owner := "123456"
	witness, _ := seedPosition(t, repo, owner)

	gw := &fakeGateway{root: witness.Root, submitStatus: types.TxStatusReverted, submitReason: "nullifier spent"}
	svc := NewActionService(gw, &fakeProver{}, repo, nil, testConfig())

	_, err := svc.Borrow(context.Background(), types.NewSession(owner), big.NewInt(1000000))
	require.ErrorIs(t, err, ErrSubmissionFailed)
	assert.Contains(t, err.Error(), "nullifier spent")
}

func TestBorrowSubmissionTimeout(t *testing.T) {
	repo := newMemoryRepo()
	owner := "123456"
	witness, _ := seedPosition(t, repo, owner)

	gw := &fakeGateway{root: witness.Root, submitStatus: types.TxStatusTimedOut}
	svc := NewActionService(gw, &fakeProver{}, repo, nil, testConfig())

	_, err := svc.Borrow(context.Background(), types.NewSession(owner), big.NewInt(1000000))
	assert.ErrorIs(t, err, ErrSubmissionTimeout)
}

func TestBorrowWithoutPosition(t *testing.T) {
	gw := &fakeGateway{root: big.NewInt(1)}
	svc := NewActionService(gw, &fakeProver{}, newMemoryRepo(), nil, testConfig())

	_, err := svc.Borrow(context.Background(), types.NewSession("123456"), big.NewInt(1000000))
	assert.ErrorIs(t, err, ErrNoCommitment)
}

func TestBorrowInvalidAmount(t *testing.T) {
	svc := NewActionService(&fakeGateway{}, &fakeProver{}, newMemoryRepo(), nil, testConfig())

	_, err := svc.Borrow(context.Background(), types.NewSession("123456"), big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Borrow(context.Background(), types.NewSession("123456"), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBorrowSingleFlight(t *testing.T) {
	repo := newMemoryRepo()
	owner := "123456"
	witness, _ := seedPosition(t, repo, owner)

	gate := make(chan struct{})
	gw := &fakeGateway{root: witness.Root, submitGate: gate}
	svc := NewActionService(gw, &fakeProver{}, repo, nil, testConfig())

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.Borrow(context.Background(), types.NewSession(owner), big.NewInt(1000000))
		firstDone <- err
	}()

	// Wait until the first flow is parked inside Submit.
	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(svc.inFlight) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err := svc.Borrow(context.Background(), types.NewSession(owner), big.NewInt(2000000))
	assert.ErrorIs(t, err, ErrActionInFlight)

	close(gate)
	require.NoError(t, <-firstDone)
}

func TestExitClosesPosition(t *testing.T) {
	repo := newMemoryRepo()
	owner := "123456"
	witness, commitment := seedPosition(t, repo, owner)

	gw := &fakeGateway{root: witness.Root}
	prover := &fakeProver{}
	svc := NewActionService(gw, prover, repo, nil, testConfig())

	receipt, err := svc.Exit(context.Background(), types.NewSession(owner))
	require.NoError(t, err)
	assert.Equal(t, types.TxStatusAccepted, receipt.Status)

	// Exit proves zero debt at the exit threshold.
	require.Len(t, prover.inputs, 1)
	assert.Equal(t, "0", prover.inputs[0].BorrowAmount)
	assert.Equal(t, "150", prover.inputs[0].MinHealthFactor)

	// Calldata: commitment, btc amount pair, root, health pair, nullifier.
	require.Len(t, gw.submitted, 1)
	call := gw.submitted[0]
	assert.Equal(t, types.MethodExit, call.Method)
	expectedNullifier, err := zk.Nullifier(commitment, zk.ActionExit, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		commitment.String(),
		"100000000", "0",
		witness.Root.String(),
		"1500000", "0",
		expectedNullifier.String(),
	}, call.Calldata)

	// A confirmed exit deletes the record.
	rec, err := repo.Load(context.Background(), owner)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestExitRevertKeepsRecord(t *testing.T) {
	repo := newMemoryRepo()
	owner := "123456"
	witness, _ := seedPosition(t, repo, owner)

	gw := &fakeGateway{root: witness.Root, submitStatus: types.TxStatusReverted, submitReason: "health below exit minimum"}
	svc := NewActionService(gw, &fakeProver{}, repo, nil, testConfig())

	_, err := svc.Exit(context.Background(), types.NewSession(owner))
	assert.ErrorIs(t, err, ErrSubmissionFailed)

	rec, err := repo.Load(context.Background(), owner)
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestActionWithoutSession(t *testing.T) {
	svc := NewActionService(&fakeGateway{}, &fakeProver{}, newMemoryRepo(), nil, testConfig())

	_, err := svc.Borrow(context.Background(), nil, big.NewInt(1))
	assert.ErrorIs(t, err, ErrWalletUnavailable)

	_, err = svc.Exit(context.Background(), &types.Session{ID: "x"})
	assert.ErrorIs(t, err, ErrWalletUnavailable)
}
