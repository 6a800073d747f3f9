package services

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vestazk-backend/internal/events"
	"vestazk-backend/internal/metrics"
)

// PoolStats is the cached pool-wide snapshot served to the API.
type PoolStats struct {
	CollateralUSD   string    `json:"collateral_usd"`
	DebtUSD         string    `json:"debt_usd"`
	HealthFactor    string    `json:"health_factor"`
	CommitmentCount uint64    `json:"commitment_count"`
	MerkleRoot      string    `json:"merkle_root"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PoolStatsService periodically polls the gateway for pool-wide health
// and tree state, caches the latest snapshot and mirrors it into metrics
// and events.
type PoolStatsService struct {
	gateway  Gateway
	events   *events.Publisher
	interval time.Duration

	mu    sync.RWMutex
	stats PoolStats

	runMu     sync.Mutex
	isRunning bool
	done      chan struct{}

	log *logrus.Entry
}

// NewPoolStatsService wires the pool stats poller. pub may be nil.
func NewPoolStatsService(gateway Gateway, pub *events.Publisher, interval time.Duration) *PoolStatsService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PoolStatsService{
		gateway:  gateway,
		events:   pub,
		interval: interval,
		log:      logrus.WithField("component", "pool_stats_service"),
	}
}

// Start launches the polling loop. Safe to call once; repeated calls are
// no-ops while running.
func (s *PoolStatsService) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true
	s.done = make(chan struct{})

	go s.loop(s.done)
	s.log.WithField("interval", s.interval.String()).Info("pool stats poller started")
}

// Stop terminates the polling loop.
func (s *PoolStatsService) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.isRunning {
		return
	}
	close(s.done)
	s.isRunning = false
	s.log.Info("pool stats poller stopped")
}

// Stats returns the latest snapshot. Before the first successful poll the
// zero value is returned with a zero UpdatedAt.
func (s *PoolStatsService) Stats() PoolStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *PoolStatsService) loop(done chan struct{}) {
	s.refresh()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.refresh()
		case <-done:
			return
		}
	}
}

func (s *PoolStatsService) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	agg, err := s.gateway.GetAggregateHealth(ctx)
	if err != nil {
		s.log.WithError(err).Warn("failed to fetch aggregate health")
		return
	}
	count, err := s.gateway.GetCommitmentCount(ctx)
	if err != nil {
		s.log.WithError(err).Warn("failed to fetch commitment count")
		return
	}
	root, err := s.gateway.GetMerkleRoot(ctx)
	if err != nil {
		s.log.WithError(err).Warn("failed to fetch merkle root")
		return
	}

	snapshot := PoolStats{
		CollateralUSD:   agg.CollateralUSD.String(),
		DebtUSD:         agg.DebtUSD.String(),
		HealthFactor:    agg.HealthFactor.String(),
		CommitmentCount: count,
		MerkleRoot:      root.String(),
		UpdatedAt:       time.Now(),
	}

	s.mu.Lock()
	s.stats = snapshot
	s.mu.Unlock()

	metrics.PoolHealthFactor.Set(gaugeValue(agg.HealthFactor))
	metrics.PoolCollateralUSD.Set(gaugeValue(agg.CollateralUSD))
	metrics.PoolDebtUSD.Set(gaugeValue(agg.DebtUSD))
	metrics.CommitmentCount.Set(float64(count))

	s.events.PublishPoolStats(events.PoolStatsEvent{
		CollateralUSD:   snapshot.CollateralUSD,
		DebtUSD:         snapshot.DebtUSD,
		HealthFactor:    snapshot.HealthFactor,
		CommitmentCount: count,
		MerkleRoot:      snapshot.MerkleRoot,
		Timestamp:       snapshot.UpdatedAt.Unix(),
	})
}

// gaugeValue lossily projects a big integer onto a float64 gauge.
func gaugeValue(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
