// Package events publishes protocol notifications over NATS. A nil
// Publisher is valid and drops everything, so callers never branch on
// whether messaging is configured.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"vestazk-backend/internal/types"
)

const (
	SubjectActionStatus = "vestazk.action.status"
	SubjectPoolStats    = "vestazk.pool.stats"
)

// Publisher fans protocol events out to interested subscribers.
type Publisher struct {
	nc *nats.Conn
}

// Connect dials the NATS server. Reconnects are handled by the client.
func Connect(url string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc}, nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	p.nc.Drain()
}

// ActionStatusEvent mirrors an action's lifecycle transition.
type ActionStatusEvent struct {
	SessionID string             `json:"session_id"`
	Kind      types.ActionKind   `json:"kind"`
	Status    types.ActionStatus `json:"status"`
	TxHash    string             `json:"tx_hash,omitempty"`
	Error     string             `json:"error,omitempty"`
	Timestamp int64              `json:"timestamp"`
}

// PoolStatsEvent carries a pool-wide health snapshot.
type PoolStatsEvent struct {
	CollateralUSD   string `json:"collateral_usd"`
	DebtUSD         string `json:"debt_usd"`
	HealthFactor    string `json:"health_factor"`
	CommitmentCount uint64 `json:"commitment_count"`
	MerkleRoot      string `json:"merkle_root"`
	Timestamp       int64  `json:"timestamp"`
}

// PublishActionStatus emits a lifecycle transition. Publish failures are
// logged and swallowed, they never affect the action flow itself.
func (p *Publisher) PublishActionStatus(ev ActionStatusEvent) {
	p.publish(SubjectActionStatus, ev)
}

// PublishPoolStats emits a pool snapshot.
func (p *Publisher) PublishPoolStats(ev PoolStatsEvent) {
	p.publish(SubjectPoolStats, ev)
}

func (p *Publisher) publish(subject string, payload interface{}) {
	if p == nil || p.nc == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).WithField("subject", subject).Warn("failed to encode event")
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		logrus.WithError(err).WithField("subject", subject).Warn("failed to publish event")
	}
}
