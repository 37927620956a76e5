package transport

import (
	"context"
	"time"

	"github.com/shopopti/go-import-fulfillment/internal/awsx"
	"github.com/shopopti/go-import-fulfillment/internal/logging"
	"github.com/shopopti/go-import-fulfillment/internal/retry"
)

// SweepStats summarises one pass over the durable queue. Rejected counts
// replays the gateway refused with a terminal code; those entries are removed
// but were never delivered.
type SweepStats struct {
	Replayed  int
	Succeeded int
	Rejected  int
	Dropped   int
	Deferred  int
}

// Sweeper periodically replays the durable queue: entries past their retry
// budget are dropped (counted, not re-thrown), the rest are re-issued with a
// fresh correlation id and rescheduled on failure.
type Sweeper struct {
	client   *Client
	store    QueueStore
	policy   retry.Policy
	metrics  *awsx.Metrics
	interval time.Duration
	batch    int
	log      *logging.Logger
	nowFunc  func() time.Time
}

func NewSweeper(client *Client, store QueueStore, policy retry.Policy, metrics *awsx.Metrics, interval time.Duration, log *logging.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Sweeper{
		client:   client,
		store:    store,
		policy:   policy,
		metrics:  metrics,
		interval: interval,
		batch:    50,
		log:      log,
		nowFunc:  time.Now,
	}
}

// Run sweeps on a fixed period until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.log.Error("queue sweep", "error", err)
			}
		}
	}
}

// SweepOnce processes all due entries once and publishes the queue depth gauge.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	now := s.nowFunc()
	due, err := s.store.Due(ctx, now, s.batch)
	if err != nil {
		return SweepStats{}, err
	}

	var stats SweepStats
	for _, qr := range due {
		if s.policy.Exhausted(qr.RetryCount) {
			s.log.Warn("retry budget exhausted, dropping request",
				"request_id", qr.CorrelationID, "action", qr.Action, "retry_count", qr.RetryCount)
			if err := s.store.Delete(ctx, qr.CorrelationID); err != nil {
				return stats, err
			}
			_ = s.metrics.Count(ctx, "RetryQueueDropped", 1)
			stats.Dropped++
			continue
		}

		stats.Replayed++
		out := s.client.Replay(ctx, qr)
		if out.OK {
			if err := s.store.Delete(ctx, qr.CorrelationID); err != nil {
				return stats, err
			}
			stats.Succeeded++
			continue
		}
		if !out.Retryable() {
			// Terminal refusal: retrying cannot help, but this is not a delivery.
			s.log.Warn("replay rejected with terminal code, removing request",
				"request_id", qr.CorrelationID, "action", qr.Action, "code", out.Code)
			if err := s.store.Delete(ctx, qr.CorrelationID); err != nil {
				return stats, err
			}
			_ = s.metrics.Count(ctx, "RetryQueueRejected", 1)
			stats.Rejected++
			continue
		}

		qr.RetryCount++
		qr.NextRetryAt = now.Add(s.policy.Delay(qr.RetryCount)).UnixMilli()
		if err := s.store.Put(ctx, qr); err != nil {
			return stats, err
		}
		stats.Deferred++
	}

	// Queue depth doubles as the host UI badge; failures here are cosmetic.
	if status, err := s.store.Status(ctx); err == nil {
		_ = s.metrics.Gauge(ctx, "RetryQueueDepth", float64(status.Count))
	}
	return stats, nil
}
