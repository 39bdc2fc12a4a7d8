package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/maauso/clipvault-api/internal/metrics"
)

// AssetDeleter removes provider assets.
type AssetDeleter interface {
	DeleteAsset(ctx context.Context, assetID string) error
}

// Sweeper drains the orphan queue, deleting each asset with retries behind a
// circuit breaker. Entries that keep failing are requeued until maxAttempts,
// then dropped and logged as leaked.
type Sweeper struct {
	queue       OrphanQueue
	deleter     AssetDeleter
	logger      *slog.Logger
	interval    time.Duration
	maxAttempts int
	executor    failsafe.Executor[any]
	breaker     circuitbreaker.CircuitBreaker[any]
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*sweeperConfig)

type sweeperConfig struct {
	interval     time.Duration
	maxAttempts  int
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	breakerDelay time.Duration
}

// WithSweepInterval sets how often the queue is drained.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(c *sweeperConfig) {
		c.interval = d
	}
}

// WithMaxAttempts sets how many sweeps an entry survives before it is dropped.
func WithMaxAttempts(n int) SweeperOption {
	return func(c *sweeperConfig) {
		c.maxAttempts = n
	}
}

// WithRetryBackoff sets the in-sweep retry policy.
func WithRetryBackoff(maxRetries int, base, max time.Duration) SweeperOption {
	return func(c *sweeperConfig) {
		c.maxRetries = maxRetries
		c.baseDelay = base
		c.maxDelay = max
	}
}

// WithBreakerDelay sets how long the circuit stays open.
func WithBreakerDelay(d time.Duration) SweeperOption {
	return func(c *sweeperConfig) {
		c.breakerDelay = d
	}
}

// NewSweeper creates a Sweeper.
func NewSweeper(queue OrphanQueue, deleter AssetDeleter, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := sweeperConfig{
		interval:     time.Minute,
		maxAttempts:  5,
		maxRetries:   2,
		baseDelay:    200 * time.Millisecond,
		maxDelay:     5 * time.Second,
		breakerDelay: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxDelay < cfg.baseDelay {
		cfg.maxDelay = cfg.baseDelay
	}

	retry := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return err != nil && !errors.Is(err, circuitbreaker.ErrOpen) && !errors.Is(err, context.Canceled)
		}).
		WithBackoff(cfg.baseDelay, cfg.maxDelay).
		WithMaxRetries(cfg.maxRetries).
		WithJitterFactor(0.1).
		Build()

	breaker := circuitbreaker.NewBuilder[any]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(cfg.breakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			logger.Warn("orphan sweeper circuit breaker state change",
				slog.Any("from", e.OldState),
				slog.Any("to", e.NewState),
			)
		}).
		Build()

	return &Sweeper{
		queue:       queue,
		deleter:     deleter,
		logger:      logger,
		interval:    cfg.interval,
		maxAttempts: cfg.maxAttempts,
		executor:    failsafe.With[any](retry, breaker),
		breaker:     breaker,
	}
}

// Run drains the queue every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("orphan sweeper started", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("orphan sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Drain(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("orphan sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Drain processes the entries present when it starts and returns how many
// assets were deleted. Failed entries are requeued for the next sweep.
func (s *Sweeper) Drain(ctx context.Context) (int, error) {
	pending, err := s.queue.Len(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for range pending {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		o, err := s.queue.Dequeue(ctx)
		if err != nil {
			return deleted, err
		}
		if o == nil {
			break
		}

		_, err = s.executor.WithContext(ctx).Get(func() (any, error) {
			return nil, s.deleter.DeleteAsset(ctx, o.AssetID)
		})
		if err == nil {
			deleted++
			metrics.OrphanDeletionsTotal.WithLabelValues("deleted").Inc()
			s.logger.Info("orphaned asset deleted",
				slog.String("asset_id", o.AssetID),
				slog.String("reason", o.Reason),
			)
			continue
		}
		s.fail(ctx, o, err)
	}
	return deleted, nil
}

func (s *Sweeper) fail(ctx context.Context, o *Orphan, err error) {
	// Shutdown or an open circuit is not the asset's fault.
	if ctx.Err() == nil && !errors.Is(err, circuitbreaker.ErrOpen) {
		o.Attempts++
	}
	o.LastError = err.Error()

	if o.Attempts >= s.maxAttempts {
		metrics.OrphanDeletionsTotal.WithLabelValues("leaked").Inc()
		s.logger.Error("giving up on orphaned asset; asset leaked",
			slog.String("asset_id", o.AssetID),
			slog.String("reason", o.Reason),
			slog.Int("attempts", o.Attempts),
			slog.String("error", o.LastError),
		)
		return
	}

	metrics.OrphanDeletionsTotal.WithLabelValues("requeued").Inc()
	if qerr := s.queue.Enqueue(context.WithoutCancel(ctx), *o); qerr != nil {
		s.logger.Error("failed to requeue orphaned asset; asset leaked",
			slog.String("asset_id", o.AssetID),
			slog.String("error", qerr.Error()),
		)
	}
}
