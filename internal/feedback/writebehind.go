package feedback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// WriteBehindConfig bounds durable writes.
type WriteBehindConfig struct {
	// AttemptTimeout bounds one write attempt.
	AttemptTimeout time.Duration
	// MaxTries is the number of attempts per flush before a write is
	// parked until the next retry round.
	MaxTries uint
	// RetryInterval is how often parked writes are retried.
	RetryInterval time.Duration
}

// DefaultWriteBehindConfig returns the default bounds.
func DefaultWriteBehindConfig() WriteBehindConfig {
	return WriteBehindConfig{
		AttemptTimeout: 2 * time.Second,
		MaxTries:       5,
		RetryInterval:  10 * time.Second,
	}
}

type job struct {
	kind  string
	write func(ctx context.Context) error
}

// WriteBehind runs durable writes off the caller's path. Enqueue never
// blocks and never drops: failed writes stay queued and the queue reports
// degraded until a write succeeds again.
type WriteBehind struct {
	cfg    WriteBehindConfig
	logger *zap.Logger

	mu      sync.Mutex
	pending []job
	signal  chan struct{}

	degraded atomic.Bool
	failures atomic.Uint64

	// newBackOff is replaced in tests to avoid real sleeps.
	newBackOff func() backoff.BackOff
}

// NewWriteBehind creates an idle queue. Call Run to start writing.
func NewWriteBehind(cfg WriteBehindConfig, logger *zap.Logger) *WriteBehind {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultWriteBehindConfig()
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = def.MaxTries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	return &WriteBehind{
		cfg:    cfg,
		logger: logger,
		signal: make(chan struct{}, 1),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

// Enqueue schedules a write.
func (w *WriteBehind) Enqueue(kind string, write func(ctx context.Context) error) {
	w.mu.Lock()
	w.pending = append(w.pending, job{kind: kind, write: write})
	n := len(w.pending)
	w.mu.Unlock()
	persistPending.Set(float64(n))

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// Run writes queued records until ctx is cancelled, then makes one last
// bounded pass over whatever is still queued.
func (w *WriteBehind) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.AttemptTimeout)
			w.Flush(final)
			cancel()
			return nil
		case <-w.signal:
			w.Flush(ctx)
		case <-ticker.C:
			if w.Pending() > 0 {
				w.Flush(ctx)
			}
		}
	}
}

// Flush drains the queue once. Writes that still fail after their retries
// are put back at the front in their original order.
func (w *WriteBehind) Flush(ctx context.Context) {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	var failed []job
	for i, j := range batch {
		if ctx.Err() != nil {
			failed = append(failed, batch[i:]...)
			break
		}
		if err := w.write(ctx, j); err != nil {
			w.markDegraded(j.kind, err)
			failed = append(failed, j)
			continue
		}
		w.markHealthy()
	}

	w.mu.Lock()
	if len(failed) > 0 {
		w.pending = append(failed, w.pending...)
	}
	n := len(w.pending)
	w.mu.Unlock()
	persistPending.Set(float64(n))
}

func (w *WriteBehind) write(ctx context.Context, j job) error {
	op := func() (struct{}, error) {
		attempt, cancel := context.WithTimeout(ctx, w.cfg.AttemptTimeout)
		defer cancel()
		return struct{}{}, j.write(attempt)
	}
	notify := func(err error, next time.Duration) {
		w.logger.Warn("durable write failed; retrying",
			zap.String("kind", j.kind),
			zap.Duration("next", next),
			zap.Error(err),
		)
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(w.newBackOff()),
		backoff.WithMaxTries(w.cfg.MaxTries),
		backoff.WithNotify(notify),
	)
	return err
}

func (w *WriteBehind) markDegraded(kind string, err error) {
	w.failures.Add(1)
	persistFailures.WithLabelValues(kind).Inc()
	if !w.degraded.Swap(true) {
		persistDegraded.Set(1)
		w.logger.Error("durable storage degraded; records kept in memory",
			zap.String("kind", kind), zap.Error(err))
	}
}

func (w *WriteBehind) markHealthy() {
	if w.degraded.Swap(false) {
		persistDegraded.Set(0)
		w.logger.Info("durable storage recovered")
	}
}

// Pending returns the number of queued writes.
func (w *WriteBehind) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Degraded reports whether the last write attempt failed.
func (w *WriteBehind) Degraded() bool { return w.degraded.Load() }

// Failures returns how many writes exhausted their retries.
func (w *WriteBehind) Failures() uint64 { return w.failures.Load() }
