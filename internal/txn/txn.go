// Package txn runs a read-modify-write function against a DocumentStore,
// retrying the whole function from scratch whenever the store reports that a
// document it read changed before commit.
package txn

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mesh-intelligence/questbook/internal/logger"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

const tracerName = "questbook/txn"

// Runner owns the retry policy. A Runner is safe for concurrent use.
type Runner struct {
	store       types.DocumentStore
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	log         *logger.Logger
	hooks       Hooks
	tracer      trace.Tracer
}

// Option customizes a Runner.
type Option func(*Runner)

// WithHooks routes operation, conflict and retry events to h.
func WithHooks(h Hooks) Option {
	return func(r *Runner) {
		if h != nil {
			r.hooks = h
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRunner builds a Runner from the transaction settings.
func NewRunner(store types.DocumentStore, cfg types.TxConfig, opts ...Option) *Runner {
	r := &Runner{
		store:       store,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
		log:         logger.NewNop(),
		hooks:       noopHooks{},
		tracer:      otel.Tracer(tracerName),
	}
	if r.maxAttempts < 1 {
		r.maxAttempts = 1
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the underlying document store.
func (r *Runner) Store() types.DocumentStore { return r.store }

// Run executes fn inside a store transaction. fn may run several times and
// must derive everything it writes from what it reads through tx; values
// escape only through the returned T of the attempt that committed.
//
// Conflicts are retried with jittered exponential backoff. When attempts are
// exhausted Run returns an error carrying types.CodeContention. Any other
// error from fn or the store is returned unchanged without retry.
func Run[T any](ctx context.Context, r *Runner, op string, fn func(tx types.Tx) (T, error)) (T, error) {
	var zero T
	op = strings.TrimSpace(op)
	if op == "" {
		op = "txn.run"
	}
	start := time.Now()

	ctx, span := r.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.Int("txn.max_attempts", r.maxAttempts),
	))
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			r.finish(span, op, "canceled", start, err)
			return zero, err
		}

		var out T
		err := r.store.RunTx(ctx, func(tx types.Tx) error {
			v, err := fn(tx)
			if err != nil {
				return err
			}
			out = v
			return nil
		})
		if err == nil {
			span.SetAttributes(attribute.Int("txn.attempts", attempt))
			r.finish(span, op, "success", start, nil)
			return out, nil
		}
		if !types.IsCode(err, types.CodeConflict) {
			r.finish(span, op, statusOf(err), start, err)
			return zero, err
		}

		lastErr = err
		r.hooks.IncConflict(op)
		if attempt == r.maxAttempts {
			break
		}
		r.hooks.IncRetry(op)
		r.log.Debug("transaction conflict, retrying", "op", op, "attempt", attempt, "error", err)
		if err := sleep(ctx, r.backoff(attempt)); err != nil {
			r.finish(span, op, "canceled", start, err)
			return zero, err
		}
	}

	r.log.Warn("transaction retries exhausted", "op", op, "attempts", r.maxAttempts)
	err := types.NewError(types.CodeContention, op, "retries exhausted", lastErr)
	span.SetAttributes(attribute.Int("txn.attempts", r.maxAttempts))
	r.finish(span, op, string(types.CodeContention), start, err)
	return zero, err
}

// Do is Run for functions that only report an error.
func Do(ctx context.Context, r *Runner, op string, fn func(tx types.Tx) error) error {
	_, err := Run(ctx, r, op, func(tx types.Tx) (struct{}, error) {
		return struct{}{}, fn(tx)
	})
	return err
}

func (r *Runner) finish(span trace.Span, op, status string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
	}
	r.hooks.ObserveOperation(op, status, time.Since(start))
}

// backoff returns a full-jitter delay for the given attempt (1-based).
func (r *Runner) backoff(attempt int) time.Duration {
	if r.baseBackoff <= 0 {
		return 0
	}
	d := r.baseBackoff << min(attempt-1, 16)
	if r.maxBackoff > 0 && d > r.maxBackoff {
		d = r.maxBackoff
	}
	return rand.N(d) + 1
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func statusOf(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	if c := types.CodeOf(err); c != "" {
		return string(c)
	}
	return "failure"
}
