package backend

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/sethvargo/go-retry"

	"github.com/sipico/netcup-api-filter/internal/metrics"
)

const (
	// DefaultTimeout bounds a single upstream attempt.
	DefaultTimeout = 10 * time.Second
	// retryDelay is the pause before the single retry.
	retryDelay = 200 * time.Millisecond
)

// Retrying wraps an Adapter with a per-attempt timeout and at most one retry
// on backend_timeout or backend_unreachable. backend_rejected is returned
// immediately. Every call is counted in metrics.
type Retrying struct {
	next     Adapter
	provider string
	timeout  time.Duration
	delay    time.Duration
	log      logr.Logger
}

var _ Adapter = (*Retrying)(nil)

// RetryOption configures a Retrying adapter.
type RetryOption func(*Retrying)

// WithRetryDelay overrides the pause between attempts.
func WithRetryDelay(d time.Duration) RetryOption {
	return func(r *Retrying) {
		r.delay = d
	}
}

// WithRetryLogger sets the logger used for retry diagnostics.
func WithRetryLogger(log logr.Logger) RetryOption {
	return func(r *Retrying) {
		r.log = log
	}
}

// WithRetry wraps next. A non-positive timeout selects DefaultTimeout.
func WithRetry(next Adapter, provider string, timeout time.Duration, opts ...RetryOption) *Retrying {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Retrying{
		next:     next,
		provider: provider,
		timeout:  timeout,
		delay:    retryDelay,
		log:      logr.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ListRecords implements Adapter.
func (r *Retrying) ListRecords(ctx context.Context, zone string) ([]Record, error) {
	return call(ctx, r, "list", func(ctx context.Context) ([]Record, error) {
		return r.next.ListRecords(ctx, zone)
	})
}

// UpsertRecord implements Adapter. Upserts are idempotent, so retrying one
// whose first attempt reached the provider is safe.
func (r *Retrying) UpsertRecord(ctx context.Context, zone string, rec Record) (Record, error) {
	return call(ctx, r, "upsert", func(ctx context.Context) (Record, error) {
		return r.next.UpsertRecord(ctx, zone, rec)
	})
}

// DeleteRecord implements Adapter.
func (r *Retrying) DeleteRecord(ctx context.Context, zone, recordID string) error {
	_, err := call(ctx, r, "delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.next.DeleteRecord(ctx, zone, recordID)
	})
	return err
}

// TestConnection implements Adapter.
func (r *Retrying) TestConnection(ctx context.Context) (HealthStatus, error) {
	return call(ctx, r, "test", func(ctx context.Context) (HealthStatus, error) {
		return r.next.TestConnection(ctx)
	})
}

func call[T any](ctx context.Context, r *Retrying, op string, f func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	attempt := 0

	backoff := retry.WithMaxRetries(1, retry.NewConstant(r.delay))
	v, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (T, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		v, err := f(attemptCtx)
		if err == nil {
			return v, nil
		}

		be := Classify(r.provider, op, err)
		// The attempt deadline expired while the caller's did not.
		if be.Code == CodeUnreachable && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			be = NewError(CodeTimeout, r.provider, op, err)
		}
		if be.Retryable() {
			r.log.V(1).Info("backend call failed, may retry", "op", op, "attempt", attempt, "code", string(be.Code))
			return v, retry.RetryableError(be)
		}
		return v, be
	})

	result := "ok"
	if err != nil {
		be := Classify(r.provider, op, err)
		err = be
		result = string(be.Code)
	}
	metrics.RecordBackendCall(r.provider, op, result, time.Since(start).Seconds())
	return v, err
}
