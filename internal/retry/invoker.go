package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/sumeria/sumeria/internal/apperr"
	"github.com/sumeria/sumeria/internal/instrumentation"
	"github.com/sumeria/sumeria/internal/logging"
)

// OperationError is returned when every attempt of an operation failed.
// It unwraps to the last attempt's error and, when the attempt budget ran out
// on a retryable failure, to apperr.ErrTransient.
type OperationError struct {
	Service   string
	Operation string
	Attempts  int
	Err       error

	exhausted bool
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s.%s failed after %d attempt(s): %v", e.Service, e.Operation, e.Attempts, e.Err)
}

func (e *OperationError) Unwrap() []error {
	if e.exhausted && !errors.Is(e.Err, apperr.ErrTransient) {
		return []error{e.Err, apperr.ErrTransient}
	}
	return []error{e.Err}
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithPolicy sets the retry policy.
func WithPolicy(p Policy) Option {
	return func(i *Invoker) { i.policy = p }
}

// WithRateLimit applies limiter before every attempt. A nil limiter disables limiting.
func WithRateLimit(limiter *rate.Limiter) Option {
	return func(i *Invoker) { i.limiter = limiter }
}

// WithMetrics records operation and retry metrics.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(i *Invoker) { i.metrics = m }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Invoker) { i.logger = logger }
}

// WithClassifier replaces IsRetryable.
func WithClassifier(c Classifier) Option {
	return func(i *Invoker) { i.classify = c }
}

// WithOnRetry registers a hook called before each backoff sleep.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(i *Invoker) { i.onRetry = fn }
}

// Invoker runs provider operations for one service under a retry policy.
type Invoker struct {
	service  string
	policy   Policy
	limiter  *rate.Limiter
	metrics  *instrumentation.Metrics
	logger   *slog.Logger
	classify Classifier
	onRetry  func(attempt int, delay time.Duration, err error)
}

// NewInvoker returns an Invoker for service with DefaultPolicy unless overridden.
func NewInvoker(service string, opts ...Option) *Invoker {
	inv := &Invoker{
		service:  service,
		policy:   DefaultPolicy(),
		classify: IsRetryable,
	}
	for _, opt := range opts {
		opt(inv)
	}
	if inv.logger == nil {
		inv.logger = slog.Default()
	}
	inv.logger = logging.WithService(inv.logger, service)
	if inv.policy.MaxAttempts < 1 {
		inv.policy.MaxAttempts = 1
	}
	return inv
}

// Service returns the service name the invoker reports under.
func (inv *Invoker) Service() string {
	return inv.service
}

// Policy returns the active retry policy.
func (inv *Invoker) Policy() Policy {
	return inv.policy
}

// Run is Invoke for operations without a result.
func (inv *Invoker) Run(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	_, err := Invoke(ctx, inv, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Invoke calls fn until it succeeds, fails with a non-retryable error, the
// attempt budget is spent, or ctx is done. fn must be safe to call again
// after a failed attempt.
func Invoke[T any](ctx context.Context, inv *Invoker, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, inv.service, operation)
	defer span.End()

	start := time.Now()
	attempts := 0
	var lastErr error

	attempt := func() (T, error) {
		attempts++
		var zero T

		if inv.limiter != nil {
			if err := inv.limiter.Wait(ctx); err != nil {
				lastErr = errors.Join(apperr.ErrTimeout, err)
				return zero, backoff.Permanent(lastErr)
			}
		}

		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil || !inv.classify(err) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	logger := logging.WithOperation(inv.logger, operation)
	notify := func(err error, delay time.Duration) {
		inv.metrics.RecordRetry(ctx, inv.service, operation, apperr.KindTransient)
		logger.WarnContext(ctx, "retrying provider call",
			logging.Attempt(attempts),
			slog.Duration("delay", delay),
			logging.Err(err))
		instrumentation.AddSpanEvent(span, "retry",
			attribute.Int("attempt", attempts),
			attribute.String("delay", delay.String()))
		if inv.onRetry != nil {
			inv.onRetry(attempts, delay, err)
		}
	}

	res, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(inv.policy.backOff()),
		backoff.WithMaxTries(uint(inv.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	inv.metrics.RecordGoogleAPIOperation(ctx, inv.service, operation, status, time.Since(start))

	if err == nil {
		instrumentation.SetSpanSuccess(span)
		return res, nil
	}

	cause := lastErr
	if cause == nil {
		cause = err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(cause, apperr.ErrTimeout) {
		cause = errors.Join(apperr.FromContext(ctxErr), cause)
	}
	opErr := &OperationError{
		Service:   inv.service,
		Operation: operation,
		Attempts:  attempts,
		Err:       cause,
		exhausted: ctx.Err() == nil && attempts >= inv.policy.MaxAttempts && inv.classify(cause),
	}
	instrumentation.SetSpanError(span, opErr)
	var zero T
	return zero, opErr
}
