package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/securedocs/internal/common"
	"github.com/dmitrijs2005/securedocs/internal/logging"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxBackoff = 5 * time.Second

type RetryPolicy struct {
	// Timeout bounds each attempt. Zero disables the per-attempt deadline.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64
	// Base is the first backoff delay; later ones double up to 5s.
	Base time.Duration
}

// RetryingGateway retries transient failures of the wrapped gateway with
// exponential backoff. Only common.ErrorStorageUnavailable is retried; an
// attempt that runs out of time counts as unavailable.
type RetryingGateway struct {
	next   Gateway
	policy RetryPolicy
	logger logging.Logger
}

func NewRetryingGateway(next Gateway, policy RetryPolicy, logger logging.Logger) *RetryingGateway {
	if policy.Base <= 0 {
		policy.Base = 200 * time.Millisecond
	}
	return &RetryingGateway{next: next, policy: policy, logger: logger}
}

func (g *RetryingGateway) backoff() retry.Backoff {
	b := retry.NewExponential(g.policy.Base)
	b = retry.WithCappedDuration(maxBackoff, b)
	return retry.WithMaxRetries(g.policy.MaxRetries, b)
}

func (g *RetryingGateway) do(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "storage."+op, trace.WithAttributes(attrs...))
	defer span.End()

	attempt := 0
	err := retry.Do(ctx, g.backoff(), func(ctx context.Context) error {
		attempt++

		actx, cancel := ctx, context.CancelFunc(func() {})
		if g.policy.Timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, g.policy.Timeout)
		}
		defer cancel()

		err := fn(actx)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) && !errors.Is(err, common.ErrorStorageUnavailable) {
			err = fmt.Errorf("%w: attempt timed out: %w", common.ErrorStorageUnavailable, err)
		}
		if errors.Is(err, common.ErrorStorageUnavailable) && ctx.Err() == nil {
			g.logger.Warn(ctx, "storage attempt failed", "op", op, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})

	span.SetAttributes(attribute.Int("storage.attempts", attempt))
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, common.ErrorStorageUnavailable) {
			err = fmt.Errorf("%w: %w", common.ErrorStorageUnavailable, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (g *RetryingGateway) Put(ctx context.Context, data []byte, name string) (Pin, error) {
	var pin Pin
	err := g.do(ctx, "put", []attribute.KeyValue{attribute.Int("storage.size", len(data))}, func(ctx context.Context) error {
		var err error
		pin, err = g.next.Put(ctx, data, name)
		return err
	})
	return pin, err
}

func (g *RetryingGateway) Get(ctx context.Context, contentAddress string) ([]byte, error) {
	var data []byte
	err := g.do(ctx, "get", []attribute.KeyValue{attribute.String("storage.content_address", contentAddress)}, func(ctx context.Context) error {
		var err error
		data, err = g.next.Get(ctx, contentAddress)
		return err
	})
	return data, err
}

func (g *RetryingGateway) Unpin(ctx context.Context, pinID string) error {
	return g.do(ctx, "unpin", []attribute.KeyValue{attribute.String("storage.pin_id", pinID)}, func(ctx context.Context) error {
		return g.next.Unpin(ctx, pinID)
	})
}
