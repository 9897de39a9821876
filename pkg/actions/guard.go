// Package actions renders and dispatches action configs to the external collaborators.
package actions

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/orgflow/pkg/models"
)

// DefaultCallTimeout bounds every collaborator call that does not set its own timeout.
const DefaultCallTimeout = 30 * time.Second

type callResult[T any] struct {
	value T
	err   error
}

// Call runs fn with a deadline. When the deadline passes first, Call returns a
// *models.TimeoutError without waiting for fn to return. Cancellation of the
// parent context is returned as is.
func Call[T any](ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult[T], 1)

	go func() {
		value, err := fn(callCtx)
		done <- callResult[T]{value: value, err: err}
	}()

	var zero T

	select {
	case result := <-done:
		if result.err != nil && errors.Is(result.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, &models.TimeoutError{Op: op, Timeout: timeout}
		}

		return result.value, result.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		return zero, &models.TimeoutError{Op: op, Timeout: timeout}
	}
}
