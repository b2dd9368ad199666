package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poolstake/backend/internal/models"
	"github.com/poolstake/backend/internal/repository"
)

// RetryPolicy bounds store operations: each attempt gets Timeout, transient
// failures are retried up to MaxAttempts with exponential backoff. Domain
// errors are returned immediately.
type RetryPolicy struct {
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	// OnRetry is called before each repeated attempt.
	OnRetry func(op string, attempt int, err error)
}

func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = p.once(ctx, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !repository.IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(op, attempt, err)
		}
		wait := p.Backoff << (attempt - 1)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
	}
	if !errors.Is(err, models.ErrRepositoryUnavailable) {
		err = fmt.Errorf("%w: %v", models.ErrRepositoryUnavailable, err)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, err)
}

func (p RetryPolicy) once(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.Timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return fn(ctx)
}
