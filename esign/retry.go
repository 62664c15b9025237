package esign

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy decides how often and how long to retry an operation.
// It holds no network code so it can be tested on its own.
type RetryPolicy struct {
	// MaxAttempts counts the first call. Values below 1 mean one attempt.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the upper bound of a uniform random delay added to each wait.
	Jitter time.Duration
	// Retryable reports whether an error may succeed on another attempt.
	Retryable func(error) bool

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand returns a float in [0,1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultRetryPolicy returns the policy used for every data call:
// 7 attempts, waits starting at 0.5s and capped at 30s, up to 1s of jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 7,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      time.Second,
		Retryable:   IsRetryable,
	}
}

// Delay returns the wait before the attempt following attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt && (p.MaxDelay <= 0 || d < p.MaxDelay) && d <= math.MaxInt64/2; i++ {
		d *= 2
	}
	if p.Jitter > 0 && d <= math.MaxInt64-p.Jitter {
		d += time.Duration(float64(p.Jitter) * p.random())
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs op until it succeeds, returns a non-retryable error, or uses up
// MaxAttempts. The last error is returned unchanged so callers can tell a
// retried failure from an immediate one with errors.As.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !p.retryable(err) || attempt == attempts {
			return err
		}
		if serr := p.sleep(ctx, p.wait(attempt, err)); serr != nil {
			return err
		}
	}
	return err
}

// wait honors a server-requested Retry-After, still bounded by MaxDelay.
func (p RetryPolicy) wait(attempt int, err error) time.Duration {
	d := p.Delay(attempt)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > d {
		d = apiErr.RetryAfter
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
		}
	}
	return d
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable == nil {
		return IsRetryable(err)
	}
	return p.Retryable(err)
}

func (p RetryPolicy) random() float64 {
	if p.Rand != nil {
		return p.Rand()
	}
	return rand.Float64()
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
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
