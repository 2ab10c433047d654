// Package retry owns the single retry-with-backoff loop used by the hub
// client, the bus client and the bridge supervisor.
//
// Callers supply the operation and a classifier deciding whether a failed
// attempt is worth repeating. Cancellation of ctx always ends the loop.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// Policy bounds a retry loop. Attempts <= 0 retries until ctx ends.
type Policy struct {
	Attempts int
	Backoff  BackoffConfig
}

// Classifier reports whether err may succeed on a later attempt.
type Classifier func(err error) bool

// Always retries every error.
func Always(error) bool { return true }

// Op is one attempt; attempt is 1-based.
type Op func(ctx context.Context, attempt int) error

// BetweenFunc runs after a failed attempt and before the backoff wait.
type BetweenFunc func(ctx context.Context, attempt int, err error)

// Retrier runs operations under a Policy.
type Retrier struct {
	Policy  Policy
	Retry   Classifier
	Between BetweenFunc

	// Sleep is overridable for tests.
	Sleep func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rng *rand.Rand
}

func New(p Policy, retry Classifier) *Retrier {
	if retry == nil {
		retry = Always
	}
	return &Retrier{
		Policy: p,
		Retry:  retry,
		Sleep:  Sleep,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Do runs op until it succeeds, the classifier rejects the error, the
// attempts are exhausted or ctx ends. The last operation error is returned.
func (r *Retrier) Do(ctx context.Context, op Op) error {
	var attempt int
	for {
		attempt++
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(err, ctxErr)
		}
		if !r.Retry(err) || !r.shouldRetry(attempt) {
			return err
		}
		if r.Between != nil {
			r.Between(ctx, attempt, err)
		}
		if sleepErr := r.sleep(ctx, r.delay(attempt)); sleepErr != nil {
			return errors.Join(err, sleepErr)
		}
	}
}

func (r *Retrier) shouldRetry(attempt int) bool {
	if r.Policy.Attempts <= 0 {
		return true
	}
	return attempt < r.Policy.Attempts
}

func (r *Retrier) delay(attempt int) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return NextDelay(r.Policy.Backoff, attempt, r.rng)
}

func (r *Retrier) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep == nil {
		return Sleep(ctx, d)
	}
	return r.Sleep(ctx, d)
}

// Do is a one-shot helper around New(p, retry).Do.
func Do(ctx context.Context, p Policy, retry Classifier, op Op) error {
	return New(p, retry).Do(ctx, op)
}

// Sleep waits for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
