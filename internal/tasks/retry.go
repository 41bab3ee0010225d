package tasks

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	pkgerrors "github.com/soihtufest/soihtufest-backend/pkg/errors"
)

const (
	defaultMaxAttempts    = 5
	defaultInitialBackoff = 2 * time.Second
	defaultMaxBackoff     = 2 * time.Minute
)

// RetryPolicy says how often a task may be retried, how the backoff grows
// and which errors are worth retrying at all.
type RetryPolicy struct {
	MaxAttempts    uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Retryable      func(error) bool
}

// DefaultRetryable retries only the errors the taxonomy marks transient.
func DefaultRetryable(err error) bool {
	return pkgerrors.IsRetryable(err)
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = defaultMaxBackoff
	}
	if p.Retryable == nil {
		p.Retryable = DefaultRetryable
	}
	return p
}

// Run executes fn under the policy, retrying retryable failures with capped
// exponential backoff. The last error is returned once attempts run out;
// non-retryable errors return immediately.
func (p RetryPolicy) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	policy := p.normalized()
	backoff := retry.NewExponential(policy.InitialBackoff)
	backoff = retry.WithCappedDuration(policy.MaxBackoff, backoff)
	backoff = retry.WithMaxRetries(policy.MaxAttempts-1, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if policy.Retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
