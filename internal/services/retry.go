package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"vex-flows/backend/internal/channels"
	"vex-flows/backend/pkg/models"
)

// RetryPolicy bounds repeated dispatch attempts for a single step. The
// default of one attempt preserves the historical behavior of no automatic
// retry; raising MaxAttempts layers exponential backoff under the same
// step-dispatch contract.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
}

// DefaultRetryPolicy is a single attempt with no backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Do runs send under the policy. Validation and unsupported-step errors are
// permanent and never retried.
func (p RetryPolicy) Do(ctx context.Context, send func(ctx context.Context) (map[string]any, error)) (map[string]any, error) {
	if p.MaxAttempts <= 1 {
		return send(ctx)
	}

	var result map[string]any
	operation := func() error {
		meta, err := send(ctx)
		if err != nil {
			if isPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = meta
		return nil
	}

	interval := p.InitialInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func isPermanent(err error) bool {
	var verr *channels.ValidationError
	var uerr *models.UnsupportedStepError
	return errors.As(err, &verr) || errors.As(err, &uerr)
}
