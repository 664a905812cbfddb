package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// RetryPolicy is composed into each outbound call; per-attempt timeouts
// and exponential backoff between attempts.
type RetryPolicy struct {
	MaxRetries     uint64
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     4, // five attempts in total
		BaseDelay:      time.Second,
		MaxDelay:       60 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// Do runs op with the policy's per-attempt timeout, retrying transport
// errors with exponential backoff. Protocol and not-found errors abort
// immediately.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.BaseDelay
	expo.MaxInterval = p.MaxDelay
	expo.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
		defer cancel()

		err := op(attemptCtx)
		if err == nil {
			return nil
		}

		var protocolErr *ProtocolError
		var notFoundErr *NotFoundError
		if errors.As(err, &protocolErr) || errors.As(err, &notFoundErr) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		log.Warn().Err(err).Msgf("Retrying after failed attempt %d/%d", attempt, p.MaxRetries+1)
		return &TransportError{Err: err}
	}, backoff.WithContext(backoff.WithMaxRetries(expo, p.MaxRetries), ctx))
}
