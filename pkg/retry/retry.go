/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/octue/octue-sdk-go/pkg/errors"
)

// An Operation is invoked and retried while it fails with a transient error.
type Operation = backoff.Operation

// Notify is invoked with the error and backoff duration of each failed attempt.
type Notify = backoff.Notify

type options struct {
	initialInterval time.Duration
}

// Opt sets a retry option.
type Opt func(opts *options)

// WithInitialInterval sets the backoff interval of the first retry.
func WithInitialInterval(value time.Duration) Opt {
	return func(opts *options) {
		opts.initialInterval = value
	}
}

// BackOff returns an exponential backoff bounded by the given deadline. The
// backoff of a single attempt never exceeds a quarter of the deadline, and
// no further retries are attempted once the cumulative wait reaches the
// deadline.
func BackOff(deadline time.Duration, opts ...Opt) backoff.BackOff {
	options := &options{
		initialInterval: backoff.DefaultInitialInterval,
	}

	for _, opt := range opts {
		opt(options)
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     options.initialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         deadline / 4, //nolint:gomnd
		MaxElapsedTime:      deadline,
		Clock:               backoff.SystemClock,
	}

	b.Reset()

	return b
}

// Invoke invokes the given operation, retrying transient failures until the
// deadline elapses or the context is cancelled. Non-transient failures surface
// immediately. When retries are exhausted the error of the last attempt is
// returned.
func Invoke(ctx context.Context, deadline time.Duration, op Operation, notify Notify, opts ...Opt) error {
	if notify == nil {
		notify = func(error, time.Duration) {}
	}

	return backoff.RetryNotify(
		func() error {
			err := op()
			if err == nil {
				return nil
			}

			if !errors.IsTransient(err) {
				return backoff.Permanent(err)
			}

			return err
		},
		backoff.WithContext(BackOff(deadline, opts...), ctx),
		notify,
	)
}
