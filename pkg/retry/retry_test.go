/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/octue/octue-sdk-go/pkg/errors"
)

func TestInvoke(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		attempts := 0

		err := Invoke(context.Background(), time.Second,
			func() error {
				attempts++

				return nil
			},
			nil,
		)
		require.NoError(t, err)
		require.Equal(t, 1, attempts)
	})

	t.Run("transient error is retried", func(t *testing.T) {
		attempts := 0
		notified := 0

		err := Invoke(context.Background(), time.Second,
			func() error {
				attempts++

				if attempts < 3 {
					return errors.NewTransientf("connection reset")
				}

				return nil
			},
			func(error, time.Duration) {
				notified++
			},
			WithInitialInterval(time.Millisecond),
		)
		require.NoError(t, err)
		require.Equal(t, 3, attempts)
		require.Equal(t, 2, notified)
	})

	t.Run("non-transient error surfaces immediately", func(t *testing.T) {
		attempts := 0
		errPermanent := stderrors.New("permission denied")

		err := Invoke(context.Background(), time.Second,
			func() error {
				attempts++

				return errPermanent
			},
			nil,
			WithInitialInterval(time.Millisecond),
		)
		require.EqualError(t, err, "permission denied")
		require.Equal(t, 1, attempts)
	})

	t.Run("gives up after deadline", func(t *testing.T) {
		attempts := 0

		start := time.Now()

		err := Invoke(context.Background(), 50*time.Millisecond,
			func() error {
				attempts++

				return errors.NewTransientf("unavailable")
			},
			nil,
			WithInitialInterval(time.Millisecond),
		)
		require.Error(t, err)
		require.EqualError(t, err, "unavailable")
		require.Greater(t, attempts, 1)
		require.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("cancelled context stops retries", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := Invoke(ctx, time.Second,
			func() error {
				return errors.NewTransientf("unavailable")
			},
			nil,
			WithInitialInterval(time.Millisecond),
		)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestBackOff(t *testing.T) {
	b := BackOff(20 * time.Second)

	d := b.NextBackOff()
	require.Greater(t, d, time.Duration(0))
	require.LessOrEqual(t, d, 5*time.Second)
}
