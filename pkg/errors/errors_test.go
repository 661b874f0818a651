/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransientError(t *testing.T) {
	et := errors.New("some transient error")
	ep := errors.New("some persistent error")

	err := fmt.Errorf("got error: %w", NewTransient(et))

	require.True(t, IsTransient(err))
	require.True(t, errors.Is(err, et))
	require.False(t, IsTransient(ep))
	require.EqualError(t, err, "got error: some transient error")

	err = NewTransientf("got error: %w", et)

	require.True(t, IsTransient(err))
	require.True(t, errors.Is(err, et))
	require.EqualError(t, err, "got error: some transient error")
}

func TestBadRequestError(t *testing.T) {
	eb := errors.New("some bad request error")

	err := fmt.Errorf("got error: %w", NewBadRequest(eb))

	require.True(t, IsBadRequest(err))
	require.True(t, errors.Is(err, eb))
	require.False(t, IsBadRequest(errors.New("some other error")))
	require.EqualError(t, err, "got error: some bad request error")

	err = NewBadRequestf("got error: %w", eb)

	require.True(t, IsBadRequest(err))
	require.EqualError(t, err, "got error: some bad request error")
}

func TestTimeoutError(t *testing.T) {
	et := errors.New("deadline exceeded")

	err := fmt.Errorf("got error: %w", NewTimeout(et))

	require.True(t, IsTimeout(err))
	require.True(t, errors.Is(err, et))
	require.False(t, IsTimeout(errors.New("some other error")))
	require.EqualError(t, err, "got error: deadline exceeded")

	err = NewTimeoutf("got error: %w", et)

	require.True(t, IsTimeout(err))
	require.EqualError(t, err, "got error: deadline exceeded")
}
