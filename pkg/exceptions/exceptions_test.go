/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package exceptions

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	octueerrors "github.com/octue/octue-sdk-go/pkg/errors"
)

func TestExceptions(t *testing.T) {
	t.Run("typed exception", func(t *testing.T) {
		err := NewServiceNotFound("Service with ID %q cannot be found.", "my-org/my-service")

		require.EqualError(t, err, `Service with ID "my-org/my-service" cannot be found.`)
		require.Equal(t, TypeServiceNotFound, err.Name())
		require.Empty(t, err.Traceback())

		var e *ServiceNotFound

		require.True(t, errors.As(fmt.Errorf("ask: %w", err), &e))
	})

	t.Run("generic exception", func(t *testing.T) {
		err := New("AnUnknownException", "This is an exception unknown to the asker.")

		require.EqualError(t, err, "This is an exception unknown to the asker.")
		require.Equal(t, "AnUnknownException", err.Name())
	})

	t.Run("name of", func(t *testing.T) {
		require.Equal(t, TypeInvalidManifestContents, NameOf(NewInvalidManifestContents("'met_mast_id' is a required property")))
		require.Equal(t, TypeTimeoutError, NameOf(octueerrors.NewTimeoutf("no answer after 30s")))
		require.Equal(t, TypeException, NameOf(errors.New("some error")))

		wrapped := fmt.Errorf("run: %w", NewInvalidInput("bad input"))
		require.Equal(t, TypeInvalidInput, NameOf(wrapped))
	})

	t.Run("traceback of", func(t *testing.T) {
		require.Nil(t, TracebackOf(errors.New("some error")))

		tb := Capture(0)
		require.NotEmpty(t, tb)

		err := DefaultRegistry().New(TypeInvalidValuesContents, "'height' is a required property", tb)
		require.Equal(t, tb, TracebackOf(err))
	})
}

func TestTraceback(t *testing.T) {
	tb := Capture(0)

	require.NotEmpty(t, tb)
	require.Contains(t, tb[0].Function, "TestTraceback")

	text := tb.String()
	require.Contains(t, text, "Traceback (most recent call last):")
	require.Contains(t, text, "TestTraceback")

	require.Empty(t, Traceback(nil).String())
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	t.Run("known type", func(t *testing.T) {
		err := r.New(TypeInvalidManifestContents, "'met_mast_id' is a required property", nil)

		var e *InvalidManifestContents

		require.True(t, errors.As(err, &e))
		require.EqualError(t, err, "'met_mast_id' is a required property")
	})

	t.Run("unknown type falls back to generic", func(t *testing.T) {
		tb := Traceback{{Function: "run", File: "app.py", Line: 10}}

		err := r.New("AnUnknownException", "This is an exception unknown to the asker.", tb)

		var e *Exception

		require.True(t, errors.As(err, &e))
		require.Equal(t, "AnUnknownException", e.Name())
		require.EqualError(t, err, "This is an exception unknown to the asker.")
		require.Equal(t, tb, e.Traceback())
	})

	t.Run("custom constructor", func(t *testing.T) {
		r := NewRegistry()

		r.Register("CustomError", func(message string, _ Traceback) error {
			return errors.New("custom: " + message)
		})

		require.EqualError(t, r.New("CustomError", "some error", nil), "custom: some error")
	})
}
