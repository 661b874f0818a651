/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package tracing

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	t.Run("Provider NONE", func(t *testing.T) {
		tp, err := Initialize(ProviderNone, "service1", "")
		require.NoError(t, err)
		require.Equal(t, reflect.TypeOf(&noopTracerProvider{}), reflect.TypeOf(tp))
	})

	t.Run("Provider JAEGER", func(t *testing.T) {
		tp, err := Initialize(ProviderJaeger, "service1", "")
		require.NoError(t, err)
		require.NotNil(t, tp)
		require.NotPanics(t, tp.Start)
		require.NotPanics(t, tp.Stop)

		require.NotNil(t, Tracer("subsystem1"))
	})

	t.Run("Unsupported provider", func(t *testing.T) {
		tp, err := Initialize("unsupported", "service1", "")
		require.Error(t, err)
		require.Contains(t, err.Error(), "unsupported tracing provider")
		require.Nil(t, tp)
	})
}

func TestAttributes(t *testing.T) {
	const (
		messageUUID  = "dbe9d28b-6726-4c5c-a9a3-bd0a6e152e4d"
		serviceID    = "octue.services.my-org.my-service"
		questionUUID = "0d9dd2e0-5fb5-4069-9d7e-b16b1cdc7ee3"
		messageKind  = "log_record"
	)

	require.Equal(t, messageUUID, MessageUUIDAttribute(messageUUID).Value.AsString())
	require.Equal(t, serviceID, ServiceIDAttribute(serviceID).Value.AsString())
	require.Equal(t, questionUUID, QuestionUUIDAttribute(questionUUID).Value.AsString())
	require.Equal(t, messageKind, MessageKindAttribute(messageKind).Value.AsString())
}

func TestSpan(t *testing.T) {
	tp, err := Initialize(ProviderJaeger, "service1", "")
	require.NoError(t, err)
	require.NotNil(t, tp)

	tracer := Tracer("subsystem1")
	require.NotNil(t, tracer)

	t.Run("Span not started", func(t *testing.T) {
		span := NewSpan(tracer, context.Background())
		require.NotNil(t, span)

		require.NotPanics(t, func() {
			span.End()
		})
	})

	t.Run("Span started", func(t *testing.T) {
		span := NewSpan(tracer, context.Background())
		require.NotNil(t, span)

		ctx := span.Start("span1")
		require.NotNil(t, ctx)

		ctx2 := span.Start("span1")
		require.Equal(t, ctx, ctx2)

		require.NotPanics(t, func() {
			span.End()
		})
	})
}
