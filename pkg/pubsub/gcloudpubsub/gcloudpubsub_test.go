/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package gcloudpubsub

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/octue/octue-sdk-go/pkg/errors"
	"github.com/octue/octue-sdk-go/pkg/lifecycle"
	"github.com/octue/octue-sdk-go/pkg/pubsub/spi"
)

func TestPubSub_Topics(t *testing.T) {
	p := newTestPubSub(t)

	require.True(t, p.IsConnected())

	t.Run("Create and delete", func(t *testing.T) {
		exists, err := p.TopicExists(context.Background(), "octue.services.child")
		require.NoError(t, err)
		require.False(t, exists)

		require.NoError(t, p.CreateTopic(context.Background(), "octue.services.child", false))

		exists, err = p.TopicExists(context.Background(), "octue.services.child")
		require.NoError(t, err)
		require.True(t, exists)

		require.NoError(t, p.DeleteTopic(context.Background(), "octue.services.child"))

		exists, err = p.TopicExists(context.Background(), "octue.services.child")
		require.NoError(t, err)
		require.False(t, exists)
	})

	t.Run("Already exists", func(t *testing.T) {
		require.NoError(t, p.CreateTopic(context.Background(), "octue.services.child2", false))

		err := p.CreateTopic(context.Background(), "octue.services.child2", false)
		require.Error(t, err)
		require.True(t, stderrors.Is(err, errors.ErrAlreadyExists))

		require.NoError(t, p.CreateTopic(context.Background(), "octue.services.child2", true))
	})

	t.Run("Delete not found", func(t *testing.T) {
		err := p.DeleteTopic(context.Background(), "octue.services.unknown")
		require.Error(t, err)
		require.True(t, stderrors.Is(err, errors.ErrNotFound))
	})
}

func TestPubSub_Subscriptions(t *testing.T) {
	p := newTestPubSub(t)

	require.NoError(t, p.CreateTopic(context.Background(), "octue.services.child", false))

	t.Run("Create and delete", func(t *testing.T) {
		require.NoError(t, p.CreateSubscription(context.Background(), "octue.services.child",
			"octue.services.child", false))

		err := p.CreateSubscription(context.Background(), "octue.services.child",
			"octue.services.child", false)
		require.Error(t, err)
		require.True(t, stderrors.Is(err, errors.ErrAlreadyExists))

		require.NoError(t, p.CreateSubscription(context.Background(), "octue.services.child",
			"octue.services.child", true))

		isPush, err := p.IsPushSubscription(context.Background(), "octue.services.child")
		require.NoError(t, err)
		require.False(t, isPush)

		require.NoError(t, p.DeleteSubscription(context.Background(), "octue.services.child"))

		err = p.DeleteSubscription(context.Background(), "octue.services.child")
		require.Error(t, err)
		require.True(t, stderrors.Is(err, errors.ErrNotFound))
	})

	t.Run("Push subscription", func(t *testing.T) {
		require.NoError(t, p.CreateSubscription(context.Background(), "octue.services.child", "push-sub",
			false, spi.WithPushEndpoint("https://child.example.com/questions"), spi.WithExpiration(24*time.Hour)))

		isPush, err := p.IsPushSubscription(context.Background(), "push-sub")
		require.NoError(t, err)
		require.True(t, isPush)
	})

	t.Run("Config of unknown subscription", func(t *testing.T) {
		_, err := p.IsPushSubscription(context.Background(), "unknown-sub")
		require.Error(t, err)
		require.True(t, stderrors.Is(err, errors.ErrNotFound))
	})
}

func TestPubSub_PublishSubscribe(t *testing.T) {
	p := newTestPubSub(t)

	require.NoError(t, p.CreateTopic(context.Background(), "octue.services.child", false))
	require.NoError(t, p.CreateSubscription(context.Background(), "octue.services.child",
		"octue.services.child", false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgChan, err := p.Subscribe(ctx, "octue.services.child", spi.WithPool(2))
	require.NoError(t, err)

	msg := message.NewMessage(watermill.NewUUID(), []byte(`{"input_values": [1, 2, 3]}`))
	msg.Metadata.Set("question_uuid", "b2cd5cf3")

	require.NoError(t, p.Publish(context.Background(), "octue.services.child", msg))

	select {
	case received := <-msgChan:
		require.Equal(t, string(msg.Payload), string(received.Payload))
		require.Equal(t, "b2cd5cf3", received.Metadata.Get("question_uuid"))

		received.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	cancel()

	select {
	case _, ok := <-msgChan:
		require.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message channel to close")
	}

	t.Run("Subscription not found", func(t *testing.T) {
		_, err := p.Subscribe(context.Background(), "unknown-sub")
		require.Error(t, err)
		require.True(t, stderrors.Is(err, errors.ErrNotFound))
	})
}

func TestPubSub_Pull(t *testing.T) {
	p := newTestPubSub(t)

	require.NoError(t, p.CreateTopic(context.Background(), "child.answers.b2cd5cf3", false))
	require.NoError(t, p.CreateSubscription(context.Background(), "child.answers.b2cd5cf3",
		"child.answers.b2cd5cf3", false))

	t.Run("Deadline exceeded -> no messages", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		messages, err := p.Pull(ctx, "child.answers.b2cd5cf3", 1)
		require.NoError(t, err)
		require.Empty(t, messages)
	})

	t.Run("Pull and acknowledge", func(t *testing.T) {
		msg := message.NewMessage(watermill.NewUUID(), []byte(`{"kind": "delivery_ack"}`))
		msg.Metadata.Set("question_uuid", "b2cd5cf3")

		require.NoError(t, p.Publish(context.Background(), "child.answers.b2cd5cf3", msg))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		messages, err := p.Pull(ctx, "child.answers.b2cd5cf3", 1)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		require.NotEmpty(t, messages[0].AckID)
		require.Equal(t, `{"kind": "delivery_ack"}`, string(messages[0].Msg.Payload))
		require.Equal(t, "b2cd5cf3", messages[0].Msg.Metadata.Get("question_uuid"))

		require.NoError(t, p.Acknowledge(context.Background(), "child.answers.b2cd5cf3",
			[]string{messages[0].AckID}))

		require.NoError(t, p.Acknowledge(context.Background(), "child.answers.b2cd5cf3", nil))
	})

	t.Run("Subscription not found", func(t *testing.T) {
		_, err := p.Pull(context.Background(), "unknown-sub", 1)
		require.Error(t, err)
		require.True(t, stderrors.Is(err, errors.ErrNotFound))
	})
}

func TestPubSub_NotStarted(t *testing.T) {
	srv := pstest.NewServer()

	t.Cleanup(func() {
		require.NoError(t, srv.Close())
	})

	p, err := New(context.Background(), DefaultConfig("test-project"), clientOptions(srv)...)
	require.NoError(t, err)

	require.NoError(t, p.Close())

	require.EqualError(t, p.CreateTopic(context.Background(), "topic", false), lifecycle.ErrNotStarted.Error())

	_, err = p.TopicExists(context.Background(), "topic")
	require.EqualError(t, err, lifecycle.ErrNotStarted.Error())

	require.EqualError(t, p.Publish(context.Background(), "topic", message.NewMessage(watermill.NewUUID(), nil)),
		lifecycle.ErrNotStarted.Error())

	_, err = p.Pull(context.Background(), "sub", 1)
	require.EqualError(t, err, lifecycle.ErrNotStarted.Error())
}

func TestClassifyError(t *testing.T) {
	require.NoError(t, classifyError(nil))

	err := classifyError(status.Error(codes.Unavailable, "connection refused"))
	require.True(t, errors.IsTransient(err))

	err = classifyError(fmt.Errorf("pull: %w", status.Error(codes.NotFound, "subscription not found")))
	require.True(t, errors.IsTransient(err))

	err = classifyError(status.Error(codes.PermissionDenied, "access denied"))
	require.False(t, errors.IsTransient(err))
}

func newTestPubSub(t *testing.T) *PubSub {
	t.Helper()

	srv := pstest.NewServer()

	t.Cleanup(func() {
		require.NoError(t, srv.Close())
	})

	p, err := New(context.Background(), DefaultConfig("test-project"), clientOptions(srv)...)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, p.Close())
	})

	return p
}

func clientOptions(srv *pstest.Server) []option.ClientOption {
	return []option.ClientOption{
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}
}
