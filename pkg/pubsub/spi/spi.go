/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package spi

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// PubSub is the contract implemented by all publisher/subscriber transports.
// Topics and subscriptions are identified by their fully qualified names.
// Operations that take a context honor its deadline, and implementations
// classify broker failures as transient or fatal using the errors package so
// that callers can apply the retry policy.
type PubSub interface {
	// CreateTopic creates the given topic. Creating a topic that already
	// exists fails unless allowExisting is true.
	CreateTopic(ctx context.Context, topic string, allowExisting bool) error

	// DeleteTopic deletes the given topic.
	DeleteTopic(ctx context.Context, topic string) error

	// TopicExists returns true if the given topic exists.
	TopicExists(ctx context.Context, topic string) (bool, error)

	// CreateSubscription creates a subscription on the given topic. Creating a
	// subscription that already exists fails unless allowExisting is true.
	CreateSubscription(ctx context.Context, topic, subscription string, allowExisting bool, opts ...SubscriptionOption) error

	// DeleteSubscription deletes the given subscription.
	DeleteSubscription(ctx context.Context, subscription string) error

	// IsPushSubscription returns true if the given subscription delivers its
	// messages to a push endpoint rather than holding them to be pulled.
	IsPushSubscription(ctx context.Context, subscription string) (bool, error)

	// Publish publishes the given message to the given topic, returning once
	// the broker has acknowledged receipt.
	Publish(ctx context.Context, topic string, msg *message.Message) error

	// Pull pulls up to maxMessages messages from the given subscription,
	// waiting no longer than the context deadline. Fewer messages than
	// requested (including none) may be returned.
	Pull(ctx context.Context, subscription string, maxMessages int) ([]*ReceivedMessage, error)

	// Acknowledge acknowledges the messages with the given ack IDs so that
	// they are not redelivered.
	Acknowledge(ctx context.Context, subscription string, ackIDs []string) error

	// Subscribe starts streaming delivery from the given subscription and
	// returns the Go channel over which messages are sent. Cancelling the
	// context stops delivery and closes the channel.
	Subscribe(ctx context.Context, subscription string, opts ...Option) (<-chan *message.Message, error)

	// Close closes the transport and releases its resources.
	Close() error
}

// ReceivedMessage is a message pulled from a subscription, along with the ID
// used to acknowledge it.
type ReceivedMessage struct {
	AckID string
	Msg   *message.Message
}

// SubscriptionOptions contains options for creating a subscription.
type SubscriptionOptions struct {
	PushEndpoint string
	Expiration   time.Duration
}

// SubscriptionOption specifies an option for creating a subscription.
type SubscriptionOption func(option *SubscriptionOptions)

// WithPushEndpoint configures the subscription to push its messages to the
// given endpoint. Note: not all message brokers support push delivery.
func WithPushEndpoint(endpoint string) SubscriptionOption {
	return func(option *SubscriptionOptions) {
		option.PushEndpoint = endpoint
	}
}

// WithExpiration sets the period of inactivity after which the broker may
// delete the subscription.
func WithExpiration(expiration time.Duration) SubscriptionOption {
	return func(option *SubscriptionOptions) {
		option.Expiration = expiration
	}
}

// Options contains subscriber options.
type Options struct {
	PoolSize int
}

// Option specifies a subscriber option.
type Option func(option *Options)

// WithPool sets the size of the worker pool that concurrently handles messages
// of a streaming subscription.
func WithPool(size int) Option {
	return func(option *Options) {
		option.PoolSize = size
	}
}
