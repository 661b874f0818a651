/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package gcloudpubsub implements a publisher/subscriber transport on Google
// Cloud Pub/Sub. Topics and subscriptions are managed with the high-level
// client, while unary pulls and acknowledgements go through the subscriber
// API client since the high-level client only supports streaming delivery.
package gcloudpubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	subscriberapi "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/trustbloc/logutil-go/pkg/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	logfields "github.com/octue/octue-sdk-go/internal/pkg/log"
	"github.com/octue/octue-sdk-go/pkg/errors"
	"github.com/octue/octue-sdk-go/pkg/lifecycle"
	"github.com/octue/octue-sdk-go/pkg/pubsub/spi"
)

var logger = log.New("pubsub_gcloud")

const (
	defaultPublishCountThreshold = 1
	defaultPublishDelayThreshold = 10 * time.Millisecond
	defaultPublishByteThreshold  = 10000000
	defaultAckDeadline           = 60 * time.Second
	defaultBufferSize            = 100
)

// Config holds the configuration for the publisher/subscriber.
type Config struct {
	// ProjectID is the ID of the Google Cloud project that holds the topics and subscriptions.
	ProjectID string
	// PublishCountThreshold is the number of messages that are batched before being sent.
	PublishCountThreshold int
	// PublishDelayThreshold is the time after which a batch of messages is sent regardless of its size.
	PublishDelayThreshold time.Duration
	// PublishByteThreshold is the batch size in bytes above which messages are sent.
	PublishByteThreshold int
	// AckDeadline is the time that the server waits for a message to be acknowledged before redelivering it.
	AckDeadline time.Duration
	// BufferSize is the size of the Go channel buffer for a subscription.
	BufferSize int
}

// DefaultConfig returns the default configuration. Messages are published
// immediately since questions and answers are latency-sensitive.
func DefaultConfig(projectID string) Config {
	return Config{
		ProjectID:             projectID,
		PublishCountThreshold: defaultPublishCountThreshold,
		PublishDelayThreshold: defaultPublishDelayThreshold,
		PublishByteThreshold:  defaultPublishByteThreshold,
		AckDeadline:           defaultAckDeadline,
		BufferSize:            defaultBufferSize,
	}
}

// PubSub implements a publisher/subscriber transport on Google Cloud Pub/Sub.
type PubSub struct {
	*lifecycle.Lifecycle
	Config

	client     *pubsub.Client
	subscriber *subscriberapi.SubscriberClient

	mutex  sync.Mutex
	topics map[string]*pubsub.Topic
}

// New returns a new publisher/subscriber for the Google Cloud project in the
// given configuration. Credentials and endpoint overrides are passed as
// client options.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*PubSub, error) {
	if cfg.PublishCountThreshold == 0 {
		cfg.PublishCountThreshold = defaultPublishCountThreshold
	}

	if cfg.PublishDelayThreshold == 0 {
		cfg.PublishDelayThreshold = defaultPublishDelayThreshold
	}

	if cfg.PublishByteThreshold == 0 {
		cfg.PublishByteThreshold = defaultPublishByteThreshold
	}

	if cfg.AckDeadline == 0 {
		cfg.AckDeadline = defaultAckDeadline
	}

	if cfg.BufferSize == 0 {
		cfg.BufferSize = defaultBufferSize
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	subscriber, err := subscriberapi.NewSubscriberClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create subscriber client: %w", err)
	}

	p := &PubSub{
		Config:     cfg,
		client:     client,
		subscriber: subscriber,
		topics:     make(map[string]*pubsub.Topic),
	}

	p.Lifecycle = lifecycle.New("pubsub_gcloud", lifecycle.WithStop(p.stop))

	// Start the service immediately.
	p.Start()

	return p, nil
}

// Close closes all resources.
func (p *PubSub) Close() error {
	p.Stop()

	return nil
}

// IsConnected returns true if the clients are open.
func (p *PubSub) IsConnected() bool {
	return p.State() == lifecycle.StateStarted
}

func (p *PubSub) stop() {
	logger.Info("Stopping publisher/subscriber ...")

	p.mutex.Lock()

	for _, t := range p.topics {
		// Flush any messages that have not been sent yet.
		t.Stop()
	}

	p.topics = make(map[string]*pubsub.Topic)

	p.mutex.Unlock()

	if err := p.subscriber.Close(); err != nil {
		logger.Warn("Error closing subscriber client", log.WithError(err))
	}

	if err := p.client.Close(); err != nil {
		logger.Warn("Error closing client", log.WithError(err))
	}

	logger.Info("... publisher/subscriber stopped.")
}

// CreateTopic creates the given topic.
func (p *PubSub) CreateTopic(ctx context.Context, topic string, allowExisting bool) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	_, err := p.client.CreateTopic(ctx, topic)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			if allowExisting {
				return nil
			}

			return fmt.Errorf("topic [%s]: %w", topic, errors.ErrAlreadyExists)
		}

		return classifyError(fmt.Errorf("create topic [%s]: %w", topic, err))
	}

	logger.Debug("Created topic", log.WithTopic(topic))

	return nil
}

// DeleteTopic deletes the given topic.
func (p *PubSub) DeleteTopic(ctx context.Context, topic string) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	p.mutex.Lock()

	if t, ok := p.topics[topic]; ok {
		t.Stop()

		delete(p.topics, topic)
	}

	p.mutex.Unlock()

	if err := p.client.Topic(topic).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("topic [%s]: %w", topic, errors.ErrNotFound)
		}

		return classifyError(fmt.Errorf("delete topic [%s]: %w", topic, err))
	}

	logger.Debug("Deleted topic", log.WithTopic(topic))

	return nil
}

// TopicExists returns true if the given topic exists.
func (p *PubSub) TopicExists(ctx context.Context, topic string) (bool, error) {
	if p.State() != lifecycle.StateStarted {
		return false, lifecycle.ErrNotStarted
	}

	exists, err := p.client.Topic(topic).Exists(ctx)
	if err != nil {
		return false, classifyError(fmt.Errorf("topic [%s] exists: %w", topic, err))
	}

	return exists, nil
}

// CreateSubscription creates a subscription on the given topic.
func (p *PubSub) CreateSubscription(ctx context.Context, topic, name string, allowExisting bool,
	opts ...spi.SubscriptionOption) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	options := &spi.SubscriptionOptions{}

	for _, opt := range opts {
		opt(options)
	}

	cfg := pubsub.SubscriptionConfig{
		Topic:       p.client.Topic(topic),
		AckDeadline: p.AckDeadline,
	}

	if options.PushEndpoint != "" {
		cfg.PushConfig = pubsub.PushConfig{Endpoint: options.PushEndpoint}
	}

	if options.Expiration > 0 {
		cfg.ExpirationPolicy = options.Expiration
	}

	_, err := p.client.CreateSubscription(ctx, name, cfg)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			if allowExisting {
				return nil
			}

			return fmt.Errorf("subscription [%s]: %w", name, errors.ErrAlreadyExists)
		}

		return classifyError(fmt.Errorf("create subscription [%s] on topic [%s]: %w", name, topic, err))
	}

	logger.Debug("Created subscription", logfields.WithSubscription(name), log.WithTopic(topic),
		logfields.WithPushEndpoint(options.PushEndpoint), logfields.WithExpiration(options.Expiration))

	return nil
}

// DeleteSubscription deletes the given subscription.
func (p *PubSub) DeleteSubscription(ctx context.Context, name string) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	if err := p.client.Subscription(name).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("subscription [%s]: %w", name, errors.ErrNotFound)
		}

		return classifyError(fmt.Errorf("delete subscription [%s]: %w", name, err))
	}

	logger.Debug("Deleted subscription", logfields.WithSubscription(name))

	return nil
}

// IsPushSubscription returns true if the given subscription has a push endpoint.
func (p *PubSub) IsPushSubscription(ctx context.Context, name string) (bool, error) {
	if p.State() != lifecycle.StateStarted {
		return false, lifecycle.ErrNotStarted
	}

	cfg, err := p.client.Subscription(name).Config(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, fmt.Errorf("subscription [%s]: %w", name, errors.ErrNotFound)
		}

		return false, classifyError(fmt.Errorf("subscription [%s] config: %w", name, err))
	}

	return cfg.PushConfig.Endpoint != "", nil
}

// Publish publishes the given message to the given topic, returning after the
// server has acknowledged it.
func (p *PubSub) Publish(ctx context.Context, topic string, msg *message.Message) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	result := p.getTopic(topic).Publish(ctx, &pubsub.Message{
		Data:       msg.Payload,
		Attributes: attributes(msg),
	})

	serverID, err := result.Get(ctx)
	if err != nil {
		return classifyError(fmt.Errorf("publish to topic [%s]: %w", topic, err))
	}

	logger.Debug("Published message", logfields.WithMessageID(serverID), log.WithTopic(topic),
		logfields.WithSize(len(msg.Payload)))

	return nil
}

// Pull pulls up to maxMessages messages from the given subscription, waiting
// no longer than the context deadline.
func (p *PubSub) Pull(ctx context.Context, name string, maxMessages int) ([]*spi.ReceivedMessage, error) {
	if p.State() != lifecycle.StateStarted {
		return nil, lifecycle.ErrNotStarted
	}

	resp, err := p.subscriber.Pull(ctx, &pubsubpb.PullRequest{
		Subscription: p.subscriptionName(name),
		MaxMessages:  int32(maxMessages),
	})
	if err != nil {
		code := status.Code(err)

		// The context deadline bounds the wait for messages. Running out of
		// time is not an error, just an empty result.
		if code == codes.DeadlineExceeded || code == codes.Canceled {
			return nil, nil
		}

		if code == codes.NotFound {
			return nil, fmt.Errorf("subscription [%s]: %w", name, errors.ErrNotFound)
		}

		return nil, classifyError(fmt.Errorf("pull from subscription [%s]: %w", name, err))
	}

	received := make([]*spi.ReceivedMessage, 0, len(resp.ReceivedMessages))

	for _, m := range resp.ReceivedMessages {
		received = append(received, &spi.ReceivedMessage{
			AckID: m.AckId,
			Msg:   toMessage(m.Message),
		})
	}

	return received, nil
}

// Acknowledge acknowledges the messages with the given ack IDs.
func (p *PubSub) Acknowledge(ctx context.Context, name string, ackIDs []string) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	if len(ackIDs) == 0 {
		return nil
	}

	err := p.subscriber.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: p.subscriptionName(name),
		AckIds:       ackIDs,
	})
	if err != nil {
		return classifyError(fmt.Errorf("acknowledge on subscription [%s]: %w", name, err))
	}

	return nil
}

// Subscribe starts streaming delivery from the given subscription and returns
// the Go channel over which messages are sent. Each message is acknowledged
// on the server when it is acknowledged by the consumer.
func (p *PubSub) Subscribe(ctx context.Context, name string, opts ...spi.Option) (<-chan *message.Message, error) {
	if p.State() != lifecycle.StateStarted {
		return nil, lifecycle.ErrNotStarted
	}

	options := &spi.Options{}

	for _, opt := range opts {
		opt(options)
	}

	sub := p.client.Subscription(name)

	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, classifyError(fmt.Errorf("subscription [%s] exists: %w", name, err))
	}

	if !exists {
		return nil, fmt.Errorf("subscription [%s]: %w", name, errors.ErrNotFound)
	}

	if options.PoolSize > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = options.PoolSize
	}

	msgChan := make(chan *message.Message, p.BufferSize)

	go func() {
		defer close(msgChan)

		err := sub.Receive(ctx, func(_ context.Context, m *pubsub.Message) {
			msg := message.NewMessage(m.ID, m.Data)

			for k, v := range m.Attributes {
				msg.Metadata.Set(k, v)
			}

			select {
			case msgChan <- msg:
			case <-ctx.Done():
				m.Nack()

				return
			}

			select {
			case <-msg.Acked():
				m.Ack()
			case <-msg.Nacked():
				m.Nack()
			case <-ctx.Done():
				m.Nack()
			}
		})
		if err != nil && ctx.Err() == nil {
			logger.Error("Error receiving messages from subscription", log.WithError(err),
				logfields.WithSubscription(name))
		}
	}()

	logger.Debug("Subscribed to subscription", logfields.WithSubscription(name))

	return msgChan, nil
}

func (p *PubSub) getTopic(name string) *pubsub.Topic {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		t.PublishSettings.CountThreshold = p.PublishCountThreshold
		t.PublishSettings.DelayThreshold = p.PublishDelayThreshold
		t.PublishSettings.ByteThreshold = p.PublishByteThreshold

		p.topics[name] = t
	}

	return t
}

func (p *PubSub) subscriptionName(name string) string {
	return fmt.Sprintf("projects/%s/subscriptions/%s", p.ProjectID, name)
}

func toMessage(m *pubsubpb.PubsubMessage) *message.Message {
	msg := message.NewMessage(m.MessageId, m.Data)

	for k, v := range m.Attributes {
		msg.Metadata.Set(k, v)
	}

	return msg
}

func attributes(msg *message.Message) map[string]string {
	if len(msg.Metadata) == 0 {
		return nil
	}

	attrs := make(map[string]string, len(msg.Metadata))

	for k, v := range msg.Metadata {
		attrs[k] = v
	}

	return attrs
}

// transientCodes are the status codes treated as retryable. Topics and
// subscriptions may take time to become visible after creation, so NotFound
// is included.
//nolint:gochecknoglobals
var transientCodes = map[codes.Code]struct{}{
	codes.NotFound:          {},
	codes.Aborted:           {},
	codes.DeadlineExceeded:  {},
	codes.Internal:          {},
	codes.ResourceExhausted: {},
	codes.Unavailable:       {},
	codes.Unknown:           {},
	codes.Canceled:          {},
}

func classifyError(err error) error {
	if _, ok := transientCodes[status.Code(err)]; ok {
		return errors.NewTransient(err)
	}

	return err
}
