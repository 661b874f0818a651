/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mempubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/octue/octue-sdk-go/internal/pkg/log"
	"github.com/octue/octue-sdk-go/pkg/errors"
	"github.com/octue/octue-sdk-go/pkg/lifecycle"
	"github.com/octue/octue-sdk-go/pkg/pubsub/spi"
)

var logger = log.New("pubsub_mem")

const defaultBufferSize = 100

// Config holds the configuration for the publisher/subscriber.
type Config struct {
	// BufferSize is the size of the Go channel buffer for a subscription.
	BufferSize int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize: defaultBufferSize,
	}
}

// PushFunc delivers a message of a push subscription to its push endpoint.
type PushFunc func(endpoint string, msg *message.Message)

// PubSub implements a publisher/subscriber transport using Go channels. This
// implementation works only within a single process and is intended for tests
// and local development; a real broker must be used to distribute services
// across processes.
type PubSub struct {
	*lifecycle.Lifecycle
	Config

	mutex    sync.RWMutex
	topics   map[string]struct{}
	subs     map[string]*subscription
	byTopic  map[string][]*subscription
	pushFunc PushFunc
}

type subscription struct {
	name         string
	topic        string
	pushEndpoint string
	expiration   time.Duration
	queue        chan *message.Message
}

// Opt sets a publisher/subscriber option.
type Opt func(p *PubSub)

// WithPushFunc sets the function that delivers messages of push subscriptions
// to their endpoints. Messages published to a push subscription are dropped if
// no push function is set.
func WithPushFunc(f PushFunc) Opt {
	return func(p *PubSub) {
		p.pushFunc = f
	}
}

// New returns a new in-memory publisher/subscriber.
func New(cfg Config, opts ...Opt) *PubSub {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = defaultBufferSize
	}

	p := &PubSub{
		Config:  cfg,
		topics:  make(map[string]struct{}),
		subs:    make(map[string]*subscription),
		byTopic: make(map[string][]*subscription),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.Lifecycle = lifecycle.New("pubsub_mem", lifecycle.WithStop(p.stop))

	// Start the service immediately.
	p.Start()

	return p
}

// Close closes all resources.
func (p *PubSub) Close() error {
	p.Stop()

	return nil
}

// IsConnected returns true since the in-memory transport has no broker connection.
func (p *PubSub) IsConnected() bool {
	return true
}

func (p *PubSub) stop() {
	logger.Info("Stopping publisher/subscriber ...")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, s := range p.subs {
		close(s.queue)
	}

	p.topics = nil
	p.subs = nil
	p.byTopic = nil

	logger.Info("... publisher/subscriber stopped.")
}

// CreateTopic creates the given topic.
func (p *PubSub) CreateTopic(_ context.Context, topic string, allowExisting bool) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, ok := p.topics[topic]; ok {
		if !allowExisting {
			return fmt.Errorf("topic [%s]: %w", topic, errors.ErrAlreadyExists)
		}

		return nil
	}

	p.topics[topic] = struct{}{}

	logger.Debug("Created topic", log.WithTopic(topic))

	return nil
}

// DeleteTopic deletes the given topic.
func (p *PubSub) DeleteTopic(_ context.Context, topic string) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, ok := p.topics[topic]; !ok {
		return fmt.Errorf("topic [%s]: %w", topic, errors.ErrNotFound)
	}

	delete(p.topics, topic)
	delete(p.byTopic, topic)

	logger.Debug("Deleted topic", log.WithTopic(topic))

	return nil
}

// TopicExists returns true if the given topic exists.
func (p *PubSub) TopicExists(_ context.Context, topic string) (bool, error) {
	if p.State() != lifecycle.StateStarted {
		return false, lifecycle.ErrNotStarted
	}

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	_, ok := p.topics[topic]

	return ok, nil
}

// CreateSubscription creates a subscription on the given topic.
func (p *PubSub) CreateSubscription(_ context.Context, topic, name string, allowExisting bool,
	opts ...spi.SubscriptionOption) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	options := &spi.SubscriptionOptions{}

	for _, opt := range opts {
		opt(options)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, ok := p.topics[topic]; !ok {
		return fmt.Errorf("topic [%s]: %w", topic, errors.ErrNotFound)
	}

	if _, ok := p.subs[name]; ok {
		if !allowExisting {
			return fmt.Errorf("subscription [%s]: %w", name, errors.ErrAlreadyExists)
		}

		return nil
	}

	s := &subscription{
		name:         name,
		topic:        topic,
		pushEndpoint: options.PushEndpoint,
		expiration:   options.Expiration,
		queue:        make(chan *message.Message, p.BufferSize),
	}

	p.subs[name] = s
	p.byTopic[topic] = append(p.byTopic[topic], s)

	logger.Debug("Created subscription", logfields.WithSubscription(name), log.WithTopic(topic),
		logfields.WithPushEndpoint(options.PushEndpoint))

	return nil
}

// DeleteSubscription deletes the given subscription.
func (p *PubSub) DeleteSubscription(_ context.Context, name string) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	s, ok := p.subs[name]
	if !ok {
		return fmt.Errorf("subscription [%s]: %w", name, errors.ErrNotFound)
	}

	delete(p.subs, name)

	remaining := make([]*subscription, 0, len(p.byTopic[s.topic]))

	for _, other := range p.byTopic[s.topic] {
		if other.name != name {
			remaining = append(remaining, other)
		}
	}

	p.byTopic[s.topic] = remaining

	close(s.queue)

	logger.Debug("Deleted subscription", logfields.WithSubscription(name))

	return nil
}

// IsPushSubscription returns true if the given subscription has a push endpoint.
func (p *PubSub) IsPushSubscription(_ context.Context, name string) (bool, error) {
	if p.State() != lifecycle.StateStarted {
		return false, lifecycle.ErrNotStarted
	}

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	s, ok := p.subs[name]
	if !ok {
		return false, fmt.Errorf("subscription [%s]: %w", name, errors.ErrNotFound)
	}

	return s.pushEndpoint != "", nil
}

// Publish publishes the given message to all subscriptions of the given topic.
// Publishing to a topic that does not exist fails with a transient error since
// the topic may be in the process of being created.
func (p *PubSub) Publish(_ context.Context, topic string, msg *message.Message) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if _, ok := p.topics[topic]; !ok {
		return errors.NewTransient(fmt.Errorf("topic [%s]: %w", topic, errors.ErrNotFound))
	}

	for _, s := range p.byTopic[topic] {
		// Copy the message so that each subscription gets its own instance.
		m := msg.Copy()

		if s.pushEndpoint != "" {
			if p.pushFunc == nil {
				logger.Warn("No push function is set. Dropping message for push subscription.",
					logfields.WithMessageID(msg.UUID), logfields.WithSubscription(s.name))

				continue
			}

			go p.pushFunc(s.pushEndpoint, m)

			continue
		}

		select {
		case s.queue <- m:
		default:
			logger.Warn("Subscription buffer is full. Dropping message.",
				logfields.WithMessageID(msg.UUID), logfields.WithSubscription(s.name))
		}
	}

	return nil
}

// Pull pulls up to maxMessages messages from the given subscription, waiting
// no longer than the context deadline for the first message.
func (p *PubSub) Pull(ctx context.Context, name string, maxMessages int) ([]*spi.ReceivedMessage, error) {
	if p.State() != lifecycle.StateStarted {
		return nil, lifecycle.ErrNotStarted
	}

	p.mutex.RLock()
	s, ok := p.subs[name]
	p.mutex.RUnlock()

	if !ok {
		return nil, fmt.Errorf("subscription [%s]: %w", name, errors.ErrNotFound)
	}

	if s.pushEndpoint != "" {
		return nil, errors.NewBadRequestf("subscription [%s] is a push subscription and cannot be pulled", name)
	}

	var received []*spi.ReceivedMessage

	for len(received) < maxMessages {
		if len(received) == 0 {
			select {
			case msg, ok := <-s.queue:
				if !ok {
					return received, nil
				}

				received = append(received, &spi.ReceivedMessage{AckID: msg.UUID, Msg: msg})

			case <-ctx.Done():
				return received, nil
			}

			continue
		}

		select {
		case msg, ok := <-s.queue:
			if !ok {
				return received, nil
			}

			received = append(received, &spi.ReceivedMessage{AckID: msg.UUID, Msg: msg})

		default:
			return received, nil
		}
	}

	return received, nil
}

// Acknowledge acknowledges the messages with the given ack IDs. Pulled
// messages are already removed from the subscription, so this is a no-op
// beyond validating the subscription.
func (p *PubSub) Acknowledge(_ context.Context, name string, _ []string) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if _, ok := p.subs[name]; !ok {
		return fmt.Errorf("subscription [%s]: %w", name, errors.ErrNotFound)
	}

	return nil
}

// Subscribe starts streaming delivery from the given subscription and returns
// the Go channel over which messages are sent. The channel is closed when the
// context is cancelled or the subscription is deleted.
func (p *PubSub) Subscribe(ctx context.Context, name string, _ ...spi.Option) (<-chan *message.Message, error) {
	if p.State() != lifecycle.StateStarted {
		return nil, lifecycle.ErrNotStarted
	}

	p.mutex.RLock()
	s, ok := p.subs[name]
	p.mutex.RUnlock()

	if !ok {
		return nil, fmt.Errorf("subscription [%s]: %w", name, errors.ErrNotFound)
	}

	out := make(chan *message.Message, p.BufferSize)

	go func() {
		defer close(out)

		for {
			select {
			case msg, ok := <-s.queue:
				if !ok {
					return
				}

				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
