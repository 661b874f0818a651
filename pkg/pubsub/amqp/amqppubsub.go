/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package amqp implements a publisher/subscriber transport on an
// AMQP-compatible message broker. Each topic is backed by a durable fanout
// exchange and each subscription by a durable queue bound to its topic's
// exchange.
package amqp

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v2/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"
	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/octue/octue-sdk-go/internal/pkg/log"
	"github.com/octue/octue-sdk-go/pkg/errors"
	"github.com/octue/octue-sdk-go/pkg/lifecycle"
	"github.com/octue/octue-sdk-go/pkg/pubsub/spi"
	"github.com/octue/octue-sdk-go/pkg/pubsub/wmlogger"
)

const loggerModule = "pubsub_amqp"

var logger = log.New(loggerModule)

const (
	defaultMaxConnectRetries          = 25
	defaultMaxConnectInterval         = 5 * time.Second
	defaultMaxConnectElapsedTime      = 3 * time.Minute
	defaultMaxConnectionSubscriptions = 1000
	defaultPullPollInterval           = 100 * time.Millisecond

	exchangeType = "fanout"

	argPushEndpoint = "x-octue-push-endpoint"
	argExpires      = "x-expires"
)

// Config holds the configuration for the publisher/subscriber.
type Config struct {
	// URI is the connection string of the broker, including any credentials.
	URI string
	// TLSConfig holds the TLS configuration for the broker connection. If nil then the
	// connection is not secured with TLS.
	TLSConfig *tls.Config
	// MaxConnectRetries is the maximum number of times to attempt to connect to the broker.
	MaxConnectRetries uint64
	// MaxConnectionSubscriptions is the maximum number of subscriptions per connection.
	MaxConnectionSubscriptions int
	// PublisherChannelPoolSize is the size of the channel pool used for publishing messages.
	PublisherChannelPoolSize int
	// PublisherConfirmDelivery, if true, waits for the broker to confirm each published
	// message before returning.
	PublisherConfirmDelivery bool
	// PullPollInterval is the time to wait between polls of an empty queue.
	PullPollInterval time.Duration
}

type closeable interface {
	Close() error
}

type subscriber interface {
	closeable
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

type publisher interface {
	closeable
	Publish(topic string, messages ...*message.Message) error
}

type subscriberFactory = func() (subscriber, error)

type publisherFactory = func() (publisher, error)

// PubSub implements a publisher/subscriber transport on an AMQP-compatible message broker.
type PubSub struct {
	*lifecycle.Lifecycle
	Config

	subscriberFactory subscriberFactory
	createPublisher   publisherFactory
	dial              func() (*amqp091.Connection, error)

	subscriber subscriber
	publisher  publisher
	conn       *amqp091.Connection

	mutex        sync.RWMutex
	pools        []*pooledSubscriber
	pullChannels map[string]*amqp091.Channel
	topicOf      map[string]string
	pushOf       map[string]string
}

// New returns a new AMQP publisher/subscriber.
func New(cfg Config) *PubSub {
	cfg = initConfig(cfg)

	p := &PubSub{
		Config:       cfg,
		pullChannels: make(map[string]*amqp091.Channel),
		topicOf:      make(map[string]string),
		pushOf:       make(map[string]string),
	}

	subscriberConfig := newSubscriberConfig(cfg, p.exchangeOf)
	publisherConfig := newPublisherConfig(cfg)

	p.subscriberFactory = func() (subscriber, error) {
		return amqp.NewSubscriber(subscriberConfig, wmlogger.New())
	}

	p.createPublisher = func() (publisher, error) {
		return amqp.NewPublisher(publisherConfig, wmlogger.New())
	}

	p.dial = func() (*amqp091.Connection, error) {
		if cfg.TLSConfig != nil {
			return amqp091.DialTLS(cfg.URI, cfg.TLSConfig)
		}

		return amqp091.Dial(cfg.URI)
	}

	p.Lifecycle = lifecycle.New("pubsub_amqp",
		lifecycle.WithStart(p.start),
		lifecycle.WithStop(p.stop))

	// Start the service immediately.
	p.Start()

	return p
}

// Close stops the publisher/subscriber.
func (p *PubSub) Close() error {
	p.Stop()

	return nil
}

// IsConnected returns true if the connection to the broker is open.
func (p *PubSub) IsConnected() bool {
	return p.State() == lifecycle.StateStarted && p.conn != nil && !p.conn.IsClosed()
}

func (p *PubSub) start() {
	logger.Info("Connecting to message broker", log.WithURL(extractEndpoint(p.URI)))

	err := backoff.RetryNotify(
		p.connect,
		backoff.WithMaxRetries(newConnectBackOff(), p.MaxConnectRetries),
		func(err error, duration time.Duration) {
			logger.Debug("Error connecting to message broker. Retrying...",
				log.WithURL(extractEndpoint(p.URI)), logfields.WithBackoff(duration), log.WithError(err))
		},
	)
	if err != nil {
		panic(fmt.Sprintf("unable to connect to message broker after %d attempts: %s", p.MaxConnectRetries, err))
	}

	logger.Info("Successfully connected to message broker", log.WithURL(extractEndpoint(p.URI)))
}

func (p *PubSub) connect() error {
	conn, err := p.dial()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	pub, err := p.createPublisher()
	if err != nil {
		if e := conn.Close(); e != nil {
			logger.Warn("Error closing connection", log.WithError(e))
		}

		return fmt.Errorf("create publisher: %w", err)
	}

	p.conn = conn
	p.publisher = pub
	p.subscriber = newSubscriberMgr(p.MaxConnectionSubscriptions, p.subscriberFactory)

	return nil
}

func (p *PubSub) stop() {
	logger.Info("Stopping publisher/subscriber ...")

	if err := p.publisher.Close(); err != nil {
		logger.Warn("Error closing publisher", log.WithError(err))
	}

	if err := p.subscriber.Close(); err != nil {
		logger.Warn("Error closing subscriber", log.WithError(err))
	}

	p.mutex.Lock()

	for name, ch := range p.pullChannels {
		if err := ch.Close(); err != nil && !stderrors.Is(err, amqp091.ErrClosed) {
			logger.Warn("Error closing pull channel", log.WithError(err), logfields.WithSubscription(name))
		}
	}

	p.pullChannels = make(map[string]*amqp091.Channel)

	pools := p.pools
	p.pools = nil

	p.mutex.Unlock()

	for _, s := range pools {
		s.stop()
	}

	if err := p.conn.Close(); err != nil && !stderrors.Is(err, amqp091.ErrClosed) {
		logger.Warn("Error closing connection", log.WithError(err))
	}

	logger.Info("... publisher/subscriber stopped.")
}

// CreateTopic creates the given topic.
func (p *PubSub) CreateTopic(_ context.Context, topic string, allowExisting bool) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	exists, err := p.exchangeExists(topic)
	if err != nil {
		return errors.NewTransient(fmt.Errorf("topic [%s] exists: %w", topic, err))
	}

	if exists {
		if allowExisting {
			return nil
		}

		return fmt.Errorf("topic [%s]: %w", topic, errors.ErrAlreadyExists)
	}

	err = p.withChannel(func(ch *amqp091.Channel) error {
		return ch.ExchangeDeclare(topic, exchangeType, true, false, false, false, nil)
	})
	if err != nil {
		return errors.NewTransient(fmt.Errorf("create topic [%s]: %w", topic, err))
	}

	logger.Debug("Created topic", log.WithTopic(topic))

	return nil
}

// DeleteTopic deletes the given topic.
func (p *PubSub) DeleteTopic(_ context.Context, topic string) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	exists, err := p.exchangeExists(topic)
	if err != nil {
		return errors.NewTransient(fmt.Errorf("topic [%s] exists: %w", topic, err))
	}

	if !exists {
		return fmt.Errorf("topic [%s]: %w", topic, errors.ErrNotFound)
	}

	err = p.withChannel(func(ch *amqp091.Channel) error {
		return ch.ExchangeDelete(topic, false, false)
	})
	if err != nil {
		return errors.NewTransient(fmt.Errorf("delete topic [%s]: %w", topic, err))
	}

	logger.Debug("Deleted topic", log.WithTopic(topic))

	return nil
}

// TopicExists returns true if the given topic exists.
func (p *PubSub) TopicExists(_ context.Context, topic string) (bool, error) {
	if p.State() != lifecycle.StateStarted {
		return false, lifecycle.ErrNotStarted
	}

	exists, err := p.exchangeExists(topic)
	if err != nil {
		return false, errors.NewTransient(fmt.Errorf("topic [%s] exists: %w", topic, err))
	}

	return exists, nil
}

// CreateSubscription creates a subscription on the given topic. A push endpoint is recorded
// both locally and as a queue argument, although push delivery itself is performed by an
// external consumer that forwards messages to the endpoint. An expiration is mapped to the
// queue TTL, so an unused subscription is removed by the broker.
func (p *PubSub) CreateSubscription(_ context.Context, topic, name string, allowExisting bool,
	opts ...spi.SubscriptionOption) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	options := &spi.SubscriptionOptions{}

	for _, opt := range opts {
		opt(options)
	}

	topicExists, err := p.exchangeExists(topic)
	if err != nil {
		return errors.NewTransient(fmt.Errorf("topic [%s] exists: %w", topic, err))
	}

	if !topicExists {
		return fmt.Errorf("topic [%s]: %w", topic, errors.ErrNotFound)
	}

	exists, err := p.queueExists(name)
	if err != nil {
		return errors.NewTransient(fmt.Errorf("subscription [%s] exists: %w", name, err))
	}

	if exists {
		if !allowExisting {
			return fmt.Errorf("subscription [%s]: %w", name, errors.ErrAlreadyExists)
		}

		p.recordSubscription(name, topic, options.PushEndpoint)

		return nil
	}

	var args amqp091.Table

	if options.PushEndpoint != "" || options.Expiration > 0 {
		args = amqp091.Table{}

		if options.PushEndpoint != "" {
			args[argPushEndpoint] = options.PushEndpoint
		}

		if options.Expiration > 0 {
			args[argExpires] = options.Expiration.Milliseconds()
		}
	}

	err = p.withChannel(func(ch *amqp091.Channel) error {
		if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue [%s]: %w", name, err)
		}

		if err := ch.QueueBind(name, "", topic, false, nil); err != nil {
			return fmt.Errorf("bind queue [%s] to exchange [%s]: %w", name, topic, err)
		}

		return nil
	})
	if err != nil {
		return errors.NewTransient(fmt.Errorf("create subscription [%s]: %w", name, err))
	}

	p.recordSubscription(name, topic, options.PushEndpoint)

	logger.Debug("Created subscription", logfields.WithSubscription(name), log.WithTopic(topic),
		logfields.WithPushEndpoint(options.PushEndpoint), logfields.WithExpiration(options.Expiration))

	return nil
}

// DeleteSubscription deletes the given subscription.
func (p *PubSub) DeleteSubscription(_ context.Context, name string) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	exists, err := p.queueExists(name)
	if err != nil {
		return errors.NewTransient(fmt.Errorf("subscription [%s] exists: %w", name, err))
	}

	if !exists {
		return fmt.Errorf("subscription [%s]: %w", name, errors.ErrNotFound)
	}

	p.closePullChannel(name)

	p.mutex.Lock()
	delete(p.topicOf, name)
	delete(p.pushOf, name)
	p.mutex.Unlock()

	err = p.withChannel(func(ch *amqp091.Channel) error {
		_, err := ch.QueueDelete(name, false, false, false)

		return err
	})
	if err != nil {
		return errors.NewTransient(fmt.Errorf("delete subscription [%s]: %w", name, err))
	}

	logger.Debug("Deleted subscription", logfields.WithSubscription(name))

	return nil
}

// IsPushSubscription returns true if the given subscription has a push endpoint. Push
// endpoints of subscriptions created by another process are not visible here.
func (p *PubSub) IsPushSubscription(_ context.Context, name string) (bool, error) {
	if p.State() != lifecycle.StateStarted {
		return false, lifecycle.ErrNotStarted
	}

	p.mutex.RLock()
	endpoint, ok := p.pushOf[name]
	p.mutex.RUnlock()

	if ok {
		return endpoint != "", nil
	}

	exists, err := p.queueExists(name)
	if err != nil {
		return false, errors.NewTransient(fmt.Errorf("subscription [%s] exists: %w", name, err))
	}

	if !exists {
		return false, fmt.Errorf("subscription [%s]: %w", name, errors.ErrNotFound)
	}

	return false, nil
}

// Publish publishes the given message to the given topic. Publishing to a topic that
// does not exist fails with a transient error since the topic may be in the process
// of being created.
func (p *PubSub) Publish(_ context.Context, topic string, msg *message.Message) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	if err := p.publisher.Publish(topic, msg); err != nil {
		return errors.NewTransient(fmt.Errorf("publish to topic [%s]: %w", topic, err))
	}

	logger.Debug("Published message", logfields.WithMessageID(msg.UUID), log.WithTopic(topic),
		logfields.WithSize(len(msg.Payload)))

	return nil
}

// Pull pulls up to maxMessages messages from the given subscription, waiting no
// longer than the context deadline for the first message.
func (p *PubSub) Pull(ctx context.Context, name string, maxMessages int) ([]*spi.ReceivedMessage, error) {
	if p.State() != lifecycle.StateStarted {
		return nil, lifecycle.ErrNotStarted
	}

	ch, err := p.pullChannel(name)
	if err != nil {
		return nil, err
	}

	marshaler := &DefaultMarshaler{}

	var received []*spi.ReceivedMessage

	for len(received) < maxMessages {
		d, ok, err := ch.Get(name, false)
		if err != nil {
			p.closePullChannel(name)

			if isNotFound(err) {
				return nil, fmt.Errorf("subscription [%s]: %w", name, errors.ErrNotFound)
			}

			return nil, errors.NewTransient(fmt.Errorf("get from queue [%s]: %w", name, err))
		}

		if !ok {
			if len(received) > 0 {
				return received, nil
			}

			select {
			case <-ctx.Done():
				return received, nil
			case <-time.After(p.PullPollInterval):
			}

			continue
		}

		msg, err := marshaler.Unmarshal(d)
		if err != nil {
			logger.Warn("Error unmarshalling message. Message will be discarded.",
				log.WithError(err), logfields.WithQueue(name))

			if err := ch.Ack(d.DeliveryTag, false); err != nil {
				logger.Warn("Error acknowledging discarded message", log.WithError(err), logfields.WithQueue(name))
			}

			continue
		}

		received = append(received, &spi.ReceivedMessage{
			AckID: strconv.FormatUint(d.DeliveryTag, 10),
			Msg:   msg,
		})
	}

	return received, nil
}

// Acknowledge acknowledges the messages with the given ack IDs. The ack IDs are only
// valid on the channel that the messages were pulled over.
func (p *PubSub) Acknowledge(_ context.Context, name string, ackIDs []string) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	p.mutex.RLock()
	ch, ok := p.pullChannels[name]
	p.mutex.RUnlock()

	if !ok {
		return fmt.Errorf("no messages have been pulled from subscription [%s]", name)
	}

	for _, ackID := range ackIDs {
		tag, err := strconv.ParseUint(ackID, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid ack ID [%s]: %w", ackID, err)
		}

		if err := ch.Ack(tag, false); err != nil {
			p.closePullChannel(name)

			return errors.NewTransient(fmt.Errorf("acknowledge message on queue [%s]: %w", name, err))
		}
	}

	return nil
}

// Subscribe starts streaming delivery from the given subscription and returns the Go
// channel over which messages are sent. The returned channel is closed when Close()
// is called on this struct.
func (p *PubSub) Subscribe(ctx context.Context, name string, opts ...spi.Option) (<-chan *message.Message, error) {
	if p.State() != lifecycle.StateStarted {
		return nil, lifecycle.ErrNotStarted
	}

	options := &spi.Options{}

	for _, opt := range opts {
		opt(options)
	}

	exists, err := p.queueExists(name)
	if err != nil {
		return nil, errors.NewTransient(fmt.Errorf("subscription [%s] exists: %w", name, err))
	}

	if !exists {
		return nil, fmt.Errorf("subscription [%s]: %w", name, errors.ErrNotFound)
	}

	if options.PoolSize == 0 {
		logger.Debug("Subscribing to subscription", logfields.WithSubscription(name))

		return p.subscriber.Subscribe(ctx, name)
	}

	logger.Debug("Creating subscriber pool", logfields.WithSubscription(name), logfields.WithSize(options.PoolSize))

	pool, err := newPooledSubscriber(ctx, options.PoolSize, p.subscriber, name)
	if err != nil {
		return nil, fmt.Errorf("subscriber pool: %w", err)
	}

	p.mutex.Lock()
	p.pools = append(p.pools, pool)
	p.mutex.Unlock()

	pool.start()

	return pool.msgChan, nil
}

// withChannel runs the given function over a fresh channel. A failed operation closes
// the channel on the broker side, so each operation gets its own.
func (p *PubSub) withChannel(f func(ch *amqp091.Channel) error) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	defer func() {
		if err := ch.Close(); err != nil && !stderrors.Is(err, amqp091.ErrClosed) {
			logger.Debug("Error closing channel", log.WithError(err))
		}
	}()

	return f(ch)
}

func (p *PubSub) exchangeExists(topic string) (bool, error) {
	err := p.withChannel(func(ch *amqp091.Channel) error {
		return ch.ExchangeDeclarePassive(topic, exchangeType, true, false, false, false, nil)
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

func (p *PubSub) queueExists(name string) (bool, error) {
	err := p.withChannel(func(ch *amqp091.Channel) error {
		_, err := ch.QueueDeclarePassive(name, true, false, false, false, nil)

		return err
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

func (p *PubSub) recordSubscription(name, topic, pushEndpoint string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.topicOf[name] = topic

	if pushEndpoint != "" {
		p.pushOf[name] = pushEndpoint
	}
}

// exchangeOf resolves the exchange that the given subscription is bound to. A
// subscription created by another process resolves to the default exchange, which is
// fine for consuming since the queue and its binding already exist on the broker.
func (p *PubSub) exchangeOf(subscription string) string {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.topicOf[subscription]
}

func (p *PubSub) pullChannel(name string) (*amqp091.Channel, error) {
	p.mutex.RLock()
	ch, ok := p.pullChannels[name]
	p.mutex.RUnlock()

	if ok {
		return ch, nil
	}

	exists, err := p.queueExists(name)
	if err != nil {
		return nil, errors.NewTransient(fmt.Errorf("subscription [%s] exists: %w", name, err))
	}

	if !exists {
		return nil, fmt.Errorf("subscription [%s]: %w", name, errors.ErrNotFound)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if ch, ok := p.pullChannels[name]; ok {
		return ch, nil
	}

	ch, err = p.conn.Channel()
	if err != nil {
		return nil, errors.NewTransient(fmt.Errorf("open channel: %w", err))
	}

	p.pullChannels[name] = ch

	return ch, nil
}

func (p *PubSub) closePullChannel(name string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if ch, ok := p.pullChannels[name]; ok {
		if err := ch.Close(); err != nil && !stderrors.Is(err, amqp091.ErrClosed) {
			logger.Debug("Error closing pull channel", log.WithError(err), logfields.WithSubscription(name))
		}

		delete(p.pullChannels, name)
	}
}

func isNotFound(err error) bool {
	var amqpErr *amqp091.Error

	return stderrors.As(err, &amqpErr) && amqpErr.Code == amqp091.NotFound
}

func newConnectBackOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     backoff.DefaultInitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         defaultMaxConnectInterval,
		MaxElapsedTime:      defaultMaxConnectElapsedTime,
		Clock:               backoff.SystemClock,
	}

	b.Reset()

	return b
}

type subscriberInfo struct {
	subscriber    subscriber
	subscriptions int
}

// subscriberConnectionMgr creates a new subscriber connection whenever the maximum
// number of subscriptions on the current connection has been reached.
type subscriberConnectionMgr struct {
	createSubscriber  subscriberFactory
	mutex             sync.RWMutex
	subscribers       []*subscriberInfo
	current           *subscriberInfo
	subscriptionLimit int
}

func newSubscriberMgr(limit int, factory subscriberFactory) *subscriberConnectionMgr {
	return &subscriberConnectionMgr{
		subscriptionLimit: limit,
		createSubscriber:  factory,
	}
}

func (m *subscriberConnectionMgr) Close() error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	logger.Info("Closing subscriber connections", logfields.WithTotal(len(m.subscribers)))

	for _, s := range m.subscribers {
		if err := s.subscriber.Close(); err != nil {
			logger.Warn("Error closing subscriber", log.WithError(err))
		}
	}

	return nil
}

func (m *subscriberConnectionMgr) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s, err := m.get()
	if err != nil {
		return nil, err
	}

	return s.Subscribe(ctx, topic)
}

func (m *subscriberConnectionMgr) get() (subscriber, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.current == nil || m.current.subscriptions >= m.subscriptionLimit {
		s, err := m.createSubscriber()
		if err != nil {
			return nil, err
		}

		newCurrent := &subscriberInfo{subscriber: s}

		m.subscribers = append(m.subscribers, newCurrent)
		m.current = newCurrent

		logger.Info("Created new subscriber connection", logfields.WithTotal(len(m.subscribers)))
	}

	m.current.subscriptions++

	logger.Debug("Got subscriber connection", logfields.WithTotal(len(m.subscribers)),
		logfields.WithSize(m.current.subscriptions))

	return m.current.subscriber, nil
}

// extractEndpoint returns the endpoint of the AMQP URL, i.e. everything after @, so
// that credentials in the URL are never logged.
func extractEndpoint(amqpURL string) string {
	i := strings.Index(amqpURL, "://")
	if i < 0 {
		return ""
	}

	path := amqpURL[i+3:]

	j := strings.Index(path, "@")
	if j < 0 {
		return path
	}

	return path[j+1:]
}

func newSubscriberConfig(cfg Config, exchangeOf func(string) string) amqp.Config {
	return amqp.Config{
		Connection: amqp.ConnectionConfig{AmqpURI: cfg.URI, TLSConfig: cfg.TLSConfig},
		Marshaler:  &DefaultMarshaler{},
		Exchange: amqp.ExchangeConfig{
			GenerateName: exchangeOf,
			Type:         exchangeType,
			Durable:      true,
		},
		Queue: amqp.QueueConfig{
			GenerateName: amqp.GenerateQueueNameTopicName,
			Durable:      true,
		},
		QueueBind: amqp.QueueBindConfig{
			GenerateRoutingKey: func(topic string) string { return "" },
		},
		Consume: amqp.ConsumeConfig{
			Qos: amqp.QosConfig{PrefetchCount: 1},
			// Ensure that the message is requeued if the consumer goes down before it is acked.
			NoRequeueOnNack: false,
		},
		TopologyBuilder: &existingQueueTopologyBuilder{},
	}
}

func newPublisherConfig(cfg Config) amqp.Config {
	return amqp.Config{
		Connection: amqp.ConnectionConfig{AmqpURI: cfg.URI, TLSConfig: cfg.TLSConfig},
		Marshaler:  &DefaultMarshaler{},
		Exchange: amqp.ExchangeConfig{
			GenerateName: func(topic string) string { return topic },
			Type:         exchangeType,
			Durable:      true,
		},
		Publish: amqp.PublishConfig{
			GenerateRoutingKey: func(topic string) string { return "" },
			ChannelPoolSize:    cfg.PublisherChannelPoolSize,
			ConfirmDelivery:    cfg.PublisherConfirmDelivery,
		},
		TopologyBuilder: &verifyingTopologyBuilder{},
	}
}

// verifyingTopologyBuilder verifies that the exchange exists instead of creating it.
// Topics are managed explicitly, so a publish to a deleted topic must fail rather
// than silently recreate it.
type verifyingTopologyBuilder struct {
	amqp.DefaultTopologyBuilder
}

func (b *verifyingTopologyBuilder) ExchangeDeclare(channel *amqp091.Channel, exchangeName string,
	config amqp.Config) error {
	return channel.ExchangeDeclarePassive(exchangeName, config.Exchange.Type, config.Exchange.Durable,
		config.Exchange.AutoDeleted, config.Exchange.Internal, config.Exchange.NoWait, config.Exchange.Arguments)
}

// existingQueueTopologyBuilder verifies that the queue exists instead of creating it.
// The queue and its binding are declared when the subscription is created, possibly
// with arguments such as a queue TTL, so they must not be redeclared here with
// conflicting arguments.
type existingQueueTopologyBuilder struct{}

func (b *existingQueueTopologyBuilder) BuildTopology(channel *amqp091.Channel, queueName, exchangeName string,
	config amqp.Config, logger watermill.LoggerAdapter) error {
	_, err := channel.QueueDeclarePassive(queueName, config.Queue.Durable, config.Queue.AutoDelete,
		config.Queue.Exclusive, config.Queue.NoWait, config.Queue.Arguments)

	return err
}

func (b *existingQueueTopologyBuilder) ExchangeDeclare(channel *amqp091.Channel, exchangeName string,
	config amqp.Config) error {
	return channel.ExchangeDeclarePassive(exchangeName, config.Exchange.Type, config.Exchange.Durable,
		config.Exchange.AutoDeleted, config.Exchange.Internal, config.Exchange.NoWait, config.Exchange.Arguments)
}

func initConfig(cfg Config) Config {
	if cfg.MaxConnectRetries == 0 {
		cfg.MaxConnectRetries = defaultMaxConnectRetries
	}

	if cfg.MaxConnectionSubscriptions == 0 {
		cfg.MaxConnectionSubscriptions = defaultMaxConnectionSubscriptions
	}

	if cfg.PullPollInterval == 0 {
		cfg.PullPollInterval = defaultPullPollInterval
	}

	return cfg
}
