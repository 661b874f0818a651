/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package otelpubsub

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/octue/octue-sdk-go/pkg/observability/tracing"
	"github.com/octue/octue-sdk-go/pkg/pubsub/spi"
)

// PubSub wraps a publisher/subscriber transport with OpenTelemetry tracing.
// Spans are created for published, pulled and streamed messages, and the span
// context is propagated through the message metadata.
type PubSub struct {
	spi.PubSub

	tracer          trace.Tracer
	propagators     propagation.TextMapPropagator
	messagingSystem string
}

// New returns a new traced PubSub. The messaging system (e.g. "gcppubsub" or
// "rabbitmq") is recorded on each span.
func New(p spi.PubSub, messagingSystem string) *PubSub {
	return &PubSub{
		PubSub:          p,
		messagingSystem: messagingSystem,
		tracer:          tracing.Tracer(tracing.SubsystemPubSub),
		propagators:     otel.GetTextMapPropagator(),
	}
}

// IsConnected returns the connection state of the underlying transport.
func (p *PubSub) IsConnected() bool {
	if c, ok := p.PubSub.(interface{ IsConnected() bool }); ok {
		return c.IsConnected()
	}

	return true
}

func (p *PubSub) Publish(ctx context.Context, topic string, msg *message.Message) error {
	span := p.startPublishSpan(ctx, topic, msg)

	err := p.PubSub.Publish(ctx, topic, msg)

	p.finishSpan(span, err)

	return err
}

func (p *PubSub) Pull(ctx context.Context, subscription string, maxMessages int) ([]*spi.ReceivedMessage, error) {
	messages, err := p.PubSub.Pull(ctx, subscription, maxMessages)
	if err != nil {
		return nil, err
	}

	for _, m := range messages {
		p.startReceiveSpan(subscription, m.Msg).End()
	}

	return messages, nil
}

func (p *PubSub) Subscribe(ctx context.Context, subscription string, opts ...spi.Option) (<-chan *message.Message, error) {
	msgChan, err := p.PubSub.Subscribe(ctx, subscription, opts...)
	if err != nil {
		return nil, err
	}

	subChan := make(chan *message.Message)

	go p.listen(subscription, msgChan, subChan)

	return subChan, nil
}

func (p *PubSub) listen(subscription string, msgChan <-chan *message.Message, subChan chan *message.Message) {
	for msg := range msgChan {
		span := p.startReceiveSpan(subscription, msg)

		// Send messages back to the subscriber.
		subChan <- msg

		span.End()
	}

	close(subChan)
}

func (p *PubSub) startPublishSpan(ctx context.Context, topic string, msg *message.Message) trace.Span {
	// If there's a span context in the message, use that as the parent context.
	carrier := NewMessageCarrier(msg)
	ctx = p.propagators.Extract(ctx, carrier)

	attrs := []attribute.KeyValue{
		semconv.MessagingSystem(p.messagingSystem),
		semconv.MessagingDestinationKindTopic,
		semconv.MessagingDestinationName(topic),
		semconv.MessagingMessagePayloadSizeBytes(len(msg.Payload)),
		semconv.MessagingOperationPublish,
		tracing.MessageUUIDAttribute(msg.UUID),
	}

	opts := []trace.SpanStartOption{
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindProducer),
	}

	ctx, span := p.tracer.Start(ctx, fmt.Sprintf("%s publish", topic), opts...)

	// Inject current span context, so consumers can use it to propagate span.
	p.propagators.Inject(ctx, carrier)

	return span
}

func (p *PubSub) startReceiveSpan(subscription string, msg *message.Message) trace.Span {
	// If there's a span context in the message, use that as the parent context.
	carrier := NewMessageCarrier(msg)
	ctx := p.propagators.Extract(context.Background(), carrier)

	attrs := []attribute.KeyValue{
		semconv.MessagingSystem(p.messagingSystem),
		semconv.MessagingDestinationKindQueue,
		semconv.MessagingDestinationName(subscription),
		semconv.MessagingMessagePayloadSizeBytes(len(msg.Payload)),
		semconv.MessagingOperationReceive,
		tracing.MessageUUIDAttribute(msg.UUID),
	}

	opts := []trace.SpanStartOption{
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindConsumer),
	}

	ctx, span := p.tracer.Start(ctx, fmt.Sprintf("%s receive", subscription), opts...)

	// Inject current span context, so consumers can use it to propagate span.
	p.propagators.Inject(ctx, carrier)

	return span
}

func (p *PubSub) finishSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}

var _ propagation.TextMapCarrier = (*MessageCarrier)(nil)

// MessageCarrier injects and extracts traces from a Message.
type MessageCarrier struct {
	msg *message.Message
}

// NewMessageCarrier creates a new MessageCarrier.
func NewMessageCarrier(msg *message.Message) *MessageCarrier {
	return &MessageCarrier{msg: msg}
}

// Get retrieves a single value for a given key.
func (c *MessageCarrier) Get(key string) string {
	return c.msg.Metadata.Get(key)
}

// Set sets a header.
func (c *MessageCarrier) Set(key, val string) {
	c.msg.Metadata.Set(key, val)
}

// Keys returns a slice of all key identifiers in the carrier.
func (c *MessageCarrier) Keys() []string {
	if len(c.msg.Metadata) == 0 {
		return nil
	}

	out := make([]string, len(c.msg.Metadata))

	i := 0

	for key := range c.msg.Metadata {
		out[i] = key
		i++
	}

	return out
}
