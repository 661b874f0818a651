/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/trustbloc/logutil-go/pkg/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/trace"

	logfields "github.com/octue/octue-sdk-go/internal/pkg/log"
	"github.com/octue/octue-sdk-go/pkg/envelope"
	octueerrors "github.com/octue/octue-sdk-go/pkg/errors"
	"github.com/octue/octue-sdk-go/pkg/exceptions"
	"github.com/octue/octue-sdk-go/pkg/observability/tracing"
	"github.com/octue/octue-sdk-go/pkg/pubsub"
	"github.com/octue/octue-sdk-go/pkg/resources"
)

const (
	defaultAskTimeout         = 30 * time.Second
	defaultWaitTimeout        = 60 * time.Second
	defaultDeliveryAckTimeout = 30 * time.Second
	defaultRetryInterval      = 5 * time.Second
	defaultMaxReAsks          = 1

	maxPullMessages = 10
)

// Answer is the answer of a remote service to a question.
type Answer struct {
	OutputValues   interface{}
	OutputManifest *resources.Manifest
}

// ReplyChannel is a handle on the reply channel of an asked question. It is
// consumed by WaitForAnswer, which deletes the channel when the wait ends.
type ReplyChannel struct {
	// QuestionUUID is the UUID of the asked question.
	QuestionUUID string

	// ChildID is the namespaced ID of the service the question was asked of.
	ChildID string

	// Subscription is the name of the reply subscription (and of the reply
	// topic, which has the same name).
	Subscription string

	question *envelope.Question
	askedAt  time.Time
}

type askOptions struct {
	inputManifest *resources.Manifest
	forwardLogs   bool
	timeout       time.Duration
}

// AskOpt sets an ask option.
type AskOpt func(opts *askOptions)

// WithInputManifest attaches an input manifest to the question. All of the
// manifest's files must be located in the cloud.
func WithInputManifest(m *resources.Manifest) AskOpt {
	return func(opts *askOptions) {
		opts.inputManifest = m
	}
}

// WithoutLogForwarding asks the remote service not to forward the log records
// of the analysis to the reply channel.
func WithoutLogForwarding() AskOpt {
	return func(opts *askOptions) {
		opts.forwardLogs = false
	}
}

// WithAskTimeout sets the retry deadline of the question's publish.
func WithAskTimeout(timeout time.Duration) AskOpt {
	return func(opts *askOptions) {
		opts.timeout = timeout
	}
}

// Ask asks a question of the service with the given ID: an ephemeral reply
// channel scoped to the question is created and the question is published to
// the remote service's server topic. The returned handle is passed to
// WaitForAnswer to wait for the answer.
func (s *Service) Ask(ctx context.Context, serviceID string, inputValues interface{},
	opts ...AskOpt) (*ReplyChannel, error) {
	options := &askOptions{
		forwardLogs: true,
		timeout:     defaultAskTimeout,
	}

	for _, opt := range opts {
		opt(options)
	}

	childID, err := resolveID(&serviceID)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "ask", trace.WithAttributes(tracing.ServiceIDAttribute(childID)))
	defer span.End()

	question := &envelope.Question{
		InputValues: inputValues,
		ForwardLogs: &options.forwardLogs,
	}

	if options.inputManifest != nil {
		if !options.inputManifest.AllDatasetsAreInCloud() {
			return nil, exceptions.NewFileLocationError(
				"All files in a manifest sent in a question must be located in the cloud.")
		}

		serialised, err := options.inputManifest.Serialise()
		if err != nil {
			return nil, fmt.Errorf("serialise input manifest: %w", err)
		}

		question.InputManifest = &serialised
	}

	if _, err := s.topicCache.Get(childID); err != nil {
		return nil, err
	}

	questionUUID := uuid.NewString()

	span.SetAttributes(tracing.QuestionUUIDAttribute(questionUUID))

	msg, err := envelope.NewQuestionMessage(questionUUID, question)
	if err != nil {
		return nil, err
	}

	pubsub.InjectContext(ctx, msg)

	replyName := replyChannelName(childID, questionUUID)

	if err := s.pubSub.CreateTopic(ctx, replyName, false); err != nil {
		return nil, fmt.Errorf("create reply topic: %w", err)
	}

	if err := s.pubSub.CreateSubscription(ctx, replyName, replyName, false); err != nil {
		s.deleteReplyChannel(replyName)

		return nil, fmt.Errorf("create reply subscription: %w", err)
	}

	if err := s.publish(ctx, childID, msg, options.timeout); err != nil {
		s.deleteReplyChannel(replyName)

		return nil, fmt.Errorf("publish question: %w", err)
	}

	s.metrics.QuestionAsked()

	s.logger.Info("Asked question.", logfields.WithChildID(childID), logfields.WithQuestionUUID(questionUUID))

	return &ReplyChannel{
		QuestionUUID: questionUUID,
		ChildID:      childID,
		Subscription: replyName,
		question:     question,
		askedAt:      time.Now(),
	}, nil
}

type waitOptions struct {
	timeout            time.Duration
	deliveryAckTimeout time.Duration
	retryInterval      time.Duration
	maxReAsks          int
	monitorHandler     func(data interface{})
	monitorSchema      *gojsonschema.Schema
}

// WaitOpt sets a wait option.
type WaitOpt func(opts *waitOptions)

// WithWaitTimeout sets the total time to wait for the answer.
func WithWaitTimeout(timeout time.Duration) WaitOpt {
	return func(opts *waitOptions) {
		opts.timeout = timeout
	}
}

// WithDeliveryAckTimeout sets the time to wait for the remote service to
// acknowledge delivery of the question before it is asked again.
func WithDeliveryAckTimeout(timeout time.Duration) WaitOpt {
	return func(opts *waitOptions) {
		opts.deliveryAckTimeout = timeout
	}
}

// WithMaxReAsks sets the number of times an unacknowledged question is asked
// again before the wait fails.
func WithMaxReAsks(n int) WaitOpt {
	return func(opts *waitOptions) {
		opts.maxReAsks = n
	}
}

// WithRetryInterval sets the deadline of each pull from the reply
// subscription.
func WithRetryInterval(interval time.Duration) WaitOpt {
	return func(opts *waitOptions) {
		opts.retryInterval = interval
	}
}

// WithMonitorHandler sets a handler that is invoked with the datum of each
// monitor message that arrives while waiting for the answer.
func WithMonitorHandler(handler func(data interface{})) WaitOpt {
	return func(opts *waitOptions) {
		opts.monitorHandler = handler
	}
}

// WithMonitorSchema validates each monitor datum that arrives while waiting
// for the answer against the given JSON Schema before it is handed to the
// monitor handler.
func WithMonitorSchema(schema *gojsonschema.Schema) WaitOpt {
	return func(opts *waitOptions) {
		opts.monitorSchema = schema
	}
}

// WaitForAnswer waits for the answer to a question asked with Ask, pulling
// the question's reply channel until the terminal message arrives or the wait
// timeout passes. Log records forwarded by the remote service are emitted
// through the local logger, and monitor messages are passed to the monitor
// handler, as they arrive.
//
// A remote failure is returned as the error reconstructed from the error
// envelope. If delivery of the question is not acknowledged in time, the
// question is asked again a bounded number of times before the wait fails.
//
// The reply channel is deleted before returning, whatever the outcome.
func (s *Service) WaitForAnswer(ctx context.Context, reply *ReplyChannel, opts ...WaitOpt) (*Answer, error) {
	options := &waitOptions{
		timeout:            defaultWaitTimeout,
		deliveryAckTimeout: defaultDeliveryAckTimeout,
		retryInterval:      defaultRetryInterval,
		maxReAsks:          defaultMaxReAsks,
	}

	for _, opt := range opts {
		opt(options)
	}

	defer s.deleteReplyChannel(reply.Subscription)

	ctx, span := s.tracer.Start(ctx, "wait-for-answer", trace.WithAttributes(
		tracing.ServiceIDAttribute(reply.ChildID), tracing.QuestionUUIDAttribute(reply.QuestionUUID)))
	defer span.End()

	qlogger := s.logger.With(logfields.WithChildID(reply.ChildID), logfields.WithQuestionUUID(reply.QuestionUUID))

	pushed, err := s.pubSub.IsPushSubscription(ctx, reply.Subscription)
	if err != nil {
		return nil, fmt.Errorf("check reply subscription: %w", err)
	}

	if pushed {
		return nil, exceptions.NewPushSubscriptionCannotBePulled(
			"Answers cannot be pulled from subscription %q because it is a push subscription.", reply.Subscription)
	}

	deadline := time.Now().Add(options.timeout)
	lastAsk := reply.askedAt
	acked := false
	reAsks := 0

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.metrics.QuestionTimedOut()

			return nil, octueerrors.NewTimeoutf("no answer to question %q arrived from service %q within %s",
				reply.QuestionUUID, reply.ChildID, options.timeout)
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !acked && time.Since(lastAsk) >= options.deliveryAckTimeout {
			if reAsks >= options.maxReAsks {
				s.metrics.QuestionTimedOut()

				return nil, octueerrors.NewTimeoutf("delivery of question %q to service %q was not acknowledged within %s",
					reply.QuestionUUID, reply.ChildID, options.deliveryAckTimeout)
			}

			qlogger.Warn("Question delivery was not acknowledged in time. Asking again.",
				logfields.WithTimeout(options.deliveryAckTimeout), logfields.WithAttempt(reAsks+1))

			if err := s.reAsk(ctx, reply); err != nil {
				return nil, err
			}

			reAsks++
			lastAsk = time.Now()
		}

		pullCtx, cancel := context.WithTimeout(ctx, min(options.retryInterval, remaining))

		start := time.Now()
		msgs, err := s.pubSub.Pull(pullCtx, reply.Subscription, maxPullMessages)

		cancel()

		s.metrics.PullTime(time.Since(start))

		if err != nil {
			if octueerrors.IsTransient(err) {
				qlogger.Debug("Transient error pulling from reply subscription. Retrying...", log.WithError(err))

				continue
			}

			return nil, fmt.Errorf("pull from reply subscription: %w", err)
		}

		for _, m := range msgs {
			if err := s.pubSub.Acknowledge(ctx, reply.Subscription, []string{m.AckID}); err != nil {
				qlogger.Warn("Error acknowledging reply message", logfields.WithMessageID(m.Msg.UUID), log.WithError(err))
			}

			kind := envelope.Kind(m.Msg)

			switch kind {
			case envelope.KindDeliveryAck:
				if !acked {
					acked = true

					s.metrics.DeliveryAckTime(time.Since(reply.askedAt))

					qlogger.Debug("Question delivery was acknowledged.")
				}

			case envelope.KindLogRecord:
				record, err := envelope.UnmarshalLogRecord(m.Msg)
				if err != nil {
					qlogger.Warn("Received an invalid log record", log.WithError(err))

					continue
				}

				s.metrics.LogRecordReceived()

				emitRemoteLogRecord(qlogger, record)

			case envelope.KindMonitor:
				if err := handleMonitor(m.Msg, options); err != nil {
					return nil, err
				}

				s.metrics.MonitorMessage()

			case "":
				return s.decodeAnswer(reply, m.Msg, qlogger)

			default:
				return nil, fmt.Errorf("received message of unknown kind %q from service %q", kind, reply.ChildID)
			}
		}
	}
}

// reAsk publishes the question again, under the same question UUID and over
// the same reply channel.
func (s *Service) reAsk(ctx context.Context, reply *ReplyChannel) error {
	msg, err := envelope.NewQuestionMessage(reply.QuestionUUID, reply.question)
	if err != nil {
		return err
	}

	pubsub.InjectContext(ctx, msg)

	if err := s.publish(ctx, reply.ChildID, msg, defaultAskTimeout); err != nil {
		return fmt.Errorf("publish question again: %w", err)
	}

	s.metrics.QuestionReAsked()

	return nil
}

func (s *Service) decodeAnswer(reply *ReplyChannel, msg *message.Message, qlogger *log.Log) (*Answer, error) {
	a, err := envelope.UnmarshalAnswer(msg)
	if err != nil {
		return nil, err
	}

	s.metrics.RoundTripTime(time.Since(reply.askedAt))

	if a.Error != nil {
		s.metrics.RemoteException(a.Error.Type)

		remoteErr := s.registry.New(a.Error.Type, a.Error.Message, a.Error.Traceback)

		qlogger.Error("Question failed on the remote service", log.WithError(remoteErr),
			logfields.WithExceptionType(a.Error.Type))

		return nil, remoteErr
	}

	answer := &Answer{OutputValues: a.Result.OutputValues}

	if a.Result.OutputManifest != nil {
		m, err := resources.FromSerialised(*a.Result.OutputManifest)
		if err != nil {
			return nil, fmt.Errorf("deserialise output manifest: %w", err)
		}

		answer.OutputManifest = m
	}

	qlogger.Info("Received an answer to question.", logfields.WithDuration(time.Since(reply.askedAt)))

	return answer, nil
}

func handleMonitor(msg *message.Message, options *waitOptions) error {
	var data interface{}

	if err := json.Unmarshal(msg.Payload, &data); err != nil {
		return exceptions.NewInvalidMonitorMessage("Received an invalid monitor message: %s.", err)
	}

	if options.monitorSchema != nil {
		result, err := options.monitorSchema.Validate(gojsonschema.NewGoLoader(data))
		if err != nil {
			return exceptions.NewInvalidMonitorMessage("Received an invalid monitor message: %s.", err)
		}

		if !result.Valid() {
			return exceptions.NewInvalidMonitorMessage(
				"Received a monitor message that does not conform to the schema: %s.", describeFailures(result))
		}
	}

	if options.monitorHandler != nil {
		options.monitorHandler(data)
	}

	return nil
}

func describeFailures(result *gojsonschema.Result) string {
	descriptions := make([]string, len(result.Errors()))

	for i, e := range result.Errors() {
		descriptions[i] = e.String()
	}

	return strings.Join(descriptions, "; ")
}

// deleteReplyChannel is invoked when the wait for an answer ends (or the ask
// fails), possibly with the caller's context already cancelled, so it uses a
// fresh context for the deletions.
func (s *Service) deleteReplyChannel(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := s.pubSub.DeleteSubscription(ctx, name); err != nil && !stderrors.Is(err, octueerrors.ErrNotFound) {
		s.logger.Warn("Error deleting reply subscription", logfields.WithSubscription(name), log.WithError(err))
	}

	if err := s.pubSub.DeleteTopic(ctx, name); err != nil && !stderrors.Is(err, octueerrors.ErrNotFound) {
		s.logger.Warn("Error deleting reply topic", log.WithTopic(name), log.WithError(err))
	}
}
