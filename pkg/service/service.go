/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package service implements the messaging core of a service: the server loop
// that receives questions and answers them through the run function, and the
// asker loop that puts questions to other services and waits for their
// answers.
//
// Services communicate entirely over a publisher/subscriber transport. Each
// serving service owns a server topic named by its ID; each question is
// answered over an ephemeral reply channel (a single-use topic and
// subscription) created by the asker and deleted when the answer has arrived.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bluele/gcache"
	"github.com/google/uuid"
	"github.com/trustbloc/logutil-go/pkg/log"
	"go.opentelemetry.io/otel/trace"

	logfields "github.com/octue/octue-sdk-go/internal/pkg/log"
	"github.com/octue/octue-sdk-go/pkg/envelope"
	"github.com/octue/octue-sdk-go/pkg/exceptions"
	"github.com/octue/octue-sdk-go/pkg/observability/metrics"
	"github.com/octue/octue-sdk-go/pkg/observability/metrics/noop"
	"github.com/octue/octue-sdk-go/pkg/observability/tracing"
	"github.com/octue/octue-sdk-go/pkg/pubsub"
	"github.com/octue/octue-sdk-go/pkg/pubsub/spi"
	"github.com/octue/octue-sdk-go/pkg/resources"
	"github.com/octue/octue-sdk-go/pkg/retry"
)

var logger = log.New(loggerModule)

// Namespace is the reserved namespace that prefixes the ID, and therefore the
// server topic, of every service.
const Namespace = "octue.services"

const (
	loggerModule     = "service"
	answersNamespace = "answers"

	defaultAnswerTimeout = 30 * time.Second

	topicCacheSize       = 100
	topicCacheExpiration = time.Minute
	topicExistsTimeout   = 10 * time.Second

	cleanupTimeout = 10 * time.Second
)

// Service is a messaging runtime instance. It can be used in two modes:
//
//   - as a server, accepting questions on its server topic, running them
//     through its run function and responding with the results (Serve,
//     ServePush, Answer);
//   - as an asker of questions to other serving services (Ask,
//     WaitForAnswer).
//
// A single Service may be used in both modes at once, and all of its methods
// are safe for concurrent use.
type Service struct {
	id            string
	name          string
	pubSub        spi.PubSub
	run           RunFunc
	registry      *exceptions.Registry
	metrics       metrics.Metrics
	tracer        trace.Tracer
	topicCache    gcache.Cache
	answerTimeout time.Duration
	logger        *log.Log
}

type options struct {
	id            *string
	name          string
	run           RunFunc
	registry      *exceptions.Registry
	metrics       metrics.Metrics
	answerTimeout time.Duration
}

// Opt sets a service option.
type Opt func(opts *options)

// WithID sets the ID of the service. The ID must be a non-empty string; the
// reserved namespace prefix is prepended unless already present. If no ID is
// given then a fresh UUID is generated.
func WithID(id string) Opt {
	return func(opts *options) {
		opts.id = &id
	}
}

// WithName sets the human-readable name of the service, used in logs and in
// the messages of errors reported to askers.
func WithName(name string) Opt {
	return func(opts *options) {
		opts.name = name
	}
}

// WithRunFunc sets the run function that answers questions. A service without
// a run function can ask questions but cannot serve.
func WithRunFunc(run RunFunc) Opt {
	return func(opts *options) {
		opts.run = run
	}
}

// WithRegistry sets the registry used to reconstruct exceptions raised by
// remote services. Defaults to the registry of well-known exception types.
func WithRegistry(registry *exceptions.Registry) Opt {
	return func(opts *options) {
		opts.registry = registry
	}
}

// WithMetrics sets the metrics implementation. Defaults to a no-op.
func WithMetrics(m metrics.Metrics) Opt {
	return func(opts *options) {
		opts.metrics = m
	}
}

// WithAnswerTimeout sets the retry deadline of each publish performed while
// answering a question.
func WithAnswerTimeout(timeout time.Duration) Opt {
	return func(opts *options) {
		opts.answerTimeout = timeout
	}
}

// New returns a new service that communicates over the given transport.
func New(pubSub spi.PubSub, opts ...Opt) (*Service, error) {
	options := &options{
		metrics:       &noop.NoOptMetrics{},
		answerTimeout: defaultAnswerTimeout,
	}

	for _, opt := range opts {
		opt(options)
	}

	id, err := resolveID(options.id)
	if err != nil {
		return nil, err
	}

	name := options.name
	if name == "" {
		name = strings.TrimPrefix(id, Namespace+".")
	}

	registry := options.registry
	if registry == nil {
		registry = exceptions.DefaultRegistry()
	}

	s := &Service{
		id:            id,
		name:          name,
		pubSub:        pubSub,
		run:           options.run,
		registry:      registry,
		metrics:       options.metrics,
		tracer:        tracing.Tracer(tracing.SubsystemService),
		answerTimeout: options.answerTimeout,
		logger:        logger.With(logfields.WithServiceID(id)),
	}

	// Ask verifies that the child's server topic exists before each question.
	// Positive lookups are cached per child ID so that repeated asks to the
	// same child skip the lookup; negative lookups and errors are not cached.
	s.topicCache = gcache.New(topicCacheSize).ARC().
		Expiration(topicCacheExpiration).
		LoaderFunc(func(key interface{}) (interface{}, error) {
			return s.lookupTopic(key.(string))
		}).Build()

	return s, nil
}

func resolveID(id *string) (string, error) {
	if id == nil {
		return Namespace + "." + uuid.NewString(), nil
	}

	if *id == "" {
		return "", exceptions.NewInvalidInput("The ID of a service must be a non-empty string.")
	}

	if strings.HasPrefix(*id, Namespace+".") {
		return *id, nil
	}

	return Namespace + "." + *id, nil
}

// ID returns the namespaced ID of the service. The server topic of the
// service has the same name.
func (s *Service) ID() string {
	return s.id
}

// Name returns the human-readable name of the service.
func (s *Service) Name() string {
	return s.name
}

// String returns a string representation of the service.
func (s *Service) String() string {
	return fmt.Sprintf("<Service('%s')>", s.name)
}

type serveOptions struct {
	cleanupOnExit bool
	subscribe     []spi.Option
}

// ServeOpt sets a serve option.
type ServeOpt func(opts *serveOptions)

// WithCleanupOnExit deletes the server subscription and topic when the server
// loop exits.
func WithCleanupOnExit() ServeOpt {
	return func(opts *serveOptions) {
		opts.cleanupOnExit = true
	}
}

// WithSubscriberPool sets the size of the worker pool of the streaming server
// subscription.
func WithSubscriberPool(size int) ServeOpt {
	return func(opts *serveOptions) {
		opts.subscribe = append(opts.subscribe, spi.WithPool(size))
	}
}

// Serve runs the service as a server: the server topic and a pull
// subscription on it are created (idempotently) and questions are answered as
// they arrive, each in its own goroutine, until the context is cancelled or
// its deadline passes. In-flight answers are waited for before Serve returns.
func (s *Service) Serve(ctx context.Context, opts ...ServeOpt) error {
	options := &serveOptions{}

	for _, opt := range opts {
		opt(options)
	}

	if s.run == nil {
		return exceptions.NewDeploymentError("Service %s cannot serve because it has no run function.", s)
	}

	if err := s.createServerChannel(ctx); err != nil {
		return err
	}

	msgChan, err := s.pubSub.Subscribe(ctx, s.id, options.subscribe...)
	if err != nil {
		return fmt.Errorf("subscribe to server subscription: %w", err)
	}

	s.logger.Info("Service is waiting for questions.", log.WithTopic(s.id))

	s.consume(msgChan)

	if options.cleanupOnExit {
		s.deleteServerChannel()
	}

	return nil
}

// Inbox is a source of messages that the broker delivers to a push endpoint.
type Inbox interface {
	Subscribe(ctx context.Context, subscription string) (<-chan *message.Message, error)
}

// ServePush runs the service as a server whose questions are delivered over
// HTTP push rather than pulled from the broker: the server subscription is
// created with the given push endpoint, and questions are consumed from the
// inbox that the endpoint delivers to. The inbox must be reachable by the
// broker at the push endpoint.
func (s *Service) ServePush(ctx context.Context, inbox Inbox, pushEndpoint string, opts ...ServeOpt) error {
	options := &serveOptions{}

	for _, opt := range opts {
		opt(options)
	}

	if s.run == nil {
		return exceptions.NewDeploymentError("Service %s cannot serve because it has no run function.", s)
	}

	if err := s.pubSub.CreateTopic(ctx, s.id, true); err != nil {
		return fmt.Errorf("create server topic: %w", err)
	}

	err := s.pubSub.CreateSubscription(ctx, s.id, s.id, true, spi.WithPushEndpoint(pushEndpoint))
	if err != nil {
		return fmt.Errorf("create server push subscription: %w", err)
	}

	msgChan, err := inbox.Subscribe(ctx, s.id)
	if err != nil {
		return fmt.Errorf("subscribe to inbox: %w", err)
	}

	s.logger.Info("Service is waiting for questions.", log.WithTopic(s.id),
		logfields.WithPushEndpoint(pushEndpoint))

	s.consume(msgChan)

	if options.cleanupOnExit {
		s.deleteServerChannel()
	}

	return nil
}

func (s *Service) createServerChannel(ctx context.Context) error {
	if err := s.pubSub.CreateTopic(ctx, s.id, true); err != nil {
		return fmt.Errorf("create server topic: %w", err)
	}

	if err := s.pubSub.CreateSubscription(ctx, s.id, s.id, true); err != nil {
		return fmt.Errorf("create server subscription: %w", err)
	}

	return nil
}

// deleteServerChannel is invoked after the serve context has been cancelled,
// so it uses a fresh context for the deletions.
func (s *Service) deleteServerChannel() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := s.pubSub.DeleteSubscription(ctx, s.id); err != nil {
		s.logger.Warn("Error deleting server subscription", logfields.WithSubscription(s.id), log.WithError(err))
	}

	if err := s.pubSub.DeleteTopic(ctx, s.id); err != nil {
		s.logger.Warn("Error deleting server topic", log.WithTopic(s.id), log.WithError(err))
	}
}

func (s *Service) consume(msgChan <-chan *message.Message) {
	var wg sync.WaitGroup

	for msg := range msgChan {
		wg.Add(1)

		go func(msg *message.Message) {
			defer wg.Done()

			s.handleQuestion(msg)
		}(msg)
	}

	wg.Wait()
}

func (s *Service) handleQuestion(msg *message.Message) {
	s.logger.Info("Received a question.", logfields.WithMessageID(msg.UUID))

	// The question may carry the trace context of the asker. The returned
	// context is not derived from the serve context, so that cancelling the
	// server loop does not abort answers already in flight.
	ctx := pubsub.ContextFromMessage(msg)

	if err := s.Answer(ctx, msg); err != nil {
		s.logger.Error("Error answering question", logfields.WithMessageID(msg.UUID), log.WithError(err))
	}
}

// Answer answers the question carried by the given message: the delivery is
// acknowledged on the question's reply channel, the run function is invoked
// with the question's inputs, and the outcome is published as the terminal
// message of the reply channel. A failure of the run function is captured and
// published as an error envelope, never returned. An error is returned only
// if the message is not a valid question (in which case it is dropped) or if
// the reply channel cannot be published to.
func (s *Service) Answer(ctx context.Context, msg *message.Message) error {
	questionUUID, err := envelope.QuestionUUID(msg)
	if err != nil {
		msg.Ack()

		return fmt.Errorf("dropping message [%s]: %w", msg.UUID, err)
	}

	question, err := envelope.UnmarshalQuestion(msg)
	if err != nil {
		msg.Ack()

		return fmt.Errorf("dropping message [%s]: %w", msg.UUID, err)
	}

	msg.Ack()

	return s.answer(ctx, question, questionUUID, envelope.ForwardLogs(msg, question))
}

func (s *Service) answer(ctx context.Context, question *envelope.Question, questionUUID string, forwardLogs bool) error {
	if s.run == nil {
		return fmt.Errorf("service has no run function")
	}

	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "answer", trace.WithAttributes(
		tracing.ServiceIDAttribute(s.id), tracing.QuestionUUIDAttribute(questionUUID)))
	defer span.End()

	replyTopic := replyChannelName(s.id, questionUUID)

	qlogger := s.logger.With(logfields.WithQuestionUUID(questionUUID))

	if err := s.publish(ctx, replyTopic, envelope.NewDeliveryAckMessage(), s.answerTimeout); err != nil {
		return fmt.Errorf("publish delivery acknowledgement: %w", err)
	}

	qlogger.Debug("Acknowledged question delivery", logfields.WithState("acknowledged"))

	req, err := s.newRequest(ctx, question, questionUUID, replyTopic, forwardLogs)
	if err != nil {
		return s.respondError(ctx, replyTopic, err, qlogger, start)
	}

	qlogger.Debug("Running analysis", logfields.WithState("running"))

	runStart := time.Now()
	resp, runErr := s.invokeRun(ctx, req)
	s.metrics.RunTime(time.Since(runStart))

	if runErr != nil {
		return s.respondError(ctx, replyTopic, runErr, qlogger, start)
	}

	return s.respondResult(ctx, replyTopic, resp, qlogger, start)
}

// newRequest builds the run function's request: the question's inputs plus
// the per-question log and monitor sinks, all publishing to the reply topic.
func (s *Service) newRequest(ctx context.Context, question *envelope.Question, questionUUID, replyTopic string,
	forwardLogs bool) (*Request, error) {
	req := &Request{
		QuestionUUID: questionUUID,
		InputValues:  question.InputValues,
		SendMonitor: func(data interface{}) error {
			return s.sendMonitor(ctx, replyTopic, data)
		},
	}

	if question.InputManifest != nil {
		m, err := resources.FromSerialised(*question.InputManifest)
		if err != nil {
			return nil, fmt.Errorf("deserialise input manifest: %w", err)
		}

		req.InputManifest = m
	}

	if forwardLogs {
		req.Logger = newAnalysisLogger(func(record *envelope.LogRecord) {
			s.forwardLogRecord(ctx, replyTopic, record)
		})
	} else {
		req.Logger = log.New(analysisLoggerModule, log.WithFields(logfields.WithQuestionUUID(questionUUID)))
	}

	return req, nil
}

// invokeRun invokes the run function, converting a panic into an error so
// that it is reported to the asker like any other failure.
func (s *Service) invokeRun(ctx context.Context, req *Request) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run function panicked: %v", r)
		}
	}()

	return s.run(ctx, req)
}

func (s *Service) respondResult(ctx context.Context, replyTopic string, resp *Response,
	qlogger *log.Log, start time.Time) error {
	result := &envelope.Result{}

	if resp != nil {
		result.OutputValues = resp.OutputValues

		if resp.OutputManifest != nil {
			serialised, err := resp.OutputManifest.Serialise()
			if err != nil {
				return s.respondError(ctx, replyTopic, err, qlogger, start)
			}

			result.OutputManifest = &serialised
		}
	}

	msg, err := envelope.NewResultMessage(result)
	if err != nil {
		// The output values are not serializable. Tell the asker.
		return s.respondError(ctx, replyTopic, err, qlogger, start)
	}

	if err := s.publish(ctx, replyTopic, msg, s.answerTimeout); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}

	s.metrics.QuestionAnswered()
	s.metrics.AnswerTime(time.Since(start))

	qlogger.Info("Responded to question.", log.WithTopic(replyTopic), logfields.WithState("responded"),
		logfields.WithDuration(time.Since(start)))

	return nil
}

func (s *Service) respondError(ctx context.Context, replyTopic string, runErr error,
	qlogger *log.Log, start time.Time) error {
	qlogger.Error("Analysis failed", log.WithError(runErr),
		logfields.WithExceptionType(exceptions.NameOf(runErr)))

	traceback := exceptions.TracebackOf(runErr)
	if traceback == nil {
		traceback = exceptions.Capture(1)
	}

	msg, err := envelope.NewErrorMessage(&envelope.Error{
		Type:      exceptions.NameOf(runErr),
		Message:   fmt.Sprintf("Error in %s: %s", s, runErr),
		Traceback: traceback,
	})
	if err != nil {
		return fmt.Errorf("marshal error envelope: %w", err)
	}

	if err := s.publish(ctx, replyTopic, msg, s.answerTimeout); err != nil {
		return fmt.Errorf("publish error envelope: %w", err)
	}

	s.metrics.QuestionAnswered()
	s.metrics.AnswerTime(time.Since(start))

	qlogger.Info("Responded to question with an error.", log.WithTopic(replyTopic), logfields.WithState("failed"))

	return nil
}

func (s *Service) sendMonitor(ctx context.Context, replyTopic string, data interface{}) error {
	msg, err := envelope.NewMonitorMessage(data)
	if err != nil {
		return err
	}

	if err := s.publish(ctx, replyTopic, msg, s.answerTimeout); err != nil {
		return fmt.Errorf("publish monitor message: %w", err)
	}

	return nil
}

// forwardLogRecord publishes a log record emitted during an analysis to the
// asker. Records are forwarded without retries so that a slow broker cannot
// hold up the analysis.
func (s *Service) forwardLogRecord(ctx context.Context, replyTopic string, record *envelope.LogRecord) {
	msg, err := envelope.NewLogRecordMessage(record)
	if err != nil {
		s.logger.Warn("Error marshalling log record", log.WithError(err))

		return
	}

	if err := s.pubSub.Publish(ctx, replyTopic, msg); err != nil {
		s.logger.Warn("Error forwarding log record", log.WithTopic(replyTopic), log.WithError(err))

		return
	}

	s.metrics.LogRecordForwarded()
}

// publish publishes the given message, retrying transient broker failures
// until the given deadline.
func (s *Service) publish(ctx context.Context, topic string, msg *message.Message, deadline time.Duration) error {
	start := time.Now()
	defer func() { s.metrics.PublishTime(time.Since(start)) }()

	return retry.Invoke(ctx, deadline,
		func() error {
			return s.pubSub.Publish(ctx, topic, msg)
		},
		func(err error, backoff time.Duration) {
			s.logger.Debug("Error publishing message. Retrying...", log.WithTopic(topic),
				log.WithError(err), logfields.WithBackoff(backoff))
		},
	)
}

// replyChannelName returns the name of the reply topic (and subscription) of
// the question with the given UUID asked of the service with the given ID.
func replyChannelName(serviceID, questionUUID string) string {
	return strings.Join([]string{serviceID, answersNamespace, questionUUID}, ".")
}

func (s *Service) lookupTopic(topic string) (interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), topicExistsTimeout)
	defer cancel()

	exists, err := s.pubSub.TopicExists(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("topic exists: %w", err)
	}

	if !exists {
		return nil, exceptions.NewServiceNotFound("Service with ID %q cannot be found.", topic)
	}

	return true, nil
}
