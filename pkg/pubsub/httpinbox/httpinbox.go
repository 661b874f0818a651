/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package httpinbox implements a Watermill subscriber fed by push delivery.
// A subscription configured with a push endpoint delivers its messages as
// HTTP POST requests; the inbox accepts them, hands them to the consumer and
// responds once the consumer has acknowledged, so that an unacknowledged
// message is redelivered by the server.
package httpinbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	wmhttp "github.com/ThreeDotsLabs/watermill-http/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/octue/octue-sdk-go/internal/pkg/log"
	"github.com/octue/octue-sdk-go/pkg/httpserver"
	"github.com/octue/octue-sdk-go/pkg/httpserver/auth"
	"github.com/octue/octue-sdk-go/pkg/lifecycle"
	"github.com/octue/octue-sdk-go/pkg/pubsub"
)

const (
	// SubscriptionKey is the metadata key holding the name of the subscription
	// that pushed the message.
	SubscriptionKey = "subscription"

	defaultBufferSize = 100

	loggerModule = "pubsub_httpinbox"
)

// Config holds the inbox configuration parameters.
type Config struct {
	ServiceEndpoint string
	BufferSize      int
}

// Inbox implements a subscriber for Watermill that handles pushed messages.
type Inbox struct {
	*lifecycle.Lifecycle
	*Config

	pubChan          chan *message.Message
	msgChan          chan *message.Message
	stopped          chan struct{}
	done             chan struct{}
	unmarshalMessage wmhttp.UnmarshalMessageFunc
	tokenVerifier    *auth.TokenVerifier
	logger           *log.Log
}

// New returns a new inbox that accepts messages pushed to the endpoint in the
// given configuration. Requests are authorized with the bearer tokens in the
// given authorization configuration.
func New(cfg *Config, authCfg auth.Config) *Inbox {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = defaultBufferSize
	}

	s := &Inbox{
		Config:           cfg,
		unmarshalMessage: UnmarshalPushMessage,
		pubChan:          make(chan *message.Message, cfg.BufferSize),
		msgChan:          make(chan *message.Message, cfg.BufferSize),
		stopped:          make(chan struct{}),
		done:             make(chan struct{}),
		tokenVerifier:    auth.NewTokenVerifier(authCfg, cfg.ServiceEndpoint, http.MethodPost),
		logger:           log.New(loggerModule, log.WithFields(logfields.WithServiceEndpoint(cfg.ServiceEndpoint))),
	}

	s.Lifecycle = lifecycle.New("httpinbox-"+cfg.ServiceEndpoint,
		lifecycle.WithStop(s.stop),
		lifecycle.WithStart(func() {
			go s.publisher()
		}),
	)

	// Start the service immediately.
	s.Start()

	return s
}

// Subscribe returns the channel over which pushed messages are sent.
func (s *Inbox) Subscribe(_ context.Context, _ string) (<-chan *message.Message, error) {
	return s.msgChan, nil
}

// Close stops the inbox.
func (s *Inbox) Close() error {
	s.Stop()

	return nil
}

// Path returns the base path of the target endpoint for this inbox.
func (s *Inbox) Path() string {
	return s.ServiceEndpoint
}

// Method returns the HTTP method, which is always POST.
func (s *Inbox) Method() string {
	return http.MethodPost
}

// Handler returns the handler that should be invoked when an HTTP request is posted
// to the target endpoint. This handler must be registered with an HTTP server.
func (s *Inbox) Handler() httpserver.HTTPRequestHandler {
	return s.handleMessage
}

func (s *Inbox) handleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !s.tokenVerifier.Verify(r) {
		s.logger.Infoc(ctx, "Request could not be verified with an authorization bearer token")

		w.WriteHeader(http.StatusUnauthorized)

		return
	}

	msg, err := s.unmarshalMessage("", r)
	if err != nil {
		s.logger.Warnc(ctx, "Error reading pushed message", log.WithError(err))

		w.WriteHeader(http.StatusBadRequest)

		return
	}

	s.logger.Debugc(ctx, "Handling pushed message", logfields.WithMessageID(msg.UUID),
		logfields.WithSubscription(msg.Metadata.Get(SubscriptionKey)))

	pubsub.InjectContext(ctx, msg)

	err = s.publish(msg)
	if err != nil {
		s.logger.Infoc(ctx, "Message wasn't sent", logfields.WithMessageID(msg.UUID), log.WithError(err))

		w.WriteHeader(http.StatusServiceUnavailable)

		return
	}

	s.respond(msg, w, r)
}

func (s *Inbox) publish(msg *message.Message) error {
	if s.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	s.pubChan <- msg

	s.logger.Debug("Message was posted to publisher", logfields.WithMessageID(msg.UUID))

	return nil
}

func (s *Inbox) publisher() {
	s.logger.Info("Starting publisher.")

	for {
		select {
		case msg := <-s.pubChan:
			s.msgChan <- msg

			s.logger.Debug("Message was delivered to subscriber", logfields.WithMessageID(msg.UUID))

		case <-s.stopped:
			s.logger.Info("Stopping publisher.")

			close(s.done)

			return
		}
	}
}

// respond translates the consumer's acknowledgement into the response status.
// Any status other than 2xx causes the server to redeliver the message.
func (s *Inbox) respond(msg *message.Message, w http.ResponseWriter, r *http.Request) {
	select {
	case <-msg.Acked():
		s.logger.Debug("Ack received for message", logfields.WithMessageID(msg.UUID))

		w.WriteHeader(http.StatusOK)

	case <-msg.Nacked():
		s.logger.Warn("Nack received for message", logfields.WithMessageID(msg.UUID))

		w.WriteHeader(http.StatusInternalServerError)

	case <-r.Context().Done():
		s.logger.Info("Timed out waiting for ack or nack for message",
			logfields.WithMessageID(msg.UUID), log.WithError(r.Context().Err()))

		w.WriteHeader(http.StatusInternalServerError)

	case <-s.stopped:
		s.logger.Info("Message was not handled since service was stopped", logfields.WithMessageID(msg.UUID))

		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

func (s *Inbox) stop() {
	s.logger.Info("Stopping inbox")

	close(s.stopped)

	// Wait for the publisher to stop so that we don't close the message channel
	// while we're trying to publish a message to it (which would result in a panic).
	<-s.done

	close(s.msgChan)

	s.logger.Info("... inbox stopped.")
}

// pushRequest is the JSON document that the server posts to a push endpoint.
// The message data is base64-encoded.
type pushRequest struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// UnmarshalPushMessage returns the message carried by the given push delivery
// request. The message attributes and the name of the pushing subscription are
// set as message metadata.
func UnmarshalPushMessage(_ string, r *http.Request) (*message.Message, error) {
	req := &pushRequest{}

	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return nil, fmt.Errorf("decode push request: %w", err)
	}

	msg := message.NewMessage(req.Message.MessageID, req.Message.Data)

	for k, v := range req.Message.Attributes {
		msg.Metadata.Set(k, v)
	}

	msg.Metadata.Set(SubscriptionKey, req.Subscription)

	return msg, nil
}
