/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package child gives convenient access to a remote service that can be asked
// questions. A handle wraps a short-lived service core of its own, so callers
// can ask and receive answers without holding a service themselves.
package child

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/octue/octue-sdk-go/pkg/backend"
	"github.com/octue/octue-sdk-go/pkg/config"
	"github.com/octue/octue-sdk-go/pkg/credentials"
	"github.com/octue/octue-sdk-go/pkg/observability/metrics"
	"github.com/octue/octue-sdk-go/pkg/pubsub"
	"github.com/octue/octue-sdk-go/pkg/pubsub/spi"
	"github.com/octue/octue-sdk-go/pkg/resources"
	"github.com/octue/octue-sdk-go/pkg/service"
)

// Child is a handle on a remote service.
type Child struct {
	id            string
	svc           *service.Service
	ps            spi.PubSub
	ownsTransport bool
}

type options struct {
	name      string
	provider  credentials.Provider
	tlsConfig *tls.Config
	metrics   metrics.Metrics
	transport spi.PubSub
}

// Opt sets a handle option.
type Opt func(opts *options)

// WithName sets the name of the asking side, used in its logs.
func WithName(name string) Opt {
	return func(opts *options) {
		opts.name = name
	}
}

// WithCredentials sets the provider the transport's credentials are resolved
// through. Defaults to the environment.
func WithCredentials(provider credentials.Provider) Opt {
	return func(opts *options) {
		opts.provider = provider
	}
}

// WithTLSConfig sets the TLS configuration of transports that connect to a
// broker over TLS.
func WithTLSConfig(cfg *tls.Config) Opt {
	return func(opts *options) {
		opts.tlsConfig = cfg
	}
}

// WithMetrics sets the metrics implementation of the handle's service core.
func WithMetrics(m metrics.Metrics) Opt {
	return func(opts *options) {
		opts.metrics = m
	}
}

// WithTransport makes the handle communicate over the given transport instead
// of creating one from the backend descriptor, which is then not consulted.
// The caller keeps ownership of the transport; Close does not close it.
func WithTransport(ps spi.PubSub) Opt {
	return func(opts *options) {
		opts.transport = ps
	}
}

// New returns a handle on the remote service with the given ID, communicating
// over the given backend.
func New(ctx context.Context, childID string, b backend.Backend, opts ...Opt) (*Child, error) {
	options := &options{
		provider: credentials.EnvProvider{},
	}

	for _, opt := range opts {
		opt(options)
	}

	ps := options.transport
	ownsTransport := false

	if ps == nil {
		var factoryOpts []pubsub.FactoryOpt

		if options.tlsConfig != nil {
			factoryOpts = append(factoryOpts, pubsub.WithTLSConfig(options.tlsConfig))
		}

		var err error

		ps, err = pubsub.New(ctx, b, options.provider, factoryOpts...)
		if err != nil {
			return nil, fmt.Errorf("create transport: %w", err)
		}

		ownsTransport = true
	}

	var svcOpts []service.Opt

	if options.name != "" {
		svcOpts = append(svcOpts, service.WithName(options.name))
	}

	if options.metrics != nil {
		svcOpts = append(svcOpts, service.WithMetrics(options.metrics))
	}

	svc, err := service.New(ps, svcOpts...)
	if err != nil {
		if ownsTransport {
			_ = ps.Close()
		}

		return nil, err
	}

	return &Child{
		id:            childID,
		svc:           svc,
		ps:            ps,
		ownsTransport: ownsTransport,
	}, nil
}

// FromConfig returns a handle on the child declared in the configuration
// under the given key. A child without a backend block of its own
// communicates over the service's backend.
func FromConfig(ctx context.Context, cfg *config.Config, key string, opts ...Opt) (*Child, error) {
	entry, err := cfg.Child(key)
	if err != nil {
		return nil, err
	}

	var b backend.Backend

	if len(entry.Backend) > 0 {
		b, err = backend.FromMap(entry.Backend)
	} else {
		b, err = cfg.ResolveBackend()
	}

	if err != nil {
		return nil, err
	}

	return New(ctx, entry.ID, b, opts...)
}

// ID returns the ID of the remote service the handle is on.
func (c *Child) ID() string {
	return c.id
}

// Service returns the handle's own service core, for asks that need the full
// ask/wait surface.
func (c *Child) Service() *service.Service {
	return c.svc
}

// Close releases the handle. A transport created by the handle is closed; an
// injected one is left open.
func (c *Child) Close() error {
	if !c.ownsTransport {
		return nil
	}

	return c.ps.Close()
}

type askOptions struct {
	ask  []service.AskOpt
	wait []service.WaitOpt
}

// AskOpt sets an ask option.
type AskOpt func(opts *askOptions)

// WithInputManifest attaches an input manifest to the question. All of the
// manifest's files must be located in the cloud.
func WithInputManifest(m *resources.Manifest) AskOpt {
	return func(opts *askOptions) {
		opts.ask = append(opts.ask, service.WithInputManifest(m))
	}
}

// WithoutLogForwarding asks the child not to forward the log records of the
// analysis.
func WithoutLogForwarding() AskOpt {
	return func(opts *askOptions) {
		opts.ask = append(opts.ask, service.WithoutLogForwarding())
	}
}

// WithTimeout sets the total time to wait for the answer.
func WithTimeout(timeout time.Duration) AskOpt {
	return func(opts *askOptions) {
		opts.wait = append(opts.wait, service.WithWaitTimeout(timeout))
	}
}

// WithMonitorHandler sets a handler that is invoked with the datum of each
// monitor message the child sends while answering.
func WithMonitorHandler(handler func(data interface{})) AskOpt {
	return func(opts *askOptions) {
		opts.wait = append(opts.wait, service.WithMonitorHandler(handler))
	}
}

// WithMonitorSchema validates each monitor datum the child sends against the
// given JSON Schema before it is handed to the monitor handler.
func WithMonitorSchema(schema *gojsonschema.Schema) AskOpt {
	return func(opts *askOptions) {
		opts.wait = append(opts.wait, service.WithMonitorSchema(schema))
	}
}

// Ask asks the child a question and waits for the answer.
func (c *Child) Ask(ctx context.Context, inputValues interface{}, opts ...AskOpt) (*service.Answer, error) {
	options := &askOptions{}

	for _, opt := range opts {
		opt(options)
	}

	reply, err := c.svc.Ask(ctx, c.id, inputValues, options.ask...)
	if err != nil {
		return nil, err
	}

	return c.svc.WaitForAnswer(ctx, reply, options.wait...)
}
