/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package pubsub

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/trustbloc/logutil-go/pkg/log"
	"google.golang.org/api/option"

	logfields "github.com/octue/octue-sdk-go/internal/pkg/log"
	"github.com/octue/octue-sdk-go/pkg/backend"
	"github.com/octue/octue-sdk-go/pkg/credentials"
	"github.com/octue/octue-sdk-go/pkg/exceptions"
	"github.com/octue/octue-sdk-go/pkg/observability/tracing/otelpubsub"
	"github.com/octue/octue-sdk-go/pkg/pubsub/amqp"
	"github.com/octue/octue-sdk-go/pkg/pubsub/gcloudpubsub"
	"github.com/octue/octue-sdk-go/pkg/pubsub/mempubsub"
	"github.com/octue/octue-sdk-go/pkg/pubsub/spi"
)

var logger = log.New("pubsub")

// Messaging system names recorded on tracing spans.
const (
	SystemGCloudPubSub = "gcp_pubsub"
	SystemRabbitMQ     = "rabbitmq"
	SystemInMemory     = "mem"
)

type factoryOptions struct {
	tlsConfig *tls.Config
}

// FactoryOpt sets a transport factory option.
type FactoryOpt func(opts *factoryOptions)

// WithTLSConfig sets the TLS configuration for transports that connect to a
// broker over TLS.
func WithTLSConfig(cfg *tls.Config) FactoryOpt {
	return func(opts *factoryOptions) {
		opts.tlsConfig = cfg
	}
}

// New returns the publisher/subscriber transport for the given backend
// descriptor. Credentials are resolved through the given provider under the
// name carried in the descriptor; a backend whose provider holds no
// credentials falls back to the platform's default credentials where the
// platform has such a notion. The returned transport is decorated so that
// publishes and receives create OpenTelemetry spans.
func New(ctx context.Context, b backend.Backend, provider credentials.Provider,
	opts ...FactoryOpt) (spi.PubSub, error) {
	options := &factoryOptions{}

	for _, opt := range opts {
		opt(options)
	}

	logger.Debug("Creating publisher/subscriber", logfields.WithBackendType(b.Type()))

	switch bk := b.(type) {
	case *backend.GCPPubSub:
		var clientOpts []option.ClientOption

		if creds, ok := provider.Credentials(bk.CredentialsEnvironmentVariable); ok {
			clientOpts = append(clientOpts, option.WithCredentialsJSON(creds))
		}

		p, err := gcloudpubsub.New(ctx, gcloudpubsub.DefaultConfig(bk.ProjectName), clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("create Google Cloud publisher/subscriber: %w", err)
		}

		return otelpubsub.New(p, SystemGCloudPubSub), nil

	case *backend.RabbitMQ:
		uri, ok := provider.Credentials(bk.URIEnvironmentVariable)
		if !ok {
			return nil, fmt.Errorf("no broker URI held under [%s]", bk.URIEnvironmentVariable)
		}

		return otelpubsub.New(amqp.New(amqp.Config{
			URI:       string(uri),
			TLSConfig: options.tlsConfig,
		}), SystemRabbitMQ), nil

	case *backend.InMemory:
		return otelpubsub.New(mempubsub.New(mempubsub.DefaultConfig()), SystemInMemory), nil

	default:
		return nil, exceptions.NewBackendNotFound(
			"Backend with name %s not found. Available backends are %v", b.Type(), backend.Types())
	}
}
