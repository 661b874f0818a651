/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/octue/octue-sdk-go/internal/pkg/log"
	"github.com/octue/octue-sdk-go/internal/pkg/tlsutil"
	"github.com/octue/octue-sdk-go/pkg/config"
	"github.com/octue/octue-sdk-go/pkg/credentials"
	"github.com/octue/octue-sdk-go/pkg/healthcheck"
	"github.com/octue/octue-sdk-go/pkg/httpserver"
	"github.com/octue/octue-sdk-go/pkg/httpserver/auth"
	"github.com/octue/octue-sdk-go/pkg/httpserver/maintenance"
	"github.com/octue/octue-sdk-go/pkg/observability/loglevels"
	"github.com/octue/octue-sdk-go/pkg/observability/metrics"
	"github.com/octue/octue-sdk-go/pkg/observability/metrics/noop"
	"github.com/octue/octue-sdk-go/pkg/observability/metrics/prometheus"
	"github.com/octue/octue-sdk-go/pkg/observability/tracing"
	"github.com/octue/octue-sdk-go/pkg/pubsub"
	"github.com/octue/octue-sdk-go/pkg/pubsub/httpinbox"
	"github.com/octue/octue-sdk-go/pkg/pubsub/spi"
	"github.com/octue/octue-sdk-go/pkg/runner"
	"github.com/octue/octue-sdk-go/pkg/service"
)

var logger = log.New("octue-service")

const (
	metricsProviderPrometheus = "prometheus"
	tracingProviderJaeger     = "jaeger"
	providerNone              = "none"

	defaultTracingServiceName = "octue-service"

	serverIdleTimeout       = 20 * time.Second
	serverReadHeaderTimeout = 20 * time.Second

	apiTokenID = "api"
)

type options struct {
	app runner.AppFunc
}

// Opt customizes the start command.
type Opt func(opts *options)

// WithApp sets the app the service runs to answer questions. Binaries built on
// this command compile their app in through this option.
func WithApp(app runner.AppFunc) Opt {
	return func(opts *options) {
		opts.app = app
	}
}

// GetStartCmd returns the Cobra start command.
func GetStartCmd(opts ...Opt) *cobra.Command {
	startCmd := createStartCmd(opts...)

	createFlags(startCmd)

	return startCmd
}

func createStartCmd(opts ...Opt) *cobra.Command {
	options := &options{app: DefaultApp}

	for _, opt := range opts {
		opt(options)
	}

	return &cobra.Command{
		Use:   "start",
		Short: "Start the service",
		Long:  "Start the service as a server that answers questions asked by other services",
		RunE: func(cmd *cobra.Command, args []string) error {
			parameters, err := getServiceParameters(cmd)
			if err != nil {
				return err
			}

			parameters.app = options.app

			return startService(parameters)
		},
	}
}

//nolint:funlen
func startService(parameters *serviceParameters) error {
	if parameters.logLevel != "" {
		SetLogLevels(logger, parameters.logLevel)
	}

	cfg, err := config.Load(parameters.configPath)
	if err != nil {
		return err
	}

	if len(parameters.tlsCACerts) > 0 {
		cfg.TLS.CACerts = parameters.tlsCACerts
	}

	tw, err := LoadTwine(cfg)
	if err != nil {
		return err
	}

	r, err := runner.New(parameters.app, runner.WithTwine(tw),
		runner.WithConfigurationValues(cfg.App.ConfigurationValues))
	if err != nil {
		return err
	}

	tracerProvider, err := initTracing(cfg)
	if err != nil {
		return err
	}

	tracerProvider.Start()
	defer tracerProvider.Stop()

	ps, err := connect(cfg)
	if err != nil {
		return err
	}

	defer func() {
		if err := ps.Close(); err != nil {
			logger.Warn("Error closing the broker transport.", log.WithError(err))
		}
	}()

	metricsProvider, err := resolveMetricsProvider(cfg.Metrics.Provider)
	if err != nil {
		return err
	}

	if err := metricsProvider.Create(); err != nil {
		return fmt.Errorf("create metrics provider: %w", err)
	}

	defer func() {
		if err := metricsProvider.Destroy(); err != nil {
			logger.Warn("Error destroying the metrics provider.", log.WithError(err))
		}
	}()

	svc, err := newService(cfg, ps, r, metricsProvider.Metrics())
	if err != nil {
		return err
	}

	srv, inbox, pushURL, err := setupHTTP(cfg, parameters, ps)
	if err != nil {
		return err
	}

	if inbox != nil {
		defer func() {
			if err := inbox.Close(); err != nil {
				logger.Warn("Error closing the push inbox.", log.WithError(err))
			}
		}()
	}

	if srv != nil {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start HTTP server: %w", err)
		}

		defer func() {
			if err := srv.Stop(context.Background()); err != nil {
				logger.Warn("Error stopping the HTTP server.", log.WithError(err))
			}
		}()
	}

	return serve(svc, inbox, pushURL, parameters)
}

func serve(svc *service.Service, inbox *httpinbox.Inbox, pushURL string, parameters *serviceParameters) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if parameters.timeout != 0 {
		timeoutCtx, timeoutCancel := context.WithTimeout(ctx, parameters.timeout)
		defer timeoutCancel()

		ctx = timeoutCtx
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-interrupt:
			logger.Info("Received interrupt signal. Stopping the service.")
			cancel()
		case <-ctx.Done():
		}

		// Closing the inbox ends push consumption: the service drains its
		// in-flight questions and returns.
		if inbox != nil {
			if err := inbox.Close(); err != nil {
				logger.Warn("Error closing the push inbox.", log.WithError(err))
			}
		}
	}()

	var serveOpts []service.ServeOpt

	if parameters.cleanupOnExit {
		serveOpts = append(serveOpts, service.WithCleanupOnExit())
	}

	if parameters.subscriberPoolSize > 0 {
		serveOpts = append(serveOpts, service.WithSubscriberPool(parameters.subscriberPoolSize))
	}

	if inbox != nil {
		logger.Info("Serving questions over push delivery.", logfields.WithServiceID(svc.ID()),
			log.WithURL(pushURL))

		return svc.ServePush(ctx, inbox, pushURL, serveOpts...)
	}

	logger.Info("Serving questions.", logfields.WithServiceID(svc.ID()))

	return svc.Serve(ctx, serveOpts...)
}

func newService(cfg *config.Config, ps spi.PubSub, r *runner.Runner, m metrics.Metrics) (*service.Service, error) {
	svcOpts := []service.Opt{
		service.WithRunFunc(r.AsRunFunc()),
		service.WithMetrics(m),
	}

	if id := cfg.ServiceID(); id != "" {
		svcOpts = append(svcOpts, service.WithID(id))
	}

	if cfg.Service.Name != "" {
		svcOpts = append(svcOpts, service.WithName(cfg.Service.Name))
	}

	return service.New(ps, svcOpts...)
}

func connect(cfg *config.Config) (spi.PubSub, error) {
	b, err := cfg.ResolveBackend()
	if err != nil {
		return nil, err
	}

	var factoryOpts []pubsub.FactoryOpt

	if cfg.TLS.SystemCertPool || len(cfg.TLS.CACerts) > 0 {
		certPool, err := tlsutil.GetCertPool(cfg.TLS.SystemCertPool, cfg.TLS.CACerts)
		if err != nil {
			return nil, fmt.Errorf("create CA certificate pool: %w", err)
		}

		factoryOpts = append(factoryOpts, pubsub.WithTLSConfig(&tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}))
	}

	return pubsub.New(context.Background(), b, credentials.EnvProvider{}, factoryOpts...)
}

// LoadTwine reads the service's twine. A twine missing from the default
// location is not an error: the service simply accepts any values.
func LoadTwine(cfg *config.Config) (*runner.Twine, error) {
	twinePath := cfg.TwinePath()

	data, err := os.ReadFile(twinePath)
	if err != nil {
		if os.IsNotExist(err) && cfg.App.Twine == "" {
			logger.Info("No twine found. The service will accept any values.", logfields.WithPath(twinePath))

			return &runner.Twine{}, nil
		}

		return nil, fmt.Errorf("read twine: %w", err)
	}

	tw, err := runner.ParseTwine(data)
	if err != nil {
		return nil, err
	}

	logger.Info("Loaded twine.", logfields.WithPath(twinePath))

	return tw, nil
}

func initTracing(cfg *config.Config) (tracing.Provider, error) {
	providerType, err := resolveTracingProvider(cfg.Tracing.Provider)
	if err != nil {
		return nil, err
	}

	serviceName := cfg.Tracing.ServiceName
	if serviceName == "" {
		serviceName = cfg.Service.Name
	}

	if serviceName == "" {
		serviceName = defaultTracingServiceName
	}

	tracerProvider, err := tracing.Initialize(providerType, serviceName, cfg.Tracing.CollectorURL)
	if err != nil {
		return nil, fmt.Errorf("initialize tracing: %w", err)
	}

	return tracerProvider, nil
}

func resolveTracingProvider(provider string) (tracing.ProviderType, error) {
	switch {
	case provider == "" || strings.EqualFold(provider, providerNone):
		return tracing.ProviderNone, nil
	case strings.EqualFold(provider, tracingProviderJaeger):
		return tracing.ProviderJaeger, nil
	default:
		return "", fmt.Errorf("unsupported tracing provider: %s", provider)
	}
}

func resolveMetricsProvider(provider string) (metrics.Provider, error) {
	switch {
	case provider == "" || strings.EqualFold(provider, providerNone):
		return noop.NewProvider(), nil
	case strings.EqualFold(provider, metricsProviderPrometheus):
		// The metrics endpoint is registered on the service's own HTTP server.
		return prometheus.NewPrometheusProvider(nil), nil
	default:
		return nil, fmt.Errorf("unsupported metrics provider: %s", provider)
	}
}

func setupHTTP(cfg *config.Config, parameters *serviceParameters,
	ps spi.PubSub) (*httpserver.Server, *httpinbox.Inbox, string, error) {
	pushURL := ""

	if cfg.HTTP.PushEndpoint != "" {
		if cfg.HTTP.BindAddress == "" {
			return nil, nil, "", errors.New("push delivery requires an HTTP server: set http.bind_address")
		}

		if cfg.HTTP.ExternalEndpoint == "" {
			return nil, nil, "", errors.New("push delivery requires the server's external URL: set http.external_endpoint")
		}

		pushURL = strings.TrimSuffix(cfg.HTTP.ExternalEndpoint, "/") + cfg.HTTP.PushEndpoint
	}

	if cfg.HTTP.BindAddress == "" {
		return nil, nil, "", nil
	}

	logWriteHandler := loglevels.NewWriteHandler()

	writeEndpoints := []string{logWriteHandler.Path()}

	if cfg.HTTP.PushEndpoint != "" {
		writeEndpoints = append(writeEndpoints, cfg.HTTP.PushEndpoint)
	}

	authCfg := authorization(parameters.apiToken, writeEndpoints...)

	var inbox *httpinbox.Inbox

	if cfg.HTTP.PushEndpoint != "" {
		inbox = httpinbox.New(&httpinbox.Config{ServiceEndpoint: cfg.HTTP.PushEndpoint}, authCfg)
	}

	handlers := httpHandlers(cfg, parameters, authCfg, logWriteHandler, ps, inbox)

	srv := httpserver.New(cfg.HTTP.BindAddress, cfg.HTTP.TLSCertFile, cfg.HTTP.TLSKeyFile,
		serverIdleTimeout, serverReadHeaderTimeout, handlers...)

	return srv, inbox, pushURL, nil
}

func httpHandlers(cfg *config.Config, parameters *serviceParameters, authCfg auth.Config,
	logWriteHandler *loglevels.WriteHandler, ps spi.PubSub, inbox *httpinbox.Inbox) []httpserver.HTTPHandler {
	handlers := []httpserver.HTTPHandler{
		loglevels.NewReadHandler(),
		auth.NewHandlerWrapper(authCfg, logWriteHandler),
	}

	if strings.EqualFold(cfg.Metrics.Provider, metricsProviderPrometheus) {
		handlers = append(handlers, prometheus.NewHandler())
	}

	if inbox != nil {
		handlers = append(handlers, inbox)
	}

	if parameters.maintenanceMode {
		for i, handler := range handlers {
			handlers[i] = maintenance.NewMaintenanceWrapper(handler)
		}
	}

	// The health check endpoint stays reachable in maintenance mode so that
	// deployments can still probe the service.
	conn, _ := ps.(interface{ IsConnected() bool })

	return append(handlers, healthcheck.NewHandler(conn, parameters.maintenanceMode))
}

// authorization builds the bearer token configuration protecting the mutating
// HTTP endpoints. An empty token leaves them open.
func authorization(apiToken string, writeEndpoints ...string) auth.Config {
	if apiToken == "" {
		return auth.Config{}
	}

	defs := make([]*auth.TokenDef, 0, len(writeEndpoints))

	for _, endpoint := range writeEndpoints {
		defs = append(defs, &auth.TokenDef{
			EndpointExpression: regexp.QuoteMeta(endpoint),
			WriteTokens:        []string{apiTokenID},
		})
	}

	return auth.Config{
		AuthTokensDef: defs,
		AuthTokens:    map[string]string{apiTokenID: apiToken},
	}
}

// DefaultApp answers every question with a fixed greeting. It stands in when no
// app has been compiled into the binary, letting a fresh deployment be smoke
// tested end to end.
func DefaultApp(_ context.Context, analysis *runner.Analysis) error {
	analysis.Logger.Info("No app has been compiled into this service. Answering with a greeting.",
		logfields.WithAnalysisID(analysis.ID))

	analysis.OutputValues = "Hello! It worked!"

	return nil
}
