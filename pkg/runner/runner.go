/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package runner executes the analyses of a service. A runner holds the
// service's app function and its twine, validates the configuration and input
// values an analysis starts from and the output values it produces, and
// checks every monitor message on emission before it is sent to the asker.
package runner

import (
	"context"

	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/octue/octue-sdk-go/pkg/exceptions"
	"github.com/octue/octue-sdk-go/pkg/resources"
	"github.com/octue/octue-sdk-go/pkg/service"
)

const analysisLoggerModule = "analysis"

// AppFunc is the application function of a service: the code that turns the
// inputs of an analysis into its outputs. The function reads the analysis
// inputs, assigns the analysis outputs, and may stream progress through
// SendMonitorMessage along the way. A serving service invokes its app once
// per question, each invocation in its own goroutine; implementations must be
// safe for concurrent use.
type AppFunc func(ctx context.Context, analysis *Analysis) error

// Analysis is the context of one run of an app.
type Analysis struct {
	// ID identifies the analysis. For an analysis run in answer to a question
	// it is the question's UUID.
	ID string

	// ConfigurationValues holds the service's configuration values.
	ConfigurationValues interface{}

	// InputValues holds the input values of the analysis.
	InputValues interface{}

	// InputManifest holds the input manifest of the analysis, or nil if the
	// analysis has none.
	InputManifest *resources.Manifest

	// Logger is the logger the app should emit its records to.
	Logger *log.Log

	// OutputValues is assigned by the app before it returns.
	OutputValues interface{}

	// OutputManifest is assigned by the app before it returns, or left nil if
	// the analysis produces no output manifest.
	OutputManifest *resources.Manifest

	twine       *Twine
	sendMonitor func(data interface{}) error
}

// SendMonitorMessage sends a monitor datum to the asker. The datum is checked
// against the twine's monitor message strand first: an invalid datum is not
// sent and is reported to the asker as an error log record instead, and the
// analysis carries on.
func (a *Analysis) SendMonitorMessage(data interface{}) error {
	if err := a.twine.ValidateMonitorMessage(data); err != nil {
		a.Logger.Error("Monitor message could not be sent.", log.WithError(err))

		return err
	}

	return a.sendMonitor(data)
}

type options struct {
	twine               *Twine
	configurationValues interface{}
}

// Opt sets a runner option.
type Opt func(opts *options)

// WithTwine sets the twine the runner validates against. A runner without a
// twine validates nothing.
func WithTwine(t *Twine) Opt {
	return func(opts *options) {
		opts.twine = t
	}
}

// WithConfigurationValues sets the configuration values handed to every
// analysis the runner runs.
func WithConfigurationValues(values interface{}) Opt {
	return func(opts *options) {
		opts.configurationValues = values
	}
}

// Runner runs the analyses of a service with the service's app function.
type Runner struct {
	app                 AppFunc
	twine               *Twine
	configurationValues interface{}
}

// New returns a runner that runs the given app. The configuration values are
// validated against the twine here, once, rather than on every analysis.
func New(app AppFunc, opts ...Opt) (*Runner, error) {
	if app == nil {
		return nil, exceptions.NewInvalidInput("A runner must be given an app function.")
	}

	options := &options{}

	for _, opt := range opts {
		opt(options)
	}

	if options.twine == nil {
		options.twine = &Twine{}
	}

	if err := options.twine.ValidateConfigurationValues(options.configurationValues); err != nil {
		return nil, err
	}

	return &Runner{
		app:                 app,
		twine:               options.twine,
		configurationValues: options.configurationValues,
	}, nil
}

// Run runs one analysis: the request's input values are validated against the
// twine, the app is invoked, and the output values it assigned are validated
// before they are returned. Run is a service run function.
func (r *Runner) Run(ctx context.Context, req *service.Request) (*service.Response, error) {
	if err := r.twine.ValidateInputValues(req.InputValues); err != nil {
		return nil, err
	}

	analysis := &Analysis{
		ID:                  req.QuestionUUID,
		ConfigurationValues: r.configurationValues,
		InputValues:         req.InputValues,
		InputManifest:       req.InputManifest,
		Logger:              req.Logger,
		twine:               r.twine,
		sendMonitor:         req.SendMonitor,
	}

	if analysis.Logger == nil {
		analysis.Logger = log.New(analysisLoggerModule)
	}

	if analysis.sendMonitor == nil {
		analysis.sendMonitor = func(interface{}) error { return nil }
	}

	if err := r.runApp(ctx, analysis); err != nil {
		analysis.Logger.Error("The analysis failed.", log.WithError(err))

		return nil, err
	}

	return &service.Response{
		OutputValues:   analysis.OutputValues,
		OutputManifest: analysis.OutputManifest,
	}, nil
}

func (r *Runner) runApp(ctx context.Context, analysis *Analysis) error {
	if err := r.app(ctx, analysis); err != nil {
		return err
	}

	return r.twine.ValidateOutputValues(analysis.OutputValues)
}

// AsRunFunc returns the runner's Run method as the run function of a service.
func (r *Runner) AsRunFunc() service.RunFunc {
	return r.Run
}
