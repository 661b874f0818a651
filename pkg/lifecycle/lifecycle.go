/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package lifecycle

import (
	"errors"
	"sync/atomic"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/octue/octue-sdk-go/internal/pkg/log"
)

var logger = log.New("lifecycle")

// State is the state of a service.
type State = uint32

// Service states.
const (
	StateNotStarted State = 0
	StateStarting   State = 1
	StateStarted    State = 2
	StateStopped    State = 3
)

// ErrNotStarted indicates that an operation was invoked on a service that has not been started.
var ErrNotStarted = errors.New("service has not started")

type options struct {
	start func()
	stop  func()
}

// Opt sets a Lifecycle option.
type Opt func(opts *options)

// WithStart sets the function that is invoked when the service is started.
func WithStart(start func()) Opt {
	return func(opts *options) {
		opts.start = start
	}
}

// WithStop sets the function that is invoked when the service is stopped.
func WithStop(stop func()) Opt {
	return func(opts *options) {
		opts.stop = stop
	}
}

// Lifecycle implements the lifecycle of a service, i.e. Start and Stop.
type Lifecycle struct {
	*options

	name  string
	state uint32
}

// New returns a new Lifecycle.
func New(name string, opts ...Opt) *Lifecycle {
	options := &options{
		start: func() {},
		stop:  func() {},
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Lifecycle{
		options: options,
		name:    name,
	}
}

// Start starts the service. The start function (specified by the WithStart option)
// is invoked at most once, regardless of how many times Start is called.
func (h *Lifecycle) Start() {
	if !atomic.CompareAndSwapUint32(&h.state, StateNotStarted, StateStarting) {
		logger.Debug("Service already started", logfields.WithServiceName(h.name))

		return
	}

	logger.Debug("Starting service ...", logfields.WithServiceName(h.name))

	h.start()

	logger.Debug("... service started", logfields.WithServiceName(h.name))

	atomic.StoreUint32(&h.state, StateStarted)
}

// Stop stops the service. The stop function (specified by the WithStop option)
// is invoked at most once, regardless of how many times Stop is called.
func (h *Lifecycle) Stop() {
	if !atomic.CompareAndSwapUint32(&h.state, StateStarted, StateStopped) {
		logger.Debug("Service already stopped", logfields.WithServiceName(h.name))

		return
	}

	logger.Debug("Stopping service ...", logfields.WithServiceName(h.name))

	h.stop()

	logger.Debug("... service stopped", logfields.WithServiceName(h.name))
}

// State returns the state of the service.
func (h *Lifecycle) State() State {
	return atomic.LoadUint32(&h.state)
}
