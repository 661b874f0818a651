/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import (
	"context"

	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/octue/octue-sdk-go/pkg/resources"
)

// Request carries the decoded inputs of one question to the run function,
// along with the per-question collaborators that the runtime installs around
// the invocation. Every question gets its own Request with independent log
// and monitor sinks.
type Request struct {
	// QuestionUUID correlates the question with its reply channel.
	QuestionUUID string

	// InputValues holds the question's input values.
	InputValues interface{}

	// InputManifest holds the question's input manifest, or nil if the
	// question has none.
	InputManifest *resources.Manifest

	// Logger is the logger the analysis should emit its records to. While the
	// question's forward_logs flag is set, each record is also forwarded to
	// the asker as a log_record message on the reply channel.
	Logger *log.Log

	// SendMonitor publishes a monitor datum to the asker as a monitor message
	// on the reply channel. It may be called any number of times during a run.
	SendMonitor func(data interface{}) error
}

// Response carries the outputs of a completed analysis.
type Response struct {
	// OutputValues holds the analysis output values.
	OutputValues interface{}

	// OutputManifest holds the analysis output manifest, or nil if the
	// analysis produced none.
	OutputManifest *resources.Manifest
}

// RunFunc is the analysis function of a service. A serving service invokes it
// once per question, each invocation in its own goroutine; implementations
// must be safe for concurrent use. An error returned (or a panic raised) by
// the function is captured and published to the asker as an error envelope,
// never propagated out of the server loop.
type RunFunc func(ctx context.Context, req *Request) (*Response, error)
