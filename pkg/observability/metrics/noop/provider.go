/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package noop

import (
	"time"

	"github.com/octue/octue-sdk-go/pkg/observability/metrics"
)

// Provider implements a no-op metrics provider.
type Provider struct {
}

// NewProvider creates a new instance of the no-op metrics provider.
func NewProvider() *Provider {
	return &Provider{}
}

// Create does nothing.
func (pp *Provider) Create() error {
	return nil
}

// Destroy does nothing.
func (pp *Provider) Destroy() error {
	return nil
}

// Metrics returns supported metrics.
func (pp *Provider) Metrics() metrics.Metrics {
	return &NoOptMetrics{}
}

// NoOptMetrics provides default no operation implementation for the Metrics interface.
type NoOptMetrics struct{}

// QuestionAsked increments the number of questions asked of remote services.
func (nm NoOptMetrics) QuestionAsked() {}

// QuestionAnswered increments the number of questions answered by this service.
func (nm NoOptMetrics) QuestionAnswered() {}

// QuestionReAsked increments the number of questions that were re-asked after a missed delivery acknowledgement.
func (nm NoOptMetrics) QuestionReAsked() {}

// QuestionTimedOut increments the number of questions that timed out before an answer arrived.
func (nm NoOptMetrics) QuestionTimedOut() {}

// RemoteException increments the number of exceptions raised by remote services.
func (nm NoOptMetrics) RemoteException(exceptionType string) {}

// AnswerTime records the time it takes to answer a question.
func (nm NoOptMetrics) AnswerTime(value time.Duration) {}

// RoundTripTime records the time between asking a question and receiving its answer.
func (nm NoOptMetrics) RoundTripTime(value time.Duration) {}

// DeliveryAckTime records the time between asking a question and receiving its delivery acknowledgement.
func (nm NoOptMetrics) DeliveryAckTime(value time.Duration) {}

// LogRecordForwarded increments the number of log records forwarded to parents.
func (nm NoOptMetrics) LogRecordForwarded() {}

// LogRecordReceived increments the number of log records received from children.
func (nm NoOptMetrics) LogRecordReceived() {}

// MonitorMessage increments the number of monitor messages received from children.
func (nm NoOptMetrics) MonitorMessage() {}

// PublishTime records the time it takes to publish a message.
func (nm NoOptMetrics) PublishTime(value time.Duration) {}

// PullTime records the time it takes to pull messages.
func (nm NoOptMetrics) PullTime(value time.Duration) {}

// RunTime records the time it takes to run an analysis.
func (nm NoOptMetrics) RunTime(value time.Duration) {}
