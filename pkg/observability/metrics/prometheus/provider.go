/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package prometheus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logfields "github.com/octue/octue-sdk-go/internal/pkg/log"
	"github.com/octue/octue-sdk-go/pkg/httpserver"
	"github.com/octue/octue-sdk-go/pkg/observability/metrics"
)

var logger = metrics.Logger

var (
	createOnce sync.Once       //nolint:gochecknoglobals
	instance   metrics.Metrics //nolint:gochecknoglobals
)

// Provider implements a Prometheus metrics provider.
type Provider struct {
	httpServer *httpserver.Server
}

// NewPrometheusProvider creates a new instance of the Prometheus metrics provider. The
// given HTTP server is expected to expose the metrics endpoint and may be nil if the
// endpoint is served elsewhere.
func NewPrometheusProvider(httpServer *httpserver.Server) *Provider {
	return &Provider{httpServer: httpServer}
}

// Create starts the metrics HTTP server.
func (pp *Provider) Create() error {
	if pp.httpServer == nil {
		return nil
	}

	if err := pp.httpServer.Start(); err != nil {
		return fmt.Errorf("start metrics HTTP server: %w", err)
	}

	return nil
}

// Metrics returns supported metrics.
func (pp *Provider) Metrics() metrics.Metrics {
	return GetMetrics()
}

// Destroy stops the metrics HTTP server.
func (pp *Provider) Destroy() error {
	if pp.httpServer == nil {
		return nil
	}

	return pp.httpServer.Stop(context.Background())
}

// GetMetrics returns the metrics implementation.
func GetMetrics() metrics.Metrics {
	createOnce.Do(func() {
		instance = NewMetrics()
	})

	return instance
}

// PromMetrics manages the Prometheus metrics for the SDK.
type PromMetrics struct {
	questionsAsked    prometheus.Counter
	questionsAnswered prometheus.Counter
	questionsReAsked  prometheus.Counter
	questionsTimedOut prometheus.Counter

	remoteExceptionCounts map[string]prometheus.Counter

	answerTime      prometheus.Histogram
	roundTripTime   prometheus.Histogram
	deliveryAckTime prometheus.Histogram

	logRecordsForwarded prometheus.Counter
	logRecordsReceived  prometheus.Counter
	monitorMessages     prometheus.Counter

	publishTime prometheus.Histogram
	pullTime    prometheus.Histogram

	runTime prometheus.Histogram
}

// NewMetrics creates and registers the Prometheus metrics.
func NewMetrics() metrics.Metrics {
	exceptionTypes := []string{
		"Exception", "TimeoutError", "InvalidInputException", "InvalidManifestContents",
		"InvalidValuesContents", "FileLocationError", "ServiceNotFound", "BackendNotFound",
		"DeploymentError", "InvalidMonitorMessage", "PushSubscriptionCannotBePulled",
	}

	pm := &PromMetrics{
		questionsAsked:        newQuestionsAsked(),
		questionsAnswered:     newQuestionsAnswered(),
		questionsReAsked:      newQuestionsReAsked(),
		questionsTimedOut:     newQuestionsTimedOut(),
		remoteExceptionCounts: newRemoteExceptionCounts(exceptionTypes),
		answerTime:            newAnswerTime(),
		roundTripTime:         newRoundTripTime(),
		deliveryAckTime:       newDeliveryAckTime(),
		logRecordsForwarded:   newLogRecordsForwarded(),
		logRecordsReceived:    newLogRecordsReceived(),
		monitorMessages:       newMonitorMessages(),
		publishTime:           newPublishTime(),
		pullTime:              newPullTime(),
		runTime:               newRunTime(),
	}

	registerMetrics(pm)

	return pm
}

func registerMetrics(pm *PromMetrics) {
	prometheus.MustRegister(
		pm.questionsAsked, pm.questionsAnswered, pm.questionsReAsked, pm.questionsTimedOut,
		pm.answerTime, pm.roundTripTime, pm.deliveryAckTime,
		pm.logRecordsForwarded, pm.logRecordsReceived, pm.monitorMessages,
		pm.publishTime, pm.pullTime, pm.runTime,
	)

	for _, c := range pm.remoteExceptionCounts {
		prometheus.MustRegister(c)
	}
}

// QuestionAsked increments the number of questions asked of remote services.
func (pm *PromMetrics) QuestionAsked() {
	pm.questionsAsked.Inc()
}

// QuestionAnswered increments the number of questions answered by this service.
func (pm *PromMetrics) QuestionAnswered() {
	pm.questionsAnswered.Inc()
}

// QuestionReAsked increments the number of questions that were re-asked after a
// missed delivery acknowledgement.
func (pm *PromMetrics) QuestionReAsked() {
	pm.questionsReAsked.Inc()
}

// QuestionTimedOut increments the number of questions that timed out before an
// answer arrived.
func (pm *PromMetrics) QuestionTimedOut() {
	pm.questionsTimedOut.Inc()
}

// RemoteException increments the number of exceptions of the given type raised by
// remote services. An unrecognized type is counted as a generic Exception.
func (pm *PromMetrics) RemoteException(exceptionType string) {
	c, ok := pm.remoteExceptionCounts[exceptionType]
	if !ok {
		c = pm.remoteExceptionCounts["Exception"]
	}

	c.Inc()
}

// AnswerTime records the time it takes to answer a question.
func (pm *PromMetrics) AnswerTime(value time.Duration) {
	pm.answerTime.Observe(value.Seconds())

	logger.Debug("Answer time", logfields.WithDuration(value))
}

// RoundTripTime records the time between asking a question and receiving its answer.
func (pm *PromMetrics) RoundTripTime(value time.Duration) {
	pm.roundTripTime.Observe(value.Seconds())

	logger.Debug("Question round-trip time", logfields.WithDuration(value))
}

// DeliveryAckTime records the time between asking a question and receiving its
// delivery acknowledgement.
func (pm *PromMetrics) DeliveryAckTime(value time.Duration) {
	pm.deliveryAckTime.Observe(value.Seconds())

	logger.Debug("Delivery acknowledgement time", logfields.WithDuration(value))
}

// LogRecordForwarded increments the number of log records forwarded to parents.
func (pm *PromMetrics) LogRecordForwarded() {
	pm.logRecordsForwarded.Inc()
}

// LogRecordReceived increments the number of log records received from children.
func (pm *PromMetrics) LogRecordReceived() {
	pm.logRecordsReceived.Inc()
}

// MonitorMessage increments the number of monitor messages received from children.
func (pm *PromMetrics) MonitorMessage() {
	pm.monitorMessages.Inc()
}

// PublishTime records the time it takes to publish a message.
func (pm *PromMetrics) PublishTime(value time.Duration) {
	pm.publishTime.Observe(value.Seconds())

	logger.Debug("Publish time", logfields.WithDuration(value))
}

// PullTime records the time it takes to pull messages.
func (pm *PromMetrics) PullTime(value time.Duration) {
	pm.pullTime.Observe(value.Seconds())

	logger.Debug("Pull time", logfields.WithDuration(value))
}

// RunTime records the time it takes to run an analysis.
func (pm *PromMetrics) RunTime(value time.Duration) {
	pm.runTime.Observe(value.Seconds())

	logger.Debug("Analysis run time", logfields.WithDuration(value))
}

func newCounter(subsystem, name, help string, labels prometheus.Labels) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   metrics.Namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	})
}

func newHistogram(subsystem, name, help string, labels prometheus.Labels) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   metrics.Namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	})
}

func newQuestionsAsked() prometheus.Counter {
	return newCounter(
		metrics.Service, metrics.ServiceQuestionsAskedMetric,
		"The number of questions asked of remote services.",
		nil,
	)
}

func newQuestionsAnswered() prometheus.Counter {
	return newCounter(
		metrics.Service, metrics.ServiceQuestionsAnsweredMetric,
		"The number of questions answered by this service.",
		nil,
	)
}

func newQuestionsReAsked() prometheus.Counter {
	return newCounter(
		metrics.Service, metrics.ServiceQuestionsReAskedMetric,
		"The number of questions re-asked after a missed delivery acknowledgement.",
		nil,
	)
}

func newQuestionsTimedOut() prometheus.Counter {
	return newCounter(
		metrics.Service, metrics.ServiceQuestionsTimedOutMetric,
		"The number of questions that timed out before an answer arrived.",
		nil,
	)
}

func newRemoteExceptionCounts(exceptionTypes []string) map[string]prometheus.Counter {
	counters := make(map[string]prometheus.Counter)

	for _, exceptionType := range exceptionTypes {
		counters[exceptionType] = newCounter(
			metrics.Service, metrics.ServiceRemoteExceptionMetric,
			"The number of exceptions raised by remote services.",
			prometheus.Labels{"type": exceptionType},
		)
	}

	return counters
}

func newAnswerTime() prometheus.Histogram {
	return newHistogram(
		metrics.Service, metrics.ServiceAnswerTimeMetric,
		"The time (in seconds) that it takes to answer a question.",
		nil,
	)
}

func newRoundTripTime() prometheus.Histogram {
	return newHistogram(
		metrics.Service, metrics.ServiceRoundTripTimeMetric,
		"The time (in seconds) between asking a question and receiving its answer.",
		nil,
	)
}

func newDeliveryAckTime() prometheus.Histogram {
	return newHistogram(
		metrics.Service, metrics.ServiceDeliveryAckTimeMetric,
		"The time (in seconds) between asking a question and receiving its delivery acknowledgement.",
		nil,
	)
}

func newLogRecordsForwarded() prometheus.Counter {
	return newCounter(
		metrics.Service, metrics.ServiceLogRecordsForwardedMetric,
		"The number of log records forwarded to parents.",
		nil,
	)
}

func newLogRecordsReceived() prometheus.Counter {
	return newCounter(
		metrics.Service, metrics.ServiceLogRecordsReceivedMetric,
		"The number of log records received from children.",
		nil,
	)
}

func newMonitorMessages() prometheus.Counter {
	return newCounter(
		metrics.Service, metrics.ServiceMonitorMessagesMetric,
		"The number of monitor messages received from children.",
		nil,
	)
}

func newPublishTime() prometheus.Histogram {
	return newHistogram(
		metrics.PubSub, metrics.PubSubPublishTimeMetric,
		"The time (in seconds) that it takes to publish a message.",
		nil,
	)
}

func newPullTime() prometheus.Histogram {
	return newHistogram(
		metrics.PubSub, metrics.PubSubPullTimeMetric,
		"The time (in seconds) that it takes to pull messages.",
		nil,
	)
}

func newRunTime() prometheus.Histogram {
	return newHistogram(
		metrics.Runner, metrics.RunnerRunTimeMetric,
		"The time (in seconds) that it takes to run an analysis.",
		nil,
	)
}
