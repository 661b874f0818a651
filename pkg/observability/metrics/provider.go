/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"
)

// Logger used by the metrics providers.
var Logger = log.New("metrics-provider")

// Constants used by the metrics providers.
const (
	// Namespace Organization namespace.
	Namespace = "octue"

	// Service Service.
	Service                          = "service"
	ServiceQuestionsAskedMetric      = "questions_asked_count"
	ServiceQuestionsAnsweredMetric   = "questions_answered_count"
	ServiceQuestionsReAskedMetric    = "questions_reasked_count"
	ServiceQuestionsTimedOutMetric   = "questions_timed_out_count"
	ServiceRemoteExceptionMetric     = "remote_exceptions_count"
	ServiceAnswerTimeMetric          = "answer_seconds"
	ServiceRoundTripTimeMetric       = "round_trip_seconds"
	ServiceDeliveryAckTimeMetric     = "delivery_ack_seconds"
	ServiceLogRecordsForwardedMetric = "log_records_forwarded_count"
	ServiceLogRecordsReceivedMetric  = "log_records_received_count"
	ServiceMonitorMessagesMetric     = "monitor_messages_count"

	// PubSub Publisher/subscriber.
	PubSub                  = "pubsub"
	PubSubPublishTimeMetric = "publish_seconds"
	PubSubPullTimeMetric    = "pull_seconds"

	// Runner Runner.
	Runner              = "runner"
	RunnerRunTimeMetric = "run_seconds"
)

// Provider is an interface for metrics provider.
type Provider interface {
	// Create creates a metrics provider instance
	Create() error
	// Destroy destroys the metrics provider instance
	Destroy() error
	// Metrics providers metrics
	Metrics() Metrics
}

// Metrics is an interface for the metrics to be supported by the provider.
type Metrics interface {
	QuestionAsked()
	QuestionAnswered()
	QuestionReAsked()
	QuestionTimedOut()
	RemoteException(exceptionType string)
	AnswerTime(value time.Duration)
	RoundTripTime(value time.Duration)
	DeliveryAckTime(value time.Duration)
	LogRecordForwarded()
	LogRecordReceived()
	MonitorMessage()
	PublishTime(value time.Duration)
	PullTime(value time.Duration)
	RunTime(value time.Duration)
}
