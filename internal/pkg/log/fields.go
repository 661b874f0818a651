/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package log

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log Fields.
const (
	FieldServiceID       = "serviceId"
	FieldServiceName     = "service"
	FieldParentID        = "parentId"
	FieldChildID         = "childId"
	FieldNamespace       = "namespace"
	FieldQuestionUUID    = "questionUuid"
	FieldMessageID       = "messageId"
	FieldKind            = "kind"
	FieldSubscription    = "subscription"
	FieldQueue           = "queue"
	FieldExchange        = "exchange"
	FieldBackendType     = "backend"
	FieldProjectID       = "projectId"
	FieldPushEndpoint    = "pushEndpoint"
	FieldExpiration      = "expiration"
	FieldPayload         = "payload"
	FieldAttributes      = "attributes"
	FieldSize            = "size"
	FieldIndex           = "index"
	FieldMetadata        = "metadata"
	FieldMaxMessages     = "maxMessages"
	FieldAttempt         = "attempt"
	FieldBackoff         = "backoff"
	FieldTimeout         = "timeout"
	FieldDuration        = "duration"
	FieldState           = "state"
	FieldConfig          = "config"
	FieldParameter       = "parameter"
	FieldRequestBody     = "requestBody"
	FieldTotal           = "total"
	FieldKey             = "key"
	FieldAnalysisID      = "analysisId"
	FieldRemoteLogger    = "remoteLogger"
	FieldExceptionType   = "exceptionType"
	FieldTracingProvider = "tracingProvider"
	FieldMetricsProvider = "metricsProvider"
	FieldAddress         = "address"
	FieldPath            = "path"
	FieldTopic           = "topic"
	FieldServiceEndpoint = "service-endpoint"
	FieldLogSpec         = "logSpec"
)

// WithError sets the error field.
func WithError(err error) zap.Field {
	return zap.Error(err)
}

// WithServiceID sets the serviceId field.
func WithServiceID(value string) zap.Field {
	return zap.String(FieldServiceID, value)
}

// WithServiceName sets the service field.
func WithServiceName(value string) zap.Field {
	return zap.String(FieldServiceName, value)
}

// WithParentID sets the parentId field.
func WithParentID(value string) zap.Field {
	return zap.String(FieldParentID, value)
}

// WithChildID sets the childId field.
func WithChildID(value string) zap.Field {
	return zap.String(FieldChildID, value)
}

// WithNamespace sets the namespace field.
func WithNamespace(value string) zap.Field {
	return zap.String(FieldNamespace, value)
}

// WithQuestionUUID sets the questionUuid field.
func WithQuestionUUID(value string) zap.Field {
	return zap.String(FieldQuestionUUID, value)
}

// WithMessageID sets the messageId field.
func WithMessageID(value string) zap.Field {
	return zap.String(FieldMessageID, value)
}

// WithKind sets the kind field.
func WithKind(value string) zap.Field {
	return zap.String(FieldKind, value)
}

// WithSubscription sets the subscription field.
func WithSubscription(value string) zap.Field {
	return zap.String(FieldSubscription, value)
}

// WithQueue sets the queue field.
func WithQueue(value string) zap.Field {
	return zap.String(FieldQueue, value)
}

// WithExchange sets the exchange field.
func WithExchange(value string) zap.Field {
	return zap.String(FieldExchange, value)
}

// WithBackendType sets the backend field.
func WithBackendType(value string) zap.Field {
	return zap.String(FieldBackendType, value)
}

// WithProjectID sets the projectId field.
func WithProjectID(value string) zap.Field {
	return zap.String(FieldProjectID, value)
}

// WithPushEndpoint sets the pushEndpoint field.
func WithPushEndpoint(value string) zap.Field {
	return zap.String(FieldPushEndpoint, value)
}

// WithExpiration sets the expiration field.
func WithExpiration(value time.Duration) zap.Field {
	return zap.Duration(FieldExpiration, value)
}

// WithPayload sets the payload field.
func WithPayload(value []byte) zap.Field {
	return zap.String(FieldPayload, string(value))
}

// WithAttributes sets the attributes field.
func WithAttributes(value map[string]string) zap.Field {
	return zap.Object(FieldAttributes, newAttributesMarshaller(value))
}

// WithSize sets the size field.
func WithSize(value int) zap.Field {
	return zap.Int(FieldSize, value)
}

// WithIndex sets the index field.
func WithIndex(value int) zap.Field {
	return zap.Int(FieldIndex, value)
}

// WithMetadata sets the metadata field.
func WithMetadata(value interface{}) zap.Field {
	return zap.Any(FieldMetadata, value)
}

// WithMaxMessages sets the maxMessages field.
func WithMaxMessages(value int) zap.Field {
	return zap.Int(FieldMaxMessages, value)
}

// WithAttempt sets the attempt field.
func WithAttempt(value int) zap.Field {
	return zap.Int(FieldAttempt, value)
}

// WithBackoff sets the backoff field.
func WithBackoff(value time.Duration) zap.Field {
	return zap.Duration(FieldBackoff, value)
}

// WithTimeout sets the timeout field.
func WithTimeout(value time.Duration) zap.Field {
	return zap.Duration(FieldTimeout, value)
}

// WithDuration sets the duration field.
func WithDuration(value time.Duration) zap.Field {
	return zap.Duration(FieldDuration, value)
}

// WithState sets the state field.
func WithState(value string) zap.Field {
	return zap.String(FieldState, value)
}

// WithConfig sets the config field. The value of the field is
// encoded as JSON.
func WithConfig(value interface{}) zap.Field {
	return zap.Any(FieldConfig, value)
}

// WithParameter sets the parameter field.
func WithParameter(value string) zap.Field {
	return zap.String(FieldParameter, value)
}

// WithRequestBody sets the requestBody field.
func WithRequestBody(value []byte) zap.Field {
	return zap.String(FieldRequestBody, string(value))
}

// WithTotal sets the total field.
func WithTotal(value int) zap.Field {
	return zap.Int(FieldTotal, value)
}

// WithKey sets the key field.
func WithKey(value string) zap.Field {
	return zap.String(FieldKey, value)
}

// WithAnalysisID sets the analysisId field.
func WithAnalysisID(value string) zap.Field {
	return zap.String(FieldAnalysisID, value)
}

// WithRemoteLogger sets the remoteLogger field.
func WithRemoteLogger(value string) zap.Field {
	return zap.String(FieldRemoteLogger, value)
}

// WithExceptionType sets the exceptionType field.
func WithExceptionType(value string) zap.Field {
	return zap.String(FieldExceptionType, value)
}

// WithTracingProvider sets the tracingProvider field.
func WithTracingProvider(value string) zap.Field {
	return zap.String(FieldTracingProvider, value)
}

// WithMetricsProvider sets the metricsProvider field.
func WithMetricsProvider(value string) zap.Field {
	return zap.String(FieldMetricsProvider, value)
}

// WithAddress sets the address field.
func WithAddress(value string) zap.Field {
	return zap.String(FieldAddress, value)
}

// WithPath sets the path field.
func WithPath(value string) zap.Field {
	return zap.String(FieldPath, value)
}

// WithTopic sets the topic field.
func WithTopic(value string) zap.Field {
	return zap.String(FieldTopic, value)
}

// WithServiceEndpoint sets the service-endpoint field.
func WithServiceEndpoint(value string) zap.Field {
	return zap.String(FieldServiceEndpoint, value)
}

// WithLogSpec sets the logSpec field.
func WithLogSpec(value string) zap.Field {
	return zap.String(FieldLogSpec, value)
}

type attributesMarshaller struct {
	attributes map[string]string
}

func newAttributesMarshaller(attributes map[string]string) *attributesMarshaller {
	return &attributesMarshaller{attributes: attributes}
}

func (m *attributesMarshaller) MarshalLogObject(e zapcore.ObjectEncoder) error {
	for k, v := range m.attributes {
		e.AddString(k, v)
	}

	return nil
}
