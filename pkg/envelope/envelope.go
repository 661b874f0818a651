/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package envelope implements the message envelopes of the question/answer
// protocol. Values carried in envelopes are encoded as JSON: types that
// implement json.Marshaler control their own encoding, and timestamps are
// encoded as ISO-8601 strings.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/octue/octue-sdk-go/pkg/exceptions"
)

// Message attribute keys.
const (
	AttrQuestionUUID = "question_uuid"
	AttrForwardLogs  = "forward_logs"
	AttrKind         = "kind"
)

// Intermediate message kinds. A terminal answer message carries no kind attribute.
const (
	KindDeliveryAck = "delivery_ack"
	KindLogRecord   = "log_record"
	KindMonitor     = "monitor"
)

// ErrMissingQuestionUUID indicates a question message without a question_uuid attribute.
var ErrMissingQuestionUUID = errors.New("message has no question_uuid attribute")

// Question is the payload of a question message. The forward_logs flag is
// carried both in the payload and as a message attribute; the attribute takes
// precedence when both are present.
type Question struct {
	InputValues   interface{} `json:"input_values"`
	InputManifest *string     `json:"input_manifest"`
	ForwardLogs   *bool       `json:"forward_logs,omitempty"`
}

// Result is the payload of a successful terminal answer.
type Result struct {
	OutputValues   interface{} `json:"output_values"`
	OutputManifest *string     `json:"output_manifest"`
}

// Error is the payload of a failed terminal answer.
type Error struct {
	Type      string               `json:"exception_type"`
	Message   string               `json:"exception_message"`
	Traceback exceptions.Traceback `json:"traceback"`
}

// Answer is the terminal answer to a question: either a result or an error,
// never both.
type Answer struct {
	Result *Result
	Error  *Error
}

// LogRecord is the payload of a log record forwarded from a child service to
// the asker during a run.
type LogRecord struct {
	Level   int     `json:"level"`
	Message string  `json:"msg"`
	Created float64 `json:"created"`
	Logger  string  `json:"logger"`
	ExcInfo string  `json:"exc_info,omitempty"`
}

// NewQuestionMessage returns a new question message with the question_uuid and
// forward_logs attributes set.
func NewQuestionMessage(questionUUID string, q *Question) (*message.Message, error) {
	payload, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal question: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)

	msg.Metadata.Set(AttrQuestionUUID, questionUUID)

	forwardLogs := true
	if q.ForwardLogs != nil {
		forwardLogs = *q.ForwardLogs
	}

	msg.Metadata.Set(AttrForwardLogs, strconv.FormatBool(forwardLogs))

	return msg, nil
}

// UnmarshalQuestion returns the question carried by the given message.
func UnmarshalQuestion(msg *message.Message) (*Question, error) {
	q := &Question{}

	if err := json.Unmarshal(msg.Payload, q); err != nil {
		return nil, fmt.Errorf("unmarshal question: %w", err)
	}

	return q, nil
}

// QuestionUUID returns the question_uuid attribute of the given message.
func QuestionUUID(msg *message.Message) (string, error) {
	u := msg.Metadata.Get(AttrQuestionUUID)
	if u == "" {
		return "", ErrMissingQuestionUUID
	}

	return u, nil
}

// ForwardLogs returns the forward_logs flag of the given question message.
// The message attribute takes precedence over the payload field; a question
// carrying neither defaults to true.
func ForwardLogs(msg *message.Message, q *Question) bool {
	if v := msg.Metadata.Get(AttrForwardLogs); v != "" {
		return v != "false"
	}

	if q != nil && q.ForwardLogs != nil {
		return *q.ForwardLogs
	}

	return true
}

// NewDeliveryAckMessage returns a new delivery acknowledgement message. The
// payload is empty.
func NewDeliveryAckMessage() *message.Message {
	msg := message.NewMessage(watermill.NewUUID(), nil)

	msg.Metadata.Set(AttrKind, KindDeliveryAck)

	return msg
}

// NewLogRecordMessage returns a new message carrying the given log record.
func NewLogRecordMessage(record *LogRecord) (*message.Message, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal log record: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)

	msg.Metadata.Set(AttrKind, KindLogRecord)

	return msg, nil
}

// UnmarshalLogRecord returns the log record carried by the given message.
func UnmarshalLogRecord(msg *message.Message) (*LogRecord, error) {
	record := &LogRecord{}

	if err := json.Unmarshal(msg.Payload, record); err != nil {
		return nil, fmt.Errorf("unmarshal log record: %w", err)
	}

	return record, nil
}

// NewMonitorMessage returns a new message carrying the given monitor datum.
// The schema of the datum is application-defined.
func NewMonitorMessage(data interface{}) (*message.Message, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal monitor message: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)

	msg.Metadata.Set(AttrKind, KindMonitor)

	return msg, nil
}

// NewResultMessage returns a new terminal answer message carrying the given result.
func NewResultMessage(result *Result) (*message.Message, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}

	return message.NewMessage(watermill.NewUUID(), payload), nil
}

// NewErrorMessage returns a new terminal answer message carrying the given error.
func NewErrorMessage(e *Error) (*message.Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal error: %w", err)
	}

	return message.NewMessage(watermill.NewUUID(), payload), nil
}

// Kind returns the kind attribute of the given message, or an empty string for
// terminal answer messages.
func Kind(msg *message.Message) string {
	return msg.Metadata.Get(AttrKind)
}

// IsTerminal returns true if the given message is a terminal answer message.
func IsTerminal(msg *message.Message) bool {
	return Kind(msg) == ""
}

// UnmarshalAnswer returns the terminal answer carried by the given message.
func UnmarshalAnswer(msg *message.Message) (*Answer, error) {
	var data struct {
		OutputValues     interface{}          `json:"output_values"`
		OutputManifest   *string              `json:"output_manifest"`
		ExceptionType    *string              `json:"exception_type"`
		ExceptionMessage string               `json:"exception_message"`
		Traceback        exceptions.Traceback `json:"traceback"`
	}

	if err := json.Unmarshal(msg.Payload, &data); err != nil {
		return nil, fmt.Errorf("unmarshal answer: %w", err)
	}

	if data.ExceptionType != nil {
		return &Answer{
			Error: &Error{
				Type:      *data.ExceptionType,
				Message:   data.ExceptionMessage,
				Traceback: data.Traceback,
			},
		}, nil
	}

	return &Answer{
		Result: &Result{
			OutputValues:   data.OutputValues,
			OutputManifest: data.OutputManifest,
		},
	}, nil
}
