/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"
	"go.uber.org/zap"

	logfields "github.com/octue/octue-sdk-go/internal/pkg/log"
	"github.com/octue/octue-sdk-go/pkg/envelope"
)

const analysisLoggerModule = "analysis"

// Numeric log record levels, as carried on the wire.
const (
	levelDebug    = 10
	levelInfo     = 20
	levelWarning  = 30
	levelError    = 40
	levelCritical = 50
)

// newAnalysisLogger returns the logger given to the run function when the
// asker has requested log forwarding. Each record written to the logger is
// emitted as a log record envelope as well.
func newAnalysisLogger(emit func(record *envelope.LogRecord)) *log.Log {
	w := &logRecordWriter{emit: emit}

	return log.New(analysisLoggerModule, log.WithStdOut(w), log.WithStdErr(w), log.WithEncoding(log.JSON))
}

// logRecordWriter decodes JSON-encoded log records and emits them as log
// record envelopes. Writes never fail: a record that cannot be decoded is
// emitted with its raw text as the message.
type logRecordWriter struct {
	emit func(record *envelope.LogRecord)
}

func (w *logRecordWriter) Write(p []byte) (int, error) {
	var record struct {
		Level      string          `json:"level"`
		Time       json.RawMessage `json:"time"`
		Logger     string          `json:"logger"`
		Message    string          `json:"msg"`
		Error      string          `json:"error"`
		Stacktrace string          `json:"stacktrace"`
	}

	if err := json.Unmarshal(p, &record); err != nil {
		w.emit(&envelope.LogRecord{
			Level:   levelInfo,
			Message: string(p),
			Created: epochSeconds(time.Now()),
			Logger:  analysisLoggerModule,
		})

		return len(p), nil
	}

	excInfo := record.Error
	if record.Stacktrace != "" {
		excInfo += "\n" + record.Stacktrace
	}

	w.emit(&envelope.LogRecord{
		Level:   levelNumber(record.Level),
		Message: record.Message,
		Created: createdAt(record.Time),
		Logger:  record.Logger,
		ExcInfo: excInfo,
	})

	return len(p), nil
}

func (w *logRecordWriter) Sync() error {
	return nil
}

func levelNumber(level string) int {
	switch level {
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn", "warning":
		return levelWarning
	case "error":
		return levelError
	case "dpanic", "panic", "fatal":
		return levelCritical
	default:
		return levelInfo
	}
}

// Zap's ISO-8601 encoding carries the zone as ±hhmm, without a colon.
const iso8601Layout = "2006-01-02T15:04:05.000Z0700"

func createdAt(raw json.RawMessage) float64 {
	var ts string

	if err := json.Unmarshal(raw, &ts); err == nil {
		for _, layout := range []string{iso8601Layout, time.RFC3339Nano} {
			if t, err := time.Parse(layout, ts); err == nil {
				return epochSeconds(t)
			}
		}
	}

	var epoch float64

	if err := json.Unmarshal(raw, &epoch); err == nil {
		return epoch
	}

	return epochSeconds(time.Now())
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// emitRemoteLogRecord emits a log record received from a remote service
// through the given local logger, at the level carried by the record.
func emitRemoteLogRecord(logger *log.Log, record *envelope.LogRecord) {
	fields := []zap.Field{logfields.WithRemoteLogger(record.Logger)}

	if record.ExcInfo != "" {
		fields = append(fields, log.WithError(errors.New(record.ExcInfo)))
	}

	switch {
	case record.Level >= levelError:
		logger.Error(record.Message, fields...)
	case record.Level >= levelWarning:
		logger.Warn(record.Message, fields...)
	case record.Level >= levelInfo:
		logger.Info(record.Message, fields...)
	default:
		logger.Debug(record.Message, fields...)
	}
}
