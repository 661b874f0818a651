/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package exceptions

import (
	"errors"
	"fmt"

	octueerrors "github.com/octue/octue-sdk-go/pkg/errors"
)

// Exception type names as they appear on the wire.
const (
	TypeException                      = "Exception"
	TypeTimeoutError                   = "TimeoutError"
	TypeInvalidInput                   = "InvalidInputException"
	TypeInvalidManifestContents        = "InvalidManifestContents"
	TypeInvalidValuesContents          = "InvalidValuesContents"
	TypeFileLocationError              = "FileLocationError"
	TypeServiceNotFound                = "ServiceNotFound"
	TypeBackendNotFound                = "BackendNotFound"
	TypeDeploymentError                = "DeploymentError"
	TypeInvalidMonitorMessage          = "InvalidMonitorMessage"
	TypePushSubscriptionCannotBePulled = "PushSubscriptionCannotBePulled"
)

// Exception is the local reconstruction of an error raised by a remote service.
// The name identifies the remote exception type; a remote type that has no local
// equivalent is represented by this generic type so that its name, message and
// traceback are preserved.
type Exception struct {
	name      string
	message   string
	traceback Traceback
}

// New returns a generic Exception with the given type name and message.
func New(name, format string, a ...interface{}) *Exception {
	return &Exception{name: name, message: fmt.Sprintf(format, a...)}
}

// Error returns the message of the exception.
func (e *Exception) Error() string {
	return e.message
}

// Name returns the exception type name as it appears on the wire.
func (e *Exception) Name() string {
	return e.name
}

// Traceback returns the stack trace attached to the exception, if any.
func (e *Exception) Traceback() Traceback {
	return e.traceback
}

// InvalidInput indicates that an object was constructed or a function called with invalid inputs.
type InvalidInput struct {
	Exception
}

// NewInvalidInput returns a new InvalidInput exception.
func NewInvalidInput(format string, a ...interface{}) *InvalidInput {
	return &InvalidInput{Exception{name: TypeInvalidInput, message: fmt.Sprintf(format, a...)}}
}

// InvalidManifestContents indicates that a manifest did not pass schema validation.
type InvalidManifestContents struct {
	Exception
}

// NewInvalidManifestContents returns a new InvalidManifestContents exception.
func NewInvalidManifestContents(format string, a ...interface{}) *InvalidManifestContents {
	return &InvalidManifestContents{Exception{name: TypeInvalidManifestContents, message: fmt.Sprintf(format, a...)}}
}

// InvalidValuesContents indicates that input or output values did not pass schema validation.
type InvalidValuesContents struct {
	Exception
}

// NewInvalidValuesContents returns a new InvalidValuesContents exception.
func NewInvalidValuesContents(format string, a ...interface{}) *InvalidValuesContents {
	return &InvalidValuesContents{Exception{name: TypeInvalidValuesContents, message: fmt.Sprintf(format, a...)}}
}

// FileLocationError indicates that a dataset or file is not in a location from which
// it can be used, e.g. a local file referenced in a question to a remote service.
type FileLocationError struct {
	Exception
}

// NewFileLocationError returns a new FileLocationError exception.
func NewFileLocationError(format string, a ...interface{}) *FileLocationError {
	return &FileLocationError{Exception{name: TypeFileLocationError, message: fmt.Sprintf(format, a...)}}
}

// ServiceNotFound indicates that a service could not be found, e.g. that no topic
// exists for the given service ID.
type ServiceNotFound struct {
	Exception
}

// NewServiceNotFound returns a new ServiceNotFound exception.
func NewServiceNotFound(format string, a ...interface{}) *ServiceNotFound {
	return &ServiceNotFound{Exception{name: TypeServiceNotFound, message: fmt.Sprintf(format, a...)}}
}

// BackendNotFound indicates that a backend descriptor names an unknown backend type.
type BackendNotFound struct {
	Exception
}

// NewBackendNotFound returns a new BackendNotFound exception.
func NewBackendNotFound(format string, a ...interface{}) *BackendNotFound {
	return &BackendNotFound{Exception{name: TypeBackendNotFound, message: fmt.Sprintf(format, a...)}}
}

// DeploymentError indicates that a service could not be deployed or served.
type DeploymentError struct {
	Exception
}

// NewDeploymentError returns a new DeploymentError exception.
func NewDeploymentError(format string, a ...interface{}) *DeploymentError {
	return &DeploymentError{Exception{name: TypeDeploymentError, message: fmt.Sprintf(format, a...)}}
}

// InvalidMonitorMessage indicates that a monitor message did not pass schema validation.
type InvalidMonitorMessage struct {
	Exception
}

// NewInvalidMonitorMessage returns a new InvalidMonitorMessage exception.
func NewInvalidMonitorMessage(format string, a ...interface{}) *InvalidMonitorMessage {
	return &InvalidMonitorMessage{Exception{name: TypeInvalidMonitorMessage, message: fmt.Sprintf(format, a...)}}
}

// PushSubscriptionCannotBePulled indicates that an answer was awaited on a push
// subscription, which cannot be pulled from.
type PushSubscriptionCannotBePulled struct {
	Exception
}

// NewPushSubscriptionCannotBePulled returns a new PushSubscriptionCannotBePulled exception.
func NewPushSubscriptionCannotBePulled(format string, a ...interface{}) *PushSubscriptionCannotBePulled {
	return &PushSubscriptionCannotBePulled{Exception{name: TypePushSubscriptionCannotBePulled, message: fmt.Sprintf(format, a...)}}
}

type named interface {
	error

	Name() string
	Traceback() Traceback
}

// NameOf returns the exception type name for the given error as it should appear
// on the wire. Errors that carry no type name of their own are named by their kind.
func NameOf(err error) string {
	var n named
	if errors.As(err, &n) {
		return n.Name()
	}

	if octueerrors.IsTimeout(err) {
		return TypeTimeoutError
	}

	return TypeException
}

// TracebackOf returns the traceback attached to the given error, or nil if the
// error carries none.
func TracebackOf(err error) Traceback {
	var n named
	if errors.As(err, &n) {
		return n.Traceback()
	}

	return nil
}
