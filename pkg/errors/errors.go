/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package errors

import (
	"errors"
	"fmt"
)

var (
	transientType = &transient{} //nolint:gochecknoglobals

	invalidRequestType = &badRequest{} //nolint:gochecknoglobals

	timeoutType = &timeout{} //nolint:gochecknoglobals

	// ErrNotFound is used to indicate that a topic or subscription could not be found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is used to indicate that a topic or subscription already exists.
	ErrAlreadyExists = errors.New("already exists")
)

// NewTransient returns a transient error that wraps the given error in order to indicate to the caller that a retry may
// resolve the problem, whereas a non-transient (persistent) error will always fail with the same outcome if retried.
func NewTransient(err error) error {
	return &transient{err: err}
}

// NewTransientf returns a transient error in order to indicate to the caller that a retry may resolve the problem,
// whereas a non-transient (persistent) error will always fail with the same outcome if retried.
func NewTransientf(format string, a ...interface{}) error {
	return &transient{err: fmt.Errorf(format, a...)}
}

// IsTransient returns true if the given error is a 'transient' error.
func IsTransient(err error) bool {
	return errors.As(err, &transientType)
}

// NewBadRequest returns a 'bad request' error that wraps the given error in order to indicate to the caller that
// the request was invalid.
func NewBadRequest(err error) error {
	return &badRequest{err: err}
}

// NewBadRequestf returns a 'bad request' error in order to indicate to the caller that the request was invalid.
func NewBadRequestf(format string, a ...interface{}) error {
	return &badRequest{err: fmt.Errorf(format, a...)}
}

// IsBadRequest returns true if the given error is a 'bad request' error.
func IsBadRequest(err error) bool {
	return errors.As(err, &invalidRequestType)
}

// NewTimeout returns a 'timeout' error that wraps the given error in order to indicate to the caller that an
// operation did not complete within its deadline.
func NewTimeout(err error) error {
	return &timeout{err: err}
}

// NewTimeoutf returns a 'timeout' error in order to indicate to the caller that an operation did not complete
// within its deadline.
func NewTimeoutf(format string, a ...interface{}) error {
	return &timeout{err: fmt.Errorf(format, a...)}
}

// IsTimeout returns true if the given error is a 'timeout' error.
func IsTimeout(err error) bool {
	return errors.As(err, &timeoutType)
}

type transient struct {
	err error
}

func (e *transient) Error() string {
	return e.err.Error()
}

func (e *transient) Unwrap() error {
	return e.err
}

type badRequest struct {
	err error
}

func (e *badRequest) Error() string {
	return e.err.Error()
}

func (e *badRequest) Unwrap() error {
	return e.err
}

type timeout struct {
	err error
}

func (e *timeout) Error() string {
	return e.err.Error()
}

func (e *timeout) Unwrap() error {
	return e.err
}
