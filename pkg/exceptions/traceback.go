/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package exceptions

import (
	"fmt"
	"runtime"
	"strings"
)

const maxFrames = 32

// Frame describes one level of the stack trace attached to an exception.
type Frame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Traceback is an ordered list of stack frames, innermost frame first.
type Traceback []Frame

// Capture returns the traceback of the calling goroutine. A skip of 0 identifies
// the caller of Capture.
func Capture(skip int) Traceback {
	pcs := make([]uintptr, maxFrames)

	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])

	var tb Traceback

	for {
		f, more := frames.Next()

		tb = append(tb, Frame{Function: f.Function, File: f.File, Line: f.Line})

		if !more {
			break
		}
	}

	return tb
}

// String renders the traceback as printable text with the innermost frame last,
// in the same layout that remote services print their own stack traces.
func (t Traceback) String() string {
	if len(t) == 0 {
		return ""
	}

	var b strings.Builder

	b.WriteString("Traceback (most recent call last):")

	for i := len(t) - 1; i >= 0; i-- {
		f := t[i]

		fmt.Fprintf(&b, "\n  File %q, line %d, in %s", f.File, f.Line, f.Function)
	}

	return b.String()
}
