/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package maintenance

import (
	"net/http"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/octue/octue-sdk-go/internal/pkg/log"
	"github.com/octue/octue-sdk-go/pkg/httpserver"
)

const loggerModule = "maintenance"

const serviceUnavailableResponse = "Service Unavailable.\n"

// HandlerWrapper wraps an existing HTTP handler such that any call to the handler endpoint
// returns 503 (Service Unavailable).
type HandlerWrapper struct {
	httpserver.HTTPHandler

	writeResponse func(w http.ResponseWriter, status int, body []byte)
	logger        *log.Log
}

// NewMaintenanceWrapper will return service unavailable for the handler that was passed in.
func NewMaintenanceWrapper(handler httpserver.HTTPHandler) *HandlerWrapper {
	hlogger := log.New(loggerModule).With(logfields.WithServiceEndpoint(handler.Path()))

	return &HandlerWrapper{
		HTTPHandler: handler,
		logger:      hlogger,
		writeResponse: func(w http.ResponseWriter, status int, body []byte) {
			w.WriteHeader(status)

			if len(body) > 0 {
				if _, err := w.Write(body); err != nil {
					logfields.WriteResponseBodyError(hlogger, err)

					return
				}

				logfields.WroteResponse(hlogger, body)
			}
		},
	}
}

// Handler returns the 'wrapper' handler.
func (h *HandlerWrapper) Handler() httpserver.HTTPRequestHandler {
	return func(w http.ResponseWriter, req *http.Request) {
		h.writeResponse(w, http.StatusServiceUnavailable, []byte(serviceUnavailableResponse))
	}
}
