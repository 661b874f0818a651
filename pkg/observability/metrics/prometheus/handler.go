/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/octue/octue-sdk-go/pkg/httpserver"
)

const metricsPath = "/metrics"

// Handler is a REST handler that exposes the registered Prometheus metrics.
type Handler struct {
	handler http.Handler
}

// NewHandler returns a new metrics GET handler.
func NewHandler() *Handler {
	return &Handler{handler: promhttp.Handler()}
}

// Method returns the HTTP method.
func (h *Handler) Method() string {
	return http.MethodGet
}

// Path returns the HTTP path.
func (h *Handler) Path() string {
	return metricsPath
}

// Handler returns the HTTP handler.
func (h *Handler) Handler() httpserver.HTTPRequestHandler {
	return h.handler.ServeHTTP
}
