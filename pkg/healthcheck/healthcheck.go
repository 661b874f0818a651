/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package healthcheck

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/octue/octue-sdk-go/pkg/httpserver"
)

var logger = log.New("healthcheck")

const (
	healthCheckEndpoint = "/healthcheck"

	success      = "success"
	notConnected = "not connected"
)

// Handler implements a health check HTTP handler.
type Handler struct {
	pubSub          pubSub
	maintenanceMode bool
}

type pubSub interface {
	IsConnected() bool
}

// NewHandler returns a new health check handler.
func NewHandler(pubSub pubSub, maintenanceMode bool) *Handler {
	return &Handler{
		pubSub:          pubSub,
		maintenanceMode: maintenanceMode,
	}
}

// Method returns the HTTP method, which is always GET.
func (h *Handler) Method() string {
	return http.MethodGet
}

// Path returns the base path of the target URL for this handler.
func (h *Handler) Path() string {
	return healthCheckEndpoint
}

// Handler returns the handler that should be invoked when an HTTP GET is requested to the target endpoint.
// This handler must be registered with an HTTP server.
func (h *Handler) Handler() httpserver.HTTPRequestHandler {
	return h.checkHealth
}

type response struct {
	MQStatus    string    `json:"mqStatus,omitempty"`
	Status      string    `json:"status,omitempty"`
	CurrentTime time.Time `json:"currentTime,omitempty"`
	Version     string    `json:"version,omitempty"`
}

func (h *Handler) checkHealth(rw http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK

	unavailable, mqStatus := h.mqHealthCheck()
	if unavailable {
		status = http.StatusServiceUnavailable
	}

	hc := &response{
		MQStatus:    mqStatus,
		CurrentTime: time.Now(),
		Status:      "OK",
		Version:     httpserver.BuildVersion,
	}

	if h.maintenanceMode {
		// server has been started in maintenance mode so we should return 200 from health check
		// even if health check is failing in order to give an admin opportunity to fix system configuration
		status = http.StatusOK
		hc.Status = "Maintenance"
	}

	hcBytes, err := json.Marshal(hc)
	if err != nil {
		logger.Error("Healthcheck marshal error", log.WithError(err))

		return
	}

	logger.Debug("Health check returning response", log.WithHTTPStatus(status), log.WithResponse(hcBytes))

	rw.WriteHeader(status)

	_, err = rw.Write(hcBytes)
	if err != nil {
		logger.Error("Healthcheck response failure", log.WithError(err))
	}
}

func (h *Handler) mqHealthCheck() (bool, string) {
	if h.pubSub == nil {
		return false, ""
	}

	if h.pubSub.IsConnected() {
		return false, success
	}

	return true, notConnected
}
