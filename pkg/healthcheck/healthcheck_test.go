/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package healthcheck

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandler_CheckHealth(t *testing.T) {
	t.Run("success - health check", func(t *testing.T) {
		handler := NewHandler(&mockPubSub{connected: true}, false)

		require.Equal(t, http.MethodGet, handler.Method())
		require.Equal(t, healthCheckEndpoint, handler.Path())
		require.NotNil(t, handler.Handler())

		b := &httptest.ResponseRecorder{}
		handler.checkHealth(b, nil)

		require.Equal(t, http.StatusOK, b.Code)
	})

	t.Run("error - health check", func(t *testing.T) {
		h := NewHandler(&mockPubSub{connected: false}, false)

		b := httptest.NewRecorder()
		h.checkHealth(b, nil)

		result := b.Result()

		require.Equal(t, http.StatusServiceUnavailable, result.StatusCode)

		resp := &response{}

		require.NoError(t, json.NewDecoder(result.Body).Decode(resp))
		require.NoError(t, result.Body.Close())

		require.Equal(t, notConnected, resp.MQStatus)
		require.Equal(t, "OK", resp.Status)
	})

	t.Run("maintenance mode - health check", func(t *testing.T) {
		h := NewHandler(&mockPubSub{connected: false}, true)

		b := httptest.NewRecorder()
		h.checkHealth(b, nil)

		result := b.Result()

		require.Equal(t, http.StatusOK, result.StatusCode)

		resp := &response{}

		require.NoError(t, json.NewDecoder(result.Body).Decode(resp))
		require.NoError(t, result.Body.Close())

		require.Equal(t, notConnected, resp.MQStatus)
		require.Equal(t, "Maintenance", resp.Status)
	})
}

func TestHandler_CheckHealthNoServices(t *testing.T) {
	h := NewHandler(nil, false)

	b := &httptest.ResponseRecorder{}
	h.checkHealth(b, nil)

	require.Equal(t, http.StatusOK, b.Code)
}

type mockPubSub struct {
	connected bool
}

func (m *mockPubSub) IsConnected() bool {
	return m.connected
}
