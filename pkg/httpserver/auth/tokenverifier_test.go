/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenVerifier(t *testing.T) {
	cfg := Config{
		AuthTokensDef: []*TokenDef{
			{
				EndpointExpression: "/answers",
				ReadTokens:         []string{"admin", "read"},
				WriteTokens:        []string{"admin"},
			},
			{
				EndpointExpression: "/healthcheck",
			},
		},
		AuthTokens: map[string]string{
			"read":  "READ_TOKEN",
			"admin": "ADMIN_TOKEN",
		},
	}

	t.Run("Success", func(t *testing.T) {
		v1 := NewTokenVerifier(cfg, "/answers", http.MethodPost)
		require.NotNil(t, v1)

		v2 := NewTokenVerifier(cfg, "/answers", http.MethodGet)
		require.NotNil(t, v2)
	})

	t.Run("Token not found -> panic", func(t *testing.T) {
		invalidCfg := Config{
			AuthTokensDef: []*TokenDef{
				{
					EndpointExpression: "/answers",
					ReadTokens:         []string{"unknown"},
				},
			},
			AuthTokens: map[string]string{
				"read": "READ_TOKEN",
			},
		}

		require.Panics(t, func() {
			NewTokenVerifier(invalidCfg, "/answers", http.MethodGet)
		})
	})

	t.Run("POST with auth token -> success", func(t *testing.T) {
		v := NewTokenVerifier(cfg, "/answers", http.MethodPost)
		require.NotNil(t, v)

		req := httptest.NewRequest(http.MethodPost, "/answers", nil)
		req.Header[authHeader] = []string{tokenPrefix + "ADMIN_TOKEN"}

		require.True(t, v.Verify(req))
	})

	t.Run("GET with no auth token -> unauthorized", func(t *testing.T) {
		v := NewTokenVerifier(cfg, "/answers", http.MethodGet)
		require.NotNil(t, v)

		req := httptest.NewRequest(http.MethodGet, "/answers", nil)

		require.False(t, v.Verify(req))
	})

	t.Run("GET with invalid auth token -> unauthorized", func(t *testing.T) {
		v := NewTokenVerifier(cfg, "/answers", http.MethodGet)
		require.NotNil(t, v)

		req := httptest.NewRequest(http.MethodGet, "/answers", nil)
		req.Header[authHeader] = []string{tokenPrefix + "INVALID_TOKEN"}

		require.False(t, v.Verify(req))
	})

	t.Run("Open access -> success", func(t *testing.T) {
		v := NewTokenVerifier(cfg, "/healthcheck", http.MethodGet)
		require.NotNil(t, v)

		req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)

		require.True(t, v.Verify(req))
	})
}
