/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package credentials supplies transport credentials to the runtime. Backend
// descriptors never store credentials directly; they carry the name under
// which a provider holds them.
package credentials

import "os"

// Provider supplies raw credentials by name. A provider returns false for a
// name it holds no credentials for, in which case the transport falls back to
// its platform's default credentials.
type Provider interface {
	Credentials(name string) ([]byte, bool)
}

// EnvProvider reads credentials from environment variables. The value of the
// variable is the credential itself (e.g. a service account JSON document or a
// broker URI); the provider never reads the filesystem.
type EnvProvider struct{}

// Credentials returns the value of the environment variable with the given name.
func (EnvProvider) Credentials(name string) ([]byte, bool) {
	if name == "" {
		return nil, false
	}

	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil, false
	}

	return []byte(v), true
}

// StaticProvider holds fixed credentials in memory, keyed by name.
type StaticProvider map[string][]byte

// Credentials returns the credentials held under the given name.
func (p StaticProvider) Credentials(name string) ([]byte, bool) {
	v, ok := p[name]

	return v, ok
}
