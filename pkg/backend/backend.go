/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package backend defines the descriptors of the transport backends that a
// service can communicate over. A descriptor never stores credentials
// directly; it carries the name of the environment variable that holds them.
package backend

import (
	"encoding/json"
	"fmt"

	"github.com/octue/octue-sdk-go/pkg/exceptions"
)

// Names of the available backend types.
const (
	TypeGCPPubSub = "GCPPubSubBackend"
	TypeRabbitMQ  = "RabbitMQBackend"
	TypeInMemory  = "InMemoryBackend"
)

// Default names of the environment variables holding backend credentials.
const (
	DefaultGCPCredentialsEnvironmentVariable = "GOOGLE_APPLICATION_CREDENTIALS"
	DefaultRabbitMQURIEnvironmentVariable    = "RABBITMQ_URI"
)

// Backend is implemented by all service backend descriptors.
type Backend interface {
	// Type returns the name of the backend type.
	Type() string
}

// GCPPubSub contains the details needed to use Google Cloud Pub/Sub as a
// service backend.
type GCPPubSub struct {
	ProjectName                    string `json:"project_name"`
	CredentialsEnvironmentVariable string `json:"credentials_environment_variable,omitempty"`
}

// Type returns the name of the backend type.
func (b *GCPPubSub) Type() string {
	return TypeGCPPubSub
}

// RabbitMQ contains the details needed to use a RabbitMQ broker as a service
// backend. The broker URI carries the credentials and so is itself read from
// an environment variable.
type RabbitMQ struct {
	URIEnvironmentVariable string `json:"uri_environment_variable,omitempty"`
}

// Type returns the name of the backend type.
func (b *RabbitMQ) Type() string {
	return TypeRabbitMQ
}

// InMemory describes the in-memory bus used for tests and local runs. It
// needs no credentials.
type InMemory struct{}

// Type returns the name of the backend type.
func (b *InMemory) Type() string {
	return TypeInMemory
}

// Types returns the names of all available backend types.
func Types() []string {
	return []string{TypeGCPPubSub, TypeRabbitMQ, TypeInMemory}
}

// FromJSON returns the backend described by the given JSON document, selected
// by the document's name field.
func FromJSON(data []byte) (Backend, error) {
	var probe struct {
		Name string `json:"name"`
	}

	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("unmarshal backend: %w", err)
	}

	switch probe.Name {
	case TypeGCPPubSub:
		b := &GCPPubSub{}
		if err := json.Unmarshal(data, b); err != nil {
			return nil, fmt.Errorf("unmarshal backend %s: %w", TypeGCPPubSub, err)
		}

		if b.CredentialsEnvironmentVariable == "" {
			b.CredentialsEnvironmentVariable = DefaultGCPCredentialsEnvironmentVariable
		}

		return b, nil

	case TypeRabbitMQ:
		b := &RabbitMQ{}
		if err := json.Unmarshal(data, b); err != nil {
			return nil, fmt.Errorf("unmarshal backend %s: %w", TypeRabbitMQ, err)
		}

		if b.URIEnvironmentVariable == "" {
			b.URIEnvironmentVariable = DefaultRabbitMQURIEnvironmentVariable
		}

		return b, nil

	case TypeInMemory:
		return &InMemory{}, nil

	default:
		return nil, exceptions.NewBackendNotFound(
			"Backend with name %s not found. Available backends are %v", probe.Name, Types())
	}
}

// FromMap returns the backend described by the given configuration block,
// selected by its name key. The block typically comes from a parsed
// configuration file or a child registry entry.
func FromMap(m map[string]interface{}) (Backend, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal backend block: %w", err)
	}

	return FromJSON(data)
}
