/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package config loads the YAML configuration of a service: its identity, its
// app's twine and configuration values, the backend it communicates over, the
// children it may ask questions of, and the settings of its HTTP server and
// observability providers.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/trustbloc/logutil-go/pkg/log"
	"gopkg.in/yaml.v3"

	logfields "github.com/octue/octue-sdk-go/internal/pkg/log"
	"github.com/octue/octue-sdk-go/pkg/backend"
)

var logger = log.New("config")

// Conventional file names.
const (
	DefaultPath      = "octue.yaml"
	DefaultTwineFile = "twine.json"
)

// Config is the configuration of a service.
type Config struct {
	Service  Service                `yaml:"service"`
	App      App                    `yaml:"app"`
	Backend  map[string]interface{} `yaml:"backend"`
	Children map[string]Child       `yaml:"children"`
	HTTP     HTTP                   `yaml:"http"`
	TLS      TLS                    `yaml:"tls"`
	Metrics  Metrics                `yaml:"metrics"`
	Tracing  Tracing                `yaml:"tracing"`

	dir string
}

// Service identifies the service.
type Service struct {
	// Name is the human-readable name of the service.
	Name string `yaml:"name"`

	// ID is the ID of the service. When empty, an ID is composed from the
	// namespace and name, or generated if those are not set either.
	ID string `yaml:"id"`

	// Namespace is the organisation namespace the service belongs to.
	Namespace string `yaml:"namespace"`
}

// App configures the service's app.
type App struct {
	// Twine is the path of the app's twine file, relative to the
	// configuration file unless absolute.
	Twine string `yaml:"twine"`

	// ConfigurationValues holds the configuration values handed to every
	// analysis. They must conform to the twine.
	ConfigurationValues interface{} `yaml:"configuration_values"`
}

// Child describes a child service that can be asked questions, keyed in the
// configuration by a name local to this service.
type Child struct {
	// ID is the ID of the child service.
	ID string `yaml:"id"`

	// Backend describes the backend the child communicates over. When empty,
	// the service's own backend is used.
	Backend map[string]interface{} `yaml:"backend"`
}

// HTTP configures the service's HTTP server.
type HTTP struct {
	// BindAddress is the address the HTTP server listens on. When empty, no
	// HTTP server is started.
	BindAddress string `yaml:"bind_address"`

	// TLSCertFile and TLSKeyFile make the server serve TLS when both are set.
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`

	// PushEndpoint is the path questions are pushed to by the broker. When
	// set, the service serves its questions in push mode through this
	// endpoint instead of pulling from its server subscription.
	PushEndpoint string `yaml:"push_endpoint"`

	// ExternalEndpoint is the base URL at which the HTTP server is reachable
	// from outside, e.g. "https://my-service.example.com". Push subscriptions
	// are registered at ExternalEndpoint + PushEndpoint.
	ExternalEndpoint string `yaml:"external_endpoint"`
}

// TLS configures the certificate authorities trusted for outbound broker
// connections.
type TLS struct {
	// SystemCertPool adds the system certificate pool when true.
	SystemCertPool bool `yaml:"system_cert_pool"`

	// CACerts lists paths of additional CA certificates to trust.
	CACerts []string `yaml:"ca_certs"`
}

// Metrics selects the metrics provider.
type Metrics struct {
	// Provider is the name of the metrics provider ("prometheus"), or empty
	// or "none" for no metrics.
	Provider string `yaml:"provider"`
}

// Tracing selects the tracing provider.
type Tracing struct {
	// Provider is the name of the tracing provider ("jaeger"), or empty or
	// "none" for no tracing.
	Provider string `yaml:"provider"`

	// CollectorURL is the URL traces are exported to.
	CollectorURL string `yaml:"collector_url"`

	// ServiceName is the name traces are recorded under. Defaults to the
	// service's name.
	ServiceName string `yaml:"service_name"`
}

// Load reads the service configuration from the given YAML file. Relative
// paths inside the configuration are interpreted relative to the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("configuration [%s]: %w", path, err)
	}

	cfg.dir = filepath.Dir(path)

	logger.Info("Loaded service configuration.", logfields.WithPath(path))

	return cfg, nil
}

// Parse returns the service configuration described by the given YAML
// document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	for key, child := range cfg.Children {
		if child.ID == "" {
			return nil, fmt.Errorf("child %q has no id", key)
		}
	}

	return cfg, nil
}

// ServiceID returns the ID the service should be constructed with: the
// configured ID if there is one, otherwise one composed from the namespace
// and name, otherwise empty (in which case the service generates one).
func (c *Config) ServiceID() string {
	if c.Service.ID != "" {
		return c.Service.ID
	}

	if c.Service.Namespace != "" && c.Service.Name != "" {
		return c.Service.Namespace + "/" + c.Service.Name
	}

	return ""
}

// TwinePath returns the path of the app's twine file.
func (c *Config) TwinePath() string {
	p := c.App.Twine
	if p == "" {
		p = DefaultTwineFile
	}

	if !filepath.IsAbs(p) && c.dir != "" {
		p = filepath.Join(c.dir, p)
	}

	return p
}

// ResolveBackend returns the descriptor of the configured backend. A
// configuration without a backend block gets the in-memory backend.
func (c *Config) ResolveBackend() (backend.Backend, error) {
	if len(c.Backend) == 0 {
		return &backend.InMemory{}, nil
	}

	return backend.FromMap(c.Backend)
}

// Child returns the child declared under the given key.
func (c *Config) Child(key string) (Child, error) {
	child, ok := c.Children[key]
	if !ok {
		keys := make([]string, 0, len(c.Children))

		for k := range c.Children {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		return Child{}, fmt.Errorf("no child with key %q in the configuration; the declared children are %v", key, keys)
	}

	return child, nil
}
