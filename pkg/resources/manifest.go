/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resources

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/octue/octue-sdk-go/pkg/exceptions"
)

// Manifest groups the datasets coming into or leaving a service for an
// analysis, keyed by the names declared in the service's twine.
type Manifest struct {
	ID       string              `json:"id"`
	Name     string              `json:"name,omitempty"`
	Datasets map[string]*Dataset `json:"datasets"`
}

// NewManifest returns a manifest containing the given datasets.
func NewManifest(datasets map[string]*Dataset) *Manifest {
	if datasets == nil {
		datasets = make(map[string]*Dataset)
	}

	return &Manifest{
		ID:       uuid.NewString(),
		Datasets: datasets,
	}
}

// Dataset returns the dataset held under the given key.
func (m *Manifest) Dataset(key string) (*Dataset, error) {
	dataset, ok := m.Datasets[key]
	if !ok {
		return nil, exceptions.NewInvalidInput(
			"Attempted to fetch unknown dataset %q from manifest. Allowable keys are: %v", key, m.keys())
	}

	return dataset, nil
}

// AllDatasetsAreInCloud returns true if all of the files of all of the
// manifest's datasets live in cloud storage. A manifest with no datasets
// satisfies this trivially.
func (m *Manifest) AllDatasetsAreInCloud() bool {
	for _, d := range m.Datasets {
		if !d.AllFilesAreInCloud() {
			return false
		}
	}

	return true
}

// Serialise returns the manifest as a JSON document.
func (m *Manifest) Serialise() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}

	return string(data), nil
}

// FromSerialised returns the manifest encoded in the given JSON document.
func FromSerialised(data string) (*Manifest, error) {
	m := &Manifest{}

	if err := json.Unmarshal([]byte(data), m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}

	if m.Datasets == nil {
		m.Datasets = make(map[string]*Dataset)
	}

	return m, nil
}

func (m *Manifest) keys() []string {
	keys := make([]string, 0, len(m.Datasets))

	for key := range m.Datasets {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
