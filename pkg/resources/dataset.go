/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resources

import "github.com/google/uuid"

// Dataset is a group of related datafiles.
type Dataset struct {
	ID     string      `json:"id"`
	Name   string      `json:"name,omitempty"`
	Path   string      `json:"path"`
	Labels []string    `json:"labels,omitempty"`
	Files  []*Datafile `json:"files"`
}

// NewDataset returns a dataset at the given path containing the given files.
func NewDataset(name, datasetPath string, files ...*Datafile) *Dataset {
	return &Dataset{
		ID:    uuid.NewString(),
		Name:  name,
		Path:  datasetPath,
		Files: files,
	}
}

// IsInCloud returns true if the dataset lives in cloud storage.
func (d *Dataset) IsInCloud() bool {
	return IsCloudPath(d.Path)
}

// AllFilesAreInCloud returns true if every file of the dataset lives in cloud
// storage. A dataset with no files satisfies this trivially.
func (d *Dataset) AllFilesAreInCloud() bool {
	for _, f := range d.Files {
		if !f.IsInCloud() {
			return false
		}
	}

	return true
}
