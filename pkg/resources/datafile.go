/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package resources implements the data resources that services exchange
// alongside plain values: datafiles, datasets and the manifests that group
// them. Resources are serialised to JSON on the wire, and a manifest knows
// whether all of its data lives in cloud storage, which a service checks
// before sending it to a remote child.
package resources

import (
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CloudProtocol is the URI scheme prefix of cloud storage paths.
const CloudProtocol = "gs://"

// IsCloudPath returns true if the given path points into cloud storage.
func IsCloudPath(p string) bool {
	return strings.HasPrefix(p, CloudProtocol)
}

//nolint:gochecknoglobals
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC32C checksum of the given data, encoded the way
// cloud storage reports it: the big-endian digest in base64.
func Checksum(data []byte) string {
	digest := make([]byte, 4) //nolint:gomnd

	binary.BigEndian.PutUint32(digest, crc32.Checksum(data, castagnoli))

	return base64.StdEncoding.EncodeToString(digest)
}

// Datafile represents a single file of a dataset. The path may be local or a
// cloud storage path.
type Datafile struct {
	ID        string                 `json:"id"`
	Path      string                 `json:"path"`
	Timestamp *time.Time             `json:"timestamp"`
	Labels    []string               `json:"labels,omitempty"`
	Tags      map[string]interface{} `json:"tags,omitempty"`
	SizeBytes int64                  `json:"size_bytes,omitempty"`
	Checksum  string                 `json:"crc32c,omitempty"`
}

// NewDatafile returns a datafile for the given path, with its size and
// content checksum computed from the given data.
func NewDatafile(filePath string, data []byte) *Datafile {
	now := time.Now().UTC()

	return &Datafile{
		ID:        uuid.NewString(),
		Path:      filePath,
		Timestamp: &now,
		SizeBytes: int64(len(data)),
		Checksum:  Checksum(data),
	}
}

// Name returns the base name of the datafile's path.
func (d *Datafile) Name() string {
	return path.Base(d.Path)
}

// Extension returns the extension of the datafile's path, without the leading dot.
func (d *Datafile) Extension() string {
	return strings.TrimPrefix(path.Ext(d.Path), ".")
}

// IsInCloud returns true if the datafile lives in cloud storage.
func (d *Datafile) IsInCloud() bool {
	return IsCloudPath(d.Path)
}
