/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package tlsutil

import (
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
)

// GetCertPool returns a certificate pool holding the CA certificates read from the given
// PEM files, optionally on top of the system certificate pool.
func GetCertPool(useSystemCertPool bool, tlsCACerts []string) (*x509.CertPool, error) {
	certPool, err := newCertPool(useSystemCertPool)
	if err != nil {
		return nil, fmt.Errorf("create certificate pool: %w", err)
	}

	for _, certPath := range tlsCACerts {
		pemBytes, err := os.ReadFile(filepath.Clean(certPath))
		if err != nil {
			return nil, fmt.Errorf("read CA certificate [%s]: %w", certPath, err)
		}

		if !certPool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("no CA certificate found in [%s]", certPath)
		}
	}

	return certPool, nil
}

func newCertPool(useSystemCertPool bool) (*x509.CertPool, error) {
	if !useSystemCertPool {
		return x509.NewCertPool(), nil
	}

	return x509.SystemCertPool()
}
