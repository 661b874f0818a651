/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpserver

import "net/http"

// HTTPRequestHandler handles an HTTP request.
type HTTPRequestHandler func(w http.ResponseWriter, req *http.Request)

// HTTPHandler defines a REST endpoint along with the path and method that it
// is bound to.
type HTTPHandler interface {
	Path() string
	Method() string
	Handler() HTTPRequestHandler
}
