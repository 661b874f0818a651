/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package exceptions

// Constructor creates a local exception from the message and traceback of a
// remote exception.
type Constructor func(message string, traceback Traceback) error

// Registry maps remote exception type names to local constructors. A Registry is
// populated at startup and must not be modified afterwards.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// DefaultRegistry returns a Registry populated with all of the exception types
// defined in this package.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(TypeInvalidInput, func(message string, traceback Traceback) error {
		return &InvalidInput{Exception{name: TypeInvalidInput, message: message, traceback: traceback}}
	})
	r.Register(TypeInvalidManifestContents, func(message string, traceback Traceback) error {
		return &InvalidManifestContents{Exception{name: TypeInvalidManifestContents, message: message, traceback: traceback}}
	})
	r.Register(TypeInvalidValuesContents, func(message string, traceback Traceback) error {
		return &InvalidValuesContents{Exception{name: TypeInvalidValuesContents, message: message, traceback: traceback}}
	})
	r.Register(TypeFileLocationError, func(message string, traceback Traceback) error {
		return &FileLocationError{Exception{name: TypeFileLocationError, message: message, traceback: traceback}}
	})
	r.Register(TypeServiceNotFound, func(message string, traceback Traceback) error {
		return &ServiceNotFound{Exception{name: TypeServiceNotFound, message: message, traceback: traceback}}
	})
	r.Register(TypeBackendNotFound, func(message string, traceback Traceback) error {
		return &BackendNotFound{Exception{name: TypeBackendNotFound, message: message, traceback: traceback}}
	})
	r.Register(TypeDeploymentError, func(message string, traceback Traceback) error {
		return &DeploymentError{Exception{name: TypeDeploymentError, message: message, traceback: traceback}}
	})
	r.Register(TypeInvalidMonitorMessage, func(message string, traceback Traceback) error {
		return &InvalidMonitorMessage{Exception{name: TypeInvalidMonitorMessage, message: message, traceback: traceback}}
	})
	r.Register(TypePushSubscriptionCannotBePulled, func(message string, traceback Traceback) error {
		return &PushSubscriptionCannotBePulled{Exception{name: TypePushSubscriptionCannotBePulled, message: message, traceback: traceback}}
	})

	return r
}

// Register adds a constructor for the given remote exception type name,
// replacing any existing constructor for that name.
func (r *Registry) Register(name string, c Constructor) {
	r.constructors[name] = c
}

// New reconstructs a remote exception from its type name, message and traceback.
// An unknown type name produces a generic Exception that preserves all three.
func (r *Registry) New(name, message string, traceback Traceback) error {
	if c, ok := r.constructors[name]; ok {
		return c(message, traceback)
	}

	return &Exception{name: name, message: message, traceback: traceback}
}
