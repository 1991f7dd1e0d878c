// Package secrets resolves "$secret" descriptors in configuration trees
// against an ordered chain of providers (file mount, environment, and any
// custom provider a caller registers), per spec.md §4.6.
package secrets

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Provider when it has no value for the
// requested secret name. The resolver treats this as "try the next
// provider", not a hard failure.
var ErrNotFound = errors.New("secret not found")

// FatalError wraps a provider error that must abort configuration load
// immediately rather than falling through to the next provider in the
// chain. Use this for conditions like permission-denied, where silently
// continuing could mask a misconfigured deployment.
type FatalError struct {
	Provider string
	Err      error
}

func (e *FatalError) Error() string {
	return "secrets: provider " + e.Provider + " failed fatally: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as a FatalError attributed to the given provider name.
func Fatal(provider string, err error) error {
	return &FatalError{Provider: provider, Err: err}
}

// Provider resolves a single named secret. Implementations must return
// ErrNotFound (or an error wrapping it) when the name is unknown, and a
// *FatalError when the failure must abort the whole resolution chain.
type Provider interface {
	// Name identifies the provider in error messages and audit metadata.
	Name() string
	// Get resolves a secret by its logical name.
	Get(ctx context.Context, name string) (string, error)
}
