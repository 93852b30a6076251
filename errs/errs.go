// Package errs defines the error taxonomy shared by every package.
package errs

import "errors"

var (
	// ErrNotFound marks an expected file or resource that is missing.
	// Callers decide whether that is recoverable.
	ErrNotFound = errors.New("not found")

	// ErrMalformedData marks a parse or decode failure.
	ErrMalformedData = errors.New("malformed data")

	// ErrConfiguration marks inconsistent user-supplied settings, such as an
	// inverted loop range or a gas source placed outside the environment.
	ErrConfiguration = errors.New("configuration error")
)
