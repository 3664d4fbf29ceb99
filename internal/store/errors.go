package store

import "errors"

var (
	// ErrHandleInvalid reports an operation on a closed or
	// never-created store handle.
	ErrHandleInvalid = errors.New("invalid store handle")

	// ErrUnknownBackend reports an unrecognized backend kind.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrMissingPath reports an on-disk backend created without a
	// "path" option.
	ErrMissingPath = errors.New("backend requires a path option")
)
