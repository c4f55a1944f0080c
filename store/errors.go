package store

import "errors"

// Path errors are returned before any mutation takes place.
var (
	ErrPath       = errors.New("invalid store path")
	ErrEmptyValue = errors.New("values must be a non-empty sequence")
)

// Read and replay errors
var (
	ErrUnknownCursor = errors.New("unknown cursor value")
	ErrNotSingle     = errors.New("value is not a single object")
	ErrUnknownMethod = errors.New("unknown journal method")
)
