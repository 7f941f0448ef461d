// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates malformed input (trigger payloads, repository refs).
var ErrValidation = errors.New("validation failed")

// ErrConfig indicates the runtime configuration is incomplete or invalid.
// It is always raised before any network call is made.
var ErrConfig = errors.New("invalid configuration")
