// Package store implements the tenant-scoped entity stores on top of GORM.
package store

import "errors"

// Sentinel errors returned by the stores. Handlers map these onto protocol
// status codes at the transport boundary.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrValidation is returned when caller-supplied parameters are
	// malformed or incomplete.
	ErrValidation = errors.New("invalid parameters")
)

// deleteBatchSize is how many rows bulk teardown operations remove per page.
const deleteBatchSize = 500
