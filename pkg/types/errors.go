package types

import "errors"

// Error taxonomy. Callers wrap these with fmt.Errorf("...: %w", Err...) and
// test with errors.Is.
var (
	// ErrConfiguration marks malformed or inconsistent category or manifest
	// definitions. It is fatal and aborts before any file is written.
	ErrConfiguration = errors.New("configuration error")

	// ErrDatasetFormat marks missing required fields or non-positive image
	// dimensions. It is fatal for the affected image only.
	ErrDatasetFormat = errors.New("dataset format error")

	// ErrOrphanedReference marks an annotation or label that references an
	// image that does not exist. It is always recoverable.
	ErrOrphanedReference = errors.New("orphaned reference")

	// ErrSplitIntegrity marks an image/label count mismatch after relocation.
	// Relocation halts; completed moves are not rolled back.
	ErrSplitIntegrity = errors.New("split integrity error")
)

// Run-level errors.
var (
	ErrNothingConverted = errors.New("no annotations were converted")
	ErrDatasetRootUnset = errors.New("dataset root is not set")
	ErrInvalidMode      = errors.New("invalid remediation mode")
)
