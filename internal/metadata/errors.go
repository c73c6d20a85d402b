package metadata

import "errors"

// Errors returned by the metadata store.
var (
	ErrNotFound        = errors.New("project metadata not found")
	ErrCorruptMetadata = errors.New("project metadata corrupted")
	ErrNameMismatch    = errors.New("project metadata name mismatch")
	ErrInvalidMetadata = errors.New("invalid project metadata")
)
