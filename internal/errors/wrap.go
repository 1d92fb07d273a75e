package errors

import "errors"

// Re-exports so callers importing this package under its own name still
// reach the standard helpers.
var (
	Is  = errors.Is
	As  = errors.As
	New = errors.New
)
