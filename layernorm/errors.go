package layernorm

import "errors"

// Error kinds reported by the call-boundary validation. Callers can match
// them with errors.Is.
var (
	// ErrInvalidArgument covers configuration errors: shapes that do not
	// match the instance's M and N, non-positive dimensions or eps, and
	// missing required buffers. Validation runs before any launch.
	ErrInvalidArgument = errors.New("layernorm: invalid argument")

	// ErrAllocationFailure is reported at construction time when the
	// scratch buffers cannot be sized. No partial state is retained.
	ErrAllocationFailure = errors.New("layernorm: allocation failure")
)
