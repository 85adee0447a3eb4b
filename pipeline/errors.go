package pipeline

import "errors"

// Error kinds of the control plane. The HTTP layer maps these 1:1 onto
// status codes; inside a transaction any of them rolls back the whole
// unit of work.
var (
	ErrValidation  = errors.New("pipeline: validation failed")
	ErrNotFound    = errors.New("pipeline: not found")
	ErrConflict    = errors.New("pipeline: conflict")
	ErrForbidden   = errors.New("pipeline: forbidden")
	ErrUnavailable = errors.New("pipeline: unavailable")
)
