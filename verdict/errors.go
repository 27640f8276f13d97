package verdict

import (
	"errors"

	"github.com/claritylab/claritylab/backend"
)

// Validation errors. They describe a bad submission and are safe to show to
// the user as is.
var (
	ErrEmptyInput     = errors.New("please enter text or upload an image")
	ErrAmbiguousInput = errors.New("please enter text or upload an image, not both")
	ErrInvalidImage   = errors.New("the uploaded file is not a readable image")
)

// Operational errors. They mean a backend misbehaved or took too long.
var (
	ErrBackendUnavailable = backend.ErrUnavailable
	ErrContractViolation  = errors.New("backend returned an unexpected result")
	ErrTimeout            = errors.New("classification timed out")
)

// IsValidation reports whether err was caused by the submission itself.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyInput) ||
		errors.Is(err, ErrAmbiguousInput) ||
		errors.Is(err, ErrInvalidImage)
}

// IsOperational reports whether err should be looked at by an operator.
func IsOperational(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrContractViolation) ||
		errors.Is(err, ErrTimeout)
}

// Code returns a stable identifier for err, suitable for API responses and
// metric labels.
func Code(err error) string {
	switch {
	case err == nil:
		return "OK"
	case errors.Is(err, ErrEmptyInput):
		return "EMPTY_INPUT"
	case errors.Is(err, ErrAmbiguousInput):
		return "AMBIGUOUS_INPUT"
	case errors.Is(err, ErrInvalidImage):
		return "INVALID_IMAGE"
	case errors.Is(err, ErrBackendUnavailable):
		return "BACKEND_UNAVAILABLE"
	case errors.Is(err, ErrContractViolation):
		return "BACKEND_CONTRACT_VIOLATION"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	default:
		return "INTERNAL_ERROR"
	}
}
