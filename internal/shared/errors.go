package shared

import "errors"

// Domain sentinel errors. Handlers map these to HTTP statuses via
// httpx.RespondError; services wrap them with %w and context.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a uniqueness conflict.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrValidation indicates a rejected request or state transition.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized indicates a caller without access.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSignatureInvalid indicates a webhook that failed verification.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrProviderUnconfigured indicates a building without usable gateway credentials.
	ErrProviderUnconfigured = errors.New("payment provider not configured")
	// ErrProvider indicates a failed remote gateway call.
	ErrProvider = errors.New("payment provider call failed")
	// ErrAlreadyRan indicates a periodic job already completed for the period.
	ErrAlreadyRan = errors.New("job already ran for period")
	// ErrInvalidPeriod indicates a malformed billing period key.
	ErrInvalidPeriod = errors.New("invalid billing period")
)
