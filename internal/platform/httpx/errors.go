package httpx

import (
	"errors"
	"net/http"

	"github.com/lattice-pm/lattice/internal/shared"
)

// Aliases so handlers can reference the taxonomy without importing shared.
var (
	ErrNotFound             = shared.ErrNotFound
	ErrDuplicate            = shared.ErrDuplicate
	ErrValidation           = shared.ErrValidation
	ErrUnauthorized         = shared.ErrUnauthorized
	ErrSignatureInvalid     = shared.ErrSignatureInvalid
	ErrProviderUnconfigured = shared.ErrProviderUnconfigured
	ErrProvider             = shared.ErrProvider
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrInvalidPeriod):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrSignatureInvalid):
		Problem(w, http.StatusUnauthorized, "Signature Invalid", err.Error())
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrProviderUnconfigured):
		Problem(w, http.StatusUnprocessableEntity, "Provider Unconfigured", err.Error())
	case errors.Is(err, shared.ErrProvider):
		Problem(w, http.StatusBadGateway, "Provider Error", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
