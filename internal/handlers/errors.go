package handlers

import (
	"errors"
	"net/http"

	"github.com/rpiotaix/userbundle/internal/models"
	pkghttp "github.com/rpiotaix/userbundle/pkg/http"
)

// writeServiceError maps service errors onto HTTP responses. Anything not
// listed is reported as a generic 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		pkghttp.WriteValidationError(w, "Validation failed", validationDetails(err))
	case errors.Is(err, models.ErrDuplicate):
		pkghttp.WriteConflict(w, "Username or email already taken")
	case errors.Is(err, models.ErrDuplicateGroup):
		pkghttp.WriteConflict(w, "Group name already taken")
	case errors.Is(err, models.ErrInvalidToken):
		pkghttp.WriteNotFound(w, "Token is invalid or has already been used")
	case errors.Is(err, models.ErrExpiredToken):
		pkghttp.WriteGone(w, "Token has expired")
	case errors.Is(err, models.ErrInvalidCredentials),
		errors.Is(err, models.ErrAccountDisabled):
		// Same answer for both so callers cannot probe account state
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Account not found")
	case errors.Is(err, models.ErrRateLimited):
		pkghttp.WriteTooManyRequests(w, "Too many requests, please try again later")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
