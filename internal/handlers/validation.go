package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rpiotaix/userbundle/internal/models"
	pkghttp "github.com/rpiotaix/userbundle/pkg/http"
	"github.com/rpiotaix/userbundle/pkg/validation"
)

// ValidateRequest validates a request DTO against its validate tags
func ValidateRequest(req interface{}) error {
	return validation.Struct(req)
}

// normalizer is implemented by requests whose fields are cleaned up before validation
type normalizer interface {
	normalize()
}

// decodeAndValidate reads the JSON body into dst and applies its rules.
// On failure the error response is already written.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := pkghttp.DecodeJSON(w, r, dst); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}
	if n, ok := dst.(normalizer); ok {
		n.normalize()
	}
	if err := ValidateRequest(dst); err != nil {
		pkghttp.WriteValidationError(w, "Validation failed", err.Error())
		return false
	}
	return true
}

// validationDetails strips the sentinel prefix from a wrapped ErrValidation
func validationDetails(err error) string {
	var fe *validation.FieldError
	if errors.As(err, &fe) {
		return fe.Error()
	}
	return strings.TrimPrefix(err.Error(), models.ErrValidation.Error()+": ")
}
