package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/kiranshivaraju/opsloop/internal/api/response"
	"github.com/kiranshivaraju/opsloop/pkg/models"
)

const maxBodyBytes = 64 * 1024

// requestValidate validates request DTOs. Initialized in init() with the
// custom "kind" rule.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("kind", validateKind)
}

func validateKind(fl validator.FieldLevel) bool {
	return models.Kind(fl.Field().String()).Valid()
}

// decodeBody decodes an optional JSON body into dst. An empty body leaves dst
// untouched.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// validationDetails maps each failing field to the rule it broke.
func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

// bind decodes and validates a request body, writing a 400 on failure.
func bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeBody(r, dst); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return false
	}
	if err := requestValidate.Struct(dst); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"Request validation failed", validationDetails(err))
		return false
	}
	return true
}
