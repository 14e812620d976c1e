package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors mapped to the HTTP status codes of spec.md §7.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("resource not found")
	ErrLeaseOwner  = errors.New("lease owner mismatch")
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrLeaseOwner):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a `{error: reason}` body with the status statusFor(err)
// maps it to, matching the teacher's controlplane error-to-status pattern.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// validationError wraps msg so statusFor maps it to 400.
func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
