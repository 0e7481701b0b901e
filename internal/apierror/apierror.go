// Package apierror defines the rejection envelope every pipeline stage and
// handler produces. Authentication and authorization failures share the same
// shape on purpose: probes cannot tell which routes exist from the body alone,
// only the code field differs.
package apierror

import (
	"encoding/json"
	"net/http"

	"github.com/volcanicminds/volcanic-backend/internal/observability"
)

// Rejection codes.
const (
	CodeTenantMissing     = "TENANT_MISSING"
	CodeTenantNotFound    = "TENANT_NOT_FOUND"
	CodeTenantInactive    = "TENANT_INACTIVE"
	CodeTenantMismatch    = "TENANT_MISMATCH"
	CodeInvalidCredential = "INVALID_CREDENTIAL"
	CodeMFARequired       = "MFA_REQUIRED"
	CodeUserNotValid      = "USER_NOT_VALID"
	CodeTokenNotValid     = "TOKEN_NOT_VALID"
	CodeSubjectNotFound   = "SUBJECT_NOT_FOUND"
	CodeForbidden         = "FORBIDDEN"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeInternal          = "INTERNAL"
)

// Error is the wire shape of a rejection.
type Error struct {
	StatusCode int    `json:"statusCode"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// New builds a rejection value.
func New(statusCode int, code, message string) *Error {
	return &Error{StatusCode: statusCode, Code: code, Message: message}
}

// Write sends a rejection as JSON. Internal details never reach the client;
// callers log them and pass a generic message here.
func Write(w http.ResponseWriter, statusCode int, code, message string) {
	observability.RejectionsTotal.WithLabelValues(code).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(Error{StatusCode: statusCode, Code: code, Message: message})
}

// WriteErr sends a rejection value.
func WriteErr(w http.ResponseWriter, err *Error) {
	Write(w, err.StatusCode, err.Code, err.Message)
}
