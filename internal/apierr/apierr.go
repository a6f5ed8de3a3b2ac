// Package apierr defines the gateway's client-facing error taxonomy.
// Every top-level error carries a stable machine-readable code, an
// HTTP status and a length-bounded human detail string. Raw upstream
// payloads are never echoed unclipped.
package apierr

import (
	"fmt"
	"net/http"
)

// Stable error codes.
const (
	CodeAuthRequired        = "auth_required"
	CodeAuthInvalid         = "auth_invalid"
	CodeAuthUnverifiedEmail = "auth_unverified_email"
	CodeEmailNotAllowed     = "auth_email_not_allowed"
	CodeDomainNotAllowed    = "auth_domain_not_allowed"
	CodeRoleNotAllowed      = "auth_role_not_allowed"

	CodeInvalidIdentifier     = "invalid_identifier"
	CodeTableNotAllowlisted   = "table_not_allowlisted"
	CodeRoleForbidden         = "role_forbidden"
	CodeUnsupportedFilterOp   = "unsupported_filter_operator"
	CodeFilterValueMismatch   = "filter_value_type_mismatch"
	CodeTooManyFilters        = "too_many_filters"
	CodeArrayValueOutOfRange  = "array_filter_value_out_of_range"
	CodeInvalidEmbedding      = "invalid_embedding"
	CodeInvalidRole           = "invalid_role"
	CodeMissingTarget         = "missing_target"
	CodeInvalidRequest        = "invalid_request"
	CodeMethodNotAllowed      = "method_not_allowed"
	CodeProviderNotConfigured = "provider_not_configured"
	CodeProviderHTTPError     = "provider_http_error"
	CodeProviderEmptyResponse = "provider_empty_response"
	CodeEmbeddingUnavailable  = "embedding_unavailable"
	CodeInternal              = "internal_error"
)

const maxDetailLen = 1200

// Error is a client-facing failure. Meta carries self-correction hints
// such as allowed tables or roles.
type Error struct {
	Status int            `json:"-"`
	Code   string         `json:"error"`
	Detail string         `json:"detail,omitempty"`
	Meta   map[string]any `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// New builds an Error, clipping the detail string.
func New(status int, code, format string, args ...any) *Error {
	return &Error{
		Status: status,
		Code:   code,
		Detail: Clip(fmt.Sprintf(format, args...), maxDetailLen),
	}
}

// WithMeta attaches self-correction metadata and returns the error.
func (e *Error) WithMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

func BadRequest(code, format string, args ...any) *Error {
	return New(http.StatusBadRequest, code, format, args...)
}

func Unauthorized(code, format string, args ...any) *Error {
	return New(http.StatusUnauthorized, code, format, args...)
}

func Forbidden(code, format string, args ...any) *Error {
	return New(http.StatusForbidden, code, format, args...)
}

func Upstream(code, format string, args ...any) *Error {
	return New(http.StatusBadGateway, code, format, args...)
}

func Internal(format string, args ...any) *Error {
	return New(http.StatusInternalServerError, CodeInternal, format, args...)
}

// Clip bounds a string to max runes-ish bytes with an ellipsis marker.
func Clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
