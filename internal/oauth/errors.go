package oauth

import (
	"encoding/json"
	"net/http"
)

// ErrorKind is the closed OAuth 2.1 error vocabulary surfaced to clients.
type ErrorKind string

const (
	ErrInvalidRequest       ErrorKind = "invalid_request"
	ErrInvalidClient        ErrorKind = "invalid_client"
	ErrInvalidGrant         ErrorKind = "invalid_grant"
	ErrUnauthorizedClient   ErrorKind = "unauthorized_client"
	ErrUnsupportedGrantType ErrorKind = "unsupported_grant_type"
	ErrInvalidScope         ErrorKind = "invalid_scope"

	// ErrServerError covers unexpected internal failures. It maps to 500 and
	// never leaks internals to the caller.
	ErrServerError ErrorKind = "server_error"
)

// Error is an OAuth protocol error. Every failure path in this package
// returns one, so call sites are forced to handle the taxonomy instead of
// catching generic errors.
type Error struct {
	Kind        ErrorKind
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Description
}

// NewError builds a protocol error of the given kind.
func NewError(kind ErrorKind, description string) *Error {
	return &Error{Kind: kind, Description: description}
}

// HTTPStatus maps the error kind to its HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case ErrServerError:
		return http.StatusInternalServerError
	case ErrInvalidClient:
		// RFC 6749 §5.2: invalid_client MAY use 401; we keep 400 for body
		// errors and reserve 401 for the bearer challenge on the protected
		// endpoint.
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}

// errorBody is the JSON wire shape of a token-endpoint error.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteHTTP writes the error as the standard OAuth JSON response.
func (e *Error) WriteHTTP(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(e.HTTPStatus())

	body := errorBody{Error: string(e.Kind), ErrorDescription: e.Description}
	if e.Kind == ErrServerError {
		// Internal details are logged by the caller, not surfaced.
		body.ErrorDescription = ""
	}
	_ = json.NewEncoder(w).Encode(body)
}
