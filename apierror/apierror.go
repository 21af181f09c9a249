// Package apierror classifies the failures of the server into a small
// set of kinds and renders them as a stable json shape of
// {"kind": ..., "message": ...}.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine readable classification of an error
type Kind string

// Error kinds
const (
	Unauthenticated         Kind = "Unauthenticated"
	RefreshFailed           Kind = "RefreshFailed"
	MalformedToken          Kind = "MalformedToken"
	NoTenantConnected       Kind = "NoTenantConnected"
	CallbackExchangeFailed  Kind = "CallbackExchangeFailed"
	UpstreamValidationError Kind = "UpstreamValidationError"
	UpstreamTimeout         Kind = "UpstreamTimeout"
	UpstreamUnavailable     Kind = "UpstreamUnavailable"
	InvalidInput            Kind = "InvalidInput"
	NotFound                Kind = "NotFound"
	EmailTaken              Kind = "EmailTaken"
	InvalidCredentials      Kind = "InvalidCredentials"
	Forbidden               Kind = "Forbidden"
	Internal                Kind = "Internal"
)

// Error is a classified error. Err, if set, is the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so that
// errors.Is(err, apierror.New(apierror.NotFound, "")) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns a new classified error
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap classifies err. A nil err returns nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf reports the kind of the first classified error in err's chain,
// or Internal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err is classified as kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Status maps a kind to an http status code
func Status(kind Kind) int {
	switch kind {
	case Unauthenticated, RefreshFailed, InvalidCredentials:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case MalformedToken, NoTenantConnected, InvalidInput:
		return http.StatusBadRequest
	case CallbackExchangeFailed:
		return http.StatusBadGateway
	case UpstreamValidationError:
		return http.StatusUnprocessableEntity
	case UpstreamTimeout:
		return http.StatusGatewayTimeout
	case UpstreamUnavailable:
		return http.StatusServiceUnavailable
	case NotFound:
		return http.StatusNotFound
	case EmailTaken:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Body is the json shape of an error response
type Body struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// BodyOf returns the response body for err. Internal errors do not
// leak their cause.
func BodyOf(err error) Body {
	var e *Error
	if !errors.As(err, &e) {
		return Body{Kind: Internal, Message: "internal error"}
	}
	msg := e.Message
	if e.Kind != Internal && e.Err != nil && msg == "" {
		msg = e.Err.Error()
	}
	return Body{Kind: e.Kind, Message: msg}
}

// WriteJSON writes err to w as a json error body with the matching
// status code
func WriteJSON(w http.ResponseWriter, err error) {
	body := BodyOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(Status(body.Kind))
	_ = json.NewEncoder(w).Encode(body)
}
