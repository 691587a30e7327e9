// Package apierr defines the error-kind taxonomy shared across the state
// store, queue, and auth HTTP surfaces, and maps each kind to a status code
// and a response envelope.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Kind names one of the error classes and their propagation policy.
type Kind string

const (
	KindAuthentication Kind = "Authentication"
	KindAuthorization Kind = "Authorization"
	KindValidation Kind = "Validation"
	KindNotFound Kind = "NotFound"
	KindConflict Kind = "Conflict"
	KindTransient Kind = "Transient"
	KindCRDTReject Kind = "CRDTReject"
	KindStorage Kind = "Storage"
	KindFatal Kind = "Fatal"
	KindInternal Kind = "Internal"
)

var statusByKind = map[Kind]int{
	KindAuthentication: http.StatusUnauthorized,
	KindAuthorization: http.StatusForbidden,
	KindValidation: http.StatusBadRequest,
	KindNotFound: http.StatusNotFound,
	KindConflict: http.StatusConflict,
	KindTransient: http.StatusServiceUnavailable,
	KindCRDTReject: http.StatusOK, // dropped silently; never surfaced as caller-visible
	KindStorage: http.StatusInternalServerError,
	KindFatal: http.StatusInternalServerError,
	KindInternal: http.StatusInternalServerError,
}

// Error is the structured error type returned from handlers and wrapped
// internally with fmt.Errorf("...: %w", err).
type Error struct {
	Kind Kind
	Reason string
	wrapped error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.wrapped }

// Status returns the HTTP status code for this error's kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an Error of the given kind.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap constructs an Error of the given kind, preserving the cause for
// errors.Unwrap/errors.Is chains.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, wrapped: cause}
}

// Common sentinel constructors matching the named kinds in the design.
var (
	ErrMissingSignature = New(KindAuthentication, "signature is required")
	ErrInvalidSignatureForm = New(KindAuthentication, "invalid signature format")
	ErrInvalidSignature = New(KindAuthentication, "signature verification failed")
	ErrUnauthorizedPublicKey = New(KindAuthentication, "unauthorized public key")
	ErrTimestampExpired = New(KindAuthentication, "signature timestamp outside allowed window")
	ErrMessageMismatch = New(KindAuthentication, "signed message does not match this operation")
)

// KindOf extracts the Kind from err, defaulting to KindInternal if err is not
// (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// envelope is the {"Success":...} / {"Failure": {"reason":...}} shape from
// the design.
type envelope struct {
	Success any `json:"Success,omitempty"`
	Failure *failureMsg `json:"Failure,omitempty"`
}

type failureMsg struct {
	Reason string `json:"reason"`
}

// WriteSuccess writes the {"Success": payload} envelope.
func WriteSuccess(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(envelope{Success: payload})
}

// WriteError writes the {"Failure": {"reason":...}} envelope with the
// status code appropriate to err's Kind. Authentication failures never leak
// which sub-check failed beyond the Kind-level message.
func WriteError(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = New(KindInternal, "internal error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status())
	_ = json.NewEncoder(w).Encode(envelope{Failure: &failureMsg{Reason: e.Reason}})
}
