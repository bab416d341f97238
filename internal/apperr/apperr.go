// Package apperr classifies failures of the analysis flows so callers can
// pick the right user-visible message without inspecting transport details.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// User-visible copy.
const (
	TimeoutMessage         = "L'analyse prend trop de temps. Veuillez réessayer avec une image plus claire."
	GenericAnalysisMessage = "Erreur lors de l'analyse de l'image"
	GenericLearningMessage = "Erreur lors de l'apprentissage"
	GenericBackendMessage  = "Erreur inconnue"
	InFlightMessage        = "Une requête est déjà en cours, veuillez patienter."
)

// ErrInFlight rejects a request while another of the same kind is still
// outstanding for the session.
var ErrInFlight = errors.New("request already in flight")

// Kind names an error class in logs and the request journal.
type Kind string

const (
	KindNone       Kind = "ok"
	KindValidation Kind = "validation"
	KindTimeout    Kind = "timeout"
	KindTransport  Kind = "transport"
	KindBackend    Kind = "backend"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

// ValidationError is bad input detected before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError returns a *ValidationError for field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// TimeoutError is a backend call that exceeded its deadline.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
	Err       error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s: %v", e.Operation, e.Timeout, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// TransportError is a network failure or a non-2xx backend response.
// BackendMessage carries the backend's "error" text when the body had one.
type TransportError struct {
	Operation      string
	StatusCode     int
	BackendMessage string
	Err            error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.BackendMessage != "":
		return fmt.Sprintf("%s: status %d: %s", e.Operation, e.StatusCode, e.BackendMessage)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Operation, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// BackendReportedError is a 2xx response whose payload signals failure.
type BackendReportedError struct {
	Operation string
	Message   string
}

func (e *BackendReportedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: backend reported failure", e.Operation)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Message)
}

// KindOf classifies err. nil is KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var (
		validation *ValidationError
		timeout    *TimeoutError
		transport  *TransportError
		backend    *BackendReportedError
	)
	switch {
	case errors.Is(err, ErrInFlight):
		return KindConflict
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &timeout):
		return KindTimeout
	case errors.As(err, &transport):
		return KindTransport
	case errors.As(err, &backend):
		return KindBackend
	default:
		return KindInternal
	}
}

// UserMessage picks the message shown to the user. fallback is the flow's
// generic failure text.
func UserMessage(err error, fallback string) string {
	var (
		validation *ValidationError
		transport  *TransportError
		backend    *BackendReportedError
	)
	switch KindOf(err) {
	case KindNone:
		return ""
	case KindValidation:
		errors.As(err, &validation)
		return validation.Message
	case KindTimeout:
		return TimeoutMessage
	case KindConflict:
		return InFlightMessage
	case KindTransport:
		errors.As(err, &transport)
		if transport.BackendMessage != "" {
			return transport.BackendMessage
		}
		return fallback
	case KindBackend:
		errors.As(err, &backend)
		if backend.Message != "" {
			return backend.Message
		}
		return fallback
	default:
		return fallback
	}
}

// HTTPStatus maps err to the status the gateway answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNone:
		return http.StatusOK
	case KindValidation:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindTransport:
		return http.StatusBadGateway
	case KindBackend:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
