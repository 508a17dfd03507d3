package core

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorMissingCredentials      = "USERHOOKS_MISSING_CREDENTIALS"
	ErrorSignatureInvalid        = "USERHOOKS_SIGNATURE_INVALID"
	ErrorTimestampOutOfTolerance = "USERHOOKS_TIMESTAMP_OUT_OF_TOLERANCE"
	ErrorMalformedEnvelope       = "USERHOOKS_MALFORMED_ENVELOPE"
	ErrorUnknownEventType        = "USERHOOKS_UNKNOWN_EVENT_TYPE"
	ErrorNoHandlerRegistered     = "USERHOOKS_NO_HANDLER_REGISTERED"
	ErrorDownstreamUnavailable   = "USERHOOKS_DOWNSTREAM_UNAVAILABLE"
	ErrorRunNotFound             = "USERHOOKS_RUN_NOT_FOUND"
	ErrorStepOrderMismatch       = "USERHOOKS_STEP_ORDER_MISMATCH"
	ErrorBadInput                = "USERHOOKS_BAD_INPUT"
	ErrorInternal                = "USERHOOKS_INTERNAL_ERROR"
)

// nonRetriableCodes are deterministic failures: the same input fails the same
// way on every attempt.
var nonRetriableCodes = []string{
	ErrorMissingCredentials,
	ErrorSignatureInvalid,
	ErrorTimestampOutOfTolerance,
	ErrorMalformedEnvelope,
	ErrorUnknownEventType,
	ErrorNoHandlerRegistered,
	ErrorRunNotFound,
	ErrorStepOrderMismatch,
	ErrorBadInput,
}

func newError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).WithCode(code).WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func MissingCredentials(message string, metadata map[string]any) *goerrors.Error {
	return newError(message, goerrors.CategoryAuth, http.StatusUnauthorized, ErrorMissingCredentials, metadata)
}

func SignatureInvalid(message string, metadata map[string]any) *goerrors.Error {
	return newError(message, goerrors.CategoryAuth, http.StatusUnauthorized, ErrorSignatureInvalid, metadata)
}

func TimestampOutOfTolerance(message string, metadata map[string]any) *goerrors.Error {
	return newError(message, goerrors.CategoryAuth, http.StatusUnauthorized, ErrorTimestampOutOfTolerance, metadata)
}

func MalformedEnvelope(message string, metadata map[string]any) *goerrors.Error {
	return newError(message, goerrors.CategoryBadInput, http.StatusBadRequest, ErrorMalformedEnvelope, metadata)
}

func UnknownEventType(eventType string) *goerrors.Error {
	return newError(
		"event type is not registered",
		goerrors.CategoryBadInput,
		http.StatusUnprocessableEntity,
		ErrorUnknownEventType,
		map[string]any{"event_type": eventType},
	)
}

func NoHandlerRegistered(eventType string) *goerrors.Error {
	return newError(
		"no handler registered for event type",
		goerrors.CategoryNotFound,
		http.StatusNotFound,
		ErrorNoHandlerRegistered,
		map[string]any{"event_type": eventType},
	)
}

func RunNotFound(runID string) *goerrors.Error {
	return newError("run not found", goerrors.CategoryNotFound, http.StatusNotFound, ErrorRunNotFound, map[string]any{"run_id": runID})
}

func StepOrderMismatch(step string, recorded int, declared int) *goerrors.Error {
	return newError(
		"recorded step position does not match declared order",
		goerrors.CategoryConflict,
		http.StatusConflict,
		ErrorStepOrderMismatch,
		map[string]any{"step": step, "recorded_position": recorded, "declared_position": declared},
	)
}

func BadInput(message string, metadata map[string]any) *goerrors.Error {
	return newError(message, goerrors.CategoryBadInput, http.StatusBadRequest, ErrorBadInput, metadata)
}

func Internal(message string, metadata map[string]any) *goerrors.Error {
	return newError(message, goerrors.CategoryInternal, http.StatusInternalServerError, ErrorInternal, metadata)
}

// DownstreamUnavailable wraps a transient collaborator failure so the run is
// suspended and retried.
func DownstreamUnavailable(err error, dependency string) *goerrors.Error {
	wrapped := goerrors.Wrap(err, goerrors.CategoryExternal, dependency+" unavailable").
		WithCode(http.StatusServiceUnavailable).
		WithTextCode(ErrorDownstreamUnavailable)
	wrapped.WithMetadata(map[string]any{"dependency": dependency})
	return wrapped
}

// NonRetriableError marks a failure that must terminate the run.
type NonRetriableError struct {
	Err error
}

func (e *NonRetriableError) Error() string {
	if e == nil || e.Err == nil {
		return "non-retriable failure"
	}
	return e.Err.Error()
}

func (e *NonRetriableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NonRetriable converts err into an explicit terminal signal. A nil error
// stays nil.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	var marked *NonRetriableError
	if errors.As(err, &marked) {
		return err
	}
	return &NonRetriableError{Err: err}
}

// IsNonRetriable reports whether err, or anything it wraps, is a terminal
// failure. Unclassified errors are retriable.
func IsNonRetriable(err error) bool {
	if err == nil {
		return false
	}
	var marked *NonRetriableError
	if errors.As(err, &marked) {
		return true
	}
	for current := err; current != nil; current = errors.Unwrap(current) {
		if rich, ok := current.(*goerrors.Error); ok && slices.Contains(nonRetriableCodes, strings.TrimSpace(rich.TextCode)) {
			return true
		}
	}
	return false
}

// HasTextCode reports whether err carries the given text code anywhere in its chain.
func HasTextCode(err error, textCode string) bool {
	for current := err; current != nil; current = errors.Unwrap(current) {
		if rich, ok := current.(*goerrors.Error); ok && rich.TextCode == textCode {
			return true
		}
	}
	return false
}

// IsAuthenticationCode reports whether textCode marks a delivery that failed
// signature verification.
func IsAuthenticationCode(textCode string) bool {
	switch textCode {
	case ErrorMissingCredentials, ErrorSignatureInvalid, ErrorTimestampOutOfTolerance:
		return true
	}
	return false
}

// TextCode returns the first rich error text code found in the chain.
func TextCode(err error) string {
	for current := err; current != nil; current = errors.Unwrap(current) {
		if rich, ok := current.(*goerrors.Error); ok && strings.TrimSpace(rich.TextCode) != "" {
			return rich.TextCode
		}
	}
	return ""
}

// MapError converts any error into a rich error envelope with a code and
// text code populated from its category.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	for current := err; current != nil; current = errors.Unwrap(current) {
		if rich, ok := current.(*goerrors.Error); ok {
			return ensureErrorEnvelope(rich)
		}
	}
	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	if IsNonRetriable(err) && mapped != nil && mapped.Category == goerrors.CategoryInternal {
		mapped.Category = goerrors.CategoryBadInput
	}
	return ensureErrorEnvelope(mapped)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorRunNotFound
	case goerrors.CategoryExternal:
		return ErrorDownstreamUnavailable
	default:
		return ErrorInternal
	}
}

func httpStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
