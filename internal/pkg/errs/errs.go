package errs

import "errors"

// Kind classifies engine errors so the routing layer can map them to
// transport-level codes without inspecting messages.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindGateway       Kind = "gateway"
	KindPersistence   Kind = "persistence"
)

// Error carries a user-visible message plus the underlying cause for
// diagnostics. The cause is never part of the user-visible message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(message string) error {
	return &Error{Kind: KindValidation, Message: message}
}

func Authorization(message string) error {
	return &Error{Kind: KindAuthorization, Message: message}
}

func NotFound(message string) error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Conflict(message string) error {
	return &Error{Kind: KindConflict, Message: message}
}

// Gateway normalizes payment-processor failures (timeouts, rate limits,
// 4xx/5xx responses) behind a generic user-visible message.
func Gateway(message string, cause error) error {
	if message == "" {
		message = "billing provider request failed"
	}
	return &Error{Kind: KindGateway, Message: message, Err: cause}
}

// Persistence wraps store failures behind a generic user-visible message.
func Persistence(cause error) error {
	return &Error{Kind: KindPersistence, Message: "internal storage error", Err: cause}
}

// KindOf returns the kind of err, or empty when err is not an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
