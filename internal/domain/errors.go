package domain

import "errors"

// Sentinel errors for domain error conditions.
// Use errors.Is() for matching - never compare error strings.
var (
	// Protocol errors
	ErrParse        = errors.New("malformed frame")
	ErrReservedType = errors.New("no valid type specified")
	ErrUnknownType  = errors.New("no handler found for type")

	// Validation errors
	ErrInvalidMessage = errors.New("invalid message")
	ErrMissingTarget  = errors.New("no message target provided")
	ErrMissingBody    = errors.New("no message body provided")
	ErrUnknownOption  = errors.New("no such option")

	// Authorization errors
	ErrNotAuthenticated     = errors.New("authentication required")
	ErrAlreadyAuthenticated = errors.New("session already authenticated")
	ErrForbidden            = errors.New("permission denied")
	ErrBadCredentials       = errors.New("credential verification failed")

	// Resource errors
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")

	// ID validation errors
	ErrEmptyID   = errors.New("ID cannot be empty")
	ErrInvalidID = errors.New("invalid ID format")

	// Connection errors
	ErrHeartbeatTimeout = errors.New("heartbeat timed out")
	ErrSessionClosed    = errors.New("session closed")
	ErrSlowConsumer     = errors.New("client not consuming messages fast enough")

	// Challenge errors
	ErrChallengeNotFound = errors.New("no pending challenge for token")
	ErrChallengeExpired  = errors.New("challenge has expired")

	// Store errors
	ErrMissingTimestamp = errors.New("timestamp missing")

	// Configuration errors
	ErrConfigRequired = errors.New("required configuration key missing")
)

// WireText attaches an exact client-facing message to a sentinel. The
// returned error matches the sentinel under errors.Is but renders only
// the given text.
func WireText(sentinel error, text string) error {
	return &wireTextError{err: sentinel, text: text}
}

type wireTextError struct {
	err  error
	text string
}

func (e *wireTextError) Error() string { return e.text }
func (e *wireTextError) Unwrap() error { return e.err }

// validationErrors enumerates the errors produced by bad client input.
var validationErrors = []error{
	ErrReservedType,
	ErrUnknownType,
	ErrInvalidMessage,
	ErrMissingTarget,
	ErrMissingBody,
	ErrUnknownOption,
	ErrAlreadyAuthenticated,
	ErrForbidden,
	ErrBadCredentials,
	ErrNotFound,
	ErrEmptyID,
	ErrInvalidID,
}

// IsValidation returns true if the error represents bad or missing client
// input. Validation failures are recoverable: the session replies with an
// error and stays open with its state unchanged.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsRecoverable returns true if the error only fails the originating
// request's response cycle, leaving the connection open.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrParse) ||
		errors.Is(err, ErrNotAuthenticated) ||
		IsValidation(err)
}

// IsFatal returns true if the error must close the originating connection.
// Fatal errors never propagate past that connection's goroutines.
func IsFatal(err error) bool {
	return errors.Is(err, ErrHeartbeatTimeout) || errors.Is(err, ErrSessionClosed)
}
