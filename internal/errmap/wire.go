// Package errmap converts domain errors to wire protocol error replies.
// Every recoverable domain error has an explicit subtype mapping; anything
// unmapped is reported as internal with the detail kept out of the reply.
package errmap

import (
	"errors"

	"github.com/bbqsrc/robust/internal/domain"
	"github.com/bbqsrc/robust/pkg/protocol"
)

// Error reply subtypes.
const (
	SubtypeParser         = "parser"
	SubtypeMessage        = "message"
	SubtypeAuthentication = "authentication"
	SubtypeInternal       = "internal"
)

// internalMessage is the only detail internal faults leak to the client;
// the full error goes to the log.
const internalMessage = "An internal server error has occurred."

// WireError is a subtype and client-safe message for an error reply.
type WireError struct {
	Subtype string
	Message string
}

// ToWire converts a domain error to its wire representation.
func ToWire(err error) WireError {
	switch {
	case errors.Is(err, domain.ErrParse):
		return WireError{Subtype: SubtypeParser, Message: err.Error()}

	case errors.Is(err, domain.ErrNotAuthenticated),
		errors.Is(err, domain.ErrBadCredentials),
		errors.Is(err, domain.ErrChallengeNotFound),
		errors.Is(err, domain.ErrChallengeExpired):
		return WireError{Subtype: SubtypeAuthentication, Message: err.Error()}

	case domain.IsValidation(err):
		return WireError{Subtype: SubtypeMessage, Message: err.Error()}

	default:
		return WireError{Subtype: SubtypeInternal, Message: internalMessage}
	}
}

// ToReply converts a domain error to a ready-to-send error envelope.
func ToReply(err error) protocol.Envelope {
	we := ToWire(err)
	return protocol.Error(we.Subtype, we.Message)
}
