package domain

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Identifiers on the wire are opaque 32-character lowercase hex strings
// (a UUID rendered without separators).

const hexIDLength = 32

func newHexValue() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

func validateHexValue(raw string) error {
	if raw == "" {
		return ErrEmptyID
	}
	if len(raw) != hexIDLength {
		return fmt.Errorf("ID %q is not %d characters: %w", raw, hexIDLength, ErrInvalidID)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return fmt.Errorf("ID %q is not hex: %w", raw, ErrInvalidID)
	}
	return nil
}

// SessionID is a value object identifying a live connection's session.
// Always valid in memory - use NewSessionID or GenerateSessionID.
type SessionID struct {
	value string
}

// NewSessionID creates a SessionID from a raw string, validating its shape.
func NewSessionID(raw string) (SessionID, error) {
	if err := validateHexValue(raw); err != nil {
		return SessionID{}, err
	}
	return SessionID{value: raw}, nil
}

// GenerateSessionID creates a new random SessionID.
func GenerateSessionID() SessionID {
	return SessionID{value: newHexValue()}
}

func (id SessionID) String() string { return id.value }
func (id SessionID) IsZero() bool   { return id.value == "" }

// UserID is a value object identifying a stored user.
type UserID struct {
	value string
}

// NewUserID creates a UserID from a raw string, validating its shape.
func NewUserID(raw string) (UserID, error) {
	if err := validateHexValue(raw); err != nil {
		return UserID{}, err
	}
	return UserID{value: raw}, nil
}

// MustUserID creates a UserID, panicking on invalid input. Use only in tests.
func MustUserID(raw string) UserID {
	id, err := NewUserID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateUserID creates a new random UserID.
func GenerateUserID() UserID {
	return UserID{value: newHexValue()}
}

func (id UserID) String() string { return id.value }
func (id UserID) IsZero() bool   { return id.value == "" }

// MessageID is a value object identifying a persisted message.
type MessageID struct {
	value string
}

// NewMessageID creates a MessageID from a raw string, validating its shape.
func NewMessageID(raw string) (MessageID, error) {
	if err := validateHexValue(raw); err != nil {
		return MessageID{}, err
	}
	return MessageID{value: raw}, nil
}

// GenerateMessageID creates a new random MessageID.
func GenerateMessageID() MessageID {
	return MessageID{value: newHexValue()}
}

func (id MessageID) String() string { return id.value }
func (id MessageID) IsZero() bool   { return id.value == "" }

// Nonce is the opaque value correlating an issued auth challenge to the
// session awaiting its result.
type Nonce struct {
	value string
}

// NewNonce creates a Nonce from a raw string, validating its shape.
func NewNonce(raw string) (Nonce, error) {
	if err := validateHexValue(raw); err != nil {
		return Nonce{}, err
	}
	return Nonce{value: raw}, nil
}

// GenerateNonce creates a new random Nonce.
func GenerateNonce() Nonce {
	return Nonce{value: newHexValue()}
}

func (n Nonce) String() string { return n.value }
func (n Nonce) IsZero() bool   { return n.value == "" }
