package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/bbqsrc/robust/internal/domain"
	"github.com/bbqsrc/robust/pkg/protocol"
)

// HandlerFunc processes one envelope for one session. A returned error is
// mapped to a wire error reply or, when fatal, closes the connection.
type HandlerFunc func(ctx context.Context, s *Session, env protocol.Envelope) error

// Dispatcher routes an envelope by its type to a handler from a fixed
// table built at startup. An unknown type is an explicit error variant,
// never a lookup panic.
type Dispatcher struct {
	handlers map[string]HandlerFunc
}

// NewDispatcher builds the routing table.
func NewDispatcher(h *Handlers, auth *AuthService) *Dispatcher {
	return &Dispatcher{handlers: map[string]HandlerFunc{
		"ping":    h.HandlePing,
		"pong":    h.HandlePong,
		"message": h.HandleMessage,
		"join":    h.HandleJoin,
		"part":    h.HandlePart,
		"backlog": h.HandleBacklog,
		"option":  h.HandleOption,
		"auth":    auth.HandleAuth,
	}}
}

// Dispatch routes one envelope. Types with the private prefix and missing
// types are rejected before any lookup.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, env protocol.Envelope) error {
	t := env.Type()
	if t == "" || strings.HasPrefix(t, domain.PrivateTypePrefix) {
		return domain.ErrReservedType
	}
	h, ok := d.handlers[t]
	if !ok {
		return fmt.Errorf("%q: %w", t, domain.ErrUnknownType)
	}
	return h(ctx, s, env)
}
