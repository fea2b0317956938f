package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bbqsrc/robust/internal/domain"
	"github.com/bbqsrc/robust/pkg/protocol"
)

// Registry is the process-wide table of live sessions. Register and
// Unregister are idempotent and only invoked from connection open and
// close.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[domain.SessionID]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger,
		sessions: make(map[domain.SessionID]*Session),
	}
}

// Register adds a session.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

// Unregister removes a session by ID. Unknown IDs are a no-op.
func (r *Registry) Unregister(id domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the session with the given ID.
func (r *Registry) Get(id domain.SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Broadcast fans v out to every registered session except exclude. Each
// delivery is independent and best-effort: a recipient with a full queue
// drops the frame rather than delay the rest.
func (r *Registry) Broadcast(exclude domain.SessionID, v any) {
	buf, err := protocol.Marshal(v)
	if err != nil {
		r.logger.Error("broadcast encode failed", slog.String("error", err.Error()))
		return
	}

	r.mu.RLock()
	recipients := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		if id == exclude {
			continue
		}
		recipients = append(recipients, s)
	}
	r.mu.RUnlock()

	for _, s := range recipients {
		if err := s.trySendRaw(buf); err != nil {
			broadcastDropsTotal.Add(context.Background(), 1)
			r.logger.Warn("broadcast frame dropped",
				slog.String("session_id", s.ID().String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// CloseAll closes every registered session. Used during graceful shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
}
