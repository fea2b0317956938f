package relay

import (
	"log/slog"
	"sync"

	"github.com/bbqsrc/robust/internal/domain"
	"github.com/bbqsrc/robust/pkg/protocol"
)

// FrameConn is one client transport. The TCP and WebSocket adapters
// implement it: frames arrive whole on read and leave as marshaled bytes
// on write.
type FrameConn interface {
	ReadFrame() (protocol.Envelope, error)
	WriteRaw(frame []byte) error
	Close() error
	RemoteAddr() string
}

// Session is the per-connection state: identity, bound user, a scratch
// store, and the outbound queue its writer goroutine drains. Send is safe
// from any goroutine; the auth callback path depends on that.
type Session struct {
	id     domain.SessionID
	conn   FrameConn
	logger *slog.Logger

	out        chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
	writerDone chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	user    *domain.User
	scratch map[string]any
	options map[string]any
	pending int
	paused  bool
}

// NewSession creates a session over conn and starts its writer goroutine.
// options is the server option table the scratch store falls back to.
func NewSession(conn FrameConn, options map[string]any, logger *slog.Logger) *Session {
	s := &Session{
		id:         domain.GenerateSessionID(),
		conn:       conn,
		logger:     logger,
		out:        make(chan []byte, domain.OutboundQueueDepth),
		closed:     make(chan struct{}),
		writerDone: make(chan struct{}),
		scratch:    make(map[string]any),
		options:    options,
	}
	s.cond = sync.NewCond(&s.mu)
	go s.writeLoop()
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() domain.SessionID { return s.id }

// RemoteAddr returns the remote address of the underlying connection.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr() }

// User returns the bound user, or nil while unauthenticated.
func (s *Session) User() *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Authenticated reports whether a user is bound to the session.
func (s *Session) Authenticated() bool { return s.User() != nil }

// BindUser binds the authenticated user. Rebinding is a protocol error and
// leaves the existing user unchanged.
func (s *Session) BindUser(u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user != nil {
		return domain.ErrAlreadyAuthenticated
	}
	s.user = u
	return nil
}

// Set stores an ephemeral key in the session's scratch store.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scratch[key] = value
}

// Get reads a scratch key, falling back to the server option table when
// the session holds no value of its own.
func (s *Session) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.scratch[key]; ok {
		return v, true
	}
	v, ok := s.options[key]
	return v, ok
}

// Send marshals v and queues it, blocking while the queue is full. Used
// for the session's own replies, which must not be dropped.
func (s *Session) Send(v any) error {
	buf, err := protocol.Marshal(v)
	if err != nil {
		return err
	}
	return s.sendRaw(buf)
}

func (s *Session) sendRaw(buf []byte) error {
	select {
	case <-s.closed:
		return domain.ErrSessionClosed
	default:
	}
	s.addPending(len(buf))
	select {
	case s.out <- buf:
		return nil
	case <-s.closed:
		s.releasePending(len(buf))
		return domain.ErrSessionClosed
	}
}

// trySendRaw queues pre-marshaled bytes without blocking. A full queue
// drops the frame; broadcast delivery is best-effort.
func (s *Session) trySendRaw(buf []byte) error {
	select {
	case <-s.closed:
		return domain.ErrSessionClosed
	default:
	}
	s.addPending(len(buf))
	select {
	case s.out <- buf:
		return nil
	default:
		s.releasePending(len(buf))
		return domain.ErrSlowConsumer
	}
}

// WaitWritable blocks while the connection is paused for backpressure.
// The read loop calls this before every read, so a slow consumer stops
// producing work without affecting any other connection.
func (s *Session) WaitWritable() {
	s.mu.Lock()
	for s.paused {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

func (s *Session) addPending(n int) {
	s.mu.Lock()
	s.pending += n
	if s.pending > domain.WriteHighWatermark {
		s.paused = true
	}
	s.mu.Unlock()
}

func (s *Session) releasePending(n int) {
	s.mu.Lock()
	s.pending -= n
	if s.paused && s.pending < domain.WriteLowWatermark {
		s.paused = false
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)
	for {
		select {
		case <-s.closed:
			return
		case buf := <-s.out:
			err := s.conn.WriteRaw(buf)
			s.releasePending(len(buf))
			if err != nil {
				s.logger.Debug("session write failed",
					slog.String("session_id", s.id.String()),
					slog.String("error", err.Error()),
				)
				s.Close()
				return
			}
		}
	}
}

// Close tears the session down: the transport is closed, the writer exits,
// and any goroutine blocked in Send or WaitWritable is released. Safe to
// call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
		s.mu.Lock()
		s.paused = false
		s.cond.Broadcast()
		s.mu.Unlock()
	})
}

// Closed returns a channel closed when the session is torn down.
func (s *Session) Closed() <-chan struct{} { return s.closed }
