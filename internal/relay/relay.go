package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bbqsrc/robust/internal/domain"
	"github.com/bbqsrc/robust/internal/errmap"
	"github.com/bbqsrc/robust/pkg/protocol"
)

// Config holds the per-connection behavior knobs.
type Config struct {
	MOTD     string
	IdleWait time.Duration
	ReadWait time.Duration

	// Options is the static server option table clients query with the
	// option envelope.
	Options map[string]any
}

// Relay drives one connection end to end: welcome frame, heartbeat,
// read loop, dispatch, error mapping, and teardown.
type Relay struct {
	cfg        Config
	dispatcher *Dispatcher
	registry   *Registry
	challenges *ChallengeRegistry
	logger     *slog.Logger
}

// New creates the relay engine.
func New(cfg Config, d *Dispatcher, reg *Registry, challenges *ChallengeRegistry, logger *slog.Logger) *Relay {
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = domain.DefaultIdleWait
	}
	if cfg.ReadWait <= 0 {
		cfg.ReadWait = domain.DefaultReadWait
	}
	return &Relay{
		cfg:        cfg,
		dispatcher: d,
		registry:   reg,
		challenges: challenges,
		logger:     logger,
	}
}

// Registry returns the session registry the relay serves.
func (r *Relay) Registry() *Registry { return r.registry }

// ServeConn runs a connection until it closes. Blocks; the accept loop
// runs it in a goroutine per connection. Frames from one connection are
// processed strictly in arrival order.
func (r *Relay) ServeConn(ctx context.Context, conn FrameConn) {
	connectionsTotal.Add(ctx, 1)

	s := NewSession(conn, r.cfg.Options, r.logger)
	r.registry.Register(s)
	r.logger.Info("connection opened",
		slog.String("session_id", s.ID().String()),
		slog.String("remote_addr", s.RemoteAddr()),
	)

	hb := NewHeartbeatMonitor(r.cfg.IdleWait, r.cfg.ReadWait,
		func() {
			if err := s.Send(protocol.Ping()); err != nil {
				s.Close()
			}
		},
		func() {
			heartbeatTimeoutsTotal.Add(context.Background(), 1)
			r.logger.Warn("heartbeat timeout, closing connection",
				slog.String("session_id", s.ID().String()),
			)
			s.Close()
		})

	stopWatch := context.AfterFunc(ctx, s.Close)

	defer func() {
		stopWatch()
		hb.Stop()
		r.registry.Unregister(s.ID())
		r.challenges.AbandonOwnedBy(s.ID())
		s.Close()
		r.logger.Info("connection closed",
			slog.String("session_id", s.ID().String()),
		)
	}()

	if err := s.Send(protocol.Welcome(r.cfg.MOTD)); err != nil {
		return
	}
	hb.Start()

	for {
		s.WaitWritable()
		select {
		case <-s.Closed():
			return
		default:
		}

		env, err := conn.ReadFrame()
		if err != nil {
			if errors.Is(err, domain.ErrParse) {
				// Malformed bytes still count as liveness.
				hb.Activity()
				r.reply(s, errmap.ToReply(err))
				continue
			}
			return
		}

		hb.Activity()
		start := time.Now()
		err = r.dispatcher.Dispatch(ctx, s, env)
		r.logger.Debug("frame dispatched",
			slog.String("session_id", s.ID().String()),
			slog.String("envelope_type", env.Type()),
			slog.Duration("elapsed", time.Since(start)),
		)
		if err != nil {
			if domain.IsFatal(err) {
				return
			}
			if !domain.IsRecoverable(err) {
				r.logger.Error("handler fault",
					slog.String("session_id", s.ID().String()),
					slog.String("envelope_type", env.Type()),
					slog.String("error", err.Error()),
				)
			}
			r.reply(s, errmap.ToReply(err))
		}
	}
}

func (r *Relay) reply(s *Session, env protocol.Envelope) {
	if err := s.Send(env); err != nil {
		s.Close()
	}
}
