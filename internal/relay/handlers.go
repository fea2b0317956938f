package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bbqsrc/robust/internal/domain"
	"github.com/bbqsrc/robust/pkg/protocol"
)

// MessageStore is the persistence contract the relay consumes.
type MessageStore interface {
	Insert(ctx context.Context, msg domain.Message) error
	Backlog(ctx context.Context, q domain.BacklogQuery) ([]domain.Message, error)
}

// UserStore is the user persistence contract the relay consumes.
type UserStore interface {
	Create(ctx context.Context, u *domain.User) error
	Save(ctx context.Context, u *domain.User) error
	FindByID(ctx context.Context, id domain.UserID) (*domain.User, error)
	FindByHandle(ctx context.Context, handle string) (*domain.User, error)
	FindByExternalID(ctx context.Context, provider, uid string) (*domain.User, error)
}

// MessagePolicy decides whether a user may send to a target.
type MessagePolicy func(u *domain.User, target string) bool

// BodyTransform rewrites a message body before persistence. Reserved for
// rich-text and mention expansion.
type BodyTransform func(body string) string

// HandlersDeps carries the collaborators the envelope handlers need.
// Policy and Transform may be nil: the defaults allow every target and
// leave the body untouched.
type HandlersDeps struct {
	Messages  MessageStore
	Users     UserStore
	Registry  *Registry
	Clock     domain.Clock
	Logger    *slog.Logger
	Policy    MessagePolicy
	Transform BodyTransform
}

// Handlers implements every non-auth entry of the dispatch table.
type Handlers struct {
	messages  MessageStore
	users     UserStore
	registry  *Registry
	clock     domain.Clock
	logger    *slog.Logger
	policy    MessagePolicy
	transform BodyTransform
}

// NewHandlers creates the handler set.
func NewHandlers(d HandlersDeps) *Handlers {
	if d.Policy == nil {
		d.Policy = func(*domain.User, string) bool { return true }
	}
	if d.Transform == nil {
		d.Transform = func(body string) string { return body }
	}
	return &Handlers{
		messages:  d.Messages,
		users:     d.Users,
		registry:  d.Registry,
		clock:     d.Clock,
		logger:    d.Logger,
		policy:    d.Policy,
		transform: d.Transform,
	}
}

// HandlePing answers with a pong. No state changes.
func (h *Handlers) HandlePing(_ context.Context, s *Session, _ protocol.Envelope) error {
	return s.Send(protocol.Pong())
}

// HandlePong accepts a pong. The heartbeat monitor already counted the
// frame as activity; nothing else to do.
func (h *Handlers) HandlePong(context.Context, *Session, protocol.Envelope) error {
	return nil
}

// HandleMessage validates, persists, and fans out a chat message. The
// sender's reply is the persisted record plus a transient original_body
// field carrying the pre-transform body; recipients get the persisted
// shape only.
func (h *Handlers) HandleMessage(ctx context.Context, s *Session, env protocol.Envelope) error {
	ctx, span := tracer.Start(ctx, "relay.message")
	defer span.End()

	user := s.User()
	if user == nil {
		return domain.WireText(domain.ErrNotAuthenticated, "You must be authenticated to send a message.")
	}

	target, ok := env.String("target")
	if !ok || target == "" {
		return domain.ErrMissingTarget
	}
	body, ok := env.String("body")
	if !ok || body == "" {
		return domain.ErrMissingBody
	}
	if !h.policy(user, target) {
		return fmt.Errorf("cannot send to %q: %w", target, domain.ErrForbidden)
	}

	msg := domain.Message{
		ID:     domain.GenerateMessageID(),
		From:   user.SenderRef(),
		TS:     domain.NowUTCMillis(h.clock),
		Target: target,
		Body:   h.transform(body),
	}
	if err := h.messages.Insert(ctx, msg); err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	messagesTotal.Add(ctx, 1)

	reply := protocol.Envelope(msg.Wire())
	reply["original_body"] = body
	if err := s.Send(reply); err != nil {
		return err
	}

	h.registry.Broadcast(s.ID(), msg.Wire())
	return nil
}

// HandleJoin appends the target to the bound user's channel list and
// persists it. Joining a channel twice is harmless.
func (h *Handlers) HandleJoin(ctx context.Context, s *Session, env protocol.Envelope) error {
	ctx, span := tracer.Start(ctx, "relay.join")
	defer span.End()

	user := s.User()
	if user == nil {
		return domain.WireText(domain.ErrNotAuthenticated, "You must be authenticated to join a channel.")
	}
	target, ok := env.String("target")
	if !ok || target == "" {
		return domain.ErrMissingTarget
	}

	if !user.InChannel(target) {
		user.Channels = append(user.Channels, target)
		if err := h.users.Save(ctx, user); err != nil {
			return fmt.Errorf("persist channel membership: %w", err)
		}
	}

	reply := env.Clone()
	reply["success"] = true
	return s.Send(reply)
}

// HandlePart is accepted and ignored. Channel membership is not yet
// pruned on part; the join list only grows.
func (h *Handlers) HandlePart(context.Context, *Session, protocol.Envelope) error {
	return nil
}

// HandleBacklog runs a history range query and echoes the request with a
// messages field holding the results in ascending timestamp order.
func (h *Handlers) HandleBacklog(ctx context.Context, s *Session, env protocol.Envelope) error {
	ctx, span := tracer.Start(ctx, "relay.backlog")
	defer span.End()

	target, ok := env.String("target")
	if !ok || target == "" {
		return domain.ErrMissingTarget
	}

	q := domain.BacklogQuery{Target: target}
	if v, ok := env.Int64("count"); ok {
		q.Count = v
	}
	if v, ok := env.Int64("from_date"); ok {
		q.FromDate = v
	}
	if v, ok := env.Int64("to_date"); ok {
		q.ToDate = v
	}
	if v, ok := env.String("from"); ok {
		q.FromSender = v
	}

	msgs, err := h.messages.Backlog(ctx, q)
	if err != nil {
		return err
	}

	wire := make([]map[string]any, len(msgs))
	for i, m := range msgs {
		wire[i] = m.Wire()
	}
	reply := env.Clone()
	reply["messages"] = wire
	return s.Send(reply)
}

// HandleOption answers a lookup against the session's scratch store with
// fallback to the static server option table.
func (h *Handlers) HandleOption(_ context.Context, s *Session, env protocol.Envelope) error {
	name, ok := env.String("name")
	if !ok || name == "" {
		return fmt.Errorf("option name required: %w", domain.ErrInvalidMessage)
	}

	value, ok := s.Get(name)
	if !ok {
		return fmt.Errorf("%q: %w", name, domain.ErrUnknownOption)
	}
	return s.Send(protocol.Option(name, value))
}
