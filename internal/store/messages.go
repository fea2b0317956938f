package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bbqsrc/robust/internal/domain"
	redisclient "github.com/bbqsrc/robust/internal/redis"
)

// messageKeyPrefix is the Redis key prefix for per-target message sets.
// Key pattern: messages:{target}, a sorted set scored by the message
// timestamp in epoch milliseconds.
const messageKeyPrefix = "messages:"

// messageRecord is the stored JSON shape of a message set member.
type messageRecord struct {
	ID     string        `json:"id"`
	From   domain.Sender `json:"from"`
	TS     int64         `json:"ts"`
	Target string        `json:"target"`
	Body   string        `json:"body"`
}

// MessageStore persists messages in Redis, one sorted set per target.
type MessageStore struct {
	cmd   redisclient.Cmdable
	clock domain.Clock
}

// NewMessageStore creates a MessageStore that uses cmd for Redis operations.
func NewMessageStore(cmd redisclient.Cmdable, clock domain.Clock) *MessageStore {
	return &MessageStore{cmd: cmd, clock: clock}
}

// Insert persists a message. The timestamp is the sort key and must be set
// by the caller; a zero timestamp is rejected rather than defaulted so a
// stored record can never silently sort to the epoch.
func (s *MessageStore) Insert(ctx context.Context, msg domain.Message) error {
	ctx, span := tracer.Start(ctx, "store.messages.insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "ZADD"),
	)

	if msg.TS == 0 {
		return fmt.Errorf("message %s: %w", msg.ID, domain.ErrMissingTimestamp)
	}
	if msg.Target == "" {
		return fmt.Errorf("message %s: %w", msg.ID, domain.ErrMissingTarget)
	}

	rec := messageRecord{
		ID:     msg.ID.String(),
		From:   msg.From,
		TS:     msg.TS,
		Target: msg.Target,
		Body:   msg.Body,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", msg.ID, err)
	}

	key := messageKeyPrefix + msg.Target
	err = s.cmd.ZAdd(ctx, key, redisclient.Z{Score: float64(msg.TS), Member: raw}).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}

	return nil
}

// Backlog returns messages for a target in ascending timestamp order.
// The result is capped at Count entries taken from the newest end of the
// range, so a reconnecting client always sees the most recent history.
func (s *MessageStore) Backlog(ctx context.Context, q domain.BacklogQuery) ([]domain.Message, error) {
	ctx, span := tracer.Start(ctx, "store.messages.backlog")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "ZREVRANGEBYSCORE"),
		attribute.String("backlog.target", q.Target),
	)

	if q.Target == "" {
		return nil, domain.ErrMissingTarget
	}
	if strings.HasPrefix(q.Target, "@") && q.FromSender == "" {
		return nil, fmt.Errorf("from is required for user targets: %w", domain.ErrInvalidMessage)
	}

	count := q.Count
	if count <= 0 {
		count = domain.DefaultBacklogCount
	}
	toDate := q.ToDate
	if toDate == 0 {
		toDate = domain.NowUTCMillis(s.clock)
	}

	key := messageKeyPrefix + q.Target
	raws, err := s.cmd.ZRevRangeByScore(ctx, key, &redisclient.ZRangeBy{
		Min:   strconv.FormatInt(q.FromDate, 10),
		Max:   strconv.FormatInt(toDate, 10),
		Count: count,
	}).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("backlog %q: %w", q.Target, err)
	}

	msgs := make([]domain.Message, 0, len(raws))
	// Walk the newest-first result backwards to hand out ascending order.
	for i := len(raws) - 1; i >= 0; i-- {
		var rec messageRecord
		if err := json.Unmarshal([]byte(raws[i]), &rec); err != nil {
			return nil, fmt.Errorf("decode stored message: %w", err)
		}
		id, err := domain.NewMessageID(rec.ID)
		if err != nil {
			return nil, fmt.Errorf("decode stored message ID: %w", err)
		}
		msgs = append(msgs, domain.Message{
			ID:     id,
			From:   rec.From,
			TS:     rec.TS,
			Target: rec.Target,
			Body:   rec.Body,
		})
	}

	return msgs, nil
}
