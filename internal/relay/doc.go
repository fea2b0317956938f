// Package relay is the connection and session engine: per-connection read
// and write loops over the newline-delimited JSON protocol, the heartbeat
// liveness state machine, dispatcher routing, the process-wide session
// registry with best-effort fan-out, and the auth challenge registry that
// bridges the asynchronous HTTP callback back into a live session.
package relay

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("relay")

var (
	connectionsTotal       metric.Int64Counter
	messagesTotal          metric.Int64Counter
	broadcastDropsTotal    metric.Int64Counter
	heartbeatTimeoutsTotal metric.Int64Counter
	authOutcomesTotal      metric.Int64Counter
	challengesExpiredTotal metric.Int64Counter
)

func init() {
	m := otel.Meter("relay")

	connectionsTotal, _ = m.Int64Counter("relay_connections_total",
		metric.WithDescription("Total connections accepted"))
	messagesTotal, _ = m.Int64Counter("relay_messages_total",
		metric.WithDescription("Total chat messages persisted"))
	broadcastDropsTotal, _ = m.Int64Counter("relay_broadcast_drops_total",
		metric.WithDescription("Total broadcast frames dropped on full queues"))
	heartbeatTimeoutsTotal, _ = m.Int64Counter("relay_heartbeat_timeouts_total",
		metric.WithDescription("Total connections closed by heartbeat timeout"))
	authOutcomesTotal, _ = m.Int64Counter("relay_auth_outcomes_total",
		metric.WithDescription("Total auth attempts by outcome"))
	challengesExpiredTotal, _ = m.Int64Counter("relay_challenges_expired_total",
		metric.WithDescription("Total pending auth challenges expired unresolved"))
}
