// Package domain contains pure business logic and types.
// No transport or storage dependencies allowed - this is the innermost ring.
package domain

import "time"

// Compiled defaults. Most can be overridden via configuration.
const (
	// Envelope types starting with this prefix are reserved and always rejected.
	PrivateTypePrefix = "_"

	// Heartbeat configuration. The idle timer arms on any inbound frame;
	// its expiry sends a ping and arms the read timer instead. At most one
	// of the two is armed per session at any instant.
	DefaultIdleWait = 180 * time.Second
	DefaultReadWait = 30 * time.Second

	// Write watermarks (bytes). Reads on a connection pause when its
	// outbound queue exceeds the high mark and resume below the low mark.
	// Backpressure is local to a connection.
	WriteHighWatermark = 1024
	WriteLowWatermark  = 128

	// Outbound fan-out queue depth per session. Broadcast deliveries are
	// best-effort: a full queue drops the frame rather than block the sender.
	OutboundQueueDepth = 256

	// Backlog query defaults
	DefaultBacklogCount = 100

	// Pending auth challenges expire after this long when unresolved.
	DefaultChallengeTTL    = 10 * time.Minute
	ChallengeSweepInterval = time.Minute

	// Connection admission (per remote IP)
	ConnRateLimit = 5 // new connections per second
	ConnRateBurst = 10

	// Timeout contracts
	RedisTimeout        = 2 * time.Second
	IdentityHTTPTimeout = 10 * time.Second

	// Graceful shutdown
	ShutdownDrainDelay      = 500 * time.Millisecond
	ShutdownHTTPTimeout     = 10 * time.Second
	ShutdownOTELTimeout     = 5 * time.Second
	GracefulShutdownTimeout = 30 * time.Second
)

// DefaultMOTD is the message of the day sent in the welcome frame.
const DefaultMOTD = "Welcome to Robust alpha.\n\nThis will be excellent."
