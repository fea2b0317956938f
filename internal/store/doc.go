// Package store contains the Redis-backed message and user stores.
// The relay accepts the interfaces these satisfy; only this package and
// internal/redis touch go-redis.
package store

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("store")
