// Package protocol defines the newline-delimited JSON wire protocol.
// A frame is one UTF-8 JSON document terminated by '\n'; the protocol is
// symmetric in both directions and carries no length prefix.
package protocol

// Envelope is one decoded message unit: an untyped field map with a
// required string "type". Handler-specific fields live alongside it.
type Envelope map[string]any

// Type returns the envelope's "type" field, or "" when absent or not a string.
func (e Envelope) Type() string {
	t, _ := e["type"].(string)
	return t
}

// String returns the named field as a string. The second return is false
// when the field is absent or not a string.
func (e Envelope) String(key string) (string, bool) {
	v, ok := e[key].(string)
	return v, ok
}

// Int64 returns the named field as an int64. JSON numbers decode as
// float64; values with a fractional part are rejected.
func (e Envelope) Int64(key string) (int64, bool) {
	f, ok := e[key].(float64)
	if !ok || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

// Object returns the named field as a nested envelope.
func (e Envelope) Object(key string) (Envelope, bool) {
	m, ok := e[key].(map[string]any)
	if !ok {
		return nil, false
	}
	return Envelope(m), true
}

// Clone returns a shallow copy. Handlers that echo a request envelope
// augment a clone, never the original.
func (e Envelope) Clone() Envelope {
	out := make(Envelope, len(e)+2)
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Standard reply constructors.

// Welcome is sent once, immediately after a connection opens.
func Welcome(motd string) Envelope {
	return Envelope{"type": "welcome", "motd": motd}
}

// Error reports a recoverable failure. Subtypes: parser, message,
// authentication, internal.
func Error(subtype, message string) Envelope {
	return Envelope{"type": "error", "subtype": subtype, "message": message}
}

// Ping is the server-initiated liveness probe.
func Ping() Envelope {
	return Envelope{"type": "ping"}
}

// Pong answers a ping.
func Pong() Envelope {
	return Envelope{"type": "pong"}
}

// Option answers an option lookup.
func Option(name string, value any) Envelope {
	return Envelope{"type": "option", "name": name, "value": value}
}
