package domain

// Sender is the projection of the sending user stored inside a message.
type Sender struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
	Name   string `json:"name"`
}

// Message is a persisted chat message. TS is UTC epoch milliseconds.
type Message struct {
	ID     MessageID
	From   Sender
	TS     int64
	Target string
	Body   string
}

// BacklogQuery selects a slice of a target's message history.
// A zero Count means DefaultBacklogCount and a zero ToDate means now.
// FromSender is mandatory when the target is a direct ("@") address.
type BacklogQuery struct {
	Target     string
	Count      int64
	FromDate   int64
	ToDate     int64
	FromSender string
}

// Wire returns the persisted wire shape, including the fixed type marker.
// This is the shape broadcast to recipients and returned in backlogs.
func (m Message) Wire() map[string]any {
	return map[string]any{
		"id":     m.ID.String(),
		"from":   map[string]any{"id": m.From.ID, "handle": m.From.Handle, "name": m.From.Name},
		"ts":     m.TS,
		"target": m.Target,
		"body":   m.Body,
		"type":   "message",
	}
}
