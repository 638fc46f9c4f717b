package stream

import "time"

const (
	ChangeInitial = "initial"
	ChangeUpdate  = "update"
	ChangePong    = "pong"
)

// Change is a notification delivered to stream subscribers. It is also
// the wire format for WebSocket frames.
type Change struct {
	EventType string    `json:"type"`
	Path      string    `json:"file_path,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Content   any       `json:"content,omitempty"`
}

func (c Change) Type() string {
	return c.EventType
}
