package websocket

import (
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/sitepipe/internal/notify"
)

// Client represents a WebSocket client connection
type Client struct {
	conn         *websocket.Conn
	send         chan []byte
	remote       string
	connectedAt  time.Time
	lastActivity atomic.Int64
}

func (c *Client) touch() { c.lastActivity.Store(time.Now().UnixNano()) }

// UpdateMessage represents a message sent to the browser
type UpdateMessage struct {
	Type      string    `json:"type"`
	Target    string    `json:"target,omitempty"`
	Paths     []string  `json:"paths,omitempty"`
	Content   string    `json:"content,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// messageFor converts a change into the browser wire format.
func messageFor(c notify.Change) UpdateMessage {
	ts := c.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return UpdateMessage{
		Type:      string(c.Kind),
		Target:    c.Task,
		Paths:     c.Paths,
		Content:   c.Error,
		RunID:     c.RunID,
		Timestamp: ts,
	}
}

// ClientInfo describes a connected client for the status page.
type ClientInfo struct {
	Remote       string
	ConnectedAt  time.Time
	LastActivity time.Time
}
