package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "sitepipe.reload"

// NATSNotifier publishes each change as JSON on a NATS subject so editors,
// test runners or remote browsers can follow a watch session.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
	publish func(subject string, data []byte) error
}

// NewNATSNotifier connects to url.
func NewNATSNotifier(url, subject string) (*NATSNotifier, error) {
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(url,
		nats.Name("sitepipe"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSNotifier{conn: conn, subject: subject, publish: conn.Publish}, nil
}

// Subject returns the subject changes are published on.
func (n *NATSNotifier) Subject() string { return n.subject }

// Notify implements Notifier.
func (n *NATSNotifier) Notify(ctx context.Context, change Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if change.Time.IsZero() {
		change.Time = time.Now()
	}

	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	if err := n.publish(n.subject, data); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}
