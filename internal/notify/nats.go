package notify

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Conn wraps the NATS connection used for fan-out publishing and service
// announcements.
type Conn struct {
	nc *nats.Conn
}

// Connect dials NATS with aggressive reconnection: the capture pipeline
// keeps running through broker outages, and fan-out failures during an
// outage are logged by the notifier rather than failing the commit.
func Connect(natsURL string) (*Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Conn{nc: nc}, nil
}

// Publish sends a message to NATS.
func (c *Conn) Publish(subject string, data []byte) error {
	return c.nc.Publish(subject, data)
}

// Close drains and closes the connection.
func (c *Conn) Close() {
	c.nc.Drain()
}
