// Package natsclient wraps a NATS connection and its JetStream context for
// the relay's audit-event publisher. Grounded on the shared go-core
// natsclient package's Conn/JetStreamContext/logger shape, extended with
// connection-lifecycle logging and a health check: since audit publishing
// is fire-and-forget and never blocks the request path (eventbus.Publisher
// swallows publish errors), a silent reconnect loop would otherwise be
// invisible in the logs.
package natsclient

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
	Log  *zap.Logger
}

// NewClient connects to NATS, initialises a JetStream context, and wires
// connection-lifecycle events to structured logs so reconnect storms and
// dropped connections surface in observability even though the publisher
// itself never surfaces them to a caller.
func NewClient(url string, logger *zap.Logger) (*Client, error) {
	c := &Client{Log: logger}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize JetStream: %w", err)
	}

	logger.Info("NATS JetStream connected", zap.String("url", url))
	c.Conn = nc
	c.JS = js
	return c, nil
}

// Healthy reports whether the underlying connection is currently up, for
// callers that want to surface NATS state on a readiness endpoint.
func (c *Client) Healthy() bool {
	return c.Conn != nil && c.Conn.IsConnected()
}

// Close drains and closes the underlying NATS connection, flushing any
// pending publish acknowledgments before the process exits.
func (c *Client) Close() {
	if c.Conn == nil {
		return
	}
	if err := c.Conn.Drain(); err != nil {
		c.Conn.Close()
	}
}
