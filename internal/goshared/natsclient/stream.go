package natsclient

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamDomainEvents is the durable stream capturing every audit event
	// the relay emits (track dispatches, callback outcomes).
	StreamDomainEvents = "DOMAIN_EVENTS"
	// SubjectDomainEvents captures every adrelay-routed domain event.
	SubjectDomainEvents = "DOMAIN_EVENTS.adrelay.>"
)

var streamSubjects = []string{SubjectDomainEvents}

// ProvisionStreams idempotently ensures the DOMAIN_EVENTS stream exists.
// A no-op if the stream is already provisioned.
func (c *Client) ProvisionStreams() error {
	_, err := c.JS.StreamInfo(StreamDomainEvents)
	if err == nil {
		c.Log.Info("NATS stream already exists", zap.String("stream", StreamDomainEvents))
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:      StreamDomainEvents,
		Subjects:  streamSubjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	}
	if _, err := c.JS.AddStream(cfg); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}

	c.Log.Info("NATS stream provisioned",
		zap.String("stream", StreamDomainEvents),
		zap.Strings("subjects", streamSubjects),
	)
	return nil
}
