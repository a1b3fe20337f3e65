// Package eventbus publishes fire-and-forget audit events describing track
// dispatches and callback outcomes to NATS JetStream — a supplemented
// feature (SPEC_FULL.md §3) grounded on public-api-service's consent
// submission publish and consumed the same way privacy-service's
// ConsentConsumer ingests it.
package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arc-self/apps/adrelay-service/internal/goshared/natsclient"
)

const (
	subjectTrackDispatched    = "DOMAIN_EVENTS.adrelay.track.dispatched"
	subjectCallbackDispatched = "DOMAIN_EVENTS.adrelay.callback.dispatched"
)

// TrackEvent records the outcome of one track-time upstream dispatch.
type TrackEvent struct {
	Rid         string    `json:"rid"`
	UpstreamID  string    `json:"upstream_id"`
	EventType   string    `json:"event_type"`
	Status      int       `json:"status"`
	Debounced   bool      `json:"debounced"`
	OccurredAt  time.Time `json:"occurred_at"`
	TraceID     string    `json:"trace_id,omitempty"`
	SpanID      string    `json:"span_id,omitempty"`
}

// CallbackEvent records the outcome of one inbound callback.
type CallbackEvent struct {
	Rid          string    `json:"rid"`
	UpstreamID   string    `json:"upstream_id"`
	DownstreamID string    `json:"downstream_id"`
	EventName    string    `json:"event_name"`
	CallbackSent int16     `json:"is_callback_sent"`
	OccurredAt   time.Time `json:"occurred_at"`
	TraceID      string    `json:"trace_id,omitempty"`
	SpanID       string    `json:"span_id,omitempty"`
}

// Publisher emits audit events best-effort: a publish failure is logged,
// never propagated, since it must never block or fail the request path it
// is reporting on.
type Publisher struct {
	nats   *natsclient.Client
	logger *zap.Logger
}

// New builds a Publisher.
func New(n *natsclient.Client, logger *zap.Logger) *Publisher {
	return &Publisher{nats: n, logger: logger}
}

// PublishTrack fire-and-forgets a TrackEvent.
func (p *Publisher) PublishTrack(ctx context.Context, event TrackEvent) {
	injectTraceContext(ctx, &event.TraceID, &event.SpanID)
	p.publish(subjectTrackDispatched, event)
}

// PublishCallback fire-and-forgets a CallbackEvent.
func (p *Publisher) PublishCallback(ctx context.Context, event CallbackEvent) {
	injectTraceContext(ctx, &event.TraceID, &event.SpanID)
	p.publish(subjectCallbackDispatched, event)
}

func (p *Publisher) publish(subject string, payload interface{}) {
	if p.nats == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("failed to marshal audit event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if _, err := p.nats.JS.PublishAsync(subject, data); err != nil {
		p.logger.Warn("failed to publish audit event", zap.String("subject", subject), zap.Error(err))
	}
}

func injectTraceContext(ctx context.Context, traceID, spanID *string) {
	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		*traceID = sc.TraceID().String()
		*spanID = sc.SpanID().String()
	}
}
