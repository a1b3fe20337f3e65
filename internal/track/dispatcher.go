package track

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arc-self/apps/adrelay-service/internal/config"
	"github.com/arc-self/apps/adrelay-service/internal/debounce"
	"github.com/arc-self/apps/adrelay-service/internal/eventbus"
	"github.com/arc-self/apps/adrelay-service/internal/udm"
	"github.com/arc-self/apps/adrelay-service/internal/upstream"
)

// deferredDispatcher implements debounce.Dispatcher: it turns one drained
// debounce.Job back into an upstream.Job and dispatches it through the same
// adapter the direct path uses. Constructed once and handed to
// debounce.New so the worker loop's goroutines all share it.
type deferredDispatcher struct {
	cfg       *config.Config
	adapter   *upstream.Adapter
	publisher *eventbus.Publisher
	logger    *zap.Logger
}

// NewDeferredDispatcher builds the debounce.Dispatcher the debounce manager
// invokes once a coalesced job's due time has elapsed.
func NewDeferredDispatcher(cfg *config.Config, adapter *upstream.Adapter, publisher *eventbus.Publisher, logger *zap.Logger) debounce.Dispatcher {
	return &deferredDispatcher{cfg: cfg, adapter: adapter, publisher: publisher, logger: logger}
}

func (d *deferredDispatcher) DispatchJob(ctx context.Context, job debounce.Job) error {
	var record udm.UDM
	if err := json.Unmarshal(job.UDM, &record); err != nil {
		return fmt.Errorf("decode debounced udm: %w", err)
	}

	up, ok := d.cfg.Upstreams[job.UpstreamID]
	if !ok {
		return fmt.Errorf("unknown upstream %q for debounced job", job.UpstreamID)
	}

	rid := job.TraceID
	outcome := d.adapter.Dispatch(ctx, upstream.Job{
		Rid:               rid,
		UDM:               &record,
		Upstream:          up,
		EventType:         job.EventType,
		CallbackTemplate:  job.CallbackTemplate,
		RouteCustomParams: job.RouteParams,
	})
	d.publisher.PublishTrack(ctx, eventbus.TrackEvent{
		Rid: rid, UpstreamID: job.UpstreamID, EventType: job.EventType,
		Status: outcome.Status, Debounced: true, OccurredAt: time.Now(),
	})
	return nil
}
