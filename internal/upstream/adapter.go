// Package upstream implements the forwarder-to-upstream adapter: given a
// job, it renders the adapter's URL/body template, dispatches it through
// the shared HTTP client, and persists a RequestLog row recording the
// outcome.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/arc-self/apps/adrelay-service/internal/config"
	"github.com/arc-self/apps/adrelay-service/internal/expr"
	"github.com/arc-self/apps/adrelay-service/internal/httpclient"
	"github.com/arc-self/apps/adrelay-service/internal/repository/db"
	"github.com/arc-self/apps/adrelay-service/internal/tmpl"
	"github.com/arc-self/apps/adrelay-service/internal/udm"
)

const (
	defaultMethod     = "GET"
	defaultTimeoutMs  = 5000
	defaultMaxRetries = 1
	defaultBackoffMs  = 200
)

// Job carries everything the adapter needs to render and dispatch one
// outbound upstream request.
type Job struct {
	Rid               string
	UDM               *udm.UDM
	Upstream          config.Upstream
	EventType         string
	CallbackTemplate  string
	RouteCustomParams map[string]string
}

// Outcome is what the adapter produced, for callers (direct dispatch, the
// debounce processor) that need to know whether the upstream accepted the
// request.
type Outcome struct {
	Status    int
	NoAdapter bool
}

// Adapter renders and dispatches outbound upstream requests and persists
// the resulting RequestLog row.
type Adapter struct {
	http         *httpclient.Client
	querier      db.Querier
	logger       *zap.Logger
	callbackBase string
}

// New builds an Adapter.
func New(httpClient *httpclient.Client, querier db.Querier, logger *zap.Logger, callbackBase string) *Adapter {
	return &Adapter{http: httpClient, querier: querier, logger: logger, callbackBase: callbackBase}
}

// Dispatch renders the matching outbound adapter's URL/body template,
// sends the request, and persists the resulting RequestLog row.
func (a *Adapter) Dispatch(ctx context.Context, job Job) Outcome {
	outboundAdapter, ok := job.Upstream.Adapters.Outbound[job.EventType]
	if !ok {
		a.logger.Info("no outbound adapter for event type",
			zap.String("rid", job.Rid),
			zap.String("upstream_id", job.Upstream.ID),
			zap.String("event_type", job.EventType),
		)
		return Outcome{Status: 200, NoAdapter: true}
	}

	secrets := mergeSecrets(job.Upstream.Secrets, job.RouteCustomParams)
	helpers := map[string]func() string{
		"cb_url": func() string { return a.callbackURL(job.Rid, job.CallbackTemplate) },
	}
	evalCtx := expr.Context{UDM: job.UDM, Secrets: secrets, Helpers: helpers}

	url := tmpl.RenderURL(outboundAdapter.URL, outboundAdapter.Macros, evalCtx)

	var body []byte
	if outboundAdapter.Body != nil {
		rendered := tmpl.EvalBodyTemplate(outboundAdapter.Body, evalCtx)
		encoded, err := json.Marshal(rendered)
		if err != nil {
			a.logger.Warn("failed to marshal rendered body template", zap.String("rid", job.Rid), zap.Error(err))
		} else {
			body = encoded
		}
	}

	method := outboundAdapter.Method
	if method == "" {
		method = defaultMethod
	}
	timeoutMs := outboundAdapter.TimeoutMs
	if timeoutMs == 0 {
		timeoutMs = defaultTimeoutMs
	}
	maxRetries := outboundAdapter.Retry.Max
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	backoffMs := outboundAdapter.Retry.BackoffMs
	if backoffMs == 0 {
		backoffMs = defaultBackoffMs
	}

	result := a.http.SendWithRetry(ctx, method, url, outboundAdapter.Headers, body, timeoutMs, maxRetries, backoffMs)

	trackStatus := db.TrackStatusUpstreamNon200
	if result.StatusCode == 200 {
		trackStatus = db.TrackStatusUpstream200
	}

	uploadParams, _ := json.Marshal(map[string]interface{}{
		"query":             job.UDM,
		"callback_template": job.CallbackTemplate,
	})

	_, err := a.querier.InsertRequestLog(ctx, db.InsertRequestLogParams{
		Rid:          job.Rid,
		DsID:         job.UDM.Meta.DownstreamID,
		UpID:         job.Upstream.ID,
		EventType:    job.EventType,
		AdID:         textOrInvalid(job.UDM.Ad.AdID),
		ChannelID:    textOrInvalid(job.UDM.Ad.ChannelID),
		Ts:           job.UDM.Time.TS,
		OS:           textOrInvalid(job.UDM.Device.OS),
		UploadParams: uploadParams,
		UpstreamURL:  textOrInvalid(url),
		TrackStatus:  trackStatus,
		TrackTime:    pgtype.Timestamptz{Time: time.Now(), Valid: true},
	})
	if err != nil {
		a.logger.Error("failed to persist request_log row", zap.String("rid", job.Rid), zap.Error(err))
	}

	return Outcome{Status: result.StatusCode}
}

func (a *Adapter) callbackURL(rid, callbackTemplate string) string {
	base := fmt.Sprintf("%s/cb?rid=%s", a.callbackBase, rid)
	if idx := indexByte(callbackTemplate, '?'); idx >= 0 {
		return base + "&" + callbackTemplate[idx+1:]
	}
	return base
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func mergeSecrets(base, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

func textOrInvalid(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
