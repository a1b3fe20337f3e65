// Package callback implements the GET /cb entrypoint: correlating an
// inbound upstream callback with its track-time RequestLog row, verifying
// and mapping inbound fields, applying the per-link whitelist, and
// forwarding to the downstream publisher.
package callback

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/arc-self/apps/adrelay-service/internal/config"
	"github.com/arc-self/apps/adrelay-service/internal/eventbus"
	"github.com/arc-self/apps/adrelay-service/internal/expr"
	"github.com/arc-self/apps/adrelay-service/internal/httpclient"
	"github.com/arc-self/apps/adrelay-service/internal/repository/db"
	"github.com/arc-self/apps/adrelay-service/internal/router"
	"github.com/arc-self/apps/adrelay-service/internal/tmpl"
	"github.com/arc-self/apps/adrelay-service/internal/udm"
)

const (
	callbackTimeoutMs  = 5000
	callbackMaxRetries = 3
	callbackBackoffMs  = 300
)

// Response is the envelope every /cb call returns.
type Response struct {
	Success bool
	Code    int
	Message string
}

// Service handles inbound upstream callbacks.
type Service struct {
	cfg       *config.Config
	http      *httpclient.Client
	querier   db.Querier
	publisher *eventbus.Publisher
	logger    *zap.Logger
}

// New builds a Service.
func New(cfg *config.Config, httpClient *httpclient.Client, querier db.Querier, publisher *eventbus.Publisher, logger *zap.Logger) *Service {
	return &Service{cfg: cfg, http: httpClient, querier: querier, publisher: publisher, logger: logger}
}

// requestCtx is the PathResolver an inbound callback's verify/field_map
// expressions evaluate against: query parameters, a parsed JSON body, and
// meta.{ip,ua} taken from the HTTP request's client address and User-Agent
// (unlike the track entrypoint, which reads net.ip/net.ua from the query).
type requestCtx struct {
	query map[string]string
	body  map[string]interface{}
	ip    string
	ua    string
}

func (c *requestCtx) Get(path string) (string, bool) {
	parts := strings.SplitN(path, ".", 2)
	if len(parts) < 2 {
		return "", false
	}
	switch parts[0] {
	case "query":
		v, ok := c.query[parts[1]]
		if !ok || v == "" {
			return "", false
		}
		return v, true
	case "meta":
		switch parts[1] {
		case "ip":
			return nonEmpty(c.ip)
		case "ua":
			return nonEmpty(c.ua)
		}
	case "body":
		v, ok := lookupJSON(c.body, parts[1])
		if !ok || v == "" {
			return "", false
		}
		return v, true
	}
	return "", false
}

func nonEmpty(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	return s, true
}

func lookupJSON(node map[string]interface{}, path string) (string, bool) {
	segs := strings.Split(path, ".")
	var cur interface{} = node
	for _, seg := range segs {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return "", false
		}
		cur, ok = m[seg]
		if !ok {
			return "", false
		}
	}
	switch v := cur.(type) {
	case string:
		return v, true
	case nil:
		return "", false
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(data), true
	}
}

var eventNameCleaner = regexp.MustCompile(`[-_\s]+`)

func normalizeEventName(raw string) string {
	return eventNameCleaner.ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), "")
}

// Callback handles one GET /cb request. query/body are the raw request
// inputs; ip/ua are the client address and User-Agent the HTTP handler has
// already resolved from the request.
func (s *Service) Callback(ctx context.Context, rid string, query url.Values, body map[string]interface{}, ip, ua string) Response {
	if !s.cfg.Settings.RoutingEnabled_() {
		return Response{Success: true, Code: 200, Message: "ok"}
	}

	flatQuery := make(map[string]string, len(query))
	for k, v := range query {
		if len(v) > 0 {
			flatQuery[k] = v[0]
		}
	}
	reqCtx := &requestCtx{query: flatQuery, body: body, ip: ip, ua: ua}

	row, rowErr := s.querier.FindRequestLogByRid(ctx, rid)
	haveRow := rowErr == nil

	var callbackTemplate, campaignID string
	dsID, upID := "", ""
	if haveRow {
		dsID, upID = row.DsID, row.UpID
		uploaded := parseUploadParams(row.UploadParams)
		callbackTemplate = uploaded.CallbackTemplate
		campaignID = uploaded.Query.Ad.CampaignID
	}

	record := udm.New()
	var secrets map[string]string

	if upID != "" {
		if up, ok := s.cfg.Upstreams[upID]; ok {
			secrets = up.Secrets
			if inbound, ok := up.Adapters.InboundCallback["event"]; ok {
				if inbound.Verify != nil {
					if !s.verifySignature(*inbound.Verify, reqCtx, secrets) {
						s.logger.Warn("callback signature verification failed", zap.String("upstream_id", upID))
						return Response{Success: false, Code: 500, Message: "invalid signature"}
					}
				}
				applyFieldMap(record, inbound.FieldMap, reqCtx, secrets)
				applyEventNameMap(record, inbound.EventNameMap)
			}
		}
	}

	record.Meta.UpstreamID = upID
	record.Meta.DownstreamID = dsID

	routingUDM := udm.New()
	routingUDM.Ad.AdID = row.AdID.String
	routingUDM.Ad.ChannelID = row.ChannelID.String
	routingUDM.Ad.CampaignID = campaignID
	routingUDM.Meta.DownstreamID = dsID

	rule, hasRule := router.FindMatchingRule(routingUDM, s.cfg)
	decision := router.ChooseRoute(routingUDM, s.cfg)

	finalEventName, allowed := evaluateWhitelist(rule, hasRule, record.Event.Name)
	if !allowed {
		s.updateRow(ctx, rid, query, body, "", db.CallbackNotInWhitelist, record.Event.Name)
		return Response{Success: true, Code: 200, Message: "ok"}
	}
	record.Event.Name = finalEventName

	finalURL := ""
	if callbackTemplate != "" {
		finalURL = tmpl.ApplyMacros(callbackTemplate, record)
	}

	if router.ShouldThrottle(rid, decision.Throttle) {
		s.updateRow(ctx, rid, query, body, finalURL, db.CallbackThrottled, record.Event.Name)
		s.publisher.PublishCallback(ctx, eventbus.CallbackEvent{
			Rid: rid, UpstreamID: upID, DownstreamID: dsID, EventName: record.Event.Name,
			CallbackSent: db.CallbackThrottled, OccurredAt: time.Now(),
		})
		return Response{Success: true, Code: 200, Message: "ok"}
	}

	if finalURL == "" {
		s.updateRow(ctx, rid, query, body, finalURL, db.CallbackSent, record.Event.Name)
		return Response{Success: true, Code: 200, Message: "ok"}
	}

	result := s.http.SendWithRetry(ctx, "GET", finalURL, nil, nil, callbackTimeoutMs, callbackMaxRetries, callbackBackoffMs)

	status := db.CallbackDownstreamFailed
	resp := Response{Success: false, Code: 500, Message: "downstream_failed"}
	if result.StatusCode == 200 {
		status = db.CallbackSent
		resp = Response{Success: true, Code: 200, Message: "ok"}
	}
	s.updateRow(ctx, rid, query, body, finalURL, status, record.Event.Name)
	s.publisher.PublishCallback(ctx, eventbus.CallbackEvent{
		Rid: rid, UpstreamID: upID, DownstreamID: dsID, EventName: record.Event.Name,
		CallbackSent: status, OccurredAt: time.Now(),
	})
	return resp
}

func (s *Service) verifySignature(verify config.Verify, reqCtx *requestCtx, secrets map[string]string) bool {
	if verify.Type != "hmac_sha256" {
		return false
	}
	evalCtx := expr.Context{UDM: reqCtx, Secrets: secrets}
	actualSig := expr.Eval("signature", evalCtx).AsString()
	message := expr.Eval(verify.MessageExp, evalCtx).AsString()
	secret := secrets[verify.SecretRef]

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	expected := hex.EncodeToString(mac.Sum(nil))
	return actualSig == expected
}

func applyFieldMap(record *udm.UDM, fieldMap map[string]string, reqCtx *requestCtx, secrets map[string]string) {
	evalCtx := expr.Context{UDM: reqCtx, Secrets: secrets}
	for udmPath, expression := range fieldMap {
		if !strings.HasPrefix(udmPath, "udm.") {
			continue
		}
		value := expr.Eval(expression, evalCtx).AsString()
		setUDMPath(record, strings.TrimPrefix(udmPath, "udm."), value)
	}
}

func setUDMPath(record *udm.UDM, path, value string) {
	parts := strings.SplitN(path, ".", 2)
	switch parts[0] {
	case "event":
		if len(parts) == 2 && parts[1] == "name" {
			record.Event.Name = value
		}
	case "click":
		if len(parts) == 2 && parts[1] == "id" {
			record.Click.ID = value
		}
	case "ad":
		if len(parts) == 2 {
			switch parts[1] {
			case "ad_id":
				record.Ad.AdID = value
			case "channel_id":
				record.Ad.ChannelID = value
			case "campaign_id":
				record.Ad.CampaignID = value
			}
		}
	case "meta":
		if len(parts) == 2 {
			switch parts[1] {
			case "amount":
				record.Meta.Amount = value
			case "days":
				record.Meta.Days = value
			default:
				if strings.HasPrefix(parts[1], "ext.") {
					record.Meta.Ext[strings.TrimPrefix(parts[1], "ext.")] = value
				}
			}
		}
	}
}

func applyEventNameMap(record *udm.UDM, eventNameMap interface{}) {
	mapping, ok := eventNameMap.(map[string]interface{})
	if !ok || record.Event.Name == "" {
		return
	}
	normalized := normalizeEventName(record.Event.Name)
	for k, v := range mapping {
		if normalizeEventName(k) == normalized {
			original := record.Event.Name
			record.Meta.OriginalEventName = original
			if s, ok := v.(string); ok {
				record.Event.Name = s
			}
			return
		}
	}
}

// evaluateWhitelist decides whether an inbound callback event is allowed
// through a link's whitelist, returning the (possibly renamed) event name
// and whether the callback is allowed through at all.
func evaluateWhitelist(rule config.Rule, hasRule bool, eventName string) (string, bool) {
	if !hasRule || rule.CallbackEvents == nil {
		return eventName, false
	}
	normalized := normalizeEventName(eventName)
	switch v := rule.CallbackEvents.(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && normalizeEventName(s) == normalized {
				return eventName, true
			}
		}
		return eventName, false
	case map[string]interface{}:
		for src, dst := range v {
			if normalizeEventName(src) == normalized {
				if s, ok := dst.(string); ok {
					return s, true
				}
				return eventName, true
			}
		}
		return eventName, false
	case string:
		if normalizeEventName(v) == normalized {
			return eventName, true
		}
		return eventName, false
	default:
		return eventName, false
	}
}

func (s *Service) updateRow(ctx context.Context, rid string, query url.Values, body map[string]interface{}, downstreamURL string, status int16, eventName string) {
	callbackParams, _ := json.Marshal(map[string]interface{}{"query": query, "body": body})
	params := db.UpdateRequestLogParams{
		Rid:               rid,
		CallbackParams:    pgtype.Text{String: string(callbackParams), Valid: true},
		IsCallbackSent:    status,
		CallbackTime:      pgtype.Timestamptz{Time: time.Now(), Valid: true},
		CallbackEventType: pgtype.Text{String: eventName, Valid: eventName != ""},
	}
	if downstreamURL != "" {
		params.DownstreamURL = pgtype.Text{String: downstreamURL, Valid: true}
	}
	if err := s.querier.UpdateRequestLogByRid(ctx, params); err != nil {
		s.logger.Warn("failed to update request_log row after callback", zap.String("rid", rid), zap.Error(err))
	}
}

// uploadParamsDoc mirrors the shape upstream.Adapter.Dispatch persists into
// RequestLog.UploadParams: the full outbound UDM under "query" (recovered
// here the same way the Python original reads
// upload_params["query"]["ad"]["campaign_id"]) plus the callback template
// string. Query's fields carry no json tags so they match udm.UDM's own
// (tagless, case-insensitively matched) field names.
type uploadParamsDoc struct {
	Query struct {
		Ad struct {
			CampaignID string
		}
	}
	CallbackTemplate string `json:"callback_template"`
}

func parseUploadParams(uploadParams []byte) uploadParamsDoc {
	var doc uploadParamsDoc
	if len(uploadParams) == 0 {
		return doc
	}
	_ = json.Unmarshal(uploadParams, &doc)
	return doc
}
