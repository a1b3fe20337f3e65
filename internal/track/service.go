// Package track implements the /v1/track entrypoint: query cleaning, UDM
// assembly, routing, and either debounce submission or direct dispatch to
// the forwarder-to-upstream adapter.
package track

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arc-self/apps/adrelay-service/internal/config"
	"github.com/arc-self/apps/adrelay-service/internal/debounce"
	"github.com/arc-self/apps/adrelay-service/internal/eventbus"
	"github.com/arc-self/apps/adrelay-service/internal/router"
	"github.com/arc-self/apps/adrelay-service/internal/udm"
	"github.com/arc-self/apps/adrelay-service/internal/upstream"
)

// unreplacedPlaceholder matches a caller-supplied query value that is still
// an unreplaced template placeholder, e.g. a publisher's SDK forgot to
// substitute "__CLICK_ID__" before firing the pixel.
var unreplacedPlaceholder = regexp.MustCompile(`^__.+__$`)

// Response is the envelope every /v1/track call returns.
type Response struct {
	Success bool
	Code    int
	Message string
}

// Service wires together config lookup, routing, debounce submission and
// direct dispatch for inbound track requests.
type Service struct {
	cfg       *config.Config
	adapter   *upstream.Adapter
	debouncer *debounce.Manager
	publisher *eventbus.Publisher
	logger    *zap.Logger
}

// New builds a Service.
func New(cfg *config.Config, adapter *upstream.Adapter, debouncer *debounce.Manager, publisher *eventbus.Publisher, logger *zap.Logger) *Service {
	return &Service{cfg: cfg, adapter: adapter, debouncer: debouncer, publisher: publisher, logger: logger}
}

// Track handles one /v1/track request. query carries every query
// parameter the caller sent; its "callback" value is percent-decoded once
// more to recover the downstream callback template.
func (s *Service) Track(ctx context.Context, query url.Values) Response {
	cleaned := cleanQuery(query)

	dsID := cleaned.Get("ds_id")
	eventType := cleaned.Get("event_type")
	if dsID == "" || eventType == "" {
		return Response{Success: false, Code: 400, Message: "missing required parameter"}
	}
	if eventType != "click" && eventType != "imp" {
		return Response{Success: false, Code: 400, Message: "invalid event_type"}
	}
	var tsMs int64
	if raw := cleaned.Get("ts"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Response{Success: false, Code: 400, Message: "ts must be an integer"}
		}
		tsMs = parsed
	} else {
		tsMs = time.Now().UnixMilli()
	}

	record := buildUDM(cleaned, dsID, eventType, tsMs)

	callbackTemplate, _ := percentDecodeOnce(cleaned.Get("callback"))

	decision := router.ChooseRoute(record, s.cfg)
	if !decision.Enabled || decision.UpstreamID == "" {
		return Response{Success: false, Code: 400, Message: "link closed"}
	}
	up, ok := s.cfg.Upstreams[decision.UpstreamID]
	if !ok {
		return Response{Success: false, Code: 400, Message: "link closed"}
	}
	record.Meta.UpstreamID = decision.UpstreamID
	record.Meta.DownstreamID = decision.DownstreamID

	rule, _ := router.FindMatchingRule(record, s.cfg)

	rid := uuid.NewString()

	job := upstream.Job{
		Rid:               rid,
		UDM:               record,
		Upstream:          up,
		EventType:         eventType,
		CallbackTemplate:  callbackTemplate,
		RouteCustomParams: rule.CustomParams,
	}

	globalDebounce := s.cfg.Settings.Debounce.Enabled
	effectiveDebounce := globalDebounce && rule.DebounceEnabled()

	if effectiveDebounce && s.debouncer != nil {
		s.submitDebounced(ctx, record, job, tsMs)
		return Response{Success: true, Code: 200, Message: "ok"}
	}

	outcome := s.adapter.Dispatch(ctx, job)
	s.publisher.PublishTrack(ctx, eventbus.TrackEvent{
		Rid: rid, UpstreamID: decision.UpstreamID, EventType: eventType,
		Status: outcome.Status, OccurredAt: time.Now(),
	})
	if outcome.Status == 200 {
		return Response{Success: true, Code: 200, Message: "ok"}
	}
	return Response{Success: false, Code: 500, Message: "network_error"}
}

func (s *Service) submitDebounced(ctx context.Context, record *udm.UDM, job upstream.Job, clientTsMs int64) {
	deviceKey := record.DeviceKey()
	taskKey := job.Upstream.ID + ":" + record.Ad.AdID + ":" + deviceKey

	nowMs := time.Now().UnixMilli()
	orderTsMs := clientTsMs
	if nowMs > orderTsMs {
		orderTsMs = nowMs
	}

	maxWaitMs := s.cfg.Settings.Debounce.MaxWaitMs
	submitTimeout := time.Duration(s.cfg.Settings.Debounce.SubmitTimeoutMs) * time.Millisecond

	udmJSON, err := json.Marshal(record)
	if err != nil {
		s.logger.Error("failed to marshal udm for debounce submit", zap.Error(err))
		outcome := s.adapter.Dispatch(ctx, job)
		s.publisher.PublishTrack(ctx, eventbus.TrackEvent{
			Rid: job.Rid, UpstreamID: job.Upstream.ID, EventType: job.EventType,
			Status: outcome.Status, OccurredAt: time.Now(),
		})
		return
	}

	debounceJob := debounce.Job{
		TraceID:          job.Rid,
		UDM:              udmJSON,
		UpstreamID:       job.Upstream.ID,
		EventType:        job.EventType,
		CallbackTemplate: job.CallbackTemplate,
		RouteParams:      job.RouteCustomParams,
	}

	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	_, err = s.debouncer.Submit(submitCtx, taskKey, nowMs, maxWaitMs, orderTsMs, debounceJob)
	if err == nil {
		return
	}

	if submitCtx.Err() != nil {
		// Protective front-end timeout exceeded: reschedule in the
		// background and still report success to the caller.
		go func() {
			bgCtx, bgCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer bgCancel()
			if _, err := s.debouncer.Submit(bgCtx, taskKey, nowMs, maxWaitMs, orderTsMs, debounceJob); err != nil {
				s.logger.Warn("background debounce submit failed, dropping", zap.String("task_key", taskKey), zap.Error(err))
			}
		}()
		return
	}

	// Submit failed outright (infrastructure down): degrade to direct
	// dispatch rather than drop the event.
	s.logger.Warn("debounce submit failed, falling back to direct dispatch", zap.String("task_key", taskKey), zap.Error(err))
	outcome := s.adapter.Dispatch(ctx, job)
	s.publisher.PublishTrack(ctx, eventbus.TrackEvent{
		Rid: job.Rid, UpstreamID: job.Upstream.ID, EventType: job.EventType,
		Status: outcome.Status, OccurredAt: time.Now(),
	})
}

func cleanQuery(query url.Values) url.Values {
	cleaned := url.Values{}
	for key, values := range query {
		for _, v := range values {
			if unreplacedPlaceholder.MatchString(v) {
				cleaned.Set(key, "")
				continue
			}
			cleaned.Set(key, v)
		}
	}
	return cleaned
}

func buildUDM(q url.Values, dsID, eventType string, tsMs int64) *udm.UDM {
	record := udm.New()
	record.Event.Type = eventType
	record.Click.Source = dsID
	record.Click.ID = q.Get("click_id")
	record.Ad.AdID = q.Get("ad_id")
	record.Ad.ChannelID = q.Get("channel_id")
	record.Ad.CampaignID = q.Get("campaign_id")
	record.Time.TS = tsMs

	record.Device.OS = q.Get("device_os")
	record.Device.OSVersion = q.Get("device_os_version")
	record.Device.Model = q.Get("device_model")
	record.Device.Brand = q.Get("device_brand")
	record.Device.IDFA = q.Get("device_idfa")
	record.Device.OAID = q.Get("device_oaid")
	record.Device.IMEI = q.Get("device_imei")
	record.Device.AndroidID = q.Get("device_android_id")
	record.Device.CAID = q.Get("device_caid")
	record.Device.MAC = q.Get("device_mac")

	record.User.PhoneMD5 = q.Get("user_phone_md5")
	record.User.EmailSHA256 = q.Get("user_email_sha256")

	// net.ip / net.ua come ONLY from explicit query parameters, never
	// transport headers.
	record.Net.IP = q.Get("ip")
	record.Net.UA = q.Get("ua")

	record.Meta.DownstreamID = dsID
	for key, values := range q {
		if strings.HasPrefix(key, "ext_") && len(values) > 0 {
			record.Meta.Ext[strings.TrimPrefix(key, "ext_")] = values[0]
		}
	}
	return record
}
