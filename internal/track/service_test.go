package track

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/arc-self/apps/adrelay-service/internal/config"
	"github.com/arc-self/apps/adrelay-service/internal/eventbus"
	"github.com/arc-self/apps/adrelay-service/internal/httpclient"
	"github.com/arc-self/apps/adrelay-service/internal/repository/db"
	"github.com/arc-self/apps/adrelay-service/internal/repository/mock"
	"github.com/arc-self/apps/adrelay-service/internal/upstream"
)

func baseCfg(upstreamURL string) *config.Config {
	return &config.Config{
		Settings: config.Settings{Debounce: config.DebounceConfig{Enabled: false}},
		Upstreams: map[string]config.Upstream{
			"up1": {
				ID: "up1",
				Adapters: config.UpstreamAdapters{
					Outbound: map[string]config.Adapter{
						"click": {URL: upstreamURL + "/track?ad={{ad}}", Method: "GET", Macros: map[string]string{"ad": "ad.ad_id"}},
					},
				},
			},
		},
		Downstreams: map[string]config.Downstream{"ds1": {ID: "ds1"}},
		Routes: []config.Route{
			{
				MatchKey: "ad_id",
				Rules: []config.Rule{
					{Equals: "ad-1", Upstream: "up1", Downstream: "ds1"},
				},
				FallbackEnabled: false,
			},
		},
	}
}

func newService(t *testing.T, cfg *config.Config) (*Service, *mock.MockQuerier) {
	ctrl := gomock.NewController(t)
	q := mock.NewMockQuerier(ctrl)
	logger := zap.NewNop()
	adapter := upstream.New(httpclient.New(logger), q, logger, "https://relay.example")
	pub := eventbus.New(nil, logger)
	return New(cfg, adapter, nil, pub, logger), q
}

func TestTrack_MissingRequiredParams(t *testing.T) {
	svc, _ := newService(t, baseCfg("https://example.com"))
	resp := svc.Track(context.Background(), url.Values{"ds_id": {"ds1"}})
	assert.False(t, resp.Success)
	assert.Equal(t, 400, resp.Code)
}

func TestTrack_InvalidEventType(t *testing.T) {
	svc, _ := newService(t, baseCfg("https://example.com"))
	q := url.Values{"ds_id": {"ds1"}, "event_type": {"bogus"}, "ad_id": {"ad-1"}}
	resp := svc.Track(context.Background(), q)
	assert.False(t, resp.Success)
	assert.Equal(t, 400, resp.Code)
}

func TestTrack_LinkClosedWhenNoRouteMatches(t *testing.T) {
	svc, _ := newService(t, baseCfg("https://example.com"))
	q := url.Values{"ds_id": {"ds1"}, "event_type": {"click"}, "ad_id": {"unmatched-ad"}}
	resp := svc.Track(context.Background(), q)
	assert.False(t, resp.Success)
	assert.Equal(t, 400, resp.Code)
	assert.Equal(t, "link closed", resp.Message)
}

func TestTrack_DirectDispatchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ad-1", r.URL.Query().Get("ad"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc, q := newService(t, baseCfg(srv.URL))
	q.EXPECT().InsertRequestLog(gomock.Any(), gomock.Any()).Return(db.RequestLog{}, nil)

	qv := url.Values{"ds_id": {"ds1"}, "event_type": {"click"}, "ad_id": {"ad-1"}}
	resp := svc.Track(context.Background(), qv)
	require.True(t, resp.Success)
	assert.Equal(t, 200, resp.Code)
}

func TestTrack_PlaceholderQueryValuesAreCleared(t *testing.T) {
	q := url.Values{"click_id": {"__CLICK_ID__"}, "ad_id": {"ad-1"}}
	cleaned := cleanQuery(q)
	assert.Equal(t, "", cleaned.Get("click_id"))
	assert.Equal(t, "ad-1", cleaned.Get("ad_id"))
}

func TestBuildUDM_ExtFieldsAndNetFromQueryOnly(t *testing.T) {
	q := url.Values{
		"ext_foo": {"bar"},
		"ip":      {"1.2.3.4"},
		"ua":      {"some-agent"},
	}
	record := buildUDM(q, "ds1", "click", 1000)
	assert.Equal(t, "bar", record.Meta.Ext["foo"])
	assert.Equal(t, "1.2.3.4", record.Net.IP)
	assert.Equal(t, "some-agent", record.Net.UA)
}

func TestPercentDecodeOnce(t *testing.T) {
	decoded, err := percentDecodeOnce("https%3A%2F%2Fds.example%2Fcb%3Ffoo%3Dbar")
	require.NoError(t, err)
	assert.Equal(t, "https://ds.example/cb?foo=bar", decoded)
}
