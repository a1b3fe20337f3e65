package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/arc-self/apps/adrelay-service/internal/config"
	"github.com/arc-self/apps/adrelay-service/internal/eventbus"
	"github.com/arc-self/apps/adrelay-service/internal/httpclient"
	"github.com/arc-self/apps/adrelay-service/internal/repository/db"
	"github.com/arc-self/apps/adrelay-service/internal/repository/mock"
)

func newTestService(t *testing.T, cfg *config.Config) (*Service, *mock.MockQuerier) {
	ctrl := gomock.NewController(t)
	q := mock.NewMockQuerier(ctrl)
	logger := zap.NewNop()
	return New(cfg, httpclient.New(logger), q, eventbus.New(nil, logger), logger), q
}

func rowJSON(t *testing.T, callbackTemplate string) []byte {
	data, err := json.Marshal(map[string]interface{}{"callback_template": callbackTemplate})
	require.NoError(t, err)
	return data
}

// rowJSONWithCampaign mirrors what upstream.Adapter.Dispatch actually
// persists: the full outbound UDM under "query", campaign_id included,
// alongside the callback template.
func rowJSONWithCampaign(t *testing.T, callbackTemplate, campaignID string) []byte {
	data, err := json.Marshal(map[string]interface{}{
		"callback_template": callbackTemplate,
		"query": map[string]interface{}{
			"Ad": map[string]interface{}{"CampaignID": campaignID},
		},
	})
	require.NoError(t, err)
	return data
}

func TestCallback_RoutingKillSwitchShortCircuits(t *testing.T) {
	disabled := false
	cfg := &config.Config{Settings: config.Settings{RoutingEnabled: &disabled}}
	svc, _ := newTestService(t, cfg)
	resp := svc.Callback(context.Background(), "rid-1", url.Values{}, nil, "", "")
	assert.True(t, resp.Success)
	assert.Equal(t, 200, resp.Code)
}

func TestCallback_NotInWhitelistReturnsOkWithoutDispatch(t *testing.T) {
	cfg := &config.Config{
		Settings: config.Settings{},
		Upstreams: map[string]config.Upstream{
			"up1": {ID: "up1"},
		},
		Routes: []config.Route{
			{
				MatchKey: "ad_id",
				Rules: []config.Rule{
					{Equals: "ad-1", Upstream: "up1", Downstream: "ds1", CallbackEvents: []interface{}{"paid"}},
				},
			},
		},
	}
	svc, q := newTestService(t, cfg)

	q.EXPECT().FindRequestLogByRid(gomock.Any(), "rid-1").Return(db.RequestLog{
		Rid: "rid-1", DsID: "ds1", UpID: "up1",
		AdID:         pgtype.Text{String: "ad-1", Valid: true},
		UploadParams: rowJSON(t, "https://ds.example/cb?e=__EVENT__"),
	}, nil)
	q.EXPECT().UpdateRequestLogByRid(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p db.UpdateRequestLogParams) error {
			assert.Equal(t, db.CallbackNotInWhitelist, p.IsCallbackSent)
			return nil
		})

	resp := svc.Callback(context.Background(), "rid-1", url.Values{}, nil, "", "")
	assert.True(t, resp.Success)
	assert.Equal(t, 200, resp.Code)
}

func TestCallback_ThrottledReturnsOkWithoutDispatch(t *testing.T) {
	cfg := &config.Config{
		Upstreams: map[string]config.Upstream{"up1": {ID: "up1"}},
		Routes: []config.Route{
			{
				MatchKey: "ad_id",
				Rules: []config.Rule{
					{Equals: "ad-1", Upstream: "up1", Downstream: "ds1", CallbackEvents: []interface{}{""}, Throttle: floatPtr(1.0)},
				},
			},
		},
	}
	svc, q := newTestService(t, cfg)

	q.EXPECT().FindRequestLogByRid(gomock.Any(), "rid-1").Return(db.RequestLog{
		Rid: "rid-1", DsID: "ds1", UpID: "up1",
		AdID:         pgtype.Text{String: "ad-1", Valid: true},
		UploadParams: rowJSON(t, "https://ds.example/cb"),
	}, nil)
	q.EXPECT().UpdateRequestLogByRid(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p db.UpdateRequestLogParams) error {
			assert.Equal(t, db.CallbackThrottled, p.IsCallbackSent)
			return nil
		})

	resp := svc.Callback(context.Background(), "rid-1", url.Values{}, nil, "", "")
	assert.True(t, resp.Success)
	assert.Equal(t, 200, resp.Code)
}

func TestCallback_DispatchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.Config{
		Upstreams: map[string]config.Upstream{"up1": {ID: "up1"}},
		Routes: []config.Route{
			{
				MatchKey: "ad_id",
				Rules: []config.Rule{
					{Equals: "ad-1", Upstream: "up1", Downstream: "ds1", CallbackEvents: []interface{}{""}},
				},
			},
		},
	}
	svc, q := newTestService(t, cfg)

	q.EXPECT().FindRequestLogByRid(gomock.Any(), "rid-1").Return(db.RequestLog{
		Rid: "rid-1", DsID: "ds1", UpID: "up1",
		AdID:         pgtype.Text{String: "ad-1", Valid: true},
		UploadParams: rowJSON(t, srv.URL+"/cb"),
	}, nil)
	q.EXPECT().UpdateRequestLogByRid(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p db.UpdateRequestLogParams) error {
			assert.Equal(t, db.CallbackSent, p.IsCallbackSent)
			return nil
		})

	resp := svc.Callback(context.Background(), "rid-1", url.Values{}, nil, "", "")
	assert.True(t, resp.Success)
	assert.Equal(t, 200, resp.Code)
}

// TestCallback_RouteMatchesOnCampaignID guards against routingUDM being
// rebuilt from row.AdID/row.ChannelID alone: a route keyed on campaign_id
// must recover campaign_id out of the persisted upload_params blob, not
// silently fall through to the fallback route.
func TestCallback_RouteMatchesOnCampaignID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.Config{
		Upstreams: map[string]config.Upstream{"up1": {ID: "up1"}},
		Routes: []config.Route{
			{
				MatchKey: "campaign_id",
				Rules: []config.Rule{
					{Equals: "camp-1", Upstream: "up1", Downstream: "ds1", CallbackEvents: []interface{}{""}},
				},
			},
		},
	}
	svc, q := newTestService(t, cfg)

	q.EXPECT().FindRequestLogByRid(gomock.Any(), "rid-1").Return(db.RequestLog{
		Rid: "rid-1", DsID: "ds1", UpID: "up1",
		AdID:         pgtype.Text{String: "ad-1", Valid: true},
		UploadParams: rowJSONWithCampaign(t, srv.URL+"/cb", "camp-1"),
	}, nil)
	q.EXPECT().UpdateRequestLogByRid(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p db.UpdateRequestLogParams) error {
			assert.Equal(t, db.CallbackSent, p.IsCallbackSent)
			return nil
		})

	resp := svc.Callback(context.Background(), "rid-1", url.Values{}, nil, "", "")
	assert.True(t, resp.Success)
	assert.Equal(t, 200, resp.Code)
}

func TestNormalizeEventName(t *testing.T) {
	assert.Equal(t, "clickid", normalizeEventName("CLICK_ID"))
	assert.Equal(t, "clickid", normalizeEventName("click-id"))
	assert.Equal(t, "clickid", normalizeEventName(" Click Id "))
}

func floatPtr(v float64) *float64 { return &v }
