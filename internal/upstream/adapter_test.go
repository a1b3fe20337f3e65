package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/arc-self/apps/adrelay-service/internal/config"
	"github.com/arc-self/apps/adrelay-service/internal/httpclient"
	"github.com/arc-self/apps/adrelay-service/internal/repository/db"
	"github.com/arc-self/apps/adrelay-service/internal/repository/mock"
	"github.com/arc-self/apps/adrelay-service/internal/udm"
)

func TestAdapter_Dispatch_NoAdapterForEventType(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	q := mock.NewMockQuerier(ctrl)
	a := New(httpclient.New(zap.NewNop()), q, zap.NewNop(), "https://relay.example")

	outcome := a.Dispatch(context.Background(), Job{
		Rid:       "rid-1",
		UDM:       udm.New(),
		Upstream:  config.Upstream{ID: "up1", Adapters: config.UpstreamAdapters{}},
		EventType: "click",
	})
	assert.True(t, outcome.NoAdapter)
	assert.Equal(t, 200, outcome.Status)
}

func TestAdapter_Dispatch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ad-1", r.URL.Query().Get("ad_id"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	q := mock.NewMockQuerier(ctrl)
	q.EXPECT().
		InsertRequestLog(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p db.InsertRequestLogParams) (db.RequestLog, error) {
			assert.Equal(t, "rid-1", p.Rid)
			assert.Equal(t, db.TrackStatusUpstream200, p.TrackStatus)
			return db.RequestLog{}, nil
		})

	a := New(httpclient.New(zap.NewNop()), q, zap.NewNop(), "https://relay.example")

	record := udm.New()
	record.Ad.AdID = "ad-1"

	upstreamCfg := config.Upstream{
		ID: "up1",
		Adapters: config.UpstreamAdapters{
			Outbound: map[string]config.Adapter{
				"click": {
					URL:    srv.URL + "/track?ad_id={{ad}}",
					Method: "GET",
					Macros: map[string]string{"ad": "ad.ad_id"},
				},
			},
		},
	}

	outcome := a.Dispatch(context.Background(), Job{
		Rid:       "rid-1",
		UDM:       record,
		Upstream:  upstreamCfg,
		EventType: "click",
	})
	require.False(t, outcome.NoAdapter)
	assert.Equal(t, 200, outcome.Status)
}

func TestAdapter_CallbackURL_AppendsTemplateQuery(t *testing.T) {
	a := New(nil, nil, zap.NewNop(), "https://relay.example")
	url := a.callbackURL("rid-1", "https://ds.example/cb?foo=bar")
	assert.Equal(t, "https://relay.example/cb?rid=rid-1&foo=bar", url)

	url2 := a.callbackURL("rid-2", "https://ds.example/cb")
	assert.Equal(t, "https://relay.example/cb?rid=rid-2", url2)
}
