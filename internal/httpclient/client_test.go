package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSendWithRetry_SuccessOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(zap.NewNop())
	res := c.SendWithRetry(context.Background(), http.MethodGet, srv.URL, nil, nil, 5000, 1, 200)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, res.JSON["ok"])
	assert.False(t, res.Timeout)
}

func TestSendWithRetry_NonTimeoutErrorNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(zap.NewNop())
	res := c.SendWithRetry(context.Background(), http.MethodGet, srv.URL, nil, nil, 5000, 3, 50)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestSendWithRetry_BudgetExhaustedBeforeFirstAttempt(t *testing.T) {
	c := New(zap.NewNop())
	res := c.SendWithRetry(context.Background(), http.MethodGet, "http://127.0.0.1:1/unreachable", nil, nil, 0, 1, 50)
	assert.Equal(t, 408, res.StatusCode)
	assert.True(t, res.Timeout)
}

func TestSendWithRetry_SlowResponseWithinBudgetIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n == 1 {
			time.Sleep(300 * time.Millisecond)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(zap.NewNop())
	res := c.SendWithRetry(context.Background(), http.MethodGet, srv.URL, nil, nil, 2000, 2, 10)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}
