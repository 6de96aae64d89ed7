package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/aescanero/dago-chat-router/internal/metrics"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthServer(t *testing.T) {
	var pingErr error
	ready := false
	checks := map[string]Pinger{
		"redis": PingFunc(func(context.Context) error { return pingErr }),
	}
	reg := prometheus.NewRegistry()
	metrics.New(reg).SetActiveRules(3)

	hs := NewHealthServer(0, checks, func() bool { return ready }, reg, zap.NewNop())
	h := hs.Handler()

	rec := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","checks":{"redis":"healthy"}}`, rec.Body.String())

	rec = get(t, h, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready = true
	rec = get(t, h, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())

	pingErr = errors.New("connection refused")
	rec = get(t, h, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/ready").Code)

	rec = get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dago_router_active_rules 3")
}

func TestHealthServer_StopWithoutStart(t *testing.T) {
	hs := NewHealthServer(0, nil, nil, nil, zap.NewNop())
	assert.NoError(t, hs.Stop())
	assert.Equal(t, http.StatusOK, get(t, hs.Handler(), "/ready").Code)
	assert.Equal(t, http.StatusNotFound, get(t, hs.Handler(), "/metrics").Code)
}
