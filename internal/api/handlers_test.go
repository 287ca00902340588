package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/solmev/internal/advisor"
	"github.com/ajitpratap0/solmev/internal/breaker"
	"github.com/ajitpratap0/solmev/internal/bundle"
	"github.com/ajitpratap0/solmev/internal/classifier"
	"github.com/ajitpratap0/solmev/internal/dispatcher"
	"github.com/ajitpratap0/solmev/internal/metrics"
	"github.com/ajitpratap0/solmev/internal/tipoptimizer"
)

func newTestServer(t *testing.T) *Server {
	advisorSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(advisorSrv.Close)
	engineSrv := httptest.NewServer(http.NewServeMux())
	t.Cleanup(engineSrv.Close)

	hub := metrics.New()
	br := breaker.New(breaker.DefaultConfig())
	advClient := advisor.NewClient(advisor.Config{Endpoint: advisorSrv.URL}, br, zerolog.Nop())
	optimizer := tipoptimizer.New(tipoptimizer.Config{EngineMinimumLamports: 1000}, tipoptimizer.NewMemoryState())
	submitter := bundle.New(bundle.Config{Endpoint: engineSrv.URL, EngineMinimumLamports: 1000}, zerolog.Nop())
	dedup := classifier.NewDedup()

	features := func(classifier.Opportunity) advisor.FeatureSnapshot { return advisor.FeatureSnapshot{Mint: "SOL"} }
	tierOf := func(classifier.Opportunity) tipoptimizer.Tier { return tipoptimizer.TierNormal }

	d := dispatcher.New(dispatcher.Config{MaxInFlight: 2}, advClient, optimizer, submitter, dedup, hub, features, tierOf, zerolog.Nop())

	return NewServer(Config{
		Host:           "127.0.0.1",
		Port:           0,
		Dispatcher:     d,
		AdvisorBreaker: br,
		Hub:            hub,
	})
}

func doRequest(s *Server, method, path string, body io.Reader) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, body)
	s.router.ServeHTTP(w, req)
	return w
}

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}

func TestHandleGetHealth(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleGetMetrics(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/api/v1/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
}

func TestHandleGetWindowedMetrics(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/api/v1/metrics/windowed", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleBreakerForceOpenCloseClear(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/v1/breaker/force-open", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, breaker.Open, s.advisorBrk.State())

	w = doRequest(s, http.MethodPost, "/api/v1/breaker/force-close", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, breaker.Closed, s.advisorBrk.State())

	w = doRequest(s, http.MethodPost, "/api/v1/breaker/clear", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodGet, "/api/v1/breaker", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleDispatcherPauseResume(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/v1/dispatcher/pause", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodPost, "/api/v1/dispatcher/resume", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodGet, "/api/v1/dispatcher/highwatermark", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleTierOverrideLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/dispatcher/tier-overrides/arbitrage", jsonBody(`{"tier":"mev"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodGet, "/api/v1/dispatcher/tier-overrides", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mev")

	w = doRequest(s, http.MethodDelete, "/api/v1/dispatcher/tier-overrides/arbitrage", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleSetTierOverride_RejectsUnknownTier(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/dispatcher/tier-overrides/sandwich", jsonBody(`{"tier":"bogus"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
