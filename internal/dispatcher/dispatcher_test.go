package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/solmev/internal/advisor"
	"github.com/ajitpratap0/solmev/internal/breaker"
	"github.com/ajitpratap0/solmev/internal/bundle"
	"github.com/ajitpratap0/solmev/internal/classifier"
	"github.com/ajitpratap0/solmev/internal/metrics"
	"github.com/ajitpratap0/solmev/internal/tipoptimizer"
)

func alwaysExecuteAdvisorServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": `{"action":"execute","confidence":0.9,"risk_level":0.1,"recommended_slippage_bps":50,"reasoning":"ok"}`}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func engineServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/bundle", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"engine_id": "eng-1", "status": "pending"})
	})
	mux.HandleFunc("/bundle/eng-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "landed", "slot": 55})
	})
	return httptest.NewServer(mux)
}

func newTestDispatcher(t *testing.T, advisorSrv, engineSrv *httptest.Server) (*Dispatcher, *metrics.Hub) {
	hub := metrics.New()
	br := breaker.New(breaker.DefaultConfig())
	advClient := advisor.NewClient(advisor.Config{Endpoint: advisorSrv.URL}, br, zerolog.Nop())
	optimizer := tipoptimizer.New(tipoptimizer.Config{EngineMinimumLamports: 1000}, tipoptimizer.NewMemoryState())
	submitter := bundle.New(bundle.Config{Endpoint: engineSrv.URL, EngineMinimumLamports: 1000}, zerolog.Nop())
	dedup := classifier.NewDedup()

	features := func(classifier.Opportunity) advisor.FeatureSnapshot { return advisor.FeatureSnapshot{Mint: "SOL"} }
	tierOf := func(classifier.Opportunity) tipoptimizer.Tier { return tipoptimizer.TierHigh }

	d := New(Config{MaxInFlight: 2}, advClient, optimizer, submitter, dedup, hub, features, tierOf, zerolog.Nop())
	return d, hub
}

func TestDispatcher_HappyPathSubmitsAndConfirms(t *testing.T) {
	advisorSrv := alwaysExecuteAdvisorServer(t)
	defer advisorSrv.Close()
	engineSrv := engineServer(t)
	defer engineSrv.Close()

	d, hub := newTestDispatcher(t, advisorSrv, engineSrv)

	opps := make(chan classifier.Opportunity, 1)
	out := make(chan Outcome, 1)
	opps <- classifier.Opportunity{
		ID:                  "opp-1",
		OriginSignature:     "sig-1",
		EstimatedGrossValue: 50_000_000,
		EstimatedCost:       1_000_000,
		Deadline:            time.Now().Add(time.Second),
	}
	close(opps)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d.Run(ctx, opps, out)

	select {
	case o := <-out:
		assert.Equal(t, OutcomeSubmitted, o.Kind)
		assert.Equal(t, bundle.StatusConfirmed, o.Submission.Status)
	default:
		t.Fatal("expected an outcome")
	}
	assert.EqualValues(t, 1, hub.Read().Confirmed)
}

func TestDispatcher_ExpiredBeforeStartIsRecorded(t *testing.T) {
	advisorSrv := alwaysExecuteAdvisorServer(t)
	defer advisorSrv.Close()
	engineSrv := engineServer(t)
	defer engineSrv.Close()

	d, hub := newTestDispatcher(t, advisorSrv, engineSrv)

	opps := make(chan classifier.Opportunity, 1)
	out := make(chan Outcome, 1)
	opps <- classifier.Opportunity{ID: "opp-2", Deadline: time.Now().Add(-time.Millisecond)}
	close(opps)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.Run(ctx, opps, out)

	o := <-out
	assert.Equal(t, OutcomeExpiredBeforeStart, o.Kind)
	assert.EqualValues(t, 1, hub.Read().ExpiredBeforeStart)
}

func droppedEngineServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/bundle", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"engine_id": "eng-dropped", "status": "pending"})
	})
	mux.HandleFunc("/bundle/eng-dropped", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "dropped", "reason": "expired from leader queue"})
	})
	return httptest.NewServer(mux)
}

func TestDispatcher_DroppedIsDistinctFromRejected(t *testing.T) {
	advisorSrv := alwaysExecuteAdvisorServer(t)
	defer advisorSrv.Close()
	engineSrv := droppedEngineServer(t)
	defer engineSrv.Close()

	d, hub := newTestDispatcher(t, advisorSrv, engineSrv)

	opps := make(chan classifier.Opportunity, 1)
	out := make(chan Outcome, 1)
	opps <- classifier.Opportunity{
		ID:                  "opp-dropped",
		OriginSignature:     "sig-dropped",
		EstimatedGrossValue: 50_000_000,
		EstimatedCost:       1_000_000,
		Deadline:            time.Now().Add(time.Second),
	}
	close(opps)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d.Run(ctx, opps, out)

	o := <-out
	assert.Equal(t, OutcomeSubmitted, o.Kind)
	assert.Equal(t, bundle.StatusDropped, o.Submission.Status)
	assert.EqualValues(t, 1, hub.Read().Dropped)
	assert.EqualValues(t, 0, hub.Read().Rejected)
}

func TestDispatcher_NeverExceedsMaxInFlight(t *testing.T) {
	advisorSrv := alwaysExecuteAdvisorServer(t)
	defer advisorSrv.Close()
	engineSrv := engineServer(t)
	defer engineSrv.Close()

	d, _ := newTestDispatcher(t, advisorSrv, engineSrv)

	opps := make(chan classifier.Opportunity, 10)
	out := make(chan Outcome, 10)
	for i := 0; i < 10; i++ {
		opps <- classifier.Opportunity{
			ID:                  "opp",
			EstimatedGrossValue: 50_000_000,
			EstimatedCost:       1_000_000,
			Deadline:            time.Now().Add(2 * time.Second),
		}
	}
	close(opps)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.Run(ctx, opps, out)

	assert.True(t, d.HighWaterMark() <= 2)
}
