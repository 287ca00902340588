package advisor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/solmev/internal/breaker"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *breaker.Breaker) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	br := breaker.New(breaker.DefaultConfig())
	c := NewClient(Config{Endpoint: srv.URL, CallTimeout: 2 * time.Second}, br, zerolog.Nop())
	return c, br
}

func chatBody(action string, confidence float64) []byte {
	payload := decisionPayload{Action: action, Confidence: confidence, Reasoning: "test"}
	content, _ := json.Marshal(payload)
	resp := chatResponse{}
	resp.Choices = []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	}{{Message: struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: "assistant", Content: string(content)}}}
	b, _ := json.Marshal(resp)
	return b
}

func TestDecide_Success(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatBody("execute", 0.9))
	})
	d, err := c.Decide(t.Context(), FeatureSnapshot{Mint: "ABC"})
	require.NoError(t, err)
	assert.Equal(t, ActionExecute, d.Action)
	assert.Equal(t, SourceAdvisor, d.Source)
}

func TestDecide_BreakerOpenShortCircuits(t *testing.T) {
	var calls int32
	c, br := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write(chatBody("execute", 0.9))
	})
	br.ForceOpen()
	_, err := c.Decide(t.Context(), FeatureSnapshot{})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestDecide_AuthNotRetried(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	})
	_, err := c.Decide(t.Context(), FeatureSnapshot{})
	assert.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDecide_MalformedMissingAction(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatBody("", 0.9))
	})
	_, err := c.Decide(t.Context(), FeatureSnapshot{})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecide_RateLimitRetriesThenSucceeds(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(chatBody("skip", 0.5))
	})
	d, err := c.Decide(t.Context(), FeatureSnapshot{})
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, d.Action)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDecide_ServerErrorExhaustsRetries(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := c.Decide(t.Context(), FeatureSnapshot{})
	assert.Error(t, err)
}
