// Package advisor implements the AI advisor client (spec §4.D): request
// construction, retry/backoff, circuit-breaker gating, and response
// validation against the external reasoning oracle.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solmev/internal/backoff"
	"github.com/ajitpratap0/solmev/internal/breaker"
)

// Config configures the advisor HTTP client.
type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = "http://localhost:8090/v1/chat/completions"
	}
	if c.Model == "" {
		c.Model = "mev-advisor-v1"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 512
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}
	return c
}

// Client wraps a single advisor endpoint with the breaker+backoff contract
// from spec §4.D.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *breaker.Breaker
	log        zerolog.Logger
}

// NewClient builds a Client. The breaker is owned by the caller so the
// dispatcher can share operator force-open/close controls across handlers.
func NewClient(cfg Config, br *breaker.Breaker, log zerolog.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.CallTimeout},
		breaker:    br,
		log:        log.With().Str("component", "advisor").Logger(),
	}
}

// Decide implements the per-call algorithm of spec §4.D.
func (c *Client) Decide(ctx context.Context, snap FeatureSnapshot) (Decision, error) {
	if !c.breaker.Allow() {
		return Decision{}, ErrBreakerOpen
	}

	retryCounter := backoff.NewCounter(backoff.AdvisorPolicy())
	rateLimitCounter := backoff.NewCounter(backoff.RateLimitedPolicy())

	for {
		decision, err := c.attempt(ctx, snap)
		if err == nil {
			c.breaker.RecordSuccess()
			retryCounter.Reset()
			return decision, nil
		}

		var httpErr *HTTPError
		if asHTTPError(err, &httpErr) {
			switch {
			case httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden:
				c.breaker.RecordFailure()
				return Decision{}, fmt.Errorf("%w: %s", ErrAuth, httpErr.Message)
			case httpErr.StatusCode == http.StatusTooManyRequests:
				if !rateLimitCounter.CanRetry() {
					c.breaker.RecordFailure()
					return Decision{}, ErrExhausted
				}
				wait := retryAfterOr(httpErr, rateLimitCounter.Next())
				if sleepErr := sleepCtx(ctx, wait); sleepErr != nil {
					return Decision{}, sleepErr
				}
				continue
			case httpErr.Retryable:
				if !retryCounter.CanRetry() {
					c.breaker.RecordFailure()
					return Decision{}, ErrExhausted
				}
				if sleepErr := sleepCtx(ctx, retryCounter.Next()); sleepErr != nil {
					return Decision{}, sleepErr
				}
				if !c.breaker.Allow() {
					return Decision{}, ErrBreakerOpen
				}
				continue
			default:
				c.breaker.RecordFailure()
				return Decision{}, err
			}
		}

		// Network error, timeout, or malformed response: retryable under
		// the advisor policy unless malformed, which is counted but not
		// retried per spec §4.D tie-break note.
		if errIsMalformed(err) {
			c.breaker.RecordFailure()
			return Decision{}, err
		}
		if !retryCounter.CanRetry() {
			c.breaker.RecordFailure()
			return Decision{}, ErrExhausted
		}
		if sleepErr := sleepCtx(ctx, retryCounter.Next()); sleepErr != nil {
			return Decision{}, sleepErr
		}
		if !c.breaker.Allow() {
			return Decision{}, ErrBreakerOpen
		}
	}
}

func (c *Client) attempt(ctx context.Context, snap FeatureSnapshot) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	req := chatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: "Respond with a single JSON object: {action, confidence, reasoning, risk_level, recommended_slippage_bps}."},
			{Role: "user", Content: describeSnapshot(snap)},
		},
		ResponseFormat: map[string]any{"type": "json_object"},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Decision{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Decision{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Decision{}, err
	}

	if resp.StatusCode != http.StatusOK {
		httpErr := classifyStatus(resp.StatusCode, string(raw))
		httpErr.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return Decision{}, httpErr
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(chat.Choices) == 0 {
		return Decision{}, fmt.Errorf("%w: no choices", ErrMalformed)
	}

	var payload decisionPayload
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &payload); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return payload.toDecision()
}

func (p decisionPayload) toDecision() (Decision, error) {
	if p.Action == "" {
		return Decision{}, fmt.Errorf("%w: missing action", ErrMalformed)
	}
	action := Action(strings.ToLower(p.Action))
	switch action {
	case ActionExecute, ActionSkip, ActionDefer:
	default:
		return Decision{}, fmt.Errorf("%w: invalid action %q", ErrMalformed, p.Action)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return Decision{}, fmt.Errorf("%w: confidence out of range", ErrMalformed)
	}
	risk := 0.5
	if p.RiskLevel != nil {
		risk = *p.RiskLevel
	}
	slippage := 50
	if p.RecommendedSlippageBps != nil {
		slippage = *p.RecommendedSlippageBps
	}
	return Decision{
		Action:                 action,
		Confidence:             p.Confidence,
		RiskScore:              risk,
		RecommendedSlippageBps: slippage,
		Rationale:              p.Reasoning,
		Source:                 SourceAdvisor,
	}, nil
}

func describeSnapshot(s FeatureSnapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "mint=%s price=%.6f change24h=%.4f volume=%.2f volatility=%.4f profit=%.6f",
		s.Mint, s.Price, s.Change24h, s.Volume, s.Volatility, s.EstimatedProfit)
	if s.RSI != nil {
		fmt.Fprintf(&sb, " rsi=%.2f", *s.RSI)
	}
	if s.ShortMA != nil && s.LongMA != nil {
		fmt.Fprintf(&sb, " short_ma=%.6f long_ma=%.6f", *s.ShortMA, *s.LongMA)
	}
	return sb.String()
}

func asHTTPError(err error, target **HTTPError) bool {
	he, ok := err.(*HTTPError)
	if ok {
		*target = he
	}
	return ok
}

func errIsMalformed(err error) bool {
	return err != nil && strings.Contains(err.Error(), ErrMalformed.Error())
}

func retryAfterOr(e *HTTPError, fallback time.Duration) time.Duration {
	if e.retryAfter > 0 {
		return e.retryAfter
	}
	return fallback
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
