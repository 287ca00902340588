// Package bundle is the Bundle Submitter (spec §4.J): it builds, submits,
// and polls bundles against the external block-engine HTTP service,
// reconciling each submission to a single terminal outcome.
package bundle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solmev/internal/backoff"
)

const (
	maxTransactions    = 5
	submitTimeout      = 5 * time.Second
	pollInterval       = 200 * time.Millisecond
	maxPollWindow      = 2 * time.Second
)

var (
	ErrTooFewTransactions = errors.New("bundle: requires at least 1 transaction")
	ErrTooManyTransactions = errors.New("bundle: at most 5 transactions")
	ErrTipBelowMinimum    = errors.New("bundle: tip below engine minimum")
	ErrMalformedSignature = errors.New("bundle: malformed transaction signature")
	ErrCanceled           = errors.New("bundle: canceled before terminal outcome")
)

// Bundle is an ordered set of signed transactions submitted atomically.
type Bundle struct {
	ID           string
	Transactions [][]byte
	TipAccount   string
	TipLamports  uint64
	Endpoint     string
	CreatedAt    time.Time
}

// Status is a submission's terminal or in-flight state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusDropped   Status = "dropped"
	StatusTimedOut  Status = "timed_out"
)

// Outcome is the reconciled result of one submission.
type Outcome struct {
	BundleID string
	Status   Status
	Slot     uint64
	Reason   string
}

// Config configures the block-engine HTTP endpoint and tip floor.
type Config struct {
	Endpoint            string
	EngineMinimumLamports uint64
}

// Submitter builds, submits, and polls bundles.
type Submitter struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
}

// New builds a Submitter.
func New(cfg Config, log zerolog.Logger) *Submitter {
	return &Submitter{
		cfg:        cfg,
		httpClient: &http.Client{},
		log:        log.With().Str("component", "bundle_submitter").Logger(),
	}
}

// Build validates and constructs a Bundle, per spec §4.J build().
func (s *Submitter) Build(txs [][]byte, tipAccount string, tipLamports uint64) (Bundle, error) {
	if len(txs) < 1 {
		return Bundle{}, ErrTooFewTransactions
	}
	if len(txs) > maxTransactions {
		return Bundle{}, ErrTooManyTransactions
	}
	if tipLamports < s.cfg.EngineMinimumLamports {
		return Bundle{}, ErrTipBelowMinimum
	}
	for _, tx := range txs {
		if len(tx) == 0 {
			return Bundle{}, ErrMalformedSignature
		}
	}
	return Bundle{
		ID:           uuid.NewString(),
		Transactions: txs,
		TipAccount:   tipAccount,
		TipLamports:  tipLamports,
		Endpoint:     s.cfg.Endpoint,
		CreatedAt:    time.Now(),
	}, nil
}

type submitRequest struct {
	Transactions []string `json:"transactions"`
	TipAccount   string   `json:"tip_account"`
	TipLamports  uint64   `json:"tip_lamports"`
	BundleID     string   `json:"bundle_id"`
}

type submitResponse struct {
	EngineID string `json:"engine_id"`
	Status   string `json:"status"`
}

// Submit POSTs the bundle to the block engine, following spec §4.J's
// retry policy: honor Retry-After on 429, retry up to 3 times with
// backoff on 5xx, never retry other 4xx.
func (s *Submitter) Submit(ctx context.Context, b Bundle) (string, error) {
	encoded := make([]string, len(b.Transactions))
	for i, tx := range b.Transactions {
		encoded[i] = base64.StdEncoding.EncodeToString(tx)
	}
	payload, err := json.Marshal(submitRequest{
		Transactions: encoded,
		TipAccount:   b.TipAccount,
		TipLamports:  b.TipLamports,
		BundleID:     b.ID,
	})
	if err != nil {
		return "", fmt.Errorf("bundle: marshal submit request: %w", err)
	}

	policy := backoff.RateLimitedPolicy()
	counter := backoff.NewCounter(policy)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		id, retryAfter, retryable, err := s.attemptSubmit(ctx, payload)
		if err == nil {
			return id, nil
		}
		if !retryable || !counter.CanRetry() {
			return "", err
		}

		delay := retryAfter
		if delay <= 0 {
			delay = counter.Next()
		} else {
			counter.Next()
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Submitter) attemptSubmit(ctx context.Context, payload []byte) (id string, retryAfter time.Duration, retryable bool, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.cfg.Endpoint+"/bundle", bytes.NewReader(payload))
	if err != nil {
		return "", 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", 0, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		ra := parseRetryAfter(resp.Header.Get("Retry-After"))
		return "", ra, true, fmt.Errorf("bundle: rate limited")
	}
	if resp.StatusCode >= 500 {
		return "", 0, true, fmt.Errorf("bundle: engine error status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return "", 0, false, fmt.Errorf("bundle: rejected status %d", resp.StatusCode)
	}

	var parsed submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, false, fmt.Errorf("bundle: decode submit response: %w", err)
	}
	return parsed.EngineID, 0, false, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

type pollResponse struct {
	Status string `json:"status"`
	Slot   uint64 `json:"slot"`
	Reason string `json:"reason"`
}

// Poll polls the engine every 200ms until a terminal status or the cap
// min(remaining-deadline, 2s) is reached, per spec §4.J poll().
func (s *Submitter) Poll(ctx context.Context, engineID string, deadline time.Time) Outcome {
	window := time.Until(deadline)
	if window > maxPollWindow || window <= 0 {
		window = maxPollWindow
	}

	pollCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			return Outcome{BundleID: engineID, Status: StatusTimedOut}
		case <-ticker.C:
			status, terminal := s.pollOnce(pollCtx, engineID)
			if terminal {
				return status
			}
		}
	}
}

func (s *Submitter) pollOnce(ctx context.Context, engineID string) (Outcome, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Endpoint+"/bundle/"+engineID, nil)
	if err != nil {
		return Outcome{}, false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Outcome{}, false
	}
	defer resp.Body.Close()

	var parsed pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Outcome{}, false
	}

	switch parsed.Status {
	case "landed":
		return Outcome{BundleID: engineID, Status: StatusConfirmed, Slot: parsed.Slot}, true
	case "dropped":
		// Engine accepted the bundle but it never landed (e.g. expired
		// from the leader's queue) -- distinct from an outright reject.
		return Outcome{BundleID: engineID, Status: StatusDropped, Reason: parsed.Reason}, true
	case "failed":
		return Outcome{BundleID: engineID, Status: StatusRejected, Reason: parsed.Reason}, true
	default:
		return Outcome{}, false
	}
}
