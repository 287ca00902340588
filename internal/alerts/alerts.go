package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Severity levels for alerts
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert represents an alert message
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// Alerter defines the interface for sending alerts
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager manages multiple alert channels
type Manager struct {
	alerters []Alerter
}

// NewManager creates a new alert manager
func NewManager(alerters ...Alerter) *Manager {
	return &Manager{
		alerters: alerters,
	}
}

// Send sends an alert to all configured alerters
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	var lastErr error
	for _, alerter := range m.alerters {
		if err := alerter.Send(ctx, alert); err != nil {
			log.Error().
				Err(err).
				Str("title", alert.Title).
				Msg("Failed to send alert")
			lastErr = err
		}
	}

	return lastErr
}

// SendCritical is a convenience method for sending critical alerts
func (m *Manager) SendCritical(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{
		Title:    title,
		Message:  message,
		Severity: SeverityCritical,
		Metadata: metadata,
	})
}

// SendWarning is a convenience method for sending warning alerts
func (m *Manager) SendWarning(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{
		Title:    title,
		Message:  message,
		Severity: SeverityWarning,
		Metadata: metadata,
	})
}

// SendInfo is a convenience method for sending info alerts
func (m *Manager) SendInfo(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{
		Title:    title,
		Message:  message,
		Severity: SeverityInfo,
		Metadata: metadata,
	})
}

// LogAlerter logs alerts using zerolog
type LogAlerter struct{}

// NewLogAlerter creates a new log-based alerter
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{}
}

// Send sends an alert by logging it
func (l *LogAlerter) Send(ctx context.Context, alert Alert) error {
	event := log.Log()

	// Set log level based on severity
	switch alert.Severity {
	case SeverityCritical:
		event = log.Error()
	case SeverityWarning:
		event = log.Warn()
	case SeverityInfo:
		event = log.Info()
	}

	// Add metadata fields
	if alert.Metadata != nil {
		for key, value := range alert.Metadata {
			event = event.Interface(key, value)
		}
	}

	event.
		Str("alert_title", alert.Title).
		Str("alert_severity", string(alert.Severity)).
		Time("alert_time", alert.Timestamp).
		Msg(fmt.Sprintf("ALERT: %s", alert.Message))

	return nil
}

// ConsoleAlerter prints alerts to console with prominent formatting
type ConsoleAlerter struct{}

// NewConsoleAlerter creates a new console-based alerter
func NewConsoleAlerter() *ConsoleAlerter {
	return &ConsoleAlerter{}
}

// Send sends an alert by printing to console
func (c *ConsoleAlerter) Send(ctx context.Context, alert Alert) error {
	banner := ""
	switch alert.Severity {
	case SeverityCritical:
		banner = "ðŸš¨ðŸš¨ðŸš¨ CRITICAL ALERT ðŸš¨ðŸš¨ðŸš¨"
	case SeverityWarning:
		banner = "âš ï¸  WARNING ALERT âš ï¸"
	case SeverityInfo:
		banner = "â„¹ï¸  INFO ALERT â„¹ï¸"
	}

	fmt.Println()
	fmt.Println("========================================")
	fmt.Println(banner)
	fmt.Println("========================================")
	fmt.Printf("Title: %s\n", alert.Title)
	fmt.Printf("Message: %s\n", alert.Message)
	fmt.Printf("Severity: %s\n", alert.Severity)
	fmt.Printf("Time: %s\n", alert.Timestamp.Format(time.RFC3339))

	if alert.Metadata != nil && len(alert.Metadata) > 0 {
		fmt.Println("Metadata:")
		for key, value := range alert.Metadata {
			fmt.Printf("  - %s: %v\n", key, value)
		}
	}

	fmt.Println("========================================")
	fmt.Println()

	return nil
}

// Default global alert manager (can be replaced with custom configuration)
var defaultManager *Manager

func init() {
	// Initialize with log and console alerters by default
	defaultManager = NewManager(
		NewLogAlerter(),
		NewConsoleAlerter(),
	)
}

// GetDefaultManager returns the default alert manager
func GetDefaultManager() *Manager {
	return defaultManager
}

// SetDefaultManager sets the default alert manager
func SetDefaultManager(manager *Manager) {
	defaultManager = manager
}

// Helper functions for common alerts

// AlertBreakerOpened sends an alert when a circuit breaker trips open,
// naming the guarded dependency (advisor, block-engine, redis, ...).
func AlertBreakerOpened(ctx context.Context, name string, consecutiveFailures int, lastErr error) {
	msg := fmt.Sprintf("Circuit breaker %q opened after %d consecutive failures", name, consecutiveFailures)
	if lastErr != nil {
		msg = fmt.Sprintf("%s: %v", msg, lastErr)
	}
	meta := map[string]interface{}{
		"breaker":              name,
		"consecutive_failures": consecutiveFailures,
	}
	if lastErr != nil {
		meta["error"] = lastErr.Error()
	}
	defaultManager.SendCritical(ctx, "Circuit Breaker Opened", msg, meta)
}

// AlertBreakerClosed sends an informational alert when a circuit breaker
// recovers back to the closed state after a successful half-open probe run.
func AlertBreakerClosed(ctx context.Context, name string) {
	defaultManager.SendInfo(ctx, "Circuit Breaker Closed", fmt.Sprintf(
		"Circuit breaker %q recovered and resumed normal operation", name,
	), map[string]interface{}{
		"breaker": name,
	})
}

// AlertSustainedAnomaly sends an alert when a single drop/anomaly reason
// has fired continuously for an operationally significant window, e.g. the
// streamer dropping frames or the dispatcher rejecting opportunities.
func AlertSustainedAnomaly(ctx context.Context, reason string, count uint64, window time.Duration) {
	defaultManager.SendWarning(ctx, "Sustained Anomaly", fmt.Sprintf(
		"%q occurred %d times over the last %s", reason, count, window,
	), map[string]interface{}{
		"reason": reason,
		"count":  count,
		"window": window.String(),
	})
}

// AlertStreamerDisconnected sends an alert when the streamer supervisor
// exhausts its reconnect budget or stays disconnected past a threshold.
func AlertStreamerDisconnected(ctx context.Context, endpoint string, attempts int, err error) {
	msg := fmt.Sprintf("Streamer lost connection to %s after %d reconnect attempts", endpoint, attempts)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	meta := map[string]interface{}{
		"endpoint": endpoint,
		"attempts": attempts,
	}
	if err != nil {
		meta["error"] = err.Error()
	}
	defaultManager.SendCritical(ctx, "Streamer Disconnected", msg, meta)
}

// AlertDispatcherPaused sends an alert when the dispatcher is paused or
// resumed by operator action or an upstream safety trip.
func AlertDispatcherPaused(ctx context.Context, paused bool, reason string) {
	title := "Dispatcher Resumed"
	severity := defaultManager.SendInfo
	if paused {
		title = "Dispatcher Paused"
		severity = defaultManager.SendWarning
	}
	severity(ctx, title, reason, map[string]interface{}{
		"paused": paused,
		"reason": reason,
	})
}
