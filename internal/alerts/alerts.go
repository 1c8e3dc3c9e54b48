// Package alerts routes operator alerts, such as ledger consistency
// violations, to log and chat channels.
package alerts

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
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

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	}
	return 0
}

// Alert represents an alert message
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// fingerprint identifies repeats of the same alert for suppression
func (a Alert) fingerprint() string {
	var b strings.Builder
	b.WriteString(string(a.Severity))
	b.WriteByte('|')
	b.WriteString(a.Title)
	b.WriteByte('|')
	b.WriteString(a.Message)
	return b.String()
}

// Alerter defines the interface for sending alerts
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager fans alerts out to every alerter. An identical alert repeated
// within the suppression window is sent once.
type Manager struct {
	alerters []Alerter
	window   time.Duration
	now      func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithSuppressWindow sets how long identical alerts are suppressed. Zero
// disables suppression.
func WithSuppressWindow(d time.Duration) ManagerOption {
	return func(m *Manager) { m.window = d }
}

func withClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a new alert manager
func NewManager(alerters []Alerter, opts ...ManagerOption) *Manager {
	m := &Manager{
		alerters: alerters,
		window:   time.Minute,
		now:      time.Now,
		seen:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Send sends an alert to all configured alerters and joins their errors
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = m.now()
	}
	if m.suppressed(alert) {
		log.Debug().Str("title", alert.Title).Msg("Suppressed repeated alert")
		return nil
	}

	var errs []error
	for _, alerter := range m.alerters {
		if err := alerter.Send(ctx, alert); err != nil {
			log.Error().
				Err(err).
				Str("title", alert.Title).
				Msg("Failed to send alert")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) suppressed(alert Alert) bool {
	if m.window <= 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, at := range m.seen {
		if now.Sub(at) >= m.window {
			delete(m.seen, k)
		}
	}
	key := alert.fingerprint()
	if _, ok := m.seen[key]; ok {
		return true
	}
	m.seen[key] = now
	return false
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

// LogAlerter logs alerts using zerolog
type LogAlerter struct{}

func NewLogAlerter() *LogAlerter {
	return &LogAlerter{}
}

// Send logs the alert at a level matching its severity
func (l *LogAlerter) Send(_ context.Context, alert Alert) error {
	event := log.Info()
	switch alert.Severity {
	case SeverityCritical:
		event = log.Error()
	case SeverityWarning:
		event = log.Warn()
	}

	for _, key := range sortedKeys(alert.Metadata) {
		event = event.Interface(key, alert.Metadata[key])
	}

	event.
		Str("alert_title", alert.Title).
		Str("alert_severity", string(alert.Severity)).
		Time("alert_time", alert.Timestamp).
		Msg("ALERT: " + alert.Message)
	return nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
