package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertRejectedTokenSpike AlertType = "rejected_token_spike"
	AlertIssuerKeyProbing   AlertType = "issuer_key_probing"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// slidingWindow counts events inside a trailing time window.
type slidingWindow struct {
	times     []time.Time
	window    time.Duration
	threshold int
}

// add records an event at now and reports the count if the threshold was
// reached, resetting the window so one spike raises one alert.
func (s *slidingWindow) add(now time.Time) (int, bool) {
	s.times = append(s.times, now)
	s.times = trimWindow(s.times, now, s.window)
	if len(s.times) < s.threshold {
		return 0, false
	}
	n := len(s.times)
	s.times = s.times[:0]
	return n, true
}

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu sync.Mutex

	rejected slidingWindow
	issuer   slidingWindow

	alertFn AlertFunc
}

const (
	defaultRejectedWindow    = 1 * time.Minute
	defaultRejectedThreshold = 100
	defaultIssuerWindow      = 5 * time.Minute
	defaultIssuerThreshold   = 10
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		rejected: slidingWindow{window: defaultRejectedWindow, threshold: defaultRejectedThreshold},
		issuer:   slidingWindow{window: defaultIssuerWindow, threshold: defaultIssuerThreshold},
		alertFn:  alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditSessionRejected:
		m.record(&m.rejected, AlertRejectedTokenSpike, "rejected token rate exceeds threshold")
	case AuditIssuerRejected:
		m.record(&m.issuer, AlertIssuerKeyProbing, "invalid issuer key rate exceeds threshold")
	}
}

func (m *metricsCollector) record(w *slidingWindow, typ AlertType, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if n, fire := w.add(now); fire {
		m.alertFn(AlertEvent{
			Type:      typ,
			Message:   msg,
			Count:     n,
			Threshold: w.threshold,
			Timestamp: now,
		})
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
