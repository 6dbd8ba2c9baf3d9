package api

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRejectedTokenSpikeAlert(t *testing.T) {
	var mu sync.Mutex
	var alerts []AlertEvent
	collector := newMetricsCollector(func(e AlertEvent) {
		mu.Lock()
		alerts = append(alerts, e)
		mu.Unlock()
	})
	// Override threshold for fast testing.
	collector.rejected.threshold = 5

	// Record failures below threshold; no alert.
	for i := 0; i < 4; i++ {
		collector.recordEvent(AuditSessionRejected)
	}
	mu.Lock()
	assert.Empty(t, alerts, "no alert below threshold")
	mu.Unlock()

	// The 5th failure should trigger an alert.
	collector.recordEvent(AuditSessionRejected)
	mu.Lock()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRejectedTokenSpike, alerts[0].Type)
	assert.Equal(t, 5, alerts[0].Count)
	mu.Unlock()
}

func TestIssuerKeyProbingAlert(t *testing.T) {
	var mu sync.Mutex
	var alerts []AlertEvent
	collector := newMetricsCollector(func(e AlertEvent) {
		mu.Lock()
		alerts = append(alerts, e)
		mu.Unlock()
	})
	collector.issuer.threshold = 3

	// Record rejected issuer keys.
	for i := 0; i < 2; i++ {
		collector.recordEvent(AuditIssuerRejected)
	}
	mu.Lock()
	assert.Empty(t, alerts, "no alert below threshold")
	mu.Unlock()

	collector.recordEvent(AuditIssuerRejected)
	mu.Lock()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertIssuerKeyProbing, alerts[0].Type)
	assert.Equal(t, 3, alerts[0].Count)
	mu.Unlock()
}

func TestMetricsNoAlertWithoutCallback(t *testing.T) {
	// A nil alertFn should not panic.
	collector := newMetricsCollector(nil)
	collector.recordEvent(AuditSessionRejected)
	// Should not panic.
}

func TestMetricsNilCollector(t *testing.T) {
	// A nil collector should not panic.
	var collector *metricsCollector
	collector.recordEvent(AuditSessionRejected)
}

func TestMetricsSlidingWindowExpiry(t *testing.T) {
	var mu sync.Mutex
	var alerts []AlertEvent
	collector := newMetricsCollector(func(e AlertEvent) {
		mu.Lock()
		alerts = append(alerts, e)
		mu.Unlock()
	})
	collector.rejected.threshold = 5
	collector.rejected.window = 100 * time.Millisecond

	// Record 4 failures.
	for i := 0; i < 4; i++ {
		collector.recordEvent(AuditSessionRejected)
	}

	// Wait for them to slide out of the window.
	time.Sleep(150 * time.Millisecond)

	// Record 1 more; should NOT trigger alert because old ones expired.
	collector.recordEvent(AuditSessionRejected)
	mu.Lock()
	assert.Empty(t, alerts, "old failures should not count after window expiry")
	mu.Unlock()
}

func TestMetricsResetAfterAlert(t *testing.T) {
	var mu sync.Mutex
	var alerts []AlertEvent
	collector := newMetricsCollector(func(e AlertEvent) {
		mu.Lock()
		alerts = append(alerts, e)
		mu.Unlock()
	})
	collector.rejected.threshold = 3

	// Trigger first alert.
	for i := 0; i < 3; i++ {
		collector.recordEvent(AuditSessionRejected)
	}
	mu.Lock()
	require.Len(t, alerts, 1, "first alert triggered")
	mu.Unlock()

	// Counter was reset; need 3 more to trigger again.
	for i := 0; i < 2; i++ {
		collector.recordEvent(AuditSessionRejected)
	}
	mu.Lock()
	assert.Len(t, alerts, 1, "no second alert yet")
	mu.Unlock()

	collector.recordEvent(AuditSessionRejected)
	mu.Lock()
	assert.Len(t, alerts, 2, "second alert triggered")
	mu.Unlock()
}

func TestMetricsIgnoresOtherEvents(t *testing.T) {
	called := false
	collector := newMetricsCollector(func(AlertEvent) { called = true })
	collector.rejected.threshold = 1
	collector.issuer.threshold = 1

	collector.recordEvent(AuditSessionCreated)
	collector.recordEvent(AuditSessionConfirmed)
	assert.False(t, called)
}
