package api

import (
	"fmt"
	"net/http"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter() (*ipRateLimiter, *time.Time) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newIPRateLimiter()
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestIPRateLimiter_AllowsBeforeThreshold(t *testing.T) {
	rl, _ := newTestLimiter()

	for i := 0; i < ipMaxFailures-1; i++ {
		rl.recordFailure("192.0.2.1")
		blocked, _ := rl.check("192.0.2.1")
		assert.False(t, blocked, "should not block before reaching ipMaxFailures")
	}
}

func TestIPRateLimiter_BlocksAfterThreshold(t *testing.T) {
	rl, _ := newTestLimiter()

	for i := 0; i < ipMaxFailures; i++ {
		rl.recordFailure("192.0.2.1")
	}

	blocked, retryAfter := rl.check("192.0.2.1")
	require.True(t, blocked)
	assert.Equal(t, ipBaseLockout, retryAfter)
}

func TestIPRateLimiter_ExponentialBackoff(t *testing.T) {
	rl, _ := newTestLimiter()

	for i := 0; i < ipMaxFailures; i++ {
		rl.recordFailure("192.0.2.1")
	}
	_, first := rl.check("192.0.2.1")

	rl.recordFailure("192.0.2.1")
	_, second := rl.check("192.0.2.1")
	assert.Equal(t, 2*first, second, "lockout should double with each further failure")
}

func TestIPRateLimiter_MaxLockoutCap(t *testing.T) {
	rl, _ := newTestLimiter()

	for i := 0; i < ipMaxFailures+20; i++ {
		rl.recordFailure("192.0.2.1")
	}
	_, retryAfter := rl.check("192.0.2.1")
	assert.Equal(t, ipMaxLockout, retryAfter)
}

func TestIPRateLimiter_LockoutEnds(t *testing.T) {
	rl, now := newTestLimiter()

	for i := 0; i < ipMaxFailures; i++ {
		rl.recordFailure("192.0.2.1")
	}
	*now = now.Add(ipBaseLockout + time.Second)

	blocked, _ := rl.check("192.0.2.1")
	assert.False(t, blocked)
}

func TestIPRateLimiter_IsolatesIPs(t *testing.T) {
	rl, _ := newTestLimiter()

	for i := 0; i < ipMaxFailures; i++ {
		rl.recordFailure("192.0.2.1")
	}
	blocked, _ := rl.check("192.0.2.1")
	assert.True(t, blocked)

	blocked, _ = rl.check("192.0.2.2")
	assert.False(t, blocked, "a different IP must not be affected")
}

func TestIPRateLimiter_SuccessClears(t *testing.T) {
	rl, _ := newTestLimiter()

	for i := 0; i < ipMaxFailures; i++ {
		rl.recordFailure("192.0.2.1")
	}
	rl.recordSuccess("192.0.2.1")

	blocked, _ := rl.check("192.0.2.1")
	assert.False(t, blocked)
}

func TestIPRateLimiter_ExpiredRecordsDropped(t *testing.T) {
	rl, now := newTestLimiter()

	rl.recordFailure("192.0.2.1")
	*now = now.Add(attemptExpiry + time.Minute)

	blocked, _ := rl.check("192.0.2.1")
	assert.False(t, blocked)
	assert.Empty(t, rl.attempts)
}

func TestIPRateLimiter_InlineSweep(t *testing.T) {
	rl, now := newTestLimiter()

	for i := 0; i < sweepThreshold; i++ {
		rl.recordFailure(fmt.Sprintf("ip-%d", i))
	}
	*now = now.Add(attemptExpiry + time.Minute)

	rl.recordFailure("fresh")
	assert.Len(t, rl.attempts, 1)
}

func TestRetryAfterString(t *testing.T) {
	assert.Equal(t, "1", retryAfterString(0))
	assert.Equal(t, "1", retryAfterString(200*time.Millisecond))
	assert.Equal(t, "90", retryAfterString(90*time.Second))
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote ipv4",
			remoteAddr: "192.168.1.1:12345",
			want:       "192.168.1.1",
		},
		{
			name:       "remote ipv6",
			remoteAddr: "[::1]:8080",
			want:       "::1",
		},
		{
			name:       "headers ignored without trusted proxies",
			remoteAddr: "10.0.0.1:80",
			headers: map[string]string{
				"X-Forwarded-For": "198.51.100.25",
				"X-Real-IP":       "203.0.113.11",
			},
			want: "10.0.0.1",
		},
		{
			name:       "empty when nothing parseable",
			remoteAddr: "not-a-hostport",
			want:       "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: make(http.Header)}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extractClientIPWithProxies(r, nil))
		})
	}
}

func TestExtractClientIPWithTrustedProxies(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "trusted proxy honors XFF",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.25, 203.0.113.9"},
			want:       "198.51.100.25",
		},
		{
			name:       "xff skips invalid entries",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "unknown, not-an-ip, 203.0.113.7"},
			want:       "203.0.113.7",
		},
		{
			name:       "forwarded fallback",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"Forwarded": `for=198.51.100.1;proto=https;by=203.0.113.43`},
			want:       "198.51.100.1",
		},
		{
			name:       "forwarded quoted ipv6",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"Forwarded": `for="[2001:db8::1]:4711"`},
			want:       "2001:db8::1",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": "203.0.113.11"},
			want:       "203.0.113.11",
		},
		{
			name:       "untrusted peer ignores headers",
			remoteAddr: "203.0.113.99:12345",
			headers: map[string]string{
				"X-Forwarded-For": "10.0.0.1",
				"Forwarded":       "for=10.0.0.2",
				"X-Real-IP":       "10.0.0.3",
			},
			want: "203.0.113.99",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: make(http.Header)}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extractClientIPWithProxies(r, trusted))
		})
	}
}

func TestAPIExtractClientIPUsesConfiguredProxies(t *testing.T) {
	prefixes, err := ParseTrustedProxies([]string{"10.0.0.1"})
	require.NoError(t, err)
	a := New(nil, WithTrustedProxies(prefixes))

	r := &http.Request{
		RemoteAddr: "10.0.0.1:80",
		Header:     http.Header{"X-Forwarded-For": []string{"198.51.100.25"}},
	}
	assert.Equal(t, "198.51.100.25", a.extractClientIP(r))

	r.RemoteAddr = "10.0.0.2:80"
	assert.Equal(t, "10.0.0.2", a.extractClientIP(r), "10.0.0.2 is not in 10.0.0.1/32")
}

func TestParseTrustedProxies(t *testing.T) {
	prefixes, err := ParseTrustedProxies([]string{"10.0.0.0/8", "172.16.5.4/12", "::1", " ", "192.0.2.7"})
	require.NoError(t, err)
	require.Len(t, prefixes, 4)
	assert.Equal(t, "172.16.0.0/12", prefixes[1].String())
	assert.Equal(t, "::1/128", prefixes[2].String())
	assert.Equal(t, "192.0.2.7/32", prefixes[3].String())

	_, err = ParseTrustedProxies([]string{"10.0.0.0/8", "garbage"})
	assert.Error(t, err)
	_, err = ParseTrustedProxies([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}
