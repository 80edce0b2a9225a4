package client

import (
	"net/http"
	"testing"
	"time"
)

func TestRetryableStatus(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusOK, false},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
		{http.StatusConflict, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
	}
	for _, tt := range tests {
		if got := retryableStatus(tt.status); got != tt.want {
			t.Errorf("retryableStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestDelay_Bounds(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}.withDefaults()

	for attempt := 1; attempt <= 6; attempt++ {
		for i := 0; i < 50; i++ {
			d := p.delay(attempt, 0)
			if d < 0 || d > p.MaxDelay {
				t.Fatalf("delay(%d) = %v, outside [0, %v]", attempt, d, p.MaxDelay)
			}
		}
	}
}

func TestDelay_HintOverridesJitter(t *testing.T) {
	p := RetryPolicy{}.withDefaults()

	if d := p.delay(1, 2*time.Second); d != 2*time.Second {
		t.Errorf("delay with 2s hint = %v", d)
	}
	// Hints are capped at MaxDelay.
	if d := p.delay(1, time.Minute); d != p.MaxDelay {
		t.Errorf("delay with 1m hint = %v, want %v", d, p.MaxDelay)
	}
}

func TestRetryAfterHint(t *testing.T) {
	mk := func(v string) http.Header {
		h := http.Header{}
		if v != "" {
			h.Set("Retry-After", v)
		}
		return h
	}

	if d := retryAfterHint(mk("")); d != 0 {
		t.Errorf("absent header = %v, want 0", d)
	}
	if d := retryAfterHint(mk("3")); d != 3*time.Second {
		t.Errorf("delta-seconds = %v, want 3s", d)
	}
	if d := retryAfterHint(mk("garbage")); d != 0 {
		t.Errorf("unparseable = %v, want 0", d)
	}
	if d := retryAfterHint(mk("-5")); d != 0 {
		t.Errorf("negative = %v, want 0", d)
	}

	future := time.Now().Add(5 * time.Second).UTC().Format(http.TimeFormat)
	if d := retryAfterHint(mk(future)); d <= 0 || d > 5*time.Second {
		t.Errorf("http-date = %v, want within (0, 5s]", d)
	}

	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	if d := retryAfterHint(mk(past)); d != 0 {
		t.Errorf("past http-date = %v, want 0", d)
	}
}

func TestWithDefaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	if p.MaxAttempts != 3 || p.BaseDelay != 500*time.Millisecond || p.MaxDelay != 10*time.Second {
		t.Errorf("defaults = %+v", p)
	}

	custom := RetryPolicy{MaxAttempts: 7, BaseDelay: time.Second, MaxDelay: time.Minute}.withDefaults()
	if custom != (RetryPolicy{MaxAttempts: 7, BaseDelay: time.Second, MaxDelay: time.Minute}) {
		t.Errorf("custom policy altered: %+v", custom)
	}
}
