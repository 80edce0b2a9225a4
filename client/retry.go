package client

import (
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// RetryPolicy configures retry behavior for storage API calls.
// The policy is explicit and test-visible rather than inherited from
// transport defaults.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// BaseDelay is the backoff base: attempt n sleeps a uniformly random
	// duration in [0, BaseDelay * 2^n).
	// Default: 500ms
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay and any Retry-After hint.
	// Default: 10s
	MaxDelay time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	return p
}

// delay computes the full-jitter backoff before the attempt after the given
// one. A positive hint (Retry-After) overrides the computed delay.
func (p RetryPolicy) delay(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		if hint > p.MaxDelay {
			return p.MaxDelay
		}
		return hint
	}

	ceil := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if ceil > float64(p.MaxDelay) {
		ceil = float64(p.MaxDelay)
	}
	if ceil <= 0 {
		return 0
	}
	// #nosec G404 -- jitter is non-cryptographic timing variance.
	return time.Duration(rand.Int63n(int64(ceil)))
}

// retryableStatus reports whether the status is a classified-transient
// outcome. Other 4xx and all 2xx are final.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// retryAfterHint parses a Retry-After header, either delta-seconds or an
// HTTP date. Returns 0 when absent or unparseable.
func retryAfterHint(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
