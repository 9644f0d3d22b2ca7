package reliability

import (
	"strings"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsTransientRecognizerError reports whether a recognizer error code is
// ordinary recognition noise (nothing heard, nothing matched) that should
// be recovered by restarting rather than surfaced.
func IsTransientRecognizerError(code string) bool {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "no_match", "speech_timeout", "no match", "timeout":
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
