package remote

import (
	"math/rand"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// defaultMaxRetries is the number of retries after the first attempt.
	defaultMaxRetries = 3

	// baseDelay is the starting backoff interval (before jitter).
	baseDelay = 500 * time.Millisecond

	// maxDelay caps the backoff interval.
	maxDelay = 5 * time.Second
)

// Backoff is a [retryablehttp.Backoff] that grows exponentially from min with
// 50–100 % jitter, capped at max. Throttling responses (429, 503) defer to the
// server's Retry-After header through [retryablehttp.DefaultBackoff].
func Backoff(min, max time.Duration, attempt int, resp *http.Response) time.Duration {
	if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) {
		if _, ok := resp.Header["Retry-After"]; ok {
			return retryablehttp.DefaultBackoff(min, max, attempt, resp)
		}
	}
	return backoffDelay(min, max, attempt)
}

// backoffDelay computes the delay for a given attempt index, applying
// exponential growth with 50–100 % jitter.
func backoffDelay(min, max time.Duration, attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := min * (1 << attempt)
	if delay > max || delay <= 0 {
		delay = max
	}
	if delay < 2 {
		return delay
	}
	// Jitter: uniform in [delay/2, delay).
	jitter := time.Duration(rand.Int63n(int64(delay) / 2)) //nolint:gosec // jitter does not need crypto/rand
	return delay/2 + jitter
}
