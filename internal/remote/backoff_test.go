package remote

import (
	"net/http"
	"testing"
	"time"
)

func TestBackoffDelay_Increases(t *testing.T) {
	d0 := backoffDelay(baseDelay, maxDelay, 0)
	d1 := backoffDelay(baseDelay, maxDelay, 1)
	d2 := backoffDelay(baseDelay, maxDelay, 2)

	// With jitter, individual values are random, but each lies in
	// [delay/2, delay) for delay = base * 2^attempt.
	if d0 < 250*time.Millisecond || d0 >= 500*time.Millisecond {
		t.Errorf("d0 = %v, expected [250ms, 500ms)", d0)
	}
	if d1 < 500*time.Millisecond || d1 >= 1*time.Second {
		t.Errorf("d1 = %v, expected [500ms, 1s)", d1)
	}
	if d2 < 1*time.Second || d2 >= 2*time.Second {
		t.Errorf("d2 = %v, expected [1s, 2s)", d2)
	}
}

func TestBackoffDelay_Capped(t *testing.T) {
	// At attempt 10, raw delay would be 500ms * 2^10 = 512s, but should be capped.
	d := backoffDelay(baseDelay, maxDelay, 10)
	if d >= maxDelay {
		t.Errorf("delay = %v, expected < maxDelay (%v) due to jitter", d, maxDelay)
	}
	if d < maxDelay/2 {
		t.Errorf("delay = %v, expected >= maxDelay/2 (%v)", d, maxDelay/2)
	}
}

func TestBackoffDelay_HugeAttemptDoesNotOverflow(t *testing.T) {
	d := backoffDelay(baseDelay, maxDelay, 200)
	if d <= 0 || d >= maxDelay {
		t.Errorf("delay = %v, expected within (0, %v)", d, maxDelay)
	}
}

func TestBackoff_HonoursRetryAfter(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{"Retry-After": []string{"3"}},
	}
	if got := Backoff(baseDelay, maxDelay, 0, resp); got != 3*time.Second {
		t.Errorf("Backoff = %v, want 3s from Retry-After", got)
	}
}

func TestBackoff_IgnoresRetryAfterOnOtherStatus(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusInternalServerError,
		Header:     http.Header{"Retry-After": []string{"30"}},
	}
	if got := Backoff(baseDelay, maxDelay, 0, resp); got >= baseDelay {
		t.Errorf("Backoff = %v, expected jittered delay below %v", got, baseDelay)
	}
}
