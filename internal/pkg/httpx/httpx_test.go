package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

type statusErr struct {
	code  int
	after time.Duration
}

func (e statusErr) Error() string { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) HTTPStatusCode() int { return e.code }
func (e statusErr) RetryAfter() time.Duration { return e.after }

func TestIsThrottle(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", statusErr{code: http.StatusTooManyRequests}, true},
		{"wrapped 429", fmt.Errorf("embed: %w", statusErr{code: 429}), true},
		{"500", statusErr{code: 500}, false},
		{"resource exhausted", errors.New("rpc error: code = RESOURCE_EXHAUSTED"), true},
		{"rate limit text", errors.New("Rate limit reached for requests"), true},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := IsThrottle(tc.err); got != tc.want {
			t.Fatalf("%s: want %v got %v", tc.name, tc.want, got)
		}
	}
}

func TestRetryAfterHint(t *testing.T) {
	err := fmt.Errorf("wrap: %w", statusErr{code: 429, after: 3 * time.Second})
	if got := RetryAfterHint(err); got != 3*time.Second {
		t.Fatalf("want 3s got %s", got)
	}
	if got := RetryAfterHint(errors.New("x")); got != 0 {
		t.Fatalf("want 0 got %s", got)
	}
}

func TestJitterNeverShortens(t *testing.T) {
	base := 2 * time.Second
	for i := 0; i < 50; i++ {
		got := Jitter(base, 0.2)
		if got < base || got > base+base/5 {
			t.Fatalf("jitter out of range: %s", got)
		}
	}
	if got := Jitter(base, 0); got != base {
		t.Fatalf("zero frac should return base, got %s", got)
	}
}
