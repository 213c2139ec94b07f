package backend

import (
	"testing"
	"time"
)

func TestCalculateBackoff_RespectsRetryAfter(t *testing.T) {
	cfg := DefaultRetryConfig()

	backoff := CalculateBackoff(cfg, 0, 5*time.Second)

	// Retry-After + 500ms padding wins over the formula
	expected := 5*time.Second + 500*time.Millisecond
	if backoff != expected {
		t.Errorf("expected backoff %v, got %v", expected, backoff)
	}
}

func TestCalculateBackoff_ExponentialGrowth(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         false,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}

	for _, tt := range tests {
		if b := CalculateBackoff(cfg, tt.attempt, 0); b != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, b)
		}
	}
}

func TestCalculateBackoff_RespectsMaxBackoff(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:     10,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		Jitter:         false,
	}

	if b := CalculateBackoff(cfg, 10, 0); b > 5*time.Second {
		t.Errorf("expected backoff capped at 5s, got %v", b)
	}
}

func TestCalculateBackoff_WithJitter(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}

	base := 1 * time.Second
	b := CalculateBackoff(cfg, 0, 0)

	if b < base {
		t.Errorf("expected backoff >= %v, got %v", base, b)
	}
	if b >= base+base/4 {
		t.Errorf("expected jitter below 25%% of base, got %v", b)
	}
}
