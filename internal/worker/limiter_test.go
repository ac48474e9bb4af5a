package worker

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_New(t *testing.T) {
	if l := NewLimiter(10, 5); l.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", l.defaultBurst)
	}
	if l := NewLimiter(10, -1); l.defaultBurst != 5 {
		t.Errorf("expected default burst 5 for negative input, got %d", l.defaultBurst)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "oracle-01"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
	if err := limiter.Wait(ctx, "oracle-02"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestLimiter_WaitCancelled(t *testing.T) {
	limiter := NewLimiter(0.01, 1)
	limiter.Allow("oracle-01")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx, "oracle-01"); err == nil {
		t.Error("expected wait to fail once the context expires")
	}
}

func TestLimiter_RateLimit(t *testing.T) {
	limiter := NewLimiter(1, 1)

	if !limiter.Allow("oracle-01") {
		t.Error("first request should pass")
	}
	if limiter.Allow("oracle-01") {
		t.Error("expected allow to fail (exhausted tokens)")
	}
	if !limiter.Allow("oracle-02") {
		t.Error("expected allow for another key")
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	limiter := NewLimiter(0, 1)
	for i := 0; i < 100; i++ {
		if !limiter.Allow("oracle-01") {
			t.Fatalf("request %d limited with rate 0", i)
		}
	}
}

func TestLimiter_SetRate(t *testing.T) {
	limiter := NewLimiter(10, 10)
	limiter.SetRate("flights.example.com", 0.1, 1)

	if !limiter.Allow("flights.example.com") {
		t.Error("first request should pass")
	}
	if limiter.Allow("flights.example.com") {
		t.Error("second request should fail")
	}
	if !limiter.Allow("other.example.com") {
		t.Error("other key should pass")
	}
}

func TestHostKey(t *testing.T) {
	host, err := HostKey("http://flights.example.com:8080/status?f=ND1309")
	if err != nil {
		t.Fatalf("HostKey failed: %v", err)
	}
	if host != "flights.example.com:8080" {
		t.Errorf("expected flights.example.com:8080, got %s", host)
	}

	if _, err := HostKey("::invalid"); err == nil {
		t.Error("expected error for invalid URL")
	}
}
