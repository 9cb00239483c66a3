package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNewLimiter(t *testing.T) {
	limiter := NewLimiter("yahoo", 60)

	if limiter.Name() != "yahoo" {
		t.Errorf("Expected name 'yahoo', got '%s'", limiter.Name())
	}

	// Burst of 5 should be allowed immediately
	for i := 0; i < 5; i++ {
		if !limiter.Allow() {
			t.Errorf("Request %d should have been allowed", i)
		}
	}
}

func TestLimiterWait(t *testing.T) {
	limiter := NewLimiter("test", 120)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Wait took too long")
	}
}

func TestLimiterPenalty(t *testing.T) {
	limiter := NewLimiter("test", 60)

	if limiter.Penalty() != 0 {
		t.Fatalf("Expected no initial penalty, got %s", limiter.Penalty())
	}

	limiter.SignalRateLimited()
	after1 := limiter.Penalty()
	if after1 != initialPenalty {
		t.Errorf("Expected %s after first 429, got %s", initialPenalty, after1)
	}

	limiter.SignalRateLimited()
	after2 := limiter.Penalty()
	if after2 != 2*after1 {
		t.Errorf("Expected penalty to double, got %s -> %s", after1, after2)
	}

	for i := 0; i < 20; i++ {
		limiter.SignalRateLimited()
	}
	if limiter.Penalty() != maxPenalty {
		t.Errorf("Expected penalty capped at %s, got %s", maxPenalty, limiter.Penalty())
	}

	limiter.ResetBackoff()
	if limiter.Penalty() != 0 {
		t.Error("Penalty should reset to zero")
	}
}

func TestLimiterContextCancellation(t *testing.T) {
	limiter := NewLimiter("test", 1)
	for i := 0; i < 5; i++ {
		limiter.Allow()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := limiter.Wait(ctx); err == nil {
		t.Error("Expected error from cancelled context")
	}
}

func TestLimiterPenaltyHonoursContext(t *testing.T) {
	limiter := NewLimiter("test", 600)
	for i := 0; i < 10; i++ {
		limiter.SignalRateLimited()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := limiter.Wait(ctx); err == nil {
		t.Error("Expected deadline error while penalised")
	}
	if time.Since(start) > time.Second {
		t.Error("Penalty wait ignored the context deadline")
	}
}
