package ratelimiter

import (
	"context"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		callsPerSec  uint
		burst        uint
		wantNil      bool
		wantCapacity float64
	}{
		{name: "standard rate", callsPerSec: 100, burst: 200, wantCapacity: 200},
		{name: "burst defaults to rate", callsPerSec: 50, burst: 0, wantCapacity: 50},
		{name: "zero rate disables limiting", callsPerSec: 0, burst: 10, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.callsPerSec, tt.burst)
			if tt.wantNil {
				if l != nil {
					t.Fatal("expected nil limiter")
				}
				return
			}
			if l == nil {
				t.Fatal("New() returned nil")
			}
			if got := l.Tokens(); got < tt.wantCapacity-0.5 {
				t.Errorf("Tokens() = %v, want about %v", got, tt.wantCapacity)
			}
		})
	}
}

func TestAllow(t *testing.T) {
	l := New(10, 10)

	for i := 0; i < 10; i++ {
		if !l.Allow() {
			t.Fatalf("call %d should be admitted within the burst", i)
		}
	}
	if l.Allow() {
		t.Fatal("call beyond the burst should be rejected")
	}

	time.Sleep(150 * time.Millisecond)
	if !l.Allow() {
		t.Fatal("a token should have been refilled")
	}
}

func TestNilLimiter(t *testing.T) {
	var l *Limiter

	for i := 0; i < 1000; i++ {
		if !l.Allow() {
			t.Fatal("nil limiter must admit every call")
		}
	}
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() on nil limiter: %v", err)
	}
	if l.Tokens() != 0 {
		t.Errorf("Tokens() on nil limiter = %v, want 0", l.Tokens())
	}
}

func TestWait(t *testing.T) {
	t.Run("acquires a refilled token", func(t *testing.T) {
		l := New(20, 1)
		if !l.Allow() {
			t.Fatal("first call should be admitted")
		}

		start := time.Now()
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
		if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
			t.Errorf("Wait() returned after %v, expected to block for a refill", elapsed)
		}
	})

	t.Run("honours cancellation", func(t *testing.T) {
		l := New(1, 1)
		l.Allow()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := l.Wait(ctx); err == nil {
			t.Fatal("Wait() should fail when the context expires first")
		}
	})
}
