package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_AllowsUpToRate(t *testing.T) {
	l := New(5, time.Minute)
	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow() {
		t.Fatal("6th request should be denied")
	}
}

func TestLimiter_ResetsAfterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newWithClock(2, time.Minute, func() time.Time { return now })
	l.Allow()
	l.Allow()
	if l.Allow() {
		t.Fatal("3rd should be denied")
	}
	now = now.Add(61 * time.Second)
	if !l.Allow() {
		t.Fatal("after window reset should be allowed")
	}
}

func TestLimiter_Expired(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newWithClock(1, time.Minute, func() time.Time { return now })
	l.Allow()
	if l.Expired() {
		t.Fatal("fresh limiter should not be expired")
	}
	now = now.Add(2 * time.Minute)
	if !l.Expired() {
		t.Fatal("limiter should be expired after the window")
	}
}
