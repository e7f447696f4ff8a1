package ratelimiter

import (
	"testing"
	"time"
)

func TestBurstThenDeny(t *testing.T) {
	l := New(1, 2, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if !l.Allow("key-a", now) || !l.Allow("key-a", now) {
		t.Fatal("burst of 2 should be allowed")
	}
	if l.Allow("key-a", now) {
		t.Fatal("third request in the same instant should be denied")
	}
	// Another key has its own bucket.
	if !l.Allow("key-b", now) {
		t.Fatal("independent key should be allowed")
	}
	// After a second one token refills.
	if !l.Allow("key-a", now.Add(time.Second)) {
		t.Fatal("token should refill after 1s at 1 rps")
	}
}

func TestNilAndEmptyKeyAllow(t *testing.T) {
	var l *MapLimiter
	if !l.Allow("any", time.Now()) {
		t.Fatal("nil limiter must allow")
	}
	if New(0, 1, 0) != nil {
		t.Fatal("invalid config should produce nil limiter")
	}
	l = New(1, 1, time.Minute)
	if !l.Allow("  ", time.Now()) {
		t.Fatal("blank key must bypass limiting")
	}
}

func TestIdleBucketsAreSwept(t *testing.T) {
	l := New(100, 1, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l.Allow("stale", now)
	l.Allow("fresh", now.Add(2*time.Minute))
	if l.Len() != 1 {
		t.Fatalf("buckets = %d, want stale entry swept", l.Len())
	}
}
