package attemptlimiter

import (
	"testing"
	"time"
)

func TestAllowBurstThenThrottle(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	l := New(6, 2, time.Hour)

	if !l.Allow("code-a", now) {
		t.Fatal("first attempt must pass")
	}
	if !l.Allow("code-a", now) {
		t.Fatal("second attempt within burst must pass")
	}
	if l.Allow("code-a", now) {
		t.Fatal("third immediate attempt must be throttled")
	}

	// 6 per minute refills one token every 10 seconds.
	if !l.Allow("code-a", now.Add(11*time.Second)) {
		t.Fatal("attempt after refill must pass")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	l := New(6, 1, time.Hour)

	if !l.Allow("code-a", now) {
		t.Fatal("code-a must pass")
	}
	if !l.Allow("code-b", now) {
		t.Fatal("a throttled key must not affect other keys")
	}
	if l.Allow("code-a", now) {
		t.Fatal("code-a must be throttled")
	}
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var l *Limiter
	now := time.Now()
	for i := 0; i < 100; i++ {
		if !l.Allow("anything", now) {
			t.Fatal("nil limiter must allow all attempts")
		}
	}
}

func TestInvalidConfigYieldsNil(t *testing.T) {
	if New(0, 5, time.Hour) != nil {
		t.Fatal("zero rate must yield nil")
	}
	if New(10, 0, time.Hour) != nil {
		t.Fatal("zero burst must yield nil")
	}
}

func TestEmptyKeyBypassesLimit(t *testing.T) {
	now := time.Now()
	l := New(6, 1, time.Hour)
	for i := 0; i < 10; i++ {
		if !l.Allow("  ", now) {
			t.Fatal("blank keys are not throttled")
		}
	}
}

func TestIdleEviction(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	l := New(6, 1, time.Minute)

	l.Allow("stale", now)
	// Trip the periodic sweep with fresh keys well past the idle TTL.
	later := now.Add(time.Hour)
	for i := 0; i < 256; i++ {
		l.Allow("busy", later)
	}

	l.mu.Lock()
	_, ok := l.byKey["stale"]
	l.mu.Unlock()
	if ok {
		t.Fatal("idle key must be evicted by the sweep")
	}
}
