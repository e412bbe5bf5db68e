package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupLimiter(t *testing.T, limit int) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	l, err := NewRedisLimiter("redis://"+s.Addr(), limit, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, s
}

func TestAllowWithinWindow(t *testing.T) {
	l, _ := setupLimiter(t, 2)
	ctx := context.Background()
	for i, wantRemaining := range []int{1, 0} {
		d, err := l.Allow(ctx, "tok")
		if err != nil || !d.Allowed || d.Remaining != wantRemaining {
			t.Fatalf("hit %d: %+v %v", i, d, err)
		}
	}
	d, err := l.Allow(ctx, "tok")
	if err != nil {
		t.Fatalf("third hit: %v", err)
	}
	if d.Allowed || d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("expected denial with retry-after, got %+v", d)
	}
	if d, _ := l.Allow(ctx, "other"); !d.Allowed {
		t.Fatalf("keys must be independent")
	}
}

func TestWindowResets(t *testing.T) {
	l, s := setupLimiter(t, 1)
	ctx := context.Background()
	if d, _ := l.Allow(ctx, "tok"); !d.Allowed {
		t.Fatalf("first hit denied")
	}
	if d, _ := l.Allow(ctx, "tok"); d.Allowed {
		t.Fatalf("second hit allowed")
	}
	s.FastForward(61 * time.Second)
	if d, err := l.Allow(ctx, "tok"); err != nil || !d.Allowed {
		t.Fatalf("window should reset: %+v %v", d, err)
	}
}

func TestKeyWithoutExpiryIsRepaired(t *testing.T) {
	l, s := setupLimiter(t, 5)
	if err := s.Set("coachline:rl:tok", "3"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Allow(context.Background(), "tok"); err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ttl := s.TTL("coachline:rl:tok"); ttl <= 0 {
		t.Fatalf("expected ttl to be set, got %v", ttl)
	}
}

func TestDisabledLimiter(t *testing.T) {
	l, _ := setupLimiter(t, 0)
	for i := 0; i < 5; i++ {
		if d, err := l.Allow(context.Background(), "tok"); err != nil || !d.Allowed {
			t.Fatalf("disabled limiter denied: %+v %v", d, err)
		}
	}
}

func TestUnreachableRedis(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()
	if _, err := NewRedisLimiter("redis://"+addr, 1, time.Minute); err == nil {
		t.Fatalf("expected connect error")
	}
	if _, err := NewRedisLimiter("://bad", 1, time.Minute); err == nil {
		t.Fatalf("expected parse error")
	}
}
