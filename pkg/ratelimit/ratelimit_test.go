package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := Config{
		Download: BucketLimits{
			AnonymousPerIP:       Limit{Requests: 3, Window: 10 * time.Second},
			AuthenticatedPerUser: Limit{Requests: 6, Window: 10 * time.Second},
			IPCeiling:            Limit{Requests: 5, Window: 10 * time.Second},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	l := New(testConfig(), NewMemoryStore(), nil)
	base := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return base }
	return l
}

func allowN(t *testing.T, l *Limiter, n int, bucket Bucket, sub Subject) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		d, err := l.Allow(ctx, bucket, sub)
		if err != nil {
			t.Fatalf("Allow #%d: %v", i+1, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d/%d denied unexpectedly", i+1, n)
		}
	}
}

func TestAnonymousPerIPLimit(t *testing.T) {
	l := newTestLimiter(t)
	sub := Subject{IP: HashIP("203.0.113.9")}

	allowN(t, l, 3, BucketDownload, sub)

	d, err := l.Allow(context.Background(), BucketDownload, sub)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("fourth request allowed over a limit of 3")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("denied decision missing retry advisory: %v", d.RetryAfter)
	}
}

func TestAuthenticatedUsesUserLimit(t *testing.T) {
	l := newTestLimiter(t)
	sub := Subject{IP: HashIP("203.0.113.9"), UserID: "user-1"}

	// The user limit is 6 but the IP ceiling of 5 wins first.
	allowN(t, l, 5, BucketDownload, sub)

	d, err := l.Allow(context.Background(), BucketDownload, sub)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("IP ceiling not enforced for authenticated caller")
	}
}

func TestUserLimitIndependentOfIP(t *testing.T) {
	l := newTestLimiter(t)

	// Two users behind distinct addresses do not share counters.
	allowN(t, l, 3, BucketDownload, Subject{IP: HashIP("a"), UserID: "u1"})
	allowN(t, l, 3, BucketDownload, Subject{IP: HashIP("b"), UserID: "u2"})
}

func TestSlidingWindow(t *testing.T) {
	cfg := testConfig()
	l := New(cfg, NewMemoryStore(), nil)
	base := time.Unix(1_700_000_000, 0)
	now := base
	l.now = func() time.Time { return now }

	sub := Subject{IP: HashIP("203.0.113.9")}
	ctx := context.Background()

	allowN(t, l, 3, BucketDownload, sub)

	// Half a window later the early requests still count.
	now = base.Add(5 * time.Second)
	if d, _ := l.Allow(ctx, BucketDownload, sub); d.Allowed {
		t.Fatal("window slid too early")
	}

	// A full window after the burst all three slots have rotated out.
	now = base.Add(11 * time.Second)
	if d, _ := l.Allow(ctx, BucketDownload, sub); !d.Allowed {
		t.Fatal("window never slid")
	}
}

func TestWindowNeverExceedsLimit(t *testing.T) {
	// Drive a steady request stream across several windows and verify no
	// 10-second span ever admits more than the limit.
	cfg := testConfig()
	l := New(cfg, NewMemoryStore(), nil)
	base := time.Unix(1_700_000_000, 0)
	now := base
	l.now = func() time.Time { return now }

	sub := Subject{IP: HashIP("203.0.113.9")}
	ctx := context.Background()

	var admitted []time.Time
	for i := 0; i < 120; i++ {
		now = base.Add(time.Duration(i) * 500 * time.Millisecond)
		d, err := l.Allow(ctx, BucketDownload, sub)
		if err != nil {
			t.Fatal(err)
		}
		if d.Allowed {
			admitted = append(admitted, now)
		}
	}

	window := cfg.Download.AnonymousPerIP.Window
	limit := cfg.Download.AnonymousPerIP.Requests
	for i := range admitted {
		inWindow := 0
		for j := i; j < len(admitted); j++ {
			if admitted[j].Sub(admitted[i]) < window {
				inWindow++
			}
		}
		if inWindow > limit {
			t.Fatalf("%d admissions inside one window, limit %d", inWindow, limit)
		}
	}
}

type failingStore struct{}

func (failingStore) IncrementAndSum(context.Context, string, int64, int) (int64, error) {
	return 0, errors.New("backend down")
}

func TestFallbackToLocalCounters(t *testing.T) {
	local := NewMemoryStore()
	l := New(testConfig(), failingStore{}, local)
	base := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return base }

	sub := Subject{IP: HashIP("203.0.113.9")}
	allowN(t, l, 3, BucketDownload, sub)

	d, err := l.Allow(context.Background(), BucketDownload, sub)
	if err != nil {
		t.Fatalf("fallback errored: %v", err)
	}
	if d.Allowed {
		t.Fatal("local fallback did not enforce the limit")
	}
	if local.Len() == 0 {
		t.Fatal("local store never used")
	}
}

func TestHashIP(t *testing.T) {
	a, b := HashIP("203.0.113.9"), HashIP("203.0.113.10")
	if a == b {
		t.Error("distinct addresses hash equal")
	}
	if a == "203.0.113.9" || len(a) != 16 {
		t.Errorf("hash leaks or has wrong shape: %q", a)
	}
	if HashIP("203.0.113.9") != a {
		t.Error("hash not deterministic")
	}
}
