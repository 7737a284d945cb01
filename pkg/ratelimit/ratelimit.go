// Package ratelimit implements the tiered admission limiter.
//
// Requests are counted per (bucket, subject) with sliding-window semantics.
// Four buckets exist (upload, download, api, auth), each with three tiers:
// an anonymous per-IP limit, an authenticated per-user limit, and an
// unconditional per-IP ceiling that applies even to authenticated callers.
// The lowest applicable limit wins.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sharesync/sharesync/internal/logger"
)

// Bucket identifies a rate-limit class.
type Bucket string

const (
	BucketUpload   Bucket = "upload"
	BucketDownload Bucket = "download"
	BucketAPI      Bucket = "api"
	BucketAuth     Bucket = "auth"
)

// subBuckets is the sliding-window resolution. Ten slots per window keeps
// burst-then-idle from being rewarded without tracking per-request times.
const subBuckets = 10

// Limit is a request count per window. Zero requests disables the limit.
type Limit struct {
	Requests int           `mapstructure:"requests" yaml:"requests"`
	Window   time.Duration `mapstructure:"window" yaml:"window"`
}

func (l Limit) enabled() bool { return l.Requests > 0 && l.Window > 0 }

// BucketLimits holds the three tiers of one bucket.
type BucketLimits struct {
	AnonymousPerIP       Limit `mapstructure:"anonymous_per_ip" yaml:"anonymous_per_ip"`
	AuthenticatedPerUser Limit `mapstructure:"authenticated_per_user" yaml:"authenticated_per_user"`
	IPCeiling            Limit `mapstructure:"ip_ceiling" yaml:"ip_ceiling"`
}

// Config holds limits for all four buckets.
type Config struct {
	Upload   BucketLimits `mapstructure:"upload" yaml:"upload"`
	Download BucketLimits `mapstructure:"download" yaml:"download"`
	API      BucketLimits `mapstructure:"api" yaml:"api"`
	Auth     BucketLimits `mapstructure:"auth" yaml:"auth"`
}

// ApplyDefaults fills unset buckets with conservative defaults. The exact
// numbers are deployment policy; these just make a bare config usable.
func (c *Config) ApplyDefaults() {
	def := func(l *Limit, requests int, window time.Duration) {
		if l.Requests == 0 && l.Window == 0 {
			l.Requests = requests
			l.Window = window
		}
	}
	def(&c.Upload.AnonymousPerIP, 10, time.Hour)
	def(&c.Upload.AuthenticatedPerUser, 100, time.Hour)
	def(&c.Upload.IPCeiling, 300, time.Hour)

	def(&c.Download.AnonymousPerIP, 60, time.Hour)
	def(&c.Download.AuthenticatedPerUser, 600, time.Hour)
	def(&c.Download.IPCeiling, 1200, time.Hour)

	def(&c.API.AnonymousPerIP, 120, time.Minute)
	def(&c.API.AuthenticatedPerUser, 300, time.Minute)
	def(&c.API.IPCeiling, 600, time.Minute)

	def(&c.Auth.AnonymousPerIP, 10, 15*time.Minute)
	def(&c.Auth.AuthenticatedPerUser, 30, 15*time.Minute)
	def(&c.Auth.IPCeiling, 60, 15*time.Minute)
}

// Validate rejects negative or half-configured limits.
func (c *Config) Validate() error {
	check := func(name string, l Limit) error {
		if l.Requests < 0 {
			return fmt.Errorf("%s: requests must not be negative", name)
		}
		if l.Requests > 0 && l.Window <= 0 {
			return fmt.Errorf("%s: window must be positive when requests is set", name)
		}
		return nil
	}
	for _, b := range []struct {
		name   string
		limits BucketLimits
	}{
		{"upload", c.Upload}, {"download", c.Download}, {"api", c.API}, {"auth", c.Auth},
	} {
		if err := check(b.name+".anonymous_per_ip", b.limits.AnonymousPerIP); err != nil {
			return err
		}
		if err := check(b.name+".authenticated_per_user", b.limits.AuthenticatedPerUser); err != nil {
			return err
		}
		if err := check(b.name+".ip_ceiling", b.limits.IPCeiling); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) limits(b Bucket) BucketLimits {
	switch b {
	case BucketUpload:
		return c.Upload
	case BucketDownload:
		return c.Download
	case BucketAuth:
		return c.Auth
	default:
		return c.API
	}
}

// CounterStore is the sliding-window counter backend. The in-process
// implementation serves a single instance; a shared backend slots in for
// multi-instance deployments.
type CounterStore interface {
	// IncrementAndSum bumps the counter in the given time slot for key and
	// returns the summed count over the trailing numSlots slots, the bumped
	// one included.
	IncrementAndSum(ctx context.Context, key string, slot int64, numSlots int) (int64, error)
}

// Subject identifies the caller for counting purposes. UserID is empty for
// anonymous callers. IP should already be hashed (see HashIP).
type Subject struct {
	IP     string
	UserID string
}

// Decision is the admission verdict for one request.
type Decision struct {
	Allowed bool

	// RetryAfter advises when a denied caller may retry.
	RetryAfter time.Duration
}

// Limiter enforces the tiered limits over a CounterStore.
type Limiter struct {
	cfg   Config
	store CounterStore
	local CounterStore
	now   func() time.Time
}

// New creates a Limiter on the given store. When store is a shared backend,
// pass a local in-process store as fallback; pass nil to fall back to a
// fresh one.
func New(cfg Config, store CounterStore, fallback CounterStore) *Limiter {
	if fallback == nil {
		fallback = NewMemoryStore()
	}
	return &Limiter{
		cfg:   cfg,
		store: store,
		local: fallback,
		now:   time.Now,
	}
}

// Allow decides whether one request from subject may enter bucket. Counters
// move on every call, allowed or not, so hammering a closed gate does not
// earn throughput.
func (l *Limiter) Allow(ctx context.Context, bucket Bucket, sub Subject) (*Decision, error) {
	limits := l.cfg.limits(bucket)
	now := l.now()

	type tier struct {
		key   string
		limit Limit
	}
	var tiers []tier

	if sub.IP != "" && limits.IPCeiling.enabled() {
		tiers = append(tiers, tier{
			key:   fmt.Sprintf("%s:ceil:%s", bucket, sub.IP),
			limit: limits.IPCeiling,
		})
	}
	if sub.UserID != "" {
		if limits.AuthenticatedPerUser.enabled() {
			tiers = append(tiers, tier{
				key:   fmt.Sprintf("%s:user:%s", bucket, sub.UserID),
				limit: limits.AuthenticatedPerUser,
			})
		}
	} else if sub.IP != "" && limits.AnonymousPerIP.enabled() {
		tiers = append(tiers, tier{
			key:   fmt.Sprintf("%s:ip:%s", bucket, sub.IP),
			limit: limits.AnonymousPerIP,
		})
	}

	for _, t := range tiers {
		slotDur := t.limit.Window / subBuckets
		slot := now.UnixNano() / int64(slotDur)

		count, err := l.count(ctx, t.key, slot)
		if err != nil {
			return nil, err
		}
		if count > int64(t.limit.Requests) {
			// The oldest slot rotates out at the next slot boundary;
			// that is the earliest a retry could succeed.
			retry := slotDur - time.Duration(now.UnixNano()%int64(slotDur))
			if retry < time.Second {
				retry = time.Second
			}
			return &Decision{Allowed: false, RetryAfter: retry}, nil
		}
	}
	return &Decision{Allowed: true}, nil
}

// count uses the configured store, falling back to local counters with a
// logged warning when a shared backend errors. Failing open silently is
// not an option.
func (l *Limiter) count(ctx context.Context, key string, slot int64) (int64, error) {
	n, err := l.store.IncrementAndSum(ctx, key, slot, subBuckets)
	if err == nil {
		return n, nil
	}
	if l.store == l.local {
		return 0, err
	}
	logger.Warn("rate-limit store unavailable, using local counters", "error", err)
	return l.local.IncrementAndSum(ctx, key, slot, subBuckets)
}

// HashIP reduces a client address to an opaque fixed-length subject key.
// Raw addresses never reach the counter store or the download event log.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:8])
}
