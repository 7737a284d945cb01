// Package sweeper enforces the expiry post-condition: after a share's
// expires_at, neither its object nor its metadata stays reachable.
//
// A periodic sweep selects expired shares in bounded batches, marks them
// expired, deletes their objects and finalizes them as deleted. Failed
// object deletions are retried with per-share exponential backoff. A
// second pass hard-deletes long-retired rows and prunes old download
// events. The sweeper never surfaces errors to users; it logs and counts.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/sharesync/sharesync/internal/logger"
	"github.com/sharesync/sharesync/internal/metrics"
	"github.com/sharesync/sharesync/pkg/models"
	"github.com/sharesync/sharesync/pkg/storage"
	"github.com/sharesync/sharesync/pkg/store"
)

// Config holds sweep tuning knobs.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// Grace absorbs clock skew: shares are only collected once they are
	// past expires_at by at least this much.
	Grace time.Duration `mapstructure:"grace" yaml:"grace"`

	// BatchSize bounds one batch of expired shares.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`

	// Retention keeps deleted rows around before hard deletion. Zero
	// removes them on the next sweep.
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`

	// EventRetention bounds the download event log.
	EventRetention time.Duration `mapstructure:"event_retention" yaml:"event_retention"`

	// BackoffBase and BackoffMax shape the delete retry schedule:
	// base * 2^attempts, capped at max.
	BackoffBase time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
}

// ApplyDefaults fills in zero values with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Interval == 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Grace == 0 {
		c.Grace = 30 * time.Second
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.Retention == 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	if c.EventRetention == 0 {
		c.EventRetention = 90 * 24 * time.Hour
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = time.Minute
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = time.Hour
	}
}

// Result summarizes one sweep for logging and tests.
type Result struct {
	Expired        int
	Deleted        int
	DeleteFailures int
	HardDeleted    int64
	EventsPruned   int64
}

// Sweeper is the cleanup engine.
type Sweeper struct {
	store   store.SweepStore
	objects storage.ObjectStore
	cfg     Config
	metrics *metrics.SweeperMetrics
	now     func() time.Time
}

// New creates a Sweeper. m may be nil to disable metrics.
func New(s store.SweepStore, objects storage.ObjectStore, cfg Config, m *metrics.SweeperMetrics) *Sweeper {
	return &Sweeper{
		store:   s,
		objects: objects,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
	}
}

// Run sweeps on the configured interval until ctx is done. The first sweep
// runs immediately so restarts do not delay cleanup of a backlog.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.sweepAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	start := s.now()
	res, err := s.Sweep(ctx)
	s.metrics.ObserveSweep(time.Since(start).Seconds())
	if err != nil {
		logger.Error("sweep failed", "error", err)
		return
	}
	if res.Expired+res.Deleted+res.DeleteFailures > 0 || res.HardDeleted > 0 || res.EventsPruned > 0 {
		logger.Info("sweep completed",
			"expired", res.Expired,
			"deleted", res.Deleted,
			"delete_failures", res.DeleteFailures,
			"hard_deleted", res.HardDeleted,
			"events_pruned", res.EventsPruned,
			"duration", time.Since(start))
	}
}

// Sweep runs one full pass. It is idempotent and safe to run concurrently
// with another instance: batch claims select and transition rows in one
// transaction, the finalizing transitions are conditional, and deleting an
// already absent object counts as success.
func (s *Sweeper) Sweep(ctx context.Context) (*Result, error) {
	res := &Result{}
	now := s.now()
	cutoff := now.Add(-s.cfg.Grace)

	// A soft deadline keeps one oversized backlog from starving the next
	// scheduled sweep.
	deadline := now.Add(s.cfg.Interval / 2)

	for {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if s.now().After(deadline) {
			logger.Warn("sweep soft deadline hit, leaving backlog for next pass",
				"expired_so_far", res.Expired)
			break
		}

		// The claim transitions pending and available shares to expired
		// before returning, so the serving path stops handing out URLs
		// even if the object deletes below take a while. Returned rows
		// carry their pre-claim state for the transition count.
		batch, err := s.store.ClaimExpiredBatch(ctx, s.cfg.BatchSize, cutoff, s.now())
		if err != nil {
			return res, err
		}
		if len(batch) == 0 {
			break
		}

		var expired int
		for _, share := range batch {
			if share.State != models.ShareExpired {
				expired++
			}
		}
		if expired > 0 {
			res.Expired += expired
			s.metrics.Expired(expired)
		}

		for _, share := range batch {
			if err := s.reap(ctx, share); err != nil {
				res.DeleteFailures++
			} else {
				res.Deleted++
			}
		}

		if len(batch) < s.cfg.BatchSize {
			break
		}
	}

	n, err := s.store.HardDeleteBefore(ctx, now.Add(-s.cfg.Retention))
	if err != nil {
		return res, err
	}
	res.HardDeleted = n
	s.metrics.HardDeleted(n)

	pruned, err := s.store.PruneDownloadEvents(ctx, now.Add(-s.cfg.EventRetention))
	if err != nil {
		return res, err
	}
	res.EventsPruned = pruned

	return res, nil
}

// reap deletes one share's object and finalizes the row. On delete failure
// the share stays expired and is rescheduled with exponential backoff.
func (s *Sweeper) reap(ctx context.Context, share *models.Share) error {
	if err := s.objects.Delete(ctx, share.StorageKey); err != nil {
		next := s.now().Add(s.backoff(share.DeleteAttempts))
		logger.Warn("object delete failed, scheduling retry",
			"share_id", share.ID,
			"attempts", share.DeleteAttempts+1,
			"next_attempt", next,
			"error", err)
		s.metrics.DeleteFailure()
		if rerr := s.store.RecordDeleteFailure(ctx, share.ID, next); rerr != nil {
			logger.Error("failed to record delete failure", "share_id", share.ID, "error", rerr)
		}
		return err
	}

	if err := s.store.MarkDeleted(ctx, share.ID, s.now()); err != nil {
		// A concurrent sweeper finishing first is fine; anything else is
		// worth a log line but not a retry of the object delete.
		if !errors.Is(err, models.ErrInvalidState) && !errors.Is(err, models.ErrShareNotFound) {
			logger.Error("failed to finalize deleted share", "share_id", share.ID, "error", err)
			return err
		}
	}
	s.metrics.Deleted()
	return nil
}

func (s *Sweeper) backoff(attempts int) time.Duration {
	d := s.cfg.BackoffBase
	for i := 0; i < attempts && d < s.cfg.BackoffMax; i++ {
		d *= 2
	}
	if d > s.cfg.BackoffMax {
		d = s.cfg.BackoffMax
	}
	return d
}
