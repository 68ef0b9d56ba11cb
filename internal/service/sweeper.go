package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reqtrail/reqtrail/internal/config"
	"github.com/reqtrail/reqtrail/internal/metrics"
	"github.com/reqtrail/reqtrail/internal/registry"
)

// startMargin is how far before the oldest known row the age-window
// scan begins, to cover clock skew between writers.
const startMargin = 72 * time.Hour

// SweepConfig tunes a retention sweep.
type SweepConfig struct {
	// Days is the retention window; rows older than now minus Days
	// are eligible for deletion.
	Days int
	// Strategy selects the deletion policy.
	Strategy config.SweepStrategy
	// WindowHours is the sliding window width for the age-window
	// strategy.
	WindowHours int
	// BatchSize bounds rows deleted per transaction.
	BatchSize int
	// ReindexWeekday is the low-traffic day on which a full sweep is
	// followed by an online reindex pass.
	ReindexWeekday time.Weekday
}

func (c SweepConfig) withDefaults() SweepConfig {
	if c.Days <= 0 {
		c.Days = config.DefaultFlushDays
	}
	if c.WindowHours <= 0 {
		c.WindowHours = config.DefaultFlushWindowHours
	}
	if c.BatchSize <= 0 {
		c.BatchSize = config.DefaultFlushBatchSize
	}

	return c
}

// SweepResult summarizes one sweep run.
type SweepResult struct {
	ChangesDeleted  int `json:"changes_deleted"`
	RequestsDeleted int `json:"requests_deleted"`
	// BatchErrors counts batch deletions that failed and were skipped;
	// the sweep keeps going and the next run resumes naturally since
	// the starting point is re-derived from the table each run.
	BatchErrors int  `json:"batch_errors"`
	Reindexed   bool `json:"reindexed"`
}

// Sweeper deletes change and request records older than the retention
// cutoff in bounded batches, without locking out concurrent writers. It
// shares no in-memory state with request handling; new rows are never
// at risk because only rows older than the cutoff are targeted.
type Sweeper struct {
	changes  ChangeSweepStore
	requests RequestSweepStore
	reg      *registry.Registry
	log      *logrus.Logger
	cfg      SweepConfig

	// now is swappable for tests.
	now func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(
	changes ChangeSweepStore, requests RequestSweepStore, reg *registry.Registry,
	log *logrus.Logger, cfg SweepConfig,
) *Sweeper {
	return &Sweeper{
		changes:  changes,
		requests: requests,
		reg:      reg,
		log:      log,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// Run executes one full sweep under the configured strategy, then, on
// the designated low-traffic day, an online reindex pass. Batch
// failures are reported in the result but never abort the sweep.
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	switch s.cfg.Strategy {
	case config.SweepExclusionAware:
		s.runExclusionAware(ctx, &res)
	default:
		s.runAgeWindow(ctx, &res)
	}

	metrics.SweepDeleted.WithLabelValues("request_log_change").Add(float64(res.ChangesDeleted))
	metrics.SweepDeleted.WithLabelValues("request_log").Add(float64(res.RequestsDeleted))

	if s.now().Weekday() == s.cfg.ReindexWeekday {
		s.reindex(ctx, &res)
	}

	s.log.WithFields(logrus.Fields{
		"changes_deleted":  res.ChangesDeleted,
		"requests_deleted": res.RequestsDeleted,
		"batch_errors":     res.BatchErrors,
		"reindexed":        res.Reindexed,
	}).Info("sweep.done")

	return res, nil
}

func (s *Sweeper) cutoff() time.Time {
	return s.now().Add(-time.Duration(s.cfg.Days) * 24 * time.Hour)
}

// runAgeWindow advances a sliding time window across the full history,
// deleting matching rows in fixed-size primary-key batches so no
// transaction holds locks long enough to starve concurrent writers.
func (s *Sweeper) runAgeWindow(ctx context.Context, res *SweepResult) {
	cutoff := s.cutoff()
	window := time.Duration(s.cfg.WindowHours) * time.Hour

	res.ChangesDeleted += s.sweepWindows(ctx, res, "request_log_change", cutoff, window,
		func(ctx context.Context) (time.Time, bool, error) { return s.changes.OldestChangeAt(ctx) },
		func(ctx context.Context, from, to time.Time) (int, error) {
			return s.changes.DeleteChangesInWindow(ctx, from, to, s.cfg.BatchSize)
		})

	res.RequestsDeleted += s.sweepWindows(ctx, res, "request_log", cutoff, window,
		func(ctx context.Context) (time.Time, bool, error) { return s.requests.OldestRequestAt(ctx) },
		func(ctx context.Context, from, to time.Time) (int, error) {
			return s.requests.DeleteRequestsInWindow(ctx, from, to, s.cfg.BatchSize)
		})
}

// sweepWindows walks one table window by window and returns the total
// rows deleted. Each window's count is logged, zero included, so a
// sweep's progress is reconstructible from the logs alone.
func (s *Sweeper) sweepWindows(
	ctx context.Context, res *SweepResult, table string, cutoff time.Time, window time.Duration,
	oldest func(context.Context) (time.Time, bool, error),
	del func(context.Context, time.Time, time.Time) (int, error),
) int {
	start, ok, err := oldest(ctx)
	if err != nil {
		s.log.WithError(err).WithField("table", table).Error("sweep.oldest_failed")
		res.BatchErrors++

		return 0
	}
	if !ok || !start.Before(cutoff) {
		s.log.WithField("table", table).Debug("sweep.nothing_to_do")

		return 0
	}

	total := 0

	for from := start.Add(-startMargin); from.Before(cutoff); from = from.Add(window) {
		to := from.Add(window)
		if to.After(cutoff) {
			to = cutoff
		}

		windowDeleted := 0

		for {
			n, err := del(ctx, from, to)
			if err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{
					"table": table,
					"from":  from,
					"to":    to,
				}).Error("sweep.batch_failed")
				res.BatchErrors++

				break
			}

			windowDeleted += n
			if n < s.cfg.BatchSize {
				break
			}
		}

		total += windowDeleted
		s.log.WithFields(logrus.Fields{
			"table":   table,
			"from":    from,
			"to":      to,
			"deleted": windowDeleted,
		}).Info("sweep.window")
	}

	return total
}

// runExclusionAware deletes everything past the cutoff except rows
// whose payload touches a permanently retained field, and the request
// rows owning such changes.
func (s *Sweeper) runExclusionAware(ctx context.Context, res *SweepResult) {
	cutoff := s.cutoff()
	keep := s.retainedFields()

	res.ChangesDeleted += s.sweepBatches(ctx, res, "request_log_change",
		func(ctx context.Context) (int, error) {
			return s.changes.DeleteExpiredChangesExcluding(ctx, cutoff, s.cfg.BatchSize, keep)
		})

	res.RequestsDeleted += s.sweepBatches(ctx, res, "request_log",
		func(ctx context.Context) (int, error) {
			return s.requests.DeleteExpiredRequestsExcluding(ctx, cutoff, s.cfg.BatchSize, keep)
		})
}

func (s *Sweeper) sweepBatches(
	ctx context.Context, res *SweepResult, table string, del func(context.Context) (int, error),
) int {
	total := 0

	for {
		n, err := del(ctx)
		if err != nil {
			s.log.WithError(err).WithField("table", table).Error("sweep.batch_failed")
			res.BatchErrors++

			break
		}

		total += n
		if n < s.cfg.BatchSize {
			break
		}
	}

	s.log.WithFields(logrus.Fields{"table": table, "deleted": total}).Info("sweep.table")

	return total
}

// retainedFields maps each type declaring permanent fields to them.
func (s *Sweeper) retainedFields() map[string][]string {
	keep := make(map[string][]string)
	for _, d := range s.reg.PermanentlyRetained() {
		keep[d.Name] = d.PermanentFields
	}

	return keep
}

// reindex issues the online, non-exclusive reindex pass on both swept
// tables. Failures are logged; reads and writes are never blocked.
func (s *Sweeper) reindex(ctx context.Context, res *SweepResult) {
	ok := true

	if err := s.changes.Reindex(ctx); err != nil {
		s.log.WithError(err).Error("sweep.reindex_changes_failed")
		ok = false
	}
	if err := s.requests.Reindex(ctx); err != nil {
		s.log.WithError(err).Error("sweep.reindex_requests_failed")
		ok = false
	}

	res.Reindexed = ok
}
