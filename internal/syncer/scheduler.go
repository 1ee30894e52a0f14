package syncer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bryan-buckman/channelsync/internal/model"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Concurrency settings
const (
	// DefaultWorkers is the number of refreshes a tick runs in parallel.
	DefaultWorkers = 4
	// WorkersSQLite keeps writes to a single SQLite connection sequential.
	WorkersSQLite = 1
	// DefaultRefreshTimeout bounds a single channel refresh.
	DefaultRefreshTimeout = 2 * time.Minute
)

// Refresher refreshes one channel.
type Refresher interface {
	Refresh(ctx context.Context, channelID int64) Outcome
}

// Options configures a Scheduler.
type Options struct {
	Workers        int
	RefreshTimeout time.Duration
}

// TickReport describes one pass over the job table.
type TickReport struct {
	RunID    uuid.UUID `json:"run_id"`
	At       time.Time `json:"at"`
	Outcomes []Outcome `json:"outcomes"`
	// Skipped lists due channels whose previous refresh was still running.
	Skipped []int64 `json:"skipped"`
	// Err aggregates the failed outcomes, nil when all succeeded.
	Err error `json:"-"`
}

// Failed returns the number of outcomes that carry an error.
func (r TickReport) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Scheduler owns the sync job of every activated channel and runs the due
// ones on each tick. At most one refresh per channel is in flight.
type Scheduler struct {
	refresher Refresher
	workers   int
	timeout   time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	jobs    map[int64]*model.ChannelSyncJob
	running map[int64]bool
}

// NewScheduler creates a scheduler with an empty job table.
func NewScheduler(refresher Refresher, opts Options, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	timeout := opts.RefreshTimeout
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &Scheduler{
		refresher: refresher,
		workers:   workers,
		timeout:   timeout,
		logger:    logger.Named("scheduler"),
		jobs:      make(map[int64]*model.ChannelSyncJob),
		running:   make(map[int64]bool),
	}
}

// EnsureScheduled registers a recurring refresh for channelID. Registering
// a channel twice keeps the first job. Returns true if a job was created.
func (s *Scheduler) EnsureScheduled(channelID int64, interval time.Duration) (bool, error) {
	if channelID <= 0 {
		return false, fmt.Errorf("%w: channel id %d", model.ErrInvalidInput, channelID)
	}
	if interval <= 0 {
		return false, fmt.Errorf("%w: sync interval %s", model.ErrInvalidInput, interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[channelID]; ok {
		return false, nil
	}
	s.jobs[channelID] = &model.ChannelSyncJob{ChannelID: channelID, Interval: interval}
	s.logger.Info("Sync job registered",
		zap.Int64("channel_id", channelID),
		zap.Duration("interval", interval))
	return true, nil
}

// Jobs returns a snapshot of the job table ordered by channel id.
func (s *Scheduler) Jobs() []model.ChannelSyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ChannelSyncJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		j := *job
		if job.LastRunAt != nil {
			t := *job.LastRunAt
			j.LastRunAt = &t
		}
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ChannelID < out[b].ChannelID })
	return out
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Tick refreshes every job that is due at now. LastRunAt is advanced before
// the refresh starts, so a failing channel waits a full interval before it
// is tried again. A failure in one channel never affects the others.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) TickReport {
	report := TickReport{RunID: uuid.New(), At: now}

	due := s.claimDue(now, &report)
	if len(due) == 0 {
		return report
	}

	outcomes := make([]Outcome, len(due))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, channelID := range due {
		g.Go(func() error {
			defer s.release(channelID)
			refreshCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			outcomes[i] = s.refresher.Refresh(refreshCtx, channelID)
			return nil
		})
	}
	_ = g.Wait()

	var result *multierror.Error
	for _, o := range outcomes {
		if o.Err != nil {
			result = multierror.Append(result, o.Err)
		}
	}
	report.Outcomes = outcomes
	report.Err = result.ErrorOrNil()

	s.logger.Info("Tick finished",
		zap.String("run_id", report.RunID.String()),
		zap.Int("refreshed", len(outcomes)),
		zap.Int("failed", report.Failed()),
		zap.Int("skipped", len(report.Skipped)))
	return report
}

func (s *Scheduler) claimDue(now time.Time, report *TickReport) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	var due []int64
	for _, id := range ids {
		job := s.jobs[id]
		if !job.Due(now) {
			continue
		}
		if s.running[id] {
			report.Skipped = append(report.Skipped, id)
			continue
		}
		ranAt := now
		job.LastRunAt = &ranAt
		s.running[id] = true
		due = append(due, id)
	}
	return due
}

func (s *Scheduler) release(channelID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, channelID)
}
