package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTickEvery is how often the ticker looks for due jobs.
const DefaultTickEvery = time.Minute

// Ticker runs Scheduler.Tick in the background.
type Ticker struct {
	scheduler *Scheduler
	every     time.Duration
	now       func() time.Time
	logger    *zap.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTicker creates a ticker that fires every interval.
func NewTicker(scheduler *Scheduler, every time.Duration, logger *zap.Logger) *Ticker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if every <= 0 {
		every = DefaultTickEvery
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Ticker{
		scheduler: scheduler,
		every:     every,
		now:       time.Now,
		logger:    logger.Named("ticker"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins ticking. The first tick runs immediately.
func (t *Ticker) Start() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.logger.Info("Ticker started", zap.Duration("every", t.every))
		timer := time.NewTicker(t.every)
		defer timer.Stop()
		for {
			report := t.scheduler.Tick(t.ctx, t.now())
			if report.Err != nil {
				t.logger.Warn("Tick had failures",
					zap.String("run_id", report.RunID.String()),
					zap.Error(report.Err))
			}

			select {
			case <-t.ctx.Done():
				return
			case <-timer.C:
			}
		}
	}()
}

// Stop cancels refreshes in flight and waits for the loop to exit. It is
// safe to call more than once.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() {
		t.cancel()
		t.wg.Wait()
		t.logger.Info("Ticker stopped")
	})
}
