// Package channel turns subscriptions into channels.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bryan-buckman/channelsync/internal/model"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Defaults for Options fields left zero.
const (
	DefaultWorkers           = 4
	DefaultActivationTimeout = 30 * time.Second

	// persistTimeout bounds recording a channel that already exists
	// upstream, independent of how much of the activation budget is left.
	persistTimeout = 10 * time.Second
)

// SubscriptionStore is the durable record of subscriptions.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, name string) (model.Subscription, error)
	SaveSubscription(ctx context.Context, sub model.Subscription) error
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
}

// Registry creates externally visible channels.
type Registry interface {
	CreateChannel(ctx context.Context, displayName, description, icon string) (int64, error)
}

// Scheduler registers channels for recurring sync.
type Scheduler interface {
	EnsureScheduled(channelID int64, interval time.Duration) (bool, error)
}

// Options configures an Activator.
type Options struct {
	SyncInterval      time.Duration
	Workers           int
	ActivationTimeout time.Duration
}

// Activator creates at most one channel per subscription. It holds no state
// of its own beyond in-flight bookkeeping.
type Activator struct {
	store     SubscriptionStore
	registry  Registry
	scheduler Scheduler
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger

	inflight singleflight.Group
	pool     *semaphore.Weighted
	wg       sync.WaitGroup
}

// NewActivator creates an activator.
func NewActivator(store SubscriptionStore, registry Registry, scheduler Scheduler, opts Options, logger *zap.Logger) *Activator {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	timeout := opts.ActivationTimeout
	if timeout <= 0 {
		timeout = DefaultActivationTimeout
	}
	return &Activator{
		store:     store,
		registry:  registry,
		scheduler: scheduler,
		interval:  opts.SyncInterval,
		timeout:   timeout,
		logger:    logger.Named("activator"),
		pool:      semaphore.NewWeighted(int64(workers)),
	}
}

// Activate returns the channel of the named subscription, creating it if
// the subscription has none yet. Calls for the same name are serialized;
// concurrent callers share the result of the call in flight.
//
// The shared call runs detached from every caller's ctx, bounded by the
// activation timeout. A caller whose ctx ends first gets ctx.Err() while
// the activation carries on; Wait covers such abandoned calls.
func (a *Activator) Activate(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: empty subscription name", model.ErrInvalidInput)
	}
	ch := a.inflight.DoChan(name, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		return a.activate(runCtx, name)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int64), nil
	case <-ctx.Done():
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			<-ch
		}()
		return 0, ctx.Err()
	}
}

func (a *Activator) activate(ctx context.Context, name string) (int64, error) {
	sub, err := a.store.GetSubscription(ctx, name)
	if err != nil {
		return 0, err
	}
	if sub.Active() {
		a.logger.Debug("Subscription already active",
			zap.String("subscription", name),
			zap.Int64("channel_id", sub.ChannelID))
		return sub.ChannelID, nil
	}

	channelID, err := a.registry.CreateChannel(ctx, sub.Name, sub.Description, sub.IconRef)
	if err == nil && channelID <= 0 {
		err = fmt.Errorf("registry returned channel id %d", channelID)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", model.ErrChannelCreationFailed, name, err)
	}

	sub.ChannelID = channelID
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := a.store.SaveSubscription(saveCtx, sub); err != nil {
		// The channel exists upstream but is not recorded here. Creating it
		// again could duplicate it, so this is left for reconciliation.
		a.logger.Error("Channel created but not recorded",
			zap.String("subscription", name),
			zap.Int64("orphan_channel_id", channelID),
			zap.Error(err))
		if !errors.Is(err, model.ErrStorage) {
			err = fmt.Errorf("%w: %w", model.ErrStorage, err)
		}
		return 0, err
	}
	a.logger.Info("Channel created",
		zap.String("subscription", name),
		zap.Int64("channel_id", channelID))

	a.schedule(channelID)
	return channelID, nil
}

// schedule registers channelID for sync. Failure leaves the channel without
// refreshes until Resume runs again.
func (a *Activator) schedule(channelID int64) {
	if _, err := a.scheduler.EnsureScheduled(channelID, a.interval); err != nil {
		a.logger.Warn("Sync registration failed",
			zap.Int64("channel_id", channelID),
			zap.Error(err))
	}
}

// Resume registers a sync job for every activated subscription. It is safe
// to call repeatedly. Returns the number of jobs that were newly created.
func (a *Activator) Resume(ctx context.Context) (int, error) {
	subs, err := a.store.ListSubscriptions(ctx)
	if err != nil {
		return 0, err
	}
	var result *multierror.Error
	created := 0
	for _, sub := range subs {
		if !sub.Active() {
			continue
		}
		isNew, err := a.scheduler.EnsureScheduled(sub.ChannelID, a.interval)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("schedule %q (channel %d): %w", sub.Name, sub.ChannelID, err))
			continue
		}
		if isNew {
			created++
		}
	}
	a.logger.Info("Sync jobs resumed", zap.Int("created", created), zap.Int("subscriptions", len(subs)))
	return created, result.ErrorOrNil()
}

// Submit runs Activate on the worker pool and returns immediately.
// Cancelling ctx does not abort a submitted activation: both the wait for a
// free worker and the activation itself are bounded by the activation
// timeout only.
func (a *Activator) Submit(ctx context.Context, name string) *Task {
	t := &Task{Name: name, done: make(chan struct{})}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(t.done)

		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.pool.Acquire(runCtx, 1); err != nil {
			t.err = fmt.Errorf("waiting for a worker: %w", err)
			return
		}
		defer a.pool.Release(1)
		t.channelID, t.err = a.Activate(runCtx, name)
	}()
	return t
}

// Wait blocks until every submitted task and every abandoned Activate
// call has finished.
func (a *Activator) Wait() {
	a.wg.Wait()
}

// Task is the handle of a submitted activation.
type Task struct {
	Name string

	done      chan struct{}
	channelID int64
	err       error
}

// Done is closed when the activation has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the activation finishes or ctx is done. Giving up on
// the wait does not cancel the activation.
func (t *Task) Wait(ctx context.Context) (int64, error) {
	select {
	case <-t.done:
		return t.channelID, t.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Then calls fn with the outcome once the activation finishes.
func (t *Task) Then(fn func(channelID int64, err error)) {
	go func() {
		<-t.done
		fn(t.channelID, t.err)
	}()
}
