// Package watcher maintains the change-feed subscription and forwards
// this worker's events to the scheduler.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/avoronov/modelfetch/internal/domain"
	"github.com/avoronov/modelfetch/internal/metrics"
)

// Feed is the change-feed subscription. Watch blocks until the stream
// breaks or ctx is cancelled.
type Feed interface {
	Watch(ctx context.Context, fn func(domain.Event)) error
}

// Scheduler receives the filtered events.
type Scheduler interface {
	EnsureRunning(item domain.ModelFile)
	EnsureCancelled(item domain.ModelFile)
}

// Watcher subscribes to the change feed, filters events to this worker's
// id and dispatches them. It carries no business logic beyond dispatch.
type Watcher struct {
	workerID string
	feed     Feed
	sched    Scheduler
	delay    time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

// New creates a watcher for the given worker id. delay is the fixed pause
// between resubscription attempts after a feed failure.
func New(workerID string, feed Feed, sched Scheduler, delay time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		workerID: workerID,
		feed:     feed,
		sched:    sched,
		delay:    delay,
		clock:    clock.WallClock,
		logger:   logger,
	}
}

// Run blocks maintaining the subscription until ctx is cancelled. Feed
// failures are logged and retried indefinitely; they never terminate the
// orchestrator.
func (w *Watcher) Run(ctx context.Context) error {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			w.logger.Debug("watching model files", "worker_id", w.workerID)
			return w.feed.Watch(ctx, w.handle)
		},
		IsFatalError: func(err error) bool {
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		NotifyFunc: func(lastError error, attempt int) {
			metrics.WatchReconnects.Inc()
			w.logger.Error("model file watch failed, resubscribing",
				"error", lastError,
				"attempt", attempt,
				"delay", w.delay,
			)
		},
		Attempts: retry.UnlimitedAttempts,
		Delay:    w.delay,
		Clock:    w.clock,
		Stop:     ctx.Done(),
	})

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (w *Watcher) handle(ev domain.Event) {
	if ev.Item.WorkerID != w.workerID {
		// Work items assigned to other workers are none of ours.
		return
	}

	w.logger.Debug("received model file event",
		"event_type", ev.Type,
		"model_file_id", ev.Item.ID,
		"state", ev.Item.State,
	)

	switch ev.Type {
	case domain.EventDeleted:
		w.sched.EnsureCancelled(ev.Item)
	case domain.EventCreated, domain.EventUpdated:
		if ev.Item.State != domain.StateDownloading {
			// Echo of a progress or terminal update this
			// orchestrator wrote itself.
			return
		}
		w.sched.EnsureRunning(ev.Item)
	}
}
