// Package scheduler owns the active-task table and the bounded download
// pool. It is the single writer of terminal record state.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/avoronov/modelfetch/internal/cancel"
	"github.com/avoronov/modelfetch/internal/config"
	"github.com/avoronov/modelfetch/internal/domain"
	errpkg "github.com/avoronov/modelfetch/internal/errors"
	"github.com/avoronov/modelfetch/internal/metrics"
	"github.com/avoronov/modelfetch/internal/worker"
)

// terminalWriteTimeout bounds the record write-back after a task retires.
const terminalWriteTimeout = 30 * time.Second

type activeTask struct {
	item      domain.ModelFile
	flag      *cancel.Flag
	ctx       context.Context
	cancelCtx context.CancelFunc
	done      chan struct{}
	startedAt time.Time
}

// Scheduler reconciles change-feed events into running download tasks.
// The active-task table is keyed by record id and guarantees at most one
// execution per id; concurrency across ids is bounded by a semaphore.
type Scheduler struct {
	cfg     *config.Config
	records worker.RecordClient
	logger  *slog.Logger
	sem     *semaphore.Weighted

	mu     sync.Mutex
	active map[uuid.UUID]*activeTask

	wg sync.WaitGroup
}

// New creates a scheduler with a pool bounded by
// cfg.MaxConcurrentDownloads.
func New(cfg *config.Config, records worker.RecordClient, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		records: records,
		logger:  logger,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrentDownloads)),
		active:  make(map[uuid.UUID]*activeTask),
	}
}

// EnsureRunning registers the item and dispatches a download task bound to
// a fresh cancellation flag. Idempotent: duplicate events for an id with
// an active task are no-ops.
func (s *Scheduler) EnsureRunning(item domain.ModelFile) {
	s.mu.Lock()
	if _, exists := s.active[item.ID]; exists {
		s.mu.Unlock()
		s.logger.Debug("download already active, ignoring event", "model_file_id", item.ID)
		return
	}

	ctx, cancelCtx := context.WithCancel(context.Background())
	at := &activeTask{
		item:      item,
		flag:      &cancel.Flag{},
		ctx:       ctx,
		cancelCtx: cancelCtx,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	s.active[item.ID] = at
	s.mu.Unlock()

	metrics.DownloadsStarted.Inc()
	metrics.ActiveDownloads.Inc()
	s.logger.Info("download task created", "model_file_id", item.ID, "source", item.Source.String())

	s.wg.Add(1)
	go s.run(at)
}

func (s *Scheduler) run(at *activeTask) {
	defer s.wg.Done()
	defer close(at.done)
	defer at.cancelCtx()

	// Pool admission. Queued items remain cancellable: EnsureCancelled
	// cancels at.ctx, which aborts the acquire before any byte moves.
	if err := s.sem.Acquire(at.ctx, 1); err != nil {
		s.finish(at, nil, errpkg.ErrCancelled)
		return
	}
	defer s.sem.Release(1)

	if at.flag.IsSet() {
		at.flag.Acknowledge()
		s.finish(at, nil, errpkg.ErrCancelled)
		return
	}

	task := worker.NewTask(at.item, s.cfg, s.records, at.flag, s.logger)
	paths, err := task.Run(at.ctx)
	s.finish(at, paths, err)
}

// finish retires the task and writes the terminal record state. Once a
// cancel request was observed, a late success is discarded and cleanup
// runs instead.
func (s *Scheduler) finish(at *activeTask, paths []string, err error) {
	s.mu.Lock()
	_, stillActive := s.active[at.item.ID]
	delete(s.active, at.item.ID)
	s.mu.Unlock()

	if stillActive {
		metrics.ActiveDownloads.Dec()
	}

	cancelled := !stillActive || at.flag.IsSet() || errors.Is(err, errpkg.ErrCancelled)
	if cancelled {
		metrics.DownloadsCancelled.Inc()
		worker.Cleanup(&at.item, s.cfg, s.logger)
		s.logger.Info("download cancelled", "model_file_id", at.item.ID, "source", at.item.Source.String())
		return
	}

	ctx, cancelWrite := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancelWrite()

	if err == nil {
		state := domain.StateReady
		full := float64(100)
		update := &domain.ModelFileUpdate{
			State:            &state,
			DownloadProgress: &full,
			ResolvedPaths:    paths,
		}
		if _, uerr := s.records.Update(ctx, at.item.ID, update); uerr != nil {
			s.logger.Error("failed to write ready state", "model_file_id", at.item.ID, "error", uerr)
		}

		metrics.DownloadsSucceeded.Inc()
		metrics.DownloadDuration.Observe(time.Since(at.startedAt).Seconds())
		s.logger.Info("download completed", "model_file_id", at.item.ID, "source", at.item.Source.String())
		return
	}

	var probeErr *errpkg.ProbeError
	if errors.As(err, &probeErr) {
		// Not terminal. The record stays downloading and the probe is
		// retried when the event is delivered again.
		s.logger.Error("size probe failed", "model_file_id", at.item.ID, "error", err)
		return
	}

	state := domain.StateError
	msg := err.Error()
	update := &domain.ModelFileUpdate{
		State:        &state,
		StateMessage: &msg,
	}
	if _, uerr := s.records.Update(ctx, at.item.ID, update); uerr != nil {
		s.logger.Error("failed to write error state", "model_file_id", at.item.ID, "error", uerr)
	}

	metrics.DownloadsFailed.Inc()
	s.logger.Error("download failed", "model_file_id", at.item.ID, "source", at.item.Source.String(), "error", err)
}

// EnsureCancelled pops the item's active task (if any), signals
// cancellation and, after the task stops or the grace period expires,
// forces cleanup. With cleanup_on_delete set the resolved paths are
// removed as well. Idempotent and non-blocking.
func (s *Scheduler) EnsureCancelled(item domain.ModelFile) {
	s.mu.Lock()
	at, exists := s.active[item.ID]
	if exists {
		delete(s.active, item.ID)
	}
	s.mu.Unlock()

	if exists {
		metrics.ActiveDownloads.Dec()
		at.flag.Set()
		at.cancelCtx()
		s.logger.Info("cancellation requested", "model_file_id", item.ID, "source", item.Source.String())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			select {
			case <-at.done:
			case <-time.After(s.cfg.CancelGracePeriod):
				s.logger.Warn("download did not stop within grace period, forcing cleanup",
					"model_file_id", item.ID,
					"acknowledged", at.flag.Acknowledged(),
					"grace_period", s.cfg.CancelGracePeriod,
				)
			}
			// Runs regardless of the worker's own cleanup attempt;
			// cleanup is idempotent on a missing path.
			worker.Cleanup(&at.item, s.cfg, s.logger)
		}()
	}

	if item.CleanupOnDelete {
		// Resolved trees can be huge; never block the event dispatch
		// loop on their removal.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.deleteResolvedPaths(item)
		}()
	}
}

// deleteResolvedPaths removes the item's resolved paths from disk,
// expanding glob entries. Failures are logged and swallowed.
func (s *Scheduler) deleteResolvedPaths(item domain.ModelFile) {
	for _, entry := range item.ResolvedPaths {
		paths := []string{entry}
		if strings.Contains(entry, "*") {
			matches, err := filepath.Glob(entry)
			if err != nil {
				s.logger.Warn("invalid resolved path pattern", "pattern", entry, "error", err)
				continue
			}
			paths = matches
		}

		for _, path := range paths {
			if err := os.RemoveAll(path); err != nil {
				s.logger.Warn("failed to delete resolved path", "path", path, "error", err)
			} else {
				s.logger.Info("deleted resolved path", "model_file_id", item.ID, "path", path)
			}
		}
	}
}

// ActiveCount returns the number of registered tasks.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Shutdown waits for in-flight tasks and cleanup goroutines to finish.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
