// Package worker runs one download execution per accepted model file:
// size probe, resume-offset computation, transfer with throttled progress,
// and cleanup on cancellation or failure.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/avoronov/modelfetch/internal/cancel"
	"github.com/avoronov/modelfetch/internal/config"
	"github.com/avoronov/modelfetch/internal/domain"
	"github.com/avoronov/modelfetch/internal/downloader"
	errpkg "github.com/avoronov/modelfetch/internal/errors"
	"github.com/avoronov/modelfetch/internal/metrics"
	"github.com/avoronov/modelfetch/internal/progress"
)

// RecordClient is the slice of the record store the worker needs: reading
// records and writing partial updates (probed size, progress). Terminal
// state is never written here; that is the scheduler's job.
type RecordClient interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.ModelFile, error)
	Update(ctx context.Context, id uuid.UUID, update *domain.ModelFileUpdate) (*domain.ModelFile, error)
}

// LocalDirFor returns the destination directory of the item, deriving the
// default under dataDir when the record does not set one.
func LocalDirFor(item *domain.ModelFile, dataDir string) string {
	if item.LocalDir != "" {
		return item.LocalDir
	}
	return filepath.Join(dataDir, "model_files", item.ID.String())
}

// Task is one download execution bound to a model file snapshot and a
// cancellation flag.
type Task struct {
	item    domain.ModelFile
	cfg     *config.Config
	records RecordClient
	flag    *cancel.Flag
	logger  *slog.Logger
}

// NewTask creates a download task for the item.
func NewTask(item domain.ModelFile, cfg *config.Config, records RecordClient, flag *cancel.Flag, logger *slog.Logger) *Task {
	return &Task{
		item:    item,
		cfg:     cfg,
		records: records,
		flag:    flag,
		logger:  logger.With("model_file_id", item.ID, "source", item.Source.String()),
	}
}

func (t *Task) driverOptions() downloader.Options {
	return downloader.Options{
		HuggingFaceEndpoint: t.cfg.HuggingFaceEndpoint,
		HuggingFaceToken:    t.cfg.HuggingFaceToken,
		ModelScopeEndpoint:  t.cfg.ModelScopeEndpoint,
		OllamaLibraryURL:    t.cfg.OllamaLibraryURL,
		CacheDir:            t.cfg.CacheDir,
		Logger:              t.logger,
	}
}

// Run executes the download and returns the resolved paths on success.
// Errors are either *errors.ProbeError (record left downloading, retried
// on re-delivery), *errors.TransferError (terminal) or ErrCancelled.
func (t *Task) Run(ctx context.Context) (paths []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			paths = nil
			err = &errpkg.TransferError{Err: fmt.Errorf("download task panicked: %v", r)}
			t.cleanup()
		}
	}()

	driver, err := downloader.ForSource(t.item.Source, t.driverOptions())
	if err != nil {
		return nil, &errpkg.TransferError{Err: err}
	}

	if err := t.ensureSize(ctx, driver); err != nil {
		return nil, &errpkg.ProbeError{Err: err}
	}
	total := *t.item.Size

	localDir := LocalDirFor(&t.item, t.cfg.DataDir)
	if t.item.Source.Kind != domain.SourceLocalPath {
		if err := os.MkdirAll(localDir, 0o755); err != nil {
			return nil, &errpkg.TransferError{Err: fmt.Errorf("create local dir: %w", err)}
		}
	}

	initial := t.existingSize(localDir)
	reporter := progress.NewReporter(
		t.item.Source.String(),
		total,
		initial,
		t.cfg.ProgressInterval,
		t.writeProgress(ctx),
		t.logger,
	)
	reporter.ReportInitial()

	if initial > 0 {
		t.logger.Info("resuming download",
			"already_downloaded", humanize.Bytes(uint64(initial)),
			"total", humanize.Bytes(uint64(total)),
		)
	}

	if t.flag.IsSet() {
		t.flag.Acknowledge()
		t.cleanup()
		return nil, errpkg.ErrCancelled
	}

	started := time.Now()
	paths, terr := driver.Transfer(ctx, t.item.Source, localDir, reporter.Add, t.flag)

	// A cancel request racing with completion resolves to cancellation.
	if t.flag.IsSet() {
		t.flag.Acknowledge()
		t.cleanup()
		return nil, errpkg.ErrCancelled
	}

	if terr != nil {
		if errors.Is(terr, errpkg.ErrCancelled) || errors.Is(terr, context.Canceled) {
			t.cleanup()
			return nil, errpkg.ErrCancelled
		}
		t.cleanup()
		return nil, &errpkg.TransferError{Err: terr}
	}

	transferred := reporter.Transferred()
	metrics.DownloadBytes.Add(float64(transferred))
	t.logger.Info("download finished",
		"transferred", humanize.Bytes(uint64(transferred)),
		"duration", time.Since(started).Round(time.Millisecond),
		"resolved_paths", len(paths),
	)

	return paths, nil
}

// ensureSize probes and persists the artifact size if the record does not
// carry one yet.
func (t *Task) ensureSize(ctx context.Context, driver downloader.Driver) error {
	if t.item.Size != nil && *t.item.Size > 0 {
		return nil
	}

	size, err := driver.ProbeSize(ctx, t.item.Source)
	if err != nil {
		return err
	}

	if _, err := t.records.Update(ctx, t.item.ID, &domain.ModelFileUpdate{Size: &size}); err != nil {
		return fmt.Errorf("persist probed size: %w", err)
	}

	t.item.Size = &size
	t.logger.Debug("size probed", "size", humanize.Bytes(uint64(size)))
	return nil
}

// existingSize computes the resume baseline: bytes of the item already on
// disk. For single-file transfers this is the target (or its stage file);
// for directory transfers, the sum of all regular files present.
func (t *Task) existingSize(localDir string) int64 {
	src := t.item.Source

	switch {
	case src.Kind == domain.SourceLocalPath:
		return 0

	case src.Kind == domain.SourceOllamaLibrary:
		return fileOrPartSize(downloader.OllamaCachePath(t.cfg.CacheDir, src.OllamaLibraryModelName))

	case src.SingleFile():
		return fileOrPartSize(filepath.Join(localDir, filepath.FromSlash(src.TargetFilename())))

	default:
		size, err := downloader.DirSize(localDir)
		if err != nil {
			t.logger.Warn("failed to compute existing size", "error", err)
			return 0
		}
		return size
	}
}

func fileOrPartSize(path string) int64 {
	if info, err := os.Stat(path); err == nil {
		return info.Size()
	}
	if info, err := os.Stat(path + downloader.PartSuffix); err == nil {
		return info.Size()
	}
	return 0
}

func (t *Task) writeProgress(ctx context.Context) progress.WriteFunc {
	return func(pct float64) {
		if _, err := t.records.Update(ctx, t.item.ID, &domain.ModelFileUpdate{DownloadProgress: &pct}); err != nil {
			t.logger.Warn("failed to update download progress", "progress", pct, "error", err)
		}
	}
}

func (t *Task) cleanup() {
	Cleanup(&t.item, t.cfg, t.logger)
}

// Cleanup removes the item's partial artifacts: the local_dir tree and any
// stage files in the cache. It is idempotent and safe to run from both the
// worker and the scheduler; failures are logged, never escalated.
func Cleanup(item *domain.ModelFile, cfg *config.Config, logger *slog.Logger) {
	if item.Source.Kind == domain.SourceLocalPath {
		// Nothing was written for local models.
		return
	}

	localDir := LocalDirFor(item, cfg.DataDir)
	if err := os.RemoveAll(localDir); err != nil {
		logger.Warn("failed to remove local dir", "local_dir", localDir, "error", err)
	} else {
		logger.Debug("removed local dir", "local_dir", localDir)
	}

	if item.Source.Kind == domain.SourceOllamaLibrary {
		cachePath := downloader.OllamaCachePath(cfg.CacheDir, item.Source.OllamaLibraryModelName)
		for _, path := range []string{cachePath + downloader.PartSuffix, cachePath} {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logger.Warn("failed to remove cache file", "path", path, "error", err)
			}
		}
	}
}
