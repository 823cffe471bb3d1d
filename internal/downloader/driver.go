// Package downloader contains the source drivers: one per source kind,
// each able to probe the artifact size and transfer bytes to a local
// destination while reporting incremental progress and honoring the
// cancellation flag.
package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avoronov/modelfetch/internal/cancel"
	"github.com/avoronov/modelfetch/internal/domain"
)

// PartSuffix marks in-progress artifacts on disk so resume and cleanup can
// identify them unambiguously.
const PartSuffix = ".part"

// ProgressFunc receives incremental byte counts as they are transferred.
type ProgressFunc func(n int64)

// Driver transfers artifacts of one source kind. Implementations are free
// to resume internally; the caller only observes progress and outcomes.
type Driver interface {
	// ProbeSize returns the total artifact size in bytes without
	// transferring data.
	ProbeSize(ctx context.Context, src domain.Source) (int64, error)

	// Transfer downloads the artifact into destDir and returns the
	// concrete paths produced. onProgress is invoked with newly
	// transferred byte counts only; bytes already on disk are never
	// re-reported.
	Transfer(ctx context.Context, src domain.Source, destDir string, onProgress ProgressFunc, flag *cancel.Flag) ([]string, error)
}

// Options carries the endpoint and filesystem configuration shared by the
// drivers.
type Options struct {
	HuggingFaceEndpoint string
	HuggingFaceToken    string
	ModelScopeEndpoint  string
	OllamaLibraryURL    string
	CacheDir            string
	Logger              *slog.Logger
}

// newHTTPClient returns the client used for transfers. No overall timeout:
// large transfers may run for hours, and cancellation is the only
// terminating event besides completion.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

// ForSource returns the driver for the source kind.
func ForSource(src domain.Source, opts Options) (Driver, error) {
	switch src.Kind {
	case domain.SourceHuggingFace:
		return newHuggingFaceDriver(opts), nil
	case domain.SourceModelScope:
		return newModelScopeDriver(opts), nil
	case domain.SourceOllamaLibrary:
		return newOllamaDriver(opts), nil
	case domain.SourceLocalPath:
		return newLocalPathDriver(opts), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", src.Kind)
	}
}
