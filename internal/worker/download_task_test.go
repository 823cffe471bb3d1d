package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avoronov/modelfetch/internal/cancel"
	"github.com/avoronov/modelfetch/internal/config"
	"github.com/avoronov/modelfetch/internal/domain"
	errpkg "github.com/avoronov/modelfetch/internal/errors"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRecords captures the partial updates a task writes back.
type fakeRecords struct {
	mu       sync.Mutex
	sizes    []int64
	progress []float64
}

func (f *fakeRecords) Get(ctx context.Context, id uuid.UUID) (*domain.ModelFile, error) {
	return nil, errpkg.ErrModelFileNotFound
}

func (f *fakeRecords) Update(ctx context.Context, id uuid.UUID, update *domain.ModelFileUpdate) (*domain.ModelFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if update.Size != nil {
		f.sizes = append(f.sizes, *update.Size)
	}
	if update.DownloadProgress != nil {
		f.progress = append(f.progress, *update.DownloadProgress)
	}
	return &domain.ModelFile{ID: id}, nil
}

func (f *fakeRecords) lastProgress() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.progress) == 0 {
		return 0, false
	}
	return f.progress[len(f.progress)-1], true
}

// newTaskHub serves a single-file Hugging Face style repo.
func newTaskHub(t *testing.T, repoID, filename, content string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("/api/models/%s/tree/main", repoID), func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"type": "file", "path": filename, "size": len(content)},
		})
	})
	mux.HandleFunc(fmt.Sprintf("/%s/resolve/main/%s", repoID, filename), func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(content))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTaskConfig(t *testing.T, hubURL string) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:             t.TempDir(),
		CacheDir:            t.TempDir(),
		ProgressInterval:    2 * time.Second,
		HuggingFaceEndpoint: hubURL,
	}
}

func hfItem() domain.ModelFile {
	return domain.ModelFile{
		ID: uuid.New(),
		Source: domain.Source{
			Kind:                domain.SourceHuggingFace,
			HuggingFaceRepoID:   "org/model",
			HuggingFaceFilename: "model.gguf",
		},
		State: domain.StateDownloading,
	}
}

func TestTaskRunSucceedsAndPersistsSizeAndProgress(t *testing.T) {
	content := "0123456789"
	hub := newTaskHub(t, "org/model", "model.gguf", content)
	cfg := newTaskConfig(t, hub.URL)
	records := &fakeRecords{}
	item := hfItem()

	task := NewTask(item, cfg, records, &cancel.Flag{}, newTestLogger())
	paths, err := task.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, paths, 1)

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, content, string(data))

	// The probed size was written back before the transfer started.
	require.Equal(t, []int64{int64(len(content))}, records.sizes)

	last, ok := records.lastProgress()
	require.True(t, ok)
	assert.Equal(t, float64(100), last)
}

func TestTaskRunSkipsProbeWhenSizeKnown(t *testing.T) {
	content := "0123456789"
	hub := newTaskHub(t, "org/model", "model.gguf", content)
	cfg := newTaskConfig(t, hub.URL)
	records := &fakeRecords{}

	item := hfItem()
	size := int64(len(content))
	item.Size = &size

	task := NewTask(item, cfg, records, &cancel.Flag{}, newTestLogger())
	_, err := task.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records.sizes)
}

func TestTaskRunProbeFailureIsRetryable(t *testing.T) {
	// Nothing listens here; the size probe fails before any bytes move.
	cfg := newTaskConfig(t, "http://127.0.0.1:1")
	records := &fakeRecords{}

	task := NewTask(hfItem(), cfg, records, &cancel.Flag{}, newTestLogger())
	_, err := task.Run(context.Background())
	require.Error(t, err)

	var probeErr *errpkg.ProbeError
	assert.ErrorAs(t, err, &probeErr)
}

func TestTaskRunTransferFailureCleansUp(t *testing.T) {
	cfg := newTaskConfig(t, "http://127.0.0.1:1")
	records := &fakeRecords{}

	// A known size skips the probe, so the failure happens mid-transfer.
	item := hfItem()
	size := int64(10)
	item.Size = &size

	task := NewTask(item, cfg, records, &cancel.Flag{}, newTestLogger())
	_, err := task.Run(context.Background())
	require.Error(t, err)

	var transferErr *errpkg.TransferError
	assert.ErrorAs(t, err, &transferErr)

	// The default local dir was removed again.
	localDir := LocalDirFor(&item, cfg.DataDir)
	_, statErr := os.Stat(localDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestTaskRunHonorsPresetCancelFlag(t *testing.T) {
	content := "0123456789"
	hub := newTaskHub(t, "org/model", "model.gguf", content)
	cfg := newTaskConfig(t, hub.URL)
	records := &fakeRecords{}
	item := hfItem()

	flag := &cancel.Flag{}
	flag.Set()

	task := NewTask(item, cfg, records, flag, newTestLogger())
	_, err := task.Run(context.Background())
	require.ErrorIs(t, err, errpkg.ErrCancelled)
	assert.True(t, flag.Acknowledged())

	localDir := LocalDirFor(&item, cfg.DataDir)
	_, statErr := os.Stat(localDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestTaskRunResumesFromPartialFile(t *testing.T) {
	content := "0123456789"
	hub := newTaskHub(t, "org/model", "model.gguf", content)
	cfg := newTaskConfig(t, hub.URL)
	records := &fakeRecords{}

	item := hfItem()
	localDir := LocalDirFor(&item, cfg.DataDir)
	require.NoError(t, os.MkdirAll(localDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(localDir, "model.gguf.part"), []byte(content[:4]), 0o644))

	task := NewTask(item, cfg, records, &cancel.Flag{}, newTestLogger())
	_, err := task.Run(context.Background())
	require.NoError(t, err)

	// The first progress write reflects the bytes already present.
	require.NotEmpty(t, records.progress)
	assert.Equal(t, float64(40), records.progress[0])
}

func TestLocalDirFor(t *testing.T) {
	item := hfItem()
	assert.Equal(t,
		filepath.Join("/data", "model_files", item.ID.String()),
		LocalDirFor(&item, "/data"),
	)

	item.LocalDir = "/models/custom"
	assert.Equal(t, "/models/custom", LocalDirFor(&item, "/data"))
}
