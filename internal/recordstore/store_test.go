package recordstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avoronov/modelfetch/internal/domain"
	errpkg "github.com/avoronov/modelfetch/internal/errors"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "state.json"), newTestLogger())
	require.NoError(t, err)
	return store
}

func testModelFile(workerID string) *domain.ModelFile {
	return &domain.ModelFile{
		WorkerID: workerID,
		Source: domain.Source{
			Kind:              domain.SourceHuggingFace,
			HuggingFaceRepoID: "org/model",
		},
	}
}

func TestCreateAssignsIDAndDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testModelFile("worker-1"))
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, domain.StateDownloading, created.State)
	assert.Equal(t, "huggingface:org/model", created.SourceIndex)
	assert.False(t, created.CreatedAt.IsZero())
}

func TestCreateRejectsDuplicateSource(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, testModelFile("worker-1"))
	require.NoError(t, err)

	_, err = store.Create(ctx, testModelFile("worker-2"))
	assert.ErrorIs(t, err, errpkg.ErrDuplicateSource)
}

func TestUpdateMergesPartialFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testModelFile("worker-1"))
	require.NoError(t, err)

	progress := 55.5
	updated, err := store.Update(ctx, created.ID, &domain.ModelFileUpdate{DownloadProgress: &progress})
	require.NoError(t, err)

	assert.Equal(t, 55.5, updated.DownloadProgress)
	// Untouched fields survive the merge.
	assert.Equal(t, domain.StateDownloading, updated.State)
	assert.Equal(t, "worker-1", updated.WorkerID)

	size := int64(4096)
	state := domain.StateReady
	updated, err = store.Update(ctx, created.ID, &domain.ModelFileUpdate{
		Size:          &size,
		State:         &state,
		ResolvedPaths: []string{"/data/model.gguf"},
	})
	require.NoError(t, err)

	require.NotNil(t, updated.Size)
	assert.Equal(t, int64(4096), *updated.Size)
	assert.Equal(t, domain.StateReady, updated.State)
	assert.Equal(t, []string{"/data/model.gguf"}, updated.ResolvedPaths)
	assert.Equal(t, 55.5, updated.DownloadProgress)
}

func TestUpdateUnknownID(t *testing.T) {
	store := newTestStore(t)

	progress := 10.0
	_, err := store.Update(context.Background(), uuid.New(), &domain.ModelFileUpdate{DownloadProgress: &progress})
	assert.ErrorIs(t, err, errpkg.ErrModelFileNotFound)
}

func TestDeleteRemovesRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testModelFile("worker-1"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, created.ID))

	_, err = store.Get(ctx, created.ID)
	assert.ErrorIs(t, err, errpkg.ErrModelFileNotFound)
	assert.ErrorIs(t, store.Delete(ctx, created.ID), errpkg.ErrModelFileNotFound)
}

func TestStatePersistsAcrossRestarts(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	store, err := New(stateFile, newTestLogger())
	require.NoError(t, err)

	created, err := store.Create(ctx, testModelFile("worker-1"))
	require.NoError(t, err)

	reopened, err := New(stateFile, newTestLogger())
	require.NoError(t, err)

	restored, err := reopened.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.SourceIndex, restored.SourceIndex)
}

func TestConcurrentMutationsPersistConsistently(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	store, err := New(stateFile, newTestLogger())
	require.NoError(t, err)

	created, err := store.Create(ctx, testModelFile("worker-1"))
	require.NoError(t, err)

	// Concurrent writes share one state file; every persist must see a
	// complete snapshot, never an interleaved or truncated one.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pct := float64(i)
			_, err := store.Update(ctx, created.ID, &domain.ModelFileUpdate{DownloadProgress: &pct})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	reopened, err := New(stateFile, newTestLogger())
	require.NoError(t, err)

	restored, err := reopened.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.SourceIndex, restored.SourceIndex)
}

func TestMutationsPublishEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	events, cancel := store.Subscribe()
	defer cancel()

	created, err := store.Create(ctx, testModelFile("worker-1"))
	require.NoError(t, err)

	progress := 20.0
	_, err = store.Update(ctx, created.ID, &domain.ModelFileUpdate{DownloadProgress: &progress})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, created.ID))

	want := []domain.EventType{domain.EventCreated, domain.EventUpdated, domain.EventDeleted}
	for _, expected := range want {
		select {
		case ev := <-events:
			assert.Equal(t, expected, ev.Type)
			assert.Equal(t, created.ID, ev.Item.ID)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s event", expected)
		}
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testModelFile("worker-1"))
	require.NoError(t, err)

	snapshot, err := store.Get(ctx, created.ID)
	require.NoError(t, err)

	// Mutating the snapshot must not leak into the store.
	snapshot.State = domain.StateError

	fresh, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDownloading, fresh.State)
}
