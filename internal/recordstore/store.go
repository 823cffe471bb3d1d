// Package recordstore holds the model file records, persists them to a
// JSON state file and notifies subscribers of every mutation.
package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avoronov/modelfetch/internal/domain"
	errpkg "github.com/avoronov/modelfetch/internal/errors"
)

// Store provides in-memory and file-based storage for model file records.
type Store struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*domain.ModelFile
	file  string

	// persistMu serializes state-file writes so concurrent mutations
	// cannot race on the temp file and its rename.
	persistMu sync.Mutex

	bus    *Bus
	logger *slog.Logger
}

// New creates a Store and loads records from the state file if it exists.
func New(filePath string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		items:  make(map[uuid.UUID]*domain.ModelFile),
		file:   filepath.Clean(filePath),
		bus:    NewBus(logger),
		logger: logger,
	}

	if err := s.restore(); err != nil {
		return nil, fmt.Errorf("failed to load state from file: %w", err)
	}

	logger.Info("record store initialized", "file_path", s.file, "records_count", len(s.items))
	return s, nil
}

// Subscribe registers a change-feed subscriber.
func (s *Store) Subscribe() (<-chan domain.Event, func()) {
	return s.bus.Subscribe()
}

func (s *Store) restore() error {
	data, err := os.ReadFile(s.file)
	if os.IsNotExist(err) {
		s.logger.Info("state file does not exist, starting with empty state", "file_path", s.file)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	if len(data) == 0 {
		s.logger.Warn("state file is empty")
		return nil
	}

	var items []*domain.ModelFile
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("failed to unmarshal state file: %w", err)
	}

	for _, mf := range items {
		s.items[mf.ID] = mf
	}
	return nil
}

func (s *Store) persist() error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	items := make([]*domain.ModelFile, 0, len(s.items))
	for _, mf := range s.items {
		items = append(items, mf)
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}

	tempFile := s.file + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tempFile, s.file); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

// Create registers a new record, assigns it an id and publishes a CREATED
// event. Records duplicating an existing source are rejected.
func (s *Store) Create(ctx context.Context, mf *domain.ModelFile) (*domain.ModelFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := mf.Source.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if mf.SourceIndex == "" {
		mf.SourceIndex = mf.Source.Index()
	}
	for _, existing := range s.items {
		if existing.SourceIndex == mf.SourceIndex {
			s.mu.Unlock()
			return nil, errpkg.ErrDuplicateSource
		}
	}

	if mf.ID == uuid.Nil {
		mf.ID = uuid.New()
	}
	if mf.State == "" {
		mf.State = domain.StateDownloading
	}
	now := time.Now()
	mf.CreatedAt = now
	mf.UpdatedAt = now

	stored := *mf
	s.items[mf.ID] = &stored
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return nil, fmt.Errorf("failed to save state after creating record: %w", err)
	}

	s.bus.Publish(domain.Event{Type: domain.EventCreated, Item: stored})
	s.logger.Debug("model file created", "model_file_id", stored.ID, "source", stored.Source)
	return &stored, nil
}

// Get retrieves a record snapshot by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.ModelFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	mf, exists := s.items[id]
	if !exists {
		s.mu.RUnlock()
		return nil, errpkg.ErrModelFileNotFound
	}
	snapshot := *mf
	s.mu.RUnlock()

	return &snapshot, nil
}

// List returns snapshots of all records.
func (s *Store) List(ctx context.Context) ([]*domain.ModelFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	items := make([]*domain.ModelFile, 0, len(s.items))
	for _, mf := range s.items {
		snapshot := *mf
		items = append(items, &snapshot)
	}
	s.mu.RUnlock()

	return items, nil
}

// Update merges the non-nil fields of the update into the record and
// publishes an UPDATED event.
func (s *Store) Update(ctx context.Context, id uuid.UUID, update *domain.ModelFileUpdate) (*domain.ModelFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	mf, exists := s.items[id]
	if !exists {
		s.mu.Unlock()
		return nil, errpkg.ErrModelFileNotFound
	}

	update.Apply(mf)
	mf.UpdatedAt = time.Now()
	snapshot := *mf
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return nil, fmt.Errorf("failed to save state after updating record: %w", err)
	}

	s.bus.Publish(domain.Event{Type: domain.EventUpdated, Item: snapshot})
	s.logger.Debug("model file updated", "model_file_id", id, "state", snapshot.State)
	return &snapshot, nil
}

// Delete removes the record and publishes a DELETED event carrying the
// last known snapshot. Removal of downloaded files is the orchestrator's
// concern, driven by the cleanup_on_delete field of that snapshot.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	mf, exists := s.items[id]
	if !exists {
		s.mu.Unlock()
		return errpkg.ErrModelFileNotFound
	}
	snapshot := *mf
	delete(s.items, id)
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return fmt.Errorf("failed to save state after deleting record: %w", err)
	}

	s.bus.Publish(domain.Event{Type: domain.EventDeleted, Item: snapshot})
	s.logger.Debug("model file deleted", "model_file_id", id)
	return nil
}
