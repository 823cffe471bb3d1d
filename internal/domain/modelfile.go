package domain

import (
	"time"

	"github.com/google/uuid"
)

// ModelFileState represents the lifecycle state of a model file record.
type ModelFileState string

const (
	StateDownloading ModelFileState = "downloading"
	StateReady       ModelFileState = "ready"
	StateError       ModelFileState = "error"
)

// ModelFile is the record describing one artifact a worker has to download.
// Records are owned by the server; the orchestrator only reads them and
// writes back size, progress and terminal state.
type ModelFile struct {
	ID       uuid.UUID `json:"id"`
	WorkerID string    `json:"worker_id"`
	Source   Source    `json:"source"`

	// LocalDir is the destination directory. When empty a default is
	// derived from the worker's data directory.
	LocalDir string `json:"local_dir,omitempty"`

	// Size is the total byte count of the artifact. Nil until probed.
	Size *int64 `json:"size,omitempty"`

	DownloadProgress float64        `json:"download_progress"`
	State            ModelFileState `json:"state"`
	StateMessage     string         `json:"state_message,omitempty"`

	// ResolvedPaths lists the concrete files produced by a successful
	// download. Entries may contain glob patterns.
	ResolvedPaths []string `json:"resolved_paths,omitempty"`

	// CleanupOnDelete requests removal of ResolvedPaths from disk when
	// the record is deleted.
	CleanupOnDelete bool `json:"cleanup_on_delete"`

	// SourceIndex uniquely identifies the source so duplicate records
	// for the same artifact are rejected on create.
	SourceIndex string `json:"source_index,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ModelFileUpdate is a partial update of a ModelFile. Nil fields are left
// untouched by the merge.
type ModelFileUpdate struct {
	LocalDir         *string         `json:"local_dir,omitempty"`
	Size             *int64          `json:"size,omitempty"`
	DownloadProgress *float64        `json:"download_progress,omitempty"`
	State            *ModelFileState `json:"state,omitempty"`
	StateMessage     *string         `json:"state_message,omitempty"`
	ResolvedPaths    []string        `json:"resolved_paths,omitempty"`
}

// Apply merges the non-nil fields of the update into the model file.
func (u *ModelFileUpdate) Apply(mf *ModelFile) {
	if u.LocalDir != nil {
		mf.LocalDir = *u.LocalDir
	}
	if u.Size != nil {
		mf.Size = u.Size
	}
	if u.DownloadProgress != nil {
		mf.DownloadProgress = *u.DownloadProgress
	}
	if u.State != nil {
		mf.State = *u.State
	}
	if u.StateMessage != nil {
		mf.StateMessage = *u.StateMessage
	}
	if u.ResolvedPaths != nil {
		mf.ResolvedPaths = u.ResolvedPaths
	}
}
