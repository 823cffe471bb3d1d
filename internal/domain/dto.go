package domain

// CreateModelFileRequest is the request body for registering a new model
// file download.
type CreateModelFileRequest struct {
	WorkerID        string `json:"worker_id" validate:"required"`
	Source          Source `json:"source" validate:"required"`
	LocalDir        string `json:"local_dir,omitempty"`
	CleanupOnDelete bool   `json:"cleanup_on_delete"`
}
