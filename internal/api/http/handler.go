package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/avoronov/modelfetch/internal/domain"
	errpkg "github.com/avoronov/modelfetch/internal/errors"
	"github.com/avoronov/modelfetch/internal/recordstore"
)

// ModelFileHandler handles HTTP requests for model file records.
type ModelFileHandler struct {
	store     *recordstore.Store
	validator *validator.Validate
	logger    *slog.Logger
}

// NewModelFileHandler creates a handler backed by the given store.
func NewModelFileHandler(store *recordstore.Store, logger *slog.Logger) *ModelFileHandler {
	return &ModelFileHandler{
		store:     store,
		validator: validator.New(),
		logger:    logger,
	}
}

// Create handles POST /v1/model-files.
func (h *ModelFileHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateModelFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Source.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mf := &domain.ModelFile{
		WorkerID:        req.WorkerID,
		Source:          req.Source,
		LocalDir:        req.LocalDir,
		CleanupOnDelete: req.CleanupOnDelete,
		State:           domain.StateDownloading,
	}

	created, err := h.store.Create(r.Context(), mf)
	if err != nil {
		if errors.Is(err, errpkg.ErrDuplicateSource) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("failed to create model file", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("model file registered", "model_file_id", created.ID, "source", created.Source, "worker_id", created.WorkerID)
	writeJSON(w, http.StatusCreated, created)
}

// List handles GET /v1/model-files. With ?watch=true the connection stays
// open and change events are streamed as newline-delimited JSON: the
// current records are replayed as CREATED events, then live events follow.
func (h *ModelFileHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("watch") == "true" {
		h.watch(w, r)
		return
	}

	items, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list model files", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, items)
}

func (h *ModelFileHandler) watch(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before the replay so no event between snapshot and
	// subscription is lost; duplicates are harmless to the consumer.
	events, cancel := h.store.Subscribe()
	defer cancel()

	items, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for _, mf := range items {
		if err := enc.Encode(domain.Event{Type: domain.EventCreated, Item: *mf}); err != nil {
			return
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Get handles GET /v1/model-files/{id}.
func (h *ModelFileHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid model file ID")
		return
	}

	mf, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, errpkg.ErrModelFileNotFound) {
			writeError(w, http.StatusNotFound, "model file not found")
			return
		}
		h.logger.Error("failed to get model file", "model_file_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, mf)
}

// Update handles PATCH /v1/model-files/{id}. The body is a partial update;
// absent fields are left untouched.
func (h *ModelFileHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid model file ID")
		return
	}

	var update domain.ModelFileUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mf, err := h.store.Update(r.Context(), id, &update)
	if err != nil {
		if errors.Is(err, errpkg.ErrModelFileNotFound) {
			writeError(w, http.StatusNotFound, "model file not found")
			return
		}
		h.logger.Error("failed to update model file", "model_file_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, mf)
}

// Delete handles DELETE /v1/model-files/{id}.
func (h *ModelFileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid model file ID")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, errpkg.ErrModelFileNotFound) {
			writeError(w, http.StatusNotFound, "model file not found")
			return
		}
		h.logger.Error("failed to delete model file", "model_file_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
