// Package client is the HTTP client for the model-file record store,
// including the long-lived change-feed subscription.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/avoronov/modelfetch/internal/domain"
	errpkg "github.com/avoronov/modelfetch/internal/errors"
)

// Client talks to the record-store API.
type Client struct {
	baseURL string
	// watchClient carries no timeout: the watch stream stays open
	// indefinitely.
	httpClient  *http.Client
	watchClient *http.Client
}

// New creates a client for the record store at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		watchClient: &http.Client{},
	}
}

// Get fetches the record with the given id.
func (c *Client) Get(ctx context.Context, id uuid.UUID) (*domain.ModelFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.recordURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get model file: %w", err)
	}
	defer resp.Body.Close()

	return decodeRecord(resp)
}

// Update applies a partial update to the record and returns the merged
// result.
func (c *Client) Update(ctx context.Context, id uuid.UUID, update *domain.ModelFileUpdate) (*domain.ModelFile, error) {
	body, err := json.Marshal(update)
	if err != nil {
		return nil, fmt.Errorf("marshal update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.recordURL(id), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("update model file: %w", err)
	}
	defer resp.Body.Close()

	return decodeRecord(resp)
}

// Watch subscribes to the change feed and invokes fn for every event until
// the stream breaks or ctx is cancelled. It always returns a non-nil
// error; a cleanly closed stream is still a reason to resubscribe.
func (c *Client) Watch(ctx context.Context, fn func(domain.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/model-files?watch=true", nil)
	if err != nil {
		return fmt.Errorf("create watch request: %w", err)
	}

	resp, err := c.watchClient.Do(req)
	if err != nil {
		return fmt.Errorf("watch model files: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("watch model files: unexpected status %s", resp.Status)
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var ev domain.Event
		if err := dec.Decode(&ev); err != nil {
			if err == io.EOF {
				return fmt.Errorf("watch stream closed by server")
			}
			return fmt.Errorf("decode watch event: %w", err)
		}
		fn(ev)
	}
}

func (c *Client) recordURL(id uuid.UUID) string {
	return fmt.Sprintf("%s/v1/model-files/%s", c.baseURL, id)
}

func decodeRecord(resp *http.Response) (*domain.ModelFile, error) {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errpkg.ErrModelFileNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var mf domain.ModelFile
	if err := json.NewDecoder(resp.Body).Decode(&mf); err != nil {
		return nil, fmt.Errorf("decode model file: %w", err)
	}
	return &mf, nil
}
