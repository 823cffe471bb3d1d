package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/avoronov/modelfetch/internal/cancel"
	"github.com/avoronov/modelfetch/internal/domain"
)

var ollamaNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]`)

// OllamaCachePath returns the cache location of a registry model. The
// in-progress artifact carries the PartSuffix next to it; cleanup removes
// both.
func OllamaCachePath(cacheDir, modelName string) string {
	sanitized := ollamaNameSanitizer.ReplaceAllString(modelName, "_")
	return filepath.Join(cacheDir, "ollama", sanitized)
}

type ollamaLayer struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

type ollamaManifest struct {
	Layers []ollamaLayer `json:"layers"`
}

// ollamaDriver pulls models from an Ollama registry, concatenating the
// manifest layers into a single cache file.
type ollamaDriver struct {
	registry string
	cacheDir string
	client   *http.Client
	logger   *slog.Logger
}

func newOllamaDriver(opts Options) *ollamaDriver {
	return &ollamaDriver{
		registry: opts.OllamaLibraryURL,
		cacheDir: opts.CacheDir,
		client:   newHTTPClient(),
		logger:   opts.Logger,
	}
}

func splitModelName(name string) (model, tag string) {
	if i := strings.LastIndex(name, ":"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, "latest"
}

func (d *ollamaDriver) fetchManifest(ctx context.Context, name string) (*ollamaManifest, error) {
	model, tag := splitModelName(name)
	u := fmt.Sprintf("%s/v2/library/%s/manifests/%s", d.registry, model, tag)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.docker.distribution.manifest.v2+json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch manifest: bad status %s", resp.Status)
	}

	var manifest ollamaManifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &manifest, nil
}

func (d *ollamaDriver) ProbeSize(ctx context.Context, src domain.Source) (int64, error) {
	manifest, err := d.fetchManifest(ctx, src.OllamaLibraryModelName)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, layer := range manifest.Layers {
		total += layer.Size
	}
	return total, nil
}

// Transfer appends the manifest layers in order into a single stage file
// under the cache dir, resuming mid-layer from the stage file's size.
func (d *ollamaDriver) Transfer(ctx context.Context, src domain.Source, destDir string, onProgress ProgressFunc, flag *cancel.Flag) ([]string, error) {
	cachePath := OllamaCachePath(d.cacheDir, src.OllamaLibraryModelName)
	if _, err := os.Stat(cachePath); err == nil {
		return []string{cachePath}, nil
	}

	manifest, err := d.fetchManifest(ctx, src.OllamaLibraryModelName)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	partPath := cachePath + PartSuffix

	var existingSize int64
	if info, err := os.Stat(partPath); err == nil {
		existingSize = info.Size()
	}

	file, err := os.OpenFile(partPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open stage file: %w", err)
	}

	model, _ := splitModelName(src.OllamaLibraryModelName)
	var written int64
	for _, layer := range manifest.Layers {
		if existingSize >= written+layer.Size {
			// Layer fully present from an earlier run.
			written += layer.Size
			continue
		}

		skip := existingSize - written
		if skip < 0 {
			skip = 0
		}

		if err := d.fetchBlob(ctx, model, layer, skip, file, onProgress, flag); err != nil {
			file.Close()
			return nil, err
		}
		written += layer.Size
		existingSize = written

		d.logger.Debug("layer downloaded",
			"model", src.OllamaLibraryModelName,
			"digest", layer.Digest,
			"size", humanize.Bytes(uint64(layer.Size)),
		)
	}

	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close stage file: %w", err)
	}
	if err := os.Rename(partPath, cachePath); err != nil {
		return nil, fmt.Errorf("finalize model file: %w", err)
	}

	return []string{cachePath}, nil
}

func (d *ollamaDriver) fetchBlob(ctx context.Context, model string, layer ollamaLayer, skip int64, file *os.File, onProgress ProgressFunc, flag *cancel.Flag) error {
	u := fmt.Sprintf("%s/v2/library/%s/blobs/%s", d.registry, model, layer.Digest)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if skip > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", skip))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch blob %s: %w", layer.Digest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch blob %s: bad status %s", layer.Digest, resp.Status)
	}

	body := resp.Body
	if skip > 0 && resp.StatusCode != http.StatusPartialContent {
		// Registry ignored the Range header; drop the prefix we
		// already hold so the file is not corrupted.
		if _, err := copyWithCancel(ctx, io.Discard, io.LimitReader(body, skip), nil, flag); err != nil {
			return fmt.Errorf("skip blob prefix: %w", err)
		}
	}

	if _, err := copyWithCancel(ctx, file, body, onProgress, flag); err != nil {
		return fmt.Errorf("download blob %s: %w", layer.Digest, err)
	}
	return nil
}
