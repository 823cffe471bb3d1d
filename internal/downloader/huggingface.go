package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/avoronov/modelfetch/internal/cancel"
	"github.com/avoronov/modelfetch/internal/domain"
)

// parallelFileDownloads bounds the per-task concurrency of multi-file
// catalog transfers.
const parallelFileDownloads = 4

type repoFile struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// huggingFaceDriver downloads whole repositories or single files from a
// Hugging Face style hub.
type huggingFaceDriver struct {
	endpoint string
	token    string
	client   *http.Client
	logger   *slog.Logger
}

func newHuggingFaceDriver(opts Options) *huggingFaceDriver {
	return &huggingFaceDriver{
		endpoint: opts.HuggingFaceEndpoint,
		token:    opts.HuggingFaceToken,
		client:   newHTTPClient(),
		logger:   opts.Logger,
	}
}

func (d *huggingFaceDriver) listFiles(ctx context.Context, repoID string) ([]repoFile, error) {
	u := fmt.Sprintf("%s/api/models/%s/tree/main?recursive=true", d.endpoint, repoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list repo files: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list repo files: bad status %s", resp.Status)
	}

	var entries []repoFile
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode repo tree: %w", err)
	}

	files := entries[:0]
	for _, e := range entries {
		if e.Type == "file" {
			files = append(files, e)
		}
	}
	return files, nil
}

func (d *huggingFaceDriver) ProbeSize(ctx context.Context, src domain.Source) (int64, error) {
	files, err := d.listFiles(ctx, src.HuggingFaceRepoID)
	if err != nil {
		return 0, err
	}

	if src.HuggingFaceFilename != "" {
		for _, f := range files {
			if f.Path == src.HuggingFaceFilename {
				return f.Size, nil
			}
		}
		return 0, fmt.Errorf("file %q not found in repo %s", src.HuggingFaceFilename, src.HuggingFaceRepoID)
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total, nil
}

func (d *huggingFaceDriver) Transfer(ctx context.Context, src domain.Source, destDir string, onProgress ProgressFunc, flag *cancel.Flag) ([]string, error) {
	if src.HuggingFaceFilename != "" {
		dest := filepath.Join(destDir, src.HuggingFaceFilename)
		if err := fetchFile(ctx, d.client, d.resolveURL(src.HuggingFaceRepoID, src.HuggingFaceFilename), d.token, dest, onProgress, flag); err != nil {
			return nil, err
		}
		return []string{dest}, nil
	}

	files, err := d.listFiles(ctx, src.HuggingFaceRepoID)
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelFileDownloads)

	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			dest := filepath.Join(destDir, filepath.FromSlash(f.Path))
			paths[i] = dest
			if err := fetchFile(gctx, d.client, d.resolveURL(src.HuggingFaceRepoID, f.Path), d.token, dest, onProgress, flag); err != nil {
				return fmt.Errorf("download %s: %w", f.Path, err)
			}
			d.logger.Debug("repo file downloaded", "path", f.Path, "size", humanize.Bytes(uint64(f.Size)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(paths)
	return paths, nil
}

func (d *huggingFaceDriver) resolveURL(repoID, path string) string {
	return fmt.Sprintf("%s/%s/resolve/main/%s", d.endpoint, repoID, path)
}
