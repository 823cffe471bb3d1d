package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/avoronov/modelfetch/internal/cancel"
	"github.com/avoronov/modelfetch/internal/domain"
)

type modelScopeFile struct {
	Path string `json:"Path"`
	Size int64  `json:"Size"`
	Type string `json:"Type"`
}

type modelScopeFileList struct {
	Data struct {
		Files []modelScopeFile `json:"Files"`
	} `json:"Data"`
}

// modelScopeDriver downloads models from a ModelScope style hub.
type modelScopeDriver struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func newModelScopeDriver(opts Options) *modelScopeDriver {
	return &modelScopeDriver{
		endpoint: opts.ModelScopeEndpoint,
		client:   newHTTPClient(),
		logger:   opts.Logger,
	}
}

func (d *modelScopeDriver) listFiles(ctx context.Context, modelID string) ([]modelScopeFile, error) {
	u := fmt.Sprintf("%s/api/v1/models/%s/repo/files?Recursive=true", d.endpoint, modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list model files: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list model files: bad status %s", resp.Status)
	}

	var list modelScopeFileList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode file list: %w", err)
	}

	var files []modelScopeFile
	for _, f := range list.Data.Files {
		if f.Type != "tree" {
			files = append(files, f)
		}
	}
	return files, nil
}

func (d *modelScopeDriver) ProbeSize(ctx context.Context, src domain.Source) (int64, error) {
	files, err := d.listFiles(ctx, src.ModelScopeModelID)
	if err != nil {
		return 0, err
	}

	if src.ModelScopeFilePath != "" {
		for _, f := range files {
			if f.Path == src.ModelScopeFilePath {
				return f.Size, nil
			}
		}
		return 0, fmt.Errorf("file %q not found in model %s", src.ModelScopeFilePath, src.ModelScopeModelID)
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total, nil
}

func (d *modelScopeDriver) Transfer(ctx context.Context, src domain.Source, destDir string, onProgress ProgressFunc, flag *cancel.Flag) ([]string, error) {
	if src.ModelScopeFilePath != "" {
		dest := filepath.Join(destDir, filepath.FromSlash(src.ModelScopeFilePath))
		if err := fetchFile(ctx, d.client, d.fileURL(src.ModelScopeModelID, src.ModelScopeFilePath), "", dest, onProgress, flag); err != nil {
			return nil, err
		}
		return []string{dest}, nil
	}

	files, err := d.listFiles(ctx, src.ModelScopeModelID)
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
			if err := fetchFile(gctx, d.client, d.fileURL(src.ModelScopeModelID, f.Path), "", dest, onProgress, flag); err != nil {
				return fmt.Errorf("download %s: %w", f.Path, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(paths)
	return paths, nil
}

func (d *modelScopeDriver) fileURL(modelID, path string) string {
	return fmt.Sprintf("%s/api/v1/models/%s/repo?Revision=master&FilePath=%s", d.endpoint, modelID, url.QueryEscape(path))
}
