package downloader

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/avoronov/modelfetch/internal/cancel"
	"github.com/avoronov/modelfetch/internal/domain"
)

// localPathDriver handles models already present on the worker's
// filesystem. No bytes are moved; the path is validated and resolved.
type localPathDriver struct {
	logger *slog.Logger
}

func newLocalPathDriver(opts Options) *localPathDriver {
	return &localPathDriver{logger: opts.Logger}
}

func (d *localPathDriver) ProbeSize(ctx context.Context, src domain.Source) (int64, error) {
	info, err := os.Stat(src.LocalPath)
	if err != nil {
		return 0, fmt.Errorf("stat local path: %w", err)
	}

	if !info.IsDir() {
		return info.Size(), nil
	}
	return DirSize(src.LocalPath)
}

func (d *localPathDriver) Transfer(ctx context.Context, src domain.Source, destDir string, onProgress ProgressFunc, flag *cancel.Flag) ([]string, error) {
	size, err := d.ProbeSize(ctx, src)
	if err != nil {
		return nil, err
	}

	if onProgress != nil {
		onProgress(size)
	}
	return []string{src.LocalPath}, nil
}

// DirSize sums the sizes of all regular files under dir. Files that vanish
// mid-walk are skipped.
func DirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", dir, err)
	}
	return total, nil
}
