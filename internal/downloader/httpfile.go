package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/avoronov/modelfetch/internal/cancel"
	errpkg "github.com/avoronov/modelfetch/internal/errors"
)

const copyBufferSize = 32 * 1024

// fetchFile downloads url into destPath. Bytes are staged in
// destPath+PartSuffix and resumed from its current size via a Range
// request; the stage file is renamed into place on completion. Only newly
// transferred bytes are reported to onProgress.
func fetchFile(ctx context.Context, client *http.Client, url, token, destPath string, onProgress ProgressFunc, flag *cancel.Flag) error {
	if _, err := os.Stat(destPath); err == nil {
		// Already complete from an earlier run.
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	partPath := destPath + PartSuffix

	var existingSize int64
	if info, err := os.Stat(partPath); err == nil {
		existingSize = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if existingSize > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existingSize))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	// Server ignored the Range header; start over.
	if existingSize > 0 && resp.StatusCode != http.StatusPartialContent {
		existingSize = 0
	}

	var file *os.File
	if existingSize > 0 {
		file, err = os.OpenFile(partPath, os.O_WRONLY|os.O_APPEND, 0o644)
	} else {
		file, err = os.Create(partPath)
	}
	if err != nil {
		return fmt.Errorf("open stage file: %w", err)
	}

	_, copyErr := copyWithCancel(ctx, file, resp.Body, onProgress, flag)
	if closeErr := file.Close(); copyErr == nil && closeErr != nil {
		copyErr = fmt.Errorf("close stage file: %w", closeErr)
	}
	if copyErr != nil {
		return copyErr
	}

	if err := os.Rename(partPath, destPath); err != nil {
		return fmt.Errorf("finalize file: %w", err)
	}
	return nil
}

// copyWithCancel copies src to dst, checking the cancellation flag before
// acting on each chunk. On a set flag the copy stops immediately with
// ErrCancelled rather than finishing the read.
func copyWithCancel(ctx context.Context, dst io.Writer, src io.Reader, onProgress ProgressFunc, flag *cancel.Flag) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var total int64

	for {
		if flag != nil && flag.IsSet() {
			flag.Acknowledge()
			return total, errpkg.ErrCancelled
		}

		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			if nw > 0 {
				total += int64(nw)
				if onProgress != nil {
					onProgress(int64(nw))
				}
			}
			if werr != nil {
				return total, werr
			}
			if nr != nw {
				return total, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}
