package downloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avoronov/modelfetch/internal/domain"
)

func TestLocalPathProbeSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), []byte("12345"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.bin"), []byte("678"), 0o644))

	driver := newLocalPathDriver(Options{Logger: newTestLogger()})

	t.Run("file", func(t *testing.T) {
		size, err := driver.ProbeSize(context.Background(), domain.Source{
			Kind:      domain.SourceLocalPath,
			LocalPath: filepath.Join(dir, "a.bin"),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(5), size)
	})

	t.Run("directory", func(t *testing.T) {
		size, err := driver.ProbeSize(context.Background(), domain.Source{
			Kind:      domain.SourceLocalPath,
			LocalPath: dir,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(8), size)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := driver.ProbeSize(context.Background(), domain.Source{
			Kind:      domain.SourceLocalPath,
			LocalPath: filepath.Join(dir, "nope"),
		})
		assert.Error(t, err)
	})
}

func TestLocalPathTransferResolvesWithoutCopying(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "model.gguf")
	require.NoError(t, os.WriteFile(src, []byte("weights"), 0o644))

	driver := newLocalPathDriver(Options{Logger: newTestLogger()})

	destDir := t.TempDir()
	var reported int64
	paths, err := driver.Transfer(context.Background(), domain.Source{
		Kind:      domain.SourceLocalPath,
		LocalPath: src,
	}, destDir, func(n int64) { reported += n }, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{src}, paths)
	assert.Equal(t, int64(len("weights")), reported)

	// Nothing lands in the destination directory.
	entries, err := os.ReadDir(destDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
