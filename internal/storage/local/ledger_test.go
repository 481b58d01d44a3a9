// Package local_test tests the file-backed compaction ledger.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mediaharvest/internal/compactor"
	"github.com/JakeFAU/mediaharvest/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})
	t.Run("FreshDirectory", func(t *testing.T) {
		l, err := local.New(local.Config{BaseDir: filepath.Join(t.TempDir(), "zips")})
		require.NoError(t, err)
		n, err := l.NextIndex(context.Background(), "cos_x")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
	t.Run("CorruptFile", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, local.FileName)
		require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
		l, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)

		aside := l.Quarantined()
		require.NotEmpty(t, aside)
		data, err := os.ReadFile(aside)
		require.NoError(t, err)
		assert.Equal(t, "{", string(data))
		assert.NoFileExists(t, path)

		n, err := l.NextIndex(context.Background(), "cos_x")
		require.NoError(t, err)
		assert.Zero(t, n)
		require.NoError(t, l.RecordBatch(context.Background(), compactor.Batch{Label: "cos_x", Start: 0, End: 1, Archive: "cos_x_0-1.tar.gz", Units: []string{"/r/a"}}))
		assert.FileExists(t, path)
	})
	t.Run("UnreadableFile", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(dir, local.FileName), 0o755))
		_, err := local.New(local.Config{BaseDir: dir})
		assert.Error(t, err)
	})
}

func TestRecordBatchPersists(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "zips")
	l, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	batch := compactor.Batch{
		Label:     "cos_x",
		Start:     0,
		End:       2,
		Archive:   filepath.Join(dir, "cos_x_0-2.tar.gz"),
		Units:     []string{"/data/x/a", "/data/x/b"},
		CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, l.RecordBatch(ctx, batch))

	reopened, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	n, err := reopened.NextIndex(ctx, "cos_x")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	archived, err := reopened.IsArchived(ctx, "cos_x", "/data/x/a")
	require.NoError(t, err)
	assert.True(t, archived)
	archived, err = reopened.IsArchived(ctx, "cos_x", "/data/x/c")
	require.NoError(t, err)
	assert.False(t, archived)
	archived, err = reopened.IsArchived(ctx, "cos_other", "/data/x/a")
	require.NoError(t, err)
	assert.False(t, archived)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
	assert.Equal(t, local.FileName, entries[0].Name())
}
