// internal/storage/archive/localfs_test.go
package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/newthinker/dbbackup/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS_ImplementsLocal(t *testing.T) {
	var _ Local = (*LocalFS)(nil)
}

func TestLocalFS_WriteCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "backups")
	fs := NewLocalFS(dir)

	art, err := fs.Write(context.Background(), "db_2024-01-01_00-00-01.sql.gz", strings.NewReader("data"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "db_2024-01-01_00-00-01.sql.gz"), art.Path)
	assert.Equal(t, int64(4), art.Size)

	got, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}

func TestLocalFS_WriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	fs := NewLocalFS(dir)

	_, err := fs.Write(context.Background(), "db_2024-01-01_00-00-01.sql.gz", strings.NewReader("data"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "db_2024-01-01_00-00-01.sql.gz", entries[0].Name())
}

type brokenReader struct{ err error }

func (b brokenReader) Read([]byte) (int, error) { return 0, b.err }

func TestLocalFS_WriteFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	fs := NewLocalFS(dir)

	srcErr := core.WrapError(core.ErrDumpFailed, errors.New("exit status 2"))
	r := io.MultiReader(strings.NewReader("partial"), brokenReader{err: srcErr})

	_, err := fs.Write(context.Background(), "db_2024-01-01_00-00-01.sql.gz", r)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDumpFailed), "source error should keep its code")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "neither the final file nor the temp file may remain")
}

func TestLocalFS_WriteCancelled(t *testing.T) {
	dir := t.TempDir()
	fs := NewLocalFS(dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fs.Write(ctx, "db_2024-01-01_00-00-01.sql.gz", strings.NewReader("data"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrIO))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalFS_WriteRefusesExistingName(t *testing.T) {
	dir := t.TempDir()
	fs := NewLocalFS(dir)
	ctx := context.Background()

	_, err := fs.Write(ctx, "db_2024-01-01_00-00-01.sql.gz", strings.NewReader("first"))
	require.NoError(t, err)

	_, err = fs.Write(ctx, "db_2024-01-01_00-00-01.sql.gz", strings.NewReader("second"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrIO))

	got, _ := os.ReadFile(filepath.Join(dir, "db_2024-01-01_00-00-01.sql.gz"))
	assert.Equal(t, "first", string(got))
}

// gatedReader yields data, then blocks until release is closed
type gatedReader struct {
	data    []byte
	reached chan struct{}
	release chan struct{}
	sent    bool
}

func (g *gatedReader) Read(p []byte) (int, error) {
	if !g.sent {
		g.sent = true
		return copy(p, g.data), nil
	}
	close(g.reached)
	<-g.release
	return 0, io.EOF
}

func TestLocalFS_ConcurrentWritersSameName(t *testing.T) {
	dir := t.TempDir()
	fs := NewLocalFS(dir)
	ctx := context.Background()
	name := "db_2024-01-01_00-00-01.sql.gz"

	slow := &gatedReader{data: []byte("RUN-A"), reached: make(chan struct{}), release: make(chan struct{})}
	slowErr := make(chan error, 1)
	go func() {
		_, err := fs.Write(ctx, name, slow)
		slowErr <- err
	}()

	// the slow writer has passed its existence check and is mid-copy
	<-slow.reached

	_, err := fs.Write(ctx, name, strings.NewReader("RUN-B"))
	require.NoError(t, err)

	close(slow.release)
	err = <-slowErr
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrIO))

	got, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, "RUN-B", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the losing writer's temp file must be removed")
}

func TestLocalFS_WriteRejectsPathNames(t *testing.T) {
	fs := NewLocalFS(t.TempDir())
	for _, name := range []string{"", "..", "../escape.sql.gz", "a/b.sql.gz"} {
		_, err := fs.Write(context.Background(), name, strings.NewReader("x"))
		assert.Error(t, err, "name %q", name)
	}
}

func TestLocalFS_List(t *testing.T) {
	dir := t.TempDir()
	fs := NewLocalFS(dir)
	ctx := context.Background()

	fs.Write(ctx, "db_2024-01-01_00-00-01.sql.gz", strings.NewReader("a"))
	fs.Write(ctx, "db_2024-01-01_00-00-02.sql.gz", strings.NewReader("bb"))
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600)
	os.WriteFile(filepath.Join(dir, ".db_2024-01-01_00-00-03.sql.gz.123.tmp"), []byte("x"), 0600)
	os.Mkdir(filepath.Join(dir, "old.sql.gz"), 0750)

	entries, err := fs.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	ids := map[string]int64{}
	for _, e := range entries {
		ids[e.ID] = e.Size
		assert.False(t, e.ModTime.IsZero())
	}
	assert.Equal(t, int64(1), ids["db_2024-01-01_00-00-01.sql.gz"])
	assert.Equal(t, int64(2), ids["db_2024-01-01_00-00-02.sql.gz"])
}

func TestLocalFS_ListReportsModTime(t *testing.T) {
	dir := t.TempDir()
	fs := NewLocalFS(dir)

	path := filepath.Join(dir, "db_2024-01-01_00-00-01.sql.gz")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))
	mtime := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	entries, err := fs.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].ModTime.Equal(mtime))
}

func TestLocalFS_ListMissingDirectory(t *testing.T) {
	fs := NewLocalFS(filepath.Join(t.TempDir(), "absent"))

	entries, err := fs.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalFS_Delete(t *testing.T) {
	dir := t.TempDir()
	fs := NewLocalFS(dir)
	ctx := context.Background()

	fs.Write(ctx, "delete.sql.gz", strings.NewReader("data"))
	require.NoError(t, fs.Delete(ctx, "delete.sql.gz"))

	if _, err := os.Stat(filepath.Join(dir, "delete.sql.gz")); !os.IsNotExist(err) {
		t.Error("file should be deleted")
	}
}

func TestLocalFS_DeleteMissingFails(t *testing.T) {
	fs := NewLocalFS(t.TempDir())

	err := fs.Delete(context.Background(), "absent.sql.gz")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrIO))
}

func TestLocalFS_DeleteRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(root, "keep.sql.gz")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0600))

	fs := NewLocalFS(filepath.Join(root, "backups"))
	require.Error(t, fs.Delete(context.Background(), "../keep.sql.gz"))

	_, err := os.Stat(outside)
	assert.NoError(t, err)
}
