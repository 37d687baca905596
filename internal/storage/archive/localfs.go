// internal/storage/archive/localfs.go
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/newthinker/dbbackup/internal/core"
)

const tmpSuffix = ".tmp"

// LocalFS implements Local for a single backup directory
type LocalFS struct {
	basePath string
}

// NewLocalFS creates a new LocalFS storage. The directory is created lazily
// on the first Write.
func NewLocalFS(basePath string) *LocalFS {
	return &LocalFS{basePath: basePath}
}

func (l *LocalFS) Name() string { return core.StoreLocal }

// Dir returns the archive directory
func (l *LocalFS) Dir() string { return l.basePath }

func (l *LocalFS) fullPath(name string) string {
	return filepath.Join(l.basePath, name)
}

// Write copies r into a hidden temp file beside the target, syncs it and
// links it into place. An existing final name is never replaced. On any
// failure the temp file is removed and no file appears under the final name.
func (l *LocalFS) Write(ctx context.Context, name string, r io.Reader) (core.Artifact, error) {
	if err := validName(name); err != nil {
		return core.Artifact{}, err
	}
	if err := os.MkdirAll(l.basePath, 0750); err != nil {
		return core.Artifact{}, core.WrapError(core.ErrIO, fmt.Errorf("creating directories: %w", err))
	}

	finalPath := l.fullPath(name)
	if _, err := os.Lstat(finalPath); err == nil {
		return core.Artifact{}, core.WrapError(core.ErrIO, fmt.Errorf("%s already exists", finalPath))
	}

	f, err := os.CreateTemp(l.basePath, "."+name+".*"+tmpSuffix)
	if err != nil {
		return core.Artifact{}, core.WrapError(core.ErrIO, fmt.Errorf("creating temp file: %w", err))
	}
	tmpPath := f.Name()

	fail := func(err error) (core.Artifact, error) {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		var coded *core.Error
		if errors.As(err, &coded) {
			return core.Artifact{}, err
		}
		return core.Artifact{}, core.WrapError(core.ErrIO, err)
	}

	size, err := io.Copy(f, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("syncing %s: %w", tmpPath, err))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return core.Artifact{}, core.WrapError(core.ErrIO, fmt.Errorf("closing %s: %w", tmpPath, err))
	}

	// Link never replaces an existing name
	err = os.Link(tmpPath, finalPath)
	_ = os.Remove(tmpPath)
	if errors.Is(err, fs.ErrExist) {
		return core.Artifact{}, core.WrapError(core.ErrIO, fmt.Errorf("%s already exists", finalPath))
	}
	if err != nil {
		return core.Artifact{}, core.WrapError(core.ErrIO, fmt.Errorf("finalizing %s: %w", finalPath, err))
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return core.Artifact{}, core.WrapError(core.ErrIO, err)
	}

	return core.Artifact{
		Name:      name,
		Path:      finalPath,
		Size:      size,
		CreatedAt: info.ModTime(),
	}, nil
}

// List returns artifacts in the directory. Temp files, hidden files and
// anything without the artifact suffix are skipped. A missing directory
// lists as empty.
func (l *LocalFS) List(ctx context.Context) ([]core.ArchiveEntry, error) {
	dirEntries, err := os.ReadDir(l.basePath)
	if errors.Is(err, fs.ErrNotExist) {
		return []core.ArchiveEntry{}, nil
	}
	if err != nil {
		return nil, core.WrapError(core.ErrListingFailed, err)
	}

	entries := make([]core.ArchiveEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() || !core.IsArtifactName(de.Name()) {
			continue
		}
		info, err := de.Info()
		if errors.Is(err, fs.ErrNotExist) {
			// removed by a concurrent retention pass
			continue
		}
		if err != nil {
			return nil, core.WrapError(core.ErrListingFailed, err)
		}
		entries = append(entries, core.ArchiveEntry{
			ID:      de.Name(),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	return entries, nil
}

// Delete removes the named artifact
func (l *LocalFS) Delete(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := os.Remove(l.fullPath(name)); err != nil {
		return core.WrapError(core.ErrIO, err)
	}
	return nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return core.WrapError(core.ErrIO, fmt.Errorf("invalid artifact name %q", name))
	}
	return nil
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
