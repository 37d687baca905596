// internal/storage/archive/interface.go
package archive

import (
	"context"
	"io"

	"github.com/newthinker/dbbackup/internal/core"
)

// Storage is the listing and pruning surface shared by every archive store
type Storage interface {
	// Name identifies the store in logs, metrics and reports
	Name() string

	// List returns every archive entry currently held by the store
	List(ctx context.Context) ([]core.ArchiveEntry, error)

	// Delete removes one archive by listing ID
	Delete(ctx context.Context, id string) error
}

// Local persists artifacts on the backup host
type Local interface {
	Storage

	// Write materializes the stream under name, never exposing a partial file
	Write(ctx context.Context, name string, r io.Reader) (core.Artifact, error)
}

// Remote mirrors artifacts into an object store
type Remote interface {
	Storage

	// Key maps an artifact basename to its object key
	Key(basename string) string

	// Upload transfers a local file to key
	Upload(ctx context.Context, localPath, key string) error
}
