package core

import (
	"strings"
	"time"
)

// ArtifactSuffix marks a compressed database dump
const ArtifactSuffix = ".sql.gz"

// TimestampLayout is the second-resolution stamp embedded in artifact names.
// Lexicographic order of formatted stamps equals chronological order.
const TimestampLayout = "2006-01-02_15-04-05"

// Store names used in logs, metrics and reports
const (
	StoreLocal  = "local"
	StoreRemote = "remote"
)

// ArtifactName builds the logical backup name for database db taken at t.
// The stamp is always rendered in UTC so names stay sortable across DST changes.
func ArtifactName(db string, t time.Time) string {
	return db + "_" + t.UTC().Format(TimestampLayout) + ArtifactSuffix
}

// IsArtifactName reports whether a file name follows the artifact convention
func IsArtifactName(name string) bool {
	return strings.HasSuffix(name, ArtifactSuffix) && !strings.HasPrefix(name, ".")
}

// RemoteKey joins prefix and basename into an object key
func RemoteKey(prefix, basename string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return basename
	}
	return prefix + "/" + basename
}

// Artifact is a single logical backup instance
type Artifact struct {
	Name      string
	Path      string // local path once materialized
	RemoteKey string // object key once uploaded
	Size      int64
	CreatedAt time.Time
}

// ArchiveEntry is one element of an archive listing
type ArchiveEntry struct {
	ID      string // file name for the local store, object key for the remote store
	ModTime time.Time
	Size    int64
}

// RetentionResult summarizes one retention pass over a store
type RetentionResult struct {
	Store     string
	Keep      int
	Listed    int
	Attempted int
	Deleted   int
	ListErr   error
	Failures  []error
}

// OK reports whether the pass listed the store and deleted every victim
func (r RetentionResult) OK() bool {
	return r.ListErr == nil && len(r.Failures) == 0
}

// Run statuses
const (
	RunSuccess      = "success"
	RunUploadFailed = "upload_failed"
	RunFailed       = "failed"
)

// RunReport is the authoritative outcome of a single pipeline run
type RunReport struct {
	RunID      string
	Database   string
	Artifact   Artifact
	Uploaded   bool
	UploadErr  error
	Remote     RetentionResult
	Local      RetentionResult
	Err        error // first hard failure; set only when no local artifact was produced
	StartedAt  time.Time
	FinishedAt time.Time
}

// Status derives the run status from the recorded outcomes
func (r *RunReport) Status() string {
	switch {
	case r.Err != nil:
		return RunFailed
	case !r.Uploaded:
		return RunUploadFailed
	default:
		return RunSuccess
	}
}

// Duration returns wall time spent in the run
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
