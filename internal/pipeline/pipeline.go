// Package pipeline runs one backup: dump, compress, store locally, upload,
// then prune both stores.
package pipeline

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/newthinker/dbbackup/internal/core"
	"github.com/newthinker/dbbackup/internal/logger"
	"github.com/newthinker/dbbackup/internal/metrics"
	"github.com/newthinker/dbbackup/internal/notifier"
	"github.com/newthinker/dbbackup/internal/retention"
	"github.com/newthinker/dbbackup/internal/storage/archive"
	"go.uber.org/zap"
)

// Dumper produces the logical dump of one database as a byte stream
type Dumper interface {
	Produce(ctx context.Context) (io.ReadCloser, error)
}

// Compressor transforms a byte stream into its compressed form
type Compressor interface {
	Compress(src io.Reader) io.ReadCloser
}

// Components are the collaborators of a Pipeline. Clock, Metrics, Notifiers
// and Logger are optional.
type Components struct {
	Database   string
	Dumper     Dumper
	Compressor Compressor
	Local      archive.Local
	Remote     archive.Remote
	Retention  *retention.Enforcer
	Clock      clock.Clock
	Metrics    *metrics.Registry
	Notifiers  *notifier.Registry
	Logger     *zap.Logger
}

// Pipeline sequences a single backup run
type Pipeline struct {
	db        string
	dumper    Dumper
	comp      Compressor
	local     archive.Local
	remote    archive.Remote
	retention *retention.Enforcer
	clock     clock.Clock
	metrics   *metrics.Registry
	notifiers *notifier.Registry
	logger    *zap.Logger
}

// New creates a Pipeline
func New(c Components) (*Pipeline, error) {
	switch {
	case c.Database == "":
		return nil, core.WrapError(core.ErrConfigInvalid, errors.New("pipeline: database name is required"))
	case c.Dumper == nil, c.Compressor == nil, c.Local == nil, c.Remote == nil, c.Retention == nil:
		return nil, core.WrapError(core.ErrConfigInvalid, errors.New("pipeline: missing component"))
	}

	p := &Pipeline{
		db:        c.Database,
		dumper:    c.Dumper,
		comp:      c.Compressor,
		local:     c.Local,
		remote:    c.Remote,
		retention: c.Retention,
		clock:     c.Clock,
		metrics:   c.Metrics,
		notifiers: c.Notifiers,
		logger:    c.Logger,
	}
	if p.clock == nil {
		p.clock = clock.WallClock
	}
	if p.metrics == nil {
		p.metrics = metrics.NewRegistry()
	}
	if p.notifiers == nil {
		p.notifiers = notifier.NewRegistry()
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p, nil
}

// Metrics returns the registry the pipeline records into
func (p *Pipeline) Metrics() *metrics.Registry { return p.metrics }

// Run performs one backup. The returned report is always non-nil.
//
// A failure before the artifact is durable locally aborts the run without
// touching the remote store and is returned as PIPELINE_FAILED. An upload
// failure is recorded in the report and both retention passes still run;
// Run then returns a nil error and callers inspect report.Status().
func (p *Pipeline) Run(ctx context.Context) (*core.RunReport, error) {
	report := &core.RunReport{
		RunID:     uuid.NewString(),
		Database:  p.db,
		StartedAt: p.clock.Now(),
	}
	log := logger.ForRun(p.logger, report.RunID, p.db)
	log.Info("backup run started")

	name := core.ArtifactName(p.db, report.StartedAt)

	art, err := p.store(ctx, log, name)
	if err != nil {
		report.Err = err
		p.finish(ctx, log, report)
		return report, core.WrapError(core.ErrPipelineFailed, err)
	}
	report.Artifact = art

	report.Artifact.RemoteKey = p.remote.Key(art.Name)
	report.UploadErr = p.upload(ctx, log, art.Path, report.Artifact.RemoteKey)
	report.Uploaded = report.UploadErr == nil

	report.Remote = p.prune(ctx, log, p.remote, metrics.StageRetainRm)
	report.Local = p.prune(ctx, log, p.local, metrics.StageRetainLc)

	p.finish(ctx, log, report)
	return report, nil
}

// store streams dump output through the compressor into the local archive
func (p *Pipeline) store(ctx context.Context, log *zap.Logger, name string) (core.Artifact, error) {
	log = log.With(zap.String("artifact", name))
	log.Info("dump started")
	start := p.clock.Now()

	art, err := p.dumpToLocal(ctx, name)
	p.metrics.RecordStage(metrics.StageDump, p.clock.Now().Sub(start))
	if err != nil {
		log.Error("dump failed", zap.Error(err))
		return core.Artifact{}, err
	}

	p.metrics.SetArtifactSize(art.Size)
	log.Info("artifact written",
		zap.String("path", art.Path),
		zap.Int64("size_bytes", art.Size),
	)
	return art, nil
}

func (p *Pipeline) dumpToLocal(ctx context.Context, name string) (core.Artifact, error) {
	src, err := p.dumper.Produce(ctx)
	if err != nil {
		return core.Artifact{}, err
	}
	defer src.Close()

	compressed := p.comp.Compress(src)
	defer compressed.Close()

	art, err := p.local.Write(ctx, name, compressed)
	if err != nil {
		return core.Artifact{}, err
	}

	// Write saw EOF, so the dump has exited cleanly; Close reaps it.
	if err := src.Close(); err != nil {
		return core.Artifact{}, err
	}
	return art, nil
}

func (p *Pipeline) upload(ctx context.Context, log *zap.Logger, path, key string) error {
	log = log.With(zap.String("key", key))
	log.Info("upload started")
	start := p.clock.Now()

	err := p.remote.Upload(ctx, path, key)
	p.metrics.RecordStage(metrics.StageUpload, p.clock.Now().Sub(start))
	if err != nil {
		log.Error("upload failed, local artifact kept", zap.Error(err))
		return err
	}

	log.Info("upload complete")
	return nil
}

func (p *Pipeline) prune(ctx context.Context, log *zap.Logger, store archive.Storage, stage string) core.RetentionResult {
	start := p.clock.Now()
	res := p.retention.WithLogger(log).Enforce(ctx, store)
	p.metrics.RecordStage(stage, p.clock.Now().Sub(start))
	return res
}

func (p *Pipeline) finish(ctx context.Context, log *zap.Logger, report *core.RunReport) {
	report.FinishedAt = p.clock.Now()
	status := report.Status()
	p.metrics.RecordRun(status, report.FinishedAt, status == core.RunSuccess)

	fields := []zap.Field{
		zap.String("status", status),
		zap.Duration("duration", report.Duration()),
	}
	switch status {
	case core.RunSuccess:
		log.Info("backup run finished", fields...)
	default:
		log.Error("backup run finished", fields...)
	}

	for name, err := range p.notifiers.NotifyAll(ctx, report) {
		log.Warn("notification failed", zap.String("notifier", name), zap.Error(err))
	}
}
