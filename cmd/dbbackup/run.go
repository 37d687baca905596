package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/newthinker/dbbackup/internal/compress"
	"github.com/newthinker/dbbackup/internal/config"
	"github.com/newthinker/dbbackup/internal/core"
	"github.com/newthinker/dbbackup/internal/dump"
	"github.com/newthinker/dbbackup/internal/logger"
	"github.com/newthinker/dbbackup/internal/metrics"
	"github.com/newthinker/dbbackup/internal/notifier"
	"github.com/newthinker/dbbackup/internal/notifier/webhook"
	"github.com/newthinker/dbbackup/internal/pipeline"
	"github.com/newthinker/dbbackup/internal/retention"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runBackup(cmd *cobra.Command, args []string) error {
	// Initialize logger
	log := logger.Must(debug)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fail := func(msg string, err error) error {
		log.Error(msg, zap.Error(err))
		return &exitError{code: exitFailure, err: err}
	}

	// Load config
	path := resolvedEnvFile()
	cfg, err := config.Resolve(path)
	if err != nil {
		return fail("config validation failed", err)
	}
	log.Debug("configuration resolved",
		zap.String("env_file", path),
		zap.String("database", cfg.Database.Name),
		zap.String("bucket", cfg.Remote.Bucket),
		zap.String("prefix", cfg.Remote.Prefix),
		zap.String("local_dir", cfg.Local.Dir),
		zap.Int("max_backups", cfg.Retention.Count),
	)

	if err := dump.LookPath(cfg.Database.DumpCommand); err != nil {
		return fail("dump utility unavailable", err)
	}

	comp, err := compress.New(cfg.Compress.Level)
	if err != nil {
		return fail("invalid compression level", err)
	}

	local, remote, err := stores(ctx, cfg)
	if err != nil {
		return fail("remote store unavailable", err)
	}

	reg := metrics.NewRegistry()

	notifiers := notifier.NewRegistry()
	if cfg.Notify.WebhookURL != "" {
		if err := notifiers.Register(webhook.New(cfg.Notify.WebhookURL, nil)); err != nil {
			return fail("registering notifier", err)
		}
	}

	p, err := pipeline.New(pipeline.Components{
		Database:   cfg.Database.Name,
		Dumper:     dump.New(cfg.Database, log),
		Compressor: comp,
		Local:      local,
		Remote:     remote,
		Retention:  retention.New(cfg.Retention.Count, cfg.Retention.DeleteWorkers, log, reg),
		Metrics:    reg,
		Notifiers:  notifiers,
		Logger:     log,
	})
	if err != nil {
		return fail("building pipeline", err)
	}

	report, err := p.Run(ctx)

	if cfg.Metrics.Textfile != "" {
		if werr := reg.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
			log.Warn("failed to write metrics textfile",
				zap.String("path", cfg.Metrics.Textfile),
				zap.Error(werr),
			)
		}
	}

	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}
	if report.Status() == core.RunUploadFailed {
		return &exitError{code: exitUploadFailed, err: report.UploadErr}
	}
	return nil
}
