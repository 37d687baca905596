package main

import (
	"context"
	"fmt"

	"github.com/newthinker/dbbackup/internal/config"
	"github.com/newthinker/dbbackup/internal/storage/archive"
)

func resolvedEnvFile() string {
	if envFile != "" {
		return envFile
	}
	return config.DefaultEnvFile()
}

// stores builds both archive stores from the resolved configuration
func stores(ctx context.Context, cfg *config.Config) (*archive.LocalFS, *archive.S3Storage, error) {
	remote, err := archive.NewS3(ctx, archive.S3Config{
		Bucket:    cfg.Remote.Bucket,
		Endpoint:  cfg.Remote.Endpoint,
		Region:    cfg.Remote.Region,
		AccessKey: cfg.Remote.AccessKey,
		SecretKey: cfg.Remote.SecretKey,
		Prefix:    cfg.Remote.Prefix,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating s3 client: %w", err)
	}
	return archive.NewLocalFS(cfg.Local.Dir), remote, nil
}
