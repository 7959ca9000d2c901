package main

import (
	"context"
	"strings"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-campus/platform/go/storage"
)

// buildReportArchive returns the configured job report archive, or nil when archiving is disabled.
func buildReportArchive(ctx context.Context, cfg config, logger *zap.Logger) (storage.Archive, func()) {
	var (
		archive storage.Archive
		closeFn = func() {}
	)

	switch cfg.Archive.Backend {
	case "", "none":
		return nil, closeFn
	case "gcs":
		if strings.TrimSpace(cfg.Archive.Bucket) == "" {
			logger.Fatal("report archive bucket required when REPORT_ARCHIVE_BACKEND=gcs")
		}
		client, err := gcs.NewClient(ctx)
		if err != nil {
			logger.Fatal("init gcs client", zap.Error(err))
		}
		archive = storage.NewGCSArchive(client, cfg.Archive.Bucket, cfg.Archive.Prefix)
		closeFn = func() { _ = client.Close() }
	case "local":
		if strings.TrimSpace(cfg.Archive.LocalDir) == "" {
			logger.Fatal("report archive dir required when REPORT_ARCHIVE_BACKEND=local")
		}
		archive = storage.NewLocalArchive(cfg.Archive.LocalDir)
	default:
		logger.Fatal("invalid REPORT_ARCHIVE_BACKEND (use none, gcs or local)", zap.String("backend", cfg.Archive.Backend))
	}

	if err := archive.Check(ctx); err != nil {
		logger.Fatal("report archive unavailable", zap.String("backend", cfg.Archive.Backend), zap.Error(err))
	}
	logger.Info("archiving job reports", zap.String("backend", cfg.Archive.Backend))
	return archive, closeFn
}
