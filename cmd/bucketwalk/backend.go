package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bleepstore/bucketwalk/internal/config"
	"github.com/bleepstore/bucketwalk/internal/storage"
)

// newBackend builds the storage backend selected by cfg. The returned close
// function releases any resources the backend holds.
func newBackend(ctx context.Context, cfg *config.Config) (storage.Backend, func() error, error) {
	sc := cfg.Storage
	noop := func() error { return nil }

	switch sc.Backend {
	case config.BackendAWS:
		b, err := storage.NewAWSBackend(ctx, sc.Region, sc.AWS.EndpointURL, sc.AWS.UsePathStyle,
			sc.AWS.AccessKeyID, sc.AWS.SecretAccessKey)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing AWS storage backend: %w", err)
		}
		b.SetWaitDelay(cfg.Consistency.PollInterval)
		return b, noop, nil

	case config.BackendGCP:
		b, err := storage.NewGCPBackend(ctx, sc.GCP.Project, sc.Region, sc.GCP.CredentialsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing GCP storage backend: %w", err)
		}
		return b, b.Close, nil

	case config.BackendAzure:
		b, err := storage.NewAzureBackend(ctx, sc.Azure.AccountURL, sc.Azure.ConnectionString,
			sc.Azure.UseManagedIdentity, sc.Region)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing Azure storage backend: %w", err)
		}
		return b, noop, nil

	case config.BackendLocal:
		b, err := storage.NewLocalBackend(sc.Local.RootDir, sc.Region)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing local storage backend: %w", err)
		}
		// Crash-only recovery: clean orphan temp files from incomplete writes.
		if err := b.CleanTempFiles(); err != nil {
			slog.Warn("Failed to clean temp files", "error", err)
		}
		slog.Info("Storage backend initialized", "backend", "local", "root", sc.Local.RootDir)
		return b, noop, nil

	case config.BackendSQLite:
		b, err := storage.NewSQLiteBackend(sc.SQLite.Path, sc.Region)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing SQLite storage backend: %w", err)
		}
		slog.Info("Storage backend initialized", "backend", "sqlite", "path", sc.SQLite.Path)
		return b, b.Close, nil

	case config.BackendMemory:
		slog.Info("Storage backend initialized", "backend", "memory")
		return storage.NewMemoryBackend(sc.Region), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
}
