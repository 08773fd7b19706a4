package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"photopipe/internal/blob"
	"photopipe/internal/logging"
	"photopipe/internal/models"
	"photopipe/internal/server"
	"photopipe/internal/storage"
	"photopipe/internal/worker"
)

type photoStore interface {
	server.PhotoStore
	worker.PhotoStore
}

func loadConfig(cmd *cobra.Command) (*models.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	cfg, err := models.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logging.CreateLogger(os.Stderr, logging.LevelFromEnv(cfg.LogLevel)))
	return cfg, nil
}

func openPhotoStore(ctx context.Context, cfg *models.Config) (photoStore, func(), error) {
	switch cfg.Table.Backend {
	case models.TableBackendBadger:
		s, err := storage.NewBadgerStore(cfg.Table.BadgerPath)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", models.ErrDependencyUnavailable, err)
		}
		slog.Info("✓ badger metadata store ready", "path", cfg.Table.BadgerPath)
		return s, func() { _ = s.Close() }, nil
	default:
		s, err := storage.NewStorage(ctx, cfg.Table.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", models.ErrDependencyUnavailable, err)
		}
		slog.Info("✓ postgres metadata store ready")
		return s, s.Close, nil
	}
}

func openBlobStore(ctx context.Context, cfg *models.Config) (server.BlobStore, func(), error) {
	switch cfg.Blob.Backend {
	case models.BlobBackendGCS:
		key, err := readPrivateKey(cfg.Blob.AccountKey)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", models.ErrDependencyUnavailable, err)
		}
		s, err := blob.NewGCSStore(ctx, cfg.Blob.Container, cfg.Blob.AccountName, key, cfg.Blob.CredentialsFile, cfg.Blob.URLTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", models.ErrDependencyUnavailable, err)
		}
		slog.Info("✓ gcs blob store ready", "bucket", cfg.Blob.Container)
		return s, func() { _ = s.Close() }, nil
	default:
		s, err := blob.NewLocalStore(cfg.Blob.Container, cfg.PublicURL, []byte(cfg.Blob.AccountKey), cfg.Blob.URLTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", models.ErrDependencyUnavailable, err)
		}
		slog.Info("✓ local blob store ready", "dir", cfg.Blob.Container)
		return s, func() {}, nil
	}
}

// readPrivateKey accepts either PEM contents or a path to a PEM file.
func readPrivateKey(value string) ([]byte, error) {
	if strings.HasPrefix(strings.TrimSpace(value), "-----BEGIN") {
		return []byte(value), nil
	}
	data, err := os.ReadFile(value)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	return data, nil
}
