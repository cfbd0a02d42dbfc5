package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kalambet/pal/internal/config"
	"github.com/kalambet/pal/internal/pipeline"
	"github.com/kalambet/pal/internal/profile"
	"github.com/kalambet/pal/internal/proxy"
	"github.com/kalambet/pal/internal/storage"
)

// app is the wired set of components shared by serve and mcp.
type app struct {
	profiles  *profile.Manager
	assistant *pipeline.Assistant
	close     func() error
}

func setupLogging(cfg config.Config) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})))
}

// openProfileStore returns the configured profile store and a function
// releasing it.
func openProfileStore(cfg config.StorageConfig) (profile.Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		store, err := storage.Open(cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening storage: %w", err)
		}
		return store, store.Close, nil
	default:
		return profile.NewFileStore(cfg.ProfilePath()), func() error { return nil }, nil
	}
}

func newApp(cfg config.Config) (*app, error) {
	store, closeStore, err := openProfileStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	if cfg.Upstream.APIKey == "" {
		slog.Warn("PAL_UPSTREAM_API_KEY is not set; chat requests will fail until it is")
	}

	profiles := profile.NewManager(store)
	client := proxy.NewClient(cfg.Upstream.APIKey, cfg.Upstream.BaseURL, cfg.Upstream.Timeout)
	assistant := pipeline.New(profiles, client, upstreamOptions(cfg.Upstream))

	return &app{
		profiles:  profiles,
		assistant: assistant,
		close:     closeStore,
	}, nil
}

func upstreamOptions(u config.UpstreamConfig) proxy.Options {
	return proxy.Options{
		Model:       u.Model,
		Temperature: float32(u.Temperature),
		MaxTokens:   u.MaxTokens,
	}
}
