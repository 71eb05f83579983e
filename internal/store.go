package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/redis/go-redis/v9"

	"github.com/starford/keloia/internal/filestore"
)

// backend is an opened store plus what the runtime needs to know about it.
type backend struct {
	client filestore.Client
	// watchRoot is the local directory behind the store, "" when remote.
	watchRoot string
	close     func() error
}

// openBackend constructs the store selected by cfg.Store.Backend.
func openBackend(ctx context.Context, cfg *Config) (*backend, error) {
	nop := func() error { return nil }
	switch cfg.Store.Backend {
	case BackendGitHub, BackendGitHubRaw:
		gc := filestore.GitHubConfig{
			Owner:             cfg.GitHub.Owner,
			Repo:              cfg.GitHub.Repo,
			Branch:            cfg.GitHub.Branch,
			Token:             cfg.GitHub.Token,
			APIURL:            cfg.GitHub.APIURL,
			RawURL:            cfg.GitHub.RawURL,
			UserAgent:         "keloia",
			RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
			Burst:             cfg.GitHub.Burst,
		}
		if cfg.Store.Backend == BackendGitHubRaw {
			return &backend{client: filestore.NewGitHubRaw(gc), close: nop}, nil
		}
		return &backend{client: filestore.NewGitHub(gc), close: nop}, nil

	case BackendFS:
		fs, err := filestore.NewFS(cfg.FS.Root)
		if err != nil {
			return nil, err
		}
		return &backend{client: fs, watchRoot: fs.Root(), close: nop}, nil

	case BackendGit:
		repo, err := filestore.NewGitRepo(cfg.Git.Root, filestore.Author{
			Name:  cfg.Git.AuthorName,
			Email: cfg.Git.AuthorEmail,
		})
		if err != nil {
			return nil, err
		}
		return &backend{client: repo, watchRoot: repo.Root(), close: nop}, nil

	case BackendSQLite:
		db, err := filestore.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return &backend{client: db, close: db.Close}, nil

	case BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		return &backend{client: filestore.NewRedis(rdb, cfg.Redis.Prefix), close: rdb.Close}, nil

	case BackendMemory:
		return &backend{client: filestore.NewMemory(), close: nop}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// newLogger builds the process logger. JSON goes to out; text format uses a
// tint handler, coloured only when out is a terminal.
func newLogger(app ApplicationConfig, out *os.File, forceText bool) *slog.Logger {
	if forceText || app.LogFormat == LogFormatText {
		var w io.Writer = out
		noColor := !isatty.IsTerminal(out.Fd()) && !isatty.IsCygwinTerminal(out.Fd())
		if !noColor {
			w = colorable.NewColorable(out)
		}
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      app.LogLevel,
			TimeFormat: time.TimeOnly,
			NoColor:    noColor,
		}))
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: app.LogLevel,
	}))
}
