package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"go.klb.dev/clipvault/internal/clip"
	"go.klb.dev/clipvault/internal/control"
	"go.klb.dev/clipvault/internal/engine"
	"go.klb.dev/clipvault/internal/events"
	"go.klb.dev/clipvault/internal/history"
	"go.klb.dev/clipvault/internal/httpapi"
	"go.klb.dev/clipvault/internal/ipc"
	"go.klb.dev/clipvault/internal/media"
	"go.klb.dev/clipvault/internal/suppress"
	"go.klb.dev/clipvault/internal/watch"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the clipboard history daemon",
		Long: `Starts the clipvault daemon: it watches the system clipboard, records new
entries, enforces the history limit, and answers CLI requests on the local
IPC socket. With --http-addr it also serves the HTTP API and /metrics.

Config file search order:
  /etc/clipvault/clipvault.toml
  $HOME/.config/clipvault/clipvault.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → CLIPVAULT_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runServe(cmd.Context(), v) },
	}

	f := cmd.Flags()
	f.String("data-dir", defaultDataDir(), "directory holding the database and media files")
	f.Duration("poll-interval", watch.DefaultInterval, "clipboard polling interval")
	f.Duration("debounce", watch.DefaultDebounce, "minimum spacing between recorded changes")
	f.Duration("suppress-window", suppress.DefaultWindow, "how long a copy made by clipvault is ignored when it reappears")
	f.String("app-id", engine.DefaultAppID, "application id ignored as a clipboard source")
	f.String("http-addr", "", "HTTP API listen address, e.g. 127.0.0.1:8753 (empty = disabled)")
	f.Int64("reconcile-limit", engine.DefaultReconcileLimit, "recent images checked for duplicates at start-up")
	f.String("socket", "", "IPC socket path (default: platform socket path)")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runServe(parent context.Context, v *viper.Viper) error {
	setupLogging(v)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	socket := v.GetString("socket")
	if socket == "" {
		socket = ipc.SocketPath()
	}
	if ipc.IsRunningAt(socket) {
		return fmt.Errorf("clipvault is already running (socket %s)", socket)
	}

	dataDir, err := resolveDataDir(v.GetString("data-dir"))
	if err != nil {
		return err
	}
	slog.Info("clipvault starting", "version", Version, "data_dir", dataDir)

	store, err := history.Open(dataDir)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer store.Close()
	if versions, err := store.AppliedMigrations(); err == nil && len(versions) > 0 {
		slog.Debug("history schema", "version", versions[len(versions)-1])
	}

	ms, err := media.Open(filepath.Join(dataDir, "media"))
	if err != nil {
		return fmt.Errorf("opening media store: %w", err)
	}

	backend, err := clip.Open()
	if err != nil {
		return fmt.Errorf("opening clipboard: %w", err)
	}
	defer backend.Close()
	slog.Info("clipboard backend", "backend", backend.Name())

	hub := events.NewHub()
	eng := engine.New(engine.Options{
		Store:      store,
		Media:      ms,
		Clipboard:  backend,
		Suppressor: suppress.New(v.GetDuration("suppress-window")),
		Hub:        hub,
		AppID:      v.GetString("app-id"),
	})

	// Repair state left by a previous run before accepting new entries.
	if _, err := eng.CleanupOrphans(ctx); err != nil {
		slog.Warn("orphan cleanup failed", "err", err)
	}
	if _, err := eng.ReconcileImageDuplicates(ctx, v.GetInt64("reconcile-limit")); err != nil {
		slog.Warn("image reconciliation failed", "err", err)
	}
	if err := eng.Prune(ctx); err != nil {
		slog.Warn("start-up prune failed", "err", err)
	}

	ln, err := ipc.ListenAt(socket)
	if err != nil {
		return fmt.Errorf("ipc listen %s: %w", socket, err)
	}

	det := watch.NewDetector(clip.Open)
	det.Interval = v.GetDuration("poll-interval")
	det.Debounce = v.GetDuration("debounce")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(det.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(eng.Run(gctx, det.Changes())) })
	g.Go(func() error { return control.NewServer(eng, hub).Serve(gctx, ln) })
	if addr := v.GetString("http-addr"); addr != "" {
		g.Go(func() error { return httpapi.ListenAndServe(gctx, addr, httpapi.NewRouter(eng, hub)) })
	}

	err = g.Wait()
	slog.Info("clipvault stopped")
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
