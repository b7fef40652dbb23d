// Package main is the entry point for the gitwiki server.
//
// gitwiki stores markdown documents as plain files, records every change as
// a git commit, keeps titles and tags in a SQLite index and exposes the whole
// through a JSON HTTP API. Configuration is read from CLI flags and
// server_config.json in the data directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/maruel/gitwiki/internal/metrics"
	"github.com/maruel/gitwiki/internal/server"
	"github.com/maruel/gitwiki/internal/server/ratelimit"
	"github.com/maruel/gitwiki/internal/storage"
	"github.com/maruel/gitwiki/internal/storage/docstore"
	"github.com/maruel/gitwiki/internal/storage/identity"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "gitwiki: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	httpAddr := flag.String("http", "localhost:8080", "Address to listen on (e.g., localhost:8080, :8080, 0.0.0.0:8080)")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	authorName := flag.String("author-name", "gitwiki", "Author of commits made without a user, like reconcile")
	authorEmail := flag.String("author-email", "gitwiki@localhost", "Email of commits made without a user")
	watch := flag.Duration("watch", 0, "Reconcile files edited outside the server after this quiet delay; 0 disables")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}

	if *version {
		printVersion()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	switch *logLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", *logLevel)
	}
	slog.SetDefault(newLogger(ll))

	serverCfg, err := storage.LoadServerConfig(*dataDir)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", storage.ConfigFile, err)
	}

	m := metrics.New()
	store, err := docstore.Open(ctx, docstore.Options{
		DataDir:     *dataDir,
		AuthorName:  *authorName,
		AuthorEmail: *authorEmail,
		Metrics:     m,
	})
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.ErrorContext(ctx, "Failed to close document store", "err", err)
		}
	}()

	userService, err := identity.NewUserService(ctx, store.DB())
	if err != nil {
		return fmt.Errorf("failed to initialize user service: %w", err)
	}

	// Pick up edits and pending intents left over from the previous run.
	if rep, err := store.Reconcile(ctx); err != nil {
		slog.ErrorContext(ctx, "Failed to reconcile", "err", err)
	} else {
		slog.InfoContext(ctx, "Reconciled", "committed", rep.Committed, "removed", rep.Removed,
			"created", rep.MetadataCreated, "deleted", rep.MetadataDeleted, "errors", len(rep.Errors))
	}

	if *watch > 0 {
		// Runs before the deferred store.Close.
		defer startWatcher(ctx, store, *watch)()
	}

	limits := ratelimit.NewConfig(serverCfg.RateLimits)
	defer limits.Close()

	// Normalize addr: ":8080" becomes "localhost:8080"
	addr := *httpAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	httpServer := &http.Server{
		Addr: addr,
		Handler: server.NewRouter(server.Options{
			Store:   store,
			Users:   userService,
			Config:  serverCfg,
			Metrics: m,
			Limits:  limits,
		}),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		v, _, _, _ := getBuildInfo()
		slog.InfoContext(ctx, "Starting server", "addr", addr, "dataDir", *dataDir, "version", v)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

// startWatcher reconciles documents edited outside the server once their
// directory has been quiet for delay. The returned func stops the watcher and
// waits for a reconcile in progress.
func startWatcher(ctx context.Context, store *docstore.Store, delay time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Go(func() {
		err := store.Content().Watch(ctx, delay, func(ctx context.Context, names []string) {
			rep, err := store.ReconcileFiles(ctx, names)
			if errors.Is(err, context.Canceled) {
				return
			}
			if err != nil {
				slog.ErrorContext(ctx, "Failed to reconcile changed files", "err", err, "files", names)
				return
			}
			slog.InfoContext(ctx, "Reconciled changed files", "files", names, "committed", rep.Committed, "removed", rep.Removed)
		})
		if err != nil {
			slog.ErrorContext(ctx, "Watcher stopped", "err", err)
		}
	})
	return func() {
		cancel()
		wg.Wait()
	}
}

// newLogger returns a colored logger on stderr that omits zero values.
func newLogger(ll *slog.LevelVar) *slog.Logger {
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			skip := false
			switch t := a.Value.Any().(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case int64:
				skip = t == 0
			case uint64:
				skip = t == 0
			case float64:
				skip = t == 0
			case time.Time:
				skip = t.IsZero()
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("gitwiki %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
