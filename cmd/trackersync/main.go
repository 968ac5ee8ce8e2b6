// TrackerSync - session tracker cache and synchronization engine
// License: MIT
//
// Copyright (c) 2026 TrackerSync contributors

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/dotsetgreg/trackersync/pkg/backend"
	"github.com/dotsetgreg/trackersync/pkg/config"
	"github.com/dotsetgreg/trackersync/pkg/logger"
	"github.com/dotsetgreg/trackersync/pkg/remote"
	"github.com/dotsetgreg/trackersync/pkg/trackerstore"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "trackersync"

const shutdownTimeout = 5 * time.Second

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// formatBuildInfo returns build time and go version info
func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Fprintf(w, "  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Fprintf(w, "  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("TRACKERSYNC_CONFIG")); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".trackersync", "config.json")
}

// loadConfig reads the config and applies its logging settings. debug
// forces debug level regardless of the file.
func loadConfig(path string, debug bool) (*config.Config, error) {
	if strings.TrimSpace(path) == "" {
		path = defaultConfigPath()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger.SetFormat(cfg.Logging.Format)
	level := logger.ParseLevel(cfg.Logging.Level)
	if debug {
		level = logger.DEBUG
	}
	logger.SetLevel(level)
	if level != logger.DEBUG {
		gin.SetMode(gin.ReleaseMode)
	}
	return cfg, nil
}

func newEngine(cfg *config.Config) (*trackerstore.Store, error) {
	if strings.TrimSpace(cfg.Store.URL) == "" {
		return nil, fmt.Errorf("store.url is not configured (set TRACKERSYNC_STORE_URL)")
	}
	client := remote.NewHTTPClient(cfg.Store.URL, cfg.RequestTimeout())

	var opts []trackerstore.Option
	if cfg.Turns.Log {
		opts = append(opts, trackerstore.WithTurnSinks(trackerstore.TurnConfig{
			ListenAction:     cfg.Turns.ListenAction,
			ResponseSlot:     cfg.Turns.ResponseSlot,
			SpecialResponses: cfg.Turns.SpecialResponses,
		}, trackerstore.LogTurnSink()))
	}
	return trackerstore.NewStore(trackerstore.Config{
		StoreKey:       cfg.Store.ProjectID,
		MaxEvents:      cfg.Cache.MaxEvents,
		Retention:      cfg.Retention(),
		SweepInterval:  cfg.SweepInterval(),
		RequestTimeout: cfg.RequestTimeout(),
		Domain:         cfg.DomainOrNil(),
	}, client, opts...)
}

// runHTTPServer serves until ctx is done or the listener fails, then shuts
// the server down gracefully.
func runHTTPServer(ctx context.Context, srv *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func backendCmd(ctx context.Context, out io.Writer, cfg *config.Config, addr, dbPath string) error {
	if addr == "" {
		addr = cfg.Backend.Addr
	}
	if dbPath == "" {
		dbPath = cfg.BackendDBPath()
	}

	db, err := backend.NewSQLiteStore(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           backend.NewServer(db).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	fmt.Fprintf(out, "✓ Reference store listening on http://%s (db: %s)\n", addr, dbPath)
	fmt.Fprintln(out, "Press Ctrl+C to stop")
	logger.InfoCF("backend", "Reference store started", map[string]interface{}{
		"addr": addr,
		"db":   dbPath,
	})

	err = runHTTPServer(ctx, srv)
	fmt.Fprintln(out, "✓ Reference store stopped")
	return err
}

func serveCmd(ctx context.Context, out io.Writer, cfg *config.Config) error {
	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	srv := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           newStatusAPI(engine).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	fmt.Fprintf(out, "✓ Tracker store syncing with %s (project %s)\n", cfg.Store.URL, cfg.Store.ProjectID)
	fmt.Fprintf(out, "✓ Status API available at http://%s/health, /stats and /sessions/:id\n", srv.Addr)
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	err = runHTTPServer(ctx, srv)
	st := engine.Stats()
	logger.InfoCF("serve", "Tracker store stopped", map[string]interface{}{
		"cached":    st.Cached,
		"evictions": st.Evictions,
	})
	fmt.Fprintln(out, "✓ Tracker store stopped")
	return err
}

func getCmd(ctx context.Context, out io.Writer, cfg *config.Config, sessionID string) error {
	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	tr, ok := engine.Retrieve(ctx, sessionID)
	if !ok {
		return fmt.Errorf("session %q not found", sessionID)
	}
	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func shellCmd(ctx context.Context, cfg *config.Config, sessionID string) error {
	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s [%s] > ", appName, sessionID),
		HistoryFile:     filepath.Join(os.TempDir(), ".trackersync_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	sh := &shell{store: engine, sessionID: sessionID, now: time.Now}
	fmt.Fprintf(rl.Stdout(), "%s shell for session %s (Ctrl+C to exit, /slot name=value sets a slot)\n\n", appName, sessionID)

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Fprintln(rl.Stdout(), "\nGoodbye!")
				return nil
			}
			fmt.Fprintf(rl.Stdout(), "Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(rl.Stdout(), "Goodbye!")
			return nil
		}

		res, err := sh.turn(ctx, input)
		if err != nil {
			fmt.Fprintf(rl.Stdout(), "Error: %v\n", err)
			continue
		}
		fmt.Fprintf(rl.Stdout(), "%s (%d events synced)\n", res.Reply, res.Events)
	}
}

func statusCmd(ctx context.Context, out io.Writer, cfg *config.Config, configPath string) {
	if strings.TrimSpace(configPath) == "" {
		configPath = defaultConfigPath()
	}

	fmt.Fprintf(out, "%s Status\n", appName)
	fmt.Fprintf(out, "Version: %s\n", formatVersion())
	build, _ := formatBuildInfo()
	if build != "" {
		fmt.Fprintf(out, "Build: %s\n", build)
	}
	fmt.Fprintln(out)

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintln(out, "Config:", configPath, "✓")
	} else {
		fmt.Fprintln(out, "Config:", configPath, "defaults")
	}

	fmt.Fprintf(out, "Project: %s\n", cfg.Store.ProjectID)
	fmt.Fprintf(out, "Max events per fetch: %d\n", cfg.Cache.MaxEvents)
	fmt.Fprintf(out, "Retention: %s (sweep every %s)\n", cfg.Retention(), cfg.SweepInterval())
	fmt.Fprintf(out, "Request timeout: %s\n", cfg.RequestTimeout())
	fmt.Fprintf(out, "Domain slots: %d\n", len(cfg.Domain.Slots))

	if strings.TrimSpace(cfg.Store.URL) == "" {
		fmt.Fprintln(out, "Remote store: not set")
		return
	}
	if err := probeStore(ctx, cfg.Store.URL, cfg.RequestTimeout()); err != nil {
		fmt.Fprintf(out, "Remote store: %s ✗ (%v)\n", cfg.Store.URL, err)
		return
	}
	fmt.Fprintf(out, "Remote store: %s ✓\n", cfg.Store.URL)
}

func probeStore(ctx context.Context, baseURL string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned %s", resp.Status)
	}
	return nil
}
