package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/pal/internal/api"
	"github.com/kalambet/pal/internal/config"
	"github.com/kalambet/pal/internal/storage"
	"github.com/kalambet/pal/internal/web"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the pal web server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running pal server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pal server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

const shutdownTimeout = 5 * time.Second

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "pal.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// healthy reports whether a pal server answers on baseURL.
func healthy(baseURL string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)
	slog.Info("pal starting", "version", version, "storage", cfg.Storage.Backend, "model", cfg.Upstream.Model)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	if healthy(cfg.Server.BaseURL()) {
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("pal is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("pal is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	page, err := web.Handler(web.PageData{Title: "pal", Model: cfg.Upstream.Model})
	if err != nil {
		return fmt.Errorf("rendering page: %w", err)
	}

	handler := api.NewHandler(api.Deps{
		Profiles:  a.profiles,
		Assistant: a.assistant,
		Page:      page,
		Logger:    slog.Default(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := cfg.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	slog.Info("pal listening", "addr", addr)

	return serveHTTP(ctx, &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, ln)
}

// serveHTTP serves on ln until ctx is done, then shuts down gracefully.
// Requests already in flight keep their own contexts and may finish
// within the shutdown timeout.
func serveHTTP(ctx context.Context, srv *http.Server, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("pal is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop pal (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to pal (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	if healthy(cfg.Server.BaseURL()) {
		printStatus("Server", "running at %s", cfg.Server.BaseURL())
	} else {
		printStatus("Server", "stopped")
	}

	printStatus("Model", "%s", cfg.Upstream.Model)
	printStatus("Upstream", "%s", cfg.Upstream.BaseURL)
	if cfg.Upstream.APIKey == "" {
		printStatus("API key", "%s", colorize(colorYellow, "not set (PAL_UPSTREAM_API_KEY)"))
	} else {
		printStatus("API key", "set")
	}
	printStatus("Storage", "%s", cfg.Storage.Backend)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	saved, err := profileSavedAt(cfg.Storage)
	switch {
	case err != nil:
		printStatus("Profile", "%s", colorize(colorYellow, err.Error()))
	case saved.IsZero():
		printStatus("Profile", "not saved yet")
	default:
		printStatus("Profile", "saved %s", saved.Local().Format(time.RFC1123))
	}
	return nil
}

// profileSavedAt reports when the profile document was last written. The
// zero time means it was never saved.
func profileSavedAt(cfg config.StorageConfig) (time.Time, error) {
	if cfg.Backend == config.BackendSQLite {
		store, err := storage.Open(cfg.DataDir)
		if err != nil {
			return time.Time{}, err
		}
		defer store.Close()
		return store.UpdatedAt()
	}

	info, err := os.Stat(cfg.ProfilePath())
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
