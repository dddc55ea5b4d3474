// ABOUTME: Entry point for the toolgate server and its management commands
// ABOUTME: Governs LLM tool calling with per-invocation human approval

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/kristerhedfors/toolgate/internal/bridge"
	"github.com/kristerhedfors/toolgate/internal/builtins"
	"github.com/kristerhedfors/toolgate/internal/config"
	"github.com/kristerhedfors/toolgate/internal/gate"
	"github.com/kristerhedfors/toolgate/internal/jsexec"
	"github.com/kristerhedfors/toolgate/internal/mcp"
	"github.com/kristerhedfors/toolgate/internal/registry"
	"github.com/kristerhedfors/toolgate/internal/store"
	"github.com/kristerhedfors/toolgate/internal/trust"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _              _            _
 | |_ ___   ___ | | __ _  __ _| |_ ___
 | __/ _ \ / _ \| |/ _' |/ _' | __/ _ \
 | || (_) | (_) | | (_| | (_| | ||  __/
  \__\___/ \___/|_|\__, |\__,_|\__\___|
                   |___/
`

// getConfigPath returns the path to the toolgate config file.
// Priority: TOOLGATE_CONFIG env var > XDG_CONFIG_HOME/toolgate/config.yaml > ~/.config/toolgate/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("TOOLGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "toolgate", "config.yaml")
}

// getDataPath returns the path to the toolgate data directory.
// Priority: XDG_DATA_HOME/toolgate > ~/.local/share/toolgate
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "toolgate")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: toolgate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                Start the governed tool server")
		fmt.Println("  validate FILE        Synthesize descriptors from a JavaScript file")
		fmt.Println("  list                 List registered collections and functions")
		fmt.Println("  export [FILE]        Export collections as JSON (stdout by default)")
		fmt.Println("  import FILE          Import collections from an exported payload")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "validate":
		err = runValidate(os.Args[2:])
	case "list":
		err = runList(ctx)
	case "export":
		err = runExport(ctx, os.Args[2:])
	case "import":
		err = runImport(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when none exists.
func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = config.Default()
			cfg.Database.Path = filepath.Join(getDataPath(), "toolgate.db")
			return cfg, "(defaults)", nil
		}
		return nil, configPath, err
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Endpoint:  http://%s/mcp\n", cfg.Server.Addr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting toolgate",
		"config", configPath,
		"addr", cfg.Server.Addr,
		"database", cfg.Database.Path,
	)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	reg := registry.New(logger, db)
	if err := reg.Hydrate(ctx); err != nil {
		return fmt.Errorf("loading registry: %w", err)
	}

	memory := trust.New(logger, db)
	if err := memory.Hydrate(ctx); err != nil {
		return fmt.Errorf("loading trust memory: %w", err)
	}

	if !cfg.Defaults.Disabled {
		if err := builtins.Register(ctx, logger, reg); err != nil {
			return fmt.Errorf("registering default collections: %w", err)
		}
	}

	engine := jsexec.New(logger, cfg.Execution.Timeout)

	bridgeMgr := bridge.NewManager(logger, reg)
	for _, srv := range cfg.Servers {
		count, err := bridgeMgr.Connect(ctx, srv.Name, srv.URL)
		if err != nil {
			logger.Warn("external server connection failed", "server", srv.Name, "error", err)
			continue
		}
		logger.Info("external server connected", "server", srv.Name, "tools", count)
	}

	g := gate.New(gate.Config{
		Logger:   logger,
		Registry: reg,
		Trust:    memory,
		Runner:   gate.NewRunner(reg, engine, bridgeMgr),
		Approver: newConsoleApprover(),
	})

	mcpServer, err := mcp.NewServer(mcp.Config{
		Registry: reg,
		Gate:     g,
		Logger:   logger,
		Token:    cfg.Server.Token,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	mux := http.NewServeMux()
	mcpServer.RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu    sync.Mutex
	level slog.Level
	attrs []slog.Attr
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level: h.level,
		attrs: newAttrs,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	return h
}
