// ABOUTME: Entry point for the coven-groups terminal chat client
// ABOUTME: Loads config, restores the saved login, and runs the interactive command loop

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-groups/internal/api"
	"github.com/2389/coven-groups/internal/config"
	"github.com/2389/coven-groups/internal/connection"
	"github.com/2389/coven-groups/internal/messages"
	"github.com/2389/coven-groups/internal/session"
	"github.com/2389/coven-groups/internal/store"
	"github.com/2389/coven-groups/internal/unread"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __         __ _ _ __ ___  _   _ _ __  ___
 / __/ _ \ \ / / _ \ '_ \ _____ / _' | '__/ _ \| | | | '_ \/ __|
| (_| (_) \ V /  __/ | | |_____| (_| | | | (_) | |_| | |_) \__ \
 \___\___/ \_/ \___|_| |_|      \__, |_|  \___/ \__,_| .__/|___/
                                |___/                |_|
`

// getConfigPath returns the path to the client config file.
// Priority: COVEN_GROUPS_CONFIG env var > XDG_CONFIG_HOME/coven/groups.yaml > ~/.config/coven/groups.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_GROUPS_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "groups.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "groups.yaml")
}

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func main() {
	configPath := flag.String("config", getConfigPath(), "Path to config file (.yaml or .toml)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = filepath.Join(getDataPath(), "groups.db")
	}
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	manager := connection.NewManager(connection.Options{
		PingInterval:     cfg.Connection.PingInterval,
		WriteTimeout:     cfg.Connection.WriteTimeout,
		HandshakeTimeout: cfg.Connection.HandshakeTimeout,
		ReadLimit:        cfg.Connection.ReadLimit,
		SendQueueSize:    cfg.Connection.SendQueueSize,
	}, logger)

	client := api.NewClient(
		api.EndpointsFromConfig(cfg.Service),
		cfg.Service.APIKey,
		&http.Client{Timeout: cfg.HTTP.Timeout},
		logger,
	)

	// The controller does not own the tracker; deferred first so it closes
	// after the controller.
	tracker := unread.NewTracker(logger)
	defer tracker.Close()

	term := newTerminal(os.Stdout)
	ctrl := session.NewController(manager, client, messages.NewStore(), tracker, session.Options{
		Endpoint: cfg.Service.WebSocketURL,
		Logger:   logger,
		Notifier: term,
		Store:    st,
		OnAppend: term.printMessage,
	})
	defer ctrl.Close()

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Config:   %s\n", configPath)
	green.Printf("  ✓ Storage:  %s\n", dbPath)
	green.Printf("  ✓ Endpoint: %s\n\n", cfg.Service.WebSocketURL)

	cli := &app{
		term:    term,
		ctrl:    ctrl,
		client:  client,
		store:   st,
		tracker: tracker,
		logger:  logger,
	}

	go cli.watchUnread(ctx)

	cli.restore(ctx)

	return cli.loop(ctx, os.Stdin)
}

// restore resumes the session saved by a previous run, if any.
func (a *app) restore(ctx context.Context) {
	cred, err := a.store.GetCredential(ctx)
	if errors.Is(err, store.ErrNotFound) {
		a.term.info("Not logged in. Use /login <username> <password>.")
		return
	}
	if err != nil {
		a.logger.Warn("failed to read saved credential", "error", err)
		return
	}

	if err := a.ctrl.SetCredential(cred); err != nil {
		return
	}
	a.term.info(fmt.Sprintf("Logged in as %s", a.ctrl.Username()))
	a.refreshGroups(ctx)

	last, err := a.store.GetLastConversation(ctx)
	if err != nil {
		return
	}
	a.join(ctx, last)
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
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	// Logs go to stderr so they can be redirected away from the chat output.
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
