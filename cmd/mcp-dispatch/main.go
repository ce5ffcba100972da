// ABOUTME: Entry point for the mcp-dispatch service
// ABOUTME: Subcommands serve, health, agents and version

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/mcp-dispatch/internal/builtins"
	"github.com/2389/mcp-dispatch/internal/config"
	"github.com/2389/mcp-dispatch/internal/gateway"
	"github.com/2389/mcp-dispatch/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                  _ _                 _       _
  _ __ ___   ___ _ __         __| (_)___ _ __   __ _| |_ ___| |__
 | '_ ' _ \ / __| '_ \ _____ / _' | / __| '_ \ / _' | __/ __| '_ \
 | | | | | | (__| |_) |_____| (_| | \__ \ |_) | (_| | || (__| | | |
 |_| |_| |_|\___| .__/       \__,_|_|___/ .__/ \__,_|\__\___|_| |_|
                |_|                     |_|
`

// getConfigPath returns the config file to load, or "" to run on defaults.
// Priority: -config flag > MCP_CONFIG env var > XDG_CONFIG_HOME/mcp-dispatch/config.yaml
// > ~/.config/mcp-dispatch/config.yaml. Only an explicit path must exist.
func getConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if envPath := os.Getenv("MCP_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	path := filepath.Join(configDir, "mcp-dispatch", "config.yaml")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return ""
	}
	return path
}

func usage() {
	fmt.Println("Usage: mcp-dispatch <command> [-config path]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start the dispatch service")
	fmt.Println("  health    Check service health")
	fmt.Println("  agents    List registered agents")
	fmt.Println("  version   Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	fset := flag.NewFlagSet(cmd, flag.ExitOnError)
	configFlag := fset.String("config", "", "path to config file")
	_ = fset.Parse(os.Args[2:])

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx, getConfigPath(*configFlag))
	case "health":
		err = runHealth(ctx, getConfigPath(*configFlag))
	case "agents":
		err = runAgents(ctx, getConfigPath(*configFlag))
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, configPath string) error {
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

	printStartup(cfg, configPath)

	logger.Info("starting mcp-dispatch",
		"config", configPath,
		"addr", cfg.Server.Addr(),
		"prefix", cfg.Server.Prefix,
		"mode", cfg.Server.Mode,
	)

	publisher, closePublisher, err := setupPublisher(cfg.Events, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	svc, err := gateway.New(cfg, logger, gateway.WithPublisher(publisher))
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	if cfg.Builtins.Notes {
		noteStore, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("opening notes store: %w", err)
		}
		defer noteStore.Close()

		notes := builtins.NewNotes(noteStore, cfg.Auth.JWTSecret != "")
		if err := svc.RegisterAgent(ctx, builtins.NotesAgentName, notes); err != nil {
			return err
		}
	}

	return svc.Run(ctx)
}

func printStartup(cfg *config.Config, configPath string) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	if configPath == "" {
		configPath = "(defaults)"
	}

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s%s\n", cfg.Server.Addr(), cfg.Server.Prefix)
	green.Print("    ▶ ")
	fmt.Printf("WebSocket: %s%s/ws\n", cfg.Server.Addr(), cfg.Server.Prefix)
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Print("    ▶ ")
		fmt.Println("Auth:      disabled")
	}
	if cfg.Server.Development() {
		yellow.Print("    ▶ ")
		fmt.Println("Mode:      development (stack traces exposed)")
	}
	fmt.Println()
}

// localURL builds a URL for a path on the configured listener, dialing
// loopback when the service binds every interface.
func localURL(cfg *config.Config, path string) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port)) + path
}

func fetchHealth(ctx context.Context, configPath string) (*gateway.HealthResponse, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, localURL(cfg, "/health"), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	var health gateway.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decoding health response: %w", err)
	}
	return &health, nil
}

func runHealth(ctx context.Context, configPath string) error {
	health, err := fetchHealth(ctx, configPath)
	if err != nil {
		return err
	}
	fmt.Printf("healthy (%d agents)\n", len(health.Agents))
	return nil
}

func runAgents(ctx context.Context, configPath string) error {
	health, err := fetchHealth(ctx, configPath)
	if err != nil {
		return err
	}
	if len(health.Agents) == 0 {
		fmt.Println("no agents registered")
		return nil
	}
	fmt.Println(strings.Join(health.Agents, "\n"))
	return nil
}
