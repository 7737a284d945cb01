package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sharesync/sharesync/internal/logger"
	"github.com/sharesync/sharesync/pkg/config"
	"github.com/sharesync/sharesync/pkg/server"
)

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const usage = `ShareSync - Hybrid file exchange service

Usage:
  sharesync <command> [flags]

Commands:
  init     Initialize a sample configuration file
  start    Start the ShareSync server
  version  Show version information

Flags:
  --config string    Path to config file (default: $XDG_CONFIG_HOME/sharesync/config.yaml)
  --force            Force overwrite existing config file (init command only)

Examples:
  # Initialize config file
  sharesync init

  # Start server with default config location
  sharesync start

  # Start server with custom config
  sharesync start --config /etc/sharesync/config.yaml

  # Use environment variables to override config
  SHARESYNC_LOGGING_LEVEL=DEBUG sharesync start

Environment Variables:
  All configuration options can be overridden using environment variables.
  Format: SHARESYNC_<SECTION>_<KEY> (use underscores for nested keys)

  Examples:
    SHARESYNC_LOGGING_LEVEL=DEBUG
    SHARESYNC_SERVER_PORT=9090
    SHARESYNC_STORAGE_S3_BUCKET=sharesync-prod
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "init":
		runInit()
	case "start":
		runStart()
	case "help", "--help", "-h":
		fmt.Print(usage)
		os.Exit(0)
	case "version", "--version", "-v":
		fmt.Printf("sharesync %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// runInit handles the init subcommand
func runInit() {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	configFile := initFlags.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/sharesync/config.yaml)")
	force := initFlags.Bool("force", false, "Force overwrite existing config file")

	if err := initFlags.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}

	var configPath string
	var err error

	if *configFile != "" {
		err = config.InitConfigToPath(*configFile, *force)
		configPath = *configFile
	} else {
		configPath, err = config.InitConfig(*force)
	}

	if err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the server with: sharesync start")
	fmt.Printf("  3. Or specify custom config: sharesync start --config %s\n", configPath)
}

// runStart handles the start subcommand
func runStart() {
	startFlags := flag.NewFlagSet("start", flag.ExitOnError)
	configFile := startFlags.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/sharesync/config.yaml)")

	if err := startFlags.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}

	cfg, err := config.MustLoad(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Configuration loaded", "source", getConfigSource(*configFile))
	if cfg.Metrics.Enabled {
		logger.Info("Metrics enabled", "endpoint", "/metrics")
	} else {
		logger.Info("Metrics collection disabled")
	}

	srv, err := server.New(ctx, cfg, version)
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			os.Exit(1)
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			os.Exit(1)
		}
		logger.Info("Server stopped")
	}
}

// getConfigSource returns a description of where the config was loaded from
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
