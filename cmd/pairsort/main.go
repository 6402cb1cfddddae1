// Package main provides the pairsort CLI entry point.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/pairsort/pkg/config"
	"github.com/orneryd/pairsort/pkg/order"
	"github.com/orneryd/pairsort/pkg/server"
	"github.com/orneryd/pairsort/pkg/session"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pairsort",
		Short: "pairsort - rank anything by answering one comparison at a time",
		Long: `pairsort builds a full ranking of a list from pairwise answers
("which of these two is larger?"), asking as few questions as it can.

Features:
  • Resumable heapsort and tournament strategies
  • Every answer is kept; undo, reset and partial rankings at any time
  • Persistent storage with BadgerDB or an in-memory engine with a WAL
  • Compact shareable sort states
  • Borda / RRF merging of several finished rankings`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "pairsort.yaml", "Config file (optional)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log at the configured level instead of warn")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pairsort v%s (%s)\n", version, commit)
		},
	})

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	serveCmd.Flags().Int("port", 0, "HTTP port (overrides config)")
	serveCmd.Flags().String("address", "", "Bind address (overrides config)")
	rootCmd.AddCommand(serveCmd)

	// Init command
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file and create the data directory",
		RunE:  runInit,
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)

	// List management
	newCmd := &cobra.Command{
		Use:   "new [name] [items...]",
		Short: "Create a list to sort",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runNew,
	}
	newCmd.Flags().String("strategy", "", "Sort strategy: heap or tournament")
	newCmd.Flags().String("file", "", "Read items from a file, one per line")
	rootCmd.AddCommand(newCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "lists",
		Short: "Show all lists and their progress",
		RunE:  runLists,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "delete [list-id]",
		Short: "Delete a list and its decisions",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	})

	// Sorting
	rootCmd.AddCommand(&cobra.Command{
		Use:   "sort [list-id]",
		Short: "Answer comparisons interactively until the list is sorted",
		Args:  cobra.ExactArgs(1),
		RunE:  runSort,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "status [list-id]",
		Short: "Show the current ranking and the next comparison",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	})

	// State transfer
	exportCmd := &cobra.Command{
		Use:   "export [list-id]",
		Short: "Print a list with its encoded sort state as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	exportCmd.Flags().String("format", "compact", "State format: json or compact")
	exportCmd.Flags().StringP("output", "o", "", "Write to a file instead of stdout")
	rootCmd.AddCommand(exportCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "import [file]",
		Short: "Import a list previously written by export",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	})

	// Voting
	voteCmd := &cobra.Command{
		Use:   "vote [list-id...]",
		Short: "Merge the rankings of several lists",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runVote,
	}
	voteCmd.Flags().String("method", "borda", "Aggregation method: borda or rrf")
	rootCmd.AddCommand(voteCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the config file, env vars and the --data-dir flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFromEnvOrFile(path)
	if err != nil {
		return nil, err
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// sessionConfig maps file configuration onto the service.
func sessionConfig(cfg *config.Config, logger *slog.Logger) *session.Config {
	strategy, err := order.ParseStrategy(cfg.Sort.Strategy)
	if err != nil {
		strategy = order.StrategyHeap
	}
	return &session.Config{
		Backend:              cfg.Storage.Backend,
		SyncWrites:           cfg.Storage.SyncWrites,
		WALEnabled:           cfg.Storage.WALEnabled,
		WALSyncMode:          cfg.Storage.WALSyncMode,
		DefaultStrategy:      strategy,
		ImbalanceRatio:       cfg.Sort.ImbalanceRatio,
		MaxItems:             cfg.Sort.MaxItems,
		RejectContradictions: cfg.Sort.RejectContradictions,
		CacheSize:            cfg.Cache.Size,
		CacheTTL:             cfg.Cache.TTL,
		Logger:               logger,
	}
}

// openService loads configuration and opens the data directory. CLI
// commands log to stderr so stdout stays clean for piping.
func openService(cmd *cobra.Command) (*session.Service, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logCfg := cfg.Logging
	if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose && cmd.Name() != "serve" {
		logCfg.Level = "warn"
	}
	logger, err := config.NewLogger(logCfg, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Storage.DataDir != "" {
		if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
			return nil, nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	svc, err := session.Open(cfg.Storage.DataDir, sessionConfig(cfg, logger))
	if err != nil {
		return nil, nil, fmt.Errorf("opening data directory: %w", err)
	}
	return svc, cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	svc, cfg, err := openService(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if address, _ := cmd.Flags().GetString("address"); address != "" {
		cfg.Server.Address = address
	}

	fmt.Printf("🚀 Starting pairsort v%s\n", version)
	fmt.Printf("   Data directory:  %s\n", displayDir(cfg.Storage.DataDir))
	fmt.Printf("   Storage backend: %s (WAL: %v)\n", cfg.Storage.Backend, cfg.Storage.WALEnabled)
	fmt.Printf("   Strategy:        %s\n", cfg.Sort.Strategy)
	fmt.Println()

	logger, err := config.NewLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	serverConfig := server.DefaultConfig()
	serverConfig.Address = cfg.Server.Address
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	serverConfig.IdleTimeout = cfg.Server.IdleTimeout
	serverConfig.MaxRequestSize = cfg.Server.MaxBodyBytes
	serverConfig.EnableCORS = cfg.Server.CORSEnabled
	serverConfig.CORSOrigins = cfg.Server.CORSOrigins
	serverConfig.Logger = logger

	httpServer, err := server.New(svc, serverConfig)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	fmt.Println("✅ pairsort is ready!")
	fmt.Println()
	fmt.Println("Endpoints:")
	fmt.Printf("  • HTTP API:  http://%s\n", httpServer.Addr())
	fmt.Printf("  • Health:    http://%s/health\n", httpServer.Addr())
	fmt.Printf("  • Metrics:   http://%s/metrics\n", httpServer.Addr())
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	// Block until shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\n🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Stop(ctx); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}
	if err := svc.Snapshot(ctx); err != nil {
		fmt.Printf("⚠️  Snapshot failed: %v\n", err)
	}

	fmt.Println("👋 Goodbye!")
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	fmt.Printf("📂 Initializing pairsort in %s\n", cfg.Storage.DataDir)
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := cfg.WriteFile(path); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("✅ Wrote %s\n", path)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  pairsort new films Alien Heat Ronin")
	fmt.Println("  pairsort sort <list-id>")
	return nil
}

func displayDir(dir string) string {
	if dir == "" {
		return "(in-memory)"
	}
	return dir
}
