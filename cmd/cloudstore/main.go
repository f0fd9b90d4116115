package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/marmos91/cloudstore/internal/logger"
	"github.com/marmos91/cloudstore/pkg/auth"
	"github.com/marmos91/cloudstore/pkg/config"
	"github.com/marmos91/cloudstore/pkg/server"
	"github.com/marmos91/cloudstore/pkg/storage"
)

const usage = `cloudstore - tagged file storage over HTTP

Usage:
  cloudstore <command> [flags]

Commands:
  start      Start the server
  init       Write a sample configuration file
  hash-key   Print the bcrypt hash of an API key for auth.api_key_hash

Run 'cloudstore <command> -h' for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "start":
		err = runStart(os.Args[2:])
	case "init":
		err = runInit(os.Args[2:])
	case "hash-key":
		err = runHashKey(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runStart(args []string) error {
	flags := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := flags.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/cloudstore/config.yaml)")
	envFile := flags.String("env-file", ".env", "Optional dotenv file loaded before the configuration")
	_ = flags.Parse(args)

	if err := loadEnvFile(*envFile); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("cloudstore starting")
	logger.Info("Log level set to: %s", cfg.Logging.Level)
	logger.Info("Storage root: %s (index %s)", cfg.Storage.Root, cfg.Storage.IndexFile)

	metricsResult := config.InitializeMetrics(cfg)
	if metricsResult.Server != nil {
		logger.Info("Metrics enabled on port %d", cfg.Metrics.Port)
	}

	store, err := config.CreateStore(ctx, &cfg.Storage, metricsResult)
	if err != nil {
		return err
	}

	authn, err := config.CreateAuthenticator(&cfg.Auth)
	if err != nil {
		return err
	}
	if authn.Enabled() {
		logger.Info("Authentication enabled (tokens: %t)", authn.TokensEnabled())
	} else {
		logger.Warn("Authentication disabled: every client has full access")
	}

	srv := server.New(cfg.Server.ShutdownTimeout)
	for _, a := range config.CreateAdapters(cfg, store.Coordinator, authn, metricsResult) {
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
	}
	srv.AddTask(storage.NewReconciler(store.Coordinator, cfg.Storage.StoragePolicy().ReconcileInterval))

	logger.Info("Server is running. Press Ctrl+C to stop.")
	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("Server stopped gracefully")
	return nil
}

func runInit(args []string) error {
	flags := flag.NewFlagSet("init", flag.ExitOnError)
	path := flags.String("config", "", "Where to write the file (default: $XDG_CONFIG_HOME/cloudstore/config.yaml)")
	force := flags.Bool("force", false, "Overwrite an existing file")
	_ = flags.Parse(args)

	written := *path
	if written == "" {
		var err error
		if written, err = config.InitConfig(*force); err != nil {
			return err
		}
	} else if err := config.InitConfigToPath(written, *force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", written)
	return nil
}

func runHashKey(args []string) error {
	flags := flag.NewFlagSet("hash-key", flag.ExitOnError)
	key := flags.String("key", "", "API key to hash (read from stdin when '-'; generated when empty)")
	_ = flags.Parse(args)

	apiKey := *key
	switch apiKey {
	case "-":
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read key from stdin: %w", err)
		}
		apiKey = strings.TrimSpace(line)
	case "":
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		apiKey = hex.EncodeToString(buf)
		fmt.Printf("api key:      %s\n", apiKey)
	}

	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		return err
	}
	fmt.Printf("api_key_hash: %s\n", hash)
	return nil
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
