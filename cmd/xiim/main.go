// Package main implements the XIIM image variation service.
//
// The daemon serves the generate API; the remaining commands run a single
// request, inspect the fingerprint registry or list request logs from the
// shell.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xivix/xiim"
	"github.com/xivix/xiim/api"
	"github.com/xivix/xiim/safeguards"
	"github.com/xivix/xiim/samples"
	"github.com/xivix/xiim/seed"
)

var version = "dev"

var (
	// Global logger
	log = logrus.New()

	// Command flags
	serveCmd     = flag.NewFlagSet("serve", flag.ExitOnError)
	generateCmd  = flag.NewFlagSet("generate", flag.ExitOnError)
	checkRegCmd  = flag.NewFlagSet("check-registry", flag.ExitOnError)
	listReqsCmd  = flag.NewFlagSet("list-requests", flag.ExitOnError)
	companiesCmd = flag.NewFlagSet("companies", flag.ExitOnError)
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	config, err := loadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	switch os.Args[1] {
	case "serve":
		parseServeFlags(&config, serveCmd, os.Args[2:])
		if err := runServe(config); err != nil {
			log.WithError(err).Fatal("server failed")
		}
	case "generate":
		parseGenerateFlags(&config, generateCmd, os.Args[2:])
		if err := runGenerate(config); err != nil {
			log.WithError(err).Fatal("generate failed")
		}
	case "check-registry":
		var sourceHash, file, variantSeed string
		parseCheckRegistryFlags(&config, checkRegCmd, os.Args[2:], &sourceHash, &file, &variantSeed)
		if err := runCheckRegistry(config, sourceHash, file, variantSeed); err != nil {
			log.WithError(err).Fatal("registry check failed")
		}
	case "list-requests":
		parseListRequestsFlags(&config, listReqsCmd, os.Args[2:])
		if err := runListRequests(config); err != nil {
			log.WithError(err).Fatal("failed to list requests")
		}
	case "companies":
		companiesCmd.Parse(os.Args[2:])
		runCompanies()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("XIIM - insurance document image variation service")
	fmt.Println()
	fmt.Println("Usage: xiim <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve            Run the HTTP API")
	fmt.Println("  generate         Run one generate request and print the result")
	fmt.Println("  check-registry   Check whether a source/seed pair is registered")
	fmt.Println("  list-requests    List recent request logs")
	fmt.Println("  companies        List the insurer sample catalog")
	fmt.Println()
	fmt.Println("Secrets are read from the environment or .env (XIIM_ENV_FILE).")
	fmt.Println("Run 'xiim <command> --help' for more information on a command.")
}

func addStorageFlags(cfg *Config, fs *flag.FlagSet) {
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Database path")
	fs.StringVar(&cfg.Registry, "registry", cfg.Registry, "Fingerprint registry backend (sqlite, memory, redis)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for --registry=redis")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
}

func addPipelineFlags(cfg *Config, fs *flag.FlagSet) {
	addStorageFlags(cfg, fs)
	fs.StringVar(&cfg.SampleBucket, "sample-bucket", cfg.SampleBucket, "R2 bucket holding insurer samples")
	fs.StringVar(&cfg.RawBucket, "raw-bucket", cfg.RawBucket, "R2 bucket for raw source archives (disabled when empty)")
	fs.StringVar(&cfg.ClassifierCache, "classifier-cache", cfg.ClassifierCache, "Classifier cache file (disabled when empty)")
	fs.DurationVar(&cfg.ClassifyTimeout, "classify-timeout", cfg.ClassifyTimeout, "Zone classification timeout")
	fs.StringVar(&cfg.StyleOptions, "mask-styles", cfg.StyleOptions, "Masking treatments, e.g. blur:500-999,pixelate:10-29")
}

// parseServeFlags parses flags for the serve command.
func parseServeFlags(cfg *Config, fs *flag.FlagSet, args []string) {
	addPipelineFlags(cfg, fs)
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	fs.IntVar(&cfg.MaxConcurrent, "max-concurrent", cfg.MaxConcurrent, "Maximum concurrent generate requests")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Generate request timeout")
	fs.Parse(args)
}

// parseGenerateFlags parses flags for the generate command.
func parseGenerateFlags(cfg *Config, fs *flag.FlagSet, args []string) {
	addPipelineFlags(cfg, fs)
	fs.StringVar(&cfg.Keyword, "keyword", "", "Search keyword (required)")
	fs.StringVar(&cfg.Company, "company", "", "Insurer code, e.g. SAMSUNG_LIFE (required)")
	fs.StringVar(&cfg.UserID, "user", "", "User id (required)")
	fs.StringVar(&cfg.SourceURL, "source-url", "", "Source image URL (catalog sample when empty)")
	fs.IntVar(&cfg.Variations, "variations", cfg.Variations, "Number of variants")
	fs.BoolVar(&cfg.WithTitle, "title", false, "Add the keyword title overlay")
	fs.Parse(args)

	if cfg.Keyword == "" || cfg.Company == "" || cfg.UserID == "" {
		fmt.Println("Error: --keyword, --company and --user are required")
		fs.Usage()
		os.Exit(1)
	}
}

// parseCheckRegistryFlags parses flags for the check-registry command.
func parseCheckRegistryFlags(cfg *Config, fs *flag.FlagSet, args []string, sourceHash, file, variantSeed *string) {
	addStorageFlags(cfg, fs)
	fs.StringVar(sourceHash, "source-hash", "", "Source image SHA-256 hex")
	fs.StringVar(file, "file", "", "Source image file (hashed when --source-hash is empty)")
	fs.StringVar(variantSeed, "seed", "", "Variant seed (required)")
	fs.Parse(args)

	if *variantSeed == "" || (*sourceHash == "" && *file == "") {
		fmt.Println("Error: --seed and one of --source-hash or --file are required")
		fs.Usage()
		os.Exit(1)
	}
}

// parseListRequestsFlags parses flags for the list-requests command.
func parseListRequestsFlags(cfg *Config, fs *flag.FlagSet, args []string) {
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Database path")
	fs.StringVar(&cfg.Status, "status", "", "Filter by status (pending, completed, failed)")
	fs.IntVar(&cfg.Limit, "limit", cfg.Limit, "Maximum rows")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	fs.Parse(args)
}

// setupLogger configures the global logger.
func setupLogger(level string) error {
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(lvl)

	return nil
}

// runServe runs the HTTP API until SIGINT or SIGTERM.
func runServe(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := initializeDependencies(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	guard := safeguards.NewOperationGuard(safeguards.GuardConfig{
		MaxConcurrent: cfg.MaxConcurrent,
		Logger:        log,
	})

	apiCfg := api.DefaultConfig()
	apiCfg.Version = version
	apiCfg.RequestTimeout = cfg.RequestTimeout
	server := api.New(apiCfg, deps.Pipeline, deps.DB, guard, deps.Health, deps.Metrics.Handler(), log)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":     cfg.ListenAddr,
			"registry": cfg.Registry,
			"version":  version,
		}).Info("api server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig).Info("received shutdown signal")
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.RequestTimeout+5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown incomplete")
	}

	log.Info("shutdown complete")
	return nil
}

// runGenerate runs one request through the pipeline and prints the result.
func runGenerate(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	deps, err := initializeDependencies(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	result, err := deps.Pipeline.Run(ctx, xiim.GenerateRequest{
		Keyword:        cfg.Keyword,
		TargetCompany:  cfg.Company,
		UserID:         cfg.UserID,
		SourceURL:      cfg.SourceURL,
		VariationCount: cfg.Variations,
		WithTitle:      cfg.WithTitle,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// checkSeed rejects strings that cannot be a variant seed.
func checkSeed(s string) error {
	if !seed.Valid(s) {
		return fmt.Errorf("invalid seed %q: want %s followed by %d lowercase hex digits", s, seed.Prefix, seed.HexLength)
	}
	return nil
}

// runCheckRegistry reports whether a (source, seed) pair is registered.
func runCheckRegistry(cfg Config, sourceHash, file, variantSeed string) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}
	if err := checkSeed(variantSeed); err != nil {
		return err
	}

	ctx := context.Background()

	if sourceHash == "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read source file: %w", err)
		}
		sourceHash = xiim.SourceHash(data)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg, rdb, err := openRegistry(ctx, cfg, db, nil)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	dup := reg.CheckDuplicate(ctx, sourceHash, variantSeed)

	fmt.Printf("Source Hash:   %s\n", sourceHash)
	fmt.Printf("Variant Seed:  %s\n", variantSeed)
	fmt.Printf("Fingerprint:   %s\n", xiim.Fingerprint(sourceHash, variantSeed))
	fmt.Printf("Backend:       %s\n", cfg.Registry)
	if dup.IsDuplicate {
		fmt.Printf("Registered:    yes (request %s)\n", dup.ExistingID)
	} else {
		fmt.Printf("Registered:    no\n")
	}
	if cfg.Registry == RegistrySQLite {
		n, err := db.CountFingerprints(ctx)
		if err != nil {
			return fmt.Errorf("failed to count fingerprints: %w", err)
		}
		fmt.Printf("Total Entries: %d\n", n)
	}
	return nil
}

// runListRequests lists recent request logs.
func runListRequests(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	ctx := context.Background()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	logs, err := db.ListImageLogs(ctx, cfg.Status, cfg.Limit)
	if err != nil {
		return fmt.Errorf("failed to list requests: %w", err)
	}

	fmt.Printf("Found %d requests:\n\n", len(logs))
	for _, l := range logs {
		fmt.Printf("Request ID:       %s\n", l.RequestID)
		fmt.Printf("  User:           %s\n", l.UserID)
		fmt.Printf("  Company:        %s\n", l.TargetCompany)
		fmt.Printf("  Keyword:        %s\n", l.Keyword)
		fmt.Printf("  Status:         %s\n", l.Status)
		if l.FinalURL != "" {
			fmt.Printf("  Final URL:      %s\n", l.FinalURL)
		}
		if l.ErrorMessage != "" {
			fmt.Printf("  Error:          %s: %s\n", l.ErrorStep, l.ErrorMessage)
		}
		fmt.Printf("  Duration:       %dms\n", l.ProcessingTimeMS)
		fmt.Printf("  Created At:     %s\n", l.CreatedAt.Format(time.RFC3339))
		fmt.Println()
	}

	return nil
}

// runCompanies prints the built-in insurer catalog.
func runCompanies() {
	cat := samples.Default()
	fmt.Printf("Found %d insurers:\n\n", cat.Len())
	for _, c := range cat.Companies() {
		fmt.Printf("%-16s %-10s %-14s %d sample(s)\n", c.Code, c.Category, c.NameKo, len(c.Samples))
	}
}
