// Fitsync is a bot that follows users on a fitness-tracking site, mirrors
// their workout histories into a local SQLite database and congratulates them
// on new achievements.
//
// Usage:
//
//	fitsync daemon [--config <path>] [--verbose]     # poll every user forever
//	fitsync sync-once [--config <path>] [--verbose]  # single pass then exit
//	fitsync status [--config <path>]                 # show config & DB state
//	fitsync version                                  # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/njoerd114/fitsync/internal/achieve"
	"github.com/njoerd114/fitsync/internal/config"
	"github.com/njoerd114/fitsync/internal/grouping"
	"github.com/njoerd114/fitsync/internal/model"
	"github.com/njoerd114/fitsync/internal/remote"
	"github.com/njoerd114/fitsync/internal/state"
	syncp "github.com/njoerd114/fitsync/internal/sync"
	"github.com/njoerd114/fitsync/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the requested subcommand.
func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	switch args[0] {
	case "daemon":
		return runSync(args[1:], true)
	case "sync-once":
		return runSync(args[1:], false)
	case "status":
		return runStatus(args[1:])
	case "version":
		fmt.Println("fitsync", version)
		return nil
	case "help", "-h", "--help":
		printUsage()
		return nil
	}
	return fmt.Errorf("unknown command %q, run 'fitsync help' for usage", args[0])
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "fitsync: mirror workout histories and cheer on achievements")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  fitsync daemon [--config ...]      Poll all users continuously")
	fmt.Fprintln(os.Stderr, "  fitsync sync-once [--config ...]   Single sync pass then exit")
	fmt.Fprintln(os.Stderr, "  fitsync status [--config ...]      Show config & state DB")
	fmt.Fprintln(os.Stderr, "  fitsync version                    Print version")
}

// --- Subcommands -------------------------------------------------------------

// runSync handles both "daemon" and "sync-once".
func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	dryRun := fs.Bool("dry-run", false, "log comments and props instead of posting them")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return startSync(*cfgPath, *verbose, *dryRun, daemon)
}

// runStatus prints the configuration and what the state DB currently holds.
func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Println("Fitsync Status")
	fmt.Println("──────────────")

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Printf("  Config:    %s (%v)\n", *cfgPath, err)
		return nil
	}
	fmt.Printf("  Config:    %s ✓\n", *cfgPath)
	fmt.Printf("  Site:      %s\n", cfg.SiteURL)
	fmt.Printf("  Poll:      %s\n", cfg.PollInterval)
	if len(cfg.Users) > 0 {
		fmt.Printf("  Users:     %d configured\n", len(cfg.Users))
	} else {
		fmt.Println("  Users:     followers of the bot account")
	}
	if cfg.DryRun {
		fmt.Println("  Mode:      dry run")
	}

	dbPath, err := resolveDBPath(cfg)
	if err != nil {
		return err
	}
	info, err := os.Stat(dbPath)
	if err != nil {
		fmt.Println("  State DB:  not found")
		return nil
	}
	fmt.Printf("  State DB:  %s (%s)\n", dbPath, humanSize(info.Size()))

	store, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening state DB at %q: %w", dbPath, err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	users, err := store.ListUsers(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("  Tracked:   %d user(s)\n", len(users))
	now := time.Now()
	for _, u := range users {
		n, err := store.CountWorkoutsUpTo(ctx, u.ID, now)
		if err != nil {
			return err
		}
		fmt.Printf("    %-20s %6d workout(s), since %s\n", u.Username, n, u.InsertedAt.Format("2006-01-02"))
	}
	return nil
}

// --- Sync core ---------------------------------------------------------------

// startSync is the shared implementation for daemon and sync-once modes.
func startSync(cfgPath string, verbose, dryRun, daemon bool) error {
	// --- Logger --------------------------------------------------------------

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	if dryRun {
		cfg.DryRun = true
	}
	logger.Info("config loaded",
		"site_url", cfg.SiteURL,
		"poll_interval", cfg.PollInterval,
		"concurrency", cfg.Concurrency,
		"dry_run", cfg.DryRun,
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			Insecure:       cfg.Telemetry.Insecure,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			Headers:        cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- State DB ------------------------------------------------------------

	dbPath, err := resolveDBPath(cfg)
	if err != nil {
		return err
	}
	store, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening state DB at %q: %w", dbPath, err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("closing state DB", "error", closeErr)
		}
	}()
	logger.Info("state DB opened", "path", dbPath)

	// --- Activity groups (optional) ------------------------------------------

	var groups syncp.GroupResolver
	if cfg.GroupsFile != "" {
		rules, err := grouping.Load(cfg.GroupsFile, logger)
		if err != nil {
			return fmt.Errorf("loading activity groups: %w", err)
		}
		logger.Info("activity groups loaded", "path", cfg.GroupsFile, "rules", rules.Len())
		groups = rules
	}

	// --- Site client ---------------------------------------------------------

	opts := remote.Options{
		SiteURL:         cfg.SiteURL,
		SessionCookie:   cfg.SessionCookie,
		RequestInterval: cfg.RequestInterval,
	}
	if cfg.Cache != nil {
		cache, err := remote.OpenBadgerCache(cfg.Cache.Dir, cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("opening response cache: %w", err)
		}
		defer func() {
			if closeErr := cache.Close(); closeErr != nil {
				logger.Error("closing response cache", "error", closeErr)
			}
		}()
		opts.Cache = cache
		logger.Info("response cache enabled", "dir", cfg.Cache.Dir, "ttl", cfg.Cache.TTL)
	}
	client, err := remote.NewClient(opts, logger)
	if err != nil {
		return fmt.Errorf("initialising site client: %w", err)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger.Info("checking site session…", "url", cfg.SiteURL)
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to %q: %w\n\nCheck site_url and session_cookie in your config file", cfg.SiteURL, err)
	}

	var users syncp.UserSource = client
	if len(cfg.Users) > 0 {
		static := make(remote.StaticUsers, 0, len(cfg.Users))
		for _, u := range cfg.Users {
			static = append(static, model.User{ID: u.ID, Username: u.Username})
		}
		users = static
	}

	var poster syncp.Poster = client
	if cfg.DryRun {
		poster = remote.DryRunPoster{Log: logger}
	}

	// --- Sync engine ---------------------------------------------------------

	calc := achieve.NewCalculator(store, achieve.Options{
		MilestoneEvery: cfg.MilestoneEvery,
		TopPercent:     cfg.TopPercent,
	})
	synchronizer := syncp.NewSynchronizer(client, store, groups, cfg.UnresolvedGrace, logger)
	processor := syncp.NewProcessor(calc, poster, store, cfg.DryRun, logger)
	engine := syncp.NewEngine(users, store, synchronizer, processor, cfg.Concurrency, cfg.PollInterval, logger)

	// --- Dispatch mode -------------------------------------------------------

	if !daemon {
		logger.Info("running single sync pass")
		_, err := engine.RunOnce(ctx)
		return err
	}

	logger.Info("daemon starting", "poll_interval", cfg.PollInterval)
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync engine: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func resolveDBPath(cfg *config.Config) (string, error) {
	if cfg.DBPath != "" {
		return cfg.DBPath, nil
	}
	p, err := state.DefaultDBPath()
	if err != nil {
		return "", fmt.Errorf("resolving state DB path: %w", err)
	}
	return p, nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
