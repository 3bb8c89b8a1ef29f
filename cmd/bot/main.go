// Package main provides the bot entry point.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/primebot/primebot/internal/app/filter"
	"github.com/primebot/primebot/internal/app/jukebox"
	"github.com/primebot/primebot/internal/app/queue"
	"github.com/primebot/primebot/internal/bot"
	"github.com/primebot/primebot/internal/infra/config"
	"github.com/primebot/primebot/internal/infra/logger"
	"github.com/primebot/primebot/internal/infra/monitor"
	"github.com/primebot/primebot/internal/infra/resolver"
)

var (
	app        = kingpin.New("primebot", "Discord music bot")
	configPath = app.Flag("config", "Path to config file").Default("config/bot.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	app.Command("start", "Start the bot (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Bot error: %v", err)
		os.Exit(1)
	}
}

// run executes the main bot logic. Using a separate function ensures defer
// statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	mon := monitor.New()

	registry := queue.NewRegistry(queue.Config{
		RetryBackoff: cfg.Playback.RetryBackoff(),
		StallAfter:   cfg.Playback.StallAfter,
		Volume:       cfg.Playback.Volume,
		IdleTimeout:  cfg.Playback.IdleTimeout(),
	}, mon)

	res := resolver.New(resolver.Config{
		SearchPrefix: cfg.Resolver.SearchPrefix,
		Timeout:      cfg.Resolver.Timeout(),
		PerSecond:    cfg.Resolver.PerSecond,
	})

	svc, err := jukebox.New(registry, res, cfg.EnabledFilterSettings())
	if err != nil {
		return fmt.Errorf("failed to create jukebox service: %w", err)
	}
	defer svc.Close()

	b, err := bot.New(cfg, svc, mon)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	if err := b.Start(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	zlog.Info().Msg("Bot is running. Press Ctrl+C to exit.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	zlog.Info().Msg("Received shutdown signal...")

	if err := b.Stop(); err != nil {
		zlog.Error().Msgf("Failed to close gateway: %v", err)
	}
	zlog.Info().Msg("Bot stopped")
	return nil
}

// printFilters prints available filters.
func printFilters() {
	registered := filter.GetRegistered()
	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available filters:")
	for _, name := range names {
		f := registered[name]()
		fmt.Printf("  %s - %s (codes: %v)\n", name, f.Description(), f.ReturnCodes())
	}
}
