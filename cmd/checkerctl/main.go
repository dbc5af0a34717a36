// Command checkerctl runs maintenance jobs against the checker database and caches.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"go.uber.org/zap"

	"capacity-checker/config"
	"capacity-checker/internal/app"
	"capacity-checker/internal/observability"
)

type command struct {
	usage string
	run   func(ctx context.Context, a *app.App, out io.Writer, args []string) error
}

var commands = map[string]command{
	"crawl":                    {"[--batch-size N] [--limit N] [--offset N] [--cmu ID]", runCrawl},
	"build-company-index":      {"", runBuildCompanyIndex},
	"build-map-cache":          {"[--clear]", runBuildMapCache},
	"update-postcode-mappings": {"[--min-components N] [--test-location NAME] [--force-rebuild]", runUpdatePostcodeMappings},
	"resolve-area":             {"<area>", runResolveArea},
	"populate-location-fields": {"[--batch-size N]", runPopulateLocationFields},
	"geocode-components":       {"[--limit N] [--force] [--batch-size N]", runGeocodeComponents},
	"detect-duplicates":        {"[--match-level exact|standard|relaxed] [--cmu ID] [--company NAME] [--clean] [--dry-run]", runDetectDuplicates},
	"export":                   {"--company NAME --output FILE.xlsx", runExport},
	"cache-status":             {"", runCacheStatus},
	"clear-cache":              {"[--pattern GLOB]", runClearCache},
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: checkerctl <command> [flags]")
	fmt.Fprintln(w)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-26s %s\n", name, commands[name].usage)
	}
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}

	logger, err := observability.NewLogger(cfg.Log.Level, "console", "checkerctl")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	a, err := app.New(cfg, logger, observability.NewMetrics())
	if err != nil {
		logger.Fatal("failed to initialize services", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = cmd.run(ctx, a, os.Stdout, os.Args[2:])
	stop()
	a.Close()
	if err != nil {
		logger.Error("command failed", zap.String("command", os.Args[1]), zap.Error(err))
		os.Exit(1)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}
