// Command docmill is the document consumption daemon.
//
// Usage:
//
//	docmill -config docmill.yaml                 # daemon: scan, consume, classify
//	docmill -db docmill.db -media ./media        # daemon with flag config
//	docmill -config c.yaml -search "invoice" -tenant acme
//	docmill -config c.yaml -stats                # counters and exit
//	docmill -config c.yaml -reindex              # rebuild the search index
//	docmill -config c.yaml -sanity               # verify stored artifacts
//	docmill -config c.yaml -reocr id1,id2        # re-extract documents
//	docmill -config c.yaml -suggest-index        # warm the suggestion cache
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/docmill/docmill/mill"
	"github.com/docmill/docmill/tenant"
)

func main() {
	configPath := flag.String("config", "", "path to docmill.yaml config file")
	dbPath := flag.String("db", "", "path to SQLite database")
	mediaDir := flag.String("media", "", "document artifact directory")
	inboxDir := flag.String("inbox", "", "directory to scan for new files")
	tenantID := flag.String("tenant", "", "tenant for -inbox and -search")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")

	searchQuery := flag.String("search", "", "search query (exit after results)")
	limit := flag.Int("limit", 20, "max search results")
	showStats := flag.Bool("stats", false, "show counters and exit")
	reindex := flag.Bool("reindex", false, "rebuild the full-text index and exit")
	optimize := flag.Bool("optimize", false, "merge full-text index segments and exit")
	sanity := flag.Bool("sanity", false, "verify stored artifacts and exit")
	invalidate := flag.Bool("invalidate-cache", false, "drop all cached suggestions and exit")
	suggestIdx := flag.Bool("suggest-index", false, "rebuild the suggestion cache and exit")
	reocr := flag.String("reocr", "", "comma-separated document ids to re-extract; \"auto\" picks documents needing OCR")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := resolveConfig(*configPath, *dbPath, *mediaDir, *inboxDir, *tenantID)
	if err != nil {
		logger.Error("docmill: config", "error", err)
		os.Exit(1)
	}
	if err := run(ctx, logger, cfg, options{
		tenant:     tenant.ID(*tenantID),
		search:     *searchQuery,
		limit:      *limit,
		stats:      *showStats,
		reindex:    *reindex,
		optimize:   *optimize,
		sanity:     *sanity,
		invalidate: *invalidate,
		suggestIdx: *suggestIdx,
		reocr:      *reocr,
	}); err != nil {
		logger.Error("docmill: fatal", "error", err)
		os.Exit(1)
	}
}

type options struct {
	tenant     tenant.ID
	search     string
	limit      int
	stats      bool
	reindex    bool
	optimize   bool
	sanity     bool
	invalidate bool
	suggestIdx bool
	reocr      string
}

func run(ctx context.Context, logger *slog.Logger, cfg *mill.Config, opts options) error {
	app, err := mill.New(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")

	switch {
	case opts.search != "":
		hits, err := app.Search(ctx, opts.tenant, opts.search, opts.limit)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		return out.Encode(hits)

	case opts.stats:
		stats, err := app.Stats(ctx)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		return out.Encode(stats)

	case opts.reindex:
		n, err := app.Store.Reindex(ctx)
		if err != nil {
			return err
		}
		logger.Info("docmill: reindexed", "documents", n)
		return nil

	case opts.optimize:
		return app.Store.Optimize(ctx)

	case opts.sanity:
		issues, err := app.Store.Sanity(ctx)
		if err != nil {
			return err
		}
		if len(issues) == 0 {
			logger.Info("docmill: sanity clean")
			return nil
		}
		for _, issue := range issues {
			fmt.Fprintln(os.Stdout, issue)
		}
		return fmt.Errorf("sanity: %d issues", len(issues))

	case opts.invalidate:
		n, err := app.Cache.Invalidate(ctx)
		if err != nil {
			return err
		}
		logger.Info("docmill: suggestion cache invalidated", "backend_rows", n)
		return nil

	case opts.suggestIdx:
		n, err := app.Pipeline.RebuildSuggestionIndex(ctx)
		if err != nil {
			return err
		}
		logger.Info("docmill: suggestion index rebuilt", "documents", n)
		return nil

	case opts.reocr != "":
		var ids []string
		if opts.reocr != "auto" {
			for _, id := range strings.Split(opts.reocr, ",") {
				if id = strings.TrimSpace(id); id != "" {
					ids = append(ids, id)
				}
			}
		}
		n, err := app.Reprocess(ctx, ids)
		if err != nil {
			return err
		}
		logger.Info("docmill: reprocessed", "documents", n)
		return nil
	}

	// Daemon mode.
	logger.Info("docmill: running", "db", cfg.DBPath, "inbox", cfg.InboxDir)
	return app.Run(ctx)
}

func resolveConfig(configPath, dbPath, mediaDir, inboxDir, tenantID string) (*mill.Config, error) {
	if configPath != "" {
		return mill.LoadConfigFile(configPath)
	}
	cfg := &mill.Config{
		DBPath:   dbPath,
		MediaDir: mediaDir,
		InboxDir: inboxDir,
		Tenant:   tenant.ID(tenantID),
	}
	if cfg.DBPath == "" || cfg.MediaDir == "" {
		return nil, fmt.Errorf("usage: docmill -config <file> | -db <path> -media <dir> [-inbox <dir> -tenant <id>]")
	}
	return cfg, nil
}
