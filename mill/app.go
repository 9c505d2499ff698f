package mill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docmill/docmill/classify"
	"github.com/docmill/docmill/consume"
	"github.com/docmill/docmill/fpcache"
	"github.com/docmill/docmill/ingest"
	"github.com/docmill/docmill/parsers"
	"github.com/docmill/docmill/store"
	"github.com/docmill/docmill/tenant"
	"github.com/docmill/docmill/workflow"
)

// App is the assembled pipeline. Create with New, run the daemon with
// Run, or call the one-shot operations directly.
type App struct {
	cfg *Config
	log *slog.Logger

	Store    *store.Store
	Cache    *fpcache.Cache
	Queue    *ingest.Queue
	Pipeline *consume.Pipeline

	scanner *ingest.Scanner
	pool    *ingest.Pool
}

// New opens the store and wires every component. Trigger definitions are
// validated here; a bad regex or title template fails startup rather
// than surfacing mid-consumption.
func New(cfg *Config, logger *slog.Logger) (*App, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(cfg.DBPath, cfg.MediaDir)
	if err != nil {
		return nil, fmt.Errorf("mill: open store: %w", err)
	}

	ctx := context.Background()
	backend := fpcache.NewSQLiteBackend(st.DB, "suggestions")
	if err := backend.EnsureTable(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("mill: cache backend: %w", err)
	}
	cache, err := fpcache.New(backend, fpcache.Config{
		Capacity: cfg.Cache.Capacity,
		TTL:      cfg.Cache.SnapshotTTL,
		Logger:   logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	if err := cache.Load(ctx); err != nil {
		logger.Warn("mill: cache snapshot not loaded, starting cold", "error", err)
	} else {
		logger.Info("mill: suggestion cache loaded", "entries", cache.Len())
	}

	var remote *parsers.RemoteOptions
	if cfg.RemoteOCR != nil {
		remote = &parsers.RemoteOptions{
			Endpoint: cfg.RemoteOCR.Endpoint,
			APIKey:   cfg.RemoteOCR.APIKey,
			Timeout:  cfg.RemoteOCR.Timeout,
			Language: cfg.OCRLanguage,
		}
	}
	registry, err := parsers.Builtin(parsers.Options{
		OCRLanguage: cfg.OCRLanguage,
		Remote:      remote,
		Logger:      logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	engine := workflow.NewEngine(workflow.Config{
		RegexTimeout: cfg.RegexTimeout,
		Logger:       logger,
	})
	for _, trig := range cfg.Triggers {
		if err := engine.Add(trig); err != nil {
			st.Close()
			return nil, fmt.Errorf("mill: trigger %q: %w", trig.Name, err)
		}
	}

	var classifier classify.Classifier
	if cfg.Classifier != nil {
		classifier = classify.NewRuleClassifier(cfg.Classifier.Version, cfg.Classifier.Rules)
	}

	pipeline := consume.New(registry, engine, classifier, cache, st, consume.Config{
		ParserTimeout: cfg.ParserTimeout,
		WorkRoot:      cfg.WorkRoot,
		OCRLanguage:   cfg.OCRLanguage,
		Logger:        logger,
	})

	queue := ingest.NewQueue(st.DB, ingest.QueueOptions{Logger: logger})
	if err := queue.EnsureTable(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("mill: queue: %w", err)
	}

	app := &App{
		cfg:      cfg,
		log:      logger,
		Store:    st,
		Cache:    cache,
		Queue:    queue,
		Pipeline: pipeline,
		pool: ingest.NewPool(queue, pipeline, ingest.PoolOptions{
			Workers:      cfg.Workers,
			PollInterval: cfg.PollInterval,
			Logger:       logger,
		}),
	}
	if cfg.InboxDir != "" {
		app.scanner = ingest.NewScanner(queue, ingest.ScannerOptions{
			Root:       cfg.InboxDir,
			TenantDirs: cfg.TenantDirs,
			Tenant:     cfg.Tenant,
			Interval:   cfg.ScanInterval,
			Logger:     logger,
		})
	}
	return app, nil
}

// Close persists the suggestion cache and closes the database.
func (a *App) Close() error {
	if err := a.Cache.Save(context.Background()); err != nil {
		a.log.Warn("mill: cache snapshot on close failed", "error", err)
	}
	return a.Store.Close()
}

// Run starts the scanner, the worker pool and the periodic cache
// snapshot, and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.pool.Run(ctx) })
	if a.scanner != nil {
		g.Go(func() error { return a.scanner.Run(ctx) })
	}
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Cache.SnapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := a.Cache.Save(ctx); err != nil && ctx.Err() == nil {
					a.log.Warn("mill: periodic cache snapshot failed", "error", err)
				}
			}
		}
	})
	return g.Wait()
}

// Stats aggregates pipeline, scanner and queue counters.
type Stats struct {
	Documents int               `json:"documents"`
	Queue     int               `json:"queued_tasks"`
	Pipeline  consume.Stats     `json:"pipeline"`
	Scanner   *ingest.ScanStats `json:"scanner,omitempty"`
	CacheLen  int               `json:"cache_entries"`
}

// Stats returns a point-in-time snapshot.
func (a *App) Stats(ctx context.Context) (*Stats, error) {
	ids, err := a.Store.AllDocumentIDs(ctx)
	if err != nil {
		return nil, err
	}
	queued, err := a.Queue.Len(ctx)
	if err != nil {
		return nil, err
	}
	s := &Stats{
		Documents: len(ids),
		Queue:     queued,
		Pipeline:  a.Pipeline.Stats(),
		CacheLen:  a.Cache.Len(),
	}
	if a.scanner != nil {
		sc := a.scanner.Stats()
		s.Scanner = &sc
	}
	return s, nil
}

// Search runs a tenant-scoped full-text query.
func (a *App) Search(ctx context.Context, tid tenant.ID, query string, limit int) ([]store.SearchHit, error) {
	if !tid.Valid() {
		return nil, fmt.Errorf("mill: search needs a tenant")
	}
	return a.Store.Search(ctx, tid, query, limit)
}

// Reprocess re-extracts the given documents, or every document flagged
// as needing OCR when ids is empty. Returns the number reprocessed.
func (a *App) Reprocess(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		var err error
		ids, err = a.Store.ListNeedsOCR(ctx)
		if err != nil {
			return 0, err
		}
	}
	n := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := a.Pipeline.Reprocess(ctx, id); err != nil {
			a.log.Error("mill: reprocess failed", "document", id, "error", err)
			continue
		}
		n++
	}
	return n, nil
}
