package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/docmill/docmill/consume"
	"github.com/docmill/docmill/tenant"
)

// ScannerOptions configures the folder scanner.
type ScannerOptions struct {
	// Root is the watched directory.
	Root string

	// TenantDirs makes the first-level subdirectories tenant ids, the
	// usual layout for a shared inbox: <root>/<tenant>/file.pdf. Files
	// directly under Root are ignored in this mode.
	TenantDirs bool

	// Tenant is the owner of every file when TenantDirs is false.
	Tenant tenant.ID

	// Interval is the polling frequency. Default: 5s.
	Interval time.Duration

	Logger *slog.Logger
}

func (o *ScannerOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type fileState struct {
	size     int64
	mtime    time.Time
	enqueued bool
}

// ScanStats are point-in-time scanner counters.
type ScanStats struct {
	Scans    int64 `json:"scans"`
	Enqueued int64 `json:"enqueued"`
	Errors   int64 `json:"errors"`
}

// Scanner polls a directory and enqueues files that have settled: a file
// is only handed to the queue once two consecutive scans see the same
// size and modification time, so half-written uploads are never
// consumed. Hidden files and common temp suffixes are skipped.
type Scanner struct {
	queue *Queue
	opts  ScannerOptions
	seen  map[string]*fileState

	scans    atomic.Int64
	enqueued atomic.Int64
	errs     atomic.Int64
}

// NewScanner builds a scanner feeding the given queue.
func NewScanner(queue *Queue, opts ScannerOptions) *Scanner {
	opts.defaults()
	return &Scanner{queue: queue, opts: opts, seen: make(map[string]*fileState)}
}

// Stats returns the current counters.
func (s *Scanner) Stats() ScanStats {
	return ScanStats{
		Scans:    s.scans.Load(),
		Enqueued: s.enqueued.Load(),
		Errors:   s.errs.Load(),
	}
}

// Run blocks until ctx is cancelled. Not safe for concurrent use; run
// exactly one goroutine per Scanner.
func (s *Scanner) Run(ctx context.Context) error {
	log := s.opts.Logger
	log.Info("ingest: scanner started", "root", s.opts.Root, "interval", s.opts.Interval, "tenant_dirs", s.opts.TenantDirs)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("ingest: scanner stopped")
			return nil
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

func (s *Scanner) scan(ctx context.Context) {
	s.scans.Add(1)
	alive := make(map[string]bool)

	err := filepath.WalkDir(s.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := d.Name()
		if d.IsDir() {
			if path != s.opts.Root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if ignoredFile(name) {
			return nil
		}
		tid, ok := s.tenantFor(path)
		if !ok {
			return nil
		}
		alive[path] = true
		s.observe(ctx, path, tid, d)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		s.errs.Add(1)
		s.opts.Logger.Warn("ingest: scan failed", "error", err)
	}

	for path := range s.seen {
		if !alive[path] {
			delete(s.seen, path)
		}
	}
}

func (s *Scanner) observe(ctx context.Context, path string, tid tenant.ID, d fs.DirEntry) {
	info, err := d.Info()
	if err != nil {
		if !os.IsNotExist(err) {
			s.errs.Add(1)
		}
		return
	}
	prev, ok := s.seen[path]
	if !ok || prev.size != info.Size() || !prev.mtime.Equal(info.ModTime()) {
		// New or still changing; check again next scan.
		s.seen[path] = &fileState{size: info.Size(), mtime: info.ModTime()}
		return
	}
	if prev.enqueued {
		return
	}
	id, err := s.queue.Enqueue(ctx, tid, path, consume.SourceFolder, nil)
	if err != nil {
		s.errs.Add(1)
		s.opts.Logger.Warn("ingest: enqueue failed", "file", path, "error", err)
		return
	}
	prev.enqueued = true
	s.enqueued.Add(1)
	s.opts.Logger.Info("ingest: file enqueued", "file", path, "tenant", tid, "task", id)
}

// tenantFor derives the owning tenant from the path layout.
func (s *Scanner) tenantFor(path string) (tenant.ID, bool) {
	if !s.opts.TenantDirs {
		return s.opts.Tenant, s.opts.Tenant.Valid()
	}
	rel, err := filepath.Rel(s.opts.Root, path)
	if err != nil {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		// File directly under the root has no tenant.
		return "", false
	}
	return tenant.ID(parts[0]), true
}

func ignoredFile(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") {
		return true
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".tmp", ".part", ".crdownload", ".swp":
		return true
	}
	return strings.HasSuffix(name, "~")
}
