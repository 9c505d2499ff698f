package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docmill/docmill/consume"
	"github.com/docmill/docmill/tenant"
)

// PoolOptions configures the worker pool.
type PoolOptions struct {
	// Workers is the number of concurrent consumers. Default: 4.
	Workers int
	// PollInterval is the idle delay between claim attempts. Default: 1s.
	PollInterval time.Duration
	Logger       *slog.Logger
}

func (o *PoolOptions) defaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Pool drains the task queue through the consumption pipeline. Permanent
// failures ack the task so it never redelivers; transient failures nack
// it for a retry elsewhere.
type Pool struct {
	queue    *Queue
	pipeline *consume.Pipeline
	opts     PoolOptions
}

// NewPool wires a pool to its queue and pipeline.
func NewPool(queue *Queue, pipeline *consume.Pipeline, opts PoolOptions) *Pool {
	opts.defaults()
	return &Pool{queue: queue, pipeline: pipeline, opts: opts}
}

// Run blocks until ctx is cancelled, then returns nil. Workers drain
// greedily: after handling a task each worker immediately tries to claim
// another, and only sleeps for the poll interval when the queue is empty.
func (p *Pool) Run(ctx context.Context) error {
	log := p.opts.Logger
	log.Info("ingest: workers started", "workers", p.opts.Workers, "poll", p.opts.PollInterval)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		worker := i
		g.Go(func() error {
			ticker := time.NewTicker(p.opts.PollInterval)
			defer ticker.Stop()
			for {
				for p.drainOne(ctx, worker) {
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}
	err := g.Wait()
	log.Info("ingest: workers stopped")
	return err
}

// drainOne claims and handles a single task, reporting whether there may
// be more work ready.
func (p *Pool) drainOne(ctx context.Context, worker int) bool {
	if ctx.Err() != nil {
		return false
	}
	task, err := p.queue.Claim(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.opts.Logger.Warn("ingest: claim failed", "worker", worker, "error", err)
		}
		return false
	}
	if task == nil {
		return false
	}
	p.handle(ctx, task, worker)
	return true
}

func (p *Pool) handle(ctx context.Context, task *Task, worker int) {
	log := p.opts.Logger.With("task", task.ID, "worker", worker, "file", task.Path, "tenant", task.TenantID)

	if p.queue.opts.MaxAttempts > 0 && task.Attempts > p.queue.opts.MaxAttempts {
		log.Error("ingest: task exceeded max attempts, dropping; source file retained",
			"attempts", task.Attempts)
		p.ack(ctx, task.ID, log)
		return
	}

	doc, err := consume.NewDocument(task.TenantID, task.Path, task.Source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// File vanished between enqueue and claim; nothing to do.
			log.Info("ingest: source file gone, dropping task")
			p.ack(ctx, task.ID, log)
			return
		}
		log.Warn("ingest: admission failed, will retry", "error", err)
		p.nack(ctx, task.ID, log)
		return
	}

	tctx := tenant.WithTenant(ctx, task.TenantID)
	id, err := p.pipeline.Consume(tctx, doc, task.Overrides)
	switch {
	case err == nil:
		log.Info("ingest: task done", "document", id)
		p.ack(ctx, task.ID, log)
	case errors.Is(err, consume.ErrSkipImport):
		log.Info("ingest: file skipped")
		p.ack(ctx, task.ID, log)
	case consume.Permanent(err):
		log.Error("ingest: permanent failure, dropping task", "error", err)
		p.ack(ctx, task.ID, log)
	default:
		log.Warn("ingest: transient failure, will retry", "error", err, "attempt", task.Attempts)
		p.nack(ctx, task.ID, log)
	}
}

func (p *Pool) ack(ctx context.Context, id string, log *slog.Logger) {
	if err := p.queue.Ack(context.WithoutCancel(ctx), id); err != nil {
		log.Warn("ingest: ack failed", "error", err)
	}
}

func (p *Pool) nack(ctx context.Context, id string, log *slog.Logger) {
	if err := p.queue.Nack(context.WithoutCancel(ctx), id); err != nil {
		log.Warn("ingest: nack failed", "error", err)
	}
}
