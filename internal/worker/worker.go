// Package worker drives the queue engine from a process: pollers repeatedly
// invoke RunNextJob, and a cron schedule drives the maintenance operations
// (orphan requeue, retention purge). The queue package itself spawns no
// goroutines; the pollers and the cron schedule in this package are what
// drive it concurrently.
package worker

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cuongbtq/jobq/internal/queue"
)

// Config holds the pool's operational knobs.
type Config struct {
	Logger             *slog.Logger
	Store              *queue.Store
	Concurrency        int
	PollInterval       time.Duration
	IdentityPrefix     string
	MaintenanceCron    string
	OrphanRequeueLimit int
	PurgeRetention     time.Duration
	PurgeBatchLimit    int
}

// Pool runs Concurrency independent pollers plus a cron-scheduled
// maintenance sweep.
type Pool struct {
	cfg    Config
	logger *slog.Logger
	cron   *cron.Cron
	wg     sync.WaitGroup
	stop   chan struct{}
}

// NewPool builds a Pool. Concurrency and PollInterval fall back to sane
// defaults if unset.
func NewPool(cfg Config) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.IdentityPrefix == "" {
		cfg.IdentityPrefix = "jobq-worker"
	}
	return &Pool{
		cfg:    cfg,
		logger: cfg.Logger,
		cron:   cron.New(),
		stop:   make(chan struct{}),
	}
}

// Start launches the poller goroutines and the maintenance cron schedule.
// It returns immediately; call Stop (or cancel ctx) to wind down.
func (p *Pool) Start(ctx context.Context) error {
	p.logger.Info("starting worker pool",
		slog.Int("concurrency", p.cfg.Concurrency),
		slog.Duration("poll_interval", p.cfg.PollInterval),
	)

	for i := 0; i < p.cfg.Concurrency; i++ {
		identity := workerIdentity(p.cfg.IdentityPrefix, i)
		p.wg.Add(1)
		go p.pollLoop(ctx, identity)
	}

	if p.cfg.MaintenanceCron != "" {
		_, err := p.cron.AddFunc(p.cfg.MaintenanceCron, func() {
			p.runMaintenance(ctx)
		})
		if err != nil {
			return err
		}
		p.cron.Start()
		p.logger.Info("maintenance schedule started", slog.String("cron", p.cfg.MaintenanceCron))
	}

	return nil
}

// Stop signals all pollers to exit and waits for them, then stops cron.
func (p *Pool) Stop() {
	p.logger.Info("stopping worker pool")
	close(p.stop)
	p.wg.Wait()
	if p.cfg.MaintenanceCron != "" {
		stopCtx := p.cron.Stop()
		<-stopCtx.Done()
	}
	p.logger.Info("worker pool stopped")
}

func (p *Pool) pollLoop(ctx context.Context, identity string) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			if err := p.cfg.Store.RunNextJob(ctx, identity); err != nil {
				p.logger.Error("run_next_job failed", slog.String("worker", identity), slog.Any("error", err))
			}
		}
	}
}

func (p *Pool) runMaintenance(ctx context.Context) {
	requeued, err := p.cfg.Store.RequeueOrphanedRunningJobs(ctx, p.cfg.OrphanRequeueLimit)
	if err != nil {
		p.logger.Error("orphan requeue failed", slog.Any("error", err))
	} else if requeued > 0 {
		p.logger.Info("orphan requeue swept", slog.Int("count", requeued))
	}

	for {
		deleted, err := p.cfg.Store.PurgeOldJobs(ctx, p.cfg.PurgeRetention, p.cfg.PurgeBatchLimit)
		if err != nil {
			p.logger.Error("purge failed", slog.Any("error", err))
			return
		}
		if deleted == 0 {
			return
		}
		p.logger.Info("purged finished jobs batch", slog.Int("count", deleted))
	}
}

func workerIdentity(prefix string, index int) string {
	host, _ := os.Hostname()
	return prefix + "-" + host + "-" + strconv.Itoa(index)
}
