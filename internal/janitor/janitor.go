// Package janitor implements the HeartbeatJanitor: a single long-lived
// goroutine that prunes idle workers from every function pool and reports
// each pool's live-worker set to the Orchestrator so it can reconcile
// container state during grace-period adoption.
package janitor

import (
	"context"
	"time"

	"github.com/edgefaas/edgefaas/internal/domain"
	"github.com/edgefaas/edgefaas/internal/logging"
)

// PoolManager is the slice of pool.Manager the janitor depends on.
type PoolManager interface {
	PruneAll(idleTimeout time.Duration) map[string][]domain.Worker
	AllWorkerNames() map[string][]string
}

// OrchestratorClient is the slice of orchestrator.Client the janitor depends on.
type OrchestratorClient interface {
	Delete(ctx context.Context, workerID string) error
	Heartbeat(ctx context.Context, function string, names []string) error
}

// Config configures the janitor's tick interval and idle-eviction timeout.
type Config struct {
	Interval    time.Duration // default 30s
	IdleTimeout time.Duration // default 300s
}

// DefaultConfig returns the spec's default interval/idle-timeout pair.
func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second, IdleTimeout: 300 * time.Second}
}

// Janitor runs the prune+heartbeat tick on its own goroutine.
type Janitor struct {
	cfg    Config
	pools  PoolManager
	client OrchestratorClient

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Janitor. Call Start to begin ticking.
func New(cfg Config, pools PoolManager, client OrchestratorClient) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 300 * time.Second
	}
	return &Janitor{cfg: cfg, pools: pools, client: client}
}

// Start begins the tick loop. It is safe to call Stop even if Start was
// never called.
func (j *Janitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})

	go func() {
		defer close(j.done)
		ticker := time.NewTicker(j.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and blocks until the goroutine has exited.
func (j *Janitor) Stop() {
	if j.cancel == nil {
		return
	}
	j.cancel()
	<-j.done
}

func (j *Janitor) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("janitor: recovered from panic in tick", "panic", r)
		}
	}()

	pruned := j.pools.PruneAll(j.cfg.IdleTimeout)
	for function, workers := range pruned {
		for _, w := range workers {
			// fire-and-forget: a failed delete leaves an orphaned container
			// for Reconcile to clean up on the Orchestrator side once its
			// grace period elapses.
			go func(function string, w domain.Worker) {
				if err := j.client.Delete(ctx, w.ID); err != nil {
					logging.Op().Warn("janitor: failed to delete pruned worker", "function", function, "worker", w.ID, "error", err)
				}
			}(function, w)
		}
	}

	names := j.pools.AllWorkerNames()
	for function, workerNames := range names {
		if len(workerNames) == 0 {
			continue
		}
		if err := j.client.Heartbeat(ctx, function, workerNames); err != nil {
			logging.Op().Warn("janitor: heartbeat failed", "function", function, "error", err)
		}
	}
}
