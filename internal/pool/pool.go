// Package pool implements the per-function bounded worker pool
// (ContainerPool) and its registry (PoolManager).
//
// # Design rationale
//
// A function's maximum concurrency is enforced by a counting semaphore
// sized to the function's capacity N, not by the size of any queue or
// slice — this lets the idle-worker queue and the live-worker set vary
// independently of how many permits are currently checked out, which is
// exactly the property prune and adopt rely on (see below).
//
// # Concurrency model
//
// Acquire takes the semaphore first, then checks the idle queue, then
// falls through to provisioning. This ordering is deliberate: bounding
// parallelism at N never depends on which specific worker is reused, so a
// waiter only ever blocks on capacity, never on a particular worker being
// free. The idle queue and live-worker set are both guarded by a single
// mutex; no lock is held across the provision callback's I/O. Callers that
// miss the idle queue at the same time coalesce onto a single in-flight
// provision call via singleflight; the orchestrator only ever returns one
// worker per call, so a waiter that doesn't win that worker loops back and
// joins (or leads) the next round. A cold-start burst for one function
// still issues one provision call per waiter in total, but they run
// serialized instead of all at once, so the orchestrator and its container
// runtime never see a simultaneous create-container thundering herd.
//
// # Invariants
//
//   - len(idle) <= len(all).
//   - free permits + len(all)-len(idle) == N once all in-flight
//     provisions have settled (a permit is held for every busy worker and
//     every in-flight provision).
//   - Release always returns exactly one permit; Evict always returns
//     exactly one permit and removes the worker from all.
//   - Prune and Adopt never touch the semaphore. Pruned workers held no
//     permit (they were idle, not busy) so there is nothing to release;
//     adopted workers occupy a logical seat that already existed before
//     this process started, so acquiring a permit for them would
//     over-count capacity. This mirrors the platform's adoption protocol
//     precisely and must not be "fixed" to rebalance permits.
package pool

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/edgefaas/edgefaas/internal/domain"
	"github.com/edgefaas/edgefaas/internal/logging"
)

var (
	// ErrAcquireTimeout is returned when a caller cannot obtain a permit
	// within the pool's configured acquire timeout.
	ErrAcquireTimeout = errors.New("pool: acquire timeout")
	// ErrProvisionFailed wraps whatever error a provision callback
	// returned; see errors.Unwrap.
	ErrProvisionFailed = errors.New("pool: provision failed")
)

// ProvisionFunc provisions at least one fresh Worker for function on a pool
// miss. Implementations MUST return at least one Worker on success.
type ProvisionFunc func(ctx context.Context, function string) ([]domain.Worker, error)

// Config configures a single function's ContainerPool.
type Config struct {
	MaxCapacity    int
	AcquireTimeout time.Duration
}

// ContainerPool is a bounded pool of Workers for a single function.
type ContainerPool struct {
	function       string
	maxCapacity    int64
	acquireTimeout time.Duration
	sem            *semaphore.Weighted

	mu   sync.Mutex
	idle *list.List               // of domain.Worker, LIFO: PushFront/Front/Remove
	all  map[string]domain.Worker // id -> Worker

	// sf coalesces concurrent provision calls on an idle-queue miss: every
	// caller racing to cold-start the same function during a burst shares
	// one in-flight provision call instead of issuing one Orchestrator
	// request each. There is only ever one key in play (this pool's own
	// function), so a constant key is fine.
	sf singleflight.Group
}

// New creates a ContainerPool for function with the given bound and
// acquire timeout.
func New(function string, cfg Config) *ContainerPool {
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 1
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 5 * time.Second
	}
	return &ContainerPool{
		function:       function,
		maxCapacity:    int64(cfg.MaxCapacity),
		acquireTimeout: cfg.AcquireTimeout,
		sem:            semaphore.NewWeighted(int64(cfg.MaxCapacity)),
		idle:           list.New(),
		all:            make(map[string]domain.Worker),
	}
}

// Acquire obtains a Worker for this pool's function, waiting on the
// semaphore up to the pool's acquire timeout, then preferring an idle
// Worker before calling provision. The orchestrator only ever hands back
// one worker per provision call, so callers that miss the idle queue at
// the same moment don't get served off a single shared result — instead
// they coalesce onto a single in-flight provision call via singleflight,
// and whichever one of them doesn't win the worker it produced loops back
// and tries again. This turns what would otherwise be a burst of
// simultaneous container-create requests against the orchestrator into a
// serialized trickle: one in flight at a time, still bounded by the
// caller's own acquire timeout.
func (p *ContainerPool) Acquire(ctx context.Context, provision ProvisionFunc) (domain.Worker, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		return domain.Worker{}, ErrAcquireTimeout
	}

	for {
		if w, ok := p.popIdle(); ok {
			return w, nil
		}

		// The singleflight "leader" for this round registers whatever
		// provision returns into idle under the pool's lock before
		// returning. Every extra worker beyond the first gets its own
		// fresh permit here, same as the pre-singleflight code did;
		// the first is left for one of the permits already held by a
		// caller looping through this function to claim below.
		ch := p.sf.DoChan(p.function, func() (interface{}, error) {
			workers, err := provision(ctx, p.function)
			if err != nil {
				return nil, err
			}
			if len(workers) == 0 {
				return nil, errors.New("pool: provision returned no workers")
			}

			p.mu.Lock()
			for _, w := range workers {
				p.all[w.ID] = w
				p.idle.PushBack(w)
			}
			p.mu.Unlock()

			for _, extra := range workers[1:] {
				if !p.sem.TryAcquire(1) {
					logging.Op().Info("pool: pre-warmed worker exceeds capacity, holding no permit",
						"function", p.function, "worker", extra.ID)
				}
			}
			return nil, nil
		})

		select {
		case res := <-ch:
			if res.Err != nil {
				p.sem.Release(1)
				return domain.Worker{}, errors.Join(ErrProvisionFailed, res.Err)
			}
			// Don't assume the worker this round produced is still
			// ours to take — another looping caller, or a fresh
			// Acquire that arrived after, may have already popped
			// it. Loop and either claim what's there or coalesce
			// onto the next round.
		case <-waitCtx.Done():
			p.sem.Release(1)
			return domain.Worker{}, ErrAcquireTimeout
		}
	}
}

// popIdle pops and returns the front idle Worker, if any.
func (p *ContainerPool) popIdle() (domain.Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el := p.idle.Front()
	if el == nil {
		return domain.Worker{}, false
	}
	p.idle.Remove(el)
	return el.Value.(domain.Worker), true
}

// Release returns worker to the idle queue and frees its permit.
func (p *ContainerPool) Release(worker domain.Worker) {
	worker.LastUsed = time.Now()
	p.mu.Lock()
	p.all[worker.ID] = worker
	p.idle.PushFront(worker)
	p.mu.Unlock()
	p.sem.Release(1)
}

// Evict removes worker from the pool entirely (it is known unhealthy) and
// frees its permit without returning it to idle.
func (p *ContainerPool) Evict(worker domain.Worker) {
	p.mu.Lock()
	delete(p.all, worker.ID)
	p.mu.Unlock()
	p.sem.Release(1)
}

// Adopt inserts an already-running worker into this pool's bookkeeping,
// for startup/reconciliation adoption. It deliberately does not touch the
// semaphore — see the package doc for why.
func (p *ContainerPool) Adopt(worker domain.Worker) {
	worker.LastUsed = time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.all[worker.ID] = worker
	p.idle.PushFront(worker)
}

// Prune removes and returns every idle worker whose last-used time exceeds
// idleTimeout. It deliberately does not touch the semaphore — pruned
// workers were idle, hence held no permit.
func (p *ContainerPool) Prune(idleTimeout time.Duration) []domain.Worker {
	now := time.Now()
	var pruned []domain.Worker

	p.mu.Lock()
	defer p.mu.Unlock()

	var next *list.Element
	for el := p.idle.Front(); el != nil; el = next {
		next = el.Next()
		w := el.Value.(domain.Worker)
		if now.Sub(w.LastUsed) > idleTimeout {
			p.idle.Remove(el)
			delete(p.all, w.ID)
			pruned = append(pruned, w)
		}
	}
	return pruned
}

// Drain atomically removes and returns every worker known to the pool,
// idle or busy-bookkept, clearing both structures. It does not touch the
// semaphore.
func (p *ContainerPool) Drain() []domain.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	workers := make([]domain.Worker, 0, len(p.all))
	for _, w := range p.all {
		workers = append(workers, w)
	}
	p.all = make(map[string]domain.Worker)
	p.idle.Init()
	return workers
}

// Names returns a snapshot of every worker's Name currently known to the
// pool (idle or busy), for heartbeat reporting.
func (p *ContainerPool) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.all))
	for _, w := range p.all {
		names = append(names, w.Name)
	}
	return names
}

// Size reports (idle, total) counts for metrics/diagnostics.
func (p *ContainerPool) Size() (idle, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle.Len(), len(p.all)
}
