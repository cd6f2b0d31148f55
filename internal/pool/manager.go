package pool

import (
	"context"
	"sync"
	"time"

	"github.com/edgefaas/edgefaas/internal/domain"
)

// Manager maintains a function -> *ContainerPool registry, creating pools
// lazily on first use of a function with that function's configured
// capacity. Reads are lock-free after a pool exists; the lock is only held
// during the double-checked creation of a new pool, matching the teacher's
// sync.Map-backed functionPool registry.
type Manager struct {
	defaultCfg Config
	perFunc    map[string]Config

	mu    sync.RWMutex
	pools map[string]*ContainerPool
}

// NewManager creates a PoolManager. perFunc overrides defaultCfg for
// specific function names; functions absent from perFunc use defaultCfg.
func NewManager(defaultCfg Config, perFunc map[string]Config) *Manager {
	return &Manager{
		defaultCfg: defaultCfg,
		perFunc:    perFunc,
		pools:      make(map[string]*ContainerPool),
	}
}

// poolFor returns (creating if necessary) the ContainerPool for function.
func (m *Manager) poolFor(function string) *ContainerPool {
	m.mu.RLock()
	p, ok := m.pools[function]
	m.mu.RUnlock()
	if ok {
		return p
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[function]; ok {
		return p
	}

	cfg := m.defaultCfg
	if override, ok := m.perFunc[function]; ok {
		cfg = override
	}
	p = New(function, cfg)
	m.pools[function] = p
	return p
}

// Acquire obtains a Worker from the function's pool, creating the pool on
// first use.
func (m *Manager) Acquire(ctx context.Context, function string, provision ProvisionFunc) (domain.Worker, error) {
	return m.poolFor(function).Acquire(ctx, provision)
}

// Release returns worker to its function's pool.
func (m *Manager) Release(function string, worker domain.Worker) {
	m.poolFor(function).Release(worker)
}

// Evict removes worker from its function's pool.
func (m *Manager) Evict(function string, worker domain.Worker) {
	m.poolFor(function).Evict(worker)
}

// Adopt inserts an already-running worker into its function's pool.
func (m *Manager) Adopt(function string, worker domain.Worker) {
	m.poolFor(function).Adopt(worker)
}

// PruneAll prunes idle-expired workers from every known pool and returns
// the pruned workers keyed by function. It does not create pools for
// functions that have never been acquired.
func (m *Manager) PruneAll(idleTimeout time.Duration) map[string][]domain.Worker {
	m.mu.RLock()
	snapshot := make(map[string]*ContainerPool, len(m.pools))
	for name, p := range m.pools {
		snapshot[name] = p
	}
	m.mu.RUnlock()

	result := make(map[string][]domain.Worker)
	for name, p := range snapshot {
		if pruned := p.Prune(idleTimeout); len(pruned) > 0 {
			result[name] = pruned
		}
	}
	return result
}

// AllWorkerNames returns a read-only snapshot of every pool's live-worker
// names, for the janitor's heartbeat. It must not block foreground
// requests, so it only ever takes the manager's read lock plus each pool's
// own brief lock — never an external call.
func (m *Manager) AllWorkerNames() map[string][]string {
	m.mu.RLock()
	snapshot := make(map[string]*ContainerPool, len(m.pools))
	for name, p := range m.pools {
		snapshot[name] = p
	}
	m.mu.RUnlock()

	result := make(map[string][]string, len(snapshot))
	for name, p := range snapshot {
		result[name] = p.Names()
	}
	return result
}

// Functions returns every function name with a pool registered so far.
func (m *Manager) Functions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	return names
}

// Sizes returns (idle, total) per function, for the pool-utilization gauges.
func (m *Manager) Sizes() map[string][2]int {
	m.mu.RLock()
	snapshot := make(map[string]*ContainerPool, len(m.pools))
	for name, p := range m.pools {
		snapshot[name] = p
	}
	m.mu.RUnlock()

	result := make(map[string][2]int, len(snapshot))
	for name, p := range snapshot {
		idle, total := p.Size()
		result[name] = [2]int{idle, total}
	}
	return result
}
