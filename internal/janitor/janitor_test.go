package janitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/edgefaas/edgefaas/internal/domain"
)

type fakePools struct {
	mu      sync.Mutex
	pruned  map[string][]domain.Worker
	names   map[string][]string
	pruneCalls int
}

func (f *fakePools) PruneAll(idleTimeout time.Duration) map[string][]domain.Worker {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneCalls++
	return f.pruned
}

func (f *fakePools) AllWorkerNames() map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.names
}

type fakeClient struct {
	mu         sync.Mutex
	deleted    []string
	heartbeats map[string][]string
}

func (f *fakeClient) Delete(ctx context.Context, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, workerID)
	return nil
}

func (f *fakeClient) Heartbeat(ctx context.Context, function string, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.heartbeats == nil {
		f.heartbeats = make(map[string][]string)
	}
	f.heartbeats[function] = names
	return nil
}

func TestTickPrunesAndHeartbeats(t *testing.T) {
	pools := &fakePools{
		pruned: map[string][]domain.Worker{"echo": {{ID: "w1"}}},
		names:  map[string][]string{"echo": {"edgefaas-echo-2"}, "empty-fn": {}},
	}
	client := &fakeClient{}

	j := New(Config{Interval: time.Hour, IdleTimeout: time.Minute}, pools, client)
	j.tick(context.Background())

	deadline := time.Now().Add(time.Second)
	for {
		client.mu.Lock()
		done := len(client.deleted) == 1
		client.mu.Unlock()
		if done || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.deleted) != 1 || client.deleted[0] != "w1" {
		t.Fatalf("expected pruned worker w1 deleted, got %+v", client.deleted)
	}
	if _, ok := client.heartbeats["echo"]; !ok {
		t.Fatalf("expected heartbeat for 'echo', got %+v", client.heartbeats)
	}
	if _, ok := client.heartbeats["empty-fn"]; ok {
		t.Fatal("must not heartbeat a function with zero live workers")
	}
}

func TestStartAndStop(t *testing.T) {
	pools := &fakePools{pruned: map[string][]domain.Worker{}, names: map[string][]string{}}
	client := &fakeClient{}

	j := New(Config{Interval: 5 * time.Millisecond, IdleTimeout: time.Minute}, pools, client)
	j.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	j.Stop()

	pools.mu.Lock()
	calls := pools.pruneCalls
	pools.mu.Unlock()
	if calls == 0 {
		t.Fatal("expected at least one tick to have run before Stop")
	}
}

func TestTickRecoversFromPanic(t *testing.T) {
	pools := &panicPools{}
	client := &fakeClient{}
	j := New(Config{Interval: time.Hour, IdleTimeout: time.Minute}, pools, client)

	// Must not panic out of the test.
	j.tick(context.Background())
}

type panicPools struct{}

func (p *panicPools) PruneAll(idleTimeout time.Duration) map[string][]domain.Worker {
	panic("boom")
}

func (p *panicPools) AllWorkerNames() map[string][]string {
	return nil
}
