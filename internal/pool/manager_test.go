package pool

import (
	"context"
	"testing"
	"time"

	"github.com/edgefaas/edgefaas/internal/domain"
)

func TestManagerCreatesPoolsLazilyPerFunction(t *testing.T) {
	m := NewManager(Config{MaxCapacity: 1, AcquireTimeout: time.Second}, nil)
	var calls int64
	provision := countingProvision(&calls)

	if _, err := m.Acquire(context.Background(), "fn-a", provision); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Acquire(context.Background(), "fn-b", provision); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 provisions across 2 functions, got %d", calls)
	}

	fns := m.Functions()
	if len(fns) != 2 {
		t.Fatalf("expected 2 registered pools, got %d", len(fns))
	}
}

func TestManagerPerFunctionOverride(t *testing.T) {
	m := NewManager(
		Config{MaxCapacity: 1, AcquireTimeout: time.Second},
		map[string]Config{"fn-big": {MaxCapacity: 5, AcquireTimeout: time.Second}},
	)
	var calls int64
	provision := countingProvision(&calls)

	for i := 0; i < 5; i++ {
		if _, err := m.Acquire(context.Background(), "fn-big", provision); err != nil {
			t.Fatalf("iteration %d: expected capacity 5 to admit all, got %v", i, err)
		}
	}
}

func TestManagerPruneAllAndWorkerNamesSnapshot(t *testing.T) {
	m := NewManager(Config{MaxCapacity: 3, AcquireTimeout: time.Second}, nil)
	// Adopt stamps LastUsed with the adoption time, so age x-2 by sleeping.
	m.Adopt("x", domain.Worker{ID: "2", Name: "x-2"})
	time.Sleep(100 * time.Millisecond)
	m.Adopt("x", domain.Worker{ID: "1", Name: "x-1"})

	names := m.AllWorkerNames()
	if len(names["x"]) != 2 {
		t.Fatalf("expected 2 worker names before prune, got %v", names["x"])
	}

	pruned := m.PruneAll(50 * time.Millisecond)
	if len(pruned["x"]) != 1 || pruned["x"][0].ID != "2" {
		t.Fatalf("expected only worker 2 pruned, got %+v", pruned["x"])
	}

	namesAfter := m.AllWorkerNames()
	if len(namesAfter["x"]) != 1 || namesAfter["x"][0] != "x-1" {
		t.Fatalf("expected only x-1 to remain, got %v", namesAfter["x"])
	}
}
