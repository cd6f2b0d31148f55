package invoker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/edgefaas/edgefaas/internal/circuitbreaker"
	"github.com/edgefaas/edgefaas/internal/domain"
	"github.com/edgefaas/edgefaas/internal/orchestrator"
	"github.com/edgefaas/edgefaas/internal/pool"
)

type fakeFunctions struct {
	functions map[string]domain.FunctionConfig
}

func (f *fakeFunctions) Get(name string) (domain.FunctionConfig, bool) {
	fc, ok := f.functions[name]
	return fc, ok
}

type fakePools struct {
	worker     domain.Worker
	acquireErr error
	released   []domain.Worker
	evicted    []domain.Worker
}

func (f *fakePools) Acquire(ctx context.Context, function string, provision ProvisionFunc) (domain.Worker, error) {
	if f.acquireErr != nil {
		return domain.Worker{}, f.acquireErr
	}
	return f.worker, nil
}

func (f *fakePools) Release(function string, worker domain.Worker) {
	f.released = append(f.released, worker)
}

func (f *fakePools) Evict(function string, worker domain.Worker) {
	f.evicted = append(f.evicted, worker)
}

func fakeProvisionFactory(function, image string, env map[string]string) ProvisionFunc {
	return func(ctx context.Context, function string) ([]domain.Worker, error) {
		return nil, nil
	}
}

type fakeCache struct {
	invalidated []string
}

func (f *fakeCache) Invalidate(ctx context.Context, function string) {
	f.invalidated = append(f.invalidated, function)
}

func newTestInvoker(t *testing.T, worker domain.Worker) (*Invoker, *fakePools, *fakeCache) {
	t.Helper()
	pools := &fakePools{worker: worker}
	cache := &fakeCache{}
	registry := circuitbreaker.NewRegistry(circuitbreaker.Config{FailureThreshold: 5, RecoveryWindow: time.Minute})
	inv := New(Config{RIETimeout: time.Second}, &fakeFunctions{
		functions: map[string]domain.FunctionConfig{"echo": {Name: "echo"}},
	}, pools, fakeProvisionFactory, registry, cache)
	return inv, pools, cache
}

func TestInvokeUnknownFunction(t *testing.T) {
	inv, _, _ := newTestInvoker(t, domain.Worker{})
	_, err := inv.Invoke(context.Background(), "missing", []byte(`{}`), RequestResponse)
	if err != ErrFunctionNotFound {
		t.Fatalf("expected ErrFunctionNotFound, got %v", err)
	}
}

func TestInvokeSuccessReleasesWorker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	inv, pools, cache := newTestInvoker(t, domain.Worker{ID: "w1", Host: host, Port: port})

	resp, err := inv.Invoke(context.Background(), "echo", []byte(`{}`), RequestResponse)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(pools.released) != 1 {
		t.Fatalf("expected worker released, got %+v", pools.released)
	}
	if len(cache.invalidated) != 0 {
		t.Fatalf("expected no cache invalidation on success, got %+v", cache.invalidated)
	}
}

func TestInvokeLogicalFailureEvictsAndInvalidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"errorType":"ValueError","errorMessage":"bad input"}`))
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	inv, pools, cache := newTestInvoker(t, domain.Worker{ID: "w1", Host: host, Port: port})

	resp, err := inv.Invoke(context.Background(), "echo", []byte(`{}`), RequestResponse)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected the RIE's 200 passed through, got %d", resp.StatusCode)
	}
	if len(pools.evicted) != 1 {
		t.Fatalf("expected worker evicted on logical failure, got %+v", pools.evicted)
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != "echo" {
		t.Fatalf("expected cache invalidated for 'echo', got %+v", cache.invalidated)
	}
}

func TestInvoke5xxEvictsAndInvalidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	inv, pools, cache := newTestInvoker(t, domain.Worker{ID: "w1", Host: host, Port: port})

	_, err := inv.Invoke(context.Background(), "echo", []byte(`{}`), RequestResponse)
	if err != nil {
		t.Fatal(err)
	}
	if len(pools.evicted) != 1 {
		t.Fatalf("expected eviction on 5xx, got %+v", pools.evicted)
	}
	if len(cache.invalidated) != 1 {
		t.Fatalf("expected invalidation on 5xx, got %+v", cache.invalidated)
	}
}

func TestInvokeUnreachableWorkerEvicts(t *testing.T) {
	inv, pools, cache := newTestInvoker(t, domain.Worker{ID: "w1", Host: "127.0.0.1", Port: 1})
	_, err := inv.Invoke(context.Background(), "echo", []byte(`{}`), RequestResponse)
	if err == nil {
		t.Fatal("expected an error dialing an unreachable worker")
	}
	if len(pools.evicted) != 1 {
		t.Fatalf("expected eviction on connection failure, got %+v", pools.evicted)
	}
}

func TestInvokeEventReturnsAcceptedImmediately(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	inv, _, _ := newTestInvoker(t, domain.Worker{ID: "w1", Host: host, Port: port})

	start := time.Now()
	resp, err := inv.Invoke(context.Background(), "echo", []byte(`{}`), Event)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusAccepted || !resp.Async {
		t.Fatalf("expected 202 async response, got %+v", resp)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Fatalf("expected Invoke to return before the handler finished, took %v", elapsed)
	}
	<-started
}

func TestClassifyAcquireErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"bare acquire timeout", pool.ErrAcquireTimeout, ErrAcquireTimeout},
		{"function not found", errors.Join(pool.ErrProvisionFailed, orchestrator.ErrFunctionNotFound), ErrFunctionNotFound},
		{"orchestrator unreachable", errors.Join(pool.ErrProvisionFailed, orchestrator.ErrUnreachable), ErrOrchestratorUnreachable},
		{"orchestrator timeout", errors.Join(pool.ErrProvisionFailed, orchestrator.ErrTimeout), ErrOrchestratorTimeout},
		{"orchestrator status error", errors.Join(pool.ErrProvisionFailed, &orchestrator.StatusError{Status: 500, Body: "boom"}), ErrOrchestratorUnreachable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyAcquireErr(tc.err)
			if !errors.Is(got, tc.want) {
				t.Fatalf("classifyAcquireErr(%v) = %v, want wrapping %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestInvokeOrchestratorFunctionNotFoundMapsTo404Sentinel(t *testing.T) {
	inv, pools, _ := newTestInvoker(t, domain.Worker{})
	pools.acquireErr = errors.Join(pool.ErrProvisionFailed, orchestrator.ErrFunctionNotFound)

	_, err := inv.Invoke(context.Background(), "echo", []byte(`{}`), RequestResponse)
	if !errors.Is(err, ErrFunctionNotFound) {
		t.Fatalf("expected ErrFunctionNotFound, got %v", err)
	}
}

func TestInvokeOrchestratorUnreachableDoesNotCollapseToAcquireTimeout(t *testing.T) {
	inv, pools, _ := newTestInvoker(t, domain.Worker{})
	pools.acquireErr = errors.Join(pool.ErrProvisionFailed, orchestrator.ErrUnreachable)

	_, err := inv.Invoke(context.Background(), "echo", []byte(`{}`), RequestResponse)
	if !errors.Is(err, ErrOrchestratorUnreachable) {
		t.Fatalf("expected ErrOrchestratorUnreachable, got %v", err)
	}
	if errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("orchestrator-unreachable must not also satisfy ErrAcquireTimeout, got %v", err)
	}
}

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}
