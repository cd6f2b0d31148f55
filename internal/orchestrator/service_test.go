package orchestrator

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	dockertypes "github.com/docker/docker/api/types/container"
	dockernetwork "github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/edgefaas/edgefaas/internal/domain"
)

// fakeRuntime is a minimal in-memory stand-in for the Docker client SDK,
// tracking only what Reconcile/Stop/allocatePort/EnsureRunning exercise.
type fakeRuntime struct {
	removed []string
	// listed is returned verbatim by ContainerList, letting tests simulate
	// a container left running by a previous process instance.
	listed []dockertypes.Summary
}

func (f *fakeRuntime) ContainerCreate(ctx context.Context, config *dockertypes.Config, hostConfig *dockertypes.HostConfig, networkingConfig *dockernetwork.NetworkingConfig, platform *ocispec.Platform, containerName string) (dockertypes.CreateResponse, error) {
	return dockertypes.CreateResponse{ID: "fakeid123456"}, nil
}

func (f *fakeRuntime) ContainerStart(ctx context.Context, containerID string, options dockertypes.StartOptions) error {
	return nil
}

func (f *fakeRuntime) ContainerStop(ctx context.Context, containerID string, options dockertypes.StopOptions) error {
	return nil
}

func (f *fakeRuntime) ContainerRemove(ctx context.Context, containerID string, options dockertypes.RemoveOptions) error {
	f.removed = append(f.removed, containerID)
	return nil
}

func (f *fakeRuntime) ContainerList(ctx context.Context, options dockertypes.ListOptions) ([]dockertypes.Summary, error) {
	return f.listed, nil
}

func TestAllocatePortWrapsAround(t *testing.T) {
	s := newService(Config{PortRangeMin: 100, PortRangeMax: 101}, &fakeRuntime{})
	first := s.allocatePort()
	second := s.allocatePort()
	third := s.allocatePort()
	if first != 100 || second != 101 || third != 100 {
		t.Fatalf("expected 100,101,100, got %d,%d,%d", first, second, third)
	}
}

func TestNetworkModeDefaultsToBridge(t *testing.T) {
	s := newService(Config{}, &fakeRuntime{})
	if s.networkMode() != "bridge" {
		t.Fatalf("expected bridge, got %s", s.networkMode())
	}
	s.cfg.Network = "edgefaas-net"
	if s.networkMode() != "edgefaas-net" {
		t.Fatalf("expected configured network, got %s", s.networkMode())
	}
}

func TestReconcileStopsOnlyStaleUnreferencedWorkers(t *testing.T) {
	rt := &fakeRuntime{}
	s := newService(Config{StopTimeout: time.Second}, rt)

	s.workers["live"] = domain.Worker{ID: "live", Name: "edgefaas-echo-1", LastUsed: time.Now().Add(-time.Hour)}
	s.owner["live"] = "echo"
	s.workers["stale"] = domain.Worker{ID: "stale", Name: "edgefaas-echo-2", LastUsed: time.Now().Add(-time.Hour)}
	s.owner["stale"] = "echo"
	s.workers["recent"] = domain.Worker{ID: "recent", Name: "edgefaas-echo-3", LastUsed: time.Now()}
	s.owner["recent"] = "echo"
	s.workers["other-fn"] = domain.Worker{ID: "other-fn", Name: "other-1", LastUsed: time.Now().Add(-time.Hour)}
	s.owner["other-fn"] = "other"

	s.Reconcile(context.Background(), "echo", []string{"edgefaas-echo-1"}, time.Minute)

	if len(rt.removed) != 1 || rt.removed[0] != "stale" {
		t.Fatalf("expected only 'stale' removed, got %+v", rt.removed)
	}
	if _, ok := s.workers["live"]; !ok {
		t.Fatal("live (reported) worker must survive reconcile")
	}
	if _, ok := s.workers["recent"]; !ok {
		t.Fatal("recent (within grace period) worker must survive reconcile")
	}
	if _, ok := s.workers["other-fn"]; !ok {
		t.Fatal("worker belonging to a different function must be untouched")
	}
}

func TestEnsureRunningAdoptsAlreadyRunningContainer(t *testing.T) {
	rie := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer rie.Close()

	u, err := url.Parse(rie.URL)
	if err != nil {
		t.Fatal(err)
	}
	_, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}

	rt := &fakeRuntime{listed: []dockertypes.Summary{
		{
			ID:    "alreadyrunning01",
			Names: []string{"/edgefaas-echo-" + portStr},
			Ports: []dockertypes.Port{{PrivatePort: rieRuntimePort, PublicPort: uint16(port)}},
		},
	}}
	s := newService(Config{ReadyTimeout: time.Second}, rt)

	worker, err := s.EnsureRunning(context.Background(), "echo", "", nil)
	if err != nil {
		t.Fatalf("EnsureRunning: %v", err)
	}
	if worker.Port != port {
		t.Fatalf("expected adopted worker to carry the discovered port %d, got %d", port, worker.Port)
	}
	if len(rt.removed) != 0 {
		t.Fatalf("adoption must not remove or recreate a container, got removed=%+v", rt.removed)
	}
	if _, ok := s.workers[worker.ID]; !ok {
		t.Fatal("adopted worker must be bookkept")
	}
}

func TestShortIDTruncatesLongContainerIDs(t *testing.T) {
	if got := shortID("abcdefghijklmnopqrstuvwxyz"); got != "abcdefghijkl" {
		t.Fatalf("expected 12-char id, got %q", got)
	}
	if got := shortID("short"); got != "short" {
		t.Fatalf("expected unchanged short id, got %q", got)
	}
}
