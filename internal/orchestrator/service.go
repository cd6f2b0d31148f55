package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	dockertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockernetwork "github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/edgefaas/edgefaas/internal/domain"
	"github.com/edgefaas/edgefaas/internal/logging"
	"github.com/edgefaas/edgefaas/internal/metrics"
)

// containerRuntime is the slice of the Docker client SDK Service depends on.
// Narrowing to an interface keeps Reconcile/Stop/EnsureRunning testable
// without a live daemon.
type containerRuntime interface {
	ContainerCreate(ctx context.Context, config *dockertypes.Config, hostConfig *dockertypes.HostConfig, networkingConfig *dockernetwork.NetworkingConfig, platform *ocispec.Platform, containerName string) (dockertypes.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options dockertypes.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options dockertypes.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options dockertypes.RemoveOptions) error
	ContainerList(ctx context.Context, options dockertypes.ListOptions) ([]dockertypes.Summary, error)
}

const (
	// rieRuntimePort is the port the Lambda Runtime Interface Emulator
	// listens on inside every worker container.
	rieRuntimePort = 8080
	containerNamePrefix = "edgefaas-"
	// functionLabel tags every worker container with the function it
	// serves, so EnsureRunning can find and adopt a container that
	// survived this process restarting without parsing container names.
	functionLabel = "edgefaas.function"
)

// Config configures the Orchestrator's Docker backend.
type Config struct {
	ImagePrefix    string        // default image prefix when a function has no explicit image
	Network        string        // Docker network to attach workers to, empty for bridge default
	PortRangeMin   int
	PortRangeMax   int
	MemoryLimitMB  int64
	CPULimit       float64
	ReadyTimeout   time.Duration // bound on readiness polling after container start
	StopTimeout    time.Duration // grace period given to docker stop
}

// DefaultConfig returns sane defaults for the Docker backend.
func DefaultConfig() Config {
	return Config{
		ImagePrefix:   "edgefaas-runtime",
		PortRangeMin:  22000,
		PortRangeMax:  32000,
		MemoryLimitMB: 256,
		CPULimit:      1.0,
		ReadyTimeout:  10 * time.Second,
		StopTimeout:   5 * time.Second,
	}
}

// Service is the Orchestrator-side implementation. It owns the Docker
// container lifecycle for every function's workers via the official Docker
// client SDK, replacing the hand-rolled `docker run`/`docker stop` exec
// wrapper the gateway's sibling component historically used.
type Service struct {
	cfg    Config
	docker containerRuntime

	mu       sync.Mutex
	nextPort int
	// workers indexes every container this process has created or adopted,
	// keyed by worker ID (the short container ID), for List/Reconcile.
	workers map[string]domain.Worker
	// owner maps worker ID -> function name, since domain.Worker itself
	// carries Function but Reconcile needs a fast per-function view.
	owner map[string]string
}

// NewService creates an Orchestrator Service using the Docker daemon
// reachable via the standard DOCKER_HOST / default socket resolution.
func NewService(cfg Config) (*Service, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("orchestrator: connect to docker: %w", err)
	}
	if cfg.PortRangeMin <= 0 || cfg.PortRangeMax <= cfg.PortRangeMin {
		d := DefaultConfig()
		cfg.PortRangeMin, cfg.PortRangeMax = d.PortRangeMin, d.PortRangeMax
	}
	return newService(cfg, cli), nil
}

// newService builds a Service around an already-constructed containerRuntime,
// letting tests inject a fake in place of a live Docker daemon.
func newService(cfg Config, runtime containerRuntime) *Service {
	return &Service{
		cfg:      cfg,
		docker:   runtime,
		nextPort: cfg.PortRangeMin,
		workers:  make(map[string]domain.Worker),
		owner:    make(map[string]string),
	}
}

func (s *Service) allocatePort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	port := s.nextPort
	s.nextPort++
	if s.nextPort > s.cfg.PortRangeMax {
		s.nextPort = s.cfg.PortRangeMin
	}
	return port
}

// EnsureRunning returns a running worker container for function, adopting
// one already running under the Docker daemon if one exists (the grace-
// period adoption protocol: a container this process did not create, left
// behind by a prior instance, is reused rather than orphaned next to a
// freshly provisioned duplicate). Only when no adoptable container is found
// does it provision one fresh, using image if given or the configured
// default image prefix joined with function. It blocks until the
// container's RIE reports ready or ReadyTimeout elapses, cleaning up the
// container on failure so no orphan is left behind.
func (s *Service) EnsureRunning(ctx context.Context, function, image string, env map[string]string) (domain.Worker, error) {
	if worker, ok, err := s.adoptRunning(ctx, function); err != nil {
		logging.Op().Warn("adoption lookup failed, provisioning fresh worker instead", "function", function, "error", err)
	} else if ok {
		return worker, nil
	}

	if image == "" {
		image = s.cfg.ImagePrefix + "-" + function
	}
	port := s.allocatePort()
	name := containerNamePrefix + function + "-" + strconv.Itoa(port)

	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	hostPortBinding := dockernetwork.PortMap{
		dockernetwork.Port(strconv.Itoa(rieRuntimePort) + "/tcp"): []dockernetwork.PortBinding{
			{HostIP: "127.0.0.1", HostPort: strconv.Itoa(port)},
		},
	}

	resp, err := s.docker.ContainerCreate(ctx, &dockertypes.Config{
		Image:  image,
		Env:    envList,
		Labels: map[string]string{functionLabel: function},
		ExposedPorts: map[dockernetwork.Port]struct{}{
			dockernetwork.Port(strconv.Itoa(rieRuntimePort) + "/tcp"): {},
		},
	}, &dockertypes.HostConfig{
		PortBindings: hostPortBinding,
		NetworkMode:  dockertypes.NetworkMode(s.networkMode()),
		Resources: dockertypes.Resources{
			Memory:   s.cfg.MemoryLimitMB * 1024 * 1024,
			NanoCPUs: int64(s.cfg.CPULimit * 1e9),
		},
		AutoRemove: false,
	}, nil, nil, name)
	if err != nil {
		return domain.Worker{}, fmt.Errorf("orchestrator: create container: %w", err)
	}

	if err := s.docker.ContainerStart(ctx, resp.ID, dockertypes.StartOptions{}); err != nil {
		s.forceRemove(resp.ID)
		return domain.Worker{}, fmt.Errorf("orchestrator: start container: %w", err)
	}

	readyTimeout := s.cfg.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = 10 * time.Second
	}
	if err := waitReady(ctx, "127.0.0.1", port, readyTimeout); err != nil {
		s.forceRemove(resp.ID)
		return domain.Worker{}, fmt.Errorf("orchestrator: container never became ready: %w", err)
	}

	now := time.Now()
	worker := domain.Worker{
		ID:        shortID(resp.ID),
		Name:      name,
		Function:  function,
		Host:      "127.0.0.1",
		Port:      port,
		CreatedAt: now,
		// LastUsed starts equal to CreatedAt so the invoker can tell a
		// freshly provisioned worker from an idle-queue hit without the
		// pool having to plumb through an explicit cold-start flag.
		LastUsed: now,
	}

	s.mu.Lock()
	s.workers[worker.ID] = worker
	s.owner[worker.ID] = function
	s.mu.Unlock()

	metrics.Global().RecordVMCreated()
	logging.Op().Info("worker container ready", "function", function, "container", worker.ID, "port", port)
	return worker, nil
}

// adoptRunning looks for a Docker container already running and labeled for
// function that this Service does not yet have bookkept, the signature of a
// worker left behind by a previous instance of this process. It returns
// ok=false, not an error, when nothing adoptable is found.
func (s *Service) adoptRunning(ctx context.Context, function string) (domain.Worker, bool, error) {
	summaries, err := s.docker.ContainerList(ctx, dockertypes.ListOptions{
		Filters: filters.NewArgs(
			filters.Arg("label", functionLabel+"="+function),
			filters.Arg("status", "running"),
		),
	})
	if err != nil {
		return domain.Worker{}, false, fmt.Errorf("orchestrator: list containers: %w", err)
	}

	for _, c := range summaries {
		id := shortID(c.ID)
		s.mu.Lock()
		_, alreadyKnown := s.workers[id]
		s.mu.Unlock()
		if alreadyKnown {
			continue
		}

		port, ok := hostPortFor(c, rieRuntimePort)
		if !ok {
			continue
		}
		if err := waitReady(ctx, "127.0.0.1", port, 2*time.Second); err != nil {
			logging.Op().Warn("adoption candidate not ready, skipping", "function", function, "container", id, "error", err)
			continue
		}

		now := time.Now()
		worker := domain.Worker{
			ID:        id,
			Name:      strings.TrimPrefix(firstName(c.Names), "/"),
			Function:  function,
			Host:      "127.0.0.1",
			Port:      port,
			CreatedAt: now,
			LastUsed:  now,
		}

		s.mu.Lock()
		s.workers[worker.ID] = worker
		s.owner[worker.ID] = function
		s.mu.Unlock()

		logging.Op().Info("adopted worker container surviving a previous instance", "function", function, "container", worker.ID, "port", port)
		return worker, true, nil
	}

	return domain.Worker{}, false, nil
}

// hostPortFor returns the host port a container's listSummary publishes for
// privatePort, if any.
func hostPortFor(c dockertypes.Summary, privatePort int) (int, bool) {
	for _, p := range c.Ports {
		if int(p.PrivatePort) == privatePort && p.PublicPort != 0 {
			return int(p.PublicPort), true
		}
	}
	return 0, false
}

func firstName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// Stop removes a worker container by ID. Idempotent: removing an unknown or
// already-gone container is not an error.
func (s *Service) Stop(ctx context.Context, workerID string) error {
	s.mu.Lock()
	delete(s.workers, workerID)
	delete(s.owner, workerID)
	s.mu.Unlock()

	stopTimeout := int(s.cfg.StopTimeout / time.Second)
	if stopTimeout <= 0 {
		stopTimeout = 5
	}
	_ = s.docker.ContainerStop(ctx, workerID, dockertypes.StopOptions{Timeout: &stopTimeout})
	err := s.docker.ContainerRemove(ctx, workerID, dockertypes.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("orchestrator: remove container %s: %w", workerID, err)
	}
	metrics.Global().RecordVMStopped()
	return nil
}

func (s *Service) forceRemove(containerID string) {
	_ = s.docker.ContainerRemove(context.Background(), containerID, dockertypes.RemoveOptions{Force: true})
}

// List returns every worker container this Service currently tracks.
func (s *Service) List(ctx context.Context) ([]domain.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w)
	}
	return out, nil
}

// Reconcile compares reportedNames (what a Gateway replica's pool believes
// it holds for function) against this Service's own bookkeeping, stopping
// any worker the Gateway no longer references once it has been idle beyond
// gracePeriod. This is the grace-period-aware half of adoption: a worker
// that simply hasn't been heard from yet (within gracePeriod) is left
// running so a restarting Gateway can adopt it rather than cold-starting.
func (s *Service) Reconcile(ctx context.Context, function string, reportedNames []string, gracePeriod time.Duration) {
	known := make(map[string]struct{}, len(reportedNames))
	for _, n := range reportedNames {
		known[n] = struct{}{}
	}

	s.mu.Lock()
	var stale []domain.Worker
	for id, w := range s.workers {
		if s.owner[id] != function {
			continue
		}
		if _, ok := known[w.Name]; ok {
			continue
		}
		if time.Since(w.LastUsed) > gracePeriod {
			stale = append(stale, w)
		}
	}
	s.mu.Unlock()

	for _, w := range stale {
		logging.Op().Warn("reconcile: removing unreferenced worker past grace period", "function", function, "worker", w.ID)
		if err := s.Stop(ctx, w.ID); err != nil {
			logging.Op().Error("reconcile: failed to stop stale worker", "worker", w.ID, "error", err)
		}
	}
}

func (s *Service) networkMode() string {
	if s.cfg.Network != "" {
		return s.cfg.Network
	}
	return "bridge"
}

// waitReady polls the RIE's invocation endpoint with a minimal ping payload
// until it answers or timeout elapses.
func waitReady(ctx context.Context, host string, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	client := &http.Client{Timeout: 500 * time.Millisecond}

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := net.DialTimeout("tcp", addr, 300*time.Millisecond)
		if err == nil {
			conn.Close()
			req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
				"http://"+addr+"/2015-03-31/functions/function/invocations",
				bytes.NewReader([]byte(`{"ping":true}`)))
			if req != nil {
				if resp, err := client.Do(req); err == nil {
					resp.Body.Close()
					return nil
				}
			}
		}
		time.Sleep(150 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for worker at %s to become ready", addr)
}

func shortID(containerID string) string {
	if len(containerID) > 12 {
		return containerID[:12]
	}
	return containerID
}
