// Package invoker implements LambdaInvoker: the component that turns an
// authenticated HTTP request into a worker acquisition, a forwarded call to
// that worker's Runtime Interface Emulator, and a release-or-evict decision.
//
// # Invocation pipeline
//
// Invoke is the single entry point for both synchronous and asynchronous
// (Event) invocations. The pipeline is:
//
//  1. FunctionConfig lookup; unknown functions fail fast with
//     ErrFunctionNotFound.
//  2. Environment merge: Config.BaseEnv, overlaid with the function's
//     registry environment (registry defaults plus the function's own
//     entries). There are no per-invocation overrides, and the trace id is
//     not added to the environment; it reaches the worker only as the
//     X-Amzn-Trace-Id header on the RIE POST.
//  3. Worker acquisition via PoolManager.Acquire, cold-starting through
//     Provision on a pool miss.
//  4. The RIE POST runs inside the function's circuit breaker.
//  5. Response classification: a logical failure (5xx, function-error
//     header, or a small error-shaped 200 body) evicts the worker and
//     invalidates the host cache; success releases the worker back to the
//     pool.
//  6. Event-type invocations fire the POST without waiting for the body and
//     return immediately.
//
// # Concurrency
//
// Invoke is safe for concurrent use; all shared state it touches (pools,
// breakers, cache) is independently synchronized by those components.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/edgefaas/edgefaas/internal/circuitbreaker"
	"github.com/edgefaas/edgefaas/internal/domain"
	"github.com/edgefaas/edgefaas/internal/logging"
	"github.com/edgefaas/edgefaas/internal/metrics"
	"github.com/edgefaas/edgefaas/internal/observability"
	"github.com/edgefaas/edgefaas/internal/orchestrator"
	"github.com/edgefaas/edgefaas/internal/pool"
)

// maxLogicalErrorBodyBytes bounds how much of a 200 response body gets
// parsed looking for an errorType/errorMessage shape, so a large legitimate
// payload never pays JSON-parse cost just to be classified.
const maxLogicalErrorBodyBytes = 10 * 1024

const functionErrorHeader = "X-Amz-Function-Error"

// InvocationType selects synchronous vs. fire-and-forget dispatch.
type InvocationType string

const (
	RequestResponse InvocationType = "RequestResponse"
	Event           InvocationType = "Event"
)

var (
	ErrFunctionNotFound        = errors.New("invoker: function not found")
	ErrAcquireTimeout          = errors.New("invoker: acquire timeout")
	ErrCircuitOpen             = circuitbreaker.ErrOpen
	ErrUnreachable             = errors.New("invoker: worker unreachable")
	ErrUpstreamTimeout         = errors.New("invoker: upstream timeout")
	ErrOrchestratorUnreachable = errors.New("invoker: orchestrator unreachable")
	ErrOrchestratorTimeout     = errors.New("invoker: orchestrator timeout")

	// errLogicalFailure is an internal sentinel used to make the circuit
	// breaker count an HTTP-200-but-function-errored response as a failure,
	// without it ever escaping as the error Invoke returns to its caller.
	errLogicalFailure = errors.New("invoker: logical failure")
)

// Response is what Invoke returns on a synchronous call.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	Async      bool // true for Event invocations: Body/Headers are empty, StatusCode is 202
}

// FunctionLookup resolves a function's configuration.
type FunctionLookup interface {
	Get(name string) (domain.FunctionConfig, bool)
}

// PoolManager is the slice of pool.Manager Invoker depends on.
type PoolManager interface {
	Acquire(ctx context.Context, function string, provision ProvisionFunc) (domain.Worker, error)
	Release(function string, worker domain.Worker)
	Evict(function string, worker domain.Worker)
}

// ProvisionFunc is an alias of pool.ProvisionFunc so PoolManager
// implementations (the real pool.Manager among them) satisfy this
// interface without a wrapper type.
type ProvisionFunc = pool.ProvisionFunc

// ProvisionFactory resolves a ProvisionFunc for a function, typically
// backed by an orchestrator.Client's Provision method plus the function's
// image/env, via Client.ProvisionFuncFor.
type ProvisionFactory func(function, image string, env map[string]string) ProvisionFunc

// Cache is the slice of hostcache.HostCache Invoker depends on.
type Cache interface {
	Invalidate(ctx context.Context, function string)
}

// Breakers is the slice of circuitbreaker.Registry Invoker depends on.
type Breakers interface {
	Get(function string) *circuitbreaker.Breaker
}

// Invoker ties the above collaborators together into the request path.
type Invoker struct {
	functions        FunctionLookup
	pools            PoolManager
	provisionFactory ProvisionFactory
	breakers         Breakers
	cache            Cache
	httpClient       *http.Client
	baseEnv          map[string]string
}

// Config configures shared defaults applied to every invocation.
type Config struct {
	RIETimeout time.Duration // bound on the RIE POST itself
	BaseEnv    map[string]string
}

// New creates an Invoker.
func New(cfg Config, functions FunctionLookup, pools PoolManager, provisionFactory ProvisionFactory, breakers Breakers, cache Cache) *Invoker {
	timeout := cfg.RIETimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Invoker{
		functions:        functions,
		pools:            pools,
		provisionFactory: provisionFactory,
		breakers:         breakers,
		cache:            cache,
		httpClient:       &http.Client{Timeout: timeout},
		baseEnv:          cfg.BaseEnv,
	}
}

// Invoke runs the full pipeline described in the package doc.
func (inv *Invoker) Invoke(ctx context.Context, function string, payload []byte, invocationType InvocationType) (*Response, error) {
	fnCfg, ok := inv.functions.Get(function)
	if !ok {
		return nil, ErrFunctionNotFound
	}

	env := fnCfg.MergeEnvironment(inv.baseEnv)
	if r, ok := inv.functions.(interface {
		Environment(string) map[string]string
	}); ok {
		for k, v := range r.Environment(function) {
			env[k] = v
		}
	}
	traceID := observability.GetTraceID(ctx)
	start := time.Now()

	provision := inv.provisionFactory(function, fnCfg.Image, env)
	worker, err := inv.pools.Acquire(ctx, function, provision)
	if err != nil {
		return nil, classifyAcquireErr(err)
	}
	coldStart := worker.LastUsed.Equal(worker.CreatedAt)

	breaker := inv.breakers.Get(function)

	if invocationType == Event {
		go inv.dispatchAsync(context.WithoutCancel(ctx), function, worker, payload, breaker)
		return &Response{StatusCode: http.StatusAccepted, Async: true}, nil
	}

	var resp *Response
	var transportErr error
	callErr := breaker.Call(func() error {
		resp, transportErr = inv.postToWorker(ctx, worker, payload, traceID)
		if transportErr != nil {
			return transportErr
		}
		if isLogicalFailure(resp) {
			return errLogicalFailure
		}
		return nil
	})

	if callErr != nil {
		if errors.Is(callErr, circuitbreaker.ErrOpen) {
			inv.pools.Release(function, worker)
			return nil, ErrCircuitOpen
		}
		inv.pools.Evict(function, worker)
		inv.cache.Invalidate(ctx, function)
		recordInvocation(function, worker.ID, traceID, start, coldStart, false, transportErr)
		if errors.Is(callErr, errLogicalFailure) {
			return resp, nil
		}
		return nil, transportErr
	}

	inv.pools.Release(function, worker)
	recordInvocation(function, worker.ID, traceID, start, coldStart, true, nil)
	return resp, nil
}

// classifyAcquireErr maps a PoolManager.Acquire failure onto an Invoke
// sentinel per §4.8/§7: a bare semaphore-wait timeout stays AcquireTimeout,
// while a provision failure is unwrapped to the concrete OrchestratorClient
// error it wraps so the Gateway returns 404/502/504 instead of always
// synthesizing a 503.
func classifyAcquireErr(err error) error {
	if errors.Is(err, pool.ErrAcquireTimeout) {
		return ErrAcquireTimeout
	}
	if !errors.Is(err, pool.ErrProvisionFailed) {
		// Unrecognized pool error shape; treat like an acquire timeout since
		// no worker was obtained and nothing downstream was touched.
		return fmt.Errorf("%w: %v", ErrAcquireTimeout, err)
	}

	switch {
	case errors.Is(err, orchestrator.ErrFunctionNotFound):
		return ErrFunctionNotFound
	case errors.Is(err, orchestrator.ErrTimeout):
		return fmt.Errorf("%w: %v", ErrOrchestratorTimeout, err)
	case errors.Is(err, orchestrator.ErrUnreachable):
		return fmt.Errorf("%w: %v", ErrOrchestratorUnreachable, err)
	default:
		// Includes *orchestrator.StatusError (4xx/5xx passthrough from the
		// Orchestrator) — never forwarded verbatim to the client.
		return fmt.Errorf("%w: %v", ErrOrchestratorUnreachable, err)
	}
}

// recordInvocation feeds the synchronous invocation into both the
// in-process/Prometheus metrics store and the per-request log line.
func recordInvocation(function, workerID, traceID string, start time.Time, coldStart, success bool, err error) {
	durationMs := time.Since(start).Milliseconds()
	metrics.Global().RecordInvocationWithDetails(function, function, "", durationMs, coldStart, success)

	entry := &logging.InvocationLog{
		RequestID:  traceID,
		TraceID:    traceID,
		Function:   function,
		FunctionID: function,
		WorkerID:   workerID,
		DurationMs: durationMs,
		ColdStart:  coldStart,
		Success:    success,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	logging.Default().Log(entry)
}

func (inv *Invoker) dispatchAsync(ctx context.Context, function string, worker domain.Worker, payload []byte, breaker *circuitbreaker.Breaker) {
	start := time.Now()
	coldStart := worker.LastUsed.Equal(worker.CreatedAt)
	traceID := observability.GetTraceID(ctx)

	var resp *Response
	err := breaker.Call(func() error {
		var err error
		resp, err = inv.postToWorker(ctx, worker, payload, traceID)
		if err != nil {
			return err
		}
		if isLogicalFailure(resp) {
			return errLogicalFailure
		}
		return nil
	})

	if errors.Is(err, circuitbreaker.ErrOpen) {
		inv.pools.Release(function, worker)
		return
	}
	if err != nil {
		inv.pools.Evict(function, worker)
		inv.cache.Invalidate(ctx, function)
		recordInvocation(function, worker.ID, traceID, start, coldStart, false, err)
		return
	}
	inv.pools.Release(function, worker)
	recordInvocation(function, worker.ID, traceID, start, coldStart, true, nil)
}

func (inv *Invoker) postToWorker(ctx context.Context, worker domain.Worker, payload []byte, traceID string) (*Response, error) {
	url := fmt.Sprintf("http://%s/2015-03-31/functions/function/invocations", worker.Endpoint())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if traceID != "" {
		req.Header.Set("X-Amzn-Trace-Id", "Root=1-"+traceID)
	}

	httpResp, err := inv.httpClient.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrUpstreamTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", ErrUnreachable, err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Headers:    httpResp.Header,
	}, nil
}

type logicalErrorBody struct {
	ErrorType    string `json:"errorType"`
	ErrorMessage string `json:"errorMessage"`
}

// isLogicalFailure implements the classification rule from §4.8: a 5xx
// status, a function-error header, or a small 200 body shaped like an RIE
// error envelope all count as a logical failure even though the HTTP
// transaction itself succeeded.
func isLogicalFailure(resp *Response) bool {
	if resp == nil {
		return true
	}
	if resp.StatusCode >= 500 {
		return true
	}
	if resp.Headers.Get(functionErrorHeader) != "" {
		return true
	}
	if resp.StatusCode == http.StatusOK && len(resp.Body) > 0 && len(resp.Body) <= maxLogicalErrorBodyBytes {
		var probe logicalErrorBody
		if json.Unmarshal(resp.Body, &probe) == nil && (probe.ErrorType != "" || probe.ErrorMessage != "") {
			return true
		}
	}
	return false
}
