// Package orchestrator contains both sides of the Gateway<->Orchestrator
// control plane: Client is the Gateway-side HTTP client used by
// PoolManager's provision callback and the HeartbeatJanitor; Service (in
// service.go) is the Orchestrator-side implementation that owns the Docker
// container runtime.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/edgefaas/edgefaas/internal/domain"
	"github.com/edgefaas/edgefaas/internal/observability"
)

var (
	// ErrFunctionNotFound is returned when the Orchestrator has no
	// knowledge of the requested function.
	ErrFunctionNotFound = errors.New("orchestrator: function not found")
	// ErrTimeout is returned when the request to the Orchestrator timed out.
	ErrTimeout = errors.New("orchestrator: timeout")
	// ErrUnreachable is returned when the Orchestrator could not be
	// reached at all (connection refused, DNS failure, etc).
	ErrUnreachable = errors.New("orchestrator: unreachable")
)

// StatusError wraps a non-2xx, non-404 HTTP response from the Orchestrator.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("orchestrator: status %d: %s", e.Status, e.Body)
}

// Client is the Gateway-side HTTP client to the Orchestrator service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an OrchestratorClient pointed at baseURL (e.g.
// "http://orchestrator:9090").
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type provisionRequest struct {
	FunctionName string            `json:"function_name"`
	Count        int               `json:"count"`
	Image        string            `json:"image,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
	DryRun       bool              `json:"dry_run,omitempty"`
}

type provisionResponse struct {
	Workers []domain.Worker `json:"workers"`
}

// Provision asks the Orchestrator for one or more warm workers for function.
func (c *Client) Provision(ctx context.Context, function, image string, env map[string]string) ([]domain.Worker, error) {
	reqBody, err := json.Marshal(provisionRequest{
		FunctionName: function,
		Count:        1,
		Image:        image,
		Env:          env,
		RequestID:    observability.GetTraceID(ctx),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/containers/provision", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.attachTrace(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyNetErr(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		var out provisionResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("orchestrator: decode provision response: %w", err)
		}
		return out.Workers, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrFunctionNotFound
	default:
		return nil, &StatusError{Status: resp.StatusCode, Body: string(body)}
	}
}

// Delete asks the Orchestrator to remove a worker by ID. Idempotent.
func (c *Client) Delete(ctx context.Context, workerID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/containers/"+workerID, nil)
	if err != nil {
		return err
	}
	c.attachTrace(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyNetErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return &StatusError{Status: resp.StatusCode, Body: string(body)}
}

type listResponse struct {
	Containers []domain.Worker `json:"containers"`
}

// List returns every worker the Orchestrator currently manages.
func (c *Client) List(ctx context.Context) ([]domain.Worker, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/containers/sync", nil)
	if err != nil {
		return nil, err
	}
	c.attachTrace(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyNetErr(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Status: resp.StatusCode, Body: string(body)}
	}

	var out listResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("orchestrator: decode list response: %w", err)
	}
	return out.Containers, nil
}

type heartbeatRequest struct {
	FunctionName   string   `json:"function_name"`
	ContainerNames []string `json:"container_names"`
}

// Heartbeat reports the set of worker names a function's pool currently
// holds. Failures are non-critical: logged by the caller and swallowed.
func (c *Client) Heartbeat(ctx context.Context, function string, names []string) error {
	reqBody, err := json.Marshal(heartbeatRequest{FunctionName: function, ContainerNames: names})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/heartbeat", bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.attachTrace(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyNetErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{Status: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// attachTrace propagates both the platform's own trace header and, when
// tracing is enabled, the W3C traceparent header.
func (c *Client) attachTrace(ctx context.Context, req *http.Request) {
	if traceID := observability.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Amzn-Trace-Id", "Root=1-"+traceID)
	}
	tc := observability.ExtractTraceContext(ctx)
	if tc.TraceParent != "" {
		req.Header.Set("traceparent", tc.TraceParent)
	}
}

// ProvisionFuncFor adapts Client.Provision into the ProvisionFunc shape the
// Pool/PoolManager and Invoker expect, closing over the function's image and
// environment so pool misses don't need to thread them through.
func (c *Client) ProvisionFuncFor(function, image string, env map[string]string) func(ctx context.Context, _ string) ([]domain.Worker, error) {
	return func(ctx context.Context, _ string) ([]domain.Worker, error) {
		return c.Provision(ctx, function, image, env)
	}
}

func classifyNetErr(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
