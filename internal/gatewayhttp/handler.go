// Package gatewayhttp implements the Gateway's client-facing HTTP surface:
// the /auth token-issuance endpoint, health and metrics endpoints, the
// direct Lambda-invocations endpoint, and the catch-all route-table
// surface that turns an arbitrary path into a function invocation.
package gatewayhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/edgefaas/edgefaas/internal/auth"
	"github.com/edgefaas/edgefaas/internal/domain"
	"github.com/edgefaas/edgefaas/internal/invoker"
	"github.com/edgefaas/edgefaas/internal/logging"
	"github.com/edgefaas/edgefaas/internal/metrics"
	"github.com/edgefaas/edgefaas/internal/observability"
)

// FunctionInvoker is the slice of invoker.Invoker this package depends on,
// narrowed for testability the same way invoker.PoolManager narrows
// pool.Manager.
type FunctionInvoker interface {
	Invoke(ctx context.Context, function string, payload []byte, invocationType invoker.InvocationType) (*invoker.Response, error)
}

// Config holds the /auth credential check and the public-path allowlist the
// auth middleware consults.
type Config struct {
	AuthUser    string
	AuthPass    string
	APIKey      string
	PublicPaths []string
}

// Handler wires the route table, the invoker, and AuthN together into the
// Gateway's HTTP surface.
type Handler struct {
	cfg            Config
	routes         *domain.Table
	inv            FunctionInvoker
	issuer         *auth.JWTIssuer
	authenticators []auth.Authenticator
}

// NewHandler builds a Handler.
func NewHandler(cfg Config, routes *domain.Table, inv FunctionInvoker, issuer *auth.JWTIssuer, authenticators []auth.Authenticator) *Handler {
	return &Handler{cfg: cfg, routes: routes, inv: inv, issuer: issuer, authenticators: authenticators}
}

// Mux builds the complete http.Handler: a ServeMux for the fixed endpoints
// and the catch-all route-table surface, wrapped in OpenTelemetry span
// creation, trace propagation, and AuthN — in that order from the outside
// in, matching the teacher's middleware-chain composition style.
func (h *Handler) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth", h.handleAuth)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", metrics.PrometheusHandler())
	mux.Handle("GET /metrics.json", metrics.Global().JSONHandler())
	mux.HandleFunc("POST /2015-03-31/functions/{name}/invocations", h.handleInvocation)
	mux.HandleFunc("/", h.handleCatchAll)

	authed := auth.Middleware(h.authenticators, h.cfg.PublicPaths)(mux)
	return observability.HTTPMiddleware(traceMiddleware(authed))
}

type authRequestBody struct {
	AuthParameters struct {
		Username string `json:"USERNAME"`
		Password string `json:"PASSWORD"`
	} `json:"AuthParameters"`
}

// handleAuth implements POST /auth: static API-key header plus
// username/password against configuration, minting a JWT on success.
func (h *Handler) handleAuth(w http.ResponseWriter, r *http.Request) {
	if h.cfg.APIKey == "" || r.Header.Get("X-Api-Key") != h.cfg.APIKey {
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}

	var body authRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if body.AuthParameters.Username != h.cfg.AuthUser || body.AuthParameters.Password != h.cfg.AuthPass {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.issuer.Issue(body.AuthParameters.Username, nil)
	if err != nil {
		logging.Op().Error("token issuance failed", "error", err)
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"AuthenticationResult": map[string]string{"IdToken": token},
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleInvocation implements the direct Lambda-style invocation endpoint:
// POST /2015-03-31/functions/{name}/invocations.
func (h *Handler) handleInvocation(w http.ResponseWriter, r *http.Request) {
	function := r.PathValue("name")
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	invocationType := invoker.RequestResponse
	if v := r.Header.Get("X-Amz-Invocation-Type"); v == string(invoker.Event) {
		invocationType = invoker.Event
	}

	resp, err := h.inv.Invoke(r.Context(), function, payload, invocationType)
	if err != nil {
		writeInvokeError(w, err)
		return
	}

	if resp.Async {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	for k, vs := range resp.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

// handleCatchAll implements the route-table-driven surface: an arbitrary
// client path is matched against the ordered route table, turned into an
// API-Gateway-v1 event, and the function's response mirrored verbatim.
func (h *Handler) handleCatchAll(w http.ResponseWriter, r *http.Request) {
	match, ok := h.routes.Match(r.Method, r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "no route matches this request")
		return
	}

	identity := auth.GetIdentity(r.Context())
	subject := ""
	if identity != nil {
		subject = identity.Subject
	}

	traceID := traceIDFromContext(r.Context())
	event, err := buildEvent(r, match.CanonicalPath, match.Params, subject, rootTraceID(traceID))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	payload, err := event.marshal()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode event")
		return
	}

	resp, err := h.inv.Invoke(r.Context(), match.Function, payload, invoker.RequestResponse)
	if err != nil {
		writeInvokeError(w, err)
		return
	}

	var fnResp functionResponse
	if jsonErr := json.Unmarshal(resp.Body, &fnResp); jsonErr != nil || fnResp.StatusCode == 0 {
		// Function did not return the {statusCode, headers, body} shape;
		// mirror the raw RIE response instead of failing the request.
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(resp.Body)
		return
	}

	for k, v := range fnResp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(fnResp.StatusCode)
	_, _ = w.Write([]byte(fnResp.Body))
}

// writeInvokeError maps invoker sentinel errors onto the client-facing
// status codes named in the error handling design.
func writeInvokeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, invoker.ErrFunctionNotFound):
		writeError(w, http.StatusNotFound, "function not found")
	case errors.Is(err, invoker.ErrAcquireTimeout):
		writeError(w, http.StatusServiceUnavailable, "timed out acquiring a worker")
	case errors.Is(err, invoker.ErrCircuitOpen):
		writeError(w, http.StatusServiceUnavailable, "function circuit is open")
	case errors.Is(err, invoker.ErrUpstreamTimeout):
		writeError(w, http.StatusGatewayTimeout, "upstream worker timed out")
	case errors.Is(err, invoker.ErrUnreachable):
		writeError(w, http.StatusBadGateway, "worker unreachable")
	case errors.Is(err, invoker.ErrOrchestratorTimeout):
		writeError(w, http.StatusGatewayTimeout, "orchestrator timed out")
	case errors.Is(err, invoker.ErrOrchestratorUnreachable):
		writeError(w, http.StatusBadGateway, "orchestrator unreachable")
	default:
		writeError(w, http.StatusBadGateway, "invocation failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
