package gatewayhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edgefaas/edgefaas/internal/auth"
	"github.com/edgefaas/edgefaas/internal/domain"
	"github.com/edgefaas/edgefaas/internal/invoker"
)

type fakeInvoker struct {
	resp *invoker.Response
	err  error
	// lastPayload captures the raw bytes passed to Invoke, so tests can
	// assert on the constructed API-Gateway-v1 event shape.
	lastPayload []byte
}

func (f *fakeInvoker) Invoke(ctx context.Context, function string, payload []byte, invocationType invoker.InvocationType) (*invoker.Response, error) {
	f.lastPayload = payload
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func newTestHandler(t *testing.T, inv FunctionInvoker, routes []domain.Route) (*Handler, *auth.JWTIssuer) {
	t.Helper()
	jwtCfg := auth.JWTConfig{Algorithm: "HS256", Secret: "test-secret", Issuer: "edgefaas", TTL: time.Hour}
	issuer, err := auth.NewJWTIssuer(jwtCfg)
	if err != nil {
		t.Fatalf("NewJWTIssuer: %v", err)
	}
	authenticator, err := auth.NewJWTAuthenticator(jwtCfg)
	if err != nil {
		t.Fatalf("NewJWTAuthenticator: %v", err)
	}

	cfg := Config{
		AuthUser:    "admin",
		AuthPass:    "s3cret",
		APIKey:      "test-api-key",
		PublicPaths: []string{"/health", "/auth", "/metrics", "/metrics.json"},
	}
	h := NewHandler(cfg, domain.NewTable(routes), inv, issuer, []auth.Authenticator{authenticator})
	return h, issuer
}

func TestHandleAuthIssuesToken(t *testing.T) {
	h, _ := newTestHandler(t, &fakeInvoker{}, nil)
	mux := h.Mux()

	body := strings.NewReader(`{"AuthParameters":{"USERNAME":"admin","PASSWORD":"s3cret"}}`)
	req := httptest.NewRequest(http.MethodPost, "/auth", body)
	req.Header.Set("X-Api-Key", "test-api-key")
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		AuthenticationResult struct {
			IdToken string
		}
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.AuthenticationResult.IdToken == "" {
		t.Fatal("expected a non-empty IdToken")
	}
}

func TestHandleAuthRejectsBadApiKey(t *testing.T) {
	h, _ := newTestHandler(t, &fakeInvoker{}, nil)
	mux := h.Mux()

	body := strings.NewReader(`{"AuthParameters":{"USERNAME":"admin","PASSWORD":"s3cret"}}`)
	req := httptest.NewRequest(http.MethodPost, "/auth", body)
	req.Header.Set("X-Api-Key", "wrong-key")
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleHealthIsPublic(t *testing.T) {
	h, _ := newTestHandler(t, &fakeInvoker{}, nil)
	mux := h.Mux()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Fatalf("unexpected health body: %s", rec.Body.String())
	}
}

func TestCatchAllRequiresAuth(t *testing.T) {
	routes := []domain.Route{{Method: "GET", Path: "/hello/{name}", Function: "hello"}}
	h, _ := newTestHandler(t, &fakeInvoker{}, routes)
	mux := h.Mux()

	req := httptest.NewRequest(http.MethodGet, "/hello/world", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", rec.Code)
	}
}

func TestCatchAllInvokesMatchedFunctionAndMirrorsResponse(t *testing.T) {
	routes := []domain.Route{{Method: "GET", Path: "/hello/{name}", Function: "hello"}}
	fnResp := functionResponse{StatusCode: 200, Body: `{"greeting":"hi world"}`}
	body, _ := json.Marshal(fnResp)
	inv := &fakeInvoker{resp: &invoker.Response{StatusCode: 200, Body: body}}
	h, issuer := newTestHandler(t, inv, routes)
	mux := h.Mux()

	token, err := issuer.Issue("alice", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/hello/world?greet=true", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "hi world") {
		t.Fatalf("unexpected mirrored body: %s", rec.Body.String())
	}

	var event apiGatewayEvent
	if err := json.Unmarshal(inv.lastPayload, &event); err != nil {
		t.Fatalf("decode constructed event: %v", err)
	}
	if event.PathParameters["name"] != "world" {
		t.Fatalf("expected path param name=world, got %+v", event.PathParameters)
	}
	if event.Resource != "/hello/{name}" {
		t.Fatalf("expected canonical resource path, got %q", event.Resource)
	}
	if event.RequestContext.Authorizer.CognitoUsername != "user:alice" {
		t.Fatalf("expected cognito:username to carry the jwt subject, got %q", event.RequestContext.Authorizer.CognitoUsername)
	}
}

func TestCatchAllReturns404WhenNoRouteMatches(t *testing.T) {
	h, issuer := newTestHandler(t, &fakeInvoker{}, nil)
	mux := h.Mux()

	token, _ := issuer.Issue("alice", nil)
	req := httptest.NewRequest(http.MethodGet, "/nothing", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestInvocationsEndpointMapsCircuitOpenTo503(t *testing.T) {
	inv := &fakeInvoker{err: invoker.ErrCircuitOpen}
	h, issuer := newTestHandler(t, inv, nil)
	mux := h.Mux()

	token, _ := issuer.Issue("alice", nil)
	req := httptest.NewRequest(http.MethodPost, "/2015-03-31/functions/hello/invocations", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestInvocationsEndpointAsyncReturns202(t *testing.T) {
	inv := &fakeInvoker{resp: &invoker.Response{StatusCode: http.StatusAccepted, Async: true}}
	h, issuer := newTestHandler(t, inv, nil)
	mux := h.Mux()

	token, _ := issuer.Issue("alice", nil)
	req := httptest.NewRequest(http.MethodPost, "/2015-03-31/functions/hello/invocations", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Amz-Invocation-Type", "Event")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
}

func TestAmznTraceIDGeneratedWhenAbsentAndEchoed(t *testing.T) {
	h, _ := newTestHandler(t, &fakeInvoker{}, nil)
	mux := h.Mux()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	got := rec.Header().Get(amznTraceIDHeader)
	if got == "" || !strings.HasPrefix(got, "Root=1-") {
		t.Fatalf("expected a generated trace id header, got %q", got)
	}
}

func TestAmznTraceIDEchoedWhenPresent(t *testing.T) {
	h, _ := newTestHandler(t, &fakeInvoker{}, nil)
	mux := h.Mux()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(amznTraceIDHeader, "Root=1-aaaaaaaa-bbbbbbbbbbbbbbbbbbbbbbbb;Sampled=1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	got := rec.Header().Get(amznTraceIDHeader)
	if got != "Root=1-aaaaaaaa-bbbbbbbbbbbbbbbbbbbbbbbb;Sampled=1" {
		t.Fatalf("expected echoed trace id, got %q", got)
	}
}

func TestWriteInvokeErrorMapsFunctionNotFoundTo404(t *testing.T) {
	rec := httptest.NewRecorder()
	writeInvokeError(rec, invoker.ErrFunctionNotFound)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestWriteInvokeErrorMapsOrchestratorUnreachableTo502(t *testing.T) {
	rec := httptest.NewRecorder()
	writeInvokeError(rec, invoker.ErrOrchestratorUnreachable)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestWriteInvokeErrorMapsOrchestratorTimeoutTo504(t *testing.T) {
	rec := httptest.NewRecorder()
	writeInvokeError(rec, invoker.ErrOrchestratorTimeout)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
}
