package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edgefaas/edgefaas/internal/domain"
)

func TestClientProvisionSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/containers/provision" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req provisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.FunctionName != "echo" {
			t.Fatalf("expected function 'echo', got %q", req.FunctionName)
		}
		json.NewEncoder(w).Encode(provisionResponse{
			Workers: []domain.Worker{{ID: "w1", Name: "edgefaas-echo-1", Host: "127.0.0.1", Port: 9000}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	workers, err := c.Provision(context.Background(), "echo", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(workers) != 1 || workers[0].ID != "w1" {
		t.Fatalf("unexpected workers: %+v", workers)
	}
}

func TestClientProvisionFunctionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Provision(context.Background(), "missing", "", nil)
	if err != ErrFunctionNotFound {
		t.Fatalf("expected ErrFunctionNotFound, got %v", err)
	}
}

func TestClientProvisionServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Provision(context.Background(), "echo", "", nil)
	var statusErr *StatusError
	if err == nil {
		t.Fatal("expected an error")
	}
	if se, ok := err.(*StatusError); ok {
		statusErr = se
	}
	if statusErr == nil || statusErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected StatusError 500, got %v", err)
	}
}

func TestClientProvisionUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second)
	_, err := c.Provision(context.Background(), "echo", "", nil)
	if err == nil {
		t.Fatal("expected an error dialing an unreachable host")
	}
}

func TestClientDeleteIdempotentOnNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("expected DELETE, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if err := c.Delete(context.Background(), "w1"); err != nil {
		t.Fatal(err)
	}
}

func TestClientListDecodesContainers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(listResponse{Containers: []domain.Worker{{ID: "w1"}, {ID: "w2"}}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	workers, err := c.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(workers) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(workers))
	}
}

func TestClientHeartbeatSwallowableOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	err := c.Heartbeat(context.Background(), "echo", []string{"edgefaas-echo-1"})
	if err == nil {
		t.Fatal("expected an error the caller is responsible for swallowing")
	}
}
