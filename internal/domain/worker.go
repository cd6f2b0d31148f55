// Package domain holds the shared value types passed between the Gateway,
// the pool/cache layer, and the Orchestrator: Worker, FunctionConfig, and
// Route. These are plain data; no package in this tree other than domain's
// own tests constructs business logic around them directly.
package domain

import (
	"strconv"
	"time"
)

// Worker is a running container that serves one function's invocations.
// Identity equality is by ID only — Name, Endpoint, and the timestamps are
// descriptive and may be refreshed without changing which Worker is meant.
type Worker struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Function  string    `json:"function"`
	Host      string    `json:"ip_address"`
	Port      int       `json:"port"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used_at"`
}

// Endpoint returns the host:port string the Gateway dials to reach the
// worker's RIE HTTP server.
func (w Worker) Endpoint() string {
	if w.Port == 0 {
		return w.Host
	}
	return w.Host + ":" + strconv.Itoa(w.Port)
}

// Equal reports identity equality, which is by ID alone.
func (w Worker) Equal(other Worker) bool {
	return w.ID == other.ID
}
