package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// InvocationLog is one Invoke call, emitted by the invoker after every
// synchronous or asynchronous invocation settles. It is the audit trail a
// human or a log shipper reads to answer "what did this function do and
// why" — metrics.Global() answers the aggregate "how much", this answers
// the per-call "which one".
type InvocationLog struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	SpanID     string    `json:"span_id,omitempty"`
	Function   string    `json:"function"`
	FunctionID string    `json:"function_id"`
	WorkerID   string    `json:"worker_id,omitempty"`
	Runtime    string    `json:"runtime,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	ColdStart  bool      `json:"cold_start"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	InputSize  int       `json:"input_size"`
	OutputSize int       `json:"output_size,omitempty"`
	Retries    int       `json:"retries,omitempty"`
	FromCache  bool      `json:"from_cache,omitempty"`
}

// InvocationLogger writes InvocationLog entries to an optional console
// stream and an optional JSON-lines file, independent of the operational
// slog logger Op() returns: this one logs individual invocations, Op()
// logs daemon/infrastructure events.
type InvocationLogger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultInvocationLogger = &InvocationLogger{enabled: true, console: true}

// Default returns the process-wide invocation logger.
func Default() *InvocationLogger {
	return defaultInvocationLogger
}

// SetOutput directs a copy of every InvocationLog entry, as a JSON line,
// to the file at path, in addition to any console output.
func (l *InvocationLogger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole toggles the human-readable console line per invocation.
func (l *InvocationLogger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log records one invocation's outcome.
func (l *InvocationLogger) Log(entry *InvocationLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if l.console {
		outcome := "ok"
		if !entry.Success {
			outcome = "fail"
		}
		tags := ""
		if entry.ColdStart {
			tags += " cold-start"
		}
		if entry.FromCache {
			tags += " host-cache-hit"
		}
		if entry.Retries > 0 {
			tags += fmt.Sprintf(" retries=%d", entry.Retries)
		}
		fmt.Printf("[invoke] %s %s function=%s worker=%s %dms%s\n",
			outcome, entry.RequestID, entry.Function, entry.WorkerID, entry.DurationMs, tags)
		if entry.Error != "" {
			fmt.Printf("[invoke]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close releases the invocation log file, if one was set.
func (l *InvocationLogger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
