package debug

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AutoTraceFile asks NewTraceLogger to pick a timestamped file in the temp dir
const AutoTraceFile = "auto"

// TraceLogger writes JSON-lines trace entries to a file. A nil or disabled
// logger accepts every call and writes nothing.
type TraceLogger struct {
	mu       sync.Mutex
	file     *os.File
	filename string
}

// NewTraceLogger opens a trace file. An empty path disables tracing.
func NewTraceLogger(path string) (*TraceLogger, error) {
	if path == "" {
		return &TraceLogger{}, nil
	}
	if path == AutoTraceFile {
		timestamp := time.Now().Format("20060102_150405")
		path = filepath.Join(os.TempDir(), fmt.Sprintf("odata_provider_trace_%s.log", timestamp))
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}

	logger := &TraceLogger{file: file, filename: path}
	logger.Log("TRACE", "Trace logging started", map[string]interface{}{
		"filename": path,
		"pid":      os.Getpid(),
	})
	return logger, nil
}

// Enabled reports whether entries are written
func (t *TraceLogger) Enabled() bool {
	return t != nil && t.file != nil
}

// Log writes one entry
func (t *TraceLogger) Log(level, message string, data interface{}) {
	if !t.Enabled() {
		return
	}

	entry := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339Nano),
		"level":     level,
		"message":   message,
	}
	if data != nil {
		entry["data"] = data
	}

	line, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[TRACE ERROR] Failed to marshal entry: %v\n", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.file, "%s\n", line)
	t.file.Sync()
}

// LogRequest records an incoming JSON-RPC message
func (t *TraceLogger) LogRequest(method string, message interface{}) {
	t.Log("REQUEST", "Incoming request: "+method, map[string]interface{}{
		"message": message,
	})
}

// LogResponse records an outgoing JSON-RPC message
func (t *TraceLogger) LogResponse(response interface{}, err error) {
	data := map[string]interface{}{"response": response}
	if err != nil {
		data["error"] = err.Error()
	}
	t.Log("RESPONSE", "Outgoing response", data)
}

// LogHTTP records one exchange with the OData service. The URL is masked.
func (t *TraceLogger) LogHTTP(method, rawURL string, status int, elapsed time.Duration) {
	t.Log("HTTP", method+" "+MaskURL(rawURL), map[string]interface{}{
		"status":     status,
		"elapsed_ms": elapsed.Milliseconds(),
	})
}

// LogError records a failure with context
func (t *TraceLogger) LogError(context string, err error, data interface{}) {
	t.Log("ERROR", context, map[string]interface{}{
		"error": err.Error(),
		"data":  data,
	})
}

// Filename returns the trace file path, or "" when disabled
func (t *TraceLogger) Filename() string {
	if t == nil {
		return ""
	}
	return t.filename
}

// Close stops tracing
func (t *TraceLogger) Close() error {
	if !t.Enabled() {
		return nil
	}
	t.Log("TRACE", "Trace logging stopped", nil)
	return t.file.Close()
}
