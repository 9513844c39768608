package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	servertiming "github.com/mitchellh/go-server-timing"
	"github.com/rs/cors"

	"github.com/zmcp/odata-provider/internal/constants"
	"github.com/zmcp/odata-provider/internal/debug"
	"github.com/zmcp/odata-provider/internal/transport"
)

// SessionHeader carries the MCP session id
const SessionHeader = "Mcp-Session-Id"

const (
	maxBodyBytes   = 10 << 20
	sessionIdleTTL = 30 * time.Minute
)

// ErrNoPush is returned by WriteMessage; responses travel on their request
var ErrNoPush = errors.New("streamable HTTP transport cannot push unsolicited messages")

// Options configure the HTTP transport
type Options struct {
	Addr string
	// AllowRemote accepts connections from non-loopback addresses
	AllowRemote bool
	// AllowedOrigins for CORS; empty allows localhost origins only
	AllowedOrigins []string
	// Health supplies extra fields for /health
	Health  func() interface{}
	Tracer  *debug.TraceLogger
	Verbose bool
}

// StreamableHTTPTransport serves MCP over HTTP POST with optional single-event
// SSE responses
type StreamableHTTPTransport struct {
	opts     Options
	handler  transport.Handler
	server   *http.Server
	mu       sync.Mutex
	sessions map[string]time.Time
}

// NewStreamableHTTP creates a new Streamable HTTP transport
func NewStreamableHTTP(handler transport.Handler, opts Options) *StreamableHTTPTransport {
	if opts.Addr == "" {
		opts.Addr = constants.DefaultHTTPAddr
	}
	return &StreamableHTTPTransport{
		opts:     opts,
		handler:  handler,
		sessions: make(map[string]time.Time),
	}
}

// Handler returns the HTTP handler with all middleware applied
func (t *StreamableHTTPTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", t.handleMCP)
	mux.HandleFunc("/health", t.handleHealth)

	origins := t.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept", "Authorization", "Last-Event-ID", SessionHeader},
		ExposedHeaders: []string{SessionHeader, "Server-Timing"},
	})

	return t.guard(corsHandler.Handler(servertiming.Middleware(mux, nil)))
}

// Start serves until ctx is cancelled or the listener fails
func (t *StreamableHTTPTransport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              t.opts.Addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go t.cleanupSessions(ctx)

	errCh := make(chan error, 1)
	go func() {
		if t.opts.Verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] MCP endpoint listening on http://%s/mcp\n", t.opts.Addr)
		}
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return t.Close()
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	}
}

// guard rejects non-loopback clients unless remote access is enabled
func (t *StreamableHTTPTransport) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.opts.AllowRemote && !isLoopback(r.RemoteAddr) {
			http.Error(w, "Remote connections not allowed without --i-am-security-expert", http.StatusForbidden)
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

func (t *StreamableHTTPTransport) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]interface{}{
		"status":    "ok",
		"transport": "streamable-http",
		"protocol":  constants.MCPProtocolVersion,
	}
	if t.opts.Health != nil {
		body["service"] = t.opts.Health()
	}
	writeJSON(w, http.StatusOK, body)
}

func (t *StreamableHTTPTransport) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		t.handlePost(w, r)
	case http.MethodDelete:
		t.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (t *StreamableHTTPTransport) handlePost(w http.ResponseWriter, r *http.Request) {
	var msg transport.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&msg); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	sessionID := r.Header.Get(SessionHeader)
	if msg.Method == "initialize" {
		sessionID = t.newSession()
	} else if sessionID != "" && !t.touchSession(sessionID) {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	if sessionID != "" {
		w.Header().Set(SessionHeader, sessionID)
	}

	if t.opts.Tracer.Enabled() {
		t.opts.Tracer.Log("HTTP_IN", "Message received", map[string]interface{}{
			"method":  msg.Method,
			"id":      msg.ID,
			"session": sessionID,
		})
	}

	timing := servertiming.FromContext(r.Context()).NewMetric("mcp").WithDesc(msg.Method).Start()
	response, err := t.handler(r.Context(), &msg)
	timing.Stop()
	if err != nil {
		response = transport.ErrorResponse(&msg, err)
	}

	// notifications get no body
	if response == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if wantsStream(r, &msg) {
		t.writeEvent(w, response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (t *StreamableHTTPTransport) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionHeader)
	t.mu.Lock()
	_, ok := t.sessions[sessionID]
	delete(t.sessions, sessionID)
	t.mu.Unlock()

	if !ok {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// wantsStream reports whether a tool call should be answered as an SSE event
func wantsStream(r *http.Request, msg *transport.Message) bool {
	return msg.Method == "tools/call" && strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// writeEvent answers with a single SSE message event
func (t *StreamableHTTPTransport) writeEvent(w http.ResponseWriter, msg *transport.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "id: %s\nevent: message\ndata: %s\n\n", uuid.NewString(), data)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (t *StreamableHTTPTransport) newSession() string {
	id := uuid.NewString()
	t.mu.Lock()
	t.sessions[id] = time.Now()
	t.mu.Unlock()
	return id
}

func (t *StreamableHTTPTransport) touchSession(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[id]; !ok {
		return false
	}
	t.sessions[id] = time.Now()
	return true
}

// cleanupSessions drops sessions idle for longer than sessionIdleTTL
func (t *StreamableHTTPTransport) cleanupSessions(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.mu.Lock()
			for id, lastSeen := range t.sessions {
				if now.Sub(lastSeen) > sessionIdleTTL {
					delete(t.sessions, id)
				}
			}
			t.mu.Unlock()
		}
	}
}

// ReadMessage always reports EOF; messages arrive as HTTP requests
func (t *StreamableHTTPTransport) ReadMessage() (*transport.Message, error) {
	return nil, io.EOF
}

// WriteMessage fails; every response is written on its own request
func (t *StreamableHTTPTransport) WriteMessage(*transport.Message) error {
	return ErrNoPush
}

// Close gracefully shuts down the HTTP server
func (t *StreamableHTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// isLoopback reports whether a host:port address is a loopback address
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
