package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-provider/internal/transport"
)

func handler(_ context.Context, msg *transport.Message) (*transport.Message, error) {
	if strings.HasPrefix(msg.Method, "notifications/") {
		return nil, nil
	}
	return &transport.Message{JSONRPC: "2.0", ID: msg.ID, Result: json.RawMessage(`{"ok":true}`)}, nil
}

func post(t *testing.T, h http.Handler, body, session, accept string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:40000"
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSessionLifecycle(t *testing.T) {
	h := NewStreamableHTTP(handler, Options{}).Handler()

	rec := post(t, h, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	session := rec.Header().Get(SessionHeader)
	require.NotEmpty(t, session)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Server-Timing"), "mcp")

	rec = post(t, h, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, session, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = post(t, h, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, "unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	del := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	del.RemoteAddr = "127.0.0.1:40000"
	del.Header.Set(SessionHeader, session)
	delRec := httptest.NewRecorder()
	h.ServeHTTP(delRec, del)
	assert.Equal(t, http.StatusNoContent, delRec.Code)

	rec = post(t, h, `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`, session, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToolCallAsEvent(t *testing.T) {
	h := NewStreamableHTTP(handler, Options{}).Handler()

	rec := post(t, h, `{"jsonrpc":"2.0","id":9,"method":"tools/call"}`, "", "application/json, text/event-stream")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: message\n")
	assert.Contains(t, rec.Body.String(), `data: {"jsonrpc":"2.0","id":9,"result":{"ok":true}}`)
}

func TestRejectsRemoteAndBadRequests(t *testing.T) {
	h := NewStreamableHTTP(handler, Options{}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{}`))
	req.RemoteAddr = "203.0.113.7:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	remote := NewStreamableHTTP(handler, Options{AllowRemote: true}).Handler()
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	req.RemoteAddr = "203.0.113.7:5000"
	remote.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = post(t, h, `{broken`, "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	get := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	get.RemoteAddr = "127.0.0.1:1"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, get)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := NewStreamableHTTP(handler, Options{AllowedOrigins: []string{"https://app.example.com"}}).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	req.RemoteAddr = "127.0.0.1:1"
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealth(t *testing.T) {
	h := NewStreamableHTTP(handler, Options{
		Health: func() interface{} { return map[string]string{"schema_fingerprint": "abc"} },
	}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "[::1]:9"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","transport":"streamable-http","protocol":"2024-11-05","service":{"schema_fingerprint":"abc"}}`, rec.Body.String())
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("127.0.0.1:80"))
	assert.True(t, isLoopback("[::1]:80"))
	assert.True(t, isLoopback("localhost:80"))
	assert.False(t, isLoopback("10.0.0.1:80"))
	assert.False(t, isLoopback("127.example.com:80"))
}
