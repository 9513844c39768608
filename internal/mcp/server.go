package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/zmcp/odata-provider/internal/constants"
	"github.com/zmcp/odata-provider/internal/transport"
)

// JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Tool represents an MCP tool
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ToolHandler is a function that handles tool execution. The returned value
// is sent to the client as a text content block.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// ToolError carries the JSON-RPC code a failed tool call is reported with.
// Handlers returning any other error are reported as internal errors.
type ToolError struct {
	Code    int
	Message string
	Data    interface{}
	Err     error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ToolError) Unwrap() error { return e.Err }

// Request represents an incoming MCP request
type Request struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      json.RawMessage        `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Server dispatches JSON-RPC messages to registered tools
type Server struct {
	name            string
	version         string
	protocolVersion string
	tools           map[string]*Tool
	toolOrder       []string
	handlers        map[string]ToolHandler
	transport       transport.Transport
	ctx             context.Context
	cancel          context.CancelFunc
	mu              sync.RWMutex
	initialized     bool
}

// NewServer creates a new MCP server
func NewServer(name, version string) *Server {
	// stdout carries JSON-RPC
	log.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		name:            name,
		version:         version,
		protocolVersion: constants.MCPProtocolVersion,
		tools:           make(map[string]*Tool),
		handlers:        make(map[string]ToolHandler),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// SetProtocolVersion overrides the protocol version announced on initialize
func (s *Server) SetProtocolVersion(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocolVersion = version
}

// AddTool registers a tool, replacing any tool of the same name
func (s *Server) AddTool(tool *Tool, handler ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tools[tool.Name]; !exists {
		s.toolOrder = append(s.toolOrder, tool.Name)
	}
	s.tools[tool.Name] = tool
	s.handlers[tool.Name] = handler
}

// RemoveTool removes a tool from the server
func (s *Server) RemoveTool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tools, name)
	delete(s.handlers, name)
	for i, toolName := range s.toolOrder {
		if toolName == name {
			s.toolOrder = append(s.toolOrder[:i], s.toolOrder[i+1:]...)
			break
		}
	}
}

// GetTools returns all registered tools in insertion order
func (s *Server) GetTools() []*Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]*Tool, 0, len(s.toolOrder))
	for _, name := range s.toolOrder {
		tools = append(tools, s.tools[name])
	}
	return tools
}

// Initialized reports whether the client sent the initialized notification
func (s *Server) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// SetTransport sets the transport for the server
func (s *Server) SetTransport(t transport.Transport) {
	s.transport = t
}

// Run starts the transport and blocks until it stops
func (s *Server) Run() error {
	if s.transport == nil {
		return fmt.Errorf("transport not set")
	}
	return s.transport.Start(s.ctx)
}

// Stop stops the MCP server
func (s *Server) Stop() {
	s.cancel()
}

// HandleMessage processes one incoming message. Notifications yield a nil response.
func (s *Server) HandleMessage(ctx context.Context, msg *transport.Message) (*transport.Message, error) {
	if msg.JSONRPC != "2.0" {
		return s.errorResponse(msg.ID, CodeInvalidRequest, "Invalid Request", "JSON-RPC version must be 2.0"), nil
	}

	req := &Request{
		JSONRPC: msg.JSONRPC,
		ID:      msg.ID,
		Method:  msg.Method,
		Params:  make(map[string]interface{}),
	}
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &req.Params); err != nil {
			return s.errorResponse(msg.ID, CodeParseError, "Parse error", err.Error()), nil
		}
	}

	switch req.Method {
	case "initialized", "notifications/initialized":
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		return nil, nil
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return s.response(req.ID, map[string]interface{}{"tools": s.GetTools()})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "resources/list":
		return s.response(req.ID, map[string]interface{}{"resources": []interface{}{}})
	case "prompts/list":
		return s.response(req.ID, map[string]interface{}{"prompts": []interface{}{}})
	case "ping":
		return s.response(req.ID, map[string]interface{}{})
	default:
		return s.errorResponse(req.ID, CodeMethodNotFound, "Method not found", req.Method), nil
	}
}

func (s *Server) handleInitialize(req *Request) (*transport.Message, error) {
	s.mu.RLock()
	version := s.protocolVersion
	s.mu.RUnlock()

	return s.response(req.ID, map[string]interface{}{
		"capabilities": map[string]interface{}{
			"prompts":   map[string]interface{}{"listChanged": false},
			"resources": map[string]interface{}{"listChanged": false, "subscribe": false},
			"tools":     map[string]interface{}{"listChanged": true},
		},
		"protocolVersion": version,
		"serverInfo": map[string]interface{}{
			"name":    s.name,
			"version": s.version,
		},
	})
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) (*transport.Message, error) {
	name, ok := req.Params["name"].(string)
	if !ok {
		return s.errorResponse(req.ID, CodeInvalidParams, "Invalid params", "Missing tool name"), nil
	}
	args, ok := req.Params["arguments"].(map[string]interface{})
	if !ok {
		args = make(map[string]interface{})
	}

	s.mu.RLock()
	handler, exists := s.handlers[name]
	s.mu.RUnlock()
	if !exists {
		return s.errorResponse(req.ID, CodeInvalidParams, "Invalid params", fmt.Sprintf("Tool not found: %s", name)), nil
	}

	result, err := handler(ctx, args)
	if err != nil {
		return s.toolErrorResponse(req.ID, name, err), nil
	}

	text, ok := result.(string)
	if !ok {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return s.errorResponse(req.ID, CodeInternalError, "Internal error", err.Error()), nil
		}
		text = string(data)
	}

	return s.response(req.ID, map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": text},
		},
	})
}

// toolErrorResponse reports a failed tool call with the handler's code when it
// supplied one
func (s *Server) toolErrorResponse(id json.RawMessage, tool string, err error) *transport.Message {
	code := CodeInternalError
	data := map[string]interface{}{"tool": tool, "error": err.Error()}

	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		code = toolErr.Code
		if toolErr.Data != nil {
			data["detail"] = toolErr.Data
		}
	}

	return s.errorResponse(id, code, fmt.Sprintf("tool '%s' failed: %s", tool, err.Error()), data)
}

// SendNotification sends a notification through the transport
func (s *Server) SendNotification(method string, params interface{}) error {
	if s.transport == nil {
		return fmt.Errorf("transport not set")
	}
	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return s.transport.WriteMessage(&transport.Message{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsBytes,
	})
}

// responseID converts a missing or null id to 0; some clients reject null ids
func responseID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 || string(id) == "null" {
		return json.RawMessage("0")
	}
	return id
}

func (s *Server) errorResponse(id json.RawMessage, code int, message string, data interface{}) *transport.Message {
	msg := &transport.Message{
		JSONRPC: "2.0",
		ID:      responseID(id),
		Error:   &transport.Error{Code: code, Message: message},
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			msg.Error.Data = raw
		}
	}
	return msg
}

func (s *Server) response(id json.RawMessage, result interface{}) (*transport.Message, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &transport.Message{
		JSONRPC: "2.0",
		ID:      responseID(id),
		Result:  resultBytes,
	}, nil
}
