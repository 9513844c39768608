// Package transport carries JSON-RPC messages between an MCP client and the bridge.
package transport

import (
	"context"
	"encoding/json"
)

// CodeInternalError is returned when a handler fails outright.
const CodeInternalError = -32603

// Message is one JSON-RPC 2.0 request, notification or response.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ErrorResponse wraps a handler failure as a response to msg.
func ErrorResponse(msg *Message, err error) *Message {
	return &Message{
		JSONRPC: "2.0",
		ID:      msg.ID,
		Error:   &Error{Code: CodeInternalError, Message: err.Error()},
	}
}

// Transport moves messages for one bridge.
type Transport interface {
	Start(ctx context.Context) error
	ReadMessage() (*Message, error)
	WriteMessage(msg *Message) error
	Close() error
}

// Handler answers one message. A nil response means nothing is written back.
type Handler func(ctx context.Context, msg *Message) (*Message, error)
