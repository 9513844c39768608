package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/zmcp/odata-provider/internal/debug"
	"github.com/zmcp/odata-provider/internal/transport"
)

// maxLineBytes bounds a single JSON-RPC line
const maxLineBytes = 16 << 20

// StdioTransport exchanges line-delimited JSON-RPC messages over stdin/stdout
type StdioTransport struct {
	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex
	handler transport.Handler
	tracer  *debug.TraceLogger
}

// New creates a transport on the process stdin and stdout
func New(handler transport.Handler) *StdioTransport {
	return NewWithIO(os.Stdin, os.Stdout, handler)
}

// NewWithIO creates a transport on arbitrary streams
func NewWithIO(r io.Reader, w io.Writer, handler transport.Handler) *StdioTransport {
	return &StdioTransport{
		reader:  bufio.NewReaderSize(r, 64*1024),
		writer:  w,
		handler: handler,
	}
}

// SetTracer sets the trace logger
func (t *StdioTransport) SetTracer(tracer *debug.TraceLogger) {
	t.tracer = tracer
}

// Start processes messages until EOF or ctx is cancelled. Malformed lines are
// skipped; nothing is written to stderr.
func (t *StdioTransport) Start(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := t.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			continue
		}

		// responses and messages without a method are ignored
		if msg.Method == "" || t.handler == nil {
			continue
		}

		response, err := t.handler(ctx, msg)
		if err != nil {
			response = transport.ErrorResponse(msg, err)
			if len(response.ID) == 0 || string(response.ID) == "null" {
				response.ID = json.RawMessage("0")
			}
		}
		if response != nil {
			if err := t.WriteMessage(response); err != nil {
				t.tracer.LogError("Failed to write response", err, nil)
			}
		}
	}
}

// ReadMessage reads one line-delimited JSON message
func (t *StdioTransport) ReadMessage() (*transport.Message, error) {
	line, err := t.reader.ReadBytes('\n')
	if len(line) > maxLineBytes {
		return nil, fmt.Errorf("message exceeds %d bytes", maxLineBytes)
	}
	if err != nil && (len(line) == 0 || !errors.Is(err, io.EOF)) {
		return nil, err
	}

	t.tracer.Log("TRANSPORT_IN", "Raw message received", map[string]interface{}{
		"raw":  string(line),
		"size": len(line),
	})

	var msg transport.Message
	if err := json.Unmarshal(line, &msg); err != nil {
		t.tracer.LogError("Failed to unmarshal message", err, map[string]interface{}{"raw": string(line)})
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	t.tracer.Log("TRANSPORT_PARSED", "Message parsed", map[string]interface{}{
		"method":     msg.Method,
		"id":         msg.ID,
		"has_params": len(msg.Params) > 0,
	})
	return &msg, nil
}

// WriteMessage writes one JSON message followed by a newline
func (t *StdioTransport) WriteMessage(msg *transport.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		t.tracer.LogError("Failed to marshal message", err, nil)
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	t.tracer.Log("TRANSPORT_OUT", "Sending message", map[string]interface{}{
		"id":         msg.ID,
		"has_result": msg.Result != nil,
		"has_error":  msg.Error != nil,
		"size":       len(data),
	})

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.writer.Write(append(data, '\n'))
	return err
}

// Close is a no-op for stdio
func (t *StdioTransport) Close() error {
	return nil
}
