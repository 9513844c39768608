// Package bridge exposes the data provider as MCP tools.
package bridge

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/zmcp/odata-provider/internal/constants"
	"github.com/zmcp/odata-provider/internal/debug"
	"github.com/zmcp/odata-provider/internal/mcp"
	"github.com/zmcp/odata-provider/internal/provider"
	"github.com/zmcp/odata-provider/internal/transport"
)

// Options configure the bridge
type Options struct {
	ServiceURL string
	// ToolPrefix is prepended to every tool name, e.g. "northwind_"
	ToolPrefix string
	// ReadOnly hides create, update and delete tools
	ReadOnly bool
	// Authentication describes the configured auth method for Info
	Authentication string
	// Tracer records every MCP request and response; nil disables tracing
	Tracer  *debug.TraceLogger
	Verbose bool
}

// Info summarises the bridge for health checks and diagnostics
type Info struct {
	ServiceURL     string   `json:"service_url"`
	ODataVersion   string   `json:"odata_version"`
	Fingerprint    string   `json:"schema_fingerprint"`
	Authentication string   `json:"authentication"`
	ReadOnly       bool     `json:"read_only"`
	Resources      int      `json:"resources"`
	Tools          []string `json:"tools"`
}

// ODataBridge connects a data provider to an MCP server
type ODataBridge struct {
	opts     Options
	provider *provider.DataProvider
	server   *mcp.Server
	tools    []string
	mu       sync.Mutex
	running  bool
}

// New registers the tool set for p on a fresh MCP server
func New(p *provider.DataProvider, opts Options) *ODataBridge {
	b := &ODataBridge{
		opts:     opts,
		provider: p,
		server:   mcp.NewServer(constants.MCPServerName, constants.MCPServerVersion),
	}
	b.registerTools()

	if opts.Verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] Registered %d tools for %d resources\n", len(b.tools), p.Catalog().Len())
	}
	return b
}

// GetServer returns the MCP server instance
func (b *ODataBridge) GetServer() *mcp.Server {
	return b.server
}

// SetTransport sets the transport for the MCP server
func (b *ODataBridge) SetTransport(t transport.Transport) {
	b.server.SetTransport(t)
}

// HandleMessage delegates message handling to the MCP server
func (b *ODataBridge) HandleMessage(ctx context.Context, msg *transport.Message) (*transport.Message, error) {
	b.opts.Tracer.LogRequest(msg.Method, msg)
	resp, err := b.server.HandleMessage(ctx, msg)
	b.opts.Tracer.LogResponse(resp, err)
	return resp, err
}

// Run starts the MCP server and blocks until the transport stops
func (b *ODataBridge) Run() error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("bridge is already running")
	}
	b.running = true
	b.mu.Unlock()

	return b.server.Run()
}

// Stop stops the MCP bridge
func (b *ODataBridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	b.running = false
	b.server.Stop()
}

// Info reports the service, schema and registered tools
func (b *ODataBridge) Info() Info {
	catalog := b.provider.Catalog()
	auth := b.opts.Authentication
	if auth == "" {
		auth = "None (anonymous)"
	}

	resources, _ := b.provider.GetResources(context.Background())
	tools := make([]string, len(b.tools))
	copy(tools, b.tools)

	return Info{
		ServiceURL:     b.opts.ServiceURL,
		ODataVersion:   catalog.Version,
		Fingerprint:    catalog.Fingerprint,
		Authentication: auth,
		ReadOnly:       b.opts.ReadOnly,
		Resources:      len(resources.Names),
		Tools:          tools,
	}
}
