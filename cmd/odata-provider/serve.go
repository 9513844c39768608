package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zmcp/odata-provider/internal/bridge"
	"github.com/zmcp/odata-provider/internal/transport"
	httptransport "github.com/zmcp/odata-provider/internal/transport/http"
	"github.com/zmcp/odata-provider/internal/transport/stdio"
)

var serveCmd = &cobra.Command{
	Use:   "serve [service-url]",
	Short: "Serve the provider as MCP tools over stdio or HTTP",
	Args:  cobra.MaximumNArgs(1),
}

func init() {
	serveCmd.RunE = runServe
	serveCmd.Flags().AddFlagSet(serveFlags)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, args)
	if err != nil {
		return err
	}
	defer s.Close()
	cfg := s.cfg

	b := bridge.New(s.provider, bridge.Options{
		ServiceURL:     cfg.ServiceURL,
		ToolPrefix:     cfg.ToolPrefix,
		ReadOnly:       cfg.ReadOnly,
		Authentication: s.authName,
		Tracer:         s.tracer,
		Verbose:        cfg.IsVerbose(),
	})

	var t transport.Transport
	switch strings.ToLower(cfg.Transport) {
	case "", "stdio":
		st := stdio.New(b.HandleMessage)
		st.SetTracer(s.tracer)
		t = st
	case "http", "streamable-http":
		if cfg.IAmSecurityExpert {
			fmt.Fprintf(os.Stderr, "WARNING: accepting MCP connections from any address on %s\n", cfg.HTTPAddr)
		}
		t = httptransport.NewStreamableHTTP(b.HandleMessage, httptransport.Options{
			Addr:           cfg.HTTPAddr,
			AllowRemote:    cfg.IAmSecurityExpert,
			AllowedOrigins: cfg.AllowedOrigins,
			Health:         func() interface{} { return b.Info() },
			Tracer:         s.tracer,
			Verbose:        cfg.IsVerbose(),
		})
	default:
		return fmt.Errorf("unsupported transport %q (use 'stdio' or 'http')", cfg.Transport)
	}
	b.SetTransport(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Run()
	}()

	select {
	case <-ctx.Done():
		if cfg.IsVerbose() {
			fmt.Fprintf(os.Stderr, "\n[VERBOSE] Shutting down...\n")
		}
		b.Stop()
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}
