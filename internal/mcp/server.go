// Package mcp exposes the duplicate analysis surface as MCP tools, over
// stdio for editor clients and over streamable HTTP for remote ones.
package mcp

import (
	"context"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"dupescope/internal/annotations"
	"dupescope/internal/query"
)

// Server is the MCP server for dupescope.
type Server struct {
	engine *query.Engine
	store  *annotations.Store
	server *mcp.Server
}

// NewServer creates the MCP server and registers its tools.
func NewServer(engine *query.Engine, store *annotations.Store, version string) *Server {
	impl := &mcp.Implementation{
		Name:    "dupescope",
		Version: version,
	}

	s := &Server{
		engine: engine,
		store:  store,
		server: mcp.NewServer(impl, nil),
	}
	s.registerTools()
	return s
}

// Run starts the MCP server over stdio.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP starts the MCP server over HTTP on the specified address.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background()) //nolint:errcheck
	}()

	err := httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
