// Package mcp exposes the chat export pipeline as an MCP (Model Context Protocol)
// server so agent clients can verify the device, list chats and run exports.
package mcp

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"chatexport/pkg/types"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Type aliases from shared types package
type (
	VerificationResult = types.VerificationResult
	ChatHandle         = types.ChatHandle
	ExportAttempt      = types.ExportAttempt
	RunSummary         = types.RunSummary
	AttemptRecord      = types.AttemptRecord
)

// BatchRequest is the tool-facing shape of a batch run
type BatchRequest struct {
	Chats     []string `json:"chats,omitempty"`
	Order     string   `json:"order,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	Range     string   `json:"range,omitempty"`
	WithMedia bool     `json:"withMedia"`
	Resume    bool     `json:"resume"`
}

// ExportApp is what the server needs from the application
type ExportApp interface {
	GetAppVersion() string
	DeviceID() string

	VerifyReady(ctx context.Context) VerificationResult
	ListChats(ctx context.Context, order string, limit int) ([]ChatHandle, error)
	ExportChat(ctx context.Context, name string, withMedia bool) ExportAttempt
	ReturnToBaseline(ctx context.Context) error
	RunBatch(ctx context.Context, req BatchRequest) (RunSummary, error)
	ExportHistory(limit int) ([]AttemptRecord, error)
}

// MCPServer wraps the MCP server with the application
type MCPServer struct {
	app       ExportApp
	server    *server.MCPServer
	stdio     *server.StdioServer
	mu        sync.Mutex
	isRunning bool
}

// NewMCPServer creates a server with every tool and resource registered
func NewMCPServer(app ExportApp) *MCPServer {
	mcpServer := server.NewMCPServer(
		"chatexport",
		app.GetAppVersion(),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithLogging(),
	)

	s := &MCPServer{
		app:    app,
		server: mcpServer,
	}

	s.registerTools()
	s.registerResources()

	return s
}

func (s *MCPServer) registerTools() {
	s.registerDeviceTools()
	s.registerExportTools()
}

func (s *MCPServer) registerResources() {
	s.server.AddResource(
		mcp.NewResource(
			"chatexport://history",
			"Recent export attempts",
			mcp.WithMIMEType("application/json"),
		),
		s.handleHistoryResource,
	)

	s.server.AddResource(
		mcp.NewResource(
			"chatexport://device",
			"Connected device and current verification state",
			mcp.WithMIMEType("application/json"),
		),
		s.handleDeviceResource,
	)
}

// Start runs the server on stdio and blocks until it shuts down
func (s *MCPServer) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("MCP server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	return s.run()
}

func (s *MCPServer) run() error {
	s.stdio = server.NewStdioServer(s.server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintln(os.Stderr, "[MCP] chatexport MCP server started")
	err := s.stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[MCP] Server error: %v\n", err)
	}

	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()

	return err
}

// Stop marks the server stopped; the stdio loop ends with stdin or on interrupt
func (s *MCPServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isRunning = false
}

// IsRunning returns whether the MCP server is running
func (s *MCPServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
