package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxlearn/internal/hooks"
)

// HookService is the set of verbs exposed as tools. *hooks.Dispatcher
// implements it.
type HookService interface {
	PreTask(ctx context.Context, req hooks.PreTaskRequest) (hooks.PreTaskResponse, error)
	PostTask(ctx context.Context, req hooks.PostTaskRequest) (hooks.PostTaskResponse, error)
	PreCommand(ctx context.Context, req hooks.PreCommandRequest) (hooks.PreCommandResponse, error)
	SessionStart(ctx context.Context, req hooks.SessionStartRequest) (hooks.SessionStartResponse, error)
	SessionEnd(ctx context.Context, req hooks.SessionEndRequest) (hooks.SessionEndResponse, error)
}

// Server is an MCP server backed by a HookService.
type Server struct {
	mcp     *mcp.Server
	hooks   HookService
	metrics *toolMetrics
	logger  *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "ctxlearn")
	Name string

	// Version is the server version (default: "0.1.0")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// Meter records tool metrics (default: the global meter provider)
	Meter metric.Meter
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ctxlearn",
		Version: "0.1.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a new MCP server with the five hook tools registered.
func NewServer(cfg *Config, svc HookService) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if svc == nil {
		return nil, fmt.Errorf("hook service is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	name, version := cfg.Name, cfg.Version
	if name == "" {
		name = "ctxlearn"
	}
	if version == "" {
		version = "0.1.0"
	}

	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	tm, err := newToolMetrics(meter)
	if err != nil {
		logger.Warn("some MCP tool metrics are unavailable", zap.Error(err))
	}

	s := &Server{
		mcp:     mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		hooks:   svc,
		metrics: tm,
		logger:  logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on t. Used with in-memory transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
