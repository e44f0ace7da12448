package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/codeviz/config"
	"github.com/isdmx/codeviz/executor"
	"github.com/isdmx/codeviz/metrics"
	"github.com/isdmx/codeviz/registry"
	"github.com/isdmx/codeviz/visualize"
)

const (
	serverName    = "codeviz"
	serverVersion = "1.0.0"

	readHeaderTimeout = 10 * time.Second
	maxRequestBytes   = 4 << 20
)

// Executor is the orchestrator the tools call into
type Executor interface {
	Execute(ctx context.Context, p executor.Profile) (executor.Result, error)
	ListSupportedLanguages() []string
}

// MCPServer exposes the executor as MCP tools, over stdio or streamable HTTP
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	executor  Executor
	metrics   *metrics.Metrics
	mcpServer *server.MCPServer
}

// New creates a new MCPServer. m may be nil, in which case /metrics is not served.
func New(cfg *config.Config, logger *zap.Logger, exec Executor, m *metrics.Metrics) (*MCPServer, error) {
	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		executor: exec,
		metrics:  m,
	}

	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("sandbox.backend", cfg.Sandbox.Backend),
		zap.Int("sandbox.timeout_sec", cfg.Sandbox.TimeoutSec),
		zap.Int("sandbox.max_timeout_sec", cfg.Sandbox.MaxTimeoutSec),
		zap.Int("sandbox.memory_mb", cfg.Sandbox.MemoryMB),
		zap.Int("sandbox.max_memory_mb", cfg.Sandbox.MaxMemoryMB),
		zap.Float64("sandbox.cpus", cfg.Sandbox.CPUs),
		zap.Int("sandbox.max_output_kb", cfg.Sandbox.MaxOutputKB),
		zap.Int("sandbox.max_artifact_size_mb", cfg.Sandbox.MaxArtifactSizeMB),
		zap.Strings("languages", exec.ListSupportedLanguages()),
	)

	s.mcpServer = server.NewMCPServer(serverName, serverVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.registerExecuteCodeTool()
	s.registerListLanguagesTool()

	return s, nil
}

func (s *MCPServer) registerExecuteCodeTool() {
	tool := mcp.Tool{
		Name:        "execute_code",
		Description: "Execute untrusted code in an isolated, network-disabled sandbox and optionally visualize its output",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"language": map[string]any{
					"type":        "string",
					"description": "Runtime language",
					"enum":        s.executor.ListSupportedLanguages(),
				},
				"code": map[string]any{
					"type":        "string",
					"description": "User-provided source code",
				},
				"input_data": map[string]any{
					"type":        "object",
					"description": "Structured input, readable inside the sandbox from the file named by $SANDBOX_INPUT",
				},
				"timeout": map[string]any{
					"type":        "integer",
					"description": fmt.Sprintf("Time limit in seconds (default %d, at most %d)", s.config.Sandbox.TimeoutSec, s.config.Sandbox.MaxTimeoutSec),
					"minimum":     1,
				},
				"memory_limit": map[string]any{
					"type":        "integer",
					"description": fmt.Sprintf("Memory limit in MB (default %d, at most %d)", s.config.Sandbox.MemoryMB, s.config.Sandbox.MaxMemoryMB),
					"minimum":     1,
				},
				"visualization_type": map[string]any{
					"type":        "string",
					"description": "Render the output as an image (first image written to $SANDBOX_OUTPUT_DIR), as formatted text, or both",
					"enum":        []string{"none", "image", "text", "both"},
				},
			},
			Required: []string{"language", "code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

func (s *MCPServer) registerListLanguagesTool() {
	tool := mcp.Tool{
		Name:        "list_supported_languages",
		Description: "List the languages code can be executed in",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}

	s.mcpServer.AddTool(tool, s.handleListLanguages)
}

func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	language, err := request.RequireString("language")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("language parameter is required: %v", err)), nil
	}

	code, err := request.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("code parameter is required: %v", err)), nil
	}

	profile := executor.Profile{
		Language:      language,
		Code:          code,
		TimeoutSec:    request.GetInt("timeout", 0),
		MemoryLimitMB: request.GetInt("memory_limit", 0),
	}
	profile.Visualization, err = visualize.ParseMode(request.GetString("visualization_type", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if raw, ok := request.GetArguments()["input_data"]; ok && raw != nil {
		input, ok := raw.(map[string]any)
		if !ok {
			return mcp.NewToolResultError("input_data must be an object"), nil
		}
		profile.InputData = input
	}

	s.logger.Info("code execution requested",
		zap.String("language", language),
		zap.Bool("has_input", profile.InputData != nil),
		zap.String("visualization", string(profile.Visualization)))

	result, err := s.executor.Execute(ctx, profile)
	if err != nil {
		s.logger.Warn("execution rejected", zap.String("language", language), zap.Error(err))
		return mcp.NewToolResultError(err.Error()), nil
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	toolResult := mcp.NewToolResultText(string(payload))
	toolResult.IsError = result.Status == executor.StatusError
	return toolResult, nil
}

func (s *MCPServer) handleListLanguages(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payload, err := json.Marshal(languagesResponse{Languages: s.executor.ListSupportedLanguages()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode languages: %w", err)
	}
	return mcp.NewToolResultText(string(payload)), nil
}

type languagesResponse struct {
	Languages []string `json:"languages"`
}

// ServeStdio serves MCP on stdin/stdout until ctx is cancelled or stdin closes
func (s *MCPServer) ServeStdio(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio")

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger.Named("stdio")))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// Handler returns the HTTP routes: MCP over streamable HTTP on /mcp, the
// plain JSON API, the liveness probe and, when metrics are enabled, the
// Prometheus endpoint
func (s *MCPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/mcp", server.NewStreamableHTTPServer(s.mcpServer, server.WithEndpointPath("/mcp")))
	mux.HandleFunc("POST /execute", s.handleExecuteHTTP)
	mux.HandleFunc("GET /supported-languages", s.handleLanguagesHTTP)
	mux.HandleFunc("GET /health", handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// ServeHTTP listens on the configured port until ctx is cancelled, then shuts
// the listener down gracefully
func (s *MCPServer) ServeHTTP(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Server.HTTPPort)
	s.logger.Info("starting MCP server on HTTP", zap.String("addr", addr))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          zap.NewStdLog(s.logger.Named("http")),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), readHeaderTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *MCPServer) handleExecuteHTTP(w http.ResponseWriter, r *http.Request) {
	var profile executor.Profile
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := decoder.Decode(&profile); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	result, err := s.executor.Execute(r.Context(), profile)
	switch {
	case errors.Is(err, registry.ErrUnsupportedLanguage), errors.Is(err, executor.ErrInvalidProfile):
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: err.Error()})
	case err != nil:
		s.logger.Error("execution failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: err.Error()})
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *MCPServer) handleLanguagesHTTP(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, languagesResponse{Languages: s.executor.ListSupportedLanguages()})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GetMCPServer returns the underlying MCP server
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
