// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the executor as two MCP tools,
// execute_code and list_supported_languages, using the mark3labs/mcp-go
// library for the protocol details. Tool results are the JSON encoding of
// executor.Result and of {"languages": [...]}.
//
// The server runs over stdio or streamable HTTP as configured. In HTTP mode
// the same listener also serves a plain JSON API (POST /execute,
// GET /supported-languages), GET /health and GET /metrics.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, exec, metrics)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio(ctx) // or server.ServeHTTP(ctx)
package mcpserver
