// Package main is the entry point for the codeviz MCP server.
//
// The server executes untrusted user code (Python, JavaScript, Java, SQL, Go,
// C++) in network-disabled, resource-bounded containers and optionally
// renders the output as an image or formatted text. It speaks the Model
// Context Protocol over stdio or streamable HTTP.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
