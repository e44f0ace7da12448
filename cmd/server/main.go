package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/codeviz/config"
	"github.com/isdmx/codeviz/executor"
	"github.com/isdmx/codeviz/logger"
	"github.com/isdmx/codeviz/mcpserver"
	"github.com/isdmx/codeviz/metrics"
	"github.com/isdmx/codeviz/registry"
	"github.com/isdmx/codeviz/sandbox"
	"github.com/isdmx/codeviz/visualize"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.New,
			logger.NewFromConfig,
			metrics.New,

			// Sandbox stack on the configured isolation backend
			sandbox.NewConfig,
			newBackend,
			fx.Annotate(sandbox.NewProvisioner, fx.As(new(executor.Provisioner))),
			fx.Annotate(sandbox.NewRunner, fx.As(new(executor.Runner))),

			fx.Annotate(registry.NewFromConfig, fx.As(new(executor.LanguageRegistry))),
			fx.Annotate(visualize.New, fx.As(new(executor.Renderer))),
			func(m *metrics.Metrics) executor.Recorder { return m },
			func(m *metrics.Metrics) visualize.FailureRecorder { return m },

			fx.Annotate(executor.New, fx.As(new(mcpserver.Executor))),
			mcpserver.New,
		),

		fx.Invoke(startTransport),

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	app.Run()
}

// newBackend connects to the isolation backend and closes the client when
// the application stops
func newBackend(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config) (sandbox.Backend, error) {
	backend, err := sandbox.NewBackend(log, cfg)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := backend.Ping(ctx); err != nil {
				// executions report the failure until the backend comes up
				log.Warn("isolation backend not reachable", zap.String("backend", cfg.Sandbox.Backend), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return backend.Close()
		},
	})
	return backend, nil
}

// startTransport serves the configured transport for the lifetime of the
// application. The application shuts down when the transport ends on its
// own, e.g. when stdin is closed.
func startTransport(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, log *zap.Logger, server *mcpserver.MCPServer) error {
	var serve func(context.Context) error
	switch cfg.Server.Transport {
	case "stdio":
		serve = server.ServeStdio
	case "http":
		serve = server.ServeHTTP
	default:
		return fmt.Errorf("unsupported transport: %s", cfg.Server.Transport)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				err := serve(ctx)
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Error("transport stopped", zap.String("transport", cfg.Server.Transport), zap.Error(err))
				}
				if ctx.Err() == nil {
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
	return nil
}
