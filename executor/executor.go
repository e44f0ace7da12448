package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/codeviz/config"
	"github.com/isdmx/codeviz/logger"
	"github.com/isdmx/codeviz/registry"
	"github.com/isdmx/codeviz/sandbox"
	"github.com/isdmx/codeviz/visualize"
)

// LanguageRegistry resolves language identifiers to descriptors
type LanguageRegistry interface {
	Resolve(id string) (registry.LanguageDescriptor, error)
	ListSupported() []string
}

// Provisioner creates and destroys sandboxes
type Provisioner interface {
	Provision(ctx context.Context, desc registry.LanguageDescriptor, memoryMB int) (*sandbox.Sandbox, error)
	Release(ctx context.Context, sb *sandbox.Sandbox) error
}

// Runner runs code inside a provisioned sandbox
type Runner interface {
	Run(ctx context.Context, sb *sandbox.Sandbox, req sandbox.RunRequest) sandbox.Outcome
}

// Renderer produces the optional visualizations of a run
type Renderer interface {
	Render(ctx context.Context, in visualize.Input, mode visualize.Mode) *visualize.Visualization
}

// Recorder receives execution metrics
type Recorder interface {
	ExecutionFinished(language, status, kind string, seconds, memoryMB float64, ran bool)
	SandboxProvisioned()
	SandboxReleased(err error)
	ProvisionFailed(language string)
}

// Executor runs execution profiles end to end: resolve, provision, run,
// release, normalize and render. It is safe for concurrent use; every call
// owns its sandbox exclusively.
type Executor struct {
	logger      *zap.Logger
	registry    LanguageRegistry
	provisioner Provisioner
	runner      Runner
	renderer    Renderer
	recorder    Recorder

	defaultTimeout  time.Duration
	maxTimeout      time.Duration
	defaultMemoryMB int
	maxMemoryMB     int
}

// New creates an Executor. recorder may be nil.
func New(
	logger *zap.Logger,
	cfg *config.Config,
	languages LanguageRegistry,
	provisioner Provisioner,
	runner Runner,
	renderer Renderer,
	recorder Recorder,
) *Executor {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Executor{
		logger:          logger,
		registry:        languages,
		provisioner:     provisioner,
		runner:          runner,
		renderer:        renderer,
		recorder:        recorder,
		defaultTimeout:  cfg.GetTimeout(),
		maxTimeout:      time.Duration(cfg.Sandbox.MaxTimeoutSec) * time.Second,
		defaultMemoryMB: cfg.Sandbox.MemoryMB,
		maxMemoryMB:     cfg.Sandbox.MaxMemoryMB,
	}
}

// ListSupportedLanguages returns the registered language identifiers in a
// stable order
func (e *Executor) ListSupportedLanguages() []string {
	return e.registry.ListSupported()
}

// Execute runs p in a fresh sandbox. It only returns an error for profiles
// that are rejected before any sandbox is created: unknown languages
// (registry.ErrUnsupportedLanguage) and invalid limits or modes
// (ErrInvalidProfile). Every other failure is reported in the Result.
func (e *Executor) Execute(ctx context.Context, p Profile) (Result, error) {
	desc, err := e.registry.Resolve(p.Language)
	if err != nil {
		return Result{}, err
	}

	timeout, memoryMB, err := e.limits(p)
	if err != nil {
		return Result{}, err
	}

	mode, err := visualize.ParseMode(string(p.Visualization))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}

	log := logger.WithExecution(e.logger, desc.ID)
	log.Debug("execution accepted",
		zap.Duration("timeout", timeout),
		zap.Int("memory_mb", memoryMB),
		zap.String("visualization", string(mode)),
		zap.Int("code_len", len(p.Code)))

	outcome := e.runIsolated(ctx, log, desc, memoryMB, sandbox.RunRequest{
		Code:             p.Code,
		InputData:        p.InputData,
		Timeout:          timeout,
		CollectArtifacts: mode.WantsImage(),
	})

	result := Normalize(outcome)
	if mode != visualize.ModeNone {
		result.Visualization = e.renderer.Render(ctx, visualize.Input{
			Stdout:    outcome.Stdout,
			Artifacts: outcome.Artifacts,
		}, mode)
	}

	e.recorder.ExecutionFinished(desc.ID, string(result.Status), string(result.Kind),
		result.ExecutionTime, result.MemoryUsage, result.Kind != KindHostError)

	log.Info("execution finished",
		zap.String("status", string(result.Status)),
		zap.String("kind", string(result.Kind)),
		zap.Float64("execution_time", result.ExecutionTime),
		zap.Float64("memory_usage_mb", result.MemoryUsage),
		zap.Bool("visualized", !result.Visualization.Empty()))

	return result, nil
}

// runIsolated provisions a sandbox, runs req in it and releases it again,
// whatever happens in between
func (e *Executor) runIsolated(ctx context.Context, log *zap.Logger, desc registry.LanguageDescriptor, memoryMB int, req sandbox.RunRequest) (outcome sandbox.Outcome) {
	sb, err := e.provisioner.Provision(ctx, desc, memoryMB)
	if err != nil {
		e.recorder.ProvisionFailed(desc.ID)
		log.Error("failed to provision sandbox", zap.Error(err))
		return sandbox.HostFailure(err)
	}
	e.recorder.SandboxProvisioned()
	log = logger.WithSandbox(log, sb.ID, sb.ContainerID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("sandboxed run panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			outcome = sandbox.HostFailure(fmt.Errorf("run aborted: %v", r))
		}
		e.recorder.SandboxReleased(e.provisioner.Release(ctx, sb))
	}()

	return e.runner.Run(ctx, sb, req)
}

func (e *Executor) limits(p Profile) (time.Duration, int, error) {
	timeout := e.defaultTimeout
	switch {
	case p.TimeoutSec < 0:
		return 0, 0, fmt.Errorf("%w: timeout must be positive, got: %d", ErrInvalidProfile, p.TimeoutSec)
	case p.TimeoutSec > 0:
		timeout = time.Duration(p.TimeoutSec) * time.Second
	}
	if timeout > e.maxTimeout {
		return 0, 0, fmt.Errorf("%w: timeout must not exceed %s, got: %s", ErrInvalidProfile, e.maxTimeout, timeout)
	}

	memoryMB := e.defaultMemoryMB
	switch {
	case p.MemoryLimitMB < 0:
		return 0, 0, fmt.Errorf("%w: memory limit must be positive, got: %d", ErrInvalidProfile, p.MemoryLimitMB)
	case p.MemoryLimitMB > 0:
		memoryMB = p.MemoryLimitMB
	}
	if memoryMB > e.maxMemoryMB {
		return 0, 0, fmt.Errorf("%w: memory limit must not exceed %d MB, got: %d MB", ErrInvalidProfile, e.maxMemoryMB, memoryMB)
	}

	return timeout, memoryMB, nil
}

type nopRecorder struct{}

func (nopRecorder) ExecutionFinished(string, string, string, float64, float64, bool) {}
func (nopRecorder) SandboxProvisioned() {}
func (nopRecorder) SandboxReleased(error) {}
func (nopRecorder) ProvisionFailed(string) {}
