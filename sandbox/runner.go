package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/codeviz/logger"
)

// RunRequest is what the runner injects into a sandbox
type RunRequest struct {
	Code      string
	InputData map[string]any
	Timeout   time.Duration
	// CollectArtifacts copies the output directory out of the sandbox
	// after the run, for image visualization.
	CollectArtifacts bool
}

// Runner injects code into a provisioned sandbox and runs it under a Guard
type Runner struct {
	logger  *zap.Logger
	backend Backend
	config  *Config
}

// NewRunner creates a Runner on top of backend
func NewRunner(logger *zap.Logger, config *Config, backend Backend) *Runner {
	return &Runner{
		logger:  logger,
		backend: backend,
		config:  config,
	}
}

// Run executes req inside sb and returns once the process has exited or has
// been terminated. The sandbox's launch command was fixed when it was
// provisioned. Run never releases sb.
func (r *Runner) Run(ctx context.Context, sb *Sandbox, req RunRequest) Outcome {
	log := logger.WithSandbox(logger.WithExecution(r.logger, sb.Descriptor.ID), sb.ID, sb.ContainerID)

	workspace, err := BuildWorkspace(sb.Descriptor, req.Code, req.InputData)
	if err != nil {
		return r.hostFailure(sb, req, fmt.Errorf("failed to prepare workspace: %w", err))
	}

	if err := r.backend.CopyTo(ctx, sb.ContainerID, "/", bytes.NewReader(workspace)); err != nil {
		return r.hostFailure(sb, req, fmt.Errorf("failed to inject code: %w", err))
	}

	stdout := newLimitedBuffer(r.config.MaxOutputBytes)
	stderr := newLimitedBuffer(r.config.MaxOutputBytes)

	guard := NewGuard(log, r.backend, GuardConfig{
		Timeout:      req.Timeout,
		PollInterval: r.config.PollInterval,
		KillGrace:    r.config.KillGrace,
	})

	start := time.Now()
	exitCh, err := r.backend.Start(ctx, sb.ContainerID, stdout, stderr)
	if err != nil {
		return r.hostFailure(sb, req, fmt.Errorf("failed to start sandboxed process: %w", err))
	}

	verdict := guard.Supervise(ctx, sb.ContainerID, exitCh, start)

	outcome := Outcome{
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		ExitCode:        verdict.ExitCode,
		Duration:        verdict.Elapsed,
		PeakMemoryBytes: verdict.PeakMemoryBytes,
		Cause:           verdict.State.Cause(),
		Err:             verdict.Err,
		Timeout:         req.Timeout,
		MemoryMB:        sb.MemoryMB,
	}

	log.Debug("sandboxed run finished",
		zap.String("state", verdict.State.String()),
		zap.Int("exit_code", verdict.ExitCode),
		zap.Duration("elapsed", verdict.Elapsed),
		zap.Uint64("peak_memory_bytes", verdict.PeakMemoryBytes),
		zap.Bool("stdout_truncated", outcome.StdoutTruncated),
		zap.Bool("stderr_truncated", outcome.StderrTruncated))

	if req.CollectArtifacts && !verdict.Destroyed && outcome.Cause != CauseHostError {
		artifacts, err := r.collectArtifacts(ctx, sb)
		if err != nil {
			log.Warn("failed to collect artifacts", zap.Error(err))
		}
		outcome.Artifacts = artifacts
	}

	return outcome
}

func (r *Runner) collectArtifacts(ctx context.Context, sb *Sandbox) ([]Artifact, error) {
	rc, err := r.backend.CopyFrom(ctx, sb.ContainerID, OutputDir)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return ExtractArtifacts(rc, r.config.MaxArtifactBytes)
}

func (r *Runner) hostFailure(sb *Sandbox, req RunRequest, err error) Outcome {
	logger.WithSandbox(r.logger, sb.ID, sb.ContainerID).Error("sandboxed run failed", zap.Error(err))
	outcome := HostFailure(err)
	outcome.Timeout = req.Timeout
	outcome.MemoryMB = sb.MemoryMB
	return outcome
}
