package sandbox

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/codeviz/logger"
	"github.com/isdmx/codeviz/registry"
)

// Labels attached to containers created by the provisioner
const (
	LabelSandboxID = "io.codeviz.sandbox-id"
	LabelLanguage  = "io.codeviz.language"
)

// largest limit whose byte count fits the engine's int64
const maxMemoryMB = math.MaxInt64 / BytesPerMB

// Provisioner creates and destroys sandboxes, one per execution
type Provisioner struct {
	logger  *zap.Logger
	backend Backend
	config  *Config
}

// NewProvisioner creates a Provisioner on top of backend
func NewProvisioner(logger *zap.Logger, config *Config, backend Backend) *Provisioner {
	return &Provisioner{
		logger:  logger,
		backend: backend,
		config:  config,
	}
}

// Provision creates a network-disabled sandbox for desc with a memory ceiling
// of memoryMB. Every failure is a *ProvisionError and leaves nothing behind.
func (p *Provisioner) Provision(ctx context.Context, desc registry.LanguageDescriptor, memoryMB int) (*Sandbox, error) {
	if memoryMB <= 0 {
		return nil, &ProvisionError{Op: "validate limits", Err: fmt.Errorf("memory limit must be positive, got: %d MB", memoryMB)}
	}
	// a wrapped byte count of zero would leave the container unlimited
	if int64(memoryMB) > maxMemoryMB {
		return nil, &ProvisionError{Op: "validate limits", Err: fmt.Errorf("memory limit must not exceed %d MB, got: %d MB", maxMemoryMB, memoryMB)}
	}

	if err := p.backend.Ping(ctx); err != nil {
		return nil, &ProvisionError{Op: "reach isolation backend", Err: err}
	}

	if p.config.PullImages {
		if err := p.backend.EnsureImage(ctx, desc.Image); err != nil {
			return nil, &ProvisionError{Op: "prepare image", Err: err}
		}
	}

	sb := &Sandbox{
		ID:              uuid.NewString(),
		Descriptor:      desc,
		MemoryMB:        memoryMB,
		NetworkDisabled: true,
		CreatedAt:       time.Now(),
	}

	id, err := p.backend.Create(ctx, CreateOptions{
		Name:        "codeviz-" + sb.ID,
		Image:       desc.Image,
		Cmd:         desc.LaunchCommand(sb.SourcePath()),
		Env:         sandboxEnv(desc),
		WorkingDir:  WorkDir,
		User:        p.config.User,
		MemoryBytes: int64(memoryMB) * BytesPerMB,
		NanoCPUs:    int64(p.config.CPUs * 1e9),
		PidsLimit:   p.config.PidsLimit,
		Labels: map[string]string{
			LabelSandboxID: sb.ID,
			LabelLanguage:  desc.ID,
		},
	})
	if err != nil {
		return nil, &ProvisionError{Op: "create sandbox", Err: err}
	}
	sb.ContainerID = id

	logger.WithSandbox(logger.WithExecution(p.logger, desc.ID), sb.ID, id).Debug("sandbox provisioned",
		zap.String("image", desc.Image),
		zap.Int("memory_mb", memoryMB))

	return sb, nil
}

// Release destroys sb. It is nil-safe, works whatever state the sandbox is
// in, and only the first call does anything. Teardown is not bound to the
// caller's cancellation.
func (p *Provisioner) Release(ctx context.Context, sb *Sandbox) error {
	if sb == nil || !sb.released.CompareAndSwap(false, true) {
		return nil
	}
	if sb.ContainerID == "" {
		return nil
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.ReleaseTimeout)
	defer cancel()

	if err := p.backend.Remove(rctx, sb.ContainerID); err != nil {
		logger.WithSandbox(p.logger, sb.ID, sb.ContainerID).Error("failed to release sandbox", zap.Error(err))
		return fmt.Errorf("failed to release sandbox %s: %w", sb.ID, err)
	}

	p.logger.Debug("sandbox released",
		zap.String("sandbox_id", sb.ID),
		zap.Duration("lifetime", time.Since(sb.CreatedAt)))
	return nil
}

func sandboxEnv(desc registry.LanguageDescriptor) []string {
	env := make([]string, 0, len(desc.Environment)+2)
	for key, value := range desc.Environment {
		env = append(env, key+"="+value)
	}
	sort.Strings(env)

	return append(env,
		EnvInputPath+"="+WorkDir+"/"+InputFile,
		EnvOutputDir+"="+OutputDir,
	)
}
