package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/codeviz/config"
)

const (
	defaultPodmanSocket   = "unix:///run/podman/podman.sock"
	defaultReleaseTimeout = 30 * time.Second
)

// Config holds the limits shared by the provisioner, runner and guard
type Config struct {
	CPUs             float64
	PidsLimit        int64
	User             string
	PullImages       bool
	PollInterval     time.Duration
	KillGrace        time.Duration
	MaxOutputBytes   int
	MaxArtifactBytes int64
	ReleaseTimeout   time.Duration
}

// NewConfig derives the sandbox configuration from the application config
func NewConfig(cfg *config.Config) *Config {
	return &Config{
		CPUs:             cfg.Sandbox.CPUs,
		PidsLimit:        cfg.Sandbox.PidsLimit,
		User:             cfg.Sandbox.User,
		PullImages:       cfg.Sandbox.PullImages,
		PollInterval:     cfg.GetPollInterval(),
		KillGrace:        cfg.GetKillGrace(),
		MaxOutputBytes:   cfg.Sandbox.MaxOutputKB * BytesPerKB,
		MaxArtifactBytes: int64(cfg.Sandbox.MaxArtifactSizeMB) * BytesPerMB,
		ReleaseTimeout:   defaultReleaseTimeout,
	}
}

// NewBackend creates the isolation backend selected by sandbox.backend
func NewBackend(logger *zap.Logger, cfg *config.Config) (*DockerBackend, error) {
	switch cfg.Sandbox.Backend {
	case "docker":
		return NewDockerBackend(logger, cfg.Sandbox.Host)
	case "podman":
		host := cfg.Sandbox.Host
		if host == "" {
			host = podmanSocket()
		}
		return NewDockerBackend(logger, host)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Sandbox.Backend)
	}
}

func podmanSocket() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" && os.Getuid() != 0 {
		return "unix://" + filepath.Join(runtimeDir, "podman", "podman.sock")
	}
	return defaultPodmanSocket
}
