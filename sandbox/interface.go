package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync/atomic"
	"time"

	"github.com/isdmx/codeviz/registry"
)

// In-sandbox layout
const (
	WorkDir      = "/sandbox"
	OutputDir    = "/sandbox/output"
	InputFile    = "input.json"
	EnvInputPath = "SANDBOX_INPUT"
	EnvOutputDir = "SANDBOX_OUTPUT_DIR"
)

// File permission and size constants
const (
	DirPermission       = 0o755
	OutputDirPermission = 0o777
	FilePermission      = 0o644
	BytesPerKB          = 1024
	BytesPerMB          = 1024 * 1024
)

// ErrProvision matches every *ProvisionError
var ErrProvision = errors.New("sandbox provisioning failed")

// ProvisionError reports that no sandbox could be created
type ProvisionError struct {
	Op  string
	Err error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrProvision) true for any ProvisionError
func (e *ProvisionError) Is(target error) bool { return target == ErrProvision }

// CreateOptions describes the container to create. Networking is not an
// option: backends always create sandboxes without network access.
type CreateOptions struct {
	Name        string
	Image       string
	Cmd         []string
	Env         []string
	WorkingDir  string
	User        string
	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64
	Labels      map[string]string
}

// ExitStatus is delivered once the sandboxed process has exited and its
// output streams are drained
type ExitStatus struct {
	ExitCode  int
	OOMKilled bool
	Err       error
}

// Backend is the isolation backend a Provisioner and Runner drive.
// Implementations must be safe for concurrent use.
type Backend interface {
	Ping(ctx context.Context) error
	EnsureImage(ctx context.Context, image string) error
	Create(ctx context.Context, opts CreateOptions) (string, error)
	CopyTo(ctx context.Context, id, dstPath string, content io.Reader) error
	// Start attaches stdout and stderr, starts the process and returns a
	// channel that receives exactly one ExitStatus.
	Start(ctx context.Context, id string, stdout, stderr io.Writer) (<-chan ExitStatus, error)
	MemoryUsage(ctx context.Context, id string) (uint64, error)
	Kill(ctx context.Context, id string) error
	CopyFrom(ctx context.Context, id, srcPath string) (io.ReadCloser, error)
	// Remove destroys the container. Removing a missing container is not an error.
	Remove(ctx context.Context, id string) error
}

// Sandbox is a live isolated environment owned by exactly one execution
type Sandbox struct {
	ID              string
	ContainerID     string
	Descriptor      registry.LanguageDescriptor
	MemoryMB        int
	NetworkDisabled bool
	CreatedAt       time.Time

	released atomic.Bool
}

// SourcePath returns the absolute in-sandbox path of the submitted code
func (s *Sandbox) SourcePath() string {
	return path.Join(WorkDir, s.Descriptor.SourceFile())
}

// Released reports whether Release has been called
func (s *Sandbox) Released() bool {
	return s.released.Load()
}

// Cause classifies how a run ended
type Cause string

const (
	CauseCompleted Cause = "completed"
	CauseTimeout   Cause = "timeout"
	CauseOOM       Cause = "oom"
	CauseHostError Cause = "host-error"
)

// Artifact is a file the run left in the output directory
type Artifact struct {
	Name string
	Data []byte
}

// Outcome is the raw result of one sandboxed run
type Outcome struct {
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	ExitCode        int
	Duration        time.Duration
	PeakMemoryBytes uint64
	Cause           Cause
	Err             error

	Timeout  time.Duration
	MemoryMB int

	Artifacts []Artifact
}

// HostFailure builds the outcome of a run that failed on the host side
func HostFailure(err error) Outcome {
	return Outcome{Cause: CauseHostError, Err: err, ExitCode: -1}
}
