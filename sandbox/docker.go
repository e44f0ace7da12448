package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

const inspectTimeout = 10 * time.Second

// DockerBackend implements Backend on the Docker Engine API. It also drives
// Podman through its Docker-compatible socket.
type DockerBackend struct {
	cli    *client.Client
	logger *zap.Logger
}

// NewDockerBackend connects to the engine at host, or to the one described by
// the DOCKER_* environment variables when host is empty. The caller owns the
// returned backend and must Close it.
func NewDockerBackend(logger *zap.Logger, host string) (*DockerBackend, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create container engine client: %w", err)
	}
	return &DockerBackend{cli: cli, logger: logger}, nil
}

// Close releases the client's connections
func (d *DockerBackend) Close() error {
	return d.cli.Close()
}

func (d *DockerBackend) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return fmt.Errorf("container engine unreachable: %w", err)
	}
	return nil
}

// EnsureImage pulls img unless it is already present locally
func (d *DockerBackend) EnsureImage(ctx context.Context, img string) error {
	if _, err := d.cli.ImageInspect(ctx, img); err == nil {
		return nil
	}

	d.logger.Info("pulling image", zap.String("image", img))
	reader, err := d.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	defer reader.Close()

	// the pull only completes once the progress stream is consumed
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}

	d.logger.Info("pulled image", zap.String("image", img))
	return nil
}

func (d *DockerBackend) Create(ctx context.Context, opts CreateOptions) (string, error) {
	if len(opts.Cmd) == 0 {
		return "", errors.New("no command provided")
	}
	pidsLimit := opts.PidsLimit

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:           opts.Image,
		Entrypoint:      opts.Cmd[:1],
		Cmd:             opts.Cmd[1:],
		Env:             opts.Env,
		WorkingDir:      opts.WorkingDir,
		User:            opts.User,
		Labels:          opts.Labels,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
	}, &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:     opts.MemoryBytes,
			MemorySwap: opts.MemoryBytes, // no swap
			NanoCPUs:   opts.NanoCPUs,
			PidsLimit:  &pidsLimit,
		},
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
		Tmpfs: map[string]string{
			"/tmp": "rw,exec,nosuid,size=64m,mode=1777",
		},
	}, nil, nil, opts.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	for _, w := range resp.Warnings {
		d.logger.Warn("container create warning", zap.String("container", resp.ID), zap.String("warning", w))
	}
	return resp.ID, nil
}

func (d *DockerBackend) CopyTo(ctx context.Context, id, dstPath string, content io.Reader) error {
	if err := d.cli.CopyToContainer(ctx, id, dstPath, content, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("failed to copy files into container: %w", err)
	}
	return nil
}

func (d *DockerBackend) Start(ctx context.Context, id string, stdout, stderr io.Writer) (<-chan ExitStatus, error) {
	attach, err := d.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach container: %w", err)
	}

	// registered before start so a fast exit is not missed; only the guard
	// decides when to stop waiting
	waitCh, waitErrCh := d.cli.ContainerWait(context.WithoutCancel(ctx), id, container.WaitConditionNextExit)

	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		attach.Close()
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, attach.Reader)
		copied <- err
	}()

	exitCh := make(chan ExitStatus, 1)
	go func() {
		defer attach.Close()

		var status ExitStatus
		select {
		case resp := <-waitCh:
			status.ExitCode = int(resp.StatusCode)
			if resp.Error != nil && resp.Error.Message != "" {
				status.Err = fmt.Errorf("container wait failed: %s", resp.Error.Message)
			}
		case err := <-waitErrCh:
			status.Err = fmt.Errorf("failed to wait for container: %w", err)
			attach.Close()
		}

		if err := <-copied; err != nil && status.Err == nil {
			status.Err = fmt.Errorf("failed to read container output: %w", err)
		}

		ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), inspectTimeout)
		info, err := d.cli.ContainerInspect(ictx, id)
		cancel()
		switch {
		case err != nil:
			if status.Err == nil {
				status.Err = fmt.Errorf("failed to inspect container: %w", err)
			}
		case info.State != nil:
			status.ExitCode = info.State.ExitCode
			status.OOMKilled = info.State.OOMKilled
		}

		exitCh <- status
	}()

	return exitCh, nil
}

// MemoryUsage returns the container's current memory usage, or its recorded
// maximum where the cgroup version exposes one
func (d *DockerBackend) MemoryUsage(ctx context.Context, id string) (uint64, error) {
	resp, err := d.cli.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to read container stats: %w", err)
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return 0, fmt.Errorf("failed to decode container stats: %w", err)
	}

	usage := stats.MemoryStats.Usage
	if stats.MemoryStats.MaxUsage > usage {
		usage = stats.MemoryStats.MaxUsage
	}
	return usage, nil
}

func (d *DockerBackend) Kill(ctx context.Context, id string) error {
	err := d.cli.ContainerKill(ctx, id, "KILL")
	if err == nil || cerrdefs.IsNotFound(err) || cerrdefs.IsConflict(err) {
		// already gone or not running
		return nil
	}
	return fmt.Errorf("failed to kill container: %w", err)
}

func (d *DockerBackend) CopyFrom(ctx context.Context, id, srcPath string) (io.ReadCloser, error) {
	rc, _, err := d.cli.CopyFromContainer(ctx, id, srcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to copy %s out of container: %w", srcPath, err)
	}
	return rc, nil
}

func (d *DockerBackend) Remove(ctx context.Context, id string) error {
	err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err == nil || cerrdefs.IsNotFound(err) || cerrdefs.IsConflict(err) {
		// conflict means a removal is already in progress
		return nil
	}
	return fmt.Errorf("failed to remove container: %w", err)
}
