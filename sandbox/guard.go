package sandbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle state of a supervised run
type State int

const (
	StateRunning State = iota
	StateCompleted
	StateTimedOut
	StateOOMKilled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed-out"
	case StateOOMKilled:
		return "oom-killed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Cause maps a terminal state to the outcome's termination cause
func (s State) Cause() Cause {
	switch s {
	case StateCompleted:
		return CauseCompleted
	case StateTimedOut:
		return CauseTimeout
	case StateOOMKilled:
		return CauseOOM
	default:
		return CauseHostError
	}
}

// GuardConfig bounds one supervised run
type GuardConfig struct {
	Timeout      time.Duration
	PollInterval time.Duration
	KillGrace    time.Duration
}

// Verdict is what the guard observed about a run
type Verdict struct {
	State           State
	ExitCode        int
	Err             error
	Elapsed         time.Duration
	PeakMemoryBytes uint64
	// Destroyed is set when the container had to be removed because a kill
	// did not take effect within the grace period.
	Destroyed bool
}

// Guard supervises a single run: it races the process against the deadline,
// samples memory usage, and kills the process when the deadline passes or
// the caller goes away. A Guard is not reusable.
type Guard struct {
	logger  *zap.Logger
	backend Backend
	config  GuardConfig

	state State
	peak  atomic.Uint64
}

// NewGuard creates a guard in the running state
func NewGuard(logger *zap.Logger, backend Backend, config GuardConfig) *Guard {
	return &Guard{
		logger:  logger,
		backend: backend,
		config:  config,
		state:   StateRunning,
	}
}

// State returns the current state. Only meaningful after Supervise returned.
func (g *Guard) State() State {
	return g.state
}

// Supervise blocks until the process behind exitCh has exited or has been
// terminated. It never returns an error; failures are reported in the Verdict.
func (g *Guard) Supervise(ctx context.Context, containerID string, exitCh <-chan ExitStatus, start time.Time) Verdict {
	samplerCtx, stopSampler := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.sample(samplerCtx, containerID)
	}()

	verdict := g.watch(ctx, containerID, exitCh, start)

	stopSampler()
	wg.Wait()
	verdict.PeakMemoryBytes = g.peak.Load()
	return verdict
}

func (g *Guard) watch(ctx context.Context, containerID string, exitCh <-chan ExitStatus, start time.Time) Verdict {
	deadline := time.NewTimer(g.config.Timeout - time.Since(start))
	defer deadline.Stop()

	select {
	case status := <-exitCh:
		return g.finish(status, time.Since(start))

	case <-deadline.C:
		elapsed := time.Since(start)
		g.transition(StateTimedOut)
		g.logger.Info("execution exceeded time limit",
			zap.String("container", containerID),
			zap.Duration("timeout", g.config.Timeout))
		return g.terminate(containerID, exitCh, elapsed, nil)

	case <-ctx.Done():
		elapsed := time.Since(start)
		g.transition(StateFailed)
		g.logger.Info("execution abandoned by caller", zap.String("container", containerID))
		return g.terminate(containerID, exitCh, elapsed, fmt.Errorf("execution cancelled: %w", ctx.Err()))
	}
}

func (g *Guard) finish(status ExitStatus, elapsed time.Duration) Verdict {
	switch {
	case status.Err != nil:
		g.transition(StateFailed)
	case status.OOMKilled:
		g.transition(StateOOMKilled)
	default:
		g.transition(StateCompleted)
	}
	return Verdict{State: g.state, ExitCode: status.ExitCode, Err: status.Err, Elapsed: elapsed}
}

// terminate kills the process and waits up to the grace period for it to go
// away, destroying the container if it does not
func (g *Guard) terminate(containerID string, exitCh <-chan ExitStatus, elapsed time.Duration, cause error) Verdict {
	verdict := Verdict{State: g.state, ExitCode: -1, Err: cause, Elapsed: elapsed}

	killCtx, cancel := context.WithTimeout(context.Background(), g.config.KillGrace)
	defer cancel()
	if err := g.backend.Kill(killCtx, containerID); err != nil {
		g.logger.Warn("failed to kill sandboxed process", zap.String("container", containerID), zap.Error(err))
	}

	grace := time.NewTimer(g.config.KillGrace)
	defer grace.Stop()

	select {
	case status := <-exitCh:
		verdict.ExitCode = status.ExitCode
		return verdict
	case <-grace.C:
	}

	g.logger.Warn("sandboxed process survived kill, destroying sandbox",
		zap.String("container", containerID),
		zap.Duration("grace", g.config.KillGrace))

	rmCtx, rmCancel := context.WithTimeout(context.Background(), defaultReleaseTimeout)
	defer rmCancel()
	if err := g.backend.Remove(rmCtx, containerID); err != nil {
		g.logger.Error("failed to destroy sandbox", zap.String("container", containerID), zap.Error(err))
	}
	verdict.Destroyed = true
	return verdict
}

func (g *Guard) transition(to State) {
	if g.state != StateRunning {
		return
	}
	g.state = to
}

func (g *Guard) sample(ctx context.Context, containerID string) {
	ticker := time.NewTicker(g.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		usage, err := g.backend.MemoryUsage(ctx, containerID)
		if err != nil {
			if ctx.Err() == nil {
				g.logger.Debug("memory sample failed", zap.String("container", containerID), zap.Error(err))
			}
			continue
		}
		g.observe(usage)
	}
}

func (g *Guard) observe(usage uint64) {
	for {
		peak := g.peak.Load()
		if usage <= peak || g.peak.CompareAndSwap(peak, usage) {
			return
		}
	}
}
