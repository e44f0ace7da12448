package executor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/codeviz/config"
	"github.com/isdmx/codeviz/registry"
	"github.com/isdmx/codeviz/sandbox"
	"github.com/isdmx/codeviz/visualize"
)

// SpyProvisioner records every sandbox handed out and every release
type SpyProvisioner struct {
	mu           sync.Mutex
	provisionErr error
	provisioned  []*sandbox.Sandbox
	released     []*sandbox.Sandbox
	memoryMB     []int
}

func (s *SpyProvisioner) Provision(_ context.Context, desc registry.LanguageDescriptor, memoryMB int) (*sandbox.Sandbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provisionErr != nil {
		return nil, s.provisionErr
	}
	sb := &sandbox.Sandbox{ID: "sb", ContainerID: "c", Descriptor: desc, MemoryMB: memoryMB, NetworkDisabled: true}
	s.provisioned = append(s.provisioned, sb)
	s.memoryMB = append(s.memoryMB, memoryMB)
	return sb, nil
}

func (s *SpyProvisioner) Release(_ context.Context, sb *sandbox.Sandbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, sb)
	return nil
}

// MockRunner returns a canned outcome or calls run when set
type MockRunner struct {
	outcome  sandbox.Outcome
	run      func(req sandbox.RunRequest) sandbox.Outcome
	requests []sandbox.RunRequest
}

func (m *MockRunner) Run(_ context.Context, sb *sandbox.Sandbox, req sandbox.RunRequest) sandbox.Outcome {
	m.requests = append(m.requests, req)
	if m.run != nil {
		return m.run(req)
	}
	outcome := m.outcome
	outcome.Timeout = req.Timeout
	outcome.MemoryMB = sb.MemoryMB
	return outcome
}

// MockRenderer records calls and returns a fixed visualization
type MockRenderer struct {
	calls  []visualize.Input
	modes  []visualize.Mode
	result *visualize.Visualization
}

func (m *MockRenderer) Render(_ context.Context, in visualize.Input, mode visualize.Mode) *visualize.Visualization {
	m.calls = append(m.calls, in)
	m.modes = append(m.modes, mode)
	return m.result
}

// MockRecorder captures recorded executions
type MockRecorder struct {
	statuses    []string
	kinds       []string
	ran         []bool
	active      int
	provFailed  int
	releaseErrs int
}

func (m *MockRecorder) ExecutionFinished(_, status, kind string, _, _ float64, ran bool) {
	m.statuses = append(m.statuses, status)
	m.kinds = append(m.kinds, kind)
	m.ran = append(m.ran, ran)
}

func (m *MockRecorder) SandboxProvisioned() { m.active++ }

func (m *MockRecorder) SandboxReleased(err error) {
	m.active--
	if err != nil {
		m.releaseErrs++
	}
}

func (m *MockRecorder) ProvisionFailed(string) { m.provFailed++ }

type fixture struct {
	exec        *Executor
	provisioner *SpyProvisioner
	runner      *MockRunner
	renderer    *MockRenderer
	recorder    *MockRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := registry.New(registry.Defaults()...)
	require.NoError(t, err)

	cfg := &config.Config{Sandbox: config.SandboxConfig{TimeoutSec: 30, MaxTimeoutSec: 300, MemoryMB: 512, MaxMemoryMB: 2048}}
	f := &fixture{
		provisioner: &SpyProvisioner{},
		runner:      &MockRunner{outcome: sandbox.Outcome{Cause: sandbox.CauseCompleted, Stdout: "2\n", Duration: 40 * time.Millisecond}},
		renderer:    &MockRenderer{},
		recorder:    &MockRecorder{},
	}
	f.exec = New(zaptest.NewLogger(t), cfg, reg, f.provisioner, f.runner, f.renderer, f.recorder)
	return f
}

func TestExecute(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)

		result, err := f.exec.Execute(context.Background(), Profile{Language: "python", Code: "print(1+1)", TimeoutSec: 5, Visualization: visualize.ModeNone})
		require.NoError(t, err)

		assert.Equal(t, StatusSuccess, result.Status)
		require.NotNil(t, result.Output)
		assert.Equal(t, "2", *result.Output)
		assert.Nil(t, result.Error)
		assert.Nil(t, result.Visualization)
		assert.Empty(t, f.renderer.calls)

		require.Len(t, f.provisioner.provisioned, 1)
		assert.Equal(t, f.provisioner.provisioned, f.provisioner.released)
		require.Len(t, f.runner.requests, 1)
		assert.Equal(t, 5*time.Second, f.runner.requests[0].Timeout)
		assert.False(t, f.runner.requests[0].CollectArtifacts)
		assert.Equal(t, []string{"success"}, f.recorder.statuses)
		assert.Equal(t, 0, f.recorder.active)
	})

	t.Run("DefaultsApplied", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.exec.Execute(context.Background(), Profile{Language: "python", Code: "print(1)"})
		require.NoError(t, err)

		assert.Equal(t, 30*time.Second, f.runner.requests[0].Timeout)
		assert.Equal(t, []int{512}, f.provisioner.memoryMB)
		assert.Empty(t, f.renderer.calls)
	})

	t.Run("UnsupportedLanguage", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.exec.Execute(context.Background(), Profile{Language: "ruby", Code: "puts 1"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, registry.ErrUnsupportedLanguage))
		assert.Empty(t, f.provisioner.provisioned)
		assert.Empty(t, f.runner.requests)
		assert.Empty(t, f.recorder.statuses)
	})

	t.Run("InvalidProfile", func(t *testing.T) {
		profiles := map[string]Profile{
			"NegativeTimeout": {Language: "python", TimeoutSec: -1},
			"TimeoutTooLong":  {Language: "python", TimeoutSec: 301},
			"NegativeMemory":  {Language: "python", MemoryLimitMB: -5},
			"MemoryTooLarge":  {Language: "python", MemoryLimitMB: 2049},
			"MemoryOverflows": {Language: "python", MemoryLimitMB: 1 << 44},
			"UnknownVizMode":  {Language: "python", Visualization: "hologram"},
		}
		for name, p := range profiles {
			t.Run(name, func(t *testing.T) {
				f := newFixture(t)
				_, err := f.exec.Execute(context.Background(), p)
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidProfile))
				assert.Empty(t, f.provisioner.provisioned)
			})
		}
	})

	t.Run("MemoryAtCeiling", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.exec.Execute(context.Background(), Profile{Language: "python", Code: "print(1)", MemoryLimitMB: 2048})
		require.NoError(t, err)
		assert.Equal(t, []int{2048}, f.provisioner.memoryMB)
	})

	t.Run("Timeout", func(t *testing.T) {
		f := newFixture(t)
		f.runner.outcome = sandbox.Outcome{Cause: sandbox.CauseTimeout, Stdout: "still going", Duration: 2*time.Second + 3*time.Millisecond, ExitCode: -1}

		result, err := f.exec.Execute(context.Background(), Profile{Language: "python", Code: "while True: pass", TimeoutSec: 2})
		require.NoError(t, err)

		assert.Equal(t, StatusError, result.Status)
		assert.Nil(t, result.Output)
		require.NotNil(t, result.Error)
		assert.Equal(t, "execution exceeded time limit of 2s", *result.Error)
		assert.InDelta(t, 2.0, result.ExecutionTime, 0.01)
		assert.Equal(t, KindTimeout, result.Kind)
		assert.Len(t, f.provisioner.released, 1)
	})

	t.Run("NonZeroExit", func(t *testing.T) {
		f := newFixture(t)
		f.runner.outcome = sandbox.Outcome{Cause: sandbox.CauseCompleted, ExitCode: 1, Stderr: "Error: x\n", Duration: 60 * time.Millisecond}

		result, err := f.exec.Execute(context.Background(), Profile{Language: "javascript", Code: `throw new Error("x")`})
		require.NoError(t, err)

		assert.Equal(t, StatusError, result.Status)
		assert.Contains(t, *result.Error, "process exited with code 1")
		assert.Contains(t, *result.Error, "Error: x")
		assert.Greater(t, result.ExecutionTime, 0.0)
		assert.Equal(t, []string{"nonzero_exit"}, f.recorder.kinds)
	})

	t.Run("ProvisionFailure", func(t *testing.T) {
		f := newFixture(t)
		f.provisioner.provisionErr = &sandbox.ProvisionError{Op: "reach isolation backend", Err: errors.New("connection refused")}

		result, err := f.exec.Execute(context.Background(), Profile{Language: "python", Code: "print(1)"})
		require.NoError(t, err)

		assert.Equal(t, StatusError, result.Status)
		assert.Contains(t, *result.Error, "sandbox host error")
		assert.Contains(t, *result.Error, "connection refused")
		assert.Zero(t, result.ExecutionTime)
		assert.Zero(t, result.MemoryUsage)
		assert.Empty(t, f.runner.requests)
		assert.Empty(t, f.provisioner.released)
		assert.Equal(t, 1, f.recorder.provFailed)
		assert.Equal(t, []bool{false}, f.recorder.ran)
	})

	t.Run("RunnerPanicStillReleases", func(t *testing.T) {
		f := newFixture(t)
		f.runner.run = func(sandbox.RunRequest) sandbox.Outcome {
			panic("backend exploded")
		}

		var result Result
		var err error
		require.NotPanics(t, func() {
			result, err = f.exec.Execute(context.Background(), Profile{Language: "python", Code: "print(1)"})
		})
		require.NoError(t, err)

		assert.Len(t, f.provisioner.provisioned, 1)
		assert.Equal(t, f.provisioner.provisioned, f.provisioner.released)
		assert.Equal(t, StatusError, result.Status)
		assert.Contains(t, *result.Error, "backend exploded")
		assert.Equal(t, KindHostError, result.Kind)
		assert.Equal(t, 0, f.recorder.active)
	})

	t.Run("VisualizationRequested", func(t *testing.T) {
		f := newFixture(t)
		text := "2"
		f.renderer.result = &visualize.Visualization{Text: &text}
		f.runner.outcome = sandbox.Outcome{
			Cause:     sandbox.CauseCompleted,
			Stdout:    "2\n",
			Artifacts: []sandbox.Artifact{{Name: "plot.png", Data: []byte("png")}},
		}

		result, err := f.exec.Execute(context.Background(), Profile{Language: "python", Code: "print(2)", Visualization: visualize.ModeBoth})
		require.NoError(t, err)

		assert.True(t, f.runner.requests[0].CollectArtifacts)
		require.Len(t, f.renderer.calls, 1)
		assert.Equal(t, "2\n", f.renderer.calls[0].Stdout)
		assert.Len(t, f.renderer.calls[0].Artifacts, 1)
		assert.Equal(t, visualize.ModeBoth, f.renderer.modes[0])
		assert.Equal(t, f.renderer.result, result.Visualization)
	})

	t.Run("VisualizationOnFailedRun", func(t *testing.T) {
		f := newFixture(t)
		f.runner.outcome = sandbox.Outcome{Cause: sandbox.CauseCompleted, ExitCode: 2, Stdout: "partial"}

		result, err := f.exec.Execute(context.Background(), Profile{Language: "python", Code: "exit(2)", Visualization: visualize.ModeText})
		require.NoError(t, err)

		assert.Equal(t, StatusError, result.Status)
		require.Len(t, f.renderer.calls, 1)
		assert.Equal(t, "partial", f.renderer.calls[0].Stdout)
		assert.False(t, f.runner.requests[0].CollectArtifacts)
	})

	t.Run("ConcurrentExecutions", func(t *testing.T) {
		f := newFixture(t)
		f.exec.recorder = nopRecorder{}
		f.exec.runner = &concurrentRunner{}

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				result, err := f.exec.Execute(context.Background(), Profile{Language: "python", Code: "print(1)"})
				assert.NoError(t, err)
				assert.Equal(t, StatusSuccess, result.Status)
			}()
		}
		wg.Wait()

		assert.Len(t, f.provisioner.provisioned, 20)
		assert.Len(t, f.provisioner.released, 20)
	})
}

type concurrentRunner struct{}

func (concurrentRunner) Run(context.Context, *sandbox.Sandbox, sandbox.RunRequest) sandbox.Outcome {
	return sandbox.Outcome{Cause: sandbox.CauseCompleted, Stdout: "1\n"}
}

func TestListSupportedLanguages(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{"cpp", "go", "java", "javascript", "python", "sql"}, f.exec.ListSupportedLanguages())
}

func TestResultJSON(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		output := "2"
		data, err := json.Marshal(Result{Status: StatusSuccess, Output: &output, ExecutionTime: 0.1, MemoryUsage: 3.5})
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":"success","output":"2","execution_time":0.1,"memory_usage":3.5}`, string(data))
	})

	t.Run("ErrorKeepsNumericFields", func(t *testing.T) {
		message := "sandbox host error: boom"
		data, err := json.Marshal(Result{Status: StatusError, Error: &message, Kind: KindHostError})
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":"error","error":"sandbox host error: boom","execution_time":0,"memory_usage":0}`, string(data))
	})

	t.Run("ProfileFieldNames", func(t *testing.T) {
		var p Profile
		require.NoError(t, json.Unmarshal([]byte(`{"language":"python","code":"print(1)","input_data":{"a":1},"timeout":5,"memory_limit":128,"visualization_type":"text"}`), &p))
		assert.Equal(t, 5, p.TimeoutSec)
		assert.Equal(t, 128, p.MemoryLimitMB)
		assert.Equal(t, visualize.ModeText, p.Visualization)
		assert.Equal(t, map[string]any{"a": float64(1)}, p.InputData)
	})
}
