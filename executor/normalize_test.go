package executor

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/codeviz/sandbox"
)

func TestNormalize(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		result := Normalize(sandbox.Outcome{
			Cause:           sandbox.CauseCompleted,
			Stdout:          "line 1\nline 2\r\n\n",
			Duration:        1234567 * time.Microsecond,
			PeakMemoryBytes: 3 * sandbox.BytesPerMB / 2,
		})

		assert.Equal(t, StatusSuccess, result.Status)
		require.NotNil(t, result.Output)
		assert.Equal(t, "line 1\nline 2", *result.Output)
		assert.Nil(t, result.Error)
		assert.Equal(t, 1.235, result.ExecutionTime)
		assert.Equal(t, 1.5, result.MemoryUsage)
		assert.Equal(t, KindNone, result.Kind)
	})

	t.Run("EmptyOutput", func(t *testing.T) {
		result := Normalize(sandbox.Outcome{Cause: sandbox.CauseCompleted})
		require.NotNil(t, result.Output)
		assert.Equal(t, "", *result.Output)
	})

	t.Run("TruncatedStdout", func(t *testing.T) {
		result := Normalize(sandbox.Outcome{Cause: sandbox.CauseCompleted, Stdout: "aaaa", StdoutTruncated: true})
		assert.Equal(t, "aaaa\n"+TruncatedNotice, *result.Output)
	})

	t.Run("NonZeroExit", func(t *testing.T) {
		result := Normalize(sandbox.Outcome{
			Cause:    sandbox.CauseCompleted,
			ExitCode: 3,
			Stdout:   "ignored",
			Stderr:   "Traceback\nValueError: bad\n",
			Duration: 100 * time.Millisecond,
		})

		assert.Equal(t, StatusError, result.Status)
		assert.Nil(t, result.Output)
		assert.Equal(t, "process exited with code 3:\nTraceback\nValueError: bad", *result.Error)
		assert.Equal(t, 0.1, result.ExecutionTime)
		assert.Equal(t, KindNonZeroExit, result.Kind)
	})

	t.Run("NonZeroExitWithoutStderr", func(t *testing.T) {
		result := Normalize(sandbox.Outcome{Cause: sandbox.CauseCompleted, ExitCode: 137})
		assert.Equal(t, "process exited with code 137", *result.Error)
	})

	t.Run("LongStderrKeepsTail", func(t *testing.T) {
		stderr := strings.Repeat("x", 2*maxStderrExcerpt) + "the end"
		result := Normalize(sandbox.Outcome{Cause: sandbox.CauseCompleted, ExitCode: 1, Stderr: stderr, StderrTruncated: true})

		assert.True(t, strings.HasSuffix(*result.Error, "the end\n"+TruncatedNotice))
		assert.Less(t, len(*result.Error), maxStderrExcerpt+100)
	})

	t.Run("Timeout", func(t *testing.T) {
		result := Normalize(sandbox.Outcome{
			Cause:    sandbox.CauseTimeout,
			Stdout:   "would print later",
			Duration: 2 * time.Second,
			Timeout:  2 * time.Second,
		})

		assert.Equal(t, StatusError, result.Status)
		assert.Nil(t, result.Output)
		assert.Equal(t, "execution exceeded time limit of 2s", *result.Error)
		assert.Equal(t, 2.0, result.ExecutionTime)
		assert.Equal(t, KindTimeout, result.Kind)
	})

	t.Run("SubSecondTimeout", func(t *testing.T) {
		result := Normalize(sandbox.Outcome{Cause: sandbox.CauseTimeout, Timeout: 1500 * time.Millisecond})
		assert.Equal(t, "execution exceeded time limit of 1.5s", *result.Error)
	})

	t.Run("OOM", func(t *testing.T) {
		result := Normalize(sandbox.Outcome{
			Cause:           sandbox.CauseOOM,
			MemoryMB:        64,
			PeakMemoryBytes: 64 * sandbox.BytesPerMB,
			Duration:        300 * time.Millisecond,
		})

		assert.Equal(t, StatusError, result.Status)
		assert.Equal(t, "execution exceeded memory limit of 64 MB", *result.Error)
		assert.Equal(t, 64.0, result.MemoryUsage)
		assert.Equal(t, KindOOM, result.Kind)
	})

	t.Run("HostError", func(t *testing.T) {
		outcome := sandbox.HostFailure(errors.New("failed to inject code: no such container"))
		outcome.Duration = time.Second
		outcome.PeakMemoryBytes = sandbox.BytesPerMB

		result := Normalize(outcome)

		assert.Equal(t, StatusError, result.Status)
		assert.Equal(t, "sandbox host error: failed to inject code: no such container", *result.Error)
		assert.Zero(t, result.ExecutionTime)
		assert.Zero(t, result.MemoryUsage)
		assert.Equal(t, KindHostError, result.Kind)
	})

	t.Run("HostErrorWithoutDetail", func(t *testing.T) {
		result := Normalize(sandbox.Outcome{Cause: sandbox.CauseHostError})
		assert.Equal(t, "sandbox host error: unknown failure", *result.Error)
	})

	t.Run("UnknownCause", func(t *testing.T) {
		result := Normalize(sandbox.Outcome{Cause: "exploded"})
		assert.Equal(t, StatusError, result.Status)
		assert.Equal(t, KindHostError, result.Kind)
	})

	t.Run("ExactlyOneOfOutputAndError", func(t *testing.T) {
		outcomes := []sandbox.Outcome{
			{Cause: sandbox.CauseCompleted},
			{Cause: sandbox.CauseCompleted, ExitCode: 1},
			{Cause: sandbox.CauseTimeout},
			{Cause: sandbox.CauseOOM},
			{Cause: sandbox.CauseHostError},
		}
		for _, outcome := range outcomes {
			result := Normalize(outcome)
			assert.NotEqual(t, result.Output == nil, result.Error == nil)
			assert.Equal(t, result.Status == StatusSuccess, result.Output != nil)
		}
	})
}
