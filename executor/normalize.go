package executor

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/isdmx/codeviz/sandbox"
)

// TruncatedNotice is appended to streams that hit the output buffer limit
const TruncatedNotice = "[output truncated]"

// maxStderrExcerpt bounds the stderr tail quoted in nonzero-exit errors
const maxStderrExcerpt = 4096

// Normalize turns the raw outcome of a run into a Result
func Normalize(outcome sandbox.Outcome) Result {
	if outcome.Cause == sandbox.CauseHostError {
		detail := "unknown failure"
		if outcome.Err != nil {
			detail = outcome.Err.Error()
		}
		return failure(KindHostError, "sandbox host error: "+detail, 0, 0)
	}

	seconds := roundTo(outcome.Duration.Seconds(), 3)
	memoryMB := roundTo(float64(outcome.PeakMemoryBytes)/sandbox.BytesPerMB, 2)

	switch outcome.Cause {
	case sandbox.CauseTimeout:
		return failure(KindTimeout,
			fmt.Sprintf("execution exceeded time limit of %ss", strconv.FormatFloat(outcome.Timeout.Seconds(), 'f', -1, 64)),
			seconds, memoryMB)

	case sandbox.CauseOOM:
		return failure(KindOOM,
			fmt.Sprintf("execution exceeded memory limit of %d MB", outcome.MemoryMB),
			seconds, memoryMB)

	case sandbox.CauseCompleted:
		if outcome.ExitCode != 0 {
			return failure(KindNonZeroExit, exitMessage(outcome), seconds, memoryMB)
		}
		output := strings.TrimRight(outcome.Stdout, "\r\n")
		if outcome.StdoutTruncated {
			output = withNotice(output)
		}
		return Result{
			Status:        StatusSuccess,
			Output:        &output,
			ExecutionTime: seconds,
			MemoryUsage:   memoryMB,
		}

	default:
		return failure(KindHostError, fmt.Sprintf("sandbox host error: unknown termination cause %q", outcome.Cause), 0, 0)
	}
}

func failure(kind Kind, message string, seconds, memoryMB float64) Result {
	return Result{
		Status:        StatusError,
		Error:         &message,
		ExecutionTime: seconds,
		MemoryUsage:   memoryMB,
		Kind:          kind,
	}
}

func exitMessage(outcome sandbox.Outcome) string {
	msg := fmt.Sprintf("process exited with code %d", outcome.ExitCode)

	stderr := strings.TrimSpace(outcome.Stderr)
	if stderr == "" {
		return msg
	}
	if len(stderr) > maxStderrExcerpt {
		stderr = strings.ToValidUTF8(stderr[len(stderr)-maxStderrExcerpt:], "")
	}
	if outcome.StderrTruncated {
		stderr = withNotice(stderr)
	}
	return msg + ":\n" + stderr
}

func withNotice(s string) string {
	if s == "" {
		return TruncatedNotice
	}
	return s + "\n" + TruncatedNotice
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
