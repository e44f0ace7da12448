package executor

import (
	"errors"

	"github.com/isdmx/codeviz/visualize"
)

// ErrInvalidProfile is returned for profiles whose limits or visualization
// mode cannot be honored
var ErrInvalidProfile = errors.New("invalid execution profile")

// Profile describes what to run and under which limits. Zero limits take the
// configured defaults.
type Profile struct {
	Language      string         `json:"language"`
	Code          string         `json:"code"`
	InputData     map[string]any `json:"input_data,omitempty"`
	TimeoutSec    int            `json:"timeout,omitempty"`
	MemoryLimitMB int            `json:"memory_limit,omitempty"`
	Visualization visualize.Mode `json:"visualization_type,omitempty"`
}

// Status is the overall verdict of an execution
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Kind distinguishes the causes of an error result. It is empty on success.
type Kind string

const (
	KindNone        Kind = ""
	KindNonZeroExit Kind = "nonzero_exit"
	KindTimeout     Kind = "timeout"
	KindOOM         Kind = "oom"
	KindHostError   Kind = "host_error"
)

// Result is returned for every accepted profile. Exactly one of Output and
// Error is set, matching Status.
type Result struct {
	Status        Status                   `json:"status"`
	Output        *string                  `json:"output,omitempty"`
	Error         *string                  `json:"error,omitempty"`
	ExecutionTime float64                  `json:"execution_time"`
	MemoryUsage   float64                  `json:"memory_usage"`
	Visualization *visualize.Visualization `json:"visualization_data,omitempty"`

	Kind Kind `json:"-"`
}
