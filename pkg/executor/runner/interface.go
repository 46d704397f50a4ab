package runner

import (
	"context"
	"fmt"
	"time"
)

// Result captures the outcome of one command line.
type Result struct {
	Success      bool
	ExitCode     int
	StderrSeen   bool // a non-empty chunk arrived on stderr
	ErrorMatched bool // a stdout chunk contained "error"
	Duration     time.Duration
	Err          error // detailed go error if any
}

// JobRunner defines the interface for executing a single command line.
type JobRunner interface {
	// Run executes commandLine through a shell, forwarding output to sink as
	// it is read. It returns once both output streams are exhausted.
	Run(ctx context.Context, commandLine string, sink Sink) Result
}

// Policy decides how a Result is classified.
type Policy string

const (
	// PolicyOutput fails on stderr output or "error" in stdout. The exit status is ignored.
	PolicyOutput Policy = "output"
	// PolicyStrict fails on the output signals or a non-zero exit status.
	PolicyStrict Policy = "strict"
	// PolicyExit fails on a non-zero exit status only.
	PolicyExit Policy = "exit"
)

// ParsePolicy validates a policy name. Empty selects PolicyOutput.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyOutput:
		return PolicyOutput, nil
	case PolicyStrict, PolicyExit:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown classification policy %q (want output, strict or exit)", s)
	}
}

// Classify applies the policy to the signals collected for r.
func (p Policy) Classify(r Result) bool {
	if r.Err != nil && r.ExitCode < 0 {
		// never started, or was killed
		return false
	}
	outputClean := !r.StderrSeen && !r.ErrorMatched
	switch p {
	case PolicyStrict:
		return outputClean && r.ExitCode == 0
	case PolicyExit:
		return r.ExitCode == 0
	default:
		return outputClean
	}
}
