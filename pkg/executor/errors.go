package executor

import (
	"fmt"
)

// JobExecutionError records why a job that ran was classified as failed.
type JobExecutionError struct {
	Job          string
	ExitCode     int
	StderrSeen   bool
	ErrorMatched bool
	Err          error
}

func (e *JobExecutionError) Error() string {
	switch {
	case e.Err != nil && e.ExitCode < 0:
		return fmt.Sprintf("job '%s' did not complete: %v", e.Job, e.Err)
	case e.StderrSeen:
		return fmt.Sprintf("job '%s' wrote to stderr", e.Job)
	case e.ErrorMatched:
		return fmt.Sprintf("job '%s' reported an error in its output", e.Job)
	default:
		return fmt.Sprintf("job '%s' exited with status %d", e.Job, e.ExitCode)
	}
}

func (e *JobExecutionError) Unwrap() error { return e.Err }

// LockError is returned when the workspace could not be locked.
type LockError struct {
	WorkDir string
	Holder  string
	Err     error
}

func (e *LockError) Error() string {
	if e.Holder != "" {
		return fmt.Sprintf("cannot lock %s (held by %s): %v", e.WorkDir, e.Holder, e.Err)
	}
	return fmt.Sprintf("cannot lock %s: %v", e.WorkDir, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }
