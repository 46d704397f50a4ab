// Package environment provisions the disposable environment jobs run in.
package environment

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"detox/pkg/executor/runner"
)

// Manager creates and removes the environment shared by every job of a run.
// Neither method retries; the caller owns the retry policy.
type Manager interface {
	Create(ctx context.Context) bool
	Destroy(ctx context.Context) bool
	// Activate returns the shell fragment that enters the environment.
	Activate() string
	// Dir is where the environment lives.
	Dir() string
}

// SetupError is returned when the environment could not be created.
type SetupError struct {
	Dir string
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("failed to create environment in %s", e.Dir)
}

// TeardownError is returned when the environment survived every removal attempt.
type TeardownError struct {
	Dir      string
	Attempts int
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("failed to remove environment %s after %d attempts", e.Dir, e.Attempts)
}

// Venv is a Python virtual environment living in a directory of the workspace.
type Venv struct {
	path   string
	python string

	runner runner.JobRunner
	log    *zap.Logger
}

// NewVenv returns a manager for the venv at dir. A relative dir is resolved
// against workDir.
func NewVenv(workDir, dir, python string, r runner.JobRunner, log *zap.Logger) *Venv {
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(workDir, dir)
	}
	if python == "" {
		python = "python3"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Venv{path: dir, python: python, runner: r, log: log}
}

func (v *Venv) Create(ctx context.Context) bool {
	v.log.Info("Creating venv...", zap.String("dir", v.path))
	res := v.runner.Run(ctx, fmt.Sprintf("%s -m venv %s", v.python, quote(v.path)), v.sink())
	if !res.Success {
		v.log.Error("Failed creating virtual environment", zap.String("dir", v.path), zap.Int("exit_code", res.ExitCode), zap.Error(res.Err))
	}
	return res.Success
}

func (v *Venv) Destroy(ctx context.Context) bool {
	v.log.Info("Removing venv...", zap.String("dir", v.path))
	res := v.runner.Run(ctx, "rm -rf "+quote(v.path), v.sink())
	if !res.Success {
		v.log.Error("Failed removing virtual environment", zap.String("dir", v.path), zap.Int("exit_code", res.ExitCode), zap.Error(res.Err))
	}
	return res.Success
}

func (v *Venv) Activate() string {
	return "source " + quote(filepath.Join(v.path, "bin", "activate"))
}

func (v *Venv) Dir() string { return v.path }

func (v *Venv) sink() runner.Sink {
	return runner.LogSink{Log: v.log}
}

// quote wraps s in single quotes for a POSIX shell.
func quote(s string) string {
	out := []byte{'\''}
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, `'\''`...)
			continue
		}
		out = append(out, s[i])
	}
	return string(append(out, '\''))
}
