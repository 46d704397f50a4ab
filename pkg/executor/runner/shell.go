package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"detox/pkg/metrics"
)

// DefaultShell interprets job command lines.
const DefaultShell = "/bin/bash"

const chunkSize = 4096

var errorMarker = []byte("error")

type stream int

const (
	stdoutStream stream = iota
	stderrStream
)

func (s stream) String() string {
	if s == stderrStream {
		return "stderr"
	}
	return "stdout"
}

type chunk struct {
	from stream
	data []byte
}

// ShellRunner runs command lines through `<shell> -c`.
type ShellRunner struct {
	Shell  string
	Policy Policy
	// Dir is the working directory of every command, the current one when empty.
	Dir string
}

func NewShellRunner(shell string, policy Policy) *ShellRunner {
	if shell == "" {
		shell = DefaultShell
	}
	if policy == "" {
		policy = PolicyOutput
	}
	return &ShellRunner{Shell: shell, Policy: policy}
}

func (s *ShellRunner) Run(ctx context.Context, commandLine string, sink Sink) Result {
	start := time.Now()
	if sink == nil {
		sink = Discard
	}

	cmd := exec.CommandContext(ctx, s.Shell, "-c", commandLine)
	cmd.Dir = s.Dir

	// Process Group Management:
	// the child gets its own process group so cancellation takes down the
	// whole tree, not just the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.failed(err, start)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return s.failed(err, start)
	}
	if err := cmd.Start(); err != nil {
		return s.failed(err, start)
	}

	chunks := make(chan chunk)
	var wg sync.WaitGroup
	wg.Add(2)
	go pump(stdout, stdoutStream, chunks, &wg)
	go pump(stderr, stderrStream, chunks, &wg)
	go func() {
		wg.Wait()
		close(chunks)
	}()

	var res Result
	for c := range chunks {
		metrics.RecordChunk(c.from.String())
		switch c.from {
		case stderrStream:
			res.StderrSeen = true
			sink.Stderr(c.data)
		default:
			if bytes.Contains(bytes.ToLower(c.data), errorMarker) {
				res.ErrorMatched = true
			}
			sink.Stdout(c.data)
		}
	}

	// Both pipes are drained, so Wait only reaps the process.
	err = cmd.Wait()
	res.Duration = time.Since(start)
	res.ExitCode = 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		res.Err = err
	}
	if ctx.Err() != nil {
		res.ExitCode = -1
		res.Err = ctx.Err()
	}
	res.Success = s.Policy.Classify(res)
	return res
}

func (s *ShellRunner) failed(err error, start time.Time) Result {
	return Result{ExitCode: -1, Err: err, Duration: time.Since(start)}
}

// pump reads r until EOF, sending each non-empty read as its own chunk.
func pump(r io.Reader, from stream, out chan<- chunk, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			out <- chunk{from: from, data: data}
		}
		if err != nil {
			return
		}
	}
}
