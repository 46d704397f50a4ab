package runner

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Sink receives output chunks in the order they are read.
type Sink interface {
	Stdout(chunk []byte)
	Stderr(chunk []byte)
}

// LogSink writes stdout verbatim to Out and logs stderr at error level.
type LogSink struct {
	Log *zap.Logger
	Out io.Writer
}

func (s LogSink) Stdout(chunk []byte) {
	if s.Out != nil {
		_, _ = s.Out.Write(chunk)
	}
}

func (s LogSink) Stderr(chunk []byte) {
	if s.Log != nil {
		s.Log.Error(strings.TrimRight(string(chunk), "\r\n"))
	}
}

// Capture keeps a copy of everything forwarded to it.
type Capture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *Capture) Stdout(chunk []byte) {
	c.mu.Lock()
	c.buf.Write(chunk)
	c.mu.Unlock()
}

func (c *Capture) Stderr(chunk []byte) {
	c.mu.Lock()
	c.buf.Write(chunk)
	c.mu.Unlock()
}

// Bytes returns a copy of the captured output.
func (c *Capture) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf.Bytes()...)
}

// Tee forwards every chunk to each sink in turn. Nil sinks are dropped.
func Tee(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multiSink []Sink

func (m multiSink) Stdout(chunk []byte) {
	for _, s := range m {
		s.Stdout(chunk)
	}
}

func (m multiSink) Stderr(chunk []byte) {
	for _, s := range m {
		s.Stderr(chunk)
	}
}

// Discard drops all output.
var Discard Sink = discard{}

type discard struct{}

func (discard) Stdout([]byte) {}
func (discard) Stderr([]byte) {}
