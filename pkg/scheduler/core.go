package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"detox/pkg/logger"
)

// RunFunc performs one scheduled invocation.
type RunFunc func(ctx context.Context) error

// parser accepts standard five-field expressions, an optional leading
// seconds field and descriptors such as "@hourly" or "@every 10m".
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a schedule expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return s, nil
}

// Core re-runs an invocation on a cron schedule. A tick that fires while the
// previous invocation is still running is skipped.
type Core struct {
	cron  *cron.Cron
	entry cron.EntryID
	run   RunFunc
	log   *zap.Logger

	mu    sync.Mutex
	ctx   context.Context
	runs  int
	fails int
}

// NewCore schedules run according to expr.
func NewCore(expr string, run RunFunc, log *zap.Logger) (*Core, error) {
	s, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	return newCore(s, run, log), nil
}

func newCore(s cron.Schedule, run RunFunc, log *zap.Logger) *Core {
	if log == nil {
		log = zap.NewNop()
	}
	cl := logger.NewCronLogger(log)
	c := &Core{
		run: run,
		log: log.Named("scheduler"),
		ctx: context.Background(),
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	c.entry = c.cron.Schedule(s, cron.FuncJob(c.tick))
	return c
}

// Run starts the schedule and blocks until ctx is cancelled, then waits for
// an in-flight invocation to finish.
func (c *Core) Run(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	c.cron.Start()
	c.log.Info("Scheduler started", zap.Time("next_run", c.Next()))

	<-ctx.Done()
	c.log.Info("Scheduler shutting down...")
	<-c.cron.Stop().Done()
}

// Next returns the time of the next scheduled invocation.
func (c *Core) Next() time.Time {
	return c.cron.Entry(c.entry).Next
}

// Stats returns how many invocations ran and how many of them returned an error.
func (c *Core) Stats() (runs, failures int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs, c.fails
}

func (c *Core) tick() {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	err := c.run(ctx)

	c.mu.Lock()
	c.runs++
	if err != nil {
		c.fails++
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Error("Scheduled run failed", zap.Error(err))
	}
	c.log.Info("Next run", zap.Time("at", c.Next()))
}
