package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/v3/mem"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"detox/pkg/command"
	"detox/pkg/coordination"
	"detox/pkg/environment"
	"detox/pkg/executor/runner"
	"detox/pkg/metrics"
	"detox/pkg/models"
	tracing "detox/pkg/observability"
	"detox/pkg/resilience"
	"detox/pkg/storage"
	"detox/pkg/suite"
)

const banner = "#########################################"

// sinkTimeout bounds how long a single run sink may take.
const sinkTimeout = 10 * time.Second

// ConfigSource yields the job suite of a run and the file it came from.
type ConfigSource interface {
	Load(ctx context.Context) (*models.JobSuite, string, error)
}

// Options tunes an Executor.
type Options struct {
	WorkDir          string
	TeardownAttempts int       // defaults to 3
	Out              io.Writer // child stdout is copied here, defaults to os.Stdout
}

// Executor drives one invocation through its stages:
// config load, selection, environment setup, the job loop, teardown and report.
type Executor struct {
	opts    Options
	source  ConfigSource
	builder *command.Builder
	runner  runner.JobRunner
	env     environment.Manager
	log     *zap.Logger

	tracer *tracing.Provider
	locker coordination.Locker
	logs   storage.LogStore
	sinks  []guardedSink
	host   models.Host
}

type guardedSink struct {
	sink    storage.RunSink
	breaker *resilience.CircuitBreaker
}

// Option configures optional collaborators.
type Option func(*Executor)

// WithTracer traces runs, stages and jobs.
func WithTracer(p *tracing.Provider) Option {
	return func(e *Executor) { e.tracer = p }
}

// WithLocker takes an advisory workspace lock before the environment is created.
func WithLocker(l coordination.Locker) Option {
	return func(e *Executor) { e.locker = l }
}

// WithLogStore stores the output of every job execution.
func WithLogStore(s storage.LogStore) Option {
	return func(e *Executor) { e.logs = s }
}

// WithSink hands every finished run to s, behind a circuit breaker.
func WithSink(s storage.RunSink) Option {
	return func(e *Executor) {
		e.sinks = append(e.sinks, guardedSink{
			sink:    s,
			breaker: resilience.NewCircuitBreaker(s.Name(), resilience.DefaultCircuitBreakerConfig()),
		})
	}
}

// WithHost overrides host detection.
func WithHost(h models.Host) Option {
	return func(e *Executor) { e.host = h }
}

func NewExecutor(opts Options, source ConfigSource, builder *command.Builder, r runner.JobRunner, env environment.Manager, log *zap.Logger, options ...Option) *Executor {
	if opts.TeardownAttempts < 1 {
		opts.TeardownAttempts = 3
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Executor{
		opts:    opts,
		source:  source,
		builder: builder,
		runner:  r,
		env:     env,
		log:     log,
		tracer:  tracing.Disabled(),
	}
	for _, o := range options {
		o(e)
	}
	if e.host == (models.Host{}) {
		e.host = DetectHost(log)
	}
	return e
}

// Breakers reports the circuit state of every run sink, in registration order.
func (e *Executor) Breakers() []resilience.Snapshot {
	out := make([]resilience.Snapshot, len(e.sinks))
	for i, g := range e.sinks {
		out[i] = g.breaker.Snapshot()
	}
	return out
}

// DetectHost describes the current machine.
func DetectHost(log *zap.Logger) models.Host {
	hostname, _ := os.Hostname()
	h := models.Host{Hostname: hostname, CPUs: runtime.NumCPU()}
	v, err := mem.VirtualMemory()
	if err != nil {
		log.Debug("Failed to detect memory", zap.Error(err))
		return h
	}
	h.TotalMemMB = v.Total / 1024 / 1024
	return h
}

// Run executes one invocation. explicit, when non-empty, selects the jobs to run.
//
// Errors from config load, selection, locking and environment setup are
// returned before any job runs. Once the job loop has started Run always
// returns the finished run and a nil error: job failures live in the report,
// a failed teardown in Run.TeardownErr.
func (e *Executor) Run(ctx context.Context, explicit []string) (*models.Run, error) {
	run := &models.Run{
		ID:        uuid.New(),
		WorkDir:   e.opts.WorkDir,
		StartedAt: time.Now(),
		Host:      e.host,
	}
	log := e.log.With(zap.String("run_id", run.ID.String()))

	ctx, span := e.tracer.StartSpan(ctx, "detox.run",
		attribute.String("run_id", run.ID.String()),
		attribute.String("work_dir", run.WorkDir),
	)
	defer span.End()

	log.Info("Detoxing begins:")

	js, selector, err := e.prepare(ctx, run, explicit)
	if err != nil {
		tracing.SetError(span, err)
		log.Error("Detoxing failed", zap.Error(err))
		return nil, err
	}

	if e.locker != nil {
		lease, err := e.lock(ctx, run)
		if err != nil {
			tracing.SetError(span, err)
			log.Error("Detoxing failed", zap.Error(err))
			return nil, err
		}
		defer func() {
			if err := lease.Unlock(context.WithoutCancel(ctx)); err != nil {
				log.Warn("Failed to release workspace lock", zap.Error(err))
			}
		}()
	}

	if err := e.setup(ctx); err != nil {
		tracing.SetError(span, err)
		log.Error("Detoxing failed", zap.Error(err))
		return nil, err
	}

	run.Report = e.runJobs(ctx, run, js, selector, log)
	run.TeardownErr = e.teardown(ctx, log)
	run.Elapsed = time.Since(run.StartedAt)

	if !run.Report.Overall {
		span.SetAttributes(attribute.StringSlice("failed", run.Report.Failed))
	}
	e.report(log, run)
	e.publish(ctx, log, run)
	return run, nil
}

// prepare covers config load and job selection. Nothing is touched on disk.
func (e *Executor) prepare(ctx context.Context, run *models.Run, explicit []string) (*models.JobSuite, []string, error) {
	sctx, span := e.tracer.StartSpan(ctx, "stage config_load")
	js, path, err := e.source.Load(sctx)
	run.ConfigPath = path
	if err != nil {
		tracing.SetError(span, err)
		span.End()
		return nil, nil, err
	}
	span.SetAttributes(attribute.String("config_path", path), attribute.Int("jobs", len(js.Jobs)))
	span.End()

	_, span = e.tracer.StartSpan(ctx, "stage arg_validate")
	defer span.End()
	selector, err := suite.Resolve(js, explicit)
	if err != nil {
		tracing.SetError(span, err)
		return nil, nil, err
	}
	span.SetAttributes(attribute.StringSlice("selector", selector))
	return js, selector, nil
}

func (e *Executor) lock(ctx context.Context, run *models.Run) (coordination.Lease, error) {
	holder := fmt.Sprintf("%s/%s", run.Host.Hostname, run.ID)
	lease, err := e.locker.TryLock(ctx, run.WorkDir, holder)
	if err == nil {
		return lease, nil
	}
	lerr := &LockError{WorkDir: run.WorkDir, Err: err}
	if errors.Is(err, coordination.ErrLocked) {
		if h, herr := e.locker.Holder(ctx, run.WorkDir); herr == nil {
			lerr.Holder = h
		}
	}
	return nil, lerr
}

func (e *Executor) setup(ctx context.Context) error {
	ctx, span := e.tracer.StartSpan(ctx, "stage env_setup")
	defer span.End()
	if !e.env.Create(ctx) {
		err := &environment.SetupError{Dir: e.env.Dir()}
		tracing.SetError(span, err)
		return err
	}
	return nil
}

// runJobs executes the selected jobs in order. A job that fails to run does
// not stop the loop; a job that cannot be built does, and so does cancellation.
func (e *Executor) runJobs(ctx context.Context, run *models.Run, js *models.JobSuite, selector []string, log *zap.Logger) models.RunReport {
	ctx, span := e.tracer.StartSpan(ctx, "stage job_loop")
	defer span.End()

	b := models.NewReportBuilder(selector)
	for i, name := range selector {
		if ctx.Err() != nil {
			log.Warn("Run interrupted", zap.Strings("remaining", selector[i:]), zap.Error(ctx.Err()))
			break
		}
		spec, _ := js.Lookup(name)

		log.Info(banner)
		log.Info(strings.ToUpper(name) + ":")
		res, stop := e.runJob(ctx, run, spec, log)
		b.Record(res)
		if stop {
			break
		}
	}
	log.Info(banner)
	return b.Finalize()
}

func (e *Executor) runJob(ctx context.Context, run *models.Run, spec models.JobSpec, log *zap.Logger) (models.JobResult, bool) {
	execID := xid.New().String()
	upper := strings.ToUpper(spec.Name)
	jl := log.With(zap.String("job", spec.Name), zap.String("exec_id", execID))

	ctx, span := e.tracer.StartSpan(ctx, "job "+spec.Name,
		attribute.String("job", spec.Name),
		attribute.String("exec_id", execID),
	)
	defer span.End()

	start := time.Now()
	res := models.JobResult{Name: spec.Name, ExecID: execID}

	install, hasInstall := e.builder.BuildInstall(spec)
	runSegment, err := e.builder.BuildRun(spec)
	if err != nil {
		jl.Error("Encountered error", zap.Error(err))
		tracing.SetError(span, err)
		res.Status, res.Err, res.Duration = models.JobFailed, err, time.Since(start)
		metrics.RecordJob(spec.Name, string(res.Status), res.Duration.Seconds())
		return res, true
	}
	line := command.Compose(e.env.Activate(), install, hasInstall, runSegment)
	jl.Debug("Running", zap.String("command", line))

	var capture *runner.Capture
	sink := runner.Sink(runner.LogSink{Log: jl, Out: e.opts.Out})
	if e.logs != nil {
		capture = &runner.Capture{}
		sink = runner.Tee(sink, capture)
	}

	out := e.runner.Run(ctx, line, sink)
	res.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("exit_code", out.ExitCode))

	if out.Success {
		res.Status = models.JobSucceeded
		jl.Info(fmt.Sprintf("%s succeeded! Took: %s", upper, res.Duration.Round(time.Millisecond)))
	} else {
		res.Status = models.JobFailed
		res.Err = &JobExecutionError{
			Job:          spec.Name,
			ExitCode:     out.ExitCode,
			StderrSeen:   out.StderrSeen,
			ErrorMatched: out.ErrorMatched,
			Err:          out.Err,
		}
		tracing.SetError(span, res.Err)
		jl.Error(upper+" failed", zap.Error(res.Err))
	}

	if capture != nil {
		ref, err := e.logs.Store(ctx, storage.LogKey(run.ID.String(), spec.Name, execID), capture.Bytes())
		if err != nil {
			jl.Warn("Failed to store job output", zap.Error(err))
		} else {
			res.LogRef = ref
		}
	}

	metrics.RecordJob(spec.Name, string(res.Status), res.Duration.Seconds())
	return res, false
}

// teardown removes the environment, retrying a bounded number of times.
// It runs even when ctx is cancelled.
func (e *Executor) teardown(ctx context.Context, log *zap.Logger) error {
	ctx, span := e.tracer.StartSpan(context.WithoutCancel(ctx), "stage env_teardown")
	defer span.End()

	attempts := e.opts.TeardownAttempts
	n, err := resilience.RetryBool(ctx, attempts, func(attempt int) bool {
		ok := e.env.Destroy(ctx)
		metrics.RecordTeardownAttempt(ok)
		if !ok && attempt < attempts {
			log.Warn("Retrying environment teardown", zap.Int("attempt", attempt), zap.Int("max_attempts", attempts))
		}
		return ok
	})
	span.SetAttributes(attribute.Int("attempts", n))
	if err != nil {
		terr := &environment.TeardownError{Dir: e.env.Dir(), Attempts: n}
		tracing.SetError(span, terr)
		return terr
	}
	return nil
}

func (e *Executor) report(log *zap.Logger, run *models.Run) {
	r := run.Report
	elapsed := run.Elapsed.Round(time.Millisecond)

	for _, res := range r.Results {
		log.Info("Job finished",
			zap.String("job", res.Name),
			zap.String("status", string(res.Status)),
			zap.Duration("took", res.Duration.Round(time.Millisecond)),
		)
	}

	if r.Overall {
		log.Info("All jobs succeeded!", zap.Strings("successful", r.Successful))
		log.Info("Detoxing took: " + elapsed.String())
	} else {
		log.Error("Unsuccessful detoxing took: " + elapsed.String())
		if len(r.Failed) > 0 {
			log.Error("Failed jobs", zap.Strings("failed", r.Failed))
		}
		if len(r.Successful) > 0 {
			log.Info("Successful jobs", zap.Strings("successful", r.Successful))
		}
	}
	if len(r.Skipped) > 0 {
		log.Warn("Skipped jobs", zap.Strings("skipped", r.Skipped))
	}
	if run.TeardownErr != nil {
		log.Error("Environment teardown failed", zap.Error(run.TeardownErr))
	}

	metrics.RecordSkipped(len(r.Skipped))
	metrics.RecordRun(run.Result(), run.Elapsed.Seconds())
}

// publish hands the run to every sink. Sink failures are logged only.
func (e *Executor) publish(ctx context.Context, log *zap.Logger, run *models.Run) {
	ctx = context.WithoutCancel(ctx)
	for _, g := range e.sinks {
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := g.breaker.Execute(sctx, func(ctx context.Context) error {
			return g.sink.Record(ctx, run)
		})
		cancel()
		if err != nil {
			log.Warn("Failed to record run", zap.String("sink", g.sink.Name()), zap.Error(err), zap.String("breaker", g.breaker.State().String()))
		}
	}
}
