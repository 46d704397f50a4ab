package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	config "detox/configs"
	"detox/pkg/api"
	"detox/pkg/command"
	"detox/pkg/coordination/etcd"
	"detox/pkg/environment"
	"detox/pkg/executor"
	"detox/pkg/executor/runner"
	"detox/pkg/logger"
	"detox/pkg/metrics"
	tracing "detox/pkg/observability"
	"detox/pkg/scheduler"
	"detox/pkg/storage"
	"detox/pkg/storage/postgres"
	"detox/pkg/storage/redis"
	"detox/pkg/suite"
)

// app holds everything one process needs to execute runs.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	tracer  *tracing.Provider
	exec    *executor.Executor
	history storage.RunLister
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, out io.Writer) (*app, error) {
	log, err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: cfg.LogOutput,
		Service:    "detox",
	})
	if err != nil {
		return nil, withCode(exitConfig, fmt.Errorf("failed to initialize logger: %w", err))
	}

	workDir, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, withCode(exitConfig, fmt.Errorf("invalid working directory: %w", err))
	}
	policy, err := runner.ParsePolicy(cfg.Classify)
	if err != nil {
		return nil, withCode(exitConfig, err)
	}

	a := &app{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.tracer, err = tracing.Init(ctx, tracing.DefaultConfig("detox", version, cfg.OTLPEndpoint))
	if err != nil {
		return nil, withCode(exitEnv, err)
	}
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.tracer.Shutdown(sctx)
	})

	r := runner.NewShellRunner(cfg.Shell, policy)
	r.Dir = workDir
	env := environment.NewVenv(workDir, cfg.EnvDir, cfg.Python, r, log.Named("env"))

	opts, err := a.backends(ctx, cfg)
	if err != nil {
		return nil, withCode(exitEnv, err)
	}
	opts = append(opts, executor.WithTracer(a.tracer))

	a.exec = executor.NewExecutor(
		executor.Options{WorkDir: workDir, TeardownAttempts: cfg.TeardownAttempts, Out: out},
		suite.NewStore(workDir, cfg.ConfigFile),
		command.NewBuilder(cfg.Installer),
		r, env, log, opts...,
	)
	ok = true
	return a, nil
}

// backends connects the optional log store, run sinks and workspace lock.
func (a *app) backends(ctx context.Context, cfg *config.Config) ([]executor.Option, error) {
	var opts []executor.Option

	switch {
	case cfg.LogBucket != "":
		s3, err := storage.NewS3LogStore(ctx, storage.S3LogStoreConfig{
			Bucket:          cfg.LogBucket,
			Prefix:          cfg.LogPrefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, executor.WithLogStore(s3))
	case cfg.LogDir != "":
		local, err := storage.NewLocalLogStore(cfg.LogDir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, executor.WithLogStore(local))
	}

	memory := storage.NewMemoryRunStore(0)
	a.history = memory
	opts = append(opts, executor.WithSink(memory))

	if cfg.DatabaseURL != "" {
		pg, err := postgres.NewRunStore(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		a.history = pg
		opts = append(opts, executor.WithSink(pg))
		a.log.Info("Postgres connected.")
	}

	if cfg.RedisAddr != "" {
		pub, err := redis.NewRunPublisher(cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		opts = append(opts, executor.WithSink(pub))
		a.log.Info("Redis connected.")
	}

	if len(cfg.EtcdEndpoints) > 0 {
		coord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LockTTL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, coord.Close)
		opts = append(opts, executor.WithLocker(coord))
		a.log.Info("Etcd connected.")
	}

	return opts, nil
}

// runOnce executes a single invocation and exports its metrics.
func (a *app) runOnce(ctx context.Context, names []string) error {
	run, err := a.exec.Run(ctx, names)
	if err != nil {
		return err
	}
	a.exportMetrics(run.ID.String())
	if !run.Report.Overall {
		return withCode(exitJobsFailed, errJobsFailed)
	}
	return nil
}

func (a *app) exportMetrics(runID string) {
	if a.cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
			a.log.Warn("Failed to export metrics", zap.Error(err))
		}
	}
	if a.cfg.PushgatewayURL != "" {
		if err := metrics.Push(a.cfg.PushgatewayURL, runID); err != nil {
			a.log.Warn("Failed to push metrics", zap.Error(err))
		}
	}
}

// runScheduled repeats the invocation on the configured schedule until ctx is
// done, serving the status API meanwhile when a port is configured.
func (a *app) runScheduled(ctx context.Context, names []string) error {
	core, err := scheduler.NewCore(a.cfg.Schedule, func(ctx context.Context) error {
		return a.runOnce(ctx, names)
	}, a.log)
	if err != nil {
		return withCode(exitConfig, err)
	}

	if a.cfg.StatusPort != "" {
		srv, err := api.NewServer(api.Config{
			Port:     a.cfg.StatusPort,
			Runs:     a.history,
			Secret:   a.cfg.StatusSecret,
			Schedule: core,
			Sinks:    a.exec,
			Tracer:   a.tracer,
			Log:      a.log,
		})
		if err != nil {
			return withCode(exitConfig, err)
		}
		go func() {
			if err := srv.Start(); err != nil {
				a.log.Error("Status server error", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				a.log.Warn("Status server shutdown error", zap.Error(err))
			}
		}()
	}

	core.Run(ctx)
	a.log.Info("Shutdown complete.")
	return nil
}

// Close releases backends in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("Failed to close backend", zap.Error(err))
		}
	}
	a.closers = nil
	_ = logger.Sync()
}
