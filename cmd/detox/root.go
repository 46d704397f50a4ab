package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	config "detox/configs"
	"detox/pkg/auth"
	"detox/pkg/environment"
	"detox/pkg/executor"
	"detox/pkg/suite"
)

const (
	exitOK         = 0
	exitJobsFailed = 1
	exitConfig     = 2
	exitEnv        = 3
)

var errJobsFailed = errors.New("one or more jobs failed")

// exitError carries the process exit code of an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// exitCode maps an error returned by the root command to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var (
		ee *exitError
		ce *suite.ConfigError
		uj *suite.UnknownJobError
		ms *suite.MissingSuiteKeyError
		se *environment.SetupError
		le *executor.LockError
	)
	switch {
	case errors.As(err, &ee):
		return ee.code
	case errors.As(err, &ce), errors.As(err, &uj), errors.As(err, &ms):
		return exitConfig
	case errors.As(err, &se), errors.As(err, &le):
		return exitEnv
	default:
		// flag and argument errors from cobra
		return exitConfig
	}
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if args == nil {
		// cobra falls back to os.Args on nil
		args = []string{}
	}
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, errJobsFailed) {
		fmt.Fprintf(stderr, "detox: %v\n", err)
	}
	return exitCode(err)
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var jobs []string

	cmd := &cobra.Command{
		Use:   "detox [flags] [job...]",
		Short: "Run declared jobs in a disposable environment",
		Long: `detox reads detox.toml, detox.json, detox.yaml or detox.hcl from the
working directory, creates a disposable virtual environment, runs the
selected jobs in order and removes the environment again.

Jobs are selected with -j or as arguments. All -j values run first, in
the order given, followed by the arguments, wherever the flags appear on
the command line. Without a selection the run.suite list is used, or every
declared job in declaration order.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(v)
			// -j values first, then arguments; their interleaving is not kept
			names := append(append([]string(nil), jobs...), args...)

			a, err := newApp(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			if cfg.Schedule != "" {
				return a.runScheduled(cmd.Context(), names)
			}
			return a.runOnce(cmd.Context(), names)
		},
	}
	cmd.SetVersionTemplate("detox v{{.Version}}\n")

	f := cmd.Flags()
	f.StringSliceVarP(&jobs, "jobs", "j", nil, "jobs to run, in order and before any job arguments (repeatable or comma separated)")
	f.StringP("workdir", "C", ".", "working directory holding the config file")
	f.String("config", "", "config file, bypassing discovery")
	f.String("every", "", `re-run on a cron schedule, e.g. "*/30 * * * *" or "@every 10m"`)
	f.String("classify", "output", "job classification policy: output, strict or exit")
	f.String("log-level", "info", "log level: debug, info, warn or error")

	bind := map[string]string{
		"workdir":   "workdir",
		"config":    "config",
		"schedule":  "every",
		"classify":  "classify",
		"log_level": "log-level",
	}
	for key, flag := range bind {
		if err := v.BindPFlag(key, f.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	cmd.AddCommand(newTokenCmd(v))
	return cmd
}

// newTokenCmd issues bearer tokens for the status API.
func newTokenCmd(v *viper.Viper) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for the status API (requires DETOX_STATUS_SECRET)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.LoadConfig(v)
			svc, err := auth.NewJWTService(auth.DefaultJWTConfig(cfg.StatusSecret))
			if err != nil {
				return withCode(exitConfig, err)
			}
			token, err := svc.GenerateToken(subject, ttl, auth.ScopeReadRuns)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "detox", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
