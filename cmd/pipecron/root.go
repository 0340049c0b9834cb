package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/config"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/cron"
)

const envHelp = `Environment Variables:
  PIPELINE_BASE_URL         Base URL of the pipeline-run service (required)
  PIPELINE_SECRET           HMAC secret for signing run requests (optional)
  PIPELINE_RATE_LIMIT       Max run calls per second, 0 = unlimited (default: "0")
  PIPELINE_RATE_BURST       Burst for the run rate limit (default: "1")
  HTTP_ADDR                 HTTP server address (default: ":8080", or ":$PORT")
  TICK_INTERVAL             Scheduler tick interval, at most 1m (default: "1s")
  WORKERS                   Concurrent pipeline runs (default: "10")
  TIMEZONE                  Zone schedules are evaluated in (default: "UTC")
  EXECUTION_TIMEOUT         Per-run timeout (default: "30s")

  TRIGGER_SOURCE            "", "file" or "postgres" (default: "")
  TRIGGERS_FILE             YAML trigger definitions; implies TRIGGER_SOURCE=file
  RECONCILE_INTERVAL        How often the trigger source is re-read (default: "1m")

  DATABASE_URL              PostgreSQL connection string (optional)
  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")
  HISTORY_SQLITE_PATH       SQLite file for execution history without DATABASE_URL
  REDIS_ADDR                Redis address for fire analytics (optional)

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before a pipeline is skipped, 0 = off (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Time before a skipped pipeline is retried (default: "2m")
  RESULT_BUFFER_SIZE        Buffered execution results (default: "100")
  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED           Serve Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  LOG_LEVEL                 debug, info, warn or error (default: "info")
  LOG_FORMAT                json or console (default: "json")`

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pipecron",
		Short:         "pipecron - cron scheduler for pipeline runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("pipecron version {{.Version}}\n")
	root.Version = fmt.Sprintf("%s (commit: %s)", version, commit)

	root.AddCommand(
		newServeCmd(),
		newValidateCmd(),
		newConfigCmd(),
		newVersionCmd(),
		newConvertCmd(),
		newNextCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler and the HTTP API",
		Long:  "Start the scheduler and the HTTP API.\n\n" + envHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if err := config.Validate(cfg); err != nil {
				return &exitError{code: exitInvalidConfig, err: fmt.Errorf("configuration error: %w", err)}
			}
			if err := runServe(cmd.Context(), cfg); err != nil {
				return &exitError{code: exitRuntimeError, err: err}
			}
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration (no connections made)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Validate(config.Load()); err != nil {
				return &exitError{code: exitInvalidConfig, err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print effective configuration as JSON (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.Load().MaskedJSON()
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pipecron version %s (commit: %s)\n", version, commit)
		},
	}
}

func newConvertCmd() *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "convert <expression>",
		Short: "Translate a cron expression between dialects",
		Example: `  pipecron convert "15 18 * * 1"
  pipecron convert --from quartz --to unix "0 15 18 ? * 2"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := cron.ParseDialect(from)
			if err != nil {
				return err
			}
			dst, err := cron.ParseDialect(to)
			if err != nil {
				return err
			}
			out, err := cron.Convert(strings.Join(args, " "), src, dst)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "unix", "dialect of the input: unix or quartz")
	cmd.Flags().StringVar(&to, "to", "quartz", "dialect of the output: unix or quartz")
	return cmd
}

func newNextCmd() *cobra.Command {
	var (
		dialect  string
		timezone string
		count    int
	)

	cmd := &cobra.Command{
		Use:     "next <expression>",
		Short:   "Print the upcoming fire times of a cron expression",
		Example: `  pipecron next --count 3 --timezone Europe/Minsk "0 9 * * 1-5"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := cron.ParseDialect(dialect)
			if err != nil {
				return err
			}
			expr, err := cron.Parse(strings.Join(args, " "), d)
			if err != nil {
				return err
			}
			sched, err := cron.NewParser().Schedule(expr, timezone)
			if err != nil {
				return err
			}

			t := time.Now()
			for i := 0; i < count; i++ {
				t = sched.Next(t)
				if t.IsZero() {
					break
				}
				fmt.Fprintln(cmd.OutOrStdout(), t.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dialect, "dialect", "unix", "dialect of the expression: unix or quartz")
	cmd.Flags().StringVar(&timezone, "timezone", "UTC", "IANA zone the schedule is evaluated in")
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of fire times to print")
	return cmd
}
