package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/palantir/csv-aggregator/internal/app"
	"github.com/palantir/csv-aggregator/internal/config"
	"github.com/palantir/csv-aggregator/internal/logging"
	"github.com/palantir/csv-aggregator/internal/pipeline"
	"github.com/palantir/csv-aggregator/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.LookupEnv)
	stop()
	os.Exit(code)
}

// run executes the command and returns the process exit code: 2 for usage or
// configuration errors, 0 once an aggregation has been attempted.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, lookup config.LookupFunc) int {
	cmd := newRootCmd(stdout, stderr, lookup)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		return 2
	}
	return 0
}

// flagValues mirrors config.Config so flag defaults can be shown in --help
// while only explicitly set flags override the file and environment.
type flagValues struct {
	configPath   string
	output       string
	workers      int
	maxRetries   int
	readTimeout  time.Duration
	rateLimitRPS float64
	missingValue string
	logLevel     string
	logFormat    string
}

func newRootCmd(stdout, stderr io.Writer, lookup config.LookupFunc) *cobra.Command {
	defaults := config.Default()
	var fv flagValues

	cmd := &cobra.Command{
		Use:   `aggregate "<file list>"`,
		Short: "Combine CSV files into a single CSV",
		Long: `aggregate reads the CSV files named in a comma- and/or whitespace-separated
list, stacks their rows and writes the result to one CSV file.

Relative names are resolved against the working directory. Files that do not
exist, are not regular files, do not end in .csv or cannot be parsed are
logged and skipped.`,
		Example: `  aggregate "sales_jan.csv, sales_feb.csv"
  aggregate "a.csv b.csv" --output combined.csv --workers 4`,
		Version: version.Current,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("please provide a comma-separated list of CSV files")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Past argument checks, errors are about configuration, not usage.
			cmd.SilenceUsage = true

			cfg, err := resolveConfig(cmd.Flags(), &fv, lookup)
			if err != nil {
				return errors.Wrap(err, "config error")
			}
			logger, err := logging.New(&cfg, stderr)
			if err != nil {
				return errors.Wrap(err, "config error")
			}
			defer func() {
				_ = logger.Sync()
			}()

			agg, err := app.NewAggregator(args[0], app.Options{
				Pipeline:       pipeline.OptionsFromConfig(&cfg),
				OutputFilename: cfg.Output,
			}, logger)
			if err != nil {
				return err
			}

			if out, ok := agg.Process(cmd.Context()); ok {
				_, _ = fmt.Fprintf(stdout, "Processing complete. Output file: %s\n", out)
			} else {
				_, _ = fmt.Fprintln(stdout, "Processing failed. Check logs for details.")
			}
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate("aggregate {{.Version}}\n")

	fs := cmd.Flags()
	fs.SortFlags = false
	fs.StringVar(&fv.configPath, "config", "", "YAML config file (env: "+config.EnvConfig+")")
	fs.StringVarP(&fv.output, "output", "o", defaults.Output, "Output filename, relative to the working directory (env: "+config.EnvOutput+")")
	fs.IntVar(&fv.workers, "workers", defaults.Workers, "Number of files read concurrently (env: "+config.EnvWorkers+")")
	fs.IntVar(&fv.maxRetries, "max-retries", defaults.MaxRetries, "Retries per file for transient read errors (env: "+config.EnvMaxRetries+")")
	fs.DurationVar(&fv.readTimeout, "read-timeout", defaults.ReadTimeout, "Per-file read timeout, 0 disables (env: "+config.EnvReadTimeout+")")
	fs.Float64Var(&fv.rateLimitRPS, "rate-limit-rps", defaults.RateLimitRPS, "Global file read rate limit (files/sec), 0 disables (env: "+config.EnvRateLimitRPS+")")
	fs.StringVar(&fv.missingValue, "missing-value", defaults.MissingValue, "Text written for columns a file did not have (env: "+config.EnvMissingValue+")")
	fs.StringVar(&fv.logLevel, "log-level", defaults.LogLevel, "Log level: debug, info, warn or error (env: "+config.EnvLogLevel+")")
	fs.StringVar(&fv.logFormat, "log-format", string(defaults.LogFormat), "Log format: console or json (env: "+config.EnvLogFormat+")")

	return cmd
}

// resolveConfig layers defaults, the YAML file, the environment and finally
// any flags set on the command line.
func resolveConfig(fs *pflag.FlagSet, fv *flagValues, lookup config.LookupFunc) (config.Config, error) {
	cfg := config.Default()

	path := fv.configPath
	if !fs.Changed("config") {
		if v, ok := lookup(config.EnvConfig); ok {
			path = strings.TrimSpace(v)
		}
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}

	if fs.Changed("output") {
		cfg.Output = fv.output
	}
	if fs.Changed("workers") {
		cfg.Workers = fv.workers
	}
	if fs.Changed("max-retries") {
		cfg.MaxRetries = fv.maxRetries
	}
	if fs.Changed("read-timeout") {
		cfg.ReadTimeout = fv.readTimeout
	}
	if fs.Changed("rate-limit-rps") {
		cfg.RateLimitRPS = fv.rateLimitRPS
	}
	if fs.Changed("missing-value") {
		cfg.MissingValue = fv.missingValue
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = fv.logLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = config.LogFormat(fv.logFormat)
	}

	return cfg, cfg.Validate()
}
