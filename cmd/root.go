// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vulnops/vulnpipe/internal/alert"
	"github.com/vulnops/vulnpipe/internal/config"
	"github.com/vulnops/vulnpipe/internal/feed/epss"
	"github.com/vulnops/vulnpipe/internal/feed/kev"
	"github.com/vulnops/vulnpipe/internal/feed/nvd"
	"github.com/vulnops/vulnpipe/internal/ingest"
	"github.com/vulnops/vulnpipe/internal/notify"
	"github.com/vulnops/vulnpipe/internal/output"
	"github.com/vulnops/vulnpipe/internal/report"
	"github.com/vulnops/vulnpipe/internal/store"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Pipeline steps in execution order.
var steps = []string{
	"create_tables",
	"ingest_kev",
	"ingest_epss",
	"ingest_cve",
	"build_reports",
	"run_alerts",
}

// ExitError signals a non-zero exit code with an optional message.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

// Options holds all CLI flag values.
type Options struct {
	Step     string
	DaysBack int
	SQLDir   string
	EnvFile  string
}

// NewRootCommand creates the root cobra command with all flags.
func NewRootCommand() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:     "vulnpipe",
		Short:   "Ingest vulnerability feeds, score risk, and generate alerts",
		Version: Version,
		Long: `vulnpipe pulls the CISA KEV catalog, the FIRST EPSS snapshot, and recent
CVEs from the NVD API into Postgres, builds daily report tables with a
composite risk score per CVE, and raises alerts when risk thresholds are
exceeded.

Usage:
  vulnpipe                      run the full pipeline
  vulnpipe --step ingest_kev    run a single step`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Step, "step", "", fmt.Sprintf("Run a single step: %s", strings.Join(steps, ", ")))
	flags.IntVar(&opts.DaysBack, "days-back", 365, "CVE ingestion lookback window in days")
	flags.StringVar(&opts.SQLDir, "sql-dir", "sql", "Directory containing the SQL scripts")
	flags.StringVar(&opts.EnvFile, "env-file", "", "Load environment variables from this file")

	return cmd
}

// initLogger builds a console logger for pipeline progress.
func initLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// run executes the requested steps against one shared store connection.
func run(ctx context.Context, opts *Options) error {
	if opts.Step != "" && !validStep(opts.Step) {
		return &ExitError{
			Code:    2,
			Message: fmt.Sprintf("unknown step %q, valid steps: %s", opts.Step, strings.Join(steps, ", ")),
		}
	}

	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := initLogger()
	defer func() { _ = logger.Sync() }()

	st, err := store.New(ctx, cfg.DSN(), logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer st.Close()

	for _, step := range steps {
		if opts.Step != "" && opts.Step != step {
			continue
		}
		banner(step)
		if err := runStep(ctx, step, opts, cfg, st, logger); err != nil {
			return fmt.Errorf("step %s: %w", step, err)
		}
	}
	return nil
}

func runStep(ctx context.Context, step string, opts *Options, cfg *config.Config, st *store.Store, logger *zap.Logger) error {
	switch step {
	case "create_tables":
		if err := st.ExecScript(ctx, filepath.Join(opts.SQLDir, "01_create_tables.sql")); err != nil {
			return err
		}
		success("tables ready")

	case "ingest_kev":
		ing := ingest.NewKEVIngestor(kev.NewClient(), st, logger)
		inserted, updated, err := ing.Run(ctx)
		if err != nil {
			return err
		}
		success("KEV ingested (%d inserted, %d updated)", inserted, updated)

	case "ingest_epss":
		ing := ingest.NewEPSSIngestor(epss.NewClient(), st, logger)
		inserted, updated, err := ing.Run(ctx)
		if err != nil {
			return err
		}
		success("EPSS ingested (%d inserted, %d updated)", inserted, updated)

	case "ingest_cve":
		ing := ingest.NewCVEIngestor(nvd.NewClient(cfg.NVDAPIKey, logger), st, opts.DaysBack, logger)
		inserted, updated, err := ing.Run(ctx)
		if err != nil {
			return err
		}
		success("CVEs ingested (%d inserted, %d updated)", inserted, updated)

	case "build_reports":
		res, err := report.NewBuilder(st, opts.SQLDir, logger).Build(ctx)
		if err != nil {
			return err
		}
		success("reports built (%d CVE rows, %d scored, %d product rows)",
			res.CVERows, res.UpdatedScores, res.ProductRows)

	case "run_alerts":
		count, err := alert.NewGenerator(st, logger).Generate(ctx)
		if err != nil {
			return err
		}
		success("%d alerts generated", count)
		return printAlerts(ctx, cfg, st, count)
	}
	return nil
}

// printAlerts renders the day's alerts to stdout and, when a webhook is
// configured, posts a one-line summary.
func printAlerts(ctx context.Context, cfg *config.Config, st *store.Store, count int) error {
	alerts, err := st.AlertsForDay(ctx, time.Now())
	if err != nil {
		return err
	}
	output.WriteAlertSummary(os.Stdout, alerts, output.IsOutputToTerminal(os.Stdout))

	wh := notify.NewWebhook(cfg.WebhookURL)
	if err := wh.Send(ctx, fmt.Sprintf("vulnpipe: %d alerts generated today", count)); err != nil {
		return fmt.Errorf("notifying webhook: %w", err)
	}
	return nil
}

func validStep(step string) bool {
	for _, s := range steps {
		if s == step {
			return true
		}
	}
	return false
}

func banner(step string) {
	color.New(color.FgCyan, color.Bold).Printf("==> %s\n", step)
}

func success(format string, args ...any) {
	color.New(color.FgGreen).Printf("✓ "+format+"\n", args...)
}
