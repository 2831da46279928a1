package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/billing-reports/internal/config"
	"github.com/dvloznov/billing-reports/internal/gcsusage"
	infraBQ "github.com/dvloznov/billing-reports/internal/infra/bigquery"
	"github.com/dvloznov/billing-reports/internal/logger"
	"github.com/dvloznov/billing-reports/internal/period"
	"github.com/dvloznov/billing-reports/internal/reports"
)

// runTimeout bounds one full invocation, matching the ceiling a scheduled
// function deployment would enforce.
const runTimeout = 30 * time.Minute

var (
	cfgPath  string
	monthKey string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "billing-reports",
		Short:         "Monthly GCP storage-usage and BigQuery job-cost reports",
		Long:          "Collects storage usage and BigQuery job cost metadata for the previous calendar month and appends it to the billing reporting tables. Reruns for an already-reported month are silent no-ops.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("BILLING_REPORTS_CONFIG"), "path to the YAML config file (or set BILLING_REPORTS_CONFIG)")
	root.PersistentFlags().StringVar(&monthKey, "month", "", "reporting month as YYYYMM (default: previous calendar month)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newStatusCmd())

	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Generate and store all three monthly reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New()

			runner, cleanup, m, err := setup(cmd.Context())
			if err != nil {
				log.Error().Err(err).Msg("Setup failed")
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
			defer cancel()
			ctx = logger.WithContext(ctx, log)

			log.Info().Str("month", m.Key()).Msg("Starting report run")
			if err := runner.Run(ctx, m); err != nil {
				log.Error().Err(err).Str("month", m.Key()).Msg("Report run failed")
				return err
			}

			log.Info().Str("month", m.Key()).Msg("Report run finished")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which destination tables already hold the reporting month",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, cleanup, m, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			statuses, err := runner.Status(ctx, m)
			if err != nil {
				return err
			}

			fmt.Printf("Month %s:\n", m.Key())
			for _, s := range statuses {
				state := "missing"
				if s.Exists {
					state = "present"
				}
				fmt.Printf("  %-30s %s\n", s.Table, state)
			}
			return nil
		},
	}
}

// setup loads configuration, resolves the reporting month and wires the
// runner to the live BigQuery and Cloud Storage clients.
func setup(ctx context.Context) (*reports.Runner, func(), period.Month, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, period.Month{}, fmt.Errorf("loading configuration: %w", err)
	}

	m := period.Previous(time.Now().UTC())
	if monthKey != "" {
		m, err = period.Parse(monthKey)
		if err != nil {
			return nil, nil, period.Month{}, err
		}
	}

	repo, err := infraBQ.NewRepository(ctx, cfg.ProjectID, cfg.BillingProjectID, cfg.BillingDatasetID, cfg.JobsRegion)
	if err != nil {
		return nil, nil, period.Month{}, fmt.Errorf("creating warehouse repository: %w", err)
	}

	objects, err := gcsusage.NewService(ctx)
	if err != nil {
		repo.Close()
		return nil, nil, period.Month{}, fmt.Errorf("creating storage service: %w", err)
	}

	cleanup := func() {
		objects.Close()
		repo.Close()
	}

	runner := reports.NewRunner(cfg, reports.Deps{
		Checker: repo,
		Writer:  repo,
		Jobs:    repo,
		Sizer:   repo,
		Objects: objects,
	})

	return runner, cleanup, m, nil
}
