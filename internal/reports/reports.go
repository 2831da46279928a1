// Package reports implements the three monthly extraction routines and the
// run orchestration around them. Each routine follows the same shape:
// check the destination table for the target period, skip if rows already
// exist, otherwise extract and insert the period's rows as one batch.
package reports

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/dvloznov/billing-reports/internal/config"
	"github.com/dvloznov/billing-reports/internal/cost"
	"github.com/dvloznov/billing-reports/internal/gcsusage"
	"github.com/dvloznov/billing-reports/internal/logger"
	"github.com/dvloznov/billing-reports/internal/period"
	"github.com/dvloznov/billing-reports/internal/warehouse"
)

// Deps bundles the external collaborators a Runner needs. The concrete
// implementations are BigQuery and Cloud Storage; tests substitute fakes.
type Deps struct {
	Checker warehouse.PeriodChecker
	Writer  warehouse.ReportWriter
	Jobs    warehouse.JobHistorySource
	Sizer   warehouse.TableSizer
	Objects gcsusage.ObjectSizer
}

// Runner executes the monthly report routines against a fixed configuration.
type Runner struct {
	cfg     *config.Config
	deps    Deps
	pricing cost.Pricing
}

// NewRunner creates a Runner for the given configuration and collaborators.
func NewRunner(cfg *config.Config, deps Deps) *Runner {
	return &Runner{
		cfg:     cfg,
		deps:    deps,
		pricing: cfg.Pricing(),
	}
}

// Run executes all three routines sequentially for the given month. A
// failing routine does not block the remaining ones; failures are collected
// and returned together so the scheduler retries the whole invocation and
// the already-written tables skip themselves on the next run.
func (r *Runner) Run(ctx context.Context, m period.Month) error {
	log := logger.FromContext(ctx).With().
		Str("run_id", uuid.NewString()).
		Str("month", m.Key()).
		Logger()
	ctx = logger.WithContext(ctx, log)

	routines := []struct {
		name string
		fn   func(context.Context, period.Month) error
	}{
		{"storage_usage", r.CollectStorageUsage},
		{"job_costs_detail", r.ExtractJobCostDetails},
		{"job_costs_per_project", r.AggregateJobCostsPerProject},
	}

	var result *multierror.Error
	for _, routine := range routines {
		log.Info().Str("routine", routine.name).Msg("Starting report routine")
		if err := routine.fn(ctx, m); err != nil {
			log.Error().Err(err).Str("routine", routine.name).Msg("Report routine failed")
			result = multierror.Append(result, fmt.Errorf("%s: %w", routine.name, err))
			continue
		}
		log.Info().Str("routine", routine.name).Msg("Report routine finished")
	}

	return result.ErrorOrNil()
}

// TableStatus reports whether a destination table already holds the period.
type TableStatus struct {
	Table  string
	Exists bool
}

// Status checks each destination table for the given month without writing
// anything.
func (r *Runner) Status(ctx context.Context, m period.Month) ([]TableStatus, error) {
	tables := []string{
		r.cfg.Tables.StorageUsage,
		r.cfg.Tables.JobCostsDetail,
		r.cfg.Tables.JobCostsPerProject,
	}

	statuses := make([]TableStatus, 0, len(tables))
	for _, table := range tables {
		exists, err := r.deps.Checker.PeriodExists(ctx, table, m.Key())
		if err != nil {
			return nil, fmt.Errorf("Status: checking %s: %w", table, err)
		}
		statuses = append(statuses, TableStatus{Table: table, Exists: exists})
	}

	return statuses, nil
}

// skipIfPresent runs the shared idempotency precondition: it returns true
// when the destination table already holds rows for the month, in which
// case the caller must do nothing. Existing data is not an error.
func (r *Runner) skipIfPresent(ctx context.Context, table string, m period.Month) (bool, error) {
	exists, err := r.deps.Checker.PeriodExists(ctx, table, m.Key())
	if err != nil {
		return false, fmt.Errorf("checking existing data in %s: %w", table, err)
	}
	if exists {
		log := logger.FromContext(ctx)
		log.Info().
			Str("table", table).
			Msg("Data already present for this month, skipping")
	}
	return exists, nil
}
