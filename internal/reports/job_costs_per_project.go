package reports

import (
	"context"
	"fmt"

	"github.com/dvloznov/billing-reports/internal/logger"
	"github.com/dvloznov/billing-reports/internal/period"
	"github.com/dvloznov/billing-reports/internal/warehouse"
)

// AggregateJobCostsPerProject produces one JobCostPerProjectRow per
// (user, project) pair for the month. The rollup comes from its own
// job-history query with the same period bounds as the detail report, and
// costs go through the same pricing, so the two reports agree by
// construction rather than by post-processing one into the other.
func (r *Runner) AggregateJobCostsPerProject(ctx context.Context, m period.Month) error {
	log := logger.FromContext(ctx)

	skip, err := r.skipIfPresent(ctx, r.cfg.Tables.JobCostsPerProject, m)
	if err != nil || skip {
		return err
	}

	rollups, err := r.deps.Jobs.JobCostsPerProject(ctx, m.Start(), m.End())
	if err != nil {
		return fmt.Errorf("AggregateJobCostsPerProject: %w", err)
	}

	rows := make([]*warehouse.JobCostPerProjectRow, 0, len(rollups))
	for _, agg := range rollups {
		rows = append(rows, &warehouse.JobCostPerProjectRow{
			Month:            m.Key(),
			PeriodStart:      m.StartDate(),
			User:             agg.User,
			Project:          agg.Project,
			QueryCount:       agg.QueryCount,
			TotalBytesBilled: agg.TotalBytesBilled,
			TotalCostDollars: r.pricing.CostRatForBytes(agg.TotalBytesBilled),
		})
	}

	if err := r.deps.Writer.InsertJobCostsPerProject(ctx, r.cfg.Tables.JobCostsPerProject, rows); err != nil {
		return fmt.Errorf("AggregateJobCostsPerProject: %w", err)
	}

	log.Info().Int("rows", len(rows)).Msg("Stored job cost per-project report")
	return nil
}
