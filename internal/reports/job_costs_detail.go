package reports

import (
	"context"
	"fmt"

	"github.com/dvloznov/billing-reports/internal/logger"
	"github.com/dvloznov/billing-reports/internal/period"
	"github.com/dvloznov/billing-reports/internal/warehouse"
)

// ExtractJobCostDetails produces one JobCostDetailRow per completed query
// job in the month, priced from its billed bytes. The period-existence
// check runs before the history query so a rerun never pays for the
// aggregation twice.
func (r *Runner) ExtractJobCostDetails(ctx context.Context, m period.Month) error {
	log := logger.FromContext(ctx)

	skip, err := r.skipIfPresent(ctx, r.cfg.Tables.JobCostsDetail, m)
	if err != nil || skip {
		return err
	}

	details, err := r.deps.Jobs.JobCostDetails(ctx, m.Start(), m.End())
	if err != nil {
		return fmt.Errorf("ExtractJobCostDetails: %w", err)
	}

	rows := make([]*warehouse.JobCostDetailRow, 0, len(details))
	for _, d := range details {
		rows = append(rows, &warehouse.JobCostDetailRow{
			Month:       m.Key(),
			PeriodStart: m.StartDate(),
			User:        d.User,
			Project:     d.Project,
			JobID:       d.JobID,
			StartTime:   d.StartTime,
			ExecutionMS: d.ExecutionMS,
			BytesBilled: d.BytesBilled,
			CostDollars: r.pricing.CostRatForBytes(d.BytesBilled),
		})
	}

	if err := r.deps.Writer.InsertJobCostDetails(ctx, r.cfg.Tables.JobCostsDetail, rows); err != nil {
		return fmt.Errorf("ExtractJobCostDetails: %w", err)
	}

	log.Info().Int("rows", len(rows)).Msg("Stored job cost detail report")
	return nil
}
