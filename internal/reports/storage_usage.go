package reports

import (
	"context"
	"fmt"

	"github.com/dvloznov/billing-reports/internal/logger"
	"github.com/dvloznov/billing-reports/internal/period"
	"github.com/dvloznov/billing-reports/internal/warehouse"
)

// CollectStorageUsage produces one StorageUsageRow per organizational unit:
// the unit's main-table bytes in BigQuery plus its folder bytes in the data
// bucket. Sizing is fail-fast: if any unit cannot be measured, nothing is
// inserted, so a rerun covers every unit or none.
func (r *Runner) CollectStorageUsage(ctx context.Context, m period.Month) error {
	log := logger.FromContext(ctx)

	skip, err := r.skipIfPresent(ctx, r.cfg.Tables.StorageUsage, m)
	if err != nil || skip {
		return err
	}

	rows := make([]*warehouse.StorageUsageRow, 0, len(r.cfg.OrgUnits))
	for _, unit := range r.cfg.OrgUnits {
		bqBytes, err := r.deps.Sizer.TableBytes(ctx, r.cfg.ProjectID, unit.Dataset, r.cfg.MainTable)
		if err != nil {
			return fmt.Errorf("CollectStorageUsage: sizing table %s.%s: %w", unit.Dataset, r.cfg.MainTable, err)
		}

		csBytes, err := r.deps.Objects.PrefixBytes(ctx, r.cfg.DataBucket, unit.Dataset)
		if err != nil {
			return fmt.Errorf("CollectStorageUsage: sizing gs://%s/%s: %w", r.cfg.DataBucket, unit.Dataset, err)
		}

		log.Info().
			Str("unit", unit.Label).
			Int64("bigquery_bytes", bqBytes).
			Int64("cloud_storage_bytes", csBytes).
			Msg("Sized organizational unit")

		rows = append(rows, &warehouse.StorageUsageRow{
			Month:                m.Key(),
			PeriodStart:          m.StartDate(),
			Unit:                 unit.Label,
			CloudStorageBytes:    csBytes,
			BigQueryStorageBytes: bqBytes,
		})
	}

	if err := r.deps.Writer.InsertStorageUsage(ctx, r.cfg.Tables.StorageUsage, rows); err != nil {
		return fmt.Errorf("CollectStorageUsage: %w", err)
	}

	log.Info().Int("rows", len(rows)).Msg("Stored storage usage report")
	return nil
}
