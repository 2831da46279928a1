package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/billing-reports/internal/warehouse"
)

// InsertStorageUsageWithClient inserts a batch of StorageUsageRow into the
// destination table using the provided BigQuery client.
func InsertStorageUsageWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID, tableID string, rows []*warehouse.StorageUsageRow) error {
	if len(rows) == 0 {
		return nil
	}

	inserter := client.DatasetInProject(projectID, datasetID).Table(tableID).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertStorageUsage: inserting rows: %w", err)
	}

	return nil
}

// InsertJobCostDetailsWithClient inserts a batch of JobCostDetailRow into
// the destination table using the provided BigQuery client.
func InsertJobCostDetailsWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID, tableID string, rows []*warehouse.JobCostDetailRow) error {
	if len(rows) == 0 {
		return nil
	}

	inserter := client.DatasetInProject(projectID, datasetID).Table(tableID).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertJobCostDetails: inserting rows: %w", err)
	}

	return nil
}

// InsertJobCostsPerProjectWithClient inserts a batch of JobCostPerProjectRow
// into the destination table using the provided BigQuery client.
func InsertJobCostsPerProjectWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID, tableID string, rows []*warehouse.JobCostPerProjectRow) error {
	if len(rows) == 0 {
		return nil
	}

	inserter := client.DatasetInProject(projectID, datasetID).Table(tableID).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertJobCostsPerProject: inserting rows: %w", err)
	}

	return nil
}
