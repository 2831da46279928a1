package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/billing-reports/internal/warehouse"
)

// Repository is the concrete BigQuery implementation of the warehouse
// interfaces. It holds a shared client to avoid creating a new connection
// for each operation.
type Repository struct {
	client *bigquery.Client

	billingProjectID string
	billingDatasetID string
	jobsRegion       string
}

// Interface conformance.
var (
	_ warehouse.PeriodChecker    = (*Repository)(nil)
	_ warehouse.ReportWriter     = (*Repository)(nil)
	_ warehouse.JobHistorySource = (*Repository)(nil)
	_ warehouse.TableSizer       = (*Repository)(nil)
)

// NewRepository creates a Repository with a shared BigQuery client bound to
// the core project. Destination tables live in the billing project/dataset.
func NewRepository(ctx context.Context, projectID, billingProjectID, billingDatasetID, jobsRegion string) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return &Repository{
		client:           client,
		billingProjectID: billingProjectID,
		billingDatasetID: billingDatasetID,
		jobsRegion:       jobsRegion,
	}, nil
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// PeriodExists delegates to PeriodExistsWithClient against the billing dataset.
func (r *Repository) PeriodExists(ctx context.Context, table, monthKey string) (bool, error) {
	return PeriodExistsWithClient(ctx, r.client, r.billingProjectID, r.billingDatasetID, table, monthKey)
}

// InsertStorageUsage delegates to InsertStorageUsageWithClient against the billing dataset.
func (r *Repository) InsertStorageUsage(ctx context.Context, table string, rows []*warehouse.StorageUsageRow) error {
	return InsertStorageUsageWithClient(ctx, r.client, r.billingProjectID, r.billingDatasetID, table, rows)
}

// InsertJobCostDetails delegates to InsertJobCostDetailsWithClient against the billing dataset.
func (r *Repository) InsertJobCostDetails(ctx context.Context, table string, rows []*warehouse.JobCostDetailRow) error {
	return InsertJobCostDetailsWithClient(ctx, r.client, r.billingProjectID, r.billingDatasetID, table, rows)
}

// InsertJobCostsPerProject delegates to InsertJobCostsPerProjectWithClient against the billing dataset.
func (r *Repository) InsertJobCostsPerProject(ctx context.Context, table string, rows []*warehouse.JobCostPerProjectRow) error {
	return InsertJobCostsPerProjectWithClient(ctx, r.client, r.billingProjectID, r.billingDatasetID, table, rows)
}

// JobCostDetails delegates to JobCostDetailsWithClient for the configured region.
func (r *Repository) JobCostDetails(ctx context.Context, start, end time.Time) ([]*warehouse.JobDetail, error) {
	return JobCostDetailsWithClient(ctx, r.client, r.jobsRegion, start, end)
}

// JobCostsPerProject delegates to JobCostsPerProjectWithClient for the configured region.
func (r *Repository) JobCostsPerProject(ctx context.Context, start, end time.Time) ([]*warehouse.JobRollup, error) {
	return JobCostsPerProjectWithClient(ctx, r.client, r.jobsRegion, start, end)
}

// TableBytes delegates to TableBytesWithClient.
func (r *Repository) TableBytes(ctx context.Context, projectID, datasetID, tableID string) (int64, error) {
	return TableBytesWithClient(ctx, r.client, projectID, datasetID, tableID)
}
