// Package warehouse defines the destination row types and the repository
// interfaces the report routines depend on. The concrete BigQuery
// implementation lives in internal/infra/bigquery.
package warehouse

import (
	"context"
	"math/big"
	"time"

	"cloud.google.com/go/civil"
)

// StorageUsageRow is one storage-usage record: the byte footprint of a
// single organizational unit for one month, split between the data bucket
// and the unit's main warehouse table.
type StorageUsageRow struct {
	Month                string     `bigquery:"month"`
	PeriodStart          civil.Date `bigquery:"period_start"`
	Unit                 string     `bigquery:"unit"`
	CloudStorageBytes    int64      `bigquery:"cloud_storage_bytes"`
	BigQueryStorageBytes int64      `bigquery:"bigquery_storage_bytes"`
}

// JobCostDetailRow is one completed query job with its billed bytes and
// dollar cost for the month.
type JobCostDetailRow struct {
	Month       string     `bigquery:"month"`
	PeriodStart civil.Date `bigquery:"period_start"`
	User        string     `bigquery:"user_email"`
	Project     string     `bigquery:"project_id"`
	JobID       string     `bigquery:"job_id"`
	StartTime   time.Time  `bigquery:"start_time"`
	ExecutionMS int64      `bigquery:"execution_time_ms"`
	BytesBilled int64      `bigquery:"total_bytes_billed"`
	CostDollars *big.Rat   `bigquery:"cost_in_dollar"` // NUMERIC
}

// JobCostPerProjectRow is the per-(user, project) rollup of query jobs for
// the month.
type JobCostPerProjectRow struct {
	Month            string     `bigquery:"month"`
	PeriodStart      civil.Date `bigquery:"period_start"`
	User             string     `bigquery:"user_email"`
	Project          string     `bigquery:"project_id"`
	QueryCount       int64      `bigquery:"num_queries"`
	TotalBytesBilled int64      `bigquery:"total_bytes_billed"`
	TotalCostDollars *big.Rat   `bigquery:"cost_in_dollar"` // NUMERIC
}

// JobDetail is one job as returned by the job-history source, before
// pricing. Cost is computed by the caller from BytesBilled.
type JobDetail struct {
	User        string
	Project     string
	JobID       string
	StartTime   time.Time
	ExecutionMS int64
	BytesBilled int64
}

// JobRollup is one per-(user, project) aggregate from the job-history
// source, before pricing.
type JobRollup struct {
	User             string
	Project          string
	QueryCount       int64
	TotalBytesBilled int64
}

// PeriodChecker answers whether a destination table already holds rows for
// a month key. A missing table counts as "no rows" so the first scheduled
// run against a fresh dataset can proceed.
type PeriodChecker interface {
	PeriodExists(ctx context.Context, table, monthKey string) (bool, error)
}

// ReportWriter appends a period's rows to the destination tables. Each
// insert is a single all-or-nothing batch: any rejected row fails the whole
// call so a period is never left half-written.
type ReportWriter interface {
	InsertStorageUsage(ctx context.Context, table string, rows []*StorageUsageRow) error
	InsertJobCostDetails(ctx context.Context, table string, rows []*JobCostDetailRow) error
	InsertJobCostsPerProject(ctx context.Context, table string, rows []*JobCostPerProjectRow) error
}

// JobHistorySource reads completed query jobs for a time window from the
// job-execution history.
type JobHistorySource interface {
	JobCostDetails(ctx context.Context, start, end time.Time) ([]*JobDetail, error)
	JobCostsPerProject(ctx context.Context, start, end time.Time) ([]*JobRollup, error)
}

// TableSizer reports the stored byte size of a warehouse table.
type TableSizer interface {
	TableBytes(ctx context.Context, projectID, datasetID, tableID string) (int64, error)
}
