package bigquery

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/billing-reports/internal/warehouse"
)

// regionPattern limits the INFORMATION_SCHEMA region qualifier to a plain
// identifier, since it cannot be bound as a query parameter.
var regionPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// jobDetailRecord matches the detail query's output columns.
type jobDetailRecord struct {
	User        string    `bigquery:"user_email"`
	Project     string    `bigquery:"project_id"`
	JobID       string    `bigquery:"job_id"`
	StartTime   time.Time `bigquery:"start_time"`
	ExecutionMS int64     `bigquery:"execution_time_ms"`
	BytesBilled int64     `bigquery:"total_bytes_billed"`
}

// jobRollupRecord matches the per-project query's output columns.
type jobRollupRecord struct {
	User             string `bigquery:"user_email"`
	Project          string `bigquery:"project_id"`
	QueryCount       int64  `bigquery:"num_queries"`
	TotalBytesBilled int64  `bigquery:"total_bytes_billed"`
}

// JobCostDetailsWithClient returns one record per completed query job with
// a start time in [start, end). Cache hits are not billed, so their byte
// count is reported as zero.
func JobCostDetailsWithClient(ctx context.Context, client *bigquery.Client, region string, start, end time.Time) ([]*warehouse.JobDetail, error) {
	if !regionPattern.MatchString(region) {
		return nil, fmt.Errorf("JobCostDetails: invalid jobs region %q", region)
	}

	q := client.Query(fmt.Sprintf(`
		SELECT
			IFNULL(user_email, '') AS user_email,
			project_id,
			job_id,
			start_time,
			TIMESTAMP_DIFF(end_time, start_time, MILLISECOND) AS execution_time_ms,
			IF(cache_hit, 0, IFNULL(total_bytes_billed, 0)) AS total_bytes_billed
		FROM `+"`%s`"+`.INFORMATION_SCHEMA.JOBS_BY_ORGANIZATION
		WHERE job_type = 'QUERY'
		  AND state = 'DONE'
		  AND start_time >= @period_start
		  AND start_time < @period_end
		ORDER BY project_id, start_time, user_email
	`, region))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "period_start", Value: start},
		{Name: "period_end", Value: end},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("JobCostDetails: query read: %w", err)
	}

	var details []*warehouse.JobDetail
	for {
		var rec jobDetailRecord
		err := it.Next(&rec)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("JobCostDetails: iter next: %w", err)
		}
		details = append(details, &warehouse.JobDetail{
			User:        rec.User,
			Project:     rec.Project,
			JobID:       rec.JobID,
			StartTime:   rec.StartTime,
			ExecutionMS: rec.ExecutionMS,
			BytesBilled: rec.BytesBilled,
		})
	}

	return details, nil
}

// JobCostsPerProjectWithClient returns one record per (user, project) pair
// aggregating completed query jobs with a start time in [start, end).
// Aggregation happens in the job-history source, not by post-processing the
// detail report, so both reports see the same period bounds.
func JobCostsPerProjectWithClient(ctx context.Context, client *bigquery.Client, region string, start, end time.Time) ([]*warehouse.JobRollup, error) {
	if !regionPattern.MatchString(region) {
		return nil, fmt.Errorf("JobCostsPerProject: invalid jobs region %q", region)
	}

	q := client.Query(fmt.Sprintf(`
		SELECT
			IFNULL(user_email, '') AS user_email,
			project_id,
			COUNT(*) AS num_queries,
			IFNULL(SUM(IF(cache_hit, 0, IFNULL(total_bytes_billed, 0))), 0) AS total_bytes_billed
		FROM `+"`%s`"+`.INFORMATION_SCHEMA.JOBS_BY_ORGANIZATION
		WHERE job_type = 'QUERY'
		  AND state = 'DONE'
		  AND start_time >= @period_start
		  AND start_time < @period_end
		GROUP BY user_email, project_id
		ORDER BY project_id, user_email
	`, region))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "period_start", Value: start},
		{Name: "period_end", Value: end},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("JobCostsPerProject: query read: %w", err)
	}

	var rollups []*warehouse.JobRollup
	for {
		var rec jobRollupRecord
		err := it.Next(&rec)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("JobCostsPerProject: iter next: %w", err)
		}
		rollups = append(rollups, &warehouse.JobRollup{
			User:             rec.User,
			Project:          rec.Project,
			QueryCount:       rec.QueryCount,
			TotalBytesBilled: rec.TotalBytesBilled,
		})
	}

	return rollups, nil
}
