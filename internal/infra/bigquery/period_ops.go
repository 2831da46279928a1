package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// PeriodExistsWithClient reports whether the destination table already holds
// at least one row for the given month key. A table that does not exist yet
// counts as "no rows": the first run against a fresh dataset must proceed.
func PeriodExistsWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID, tableID, monthKey string) (bool, error) {
	_, err := client.DatasetInProject(projectID, datasetID).Table(tableID).Metadata(ctx)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("PeriodExists: table metadata for %s.%s.%s: %w", projectID, datasetID, tableID, err)
	}

	q := client.Query(fmt.Sprintf(
		"SELECT 1 FROM `%s.%s.%s` WHERE month = @month LIMIT 1",
		projectID, datasetID, tableID,
	))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "month", Value: monthKey},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("PeriodExists: query read: %w", err)
	}

	var row []bigquery.Value
	switch err := it.Next(&row); err {
	case nil:
		return true, nil
	case iterator.Done:
		return false, nil
	default:
		return false, fmt.Errorf("PeriodExists: iter next: %w", err)
	}
}

// TableBytesWithClient returns the stored byte size of a table from its
// metadata, without scanning it.
func TableBytesWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID, tableID string) (int64, error) {
	md, err := client.DatasetInProject(projectID, datasetID).Table(tableID).Metadata(ctx)
	if err != nil {
		return 0, fmt.Errorf("TableBytes: table metadata for %s.%s.%s: %w", projectID, datasetID, tableID, err)
	}
	return md.NumBytes, nil
}

// isNotFound reports whether err is an HTTP 404 from the BigQuery API.
func isNotFound(err error) bool {
	var gapiErr *googleapi.Error
	return errors.As(err, &gapiErr) && gapiErr.Code == http.StatusNotFound
}
