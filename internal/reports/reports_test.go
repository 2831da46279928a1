package reports

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/billing-reports/internal/config"
	"github.com/dvloznov/billing-reports/internal/period"
	"github.com/dvloznov/billing-reports/internal/warehouse"
)

// fakeWarehouse implements PeriodChecker, ReportWriter and TableSizer
// against in-memory state, so idempotency can be observed across runs.
type fakeWarehouse struct {
	storageUsage []*warehouse.StorageUsageRow
	jobDetails   []*warehouse.JobCostDetailRow
	jobRollups   []*warehouse.JobCostPerProjectRow

	months map[string]map[string]bool // table -> month keys present

	tableBytes map[string]int64 // dataset -> bytes
	sizerErr   error

	checkErr  error
	insertErr error
}

func newFakeWarehouse() *fakeWarehouse {
	return &fakeWarehouse{
		months:     make(map[string]map[string]bool),
		tableBytes: make(map[string]int64),
	}
}

func (f *fakeWarehouse) markMonth(table, monthKey string) {
	if f.months[table] == nil {
		f.months[table] = make(map[string]bool)
	}
	f.months[table][monthKey] = true
}

func (f *fakeWarehouse) PeriodExists(ctx context.Context, table, monthKey string) (bool, error) {
	if f.checkErr != nil {
		return false, f.checkErr
	}
	return f.months[table][monthKey], nil
}

func (f *fakeWarehouse) InsertStorageUsage(ctx context.Context, table string, rows []*warehouse.StorageUsageRow) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.storageUsage = append(f.storageUsage, rows...)
	for _, row := range rows {
		f.markMonth(table, row.Month)
	}
	return nil
}

func (f *fakeWarehouse) InsertJobCostDetails(ctx context.Context, table string, rows []*warehouse.JobCostDetailRow) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.jobDetails = append(f.jobDetails, rows...)
	for _, row := range rows {
		f.markMonth(table, row.Month)
	}
	return nil
}

func (f *fakeWarehouse) InsertJobCostsPerProject(ctx context.Context, table string, rows []*warehouse.JobCostPerProjectRow) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.jobRollups = append(f.jobRollups, rows...)
	for _, row := range rows {
		f.markMonth(table, row.Month)
	}
	return nil
}

func (f *fakeWarehouse) TableBytes(ctx context.Context, projectID, datasetID, tableID string) (int64, error) {
	if f.sizerErr != nil {
		return 0, f.sizerErr
	}
	return f.tableBytes[datasetID], nil
}

// fakeJobHistory returns canned job-history results.
type fakeJobHistory struct {
	details []*warehouse.JobDetail
	rollups []*warehouse.JobRollup
	err     error

	detailCalls int
	rollupCalls int
}

func (f *fakeJobHistory) JobCostDetails(ctx context.Context, start, end time.Time) ([]*warehouse.JobDetail, error) {
	f.detailCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.details, nil
}

func (f *fakeJobHistory) JobCostsPerProject(ctx context.Context, start, end time.Time) ([]*warehouse.JobRollup, error) {
	f.rollupCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rollups, nil
}

// fakeObjectSizer returns canned prefix sizes.
type fakeObjectSizer struct {
	bytes map[string]int64 // prefix -> bytes
	err   error
}

func (f *fakeObjectSizer) PrefixBytes(ctx context.Context, bucketName, prefix string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.bytes[prefix], nil
}

func testConfig() *config.Config {
	return &config.Config{
		ProjectID:        "core-project",
		DataBucket:       "core-data",
		MainTable:        "events",
		BillingProjectID: "billing-project",
		BillingDatasetID: "billing",
		OrgUnits: []config.OrgUnit{
			{Dataset: "bucket-a", Label: "dept1"},
			{Dataset: "bucket-b", Label: "dept2"},
		},
		Tables: config.Tables{
			StorageUsage:       config.DefaultStorageUsageTable,
			JobCostsDetail:     config.DefaultJobCostsDetailTable,
			JobCostsPerProject: config.DefaultJobCostsPerProjectTable,
		},
		CostPerTiB: "5",
		JobsRegion: config.DefaultJobsRegion,
	}
}

func testRunner(cfg *config.Config, wh *fakeWarehouse, jobs *fakeJobHistory, objects *fakeObjectSizer) *Runner {
	return NewRunner(cfg, Deps{
		Checker: wh,
		Writer:  wh,
		Jobs:    jobs,
		Sizer:   wh,
		Objects: objects,
	})
}

var may2024 = period.Month{Year: 2024, Month: time.May}

func TestCollectStorageUsage(t *testing.T) {
	wh := newFakeWarehouse()
	wh.tableBytes["bucket-a"] = 111
	wh.tableBytes["bucket-b"] = 222
	objects := &fakeObjectSizer{bytes: map[string]int64{"bucket-a": 1000, "bucket-b": 2000}}

	r := testRunner(testConfig(), wh, &fakeJobHistory{}, objects)

	if err := r.CollectStorageUsage(context.Background(), may2024); err != nil {
		t.Fatalf("CollectStorageUsage failed: %v", err)
	}

	if len(wh.storageUsage) != 2 {
		t.Fatalf("got %d storage usage rows, want 2", len(wh.storageUsage))
	}

	mayFirst := civil.Date{Year: 2024, Month: time.May, Day: 1}
	want := []warehouse.StorageUsageRow{
		{Month: "202405", PeriodStart: mayFirst, Unit: "dept1", CloudStorageBytes: 1000, BigQueryStorageBytes: 111},
		{Month: "202405", PeriodStart: mayFirst, Unit: "dept2", CloudStorageBytes: 2000, BigQueryStorageBytes: 222},
	}
	for i, w := range want {
		got := *wh.storageUsage[i]
		if got != w {
			t.Errorf("row %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestCollectStorageUsage_FailFast(t *testing.T) {
	wh := newFakeWarehouse()
	objects := &fakeObjectSizer{err: errors.New("bucket unreachable")}

	r := testRunner(testConfig(), wh, &fakeJobHistory{}, objects)

	if err := r.CollectStorageUsage(context.Background(), may2024); err == nil {
		t.Fatal("expected error when a unit cannot be sized")
	}
	if len(wh.storageUsage) != 0 {
		t.Errorf("got %d rows inserted after sizing failure, want 0", len(wh.storageUsage))
	}
}

func TestRun_Idempotence(t *testing.T) {
	wh := newFakeWarehouse()
	wh.tableBytes["bucket-a"] = 10
	wh.tableBytes["bucket-b"] = 20
	objects := &fakeObjectSizer{bytes: map[string]int64{"bucket-a": 1, "bucket-b": 2}}
	jobs := &fakeJobHistory{
		details: []*warehouse.JobDetail{
			{User: "alice@example.com", Project: "proj-a", JobID: "job-1", BytesBilled: 1 << 30},
		},
		rollups: []*warehouse.JobRollup{
			{User: "alice@example.com", Project: "proj-a", QueryCount: 1, TotalBytesBilled: 1 << 30},
		},
	}

	r := testRunner(testConfig(), wh, jobs, objects)

	if err := r.Run(context.Background(), may2024); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	storageRows := len(wh.storageUsage)
	detailRows := len(wh.jobDetails)
	rollupRows := len(wh.jobRollups)
	detailCalls := jobs.detailCalls

	if err := r.Run(context.Background(), may2024); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if len(wh.storageUsage) != storageRows {
		t.Errorf("second run added storage rows: %d -> %d", storageRows, len(wh.storageUsage))
	}
	if len(wh.jobDetails) != detailRows {
		t.Errorf("second run added detail rows: %d -> %d", detailRows, len(wh.jobDetails))
	}
	if len(wh.jobRollups) != rollupRows {
		t.Errorf("second run added rollup rows: %d -> %d", rollupRows, len(wh.jobRollups))
	}
	if jobs.detailCalls != detailCalls {
		t.Errorf("second run re-executed the detail query (%d -> %d calls)", detailCalls, jobs.detailCalls)
	}
}

func TestRun_DifferentMonthInsertsAgain(t *testing.T) {
	wh := newFakeWarehouse()
	objects := &fakeObjectSizer{bytes: map[string]int64{}}
	jobs := &fakeJobHistory{
		details: []*warehouse.JobDetail{{User: "u", Project: "p", JobID: "j"}},
		rollups: []*warehouse.JobRollup{{User: "u", Project: "p", QueryCount: 1}},
	}

	r := testRunner(testConfig(), wh, jobs, objects)

	if err := r.Run(context.Background(), may2024); err != nil {
		t.Fatalf("may run failed: %v", err)
	}
	june := period.Month{Year: 2024, Month: time.June}
	if err := r.Run(context.Background(), june); err != nil {
		t.Fatalf("june run failed: %v", err)
	}

	if len(wh.jobDetails) != 2 {
		t.Errorf("got %d detail rows across two months, want 2", len(wh.jobDetails))
	}
}

func TestRun_Completeness(t *testing.T) {
	details := []*warehouse.JobDetail{
		{User: "alice@example.com", Project: "proj-a", JobID: "job-1", BytesBilled: 100},
		{User: "alice@example.com", Project: "proj-a", JobID: "job-2", BytesBilled: 200},
		{User: "alice@example.com", Project: "proj-b", JobID: "job-3", BytesBilled: 300},
		{User: "bob@example.com", Project: "proj-a", JobID: "job-4", BytesBilled: 400},
	}
	rollups := []*warehouse.JobRollup{
		{User: "alice@example.com", Project: "proj-a", QueryCount: 2, TotalBytesBilled: 300},
		{User: "alice@example.com", Project: "proj-b", QueryCount: 1, TotalBytesBilled: 300},
		{User: "bob@example.com", Project: "proj-a", QueryCount: 1, TotalBytesBilled: 400},
	}

	wh := newFakeWarehouse()
	r := testRunner(testConfig(), wh, &fakeJobHistory{details: details, rollups: rollups}, &fakeObjectSizer{})

	if err := r.Run(context.Background(), may2024); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	pairs := make(map[[2]string]bool)
	for _, row := range wh.jobDetails {
		pairs[[2]string{row.User, row.Project}] = true
	}
	if len(pairs) != len(wh.jobRollups) {
		t.Errorf("distinct (user, project) pairs in detail = %d, per-project rows = %d", len(pairs), len(wh.jobRollups))
	}
}

func TestRun_CostConsistency(t *testing.T) {
	// One TiB billed should cost $5 in both reports.
	bytesBilled := int64(1 << 40)
	jobs := &fakeJobHistory{
		details: []*warehouse.JobDetail{
			{User: "alice@example.com", Project: "proj-a", JobID: "job-1", BytesBilled: bytesBilled},
		},
		rollups: []*warehouse.JobRollup{
			{User: "alice@example.com", Project: "proj-a", QueryCount: 1, TotalBytesBilled: bytesBilled},
		},
	}

	wh := newFakeWarehouse()
	r := testRunner(testConfig(), wh, jobs, &fakeObjectSizer{})

	if err := r.Run(context.Background(), may2024); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(wh.jobDetails) != 1 || len(wh.jobRollups) != 1 {
		t.Fatalf("got %d detail rows and %d rollup rows, want 1 and 1", len(wh.jobDetails), len(wh.jobRollups))
	}

	detailCost, _ := wh.jobDetails[0].CostDollars.Float64()
	rollupCost, _ := wh.jobRollups[0].TotalCostDollars.Float64()
	if detailCost != 5.0 {
		t.Errorf("detail cost = %v, want 5", detailCost)
	}
	if detailCost != rollupCost {
		t.Errorf("detail cost %v != rollup cost %v for the same billed bytes", detailCost, rollupCost)
	}
}

func TestRun_RowsCarryPeriodStartDate(t *testing.T) {
	wh := newFakeWarehouse()
	objects := &fakeObjectSizer{bytes: map[string]int64{"bucket-a": 1, "bucket-b": 2}}
	jobs := &fakeJobHistory{
		details: []*warehouse.JobDetail{{User: "u", Project: "p", JobID: "j", BytesBilled: 100}},
		rollups: []*warehouse.JobRollup{{User: "u", Project: "p", QueryCount: 1, TotalBytesBilled: 100}},
	}

	r := testRunner(testConfig(), wh, jobs, objects)

	if err := r.Run(context.Background(), may2024); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	mayFirst := civil.Date{Year: 2024, Month: time.May, Day: 1}
	for _, row := range wh.storageUsage {
		if row.PeriodStart != mayFirst {
			t.Errorf("storage row period_start = %v, want %v", row.PeriodStart, mayFirst)
		}
	}
	for _, row := range wh.jobDetails {
		if row.PeriodStart != mayFirst {
			t.Errorf("detail row period_start = %v, want %v", row.PeriodStart, mayFirst)
		}
	}
	for _, row := range wh.jobRollups {
		if row.PeriodStart != mayFirst {
			t.Errorf("rollup row period_start = %v, want %v", row.PeriodStart, mayFirst)
		}
	}
}

func TestRun_RoutineFailureDoesNotBlockOthers(t *testing.T) {
	wh := newFakeWarehouse()
	objects := &fakeObjectSizer{bytes: map[string]int64{"bucket-a": 1, "bucket-b": 2}}
	jobs := &fakeJobHistory{err: errors.New("quota exceeded")}

	r := testRunner(testConfig(), wh, jobs, objects)

	err := r.Run(context.Background(), may2024)
	if err == nil {
		t.Fatal("expected aggregated error when job-history queries fail")
	}
	for _, routine := range []string{"job_costs_detail", "job_costs_per_project"} {
		if !strings.Contains(err.Error(), routine) {
			t.Errorf("error missing failed routine %q: %v", routine, err)
		}
	}

	// The storage routine still ran and inserted its rows.
	if len(wh.storageUsage) != 2 {
		t.Errorf("got %d storage rows, want 2 despite job-history failure", len(wh.storageUsage))
	}
}

func TestStatus(t *testing.T) {
	cfg := testConfig()
	wh := newFakeWarehouse()
	wh.markMonth(cfg.Tables.StorageUsage, "202405")

	r := testRunner(cfg, wh, &fakeJobHistory{}, &fakeObjectSizer{})

	statuses, err := r.Status(context.Background(), may2024)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("got %d statuses, want 3", len(statuses))
	}
	if !statuses[0].Exists {
		t.Errorf("expected %s to report existing data", statuses[0].Table)
	}
	if statuses[1].Exists || statuses[2].Exists {
		t.Errorf("expected job cost tables to report no data: %+v", statuses[1:])
	}
}

func TestSkipIfPresent_CheckError(t *testing.T) {
	wh := newFakeWarehouse()
	wh.checkErr = errors.New("permission denied")

	r := testRunner(testConfig(), wh, &fakeJobHistory{}, &fakeObjectSizer{})

	if err := r.CollectStorageUsage(context.Background(), may2024); err == nil {
		t.Error("expected error when the existence check fails")
	}
}
