package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

const validYAML = `
project_id: core-project
data_bucket: core-data
main_table: events
org_units:
  - dataset: dept1
  - dataset: dept2
    label: Department Two
billing_project_id: billing-project
billing_dataset_id: billing
cost_per_tib: "6.25"
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ProjectID != "core-project" {
		t.Errorf("ProjectID = %q, want core-project", cfg.ProjectID)
	}
	if len(cfg.OrgUnits) != 2 {
		t.Fatalf("len(OrgUnits) = %d, want 2", len(cfg.OrgUnits))
	}
	if cfg.OrgUnits[0].Label != "dept1" {
		t.Errorf("unit without label should default to dataset name, got %q", cfg.OrgUnits[0].Label)
	}
	if cfg.OrgUnits[1].Label != "Department Two" {
		t.Errorf("explicit label lost, got %q", cfg.OrgUnits[1].Label)
	}
	if cfg.Tables.StorageUsage != DefaultStorageUsageTable {
		t.Errorf("Tables.StorageUsage = %q, want default %q", cfg.Tables.StorageUsage, DefaultStorageUsageTable)
	}
	if cfg.JobsRegion != DefaultJobsRegion {
		t.Errorf("JobsRegion = %q, want default %q", cfg.JobsRegion, DefaultJobsRegion)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PROJECT_ID", "env-project")
	t.Setenv("BIGQUERY_PROJECTS", "alpha, beta")
	t.Setenv("COST_PER_TIB", "7")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ProjectID != "env-project" {
		t.Errorf("ProjectID = %q, want env-project", cfg.ProjectID)
	}
	if len(cfg.OrgUnits) != 2 || cfg.OrgUnits[0].Dataset != "alpha" || cfg.OrgUnits[1].Dataset != "beta" {
		t.Errorf("OrgUnits = %+v, want alpha and beta from BIGQUERY_PROJECTS", cfg.OrgUnits)
	}
	if cfg.CostPerTiB != "7" {
		t.Errorf("CostPerTiB = %q, want 7", cfg.CostPerTiB)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := &Config{CostPerTiB: "not-a-number"}
	cfg.applyDefaults()

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for empty config")
	}

	msg := err.Error()
	for _, want := range []string{"project_id", "data_bucket", "main_table", "billing_project_id", "billing_dataset_id", "org unit", "cost_per_tib"} {
		if !strings.Contains(msg, want) {
			t.Errorf("validation error missing %q: %s", want, msg)
		}
	}
}

func TestValidate_NegativeRate(t *testing.T) {
	cfg := &Config{
		ProjectID:        "p",
		DataBucket:       "b",
		MainTable:        "t",
		BillingProjectID: "bp",
		BillingDatasetID: "bd",
		OrgUnits:         []OrgUnit{{Dataset: "d", Label: "d"}},
		CostPerTiB:       "-1",
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative cost_per_tib")
	}
}

func TestPricing(t *testing.T) {
	cfg := &Config{CostPerTiB: "5"}

	got := cfg.Pricing().CostForBytes(1 << 40)
	if want := decimal.NewFromInt(5); !got.Equal(want) {
		t.Errorf("Pricing().CostForBytes(1 TiB) = %s, want %s", got, want)
	}
}

func TestPricing_PanicsOnUnvalidatedRate(t *testing.T) {
	cfg := &Config{CostPerTiB: "not-a-number"}

	defer func() {
		if recover() == nil {
			t.Error("expected panic for a rate Validate would have rejected")
		}
	}()
	cfg.Pricing()
}
