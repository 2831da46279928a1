// Package config loads the static configuration surface for a report run:
// source project and bucket, organizational units, destination tables and
// the query price. Values come from a YAML file with environment variable
// overrides so the binary can run both locally and as a scheduled function.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/dvloznov/billing-reports/internal/cost"
)

// Default destination table names in the billing dataset.
const (
	DefaultStorageUsageTable       = "storage_usage"
	DefaultJobCostsDetailTable     = "bq_jobs_costs_detail"
	DefaultJobCostsPerProjectTable = "bq_jobs_costs_per_project"
)

// DefaultJobsRegion qualifies the INFORMATION_SCHEMA job-history views.
const DefaultJobsRegion = "region-us"

// OrgUnit is one organizational unit: a BigQuery dataset plus the GCS prefix
// under the data bucket, reported under a human-readable label.
type OrgUnit struct {
	Dataset string `yaml:"dataset"`
	Label   string `yaml:"label"`
}

// Tables names the three destination tables inside the billing dataset.
type Tables struct {
	StorageUsage       string `yaml:"storage_usage"`
	JobCostsDetail     string `yaml:"job_costs_detail"`
	JobCostsPerProject string `yaml:"job_costs_per_project"`
}

// Config is the full configuration for one report run.
type Config struct {
	// ProjectID is the core project holding the source datasets and bucket.
	ProjectID string `yaml:"project_id"`
	// DataBucket is the GCS bucket holding one folder per organizational unit.
	DataBucket string `yaml:"data_bucket"`
	// MainTable is the name of the main table inside each unit's dataset.
	MainTable string `yaml:"main_table"`

	OrgUnits []OrgUnit `yaml:"org_units"`

	// BillingProjectID and BillingDatasetID locate the destination tables.
	BillingProjectID string `yaml:"billing_project_id"`
	BillingDatasetID string `yaml:"billing_dataset_id"`

	Tables Tables `yaml:"tables"`

	// CostPerTiB is the on-demand query price in dollars per TiB billed.
	CostPerTiB string `yaml:"cost_per_tib"`

	// JobsRegion qualifies INFORMATION_SCHEMA.JOBS_BY_ORGANIZATION.
	JobsRegion string `yaml:"jobs_region"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("Load: accessing config file: %w", err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("Load: %s is a directory, not a file", path)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("Load: reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("Load: parsing config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides file values from the environment. The variable names
// match the original Cloud Function deployment surface.
func (c *Config) applyEnv() {
	if v := os.Getenv("PROJECT_ID"); v != "" {
		c.ProjectID = v
	}
	if v := os.Getenv("BUCKET_NAME"); v != "" {
		c.DataBucket = v
	}
	if v := os.Getenv("MAIN_TABLE_NAME"); v != "" {
		c.MainTable = v
	}
	if v := os.Getenv("BILLING_PROJECT_ID"); v != "" {
		c.BillingProjectID = v
	}
	if v := os.Getenv("BILLING_DATASET_ID"); v != "" {
		c.BillingDatasetID = v
	}
	if v := os.Getenv("COST_PER_TIB"); v != "" {
		c.CostPerTiB = v
	}
	if v := os.Getenv("BIGQUERY_PROJECTS"); v != "" {
		c.OrgUnits = nil
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			c.OrgUnits = append(c.OrgUnits, OrgUnit{Dataset: name, Label: name})
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Tables.StorageUsage == "" {
		c.Tables.StorageUsage = DefaultStorageUsageTable
	}
	if c.Tables.JobCostsDetail == "" {
		c.Tables.JobCostsDetail = DefaultJobCostsDetailTable
	}
	if c.Tables.JobCostsPerProject == "" {
		c.Tables.JobCostsPerProject = DefaultJobCostsPerProjectTable
	}
	if c.CostPerTiB == "" {
		c.CostPerTiB = cost.DefaultPerTiB.String()
	}
	if c.JobsRegion == "" {
		c.JobsRegion = DefaultJobsRegion
	}
	for i := range c.OrgUnits {
		if c.OrgUnits[i].Label == "" {
			c.OrgUnits[i].Label = c.OrgUnits[i].Dataset
		}
	}
}

// Validate reports every missing or invalid field at once so a broken
// deployment fails before the first API call.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.ProjectID == "" {
		result = multierror.Append(result, fmt.Errorf("project_id is required"))
	}
	if c.DataBucket == "" {
		result = multierror.Append(result, fmt.Errorf("data_bucket is required"))
	}
	if c.MainTable == "" {
		result = multierror.Append(result, fmt.Errorf("main_table is required"))
	}
	if c.BillingProjectID == "" {
		result = multierror.Append(result, fmt.Errorf("billing_project_id is required"))
	}
	if c.BillingDatasetID == "" {
		result = multierror.Append(result, fmt.Errorf("billing_dataset_id is required"))
	}
	if len(c.OrgUnits) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one org unit is required"))
	}
	for i, u := range c.OrgUnits {
		if u.Dataset == "" {
			result = multierror.Append(result, fmt.Errorf("org_units[%d]: dataset is required", i))
		}
	}
	if rate, err := decimal.NewFromString(c.CostPerTiB); err != nil {
		result = multierror.Append(result, fmt.Errorf("cost_per_tib %q is not a decimal: %w", c.CostPerTiB, err))
	} else if rate.IsNegative() {
		result = multierror.Append(result, fmt.Errorf("cost_per_tib must not be negative"))
	}

	return result.ErrorOrNil()
}

// Pricing returns the query pricing derived from CostPerTiB. Validate is the
// single gate for a bad rate, so an unparseable one here is a programming
// error, not a configuration error.
func (c *Config) Pricing() cost.Pricing {
	rate, err := decimal.NewFromString(c.CostPerTiB)
	if err != nil {
		panic(fmt.Sprintf("config: cost_per_tib %q passed to Pricing without Validate: %v", c.CostPerTiB, err))
	}
	return cost.PerTiB(rate)
}
