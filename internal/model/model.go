// SPDX-License-Identifier: Apache-2.0

// Package model defines the persisted record shapes shared by the ingestion,
// reporting, and alerting pipelines. Nullable columns are pointer fields.
package model

import "time"

// RawKEV is one row of the raw_kev table. Natural key: CVEID.
// KEV dates are kept as the catalog's YYYY-MM-DD strings; absent fields
// are stored as NULL, never defaulted.
type RawKEV struct {
	CVEID      string
	DateAdded  *string
	DueDate    *string
	Vendor     *string
	Product    *string
	SourceJSON []byte
	IngestedAt time.Time
}

// RawEPSS is one row of the raw_epss table. Natural key: (CVEID, Date).
// Date is the ingestion day, not a date taken from the feed: EPSS reissues
// scores daily and same-day reissues update in place.
type RawEPSS struct {
	CVEID      string
	Date       time.Time
	Score      float64
	Percentile float64
	SourceJSON []byte
	IngestedAt time.Time
}

// RawCVE is one row of the raw_cve table. Natural key: CVEID.
type RawCVE struct {
	CVEID       string
	Published   *time.Time
	CVSSScore   *float64
	Severity    *string
	Description *string
	SourceJSON  []byte
	IngestedAt  time.Time
}

// ReportCVERow is one row of report_cve_daily, keyed by (AsOfDate, CVEID).
// RiskScore starts NULL and is filled in by the report builder.
type ReportCVERow struct {
	AsOfDate  time.Time
	CVEID     string
	CVSSScore *float64
	IsKEV     *bool
	EPSSScore *float64
	AgeDays   *int
	RiskScore *float64
	Severity  *string
	Vendor    *string
	Product   *string
}

// ProductRow is one row of report_product_daily, keyed by
// (AsOfDate, Vendor, Product).
type ProductRow struct {
	AsOfDate     time.Time
	Vendor       string
	Product      string
	OpenVulns    int
	KEVCount     int
	AvgRiskScore float64
	MaxRiskScore float64
}

// ScoreUpdate carries one computed risk score back to report_cve_daily.
type ScoreUpdate struct {
	CVEID string
	Score float64
}

// Alert is one row of the alerts table. All alerts created on a given day
// are deleted and regenerated as a set, never patched individually.
type Alert struct {
	CreatedAt   time.Time
	Type        string
	Scope       string
	Message     string
	Severity    string
	MetricValue float64
}
