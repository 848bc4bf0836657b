// SPDX-License-Identifier: Apache-2.0

// Package alert evaluates threshold rules over the daily report tables and
// records the alerts that fire.
package alert

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vulnops/vulnpipe/internal/model"
)

// Alert severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert types, one per rule.
const (
	TypeHighRiskCVE = "high_risk_cve"
	TypeKEVVuln     = "kev_vulnerability"
	TypeHighEPSS    = "high_epss"
	TypeHighVulns   = "high_vuln_count"
	TypeHighAvgRisk = "high_avg_risk"
)

// Rule thresholds and per-rule alert caps. KEV membership is treated as
// always alert-worthy and carries no cap.
const (
	riskThreshold      = 8.0
	epssThreshold      = 0.75
	vulnCountThreshold = 50
	avgRiskThreshold   = 7.0

	highRiskCap  = 100
	highEPSSCap  = 50
	vulnCountCap = 20
	avgRiskCap   = 20
)

// Store is the storage surface the generator needs.
type Store interface {
	CVEsAboveRisk(ctx context.Context, day time.Time, threshold float64, limit int) ([]model.ReportCVERow, error)
	KEVCVEs(ctx context.Context, day time.Time) ([]model.ReportCVERow, error)
	CVEsAboveEPSS(ctx context.Context, day time.Time, threshold float64, limit int) ([]model.ReportCVERow, error)
	ProductsAboveVulnCount(ctx context.Context, day time.Time, threshold, limit int) ([]model.ProductRow, error)
	ProductsAboveAvgRisk(ctx context.Context, day time.Time, threshold float64, limit int) ([]model.ProductRow, error)
	RebuildAlerts(ctx context.Context, day time.Time, alerts []model.Alert) (deleted int, err error)
}

// Generator runs the alert rules for the current day.
type Generator struct {
	store Store
	now   func() time.Time
	log   *zap.SugaredLogger
}

func NewGenerator(store Store, logger *zap.Logger) *Generator {
	return &Generator{store: store, now: time.Now, log: logger.Sugar()}
}

// Generate evaluates every rule against the report tables and replaces the
// current day's alert set with the result, so re-running replaces rather
// than duplicates. All rules are evaluated before anything is written: the
// delete-and-insert swap runs as one store operation, and a rule failure
// leaves the existing alerts untouched. Returns the number of alerts
// written.
func (g *Generator) Generate(ctx context.Context) (int, error) {
	day := g.now()

	var alerts []model.Alert
	for _, rule := range []func(context.Context, time.Time) ([]model.Alert, error){
		g.highRiskCVEs,
		g.kevCVEs,
		g.highEPSSCVEs,
		g.productVulnCounts,
		g.productAvgRisks,
	} {
		a, err := rule(ctx, day)
		if err != nil {
			return 0, err
		}
		alerts = append(alerts, a...)
	}

	deleted, err := g.store.RebuildAlerts(ctx, day, alerts)
	if err != nil {
		return 0, fmt.Errorf("writing alerts: %w", err)
	}
	if deleted > 0 {
		g.log.Infow("replaced existing alerts", "deleted", deleted)
	}
	g.log.Infow("alerts generated", "count", len(alerts))
	return len(alerts), nil
}

func (g *Generator) highRiskCVEs(ctx context.Context, day time.Time) ([]model.Alert, error) {
	rows, err := g.store.CVEsAboveRisk(ctx, day, riskThreshold, highRiskCap)
	if err != nil {
		return nil, fmt.Errorf("querying high risk CVEs: %w", err)
	}
	rows = capRows(rows, highRiskCap)

	alerts := make([]model.Alert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, model.Alert{
			CreatedAt: day,
			Type:      TypeHighRiskCVE,
			Scope:     r.CVEID,
			Message: fmt.Sprintf("High risk vulnerability detected: %s (risk score %.2f, severity %s, KEV %t)",
				r.CVEID, floatValue(r.RiskScore), severityLabel(r.Severity), boolValue(r.IsKEV)),
			Severity:    SeverityHigh,
			MetricValue: floatValue(r.RiskScore),
		})
	}
	return alerts, nil
}

func (g *Generator) kevCVEs(ctx context.Context, day time.Time) ([]model.Alert, error) {
	rows, err := g.store.KEVCVEs(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("querying KEV CVEs: %w", err)
	}

	alerts := make([]model.Alert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, model.Alert{
			CreatedAt: day,
			Type:      TypeKEVVuln,
			Scope:     kevScope(r),
			Message: fmt.Sprintf("Known exploited vulnerability: %s (risk score %.2f, severity %s)",
				r.CVEID, floatValue(r.RiskScore), severityLabel(r.Severity)),
			Severity:    SeverityCritical,
			MetricValue: floatValue(r.RiskScore),
		})
	}
	return alerts, nil
}

func (g *Generator) highEPSSCVEs(ctx context.Context, day time.Time) ([]model.Alert, error) {
	rows, err := g.store.CVEsAboveEPSS(ctx, day, epssThreshold, highEPSSCap)
	if err != nil {
		return nil, fmt.Errorf("querying high EPSS CVEs: %w", err)
	}
	rows = capRows(rows, highEPSSCap)

	alerts := make([]model.Alert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, model.Alert{
			CreatedAt: day,
			Type:      TypeHighEPSS,
			Scope:     r.CVEID,
			Message: fmt.Sprintf("High EPSS score: %s (EPSS %.4f, risk score %.2f)",
				r.CVEID, floatValue(r.EPSSScore), floatValue(r.RiskScore)),
			Severity:    SeverityMedium,
			MetricValue: floatValue(r.EPSSScore),
		})
	}
	return alerts, nil
}

func (g *Generator) productVulnCounts(ctx context.Context, day time.Time) ([]model.Alert, error) {
	rows, err := g.store.ProductsAboveVulnCount(ctx, day, vulnCountThreshold, vulnCountCap)
	if err != nil {
		return nil, fmt.Errorf("querying product vulnerability counts: %w", err)
	}
	rows = capRows(rows, vulnCountCap)

	alerts := make([]model.Alert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, model.Alert{
			CreatedAt: day,
			Type:      TypeHighVulns,
			Scope:     fmt.Sprintf("%s/%s", r.Vendor, r.Product),
			Message: fmt.Sprintf("High vulnerability count: %s/%s has %d open vulnerabilities (%d KEV, avg risk %.2f)",
				r.Vendor, r.Product, r.OpenVulns, r.KEVCount, r.AvgRiskScore),
			Severity:    SeverityMedium,
			MetricValue: float64(r.OpenVulns),
		})
	}
	return alerts, nil
}

func (g *Generator) productAvgRisks(ctx context.Context, day time.Time) ([]model.Alert, error) {
	rows, err := g.store.ProductsAboveAvgRisk(ctx, day, avgRiskThreshold, avgRiskCap)
	if err != nil {
		return nil, fmt.Errorf("querying product average risk: %w", err)
	}
	rows = capRows(rows, avgRiskCap)

	alerts := make([]model.Alert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, model.Alert{
			CreatedAt: day,
			Type:      TypeHighAvgRisk,
			Scope:     fmt.Sprintf("%s/%s", r.Vendor, r.Product),
			Message: fmt.Sprintf("High average risk: %s/%s at %.2f across %d open vulnerabilities (%d KEV)",
				r.Vendor, r.Product, r.AvgRiskScore, r.OpenVulns, r.KEVCount),
			Severity:    SeverityHigh,
			MetricValue: r.AvgRiskScore,
		})
	}
	return alerts, nil
}

// capRows enforces the per-rule alert cap even when the store returns more.
func capRows[T any](rows []T, limit int) []T {
	if len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

// kevScope prefixes the CVE id with vendor/product when both are known.
// Only the KEV rule carries this prefix; the other CVE rules scope by id
// alone.
func kevScope(r model.ReportCVERow) string {
	if r.Vendor != nil && r.Product != nil {
		return fmt.Sprintf("%s/%s - %s", *r.Vendor, *r.Product, r.CVEID)
	}
	return r.CVEID
}

func severityLabel(s *string) string {
	if s == nil {
		return "UNKNOWN"
	}
	return *s
}

func floatValue(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func boolValue(b *bool) bool {
	return b != nil && *b
}
