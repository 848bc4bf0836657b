// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vulnops/vulnpipe/internal/model"
)

// RebuildAlerts replaces the day's alert set with alerts: delete and
// insert run inside one transaction, so a failed rebuild leaves the
// existing alerts in place. Returns the number of alerts removed.
func (s *Store) RebuildAlerts(ctx context.Context, day time.Time, alerts []model.Alert) (int, error) {
	var deleted int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM alerts WHERE created_at::date = $1::date`, day)
		if err != nil {
			return fmt.Errorf("deleting alerts for %s: %w", day.Format(time.DateOnly), err)
		}
		deleted = tag.RowsAffected()

		if len(alerts) == 0 {
			return nil
		}
		rows := make([][]any, len(alerts))
		for i, a := range alerts {
			rows[i] = []any{a.CreatedAt, a.Type, a.Scope, a.Message, a.Severity, a.MetricValue}
		}
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"alerts"},
			[]string{"created_at", "alert_type", "scope", "message", "severity", "metric_value"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("inserting alerts: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(deleted), nil
}

// AlertsForDay returns the day's alerts for summary output.
func (s *Store) AlertsForDay(ctx context.Context, day time.Time) ([]model.Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT created_at, alert_type, scope, message, severity, metric_value
		FROM alerts
		WHERE created_at::date = $1::date
		ORDER BY severity, alert_type, metric_value DESC`, day)
	if err != nil {
		return nil, fmt.Errorf("selecting alerts: %w", err)
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		if err := rows.Scan(&a.CreatedAt, &a.Type, &a.Scope, &a.Message, &a.Severity, &a.MetricValue); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CVEsAboveRisk returns the day's CVE report rows at or above the risk
// threshold, highest first.
func (s *Store) CVEsAboveRisk(ctx context.Context, day time.Time, threshold float64, limit int) ([]model.ReportCVERow, error) {
	return s.cveRows(ctx, `
		SELECT cve_id, cvss_score, is_kev, epss_score, age_days, risk_score, severity, vendor, product
		FROM report_cve_daily
		WHERE as_of_date = $1 AND risk_score >= $2
		ORDER BY risk_score DESC
		LIMIT $3`, day, threshold, limit)
}

// KEVCVEs returns every KEV-listed CVE row for the day, highest risk first.
func (s *Store) KEVCVEs(ctx context.Context, day time.Time) ([]model.ReportCVERow, error) {
	return s.cveRows(ctx, `
		SELECT cve_id, cvss_score, is_kev, epss_score, age_days, risk_score, severity, vendor, product
		FROM report_cve_daily
		WHERE as_of_date = $1 AND is_kev
		ORDER BY risk_score DESC NULLS LAST`, day)
}

// CVEsAboveEPSS returns the day's CVE rows at or above the EPSS threshold,
// highest EPSS first.
func (s *Store) CVEsAboveEPSS(ctx context.Context, day time.Time, threshold float64, limit int) ([]model.ReportCVERow, error) {
	return s.cveRows(ctx, `
		SELECT cve_id, cvss_score, is_kev, epss_score, age_days, risk_score, severity, vendor, product
		FROM report_cve_daily
		WHERE as_of_date = $1 AND epss_score >= $2
		ORDER BY epss_score DESC
		LIMIT $3`, day, threshold, limit)
}

// ProductsAboveVulnCount returns the day's product rows with at least
// threshold open vulnerabilities, highest count first.
func (s *Store) ProductsAboveVulnCount(ctx context.Context, day time.Time, threshold, limit int) ([]model.ProductRow, error) {
	return s.productRows(ctx, `
		SELECT vendor, product, open_vulns, kev_count, avg_risk_score, max_risk_score
		FROM report_product_daily
		WHERE as_of_date = $1 AND open_vulns >= $2
		ORDER BY open_vulns DESC
		LIMIT $3`, day, threshold, limit)
}

// ProductsAboveAvgRisk returns the day's product rows with average risk at
// or above the threshold and at least one open vulnerability.
func (s *Store) ProductsAboveAvgRisk(ctx context.Context, day time.Time, threshold float64, limit int) ([]model.ProductRow, error) {
	return s.productRows(ctx, `
		SELECT vendor, product, open_vulns, kev_count, avg_risk_score, max_risk_score
		FROM report_product_daily
		WHERE as_of_date = $1 AND avg_risk_score >= $2 AND open_vulns > 0
		ORDER BY avg_risk_score DESC
		LIMIT $3`, day, threshold, limit)
}

func (s *Store) cveRows(ctx context.Context, query string, args ...any) ([]model.ReportCVERow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting report rows: %w", err)
	}
	defer rows.Close()

	var out []model.ReportCVERow
	for rows.Next() {
		var r model.ReportCVERow
		if err := rows.Scan(&r.CVEID, &r.CVSSScore, &r.IsKEV, &r.EPSSScore, &r.AgeDays,
			&r.RiskScore, &r.Severity, &r.Vendor, &r.Product); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) productRows(ctx context.Context, query string, args ...any) ([]model.ProductRow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting product rows: %w", err)
	}
	defer rows.Close()

	var out []model.ProductRow
	for rows.Next() {
		var r model.ProductRow
		if err := rows.Scan(&r.Vendor, &r.Product, &r.OpenVulns, &r.KEVCount,
			&r.AvgRiskScore, &r.MaxRiskScore); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
