// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/vulnops/vulnpipe/internal/model"
)

// UnscoredCVERows returns the day's report rows whose risk score is still
// NULL, ready for the scoring pass.
func (s *Store) UnscoredCVERows(ctx context.Context, day time.Time) ([]model.ReportCVERow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cve_id, cvss_score, is_kev, epss_score, age_days
		FROM report_cve_daily
		WHERE as_of_date = $1 AND risk_score IS NULL`, day)
	if err != nil {
		return nil, fmt.Errorf("selecting unscored report rows: %w", err)
	}
	defer rows.Close()

	var out []model.ReportCVERow
	for rows.Next() {
		r := model.ReportCVERow{AsOfDate: day}
		if err := rows.Scan(&r.CVEID, &r.CVSSScore, &r.IsKEV, &r.EPSSScore, &r.AgeDays); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateRiskScores writes all computed scores for the day back in a single
// bulk statement rather than one round trip per row.
func (s *Store) UpdateRiskScores(ctx context.Context, day time.Time, updates []model.ScoreUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	ids := make([]string, len(updates))
	scores := make([]float64, len(updates))
	for i, u := range updates {
		ids[i] = u.CVEID
		scores[i] = u.Score
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE report_cve_daily AS r
		SET risk_score = u.score
		FROM (SELECT unnest($1::text[]) AS cve_id, unnest($2::float8[]) AS score) AS u
		WHERE r.cve_id = u.cve_id AND r.as_of_date = $3`, ids, scores, day)
	if err != nil {
		return fmt.Errorf("writing risk scores: %w", err)
	}
	return nil
}

// CountReportCVERows counts the day's rows in report_cve_daily.
func (s *Store) CountReportCVERows(ctx context.Context, day time.Time) (int, error) {
	return s.countForDay(ctx, `SELECT COUNT(*) FROM report_cve_daily WHERE as_of_date = $1`, day)
}

// CountReportProductRows counts the day's rows in report_product_daily.
func (s *Store) CountReportProductRows(ctx context.Context, day time.Time) (int, error) {
	return s.countForDay(ctx, `SELECT COUNT(*) FROM report_product_daily WHERE as_of_date = $1`, day)
}

func (s *Store) countForDay(ctx context.Context, query string, day time.Time) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, query, day).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting report rows: %w", err)
	}
	return n, nil
}
