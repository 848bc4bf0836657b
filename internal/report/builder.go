// SPDX-License-Identifier: Apache-2.0

// Package report builds the daily report tables and fills in risk scores.
package report

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/vulnops/vulnpipe/internal/model"
	"github.com/vulnops/vulnpipe/internal/risk"
)

// The aggregation transforms are opaque SQL scripts; the builder only
// sequences them around the scoring pass.
const (
	cveDailyScript     = "02_build_report_cve_daily.sql"
	productDailyScript = "03_build_report_product_daily.sql"
)

// Store is the storage surface the builder needs.
type Store interface {
	ExecScript(ctx context.Context, path string) error
	UnscoredCVERows(ctx context.Context, day time.Time) ([]model.ReportCVERow, error)
	UpdateRiskScores(ctx context.Context, day time.Time, updates []model.ScoreUpdate) error
	CountReportCVERows(ctx context.Context, day time.Time) (int, error)
	CountReportProductRows(ctx context.Context, day time.Time) (int, error)
}

// Result summarizes one report build.
type Result struct {
	CVERows       int
	UpdatedScores int
	ProductRows   int
}

// Builder runs the daily report build.
type Builder struct {
	store  Store
	sqlDir string
	now    func() time.Time
	log    *zap.SugaredLogger
}

func NewBuilder(store Store, sqlDir string, logger *zap.Logger) *Builder {
	return &Builder{store: store, sqlDir: sqlDir, now: time.Now, log: logger.Sugar()}
}

// Build runs the CVE-daily transform, scores every current-date row still
// missing a risk score, writes the scores back in one bulk operation, and
// then runs the product-daily transform, which depends on every CVE score
// being populated.
//
// Re-running for the same date is safe: the transforms are idempotent per
// date and an empty scoring pass writes nothing.
func (b *Builder) Build(ctx context.Context) (Result, error) {
	day := b.now()

	if err := b.store.ExecScript(ctx, filepath.Join(b.sqlDir, cveDailyScript)); err != nil {
		return Result{}, fmt.Errorf("building CVE daily report: %w", err)
	}

	rows, err := b.store.UnscoredCVERows(ctx, day)
	if err != nil {
		return Result{}, err
	}

	updates := make([]model.ScoreUpdate, 0, len(rows))
	for _, r := range rows {
		updates = append(updates, model.ScoreUpdate{
			CVEID: r.CVEID,
			Score: risk.Score(risk.Factors{
				CVSS:    r.CVSSScore,
				IsKEV:   r.IsKEV,
				EPSS:    r.EPSSScore,
				AgeDays: r.AgeDays,
			}),
		})
	}
	if err := b.store.UpdateRiskScores(ctx, day, updates); err != nil {
		return Result{}, err
	}
	b.log.Infow("risk scores updated", "count", len(updates))

	cveRows, err := b.store.CountReportCVERows(ctx, day)
	if err != nil {
		return Result{}, err
	}

	if err := b.store.ExecScript(ctx, filepath.Join(b.sqlDir, productDailyScript)); err != nil {
		return Result{}, fmt.Errorf("building product daily report: %w", err)
	}

	productRows, err := b.store.CountReportProductRows(ctx, day)
	if err != nil {
		return Result{}, err
	}

	return Result{CVERows: cveRows, UpdatedScores: len(updates), ProductRows: productRows}, nil
}
