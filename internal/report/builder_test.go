// SPDX-License-Identifier: Apache-2.0

package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vulnops/vulnpipe/internal/model"
	"github.com/vulnops/vulnpipe/internal/store"
)

type fakeBuildStore struct {
	scripts      []string
	unscored     []model.ReportCVERow
	updates      []model.ScoreUpdate
	updateCalls  int
	cveCount     int
	productCount int
	scriptErr    error
}

func (f *fakeBuildStore) ExecScript(_ context.Context, path string) error {
	if f.scriptErr != nil {
		return f.scriptErr
	}
	f.scripts = append(f.scripts, path)
	return nil
}

func (f *fakeBuildStore) UnscoredCVERows(context.Context, time.Time) ([]model.ReportCVERow, error) {
	return f.unscored, nil
}

func (f *fakeBuildStore) UpdateRiskScores(_ context.Context, _ time.Time, updates []model.ScoreUpdate) error {
	f.updateCalls++
	f.updates = updates
	return nil
}

func (f *fakeBuildStore) CountReportCVERows(context.Context, time.Time) (int, error) {
	return f.cveCount, nil
}

func (f *fakeBuildStore) CountReportProductRows(context.Context, time.Time) (int, error) {
	return f.productCount, nil
}

func fp(f float64) *float64 { return &f }
func bp(b bool) *bool       { return &b }
func ip(i int) *int         { return &i }

func TestBuild_ScoresUnscoredRows(t *testing.T) {
	st := &fakeBuildStore{
		unscored: []model.ReportCVERow{
			{CVEID: "CVE-2024-1234", CVSSScore: fp(9.8), IsKEV: bp(true), EPSSScore: fp(0.5), AgeDays: ip(100)},
		},
		cveCount:     1500,
		productCount: 40,
	}

	b := NewBuilder(st, "sql", zap.NewNop())
	res, err := b.Build(context.Background())
	require.NoError(t, err)

	require.Len(t, st.updates, 1)
	assert.Equal(t, "CVE-2024-1234", st.updates[0].CVEID)
	// 9.8*0.4 + 2.0 + 0.5*5.0 + 100*0.01
	assert.InEpsilon(t, 9.42, st.updates[0].Score, 1e-9)

	assert.Equal(t, Result{CVERows: 1500, UpdatedScores: 1, ProductRows: 40}, res)
}

func TestBuild_RunsTransformsInOrder(t *testing.T) {
	st := &fakeBuildStore{}
	b := NewBuilder(st, "scripts", zap.NewNop())

	_, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"scripts/02_build_report_cve_daily.sql",
		"scripts/03_build_report_product_daily.sql",
	}, st.scripts)
}

func TestBuild_NoUnscoredRowsIsNoOp(t *testing.T) {
	st := &fakeBuildStore{cveCount: 1500, productCount: 40}
	b := NewBuilder(st, "sql", zap.NewNop())

	res, err := b.Build(context.Background())
	require.NoError(t, err)

	// A second build on the same day finds nothing to score.
	assert.Zero(t, res.UpdatedScores)
	assert.Equal(t, 1500, res.CVERows)
	assert.Empty(t, st.updates)
}

func TestBuild_MissingScript(t *testing.T) {
	st := &fakeBuildStore{scriptErr: store.ErrScriptNotFound}
	b := NewBuilder(st, "sql", zap.NewNop())

	_, err := b.Build(context.Background())
	require.ErrorIs(t, err, store.ErrScriptNotFound)
	assert.Contains(t, err.Error(), "building CVE daily report")
}
