// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vulnops/vulnpipe/internal/feed/nvd"
	"github.com/vulnops/vulnpipe/internal/model"
)

func vulnsFrom(blocks ...string) []nvd.Vulnerability {
	var out []nvd.Vulnerability
	for _, b := range blocks {
		out = append(out, nvd.Vulnerability{CVE: json.RawMessage(b)})
	}
	return out
}

func TestNormalizeCVE_V31Preferred(t *testing.T) {
	raw := `{
		"id": "CVE-2026-1111",
		"published": "2026-05-01T18:15:09.123",
		"descriptions": [
			{"lang": "es", "value": "descripcion"},
			{"lang": "en", "value": "an english description"}
		],
		"metrics": {
			"cvssMetricV31": [{"cvssData": {"baseScore": 9.8, "baseSeverity": "CRITICAL"}}],
			"cvssMetricV2": [{"cvssData": {"baseScore": 7.5}}]
		}
	}`

	records := NormalizeCVE(vulnsFrom(raw), time.Now())
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "CVE-2026-1111", r.CVEID)
	require.NotNil(t, r.CVSSScore)
	assert.InEpsilon(t, 9.8, *r.CVSSScore, 1e-9)
	require.NotNil(t, r.Severity)
	assert.Equal(t, "CRITICAL", *r.Severity)
	require.NotNil(t, r.Description)
	assert.Equal(t, "an english description", *r.Description)
	require.NotNil(t, r.Published)
	assert.Equal(t, 2026, r.Published.Year())
	assert.JSONEq(t, raw, string(r.SourceJSON))
}

func TestNormalizeCVE_V30Fallback(t *testing.T) {
	raw := `{
		"id": "CVE-2026-2222",
		"metrics": {"cvssMetricV30": [{"cvssData": {"baseScore": 6.1, "baseSeverity": "MEDIUM"}}]}
	}`

	records := NormalizeCVE(vulnsFrom(raw), time.Now())
	require.Len(t, records, 1)
	require.NotNil(t, records[0].CVSSScore)
	assert.InEpsilon(t, 6.1, *records[0].CVSSScore, 1e-9)
	require.NotNil(t, records[0].Severity)
	assert.Equal(t, "MEDIUM", *records[0].Severity)
}

func TestNormalizeCVE_V2ScoreOnly(t *testing.T) {
	raw := `{
		"id": "CVE-2012-3333",
		"metrics": {"cvssMetricV2": [{"cvssData": {"baseScore": 5.0}}]}
	}`

	records := NormalizeCVE(vulnsFrom(raw), time.Now())
	require.Len(t, records, 1)
	require.NotNil(t, records[0].CVSSScore)
	assert.InEpsilon(t, 5.0, *records[0].CVSSScore, 1e-9)

	// Severity labels only exist on v3 metrics.
	assert.Nil(t, records[0].Severity)
}

func TestNormalizeCVE_NoMetrics(t *testing.T) {
	records := NormalizeCVE(vulnsFrom(`{"id":"CVE-2026-4444"}`), time.Now())
	require.Len(t, records, 1)
	assert.Nil(t, records[0].CVSSScore)
	assert.Nil(t, records[0].Severity)
	assert.Nil(t, records[0].Description)
	assert.Nil(t, records[0].Published)
}

func TestNormalizeCVE_MissingIDDropped(t *testing.T) {
	records := NormalizeCVE(vulnsFrom(
		`{"published": "2026-05-01T18:15:09.123"}`,
		`{"id": "CVE-2026-5555"}`,
	), time.Now())

	require.Len(t, records, 1)
	assert.Equal(t, "CVE-2026-5555", records[0].CVEID)
}

func TestNormalizeCVE_BadPublishedDate(t *testing.T) {
	records := NormalizeCVE(vulnsFrom(`{"id":"CVE-2026-6666","published":"not a date"}`), time.Now())
	require.Len(t, records, 1)

	// A date parse failure nulls the field, it does not drop the record.
	assert.Nil(t, records[0].Published)
	assert.Equal(t, "CVE-2026-6666", records[0].CVEID)
}

type fakeCVEFetcher struct {
	vulns    []nvd.Vulnerability
	daysBack int
	err      error
}

func (f *fakeCVEFetcher) FetchWindow(_ context.Context, daysBack int) ([]nvd.Vulnerability, error) {
	f.daysBack = daysBack
	return f.vulns, f.err
}

type fakeCVEStore struct {
	got      []model.RawCVE
	inserted int
	updated  int
	err      error
}

func (s *fakeCVEStore) UpsertCVE(_ context.Context, records []model.RawCVE) (int, int, error) {
	s.got = records
	return s.inserted, s.updated, s.err
}

func TestCVEIngestor_Run(t *testing.T) {
	fetcher := &fakeCVEFetcher{vulns: vulnsFrom(`{"id":"CVE-2026-1"}`, `{"id":"CVE-2026-2"}`)}
	st := &fakeCVEStore{inserted: 1, updated: 1}

	ing := NewCVEIngestor(fetcher, st, 250, zap.NewNop())
	inserted, updated, err := ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 1, updated)
	assert.Equal(t, 250, fetcher.daysBack)
	assert.Len(t, st.got, 2)
}

func TestCVEIngestor_FetchError(t *testing.T) {
	cause := errors.New("404 after fallback")
	ing := NewCVEIngestor(&fakeCVEFetcher{err: cause}, &fakeCVEStore{}, 365, zap.NewNop())

	_, _, err := ing.Run(context.Background())
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "fetching CVE records")
}
