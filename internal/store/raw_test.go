// SPDX-License-Identifier: Apache-2.0

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnops/vulnpipe/internal/model"
)

func sp(s string) *string { return &s }

// Upserting the same key twice must persist the second record's contents:
// the dedupe step keeps the last occurrence and the materialized row
// carries its fields.
func TestUpsertSameKeyTwice_SecondRecordWins(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	records := []model.RawKEV{
		{
			CVEID:      "CVE-2024-1234",
			Vendor:     sp("Acme"),
			Product:    sp("Widget"),
			DueDate:    sp("2024-02-05"),
			SourceJSON: []byte(`{"cveID":"CVE-2024-1234","product":"Widget"}`),
			IngestedAt: now,
		},
		{
			CVEID:      "CVE-2024-1234",
			Vendor:     sp("Acme"),
			Product:    sp("Widget v2"),
			DueDate:    sp("2024-03-01"),
			SourceJSON: []byte(`{"cveID":"CVE-2024-1234","product":"Widget v2"}`),
			IngestedAt: now.Add(time.Hour),
		},
	}

	deduped := dedupeByKey(records, func(r model.RawKEV) string { return r.CVEID })
	require.Len(t, deduped, 1)

	rows := kevCopyRows(deduped)
	require.Len(t, rows, 1)
	assert.Equal(t, "CVE-2024-1234", rows[0][0])
	assert.Equal(t, sp("2024-03-01"), rows[0][2])
	assert.Equal(t, sp("Widget v2"), rows[0][4])
	assert.Equal(t, []byte(`{"cveID":"CVE-2024-1234","product":"Widget v2"}`), rows[0][5])
	assert.Equal(t, now.Add(time.Hour), rows[0][6])
}

func TestCVECopyRows_ColumnOrder(t *testing.T) {
	published := time.Date(2026, 5, 1, 18, 15, 9, 0, time.UTC)
	score := 9.8
	r := model.RawCVE{
		CVEID:       "CVE-2026-1111",
		Published:   &published,
		CVSSScore:   &score,
		Severity:    sp("CRITICAL"),
		Description: sp("an english description"),
		SourceJSON:  []byte(`{"id":"CVE-2026-1111"}`),
		IngestedAt:  published.Add(24 * time.Hour),
	}

	rows := cveCopyRows([]model.RawCVE{r})
	require.Len(t, rows, 1)
	assert.Equal(t, []any{
		r.CVEID, r.Published, r.CVSSScore, r.Severity, r.Description, r.SourceJSON, r.IngestedAt,
	}, rows[0])
}

func TestEPSSCopyRows_ColumnOrder(t *testing.T) {
	day := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	r := model.RawEPSS{
		CVEID:      "CVE-2024-1234",
		Date:       day,
		Score:      0.97,
		Percentile: 0.998,
		SourceJSON: []byte(`{"cve":"CVE-2024-1234"}`),
		IngestedAt: day.Add(14 * time.Hour),
	}

	rows := epssCopyRows([]model.RawEPSS{r})
	require.Len(t, rows, 1)
	assert.Equal(t, []any{
		r.CVEID, r.Date, r.Score, r.Percentile, r.SourceJSON, r.IngestedAt,
	}, rows[0])
}
