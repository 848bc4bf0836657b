// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vulnops/vulnpipe/internal/feed/epss"
	"github.com/vulnops/vulnpipe/internal/model"
)

type fakeEPSSFetcher struct {
	entries []epss.Entry
	err     error
}

func (f *fakeEPSSFetcher) Fetch(context.Context) ([]epss.Entry, error) { return f.entries, f.err }

type fakeEPSSStore struct {
	got      []model.RawEPSS
	inserted int
	updated  int
	err      error
}

func (s *fakeEPSSStore) UpsertEPSS(_ context.Context, records []model.RawEPSS) (int, int, error) {
	s.got = records
	return s.inserted, s.updated, s.err
}

func TestNormalizeEPSS(t *testing.T) {
	now := time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC)
	entries := []epss.Entry{
		{CVE: "CVE-2024-1234", Score: 0.97, Percentile: 0.998, Raw: map[string]string{"cve": "CVE-2024-1234", "epss": "0.97000"}},
	}

	records := NormalizeEPSS(entries, now)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "CVE-2024-1234", r.CVEID)
	assert.InEpsilon(t, 0.97, r.Score, 1e-9)

	// The score date is the ingestion day, not a date from the payload.
	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), r.Date)
	assert.Equal(t, now, r.IngestedAt)
	assert.JSONEq(t, `{"cve":"CVE-2024-1234","epss":"0.97000"}`, string(r.SourceJSON))
}

func TestEPSSIngestor_Run(t *testing.T) {
	fetcher := &fakeEPSSFetcher{entries: []epss.Entry{{CVE: "CVE-2024-1", Score: 0.5}}}
	st := &fakeEPSSStore{inserted: 1}

	ing := NewEPSSIngestor(fetcher, st, zap.NewNop())
	inserted, updated, err := ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.Zero(t, updated)
	require.Len(t, st.got, 1)
}

func TestEPSSIngestor_FetchError(t *testing.T) {
	cause := errors.New("gzip truncated")
	ing := NewEPSSIngestor(&fakeEPSSFetcher{err: cause}, &fakeEPSSStore{}, zap.NewNop())

	_, _, err := ing.Run(context.Background())
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "fetching EPSS snapshot")
}
