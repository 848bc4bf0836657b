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

	"github.com/vulnops/vulnpipe/internal/feed/kev"
	"github.com/vulnops/vulnpipe/internal/model"
)

type fakeKEVFetcher struct {
	catalog *kev.Catalog
	err     error
}

func (f *fakeKEVFetcher) Fetch(context.Context) (*kev.Catalog, error) { return f.catalog, f.err }

type fakeKEVStore struct {
	got      []model.RawKEV
	inserted int
	updated  int
	err      error
}

func (s *fakeKEVStore) UpsertKEV(_ context.Context, records []model.RawKEV) (int, int, error) {
	s.got = records
	return s.inserted, s.updated, s.err
}

func kevCatalog(entries ...string) *kev.Catalog {
	c := &kev.Catalog{Count: len(entries)}
	for _, e := range entries {
		c.Vulnerabilities = append(c.Vulnerabilities, json.RawMessage(e))
	}
	return c
}

func TestNormalizeKEV(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	entry := `{"cveID":"CVE-2024-1234","vendorProject":"Acme","product":"Widget","dateAdded":"2024-01-15","dueDate":"2024-02-05","shortDescription":"x"}`

	records := NormalizeKEV(kevCatalog(entry), now)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "CVE-2024-1234", r.CVEID)
	require.NotNil(t, r.Vendor)
	assert.Equal(t, "Acme", *r.Vendor)
	require.NotNil(t, r.Product)
	assert.Equal(t, "Widget", *r.Product)
	require.NotNil(t, r.DateAdded)
	assert.Equal(t, "2024-01-15", *r.DateAdded)
	assert.Equal(t, now, r.IngestedAt)
	assert.JSONEq(t, entry, string(r.SourceJSON))
}

func TestNormalizeKEV_AbsentFieldsStayNil(t *testing.T) {
	records := NormalizeKEV(kevCatalog(`{"cveID":"CVE-2024-1"}`), time.Now())
	require.Len(t, records, 1)
	assert.Nil(t, records[0].DateAdded)
	assert.Nil(t, records[0].DueDate)
	assert.Nil(t, records[0].Vendor)
	assert.Nil(t, records[0].Product)
}

func TestNormalizeKEV_MissingIDDropped(t *testing.T) {
	records := NormalizeKEV(kevCatalog(
		`{"vendorProject":"Acme","product":"Widget"}`,
		`{"cveID":"CVE-2024-2"}`,
	), time.Now())

	require.Len(t, records, 1)
	assert.Equal(t, "CVE-2024-2", records[0].CVEID)
}

func TestKEVIngestor_Run(t *testing.T) {
	fetcher := &fakeKEVFetcher{catalog: kevCatalog(`{"cveID":"CVE-2024-1"}`, `{"cveID":"CVE-2024-2"}`)}
	st := &fakeKEVStore{inserted: 2}

	ing := NewKEVIngestor(fetcher, st, zap.NewNop())
	inserted, updated, err := ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	assert.Zero(t, updated)
	assert.Len(t, st.got, 2)
}

func TestKEVIngestor_FetchError(t *testing.T) {
	cause := errors.New("boom")
	ing := NewKEVIngestor(&fakeKEVFetcher{err: cause}, &fakeKEVStore{}, zap.NewNop())

	_, _, err := ing.Run(context.Background())
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "fetching KEV catalog")
}

func TestKEVIngestor_UpsertError(t *testing.T) {
	cause := errors.New("db down")
	ing := NewKEVIngestor(&fakeKEVFetcher{catalog: kevCatalog()}, &fakeKEVStore{err: cause}, zap.NewNop())

	_, _, err := ing.Run(context.Background())
	require.ErrorIs(t, err, cause)
}
