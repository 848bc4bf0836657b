// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/vulnops/vulnpipe/internal/feed/kev"
	"github.com/vulnops/vulnpipe/internal/model"
)

// KEVFetcher downloads the KEV catalog.
type KEVFetcher interface {
	Fetch(ctx context.Context) (*kev.Catalog, error)
}

// KEVStore persists normalized KEV records.
type KEVStore interface {
	UpsertKEV(ctx context.Context, records []model.RawKEV) (inserted, updated int, err error)
}

// KEVIngestor runs the KEV ingestion pass.
type KEVIngestor struct {
	feed  KEVFetcher
	store KEVStore
	now   func() time.Time
	log   *zap.SugaredLogger
}

func NewKEVIngestor(feed KEVFetcher, store KEVStore, logger *zap.Logger) *KEVIngestor {
	return &KEVIngestor{feed: feed, store: store, now: time.Now, log: logger.Sugar()}
}

// Run fetches, normalizes, and upserts the catalog.
func (i *KEVIngestor) Run(ctx context.Context) (inserted, updated int, err error) {
	catalog, err := i.feed.Fetch(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("fetching KEV catalog: %w", err)
	}
	i.log.Infow("KEV catalog fetched", "count", len(catalog.Vulnerabilities))

	records := NormalizeKEV(catalog, i.now())
	inserted, updated, err = i.store.UpsertKEV(ctx, records)
	if err != nil {
		return 0, 0, fmt.Errorf("upserting KEV records: %w", err)
	}
	i.log.Infow("KEV ingest complete", "inserted", inserted, "updated", updated)
	return inserted, updated, nil
}

// NormalizeKEV maps catalog entries into raw records. Fields are direct
// renames; absent fields stay nil and the original payload is kept
// verbatim. Entries without a cveID are dropped silently, the same policy
// the CVE normalizer applies to id-less records.
func NormalizeKEV(catalog *kev.Catalog, now time.Time) []model.RawKEV {
	records := make([]model.RawKEV, 0, len(catalog.Vulnerabilities))
	for _, raw := range catalog.Vulnerabilities {
		id := gjson.GetBytes(raw, "cveID").String()
		if id == "" {
			continue
		}
		records = append(records, model.RawKEV{
			CVEID:      id,
			DateAdded:  strField(raw, "dateAdded"),
			DueDate:    strField(raw, "dueDate"),
			Vendor:     strField(raw, "vendorProject"),
			Product:    strField(raw, "product"),
			SourceJSON: raw,
			IngestedAt: now,
		})
	}
	return records
}
