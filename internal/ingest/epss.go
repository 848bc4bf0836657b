// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vulnops/vulnpipe/internal/feed/epss"
	"github.com/vulnops/vulnpipe/internal/model"
)

// EPSSFetcher downloads the EPSS snapshot.
type EPSSFetcher interface {
	Fetch(ctx context.Context) ([]epss.Entry, error)
}

// EPSSStore persists normalized EPSS records.
type EPSSStore interface {
	UpsertEPSS(ctx context.Context, records []model.RawEPSS) (inserted, updated int, err error)
}

// EPSSIngestor runs the EPSS ingestion pass.
type EPSSIngestor struct {
	feed  EPSSFetcher
	store EPSSStore
	now   func() time.Time
	log   *zap.SugaredLogger
}

func NewEPSSIngestor(feed EPSSFetcher, store EPSSStore, logger *zap.Logger) *EPSSIngestor {
	return &EPSSIngestor{feed: feed, store: store, now: time.Now, log: logger.Sugar()}
}

// Run fetches, normalizes, and upserts the snapshot.
func (i *EPSSIngestor) Run(ctx context.Context) (inserted, updated int, err error) {
	entries, err := i.feed.Fetch(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("fetching EPSS snapshot: %w", err)
	}
	i.log.Infow("EPSS snapshot fetched", "count", len(entries))

	records := NormalizeEPSS(entries, i.now())
	inserted, updated, err = i.store.UpsertEPSS(ctx, records)
	if err != nil {
		return 0, 0, fmt.Errorf("upserting EPSS records: %w", err)
	}
	i.log.Infow("EPSS ingest complete", "inserted", inserted, "updated", updated)
	return inserted, updated, nil
}

// NormalizeEPSS maps snapshot entries into raw records. The score date is
// always the ingestion day, not a date from the payload: EPSS reissues
// the whole snapshot daily and the natural key is (cve, day).
func NormalizeEPSS(entries []epss.Entry, now time.Time) []model.RawEPSS {
	day := dateOf(now)
	records := make([]model.RawEPSS, 0, len(entries))
	for _, e := range entries {
		raw, err := json.Marshal(e.Raw)
		if err != nil {
			raw = nil
		}
		records = append(records, model.RawEPSS{
			CVEID:      e.CVE,
			Date:       day,
			Score:      e.Score,
			Percentile: e.Percentile,
			SourceJSON: raw,
			IngestedAt: now,
		})
	}
	return records
}
