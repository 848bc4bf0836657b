// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/vulnops/vulnpipe/internal/feed/nvd"
	"github.com/vulnops/vulnpipe/internal/model"
)

// publishedLayouts are the timestamp formats NVD uses for publish dates.
var publishedLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// CVEFetcher downloads CVE records for a lookback window.
type CVEFetcher interface {
	FetchWindow(ctx context.Context, daysBack int) ([]nvd.Vulnerability, error)
}

// CVEStore persists normalized CVE records.
type CVEStore interface {
	UpsertCVE(ctx context.Context, records []model.RawCVE) (inserted, updated int, err error)
}

// CVEIngestor runs the CVE ingestion pass.
type CVEIngestor struct {
	feed     CVEFetcher
	store    CVEStore
	daysBack int
	now      func() time.Time
	log      *zap.SugaredLogger
}

func NewCVEIngestor(feed CVEFetcher, store CVEStore, daysBack int, logger *zap.Logger) *CVEIngestor {
	return &CVEIngestor{feed: feed, store: store, daysBack: daysBack, now: time.Now, log: logger.Sugar()}
}

// Run fetches, normalizes, and upserts the window's CVEs.
func (i *CVEIngestor) Run(ctx context.Context) (inserted, updated int, err error) {
	vulns, err := i.feed.FetchWindow(ctx, i.daysBack)
	if err != nil {
		return 0, 0, fmt.Errorf("fetching CVE records: %w", err)
	}
	i.log.Infow("CVE records fetched", "count", len(vulns))

	records := NormalizeCVE(vulns, i.now())
	inserted, updated, err = i.store.UpsertCVE(ctx, records)
	if err != nil {
		return 0, 0, fmt.Errorf("upserting CVE records: %w", err)
	}
	i.log.Infow("CVE ingest complete", "inserted", inserted, "updated", updated)
	return inserted, updated, nil
}

// NormalizeCVE maps NVD records into raw records.
//
// Extraction policy: records without an id are dropped silently; the
// published date becomes nil when it fails to parse rather than aborting
// the batch; CVSS is taken from v3.1, then v3.0, then v2 metrics, with a
// severity label only available from v3; the first English description is
// used. The original cve block is kept verbatim.
func NormalizeCVE(vulns []nvd.Vulnerability, now time.Time) []model.RawCVE {
	records := make([]model.RawCVE, 0, len(vulns))
	for _, v := range vulns {
		raw := []byte(v.CVE)

		id := gjson.GetBytes(raw, "id").String()
		if id == "" {
			continue
		}

		rec := model.RawCVE{
			CVEID:      id,
			Published:  parsePublished(gjson.GetBytes(raw, "published")),
			SourceJSON: raw,
			IngestedAt: now,
		}
		rec.CVSSScore, rec.Severity = extractCVSS(raw)
		rec.Description = englishDescription(raw)

		records = append(records, rec)
	}
	return records
}

func parsePublished(v gjson.Result) *time.Time {
	if !v.Exists() {
		return nil
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, v.String()); err == nil {
			return &t
		}
	}
	return nil
}

// extractCVSS prefers v3.1 over v3.0 over v2 metrics. v2 has no
// baseSeverity field, so the severity label stays nil there.
func extractCVSS(raw []byte) (*float64, *string) {
	for _, metric := range []string{"metrics.cvssMetricV31.0.cvssData", "metrics.cvssMetricV30.0.cvssData"} {
		if data := gjson.GetBytes(raw, metric); data.Exists() {
			return floatOrNil(data.Get("baseScore")), stringOrNil(data.Get("baseSeverity"))
		}
	}
	if data := gjson.GetBytes(raw, "metrics.cvssMetricV2.0.cvssData"); data.Exists() {
		return floatOrNil(data.Get("baseScore")), nil
	}
	return nil, nil
}

func englishDescription(raw []byte) *string {
	var desc *string
	gjson.GetBytes(raw, "descriptions").ForEach(func(_, d gjson.Result) bool {
		if d.Get("lang").String() == "en" {
			s := d.Get("value").String()
			desc = &s
			return false
		}
		return true
	})
	return desc
}

func floatOrNil(v gjson.Result) *float64 {
	if !v.Exists() {
		return nil
	}
	f := v.Float()
	return &f
}

func stringOrNil(v gjson.Result) *string {
	if !v.Exists() {
		return nil
	}
	s := v.String()
	return &s
}
