// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vulnops/vulnpipe/internal/model"
)

// UpsertKEV reconciles KEV records against raw_kev by CVE id. Matching
// rows are fully replaced (delete then insert) inside one transaction;
// partial-field updates are not supported.
func (s *Store) UpsertKEV(ctx context.Context, records []model.RawKEV) (inserted, updated int, err error) {
	if len(records) == 0 {
		return 0, 0, nil
	}
	records = dedupeByKey(records, func(r model.RawKEV) string { return r.CVEID })
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = r.CVEID
	}

	existing, err := s.existingKeys(ctx, "raw_kev", keys)
	if err != nil {
		return 0, 0, err
	}
	ins, upd := splitByKey(records, func(r model.RawKEV) string { return r.CVEID }, existing)

	err = s.replaceRows(ctx, "raw_kev", keys,
		[]string{"cve_id", "date_added", "due_date", "vendor", "product", "source_json", "ingested_at"},
		kevCopyRows(records))
	if err != nil {
		return 0, 0, err
	}
	return len(ins), len(upd), nil
}

// UpsertCVE reconciles CVE records against raw_cve by CVE id, with the
// same full-replacement policy as UpsertKEV.
func (s *Store) UpsertCVE(ctx context.Context, records []model.RawCVE) (inserted, updated int, err error) {
	if len(records) == 0 {
		return 0, 0, nil
	}
	records = dedupeByKey(records, func(r model.RawCVE) string { return r.CVEID })
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = r.CVEID
	}

	existing, err := s.existingKeys(ctx, "raw_cve", keys)
	if err != nil {
		return 0, 0, err
	}
	ins, upd := splitByKey(records, func(r model.RawCVE) string { return r.CVEID }, existing)

	err = s.replaceRows(ctx, "raw_cve", keys,
		[]string{"cve_id", "published_date", "cvss_score", "severity", "description", "source_json", "ingested_at"},
		cveCopyRows(records))
	if err != nil {
		return 0, 0, err
	}
	return len(ins), len(upd), nil
}

// UpsertEPSS reconciles EPSS records against raw_epss by (cve_id, date).
// Same-day reissues update in place; new (key, date) pairs are inserted.
// One transaction covers the whole batch.
func (s *Store) UpsertEPSS(ctx context.Context, records []model.RawEPSS) (inserted, updated int, err error) {
	if len(records) == 0 {
		return 0, 0, nil
	}
	key := func(r model.RawEPSS) string { return r.CVEID + "|" + r.Date.Format(time.DateOnly) }
	records = dedupeByKey(records, key)

	existing, err := s.existingEPSSKeys(ctx, records)
	if err != nil {
		return 0, 0, err
	}
	ins, upd := splitByKey(records, key, existing)

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if len(upd) > 0 {
			batch := &pgx.Batch{}
			for _, r := range upd {
				batch.Queue(`UPDATE raw_epss
					SET epss_score = $3, percentile = $4, source_json = $5, ingested_at = $6
					WHERE cve_id = $1 AND epss_date = $2`,
					r.CVEID, r.Date, r.Score, r.Percentile, r.SourceJSON, r.IngestedAt)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("updating raw_epss rows: %w", err)
			}
		}
		if len(ins) > 0 {
			_, err := tx.CopyFrom(ctx, pgx.Identifier{"raw_epss"},
				[]string{"cve_id", "epss_date", "epss_score", "percentile", "source_json", "ingested_at"},
				pgx.CopyFromRows(epssCopyRows(ins)))
			if err != nil {
				return fmt.Errorf("inserting raw_epss rows: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return len(ins), len(upd), nil
}

// kevCopyRows materializes deduplicated KEV records in raw_kev column
// order. With a duplicated key, the deduplicated slice already carries the
// last record, so its contents are what gets persisted.
func kevCopyRows(records []model.RawKEV) [][]any {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{r.CVEID, r.DateAdded, r.DueDate, r.Vendor, r.Product, r.SourceJSON, r.IngestedAt}
	}
	return rows
}

// cveCopyRows materializes deduplicated CVE records in raw_cve column order.
func cveCopyRows(records []model.RawCVE) [][]any {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{r.CVEID, r.Published, r.CVSSScore, r.Severity, r.Description, r.SourceJSON, r.IngestedAt}
	}
	return rows
}

// epssCopyRows materializes EPSS inserts in raw_epss column order.
func epssCopyRows(records []model.RawEPSS) [][]any {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{r.CVEID, r.Date, r.Score, r.Percentile, r.SourceJSON, r.IngestedAt}
	}
	return rows
}

// existingKeys returns which of keys already exist in table, checked in
// fixed-size batches.
func (s *Store) existingKeys(ctx context.Context, table string, keys []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	query := fmt.Sprintf(`SELECT cve_id FROM %s WHERE cve_id = ANY($1)`, table)
	for _, batch := range chunkKeys(keys, keyBatchSize) {
		rows, err := s.pool.Query(ctx, query, batch)
		if err != nil {
			return nil, fmt.Errorf("checking existing keys in %s: %w", table, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			existing[id] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("checking existing keys in %s: %w", table, err)
		}
	}
	return existing, nil
}

// existingEPSSKeys checks (cve_id, epss_date) existence. Records are
// grouped by date (normally a single ingestion day) and each group's ids
// are checked in batches.
func (s *Store) existingEPSSKeys(ctx context.Context, records []model.RawEPSS) (map[string]struct{}, error) {
	byDate := make(map[string][]string)
	dates := make(map[string]time.Time)
	for _, r := range records {
		d := r.Date.Format(time.DateOnly)
		byDate[d] = append(byDate[d], r.CVEID)
		dates[d] = r.Date
	}

	existing := make(map[string]struct{})
	for d, ids := range byDate {
		for _, batch := range chunkKeys(ids, keyBatchSize) {
			rows, err := s.pool.Query(ctx,
				`SELECT cve_id FROM raw_epss WHERE epss_date = $1 AND cve_id = ANY($2)`,
				dates[d], batch)
			if err != nil {
				return nil, fmt.Errorf("checking existing raw_epss keys: %w", err)
			}
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return nil, err
				}
				existing[id+"|"+d] = struct{}{}
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return nil, fmt.Errorf("checking existing raw_epss keys: %w", err)
			}
		}
	}
	return existing, nil
}

// replaceRows deletes any rows matching keys, then bulk-inserts rows, all
// inside one transaction. Deletes run in fixed-size key batches.
func (s *Store) replaceRows(ctx context.Context, table string, keys []string, columns []string, rows [][]any) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		query := fmt.Sprintf(`DELETE FROM %s WHERE cve_id = ANY($1)`, table)
		for _, batch := range chunkKeys(keys, keyBatchSize) {
			if _, err := tx.Exec(ctx, query, batch); err != nil {
				return fmt.Errorf("deleting %s rows: %w", table, err)
			}
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("inserting %s rows: %w", table, err)
		}
		return nil
	})
}
