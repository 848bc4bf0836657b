// SPDX-License-Identifier: Apache-2.0

// Package ingest wires each feed's fetcher, normalizer, and upserter into
// a per-source ingestion pass: fetch raw payloads, map them into the
// uniform raw-record shape, and reconcile them against the persisted
// tables. The three sources are independently runnable.
package ingest

import (
	"time"

	"github.com/tidwall/gjson"
)

// strField extracts a string field from a raw JSON block, or nil when the
// field is absent. Raw-record normalization stores NULL for missing
// fields rather than defaulting.
func strField(raw []byte, path string) *string {
	if v := gjson.GetBytes(raw, path); v.Exists() {
		s := v.String()
		return &s
	}
	return nil
}

// dateOf truncates t to its calendar day.
func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
