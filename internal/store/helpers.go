// SPDX-License-Identifier: Apache-2.0

package store

// keyBatchSize bounds the number of keys per statement for existence
// checks and deletes, so large ingests stay within sane per-call limits.
const keyBatchSize = 1000

// chunkKeys splits keys into batches of at most size.
func chunkKeys(keys []string, size int) [][]string {
	var batches [][]string
	for len(keys) > size {
		batches = append(batches, keys[:size])
		keys = keys[size:]
	}
	if len(keys) > 0 {
		batches = append(batches, keys)
	}
	return batches
}

// dedupeByKey collapses records sharing a natural key, keeping the last
// occurrence. The CVE fetcher's one-day chunk overlap produces duplicates
// that would otherwise violate the one-row-per-key invariant.
func dedupeByKey[T any](records []T, key func(T) string) []T {
	seen := make(map[string]int, len(records))
	out := records[:0:0]
	for _, r := range records {
		k := key(r)
		if i, ok := seen[k]; ok {
			out[i] = r
			continue
		}
		seen[k] = len(out)
		out = append(out, r)
	}
	return out
}

// splitByKey partitions deduplicated records into inserts (key unseen) and
// updates (key already persisted). The returned lengths are the upsert's
// (inserted, updated) counts.
func splitByKey[T any](records []T, key func(T) string, existing map[string]struct{}) (inserts, updates []T) {
	for _, r := range records {
		if _, ok := existing[key(r)]; ok {
			updates = append(updates, r)
		} else {
			inserts = append(inserts, r)
		}
	}
	return inserts, updates
}
