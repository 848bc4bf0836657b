// SPDX-License-Identifier: Apache-2.0

// Package epss fetches the EPSS daily score snapshot.
package epss

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vulnops/vulnpipe/internal/feed"
)

const (
	defaultURL          = "https://epss.cyentia.com/epss_scores-current.csv.gz"
	maxDecompressedSize = 100 * 1024 * 1024 // 100 MB
)

// Entry is one CVE's score row. Raw holds the full CSV row keyed by column
// name so the original record can be persisted verbatim.
type Entry struct {
	CVE        string
	Score      float64
	Percentile float64
	Raw        map[string]string
}

// Client downloads the gzip-compressed EPSS CSV snapshot with a single GET.
// Transport failures and decompression/parse failures are distinguished
// through the shared feed error types; neither is retried.
type Client struct {
	URL        string
	HTTPClient *http.Client
}

func NewClient() *Client {
	return &Client{
		URL:        defaultURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Fetch downloads, decompresses, and parses the current snapshot.
func (c *Client) Fetch(ctx context.Context) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, &feed.TransportError{URL: c.URL, Err: err}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &feed.TransportError{URL: c.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &feed.TransportError{URL: c.URL, StatusCode: resp.StatusCode}
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, &feed.ParseError{Source: "EPSS", Err: err}
	}
	defer gz.Close()

	data, err := io.ReadAll(io.LimitReader(gz, maxDecompressedSize))
	if err != nil {
		return nil, &feed.ParseError{Source: "EPSS", Err: err}
	}

	entries, err := parseCSV(data)
	if err != nil {
		return nil, &feed.ParseError{Source: "EPSS", Err: err}
	}
	return entries, nil
}

// parseCSV parses the snapshot. Comment lines starting with '#' carry feed
// metadata and are skipped; the first remaining line is the column header.
func parseCSV(data []byte) ([]Entry, error) {
	lines := strings.Split(string(data), "\n")
	dataStart := 0
	for i, line := range lines {
		if !strings.HasPrefix(line, "#") {
			dataStart = i
			break
		}
	}

	reader := csv.NewReader(strings.NewReader(strings.Join(lines[dataStart:], "\n")))
	header, err := reader.Read()
	if err != nil {
		return nil, errors.New("empty payload")
	}

	cveCol, scoreCol, pctCol := -1, -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case "cve":
			cveCol = i
		case "epss":
			scoreCol = i
		case "percentile":
			pctCol = i
		}
	}
	if cveCol < 0 || scoreCol < 0 {
		return nil, errors.New("missing cve or epss column")
	}

	var entries []Entry
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		score, err := strconv.ParseFloat(record[scoreCol], 64)
		if err != nil {
			return nil, err
		}
		var percentile float64
		if pctCol >= 0 && pctCol < len(record) {
			if percentile, err = strconv.ParseFloat(record[pctCol], 64); err != nil {
				return nil, err
			}
		}

		raw := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(record) {
				raw[strings.TrimSpace(name)] = record[i]
			}
		}

		entries = append(entries, Entry{
			CVE:        record[cveCol],
			Score:      score,
			Percentile: percentile,
			Raw:        raw,
		})
	}

	if len(entries) == 0 {
		return nil, errors.New("no data rows")
	}
	return entries, nil
}
