// SPDX-License-Identifier: Apache-2.0

// Package nvd fetches CVE records from the NVD 2.0 API.
//
// The API enforces two limits this client has to work around: a query may
// span at most 120 days of publish dates, and unauthenticated callers are
// rate-limited to roughly one request per 6.5 seconds. The client splits
// the requested lookback window into chunks, paginates each chunk, and
// sleeps before every request after the first one in a run.
package nvd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vulnops/vulnpipe/internal/feed"
)

const (
	defaultBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

	// maxChunkDays is the API's maximum publish-date span per query.
	maxChunkDays = 120
	// pageSize is the resultsPerPage value used for pagination.
	pageSize = 2000
	// fallbackDays is the reduced lookback used for the one-shot retry
	// after a not-found response.
	fallbackDays = 30

	// delayNoKey keeps under 5 requests per 30 seconds.
	delayNoKey = 6500 * time.Millisecond
	// delayWithKey keeps under 50 requests per 30 seconds.
	delayWithKey = 700 * time.Millisecond
)

// Vulnerability is one record from the API. The cve block is kept verbatim
// so the normalizer can extract fields and persist the original payload.
type Vulnerability struct {
	CVE json.RawMessage `json:"cve"`
}

type page struct {
	TotalResults    int             `json:"totalResults"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}

// window is a closed publish-date range [Start 00:00, End 23:59].
type window struct {
	Start, End time.Time
}

// Client fetches CVEs published within a lookback window.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Delay      time.Duration

	sleep    func(time.Duration)
	now      func() time.Time
	log      *zap.SugaredLogger
	requests int
}

// NewClient creates a client. An empty apiKey selects the conservative
// unauthenticated rate limit.
func NewClient(apiKey string, logger *zap.Logger) *Client {
	delay := delayNoKey
	if apiKey != "" {
		delay = delayWithKey
	}
	return &Client{
		BaseURL:    defaultBaseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Delay:      delay,
		sleep:      time.Sleep,
		now:        time.Now,
		log:        logger.Sugar(),
	}
}

// FetchWindow fetches every CVE published in [now-daysBack-1, now-1].
// Yesterday is the latest reliably available day, so today is excluded.
//
// If the API answers not-found and daysBack exceeds the fallback lookback,
// the whole fetch is retried exactly once with the lookback forced to 30
// days. Any other failure aborts the fetch. Record order across chunk
// boundaries is not guaranteed and duplicates from the one-day chunk
// overlap are passed through for downstream deduplication.
func (c *Client) FetchWindow(ctx context.Context, daysBack int) ([]Vulnerability, error) {
	c.requests = 0

	vulns, err := c.fetchAll(ctx, daysBack)
	if err == nil {
		return vulns, nil
	}

	var te *feed.TransportError
	if errors.As(err, &te) && te.NotFound() && daysBack > fallbackDays {
		c.log.Warnw("NVD answered not-found, retrying once with reduced lookback",
			"daysBack", daysBack, "fallbackDays", fallbackDays, "error", err)
		return c.fetchAll(ctx, fallbackDays)
	}

	return nil, err
}

func (c *Client) fetchAll(ctx context.Context, daysBack int) ([]Vulnerability, error) {
	end := c.now().AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -daysBack)
	windows := chunkWindows(start, end)

	c.log.Infow("fetching CVEs", "from", start.Format(time.DateOnly),
		"to", end.Format(time.DateOnly), "chunks", len(windows))

	var all []Vulnerability
	for i, w := range windows {
		vulns, err := c.fetchChunk(ctx, w)
		if err != nil {
			return nil, fmt.Errorf("fetching CVEs published %s to %s: %w",
				w.Start.Format(time.DateOnly), w.End.Format(time.DateOnly), err)
		}
		c.log.Infow("chunk complete", "chunk", i+1, "of", len(windows), "records", len(vulns))
		all = append(all, vulns...)
	}
	return all, nil
}

// chunkWindows partitions [start, end] into contiguous windows of at most
// maxChunkDays, most recent first. Adjacent windows share their boundary
// day so no publish date can fall in a gap; the resulting duplicates are
// tolerated downstream.
func chunkWindows(start, end time.Time) []window {
	var windows []window
	cur := end
	for cur.After(start) {
		chunkStart := cur.AddDate(0, 0, -maxChunkDays)
		if chunkStart.Before(start) {
			chunkStart = start
		}
		windows = append(windows, window{Start: chunkStart, End: cur})
		cur = chunkStart
	}
	return windows
}

func (c *Client) fetchChunk(ctx context.Context, w window) ([]Vulnerability, error) {
	pubStart := w.Start.Format("2006-01-02") + "T00:00:00.000Z"
	pubEnd := w.End.Format("2006-01-02") + "T23:59:59.999Z"

	var vulns []Vulnerability
	total := -1
	for offset := 0; ; offset += pageSize {
		pg, err := c.getPage(ctx, pubStart, pubEnd, offset)
		if err != nil {
			return nil, err
		}
		if total < 0 {
			total = pg.TotalResults
		}
		vulns = append(vulns, pg.Vulnerabilities...)
		c.log.Debugw("page fetched", "offset", offset, "records", len(pg.Vulnerabilities), "total", total)

		if len(pg.Vulnerabilities) == 0 || len(vulns) >= total {
			return vulns, nil
		}
	}
}

func (c *Client) getPage(ctx context.Context, pubStart, pubEnd string, offset int) (*page, error) {
	// Rate limit before every request after the first in the run,
	// including between pages and between chunks.
	if c.requests > 0 {
		c.sleep(c.Delay)
	}
	c.requests++

	params := url.Values{}
	params.Set("pubStartDate", pubStart)
	params.Set("pubEndDate", pubEnd)
	params.Set("resultsPerPage", strconv.Itoa(pageSize))
	params.Set("startIndex", strconv.Itoa(offset))
	u := c.BaseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &feed.TransportError{URL: u, Err: err}
	}
	if c.APIKey != "" {
		req.Header.Set("apiKey", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &feed.TransportError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &feed.TransportError{URL: u, StatusCode: resp.StatusCode}
	}

	var pg page
	if err := json.NewDecoder(resp.Body).Decode(&pg); err != nil {
		return nil, &feed.ParseError{Source: "NVD", Err: err}
	}
	return &pg, nil
}
