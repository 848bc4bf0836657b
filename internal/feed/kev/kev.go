// SPDX-License-Identifier: Apache-2.0

// Package kev fetches the CISA Known Exploited Vulnerabilities catalog.
package kev

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/vulnops/vulnpipe/internal/feed"
)

const (
	defaultURL      = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"
	maxResponseSize = 50 * 1024 * 1024 // 50 MB
)

// Catalog is the KEV catalog document. Each vulnerability is kept as its
// verbatim JSON block so the original payload can be persisted alongside
// the extracted fields.
type Catalog struct {
	CatalogVersion  string            `json:"catalogVersion"`
	DateReleased    string            `json:"dateReleased"`
	Count           int               `json:"count"`
	Vulnerabilities []json.RawMessage `json:"vulnerabilities"`
}

// Client downloads the KEV catalog with a single unauthenticated GET.
// There is no retry: any failure surfaces as one fetch-level error.
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

// Fetch downloads and decodes the whole catalog.
func (c *Client) Fetch(ctx context.Context) (*Catalog, error) {
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

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &feed.TransportError{URL: c.URL, Err: err}
	}

	var catalog Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, &feed.ParseError{Source: "KEV", Err: err}
	}

	return &catalog, nil
}
