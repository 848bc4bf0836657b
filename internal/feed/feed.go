// SPDX-License-Identifier: Apache-2.0

// Package feed holds the error taxonomy shared by the feed fetchers.
//
// Fetch failures fall into two classes: transport failures (the request
// never completed, or the server answered with a non-2xx status) and parse
// failures (the payload arrived but was empty or malformed). Transport
// failures are never retried, with one exception: the CVE fetcher performs
// a single reduced-lookback attempt after a not-found response.
package feed

import (
	"fmt"
	"net/http"
)

// TransportError reports a failed HTTP exchange. StatusCode is zero when
// the request never completed.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NotFound reports whether the server answered 404. The CVE fetcher uses
// this to decide whether its one-shot lookback fallback applies.
func (e *TransportError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// ParseError reports a malformed or empty feed payload.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s payload: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
