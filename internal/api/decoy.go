// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tomtom215/veilgate/internal/logging"
)

// fetchTimeout bounds the upstream safe-page fetch. Slower than this and
// the embedded fallback page is served instead.
const fetchTimeout = 4 * time.Second

// maxDecoyBytes caps how much upstream HTML is buffered.
const maxDecoyBytes = 2 << 20

// browserUA is sent on safe-page fetches so upstream sites serve their
// normal desktop markup.
const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// fallbackPage is served when no safe-page URL is configured or the fetch
// fails. Deliberately bland.
const fallbackPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Welcome</title>
<style>
body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; margin: 0;
  display: flex; min-height: 100vh; align-items: center; justify-content: center;
  background: #f5f6f8; color: #333; }
main { text-align: center; padding: 2rem; }
h1 { font-weight: 500; }
</style>
</head>
<body>
<main>
<h1>Welcome</h1>
<p>This page is under construction. Please check back soon.</p>
</main>
</body>
</html>`

// DecoyFetcher retrieves and prepares safe-page HTML for denied visitors.
type DecoyFetcher struct {
	client *http.Client
}

// NewDecoyFetcher creates a fetcher with its own timeout-bounded client.
func NewDecoyFetcher() *DecoyFetcher {
	return &DecoyFetcher{
		client: &http.Client{Timeout: fetchTimeout},
	}
}

// Fetch returns the safe page HTML for the given URL with a <base> tag
// injected so the page's relative assets resolve against the original
// host. Any failure falls back to the embedded page.
func (f *DecoyFetcher) Fetch(ctx context.Context, safePageURL string) string {
	safePageURL = strings.TrimSpace(safePageURL)
	if safePageURL == "" {
		return fallbackPage
	}

	body, err := f.fetch(ctx, safePageURL)
	if err != nil {
		logging.Debug().Err(err).Str("url", safePageURL).Msg("Safe page fetch failed, serving fallback")
		return fallbackPage
	}

	if baseHref := baseHrefForURL(safePageURL); baseHref != "" {
		return injectBaseTag(body, baseHref)
	}
	return body
}

func (f *DecoyFetcher) fetch(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDecoyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	if len(body) == 0 {
		return "", fmt.Errorf("empty body")
	}
	return string(body), nil
}

// baseHrefForURL derives the directory URL the safe page's relative links
// resolve against: query and fragment stripped, path truncated to its
// containing directory.
func baseHrefForURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}

	path := u.Path
	switch {
	case path == "" || path == "/":
		u.Path = "/"
	case !strings.HasSuffix(path, "/"):
		if idx := strings.LastIndex(path, "/"); idx >= 0 {
			dir := path[:idx+1]
			if dir == "" {
				dir = "/"
			}
			u.Path = dir
		} else {
			u.Path = "/"
		}
	}

	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// injectBaseTag inserts a <base> element right after <head>. Pages that
// already declare a base are left alone.
func injectBaseTag(html, baseHref string) string {
	if html == "" || baseHref == "" {
		return html
	}

	lower := strings.ToLower(html)
	if strings.Contains(lower, "<base") {
		return html
	}

	baseTag := fmt.Sprintf("<base href=%q>", baseHref)
	if headIdx := strings.Index(lower, "<head"); headIdx >= 0 {
		if end := strings.Index(lower[headIdx:], ">"); end >= 0 {
			insertPos := headIdx + end + 1
			return html[:insertPos] + baseTag + html[insertPos:]
		}
	}
	return baseTag + html
}
