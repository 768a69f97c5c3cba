package service

import (
	"context"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// maxTitleBody caps how much of a page is read while hunting for a title
const maxTitleBody = 512 * 1024

var (
	titleTagRe     = regexp.MustCompile(`(?is)<title[^>]*>\s*(.*?)\s*</title>`)
	ogTitleRe      = regexp.MustCompile(`(?is)property\s*=\s*["']og:title["'][^>]*content\s*=\s*["'](.*?)["']`)
	twitterTitleRe = regexp.MustCompile(`(?is)name\s*=\s*["']twitter:title["'][^>]*content\s*=\s*["'](.*?)["']`)
	firstH1Re      = regexp.MustCompile(`(?is)<h1[^>]*>\s*(.*?)\s*</h1>`)
)

// TitleFetcher resolves a human-readable title for a target URL.
// It is strictly best effort: every failure path collapses to a
// hostname-derived fallback, never an error.
type TitleFetcher struct {
	client *http.Client
}

// NewTitleFetcher creates a fetcher with the given request timeout
func NewTitleFetcher(timeout time.Duration) *TitleFetcher {
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	return &TitleFetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch returns the page title for targetURL, trying <title>, OpenGraph,
// Twitter-card and the first heading before falling back to the hostname.
func (f *TitleFetcher) Fetch(ctx context.Context, targetURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return hostFallback(targetURL)
	}
	// Browser-like headers keep most origins from rejecting the probe.
	req.Header.Set("User-Agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120")
	req.Header.Set("Accept",
		"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return hostFallback(targetURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return hostFallback(targetURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTitleBody))
	if err != nil {
		return hostFallback(targetURL)
	}

	page := string(body)
	for _, re := range []*regexp.Regexp{titleTagRe, ogTitleRe, twitterTitleRe, firstH1Re} {
		if m := re.FindStringSubmatch(page); m != nil {
			if title := strings.TrimSpace(html.UnescapeString(m[1])); title != "" {
				return title
			}
		}
	}
	return hostFallback(targetURL)
}

// hostFallback derives a deterministic title from the URL's host
func hostFallback(targetURL string) string {
	parsed, err := url.Parse(targetURL)
	if err != nil || parsed.Host == "" {
		return "LINK"
	}
	host := strings.TrimPrefix(parsed.Hostname(), "www.")
	return strings.ToUpper(host)
}
