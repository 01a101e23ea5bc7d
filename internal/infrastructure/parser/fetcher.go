package parser

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"FeedNotifier/internal/config"
	"FeedNotifier/internal/domain"
	"FeedNotifier/internal/ports"
)

const maxFeedBytes = 8 << 20

// Fetcher downloads the configured feed with browser-like headers.
type Fetcher struct {
	client    *http.Client
	url       string
	userAgent string
	referer   string
}

var _ ports.FeedFetcher = (*Fetcher)(nil)

// NewFetcher wires an HTTP client; a nil client gets the configured timeout.
func NewFetcher(cfg config.FeedConfig, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Fetcher{
		client:    client,
		url:       cfg.URL,
		userAgent: cfg.UserAgent,
		referer:   cfg.Referer,
	}
}

// Fetch performs a single GET; any failure wraps domain.ErrSourceUnavailable.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrSourceUnavailable, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if f.referer != "" {
		req.Header.Set("Referer", f.referer)
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request feed: %v", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: feed returned %s", domain.ErrSourceUnavailable, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read feed: %v", domain.ErrSourceUnavailable, err)
	}
	return body, nil
}
