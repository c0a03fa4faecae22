// Package fetch provides the HTTP client used by the crawl engine.
package fetch

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/shopspider/shopspider/internal/crawler"
)

// maxBodyBytes caps how much of a response we read. Product pages are
// small; anything past this is not worth parsing.
const maxBodyBytes = 10 << 20

// Options configures a Fetcher.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	// Proxies holds proxy URLs picked at random per request. Empty
	// means direct connections.
	Proxies []string
	// RateLimit caps requests per second across all workers; zero
	// disables limiting.
	RateLimit float64
	RateBurst int
}

// Fetcher implements crawler.Fetcher on net/http.
type Fetcher struct {
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
}

// New builds a Fetcher. Invalid proxy URLs are rejected up front so a
// bad config fails at startup rather than mid-crawl.
func New(opts Options) (*Fetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "shopspider-bot/0.1"
	}

	proxies := make([]*url.URL, 0, len(opts.Proxies))
	for _, raw := range opts.Proxies {
		proxyURL, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", raw, err)
		}
		proxies = append(proxies, proxyURL)
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if len(proxies) > 0 {
		transport.Proxy = func(*http.Request) (*url.URL, error) {
			return proxies[rand.IntN(len(proxies))], nil
		}
	}

	f := &Fetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		userAgent: opts.UserAgent,
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return f, nil
}

// Fetch performs a GET and returns the body. Non-2xx responses are
// returned as errors so the caller's retry accounting treats them the
// same as network failures.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (crawler.FetchResponse, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("read body for %s: %w", rawURL, err)
	}
	return crawler.FetchResponse{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}
