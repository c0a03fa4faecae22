// Package engine runs crawl tasks: frontier management, bounded
// concurrent fetching, extraction and buffered persistence.
package engine

import (
	"bytes"
	"context"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/shopspider/shopspider/internal/crawler"
	"github.com/shopspider/shopspider/internal/extract"
	"github.com/shopspider/shopspider/internal/metrics"
)

// Result carries what one page visit produced back to the engine's
// merge step.
type Result struct {
	// Product is non-nil when the page held a valid listing.
	Product *crawler.Product
	// NewURLs are same-domain links to enqueue at the next depth.
	NewURLs []string
	// Retry asks the engine to re-enqueue the entry after a transient
	// failure. Never set once the retry budget is exhausted.
	Retry bool
}

// Unit processes a single frontier entry. It is safe for concurrent use;
// all mutable state lives in the ledger.
type Unit struct {
	Fetcher    crawler.Fetcher
	Ledger     crawler.Ledger
	Rules      crawler.RuleProvider
	Clock      crawler.Clock
	MaxRetries int64
	MaxDepth   int
	Log        *zap.Logger
}

// Do fetches and processes one URL. Transient failures (fetch or parse
// errors) increment the retry counter and return an empty Result with a
// nil error so the task keeps going; only ledger failures are returned
// as errors and abort the task.
func (u *Unit) Do(ctx context.Context, taskID string, entry crawler.FrontierEntry) (Result, error) {
	site := crawler.Domain(entry.URL)

	visited, err := u.Ledger.IsVisited(ctx, taskID, entry.URL)
	if err != nil {
		return Result{}, err
	}
	if visited {
		metrics.ObservePage(site, metrics.OutcomeSkipped)
		return Result{}, nil
	}

	retries, err := u.Ledger.RetryCount(ctx, taskID, entry.URL)
	if err != nil {
		return Result{}, err
	}
	if retries >= u.MaxRetries {
		u.Log.Warn("retry budget exhausted, dropping url",
			zap.String("task_id", taskID),
			zap.String("url", entry.URL),
			zap.Int64("retries", retries))
		metrics.ObservePage(site, metrics.OutcomeDropped)
		return Result{}, nil
	}

	resp, err := u.Fetcher.Fetch(ctx, entry.URL)
	if err != nil {
		return u.transientFailure(ctx, taskID, entry.URL, site, "fetch failed", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return u.transientFailure(ctx, taskID, entry.URL, site, "parse failed", err)
	}

	if err := u.Ledger.MarkVisited(ctx, taskID, entry.URL); err != nil {
		return Result{}, err
	}
	if err := u.Ledger.IncrProcessed(ctx, taskID); err != nil {
		return Result{}, err
	}
	metrics.ObservePage(site, metrics.OutcomeSuccess)

	var res Result
	if product, ok := extract.Product(doc, u.Rules.RulesFor(site), entry.URL, u.Clock.Now()); ok {
		res.Product = &product
	}

	if entry.Depth < u.MaxDepth {
		for _, link := range extract.Links(doc, entry.URL) {
			seen, err := u.Ledger.IsVisited(ctx, taskID, link)
			if err != nil {
				return res, err
			}
			if !seen {
				res.NewURLs = append(res.NewURLs, link)
			}
		}
	}
	return res, nil
}

// transientFailure records a failed attempt and asks for a re-enqueue
// while the URL's retry budget lasts.
func (u *Unit) transientFailure(ctx context.Context, taskID, url, site, msg string, cause error) (Result, error) {
	count, err := u.Ledger.IncrRetry(ctx, taskID, url)
	if err != nil {
		return Result{}, err
	}
	u.Log.Warn(msg,
		zap.String("task_id", taskID),
		zap.String("url", url),
		zap.Int64("attempt", count),
		zap.Error(cause))
	metrics.ObservePage(site, metrics.OutcomeFailure)
	return Result{Retry: count < u.MaxRetries}, nil
}
