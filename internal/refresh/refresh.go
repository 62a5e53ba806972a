// Package refresh implements the ingestion pipeline: it fetches all
// subscribed feeds concurrently and merges new items into the repository,
// isolating per-feed failures.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"feedbarn/internal/fetch"
	"feedbarn/internal/model"
	"feedbarn/internal/repo"
)

// Pipeline fans fetches out over a bounded worker group and merges the
// results. The scheduled poller and the manual refresh route share one
// Pipeline; overlapping cycles are suppressed rather than queued, since
// ingestion is idempotent and a second concurrent cycle only wastes fetch
// bandwidth.
type Pipeline struct {
	repo    *repo.Repo
	fetcher *fetch.Fetcher
	limit   int
	cycle   sync.Mutex
}

// NewPipeline creates a Pipeline. limit bounds how many fetches run at
// once; values below 1 fall back to a single worker.
func NewPipeline(r *repo.Repo, f *fetch.Fetcher, limit int) *Pipeline {
	if limit < 1 {
		limit = 1
	}
	return &Pipeline{repo: r, fetcher: f, limit: limit}
}

// RefreshAll runs one ingestion cycle: read all subscriptions, fetch and
// parse each concurrently, and merge every successfully fetched feed. A
// fetch or parse failure is logged and skips only that feed; a storage
// failure aborts the cycle and is returned. If a cycle is already running
// the call returns immediately.
func (p *Pipeline) RefreshAll(ctx context.Context) error {
	if !p.cycle.TryLock() {
		log.Info("refresh cycle already running, skipping")
		return nil
	}
	defer p.cycle.Unlock()

	subs, err := p.repo.GetSubscriptions()
	if err != nil {
		return err
	}
	log.Info("refreshing all subscriptions", "count", len(subs))

	type fetched struct {
		feedID model.FeedID
		feed   *gofeed.Feed
	}
	results := make(chan fetched, len(subs))

	var g errgroup.Group
	g.SetLimit(p.limit)
	for _, sub := range subs {
		g.Go(func() error {
			feed, err := p.fetcher.Fetch(ctx, sub.FeedURL)
			if err != nil {
				log.Error("failed to retrieve feed", "feed_id", sub.FeedID, "url", sub.FeedURL, "err", err)
				return nil
			}
			results <- fetched{sub.FeedID, feed}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	for res := range results {
		if err := p.RefreshFeed(res.feedID, res.feed); err != nil {
			return err
		}
	}
	return p.repo.Flush()
}

// RefreshFeed merges the items of one parsed feed. Every item with a
// derivable identity becomes its own insert transaction, so a failure
// mid-feed leaves earlier items stored; items without identity are skipped.
func (p *Pipeline) RefreshFeed(feedID model.FeedID, feed *gofeed.Feed) error {
	createdAt := time.Now().UTC()
	merged := 0
	for _, item := range feed.Items {
		entry, ok := fetch.BuildEntry(feedID, item, createdAt)
		if !ok {
			continue
		}
		if err := p.repo.InsertEntry(entry); err != nil {
			return fmt.Errorf("refresh feed %d: %w", feedID, err)
		}
		merged++
	}
	log.Debug("merged feed", "feed_id", feedID, "items", merged)
	return nil
}

// Subscribe fetches the feed once synchronously, stores the subscription,
// and ingests the fetched content immediately so the first page of entries
// is available without waiting for the next cycle. If the initial fetch
// fails no subscription is created.
func (p *Pipeline) Subscribe(ctx context.Context, feedURL string) (*model.Subscription, error) {
	feed, err := p.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	id, err := p.repo.NewFeedID()
	if err != nil {
		return nil, err
	}
	sub := &model.Subscription{
		ID:        id,
		FeedID:    id,
		Title:     feed.Title,
		FeedURL:   feedURL,
		SiteURL:   feed.Link,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.repo.AddSubscription(sub); err != nil {
		return nil, err
	}
	if err := p.RefreshFeed(id, feed); err != nil {
		return nil, err
	}
	if err := p.repo.Flush(); err != nil {
		return nil, err
	}

	log.Info("added subscription", "feed_id", id, "url", feedURL)
	return sub, nil
}
