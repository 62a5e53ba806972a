// Package model defines shared data structures.
package model

import "time"

// FeedID identifies a subscription. Drawn from the storage engine's
// monotonic counter; never reused, even across restarts.
type FeedID uint64

// EntryID identifies an ingested entry. Derived from the item's identity
// and publish time (see the ident package), not engine-generated, so
// re-ingesting the same item always maps to the same key.
type EntryID uint64

// TaggingID identifies a feed/tag association. Engine-generated.
type TaggingID uint64

// Subscription is a followed feed. Immutable except deletion.
type Subscription struct {
	ID        FeedID    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	FeedID    FeedID    `json:"feed_id"`
	Title     string    `json:"title"`
	FeedURL   string    `json:"feed_url"`
	SiteURL   string    `json:"site_url"`
}

// Entry is one ingested item from a feed. Written once per distinct
// identity and never mutated afterwards.
type Entry struct {
	ID        EntryID   `json:"id"`
	FeedID    FeedID    `json:"feed_id"`
	Title     *string   `json:"title"`
	URL       *string   `json:"url"`
	Author    *string   `json:"author"`
	Content   *string   `json:"content"`
	Summary   *string   `json:"summary"`
	Published time.Time `json:"published"`
	CreatedAt time.Time `json:"created_at"`
	Image     *Image    `json:"images"`
}

// Image is an entry's lead image, taken from the first image-flavored
// media attachment.
type Image struct {
	URL string `json:"original_url"`
}

// Tagging associates a feed with a user-defined tag label. Repeated rows
// model the many-to-many relation; no uniqueness is enforced beyond the id.
type Tagging struct {
	ID     TaggingID `json:"id"`
	FeedID FeedID    `json:"feed_id"`
	Name   string    `json:"name"`
}
