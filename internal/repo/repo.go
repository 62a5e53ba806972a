// Package repo owns the named collections and enforces the invariants that
// span them.
package repo

import (
	"fmt"

	"feedbarn/internal/model"
	"feedbarn/internal/store"
)

// Repo exposes the storage operations of the reader. All methods are safe
// for concurrent use; isolation comes from the engine's transactions, no
// additional locks are taken here.
type Repo struct {
	store *store.Store
}

// New creates a Repo over an open store.
func New(s *store.Store) *Repo {
	return &Repo{store: s}
}

// Flush forces everything committed so far to durable storage. Called after
// logically related write batches, e.g. a subscribe-and-ingest sequence.
func (r *Repo) Flush() error {
	return r.store.Sync()
}

// --- Subscriptions ---

// GetSubscriptions returns every subscription in id order.
func (r *Repo) GetSubscriptions() ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.store.View(func(tx *store.Tx) error {
		return tx.Collection(store.Subs).Each(func(_ uint64, data []byte) (bool, error) {
			var sub model.Subscription
			if err := store.Decode(data, &sub); err != nil {
				return false, err
			}
			subs = append(subs, sub)
			return true, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get subscriptions: %w", err)
	}
	return subs, nil
}

// NewFeedID draws a fresh feed id from the engine counter.
func (r *Repo) NewFeedID() (model.FeedID, error) {
	id, err := r.store.NextID()
	return model.FeedID(id), err
}

// AddSubscription stores a subscription keyed by its feed id. This is an
// unconditional upsert: duplicate subscriptions to the same URL are allowed.
func (r *Repo) AddSubscription(sub *model.Subscription) error {
	err := r.store.Update(func(tx *store.Tx) error {
		_, err := tx.Collection(store.Subs).Insert(uint64(sub.FeedID), sub)
		return err
	})
	if err != nil {
		return fmt.Errorf("add subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes the subscription row only. Its entries and
// taggings are deliberately left in place and remain readable.
func (r *Repo) DeleteSubscription(id model.FeedID) error {
	err := r.store.Update(func(tx *store.Tx) error {
		return tx.Collection(store.Subs).Delete(uint64(id))
	})
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// --- Entries ---

// InsertEntry stores an entry keyed by its derived id, and marks it unread
// if and only if no entry existed at that key. The two writes commit in one
// transaction, so re-ingesting the same item is a no-op for both
// collections.
func (r *Repo) InsertEntry(entry *model.Entry) error {
	err := r.store.Update(func(tx *store.Tx) error {
		existed, err := tx.Collection(store.Entries).Insert(uint64(entry.ID), entry)
		if err != nil {
			return err
		}
		if !existed {
			return tx.Collection(store.Unread).Mark(uint64(entry.ID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert entry %d: %w", entry.ID, err)
	}
	return nil
}

// GetEntries returns one page of entries, newest first. page is 1-based and
// clamped, so page <= 1 reads from the top; pages past the end return an
// empty slice. A non-empty tags list restricts the scan to entries of feeds
// carrying at least one of the tags.
func (r *Repo) GetEntries(page, perPage int, tags []string) ([]model.Entry, error) {
	if perPage < 1 {
		return []model.Entry{}, nil
	}

	var feeds map[model.FeedID]struct{}
	if len(tags) > 0 {
		var err error
		feeds, err = r.feedsByTags(tags)
		if err != nil {
			return nil, err
		}
	}

	skip := pageOffset(page, perPage)
	entries := []model.Entry{}
	err := r.store.View(func(tx *store.Tx) error {
		return tx.Collection(store.Entries).ReverseEach(func(_ uint64, data []byte) (bool, error) {
			var entry model.Entry
			if err := store.Decode(data, &entry); err != nil {
				return false, err
			}
			if feeds != nil {
				if _, ok := feeds[entry.FeedID]; !ok {
					return true, nil
				}
			}
			if skip > 0 {
				skip--
				return true, nil
			}
			entries = append(entries, entry)
			return len(entries) < perPage, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get entries: %w", err)
	}
	return entries, nil
}

// GetStarredEntries returns one page of starred entries in descending key
// order. Pagination counts starred ids, not resolved entries: ids whose
// entry has since been removed are silently dropped from the page they fall
// in, so a page may come back short without shifting later page boundaries.
func (r *Repo) GetStarredEntries(page, perPage int) ([]model.Entry, error) {
	if perPage < 1 {
		return []model.Entry{}, nil
	}

	skip := pageOffset(page, perPage)
	taken := 0
	entries := []model.Entry{}
	err := r.store.View(func(tx *store.Tx) error {
		all := tx.Collection(store.Entries)
		return tx.Collection(store.Starred).ReverseEach(func(key uint64, _ []byte) (bool, error) {
			if skip > 0 {
				skip--
				return true, nil
			}
			taken++
			var entry model.Entry
			found, err := all.Get(key, &entry)
			if err != nil {
				return false, err
			}
			if found {
				entries = append(entries, entry)
			}
			return taken < perPage, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get starred entries: %w", err)
	}
	return entries, nil
}

// --- Unread and starred sets ---

// GetUnread returns the ids of all unread entries.
func (r *Repo) GetUnread() ([]model.EntryID, error) {
	return r.setKeys(store.Unread)
}

// AddUnread marks the given entries unread as one batched write.
func (r *Repo) AddUnread(ids []model.EntryID) error {
	return r.markAll(store.Unread, ids)
}

// DeleteUnread clears the unread mark from the given entries.
func (r *Repo) DeleteUnread(ids []model.EntryID) error {
	return r.unmarkAll(store.Unread, ids)
}

// GetStarred returns the ids of all starred entries.
func (r *Repo) GetStarred() ([]model.EntryID, error) {
	return r.setKeys(store.Starred)
}

// AddStarred stars the given entries as one batched write.
func (r *Repo) AddStarred(ids []model.EntryID) error {
	return r.markAll(store.Starred, ids)
}

// DeleteStarred unstars the given entries.
func (r *Repo) DeleteStarred(ids []model.EntryID) error {
	return r.unmarkAll(store.Starred, ids)
}

func (r *Repo) setKeys(name string) ([]model.EntryID, error) {
	var ids []model.EntryID
	err := r.store.View(func(tx *store.Tx) error {
		keys, err := tx.Collection(name).Keys()
		if err != nil {
			return err
		}
		ids = make([]model.EntryID, len(keys))
		for i, key := range keys {
			ids[i] = model.EntryID(key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", name, err)
	}
	return ids, nil
}

func (r *Repo) markAll(name string, ids []model.EntryID) error {
	err := r.store.Batch(func(tx *store.Tx) error {
		c := tx.Collection(name)
		for _, id := range ids {
			if err := c.Mark(uint64(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	return nil
}

func (r *Repo) unmarkAll(name string, ids []model.EntryID) error {
	err := r.store.Batch(func(tx *store.Tx) error {
		c := tx.Collection(name)
		for _, id := range ids {
			if err := c.Delete(uint64(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// --- Taggings ---

// GetTaggings returns every feed/tag association.
func (r *Repo) GetTaggings() ([]model.Tagging, error) {
	var taggings []model.Tagging
	err := r.store.View(func(tx *store.Tx) error {
		return tx.Collection(store.Taggings).Each(func(_ uint64, data []byte) (bool, error) {
			var tagging model.Tagging
			if err := store.Decode(data, &tagging); err != nil {
				return false, err
			}
			taggings = append(taggings, tagging)
			return true, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get taggings: %w", err)
	}
	return taggings, nil
}

// NewTaggingID draws a fresh tagging id from the engine counter.
func (r *Repo) NewTaggingID() (model.TaggingID, error) {
	id, err := r.store.NextID()
	return model.TaggingID(id), err
}

// AddTagging stores a tagging keyed by its id. Tagging the same feed with
// the same name twice creates two rows; no uniqueness is enforced.
func (r *Repo) AddTagging(tagging *model.Tagging) error {
	err := r.store.Update(func(tx *store.Tx) error {
		_, err := tx.Collection(store.Taggings).Insert(uint64(tagging.ID), tagging)
		return err
	})
	if err != nil {
		return fmt.Errorf("add tagging: %w", err)
	}
	return nil
}

// DeleteTagging removes a tagging by id.
func (r *Repo) DeleteTagging(id model.TaggingID) error {
	err := r.store.Update(func(tx *store.Tx) error {
		return tx.Collection(store.Taggings).Delete(uint64(id))
	})
	if err != nil {
		return fmt.Errorf("delete tagging: %w", err)
	}
	return nil
}

// feedsByTags scans the taggings collection and collects the feeds tagged
// with at least one of the given names.
func (r *Repo) feedsByTags(tags []string) (map[model.FeedID]struct{}, error) {
	names := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		names[tag] = struct{}{}
	}

	feeds := make(map[model.FeedID]struct{})
	err := r.store.View(func(tx *store.Tx) error {
		return tx.Collection(store.Taggings).Each(func(_ uint64, data []byte) (bool, error) {
			var tagging model.Tagging
			if err := store.Decode(data, &tagging); err != nil {
				return false, err
			}
			if _, ok := names[tagging.Name]; ok {
				feeds[tagging.FeedID] = struct{}{}
			}
			return true, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("feeds by tags: %w", err)
	}
	return feeds, nil
}

// pageOffset converts 1-based pagination into a skip count. Pages at or
// below 1 are clamped to the first page.
func pageOffset(page, perPage int) int {
	if page < 1 {
		page = 1
	}
	return perPage * (page - 1)
}
