// Package ident derives stable, chronologically ordered entry identifiers.
//
// Entry ids pack a coarse timestamp into the high bytes so that ascending
// key order in the entries collection is ascending publish order, and a
// checksum of the item's identity into the middle bytes so that re-ingesting
// the same item derives the same id. The layout, big-endian:
//
//	[0:4] published unix seconds / 1000, truncated to 32 bits
//	[4:6] Fletcher-16 checksum of the identity string
//	[6:8] zero (reserved)
package ident

import (
	"time"

	"feedbarn/internal/model"

	"github.com/mmcdole/gofeed"
)

// Identity returns the deduplication identity for a feed item: its guid if
// present, else its link. The second return is false when the item has
// neither, in which case it cannot be deduplicated and must be skipped.
func Identity(item *gofeed.Item) (string, bool) {
	if item.GUID != "" {
		return item.GUID, true
	}
	if item.Link != "" {
		return item.Link, true
	}
	return "", false
}

// Published returns the item's parsed publish time, or the unix epoch when
// it is absent. The epoch fallback (rather than "now") keeps the derived id
// a pure function of content, so undated items stay idempotent across
// repeated fetches.
func Published(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	return time.Unix(0, 0).UTC()
}

// EntryID derives the storage key for an item from its identity string and
// publish time.
func EntryID(identity string, published time.Time) model.EntryID {
	bucket := uint32(published.Unix() / 1000)
	sum := Fletcher16([]byte(identity))
	return model.EntryID(uint64(bucket)<<32 | uint64(sum)<<16)
}

// Fletcher16 computes the Fletcher-16 checksum of data: two running
// accumulators modulo 255, combined as (sum2 << 8) | sum1.
func Fletcher16(data []byte) uint16 {
	var sum1, sum2 uint16
	for _, b := range data {
		sum1 = (sum1 + uint16(b)) % 255
		sum2 = (sum2 + sum1) % 255
	}
	return sum2<<8 | sum1
}
