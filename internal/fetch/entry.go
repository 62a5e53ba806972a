package fetch

import (
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"feedbarn/internal/ident"
	"feedbarn/internal/model"
)

// BuildEntry converts a parsed feed item into an Entry for feed. The second
// return is false when the item carries neither guid nor link: such items
// have no derivable identity and are skipped.
func BuildEntry(feedID model.FeedID, item *gofeed.Item, createdAt time.Time) (*model.Entry, bool) {
	identity, ok := ident.Identity(item)
	if !ok {
		return nil, false
	}
	published := ident.Published(item)

	// gofeed folds content:encoded into Content; the description doubles
	// as content only when nothing richer is present.
	content := item.Content
	if content == "" {
		content = item.Description
	}

	return &model.Entry{
		ID:        ident.EntryID(identity, published),
		FeedID:    feedID,
		Title:     optional(item.Title),
		URL:       optional(item.Link),
		Author:    optional(authorName(item)),
		Content:   optional(content),
		Summary:   optional(item.Description),
		Published: published,
		CreatedAt: createdAt,
		Image:     firstImage(item),
	}, true
}

func authorName(item *gofeed.Item) string {
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	return ""
}

// firstImage returns the first media attachment that is an image, by medium
// attribute or by MIME type prefix. Media RSS extensions are checked before
// plain enclosures.
func firstImage(item *gofeed.Item) *model.Image {
	for _, content := range item.Extensions["media"]["content"] {
		url := content.Attrs["url"]
		if url == "" {
			continue
		}
		if content.Attrs["medium"] == "image" || strings.HasPrefix(content.Attrs["type"], "image/") {
			return &model.Image{URL: url}
		}
	}
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(enc.Type, "image/") {
			return &model.Image{URL: enc.URL}
		}
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
