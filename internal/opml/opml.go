// Package opml handles importing and exporting OPML subscription lists.
//
// This system organizes feeds with tags rather than folders, so outline
// nesting maps to tags: every folder name on the path to a feed becomes a
// tag on import, and on export feeds are grouped under their first tag.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (group or feed).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// FeedEntry is a flattened feed with the tags derived from its outline path.
type FeedEntry struct {
	Tags    []string
	Title   string
	URL     string
	SiteURL string
}

// Parse reads an OPML document and returns a flat list of FeedEntry.
func Parse(r io.Reader) ([]FeedEntry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []FeedEntry
	var walk func(outlines []Outline, tags []string)
	walk = func(outlines []Outline, tags []string) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, FeedEntry{
					Tags:    append([]string{}, tags...),
					Title:   title,
					URL:     o.XMLURL,
					SiteURL: o.HTMLURL,
				})
			}
			// An outline can be a feed and a folder at once; its children
			// are not lost.
			if len(o.Outlines) > 0 {
				name := o.Text
				if name == "" {
					name = o.Title
				}
				walk(o.Outlines, append(tags, name))
			}
		}
	}
	walk(doc.Body.Outlines, nil)
	return entries, nil
}

// Export generates an OPML document, grouping each feed under its first tag.
// Untagged feeds sit at the root.
func Export(title string, entries []FeedEntry) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}

	groups := make(map[string]*Outline)
	var order []string
	var untagged []Outline

	for _, e := range entries {
		feedOutline := Outline{
			Text:    e.Title,
			Title:   e.Title,
			Type:    "rss",
			XMLURL:  e.URL,
			HTMLURL: e.SiteURL,
		}
		if len(e.Tags) == 0 {
			untagged = append(untagged, feedOutline)
			continue
		}
		tag := e.Tags[0]
		group, ok := groups[tag]
		if !ok {
			group = &Outline{Text: tag, Title: tag}
			groups[tag] = group
			order = append(order, tag)
		}
		group.Outlines = append(group.Outlines, feedOutline)
	}

	for _, tag := range order {
		doc.Body.Outlines = append(doc.Body.Outlines, *groups[tag])
	}
	doc.Body.Outlines = append(doc.Body.Outlines, untagged...)

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
