package parser

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/mmcdole/gofeed"

	"calsync/internal/model"
)

// parseRSS maps an RSS/Atom feed onto event records: each item becomes
// a one-off event at its publication instant, with categories as tags.
func parseRSS(src *model.Source, body []byte) ([]Record, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	var records []Record
	for _, item := range feed.Items {
		ev := model.Event{
			SourceID:    src.ID,
			UID:         itemUID(item),
			Summary:     item.Title,
			Description: item.Description,
			Location:    item.Link,
			Tags:        item.Categories,
		}
		if ev.Description == "" {
			ev.Description = item.Content
		}

		rec := Record{Event: ev}
		if item.PublishedParsed != nil {
			rec.Start = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			rec.Start = *item.UpdatedParsed
		}
		records = append(records, rec)
	}
	return records, nil
}

// itemUID returns the stable identifier for a feed item. Items without
// a GUID fall back to a digest of title and link.
func itemUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}
