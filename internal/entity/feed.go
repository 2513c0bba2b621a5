package entity

import (
	"encoding/json"
	"time"
)

// FeedPartition is the fixed partition key for all Feed records.
const FeedPartition = "feed"

// Feed is an RSS/Atom feed record. Its identity is its link: the row key is
// the hash of the link, so re-ingesting the same URL updates the existing
// record. The link is immutable once the feed exists; changing it changes
// identity.
type Feed struct {
	Title     string            `validate:"omitempty,min=1,max=200"`
	Link      string            `validate:"required,http_url,max=500"`
	Language  string            `validate:"omitempty,bcp47_language_tag"`
	Publisher string            `validate:"omitempty,min=1,max=200"`
	Rights    string            `validate:"omitempty,max=500"`
	Updated   time.Time         ``
	Image     map[string]string ``
	Subtitle  string            `validate:"omitempty,max=500"`
}

// PartitionKey returns the feed namespace constant.
func (f *Feed) PartitionKey() string { return FeedPartition }

// RowKey returns the content-derived identity of the feed.
func (f *Feed) RowKey() string { return Hash(f.Link) }

// Validate checks the feed against its schema.
func (f *Feed) Validate() error {
	if f.Title == "" {
		f.Title = "Untitled"
	}
	return checkStruct("feed", f)
}

// Attributes flattens the feed into scalar fields for the table store.
// The image map is serialized to a JSON string.
func (f *Feed) Attributes() (map[string]any, error) {
	attrs := map[string]any{
		"Title":   f.Title,
		"Link":    f.Link,
		"Updated": f.Updated.UTC().Format(time.RFC3339),
	}
	if f.Language != "" {
		attrs["Language"] = f.Language
	}
	if f.Publisher != "" {
		attrs["Publisher"] = f.Publisher
	}
	if f.Rights != "" {
		attrs["Rights"] = f.Rights
	}
	if f.Subtitle != "" {
		attrs["Subtitle"] = f.Subtitle
	}
	if f.Image != nil {
		img, err := json.Marshal(f.Image)
		if err != nil {
			return nil, err
		}
		attrs["Image"] = string(img)
	}
	return attrs, nil
}
