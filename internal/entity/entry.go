package entity

import (
	"encoding/json"
	"time"
)

// Entry is a single feed item. Its row key is the hash of the upstream id;
// its partition key is the grouping token derived from the owning feed's
// name. The body is never stored inline; see Store.SetEntryContent and
// Store.ResolveEntryContent.
type Entry struct {
	Partition string            `validate:"required,keytoken"`
	Title     string            `validate:"omitempty,min=1,max=200"`
	ID        string            `validate:"required,min=1,max=200"`
	FeedKey   string            `validate:"required,len=16,hexadecimal"`
	Link      string            `validate:"required,http_url"`
	Published time.Time         ``
	Author    string            `validate:"omitempty,min=2,max=50"`
	Summary   string            `validate:"omitempty,min=2,max=500"`
	Source    map[string]string ``

	// ContentKey names the body blob at {Partition}/{ContentKey}.txt.
	// Empty until content has been set or resolved.
	ContentKey string `validate:"omitempty,len=16,hexadecimal"`

	// content caches the resolved body for the lifetime of this value.
	// ContentKey and content are only ever updated together.
	content *string
}

// PartitionKey returns the entry's grouping key.
func (e *Entry) PartitionKey() string { return e.Partition }

// RowKey returns the content-derived identity of the entry.
func (e *Entry) RowKey() string { return Hash(e.ID) }

// Validate checks the entry against its schema.
func (e *Entry) Validate() error {
	if e.Title == "" {
		e.Title = "Untitled"
	}
	return checkStruct("entry", e)
}

// Content returns the cached body, if resolved.
func (e *Entry) Content() (string, bool) {
	if e.content == nil {
		return "", false
	}
	return *e.content, true
}

// Resolved reports whether the body has been materialized in memory.
func (e *Entry) Resolved() bool { return e.content != nil }

// setContent updates key and cache together; it is the only way either
// changes, which keeps them consistent.
func (e *Entry) setContent(key, text string) {
	e.ContentKey = key
	e.content = &text
}

// evict drops the cached body, keeping the key. Used by tests to exercise
// the blob fallback path.
func (e *Entry) evict() { e.content = nil }

// Attributes flattens the entry into scalar fields for the table store.
// The body stays out; only its key is persisted.
func (e *Entry) Attributes() (map[string]any, error) {
	attrs := map[string]any{
		"Title":     e.Title,
		"Id":        e.ID,
		"FeedKey":   e.FeedKey,
		"Link":      e.Link,
		"Published": e.Published.UTC().Format(time.RFC3339),
	}
	if e.Author != "" {
		attrs["Author"] = e.Author
	}
	if e.Summary != "" {
		attrs["Summary"] = e.Summary
	}
	if e.ContentKey != "" {
		attrs["ContentKey"] = e.ContentKey
	}
	if e.Source != nil {
		src, err := json.Marshal(e.Source)
		if err != nil {
			return nil, err
		}
		attrs["Source"] = string(src)
	}
	return attrs, nil
}

// EntryFromAttributes rebuilds an Entry from a table record. The partition
// and row identity come from the record location, so the caller supplies the
// partition key; the body cache starts unresolved.
func EntryFromAttributes(partitionKey string, attrs map[string]any) (*Entry, error) {
	e := &Entry{
		Partition:  partitionKey,
		Title:      stringAttr(attrs, "Title"),
		ID:         stringAttr(attrs, "Id"),
		FeedKey:    stringAttr(attrs, "FeedKey"),
		Link:       stringAttr(attrs, "Link"),
		Author:     stringAttr(attrs, "Author"),
		Summary:    stringAttr(attrs, "Summary"),
		ContentKey: stringAttr(attrs, "ContentKey"),
	}
	if raw := stringAttr(attrs, "Published"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, &ValidationError{Entity: "entry", Field: "Published", Reason: err.Error()}
		}
		e.Published = ts
	}
	if raw := stringAttr(attrs, "Source"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Source); err != nil {
			return nil, &ValidationError{Entity: "entry", Field: "Source", Reason: err.Error()}
		}
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func stringAttr(attrs map[string]any, key string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}
