package entity

import (
	"strings"
	"time"
)

// Draft states a post moves through, in order.
const (
	StatusDraft    = "Draft"
	StatusEdited   = "Edited"
	StatusApproved = "Approved"
	StatusPosted   = "Posted"
)

// Post is an editorial draft produced from enriched entries. Identity is
// content-derived: the row key recomputes whenever title, content, or draft
// date change, and the partition key groups posts by draft month.
type Post struct {
	Title     string    `validate:"omitempty,min=1,max=100"`
	DraftDate time.Time `validate:"required"`
	Keywords  []string  `validate:"omitempty,min=1,max=10"`
	Content   string    `validate:"omitempty,min=1,max=10000"`
	Status    string    `validate:"omitempty,oneof=Draft Edited Approved Posted"`
}

// PartitionKey groups posts by draft month (YYYY-MM).
func (p *Post) PartitionKey() string {
	return p.DraftDate.UTC().Format("2006-01")
}

// RowKey hashes title, content, and draft date together.
func (p *Post) RowKey() string {
	return Hash(p.Title + "_" + p.Content + "_" + p.DraftDate.UTC().Format(time.RFC3339))
}

// Validate checks the post against its schema.
func (p *Post) Validate() error {
	return checkStruct("post", p)
}

// Attributes flattens the post into scalar fields for the table store.
func (p *Post) Attributes() map[string]any {
	attrs := map[string]any{
		"DraftDate": p.DraftDate.UTC().Format(time.RFC3339),
	}
	if p.Title != "" {
		attrs["Title"] = p.Title
	}
	if p.Content != "" {
		attrs["Content"] = p.Content
	}
	if p.Status != "" {
		attrs["DraftStatus"] = p.Status
	}
	if len(p.Keywords) > 0 {
		attrs["Keywords"] = strings.Join(p.Keywords, ",")
	}
	return attrs
}
