package entity

import "strings"

// Engagement categories recognized by downstream analytics.
const (
	EngagementLiked   = "Liked"
	EngagementComment = "Comment"
	EngagementShared  = "Shared"
)

// AIEnrichment holds AI-derived metadata for an Entry. It shares the entry's
// identity one-to-one: partition and row keys are inherited, so enrichment
// for the same entry always lands on the same record. Embedding vectors are
// blob-backed like entry bodies; see Store.SetEmbeddings.
type AIEnrichment struct {
	Entry                *Entry   `validate:"required,structonly"`
	Summary              string   `validate:"omitempty,max=500"`
	GradeLevel           *float64 `validate:"omitempty,gte=0,lte=15"`
	Difficulty           *float64 `validate:"omitempty,gte=4.9,lte=11"`
	EngagementScore      *float64 `validate:"omitempty,gte=0,lte=10"`
	EngagementCategories []string `validate:"omitempty,min=1,max=3,unique,dive,oneof=Liked Comment Shared"`

	// EmbeddingsKey names the vector blob at {partition}/{key}.npy.
	EmbeddingsKey string `validate:"omitempty,len=16,hexadecimal"`

	embeddings []float64
}

// PartitionKey returns the owning entry's partition key.
func (a *AIEnrichment) PartitionKey() string { return a.Entry.PartitionKey() }

// RowKey returns the owning entry's row key.
func (a *AIEnrichment) RowKey() string { return a.Entry.RowKey() }

// Validate checks the enrichment against its schema.
func (a *AIEnrichment) Validate() error {
	return checkStruct("ai_enrichment", a)
}

// Embeddings returns the cached vector, if resolved.
func (a *AIEnrichment) Embeddings() ([]float64, bool) {
	if a.embeddings == nil {
		return nil, false
	}
	return a.embeddings, true
}

func (a *AIEnrichment) setEmbeddings(key string, vec []float64) {
	a.EmbeddingsKey = key
	a.embeddings = vec
}

// Attributes flattens the enrichment into scalar fields for the table store.
func (a *AIEnrichment) Attributes() map[string]any {
	attrs := map[string]any{}
	if a.Summary != "" {
		attrs["Summary"] = a.Summary
	}
	if a.GradeLevel != nil {
		attrs["GradeLevel"] = *a.GradeLevel
	}
	if a.Difficulty != nil {
		attrs["Difficulty"] = *a.Difficulty
	}
	if a.EngagementScore != nil {
		attrs["EngagementScore"] = *a.EngagementScore
	}
	if len(a.EngagementCategories) > 0 {
		attrs["EngagementCategories"] = strings.Join(a.EngagementCategories, ",")
	}
	if a.EmbeddingsKey != "" {
		attrs["EmbeddingsKey"] = a.EmbeddingsKey
	}
	return attrs
}
