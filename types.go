package rssmill

// RunStats summarizes one full pipeline pass.
type RunStats struct {
	FeedsIngested   int `json:"feeds_ingested"`
	BatchesEnriched int `json:"batches_enriched"`
}
