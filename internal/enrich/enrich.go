// Package enrich consumes entry batches from the enrichment queue and
// annotates each entry with AI-derived metadata: an improved summary,
// readability scores, an engagement estimate, and an embedding vector.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"

	"github.com/rbarrimond/rssmill/internal/entity"
	"github.com/rbarrimond/rssmill/internal/queue"
	"github.com/rbarrimond/rssmill/internal/store"
)

// Options configures the enricher's LLM access. Zero-value model names fall
// back to the defaults below; BaseURL is overridable so tests can point the
// client at a local server.
type Options struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
}

// Enricher processes entry batches against an OpenAI-compatible endpoint.
type Enricher struct {
	client     *openai.Client
	chatModel  string
	embedModel openai.EmbeddingModel
	store      *entity.Store
	queues     store.QueueClient
	entryQueue string
	sanitizer  *bluemonday.Policy
	logger     *log.Logger
}

// NewEnricher creates an enricher consuming from the named entry-level queue.
func NewEnricher(es *entity.Store, clients *store.Clients, entryQueue string, opts Options, logger *log.Logger) *Enricher {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.ChatModel == "" {
		opts.ChatModel = openai.GPT4oMini
	}
	if opts.EmbeddingModel == "" {
		opts.EmbeddingModel = string(openai.AdaEmbeddingV2)
	}
	return &Enricher{
		client:     openai.NewClientWithConfig(cfg),
		chatModel:  opts.ChatModel,
		embedModel: openai.EmbeddingModel(opts.EmbeddingModel),
		store:      es,
		queues:     clients.Queues,
		entryQueue: entryQueue,
		sanitizer:  bluemonday.StrictPolicy(),
		logger:     logger,
	}
}

// engagementResult is the JSON shape the chat prompt asks for.
type engagementResult struct {
	Summary              string   `json:"summary"`
	EngagementScore      float64  `json:"engagement_score"`
	EngagementCategories []string `json:"engagement_categories"`
}

// EnrichEntry computes and persists an AIEnrichment for the entry. The
// readability scores are deterministic; summary, engagement, and embeddings
// come from the LLM endpoint.
func (en *Enricher) EnrichEntry(ctx context.Context, e *entity.Entry) (*entity.AIEnrichment, error) {
	body, err := en.store.ResolveEntryContent(ctx, e)
	if err != nil {
		return nil, err
	}
	// bodies fetched over HTTP may still be raw HTML
	text := strings.TrimSpace(en.sanitizer.Sanitize(body))
	if text == "" {
		text = e.Summary
	}

	grade, difficulty := readability(text)
	result := en.analyze(ctx, e, text)

	a := &entity.AIEnrichment{
		Entry:                e,
		Summary:              lo.Substring(result.Summary, 0, 500),
		GradeLevel:           &grade,
		Difficulty:           &difficulty,
		EngagementScore:      &result.EngagementScore,
		EngagementCategories: validCategories(result.EngagementCategories),
	}

	vec, err := en.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed entry %s: %w", e.RowKey(), err)
	}
	if err := en.store.SetEmbeddings(ctx, a, vec); err != nil {
		return nil, err
	}

	if err := en.store.SaveEnrichment(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// analyze asks the chat model for a summary and engagement estimate. A
// malformed response degrades to a neutral default rather than failing the
// entry.
func (en *Enricher) analyze(ctx context.Context, e *entity.Entry, text string) engagementResult {
	prompt := fmt.Sprintf(`You are an editor estimating reader engagement for an article.

Title: %s

Content: %s

Respond ONLY with valid JSON in this exact format:
{
  "summary": "<concise summary, at most 500 characters>",
  "engagement_score": <0-10>,
  "engagement_categories": [<1-3 of "Liked", "Comment", "Shared">]
}`, e.Title, truncateText(text, 2000))

	fallback := engagementResult{Summary: e.Summary, EngagementScore: 5.0}

	resp, err := en.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       en.chatModel,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
		Temperature: 0.3,
	})
	if err != nil {
		en.logger.Printf("engagement analysis failed for entry %s: %v", e.RowKey(), err)
		return fallback
	}
	if len(resp.Choices) == 0 {
		return fallback
	}

	var result engagementResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Choices[0].Message.Content)), &result); err != nil {
		en.logger.Printf("unparseable engagement response for entry %s: %v", e.RowKey(), err)
		return fallback
	}
	result.EngagementScore = lo.Clamp(result.EngagementScore, 0, 10)
	return result
}

func (en *Enricher) embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := en.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{truncateText(text, 8000)},
		Model: en.embedModel,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response carried no data")
	}
	vec := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float64(v)
	}
	return vec, nil
}

// ProcessBatch loads and enriches every entry named in an entry-level
// message. Per-entry failures are logged and skipped; the count of
// successfully enriched entries is returned.
func (en *Enricher) ProcessBatch(ctx context.Context, msg queue.Message) int {
	enriched := 0
	for _, pair := range msg.Entries {
		e, err := en.store.GetEntry(ctx, pair[0], pair[1])
		if err != nil {
			en.logger.Printf("skipping entry %s/%s: %v", pair[0], pair[1], err)
			continue
		}
		if _, err := en.EnrichEntry(ctx, e); err != nil {
			en.logger.Printf("enrichment failed for %s/%s: %v", pair[0], pair[1], err)
			continue
		}
		enriched++
	}
	return enriched
}

// ProcessNext consumes one message from the entry queue. It reports false
// when the queue is empty. The message is deleted only after the batch is
// processed, so a crash mid-batch redelivers it; enrichment upserts are
// idempotent, which makes the replay safe.
func (en *Enricher) ProcessNext(ctx context.Context) (bool, error) {
	raw, err := en.queues.Receive(ctx, en.entryQueue)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	msg, err := queue.Decode(raw.Payload)
	if err != nil {
		// poison message, drop it
		en.logger.Printf("dropping malformed queue message %s: %v", raw.ID, err)
		return true, en.queues.Delete(ctx, en.entryQueue, raw)
	}
	if msg.Envelope.Status != queue.StatusRetrieved {
		en.logger.Printf("dropping message %s with unexpected status %q", raw.ID, msg.Envelope.Status)
		return true, en.queues.Delete(ctx, en.entryQueue, raw)
	}

	n := en.ProcessBatch(ctx, msg)
	en.logger.Printf("enriched %d of %d entries from batch %s", n, len(msg.Entries), raw.ID)
	return true, en.queues.Delete(ctx, en.entryQueue, raw)
}

// validCategories filters the model's categories down to the allowed set,
// deduplicated and capped at three.
func validCategories(cats []string) []string {
	allowed := lo.Filter(lo.Uniq(cats), func(c string, _ int) bool {
		return c == entity.EngagementLiked || c == entity.EngagementComment || c == entity.EngagementShared
	})
	if len(allowed) == 0 {
		return nil
	}
	return lo.Subset(allowed, 0, 3)
}

func truncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}

// extractJSON pulls the outermost JSON object out of a response that may
// carry surrounding prose.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
