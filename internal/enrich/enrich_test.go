package enrich

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rbarrimond/rssmill/internal/entity"
	"github.com/rbarrimond/rssmill/internal/queue"
	"github.com/rbarrimond/rssmill/internal/store"
)

const entryQueue = "entry-batches"

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestClients(t *testing.T) *store.Clients {
	t.Helper()
	local, err := store.OpenLocal(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenLocal failed: %v", err)
	}
	t.Cleanup(func() { local.Close() })
	return &store.Clients{
		Tables: local,
		Blobs:  store.NewFileBlobStore(t.TempDir()),
		Queues: local.Queue(),
	}
}

// fakeLLM serves the two OpenAI endpoints the enricher uses, returning
// chatContent verbatim and a fixed embedding vector.
func fakeLLM(t *testing.T, chatContent string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/chat/completions":
			resp := map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"role": "assistant", "content": chatContent}},
				},
			}
			json.NewEncoder(w).Encode(resp)
		case "/v1/embeddings":
			resp := map[string]any{
				"data": []map[string]any{
					{"embedding": []float64{0.125, -0.25, 0.5}},
				},
			}
			json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEnricher(t *testing.T, clients *store.Clients, chatContent string) (*Enricher, *entity.Store) {
	t.Helper()
	srv := fakeLLM(t, chatContent)
	es := entity.NewStore(clients, entity.StoreOptions{})
	en := NewEnricher(es, clients, entryQueue, Options{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
	}, quietLogger())
	return en, es
}

func storedEntry(t *testing.T, es *entity.Store, id, body string) *entity.Entry {
	t.Helper()
	ctx := context.Background()
	e := &entity.Entry{
		Partition: "my_feed",
		Title:     "Test Article",
		ID:        id,
		FeedKey:   entity.Hash("https://example.com/feed"),
		Link:      "https://example.com/articles/x",
	}
	if err := es.SetEntryContent(ctx, e, body); err != nil {
		t.Fatalf("SetEntryContent: %v", err)
	}
	if err := es.SaveEntry(ctx, e); err != nil {
		t.Fatalf("SaveEntry: %v", err)
	}
	return e
}

func TestEnrichEntry(t *testing.T) {
	clients := newTestClients(t)
	chat := `{"summary": "A short take.", "engagement_score": 8.5, "engagement_categories": ["Liked", "Shared"]}`
	en, es := newTestEnricher(t, clients, chat)
	ctx := context.Background()

	e := storedEntry(t, es, "urn:guid:1", "Plain words make reading easy. Short lines help too.")
	a, err := en.EnrichEntry(ctx, e)
	if err != nil {
		t.Fatalf("EnrichEntry: %v", err)
	}

	if a.Summary != "A short take." {
		t.Errorf("Summary=%q", a.Summary)
	}
	if a.EngagementScore == nil || *a.EngagementScore != 8.5 {
		t.Errorf("EngagementScore=%v", a.EngagementScore)
	}
	if !reflect.DeepEqual(a.EngagementCategories, []string{entity.EngagementLiked, entity.EngagementShared}) {
		t.Errorf("EngagementCategories=%v", a.EngagementCategories)
	}
	if a.GradeLevel == nil || *a.GradeLevel < 0 || *a.GradeLevel > 15 {
		t.Errorf("GradeLevel=%v out of bounds", a.GradeLevel)
	}
	if a.Difficulty == nil || *a.Difficulty < 4.9 || *a.Difficulty > 11 {
		t.Errorf("Difficulty=%v out of bounds", a.Difficulty)
	}

	// the record and the embedding blob both landed
	if _, err := clients.Tables.Get(ctx, "aienrichment", a.PartitionKey(), a.RowKey()); err != nil {
		t.Errorf("enrichment record missing: %v", err)
	}
	vec, err := es.ResolveEmbeddings(ctx, a)
	if err != nil {
		t.Fatalf("ResolveEmbeddings: %v", err)
	}
	if !reflect.DeepEqual(vec, []float64{0.125, -0.25, 0.5}) {
		t.Errorf("embeddings=%v", vec)
	}
}

func TestEnrichEntryFallsBackOnProse(t *testing.T) {
	clients := newTestClients(t)
	en, es := newTestEnricher(t, clients, "I cannot answer in JSON today.")
	ctx := context.Background()

	e := storedEntry(t, es, "urn:guid:2", "Some body text.")
	e.Summary = "Original summary."
	a, err := en.EnrichEntry(ctx, e)
	if err != nil {
		t.Fatalf("EnrichEntry: %v", err)
	}
	if a.Summary != "Original summary." {
		t.Errorf("Summary=%q, want the entry's own summary", a.Summary)
	}
	if a.EngagementScore == nil || *a.EngagementScore != 5.0 {
		t.Errorf("EngagementScore=%v, want neutral 5.0", a.EngagementScore)
	}
	if a.EngagementCategories != nil {
		t.Errorf("EngagementCategories=%v, want none", a.EngagementCategories)
	}
}

func TestEnrichEntryExtractsWrappedJSON(t *testing.T) {
	clients := newTestClients(t)
	chat := "Here you go:\n{\"summary\": \"Wrapped.\", \"engagement_score\": 3, \"engagement_categories\": [\"Comment\"]}\nHope that helps."
	en, es := newTestEnricher(t, clients, chat)

	e := storedEntry(t, es, "urn:guid:3", "Body.")
	a, err := en.EnrichEntry(context.Background(), e)
	if err != nil {
		t.Fatalf("EnrichEntry: %v", err)
	}
	if a.Summary != "Wrapped." {
		t.Errorf("Summary=%q", a.Summary)
	}
}

func TestProcessBatchSkipsMissingEntries(t *testing.T) {
	clients := newTestClients(t)
	chat := `{"summary": "S.", "engagement_score": 5, "engagement_categories": ["Liked"]}`
	en, es := newTestEnricher(t, clients, chat)

	e := storedEntry(t, es, "urn:guid:4", "Body text.")
	msg := queue.EntryBatch(e.FeedKey, [][2]string{
		{e.PartitionKey(), e.RowKey()},
		{"my_feed", "00000000000000ff"}, // never persisted
	})

	if n := en.ProcessBatch(context.Background(), msg); n != 1 {
		t.Errorf("enriched %d entries, want 1", n)
	}
}

func TestProcessNext(t *testing.T) {
	clients := newTestClients(t)
	chat := `{"summary": "S.", "engagement_score": 5, "engagement_categories": ["Liked"]}`
	en, es := newTestEnricher(t, clients, chat)
	ctx := context.Background()

	e := storedEntry(t, es, "urn:guid:5", "Body text.")
	batch := queue.EntryBatch(e.FeedKey, [][2]string{{e.PartitionKey(), e.RowKey()}})
	if err := queue.Publish(ctx, clients.Queues, entryQueue, batch); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	processed, err := en.ProcessNext(ctx)
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if !processed {
		t.Fatal("expected a message to be processed")
	}
	if _, err := clients.Tables.Get(ctx, "aienrichment", e.PartitionKey(), e.RowKey()); err != nil {
		t.Errorf("enrichment record missing: %v", err)
	}

	// queue drained, message deleted after processing
	processed, err = en.ProcessNext(ctx)
	if err != nil {
		t.Fatalf("ProcessNext on empty queue: %v", err)
	}
	if processed {
		t.Error("queue should be empty")
	}
}

func TestValidCategories(t *testing.T) {
	for _, tc := range []struct {
		in   []string
		want []string
	}{
		{[]string{"Liked", "Shared"}, []string{"Liked", "Shared"}},
		{[]string{"Liked", "Liked", "liked", "Retweeted"}, []string{"Liked"}},
		{[]string{"nonsense"}, nil},
		{nil, nil},
		{[]string{"Liked", "Comment", "Shared", "Liked"}, []string{"Liked", "Comment", "Shared"}},
	} {
		if got := validCategories(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("validCategories(%v)=%v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestReadabilityDeterministic(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog. It barked."
	g1, d1 := readability(text)
	g2, d2 := readability(text)
	if g1 != g2 || d1 != d2 {
		t.Errorf("readability not deterministic: (%v,%v) vs (%v,%v)", g1, d1, g2, d2)
	}
}

func TestReadabilityBounds(t *testing.T) {
	g, d := readability("")
	if g != 0 || d != 4.9 {
		t.Errorf("empty text: grade=%v difficulty=%v", g, d)
	}

	simple := "The cat sat. The dog ran. We ate."
	complex := "Notwithstanding considerable organizational heterogeneity, institutionalized interdisciplinary collaboration systematically ameliorates epistemological fragmentation throughout contemporary postsecondary establishments, particularly when administrative infrastructures incentivize longitudinal transdisciplinary experimentation."
	gs, ds := readability(simple)
	gc, dc := readability(complex)
	if gs >= gc {
		t.Errorf("simple grade %v not below complex grade %v", gs, gc)
	}
	if ds >= dc {
		t.Errorf("simple difficulty %v not below complex difficulty %v", ds, dc)
	}
	for _, v := range []float64{gs, gc} {
		if v < 0 || v > 15 {
			t.Errorf("grade %v out of bounds", v)
		}
	}
	for _, v := range []float64{ds, dc} {
		if v < 4.9 || v > 11 {
			t.Errorf("difficulty %v out of bounds", v)
		}
	}
}

func TestCountSyllables(t *testing.T) {
	for _, tc := range []struct {
		word string
		want int
	}{
		{"cat", 1},
		{"reading", 2},
		{"beautiful", 3},
		{"the", 1},
		{"a", 1},
		{"banana", 3},
		{"queue", 1},
		{"...", 1},
	} {
		if got := countSyllables(tc.word); got != tc.want {
			t.Errorf("countSyllables(%q)=%d, want %d", tc.word, got, tc.want)
		}
	}
}
