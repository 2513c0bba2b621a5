package rssmill

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbarrimond/rssmill/internal/config"
	"github.com/rbarrimond/rssmill/internal/entity"
	"github.com/rbarrimond/rssmill/internal/store"
)

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	s, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return s
}

func newTestEngine(t *testing.T, s config.Settings) (*Engine, *store.Clients) {
	t.Helper()
	local, err := store.OpenLocal(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}
	t.Cleanup(func() { local.Close() })
	clients := &store.Clients{
		Tables: local,
		Blobs:  store.NewFileBlobStore(t.TempDir()),
		Queues: local.Queue(),
	}

	eng, err := NewEngine(EngineConfig{
		Settings: s,
		Logger:   log.New(io.Discard, "", 0),
		Clients:  clients,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng, clients
}

// testFeedSite serves an RSS document at /feed with two inline-content
// items, honoring If-Modified-Since: after the first 200, subsequent
// conditional requests get 304 until bump is called.
type testFeedSite struct {
	srv      *httptest.Server
	modified atomic.Bool
}

func newTestFeedSite(t *testing.T) *testFeedSite {
	t.Helper()
	site := &testFeedSite{}
	site.modified.Store(true)
	site.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("If-Modified-Since") != "" && !site.modified.Load() {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		site.modified.Store(false)
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/">
<channel>
<title>My Tech Feed</title>
<link>%s</link>
<description>Tech</description>
<item>
<title>First</title>
<link>%s/a/1</link>
<guid isPermaLink="false">urn:guid:1</guid>
<description>One</description>
<content:encoded><![CDATA[Body one is short and plain.]]></content:encoded>
</item>
<item>
<title>Second</title>
<link>%s/a/2</link>
<guid isPermaLink="false">urn:guid:2</guid>
<description>Two</description>
<content:encoded><![CDATA[Body two is also short.]]></content:encoded>
</item>
</channel>
</rss>`, site.srv.URL, site.srv.URL, site.srv.URL)
	}))
	t.Cleanup(site.srv.Close)
	return site
}

func fakeLLM(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/chat/completions":
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{
						"role":    "assistant",
						"content": `{"summary": "Short.", "engagement_score": 6, "engagement_categories": ["Liked"]}`,
					}},
				},
			})
		case "/v1/embeddings":
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"embedding": []float64{0.1, 0.2}}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func putFeedList(t *testing.T, clients *store.Clients, s config.Settings, urls ...string) {
	t.Helper()
	doc, _ := json.Marshal(map[string][]string{"feeds": urls})
	if err := clients.Blobs.Put(context.Background(), s.ConfigContainer, s.FeedsBlob, doc); err != nil {
		t.Fatalf("put feed list: %v", err)
	}
}

func TestRunChain(t *testing.T) {
	site := newTestFeedSite(t)
	llm := fakeLLM(t)

	s := testSettings(t)
	s.OpenAIBaseURL = llm.URL + "/v1"
	s.OpenAIKey = "test-key"

	eng, clients := newTestEngine(t, s)
	putFeedList(t, clients, s, site.srv.URL+"/feed")
	ctx := context.Background()

	stats, err := eng.RunChain(ctx)
	if err != nil {
		t.Fatalf("RunChain: %v", err)
	}
	if stats.FeedsIngested != 1 {
		t.Errorf("FeedsIngested=%d, want 1", stats.FeedsIngested)
	}
	if stats.BatchesEnriched != 1 {
		t.Errorf("BatchesEnriched=%d, want 1", stats.BatchesEnriched)
	}

	// the feed, both entries, and both enrichments landed
	feedKey := entity.Hash(site.srv.URL)
	if _, err := clients.Tables.Get(ctx, s.FeedsTable, entity.FeedPartition, feedKey); err != nil {
		t.Errorf("feed record missing: %v", err)
	}
	for _, id := range []string{"urn:guid:1", "urn:guid:2"} {
		rowKey := entity.Hash(id)
		if _, err := clients.Tables.Get(ctx, s.EntriesTable, "my_tech_feed", rowKey); err != nil {
			t.Errorf("entry %s missing: %v", id, err)
		}
		if _, err := clients.Tables.Get(ctx, s.EnrichmentsTable, "my_tech_feed", rowKey); err != nil {
			t.Errorf("enrichment for %s missing: %v", id, err)
		}
	}

	// both queues drained
	for _, q := range []string{s.FeedQueue, s.EntryQueue} {
		if _, err := clients.Queues.Receive(ctx, q); err == nil {
			t.Errorf("queue %s not drained", q)
		}
	}
}

func TestRunChainSkipsUnchangedFeed(t *testing.T) {
	site := newTestFeedSite(t)
	llm := fakeLLM(t)

	s := testSettings(t)
	s.OpenAIBaseURL = llm.URL + "/v1"
	s.OpenAIKey = "test-key"

	eng, clients := newTestEngine(t, s)
	putFeedList(t, clients, s, site.srv.URL+"/feed")
	ctx := context.Background()

	if _, err := eng.RunChain(ctx); err != nil {
		t.Fatalf("first RunChain: %v", err)
	}

	// the site now answers 304, so the second pass does no work
	stats, err := eng.RunChain(ctx)
	if err != nil {
		t.Fatalf("second RunChain: %v", err)
	}
	if stats.FeedsIngested != 0 || stats.BatchesEnriched != 0 {
		t.Errorf("second pass did work: %+v", stats)
	}
}

func TestPollAdvancesCheckpoint(t *testing.T) {
	site := newTestFeedSite(t)
	s := testSettings(t)
	eng, clients := newTestEngine(t, s)
	putFeedList(t, clients, s, site.srv.URL+"/feed")
	ctx := context.Background()

	// the checkpoint round-trips through RFC3339, which drops sub-second
	// precision
	before := time.Now().UTC().Truncate(time.Second)
	if err := eng.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	ts, err := eng.loadCheckpoint(ctx)
	if err != nil {
		t.Fatalf("loadCheckpoint: %v", err)
	}
	if ts.Before(before) {
		t.Errorf("checkpoint %v did not advance past %v", ts, before)
	}
}

func TestPollRequiresFeedList(t *testing.T) {
	s := testSettings(t)
	eng, _ := newTestEngine(t, s)
	if err := eng.Poll(context.Background()); err == nil {
		t.Fatal("expected an error with no feed list configured")
	}
}

func TestIngestQueuedDropsFailedFeed(t *testing.T) {
	// passes the change check but serves something unparseable
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "this is not a feed")
	}))
	defer dead.Close()

	site := newTestFeedSite(t)
	llm := fakeLLM(t)
	s := testSettings(t)
	s.OpenAIBaseURL = llm.URL + "/v1"

	eng, clients := newTestEngine(t, s)
	putFeedList(t, clients, s, dead.URL, site.srv.URL+"/feed")
	ctx := context.Background()

	if err := eng.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	ingested, err := eng.IngestQueued(ctx)
	if err != nil {
		t.Fatalf("IngestQueued: %v", err)
	}
	if ingested != 1 {
		t.Errorf("ingested=%d, want 1 (the dead feed is dropped)", ingested)
	}
	// the dead feed's message must not linger
	if _, err := clients.Queues.Receive(ctx, s.FeedQueue); err == nil {
		t.Error("feed queue not drained")
	}
}
