package feeds

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"

	"github.com/rbarrimond/rssmill/internal/entity"
	"github.com/rbarrimond/rssmill/internal/queue"
	"github.com/rbarrimond/rssmill/internal/store"
)

// Ingestor parses a changed feed, materializes its entities, and publishes
// the persisted entry keys to the enrichment queue.
type Ingestor struct {
	parser     *gofeed.Parser
	client     *http.Client
	store      *entity.Store
	queues     store.QueueClient
	entryQueue string
	sanitizer  *bluemonday.Policy
	logger     *log.Logger
}

// NewIngestor creates an ingestor publishing entry batches to the named
// entry-level queue.
func NewIngestor(es *entity.Store, clients *store.Clients, entryQueue string, logger *log.Logger) *Ingestor {
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	return &Ingestor{
		parser:     parser,
		client:     clients.HTTPClient(),
		store:      es,
		queues:     clients.Queues,
		entryQueue: entryQueue,
		sanitizer:  bluemonday.StrictPolicy(),
		logger:     logger,
	}
}

// Ingest fetches and parses feedURL from scratch, upserts the feed and its
// entries, and publishes one "retrieved" envelope listing the keys of every
// entry that persisted. A per-entry failure is logged and skipped; partial
// success is the normal case, not an error for the whole feed.
func (ing *Ingestor) Ingest(ctx context.Context, feedURL string) error {
	parsed, err := ing.fetch(ctx, feedURL)
	if err != nil {
		return err
	}
	if parsed.Title == "" {
		return fmt.Errorf("invalid feed %s: no title in feed metadata", feedURL)
	}

	feed := feedEntity(parsed, feedURL)
	if err := ing.store.SaveFeed(ctx, feed); err != nil {
		return fmt.Errorf("save feed %s: %w", feedURL, err)
	}

	partition := entity.PartitionToken(parsed.Title)
	source := map[string]string{"title": parsed.Title, "url": feedURL}
	var pairs [][2]string
	for _, item := range parsed.Items {
		e, err := ing.ingestEntry(ctx, partition, feed.RowKey(), source, item)
		if err != nil {
			ing.logger.Printf("skipping entry %q from %s: %v", item.Title, feedURL, err)
			continue
		}
		pairs = append(pairs, [2]string{e.PartitionKey(), e.RowKey()})
	}

	if err := queue.Publish(ctx, ing.queues, ing.entryQueue, queue.EntryBatch(feed.RowKey(), pairs)); err != nil {
		return err
	}
	ing.logger.Printf("ingested %s: %d of %d entries persisted", feedURL, len(pairs), len(parsed.Items))
	return nil
}

// ingestEntry builds, resolves, and persists a single entry. Content
// resolution is forced here so an entry is never stored without a valid
// content key.
func (ing *Ingestor) ingestEntry(ctx context.Context, partition, feedKey string, source map[string]string, item *gofeed.Item) (*entity.Entry, error) {
	e := &entity.Entry{
		Partition: partition,
		Title:     lo.Substring(item.Title, 0, 200),
		ID:        lo.CoalesceOrEmpty(item.GUID, item.Link),
		FeedKey:   feedKey,
		Link:      item.Link,
		Author:    itemAuthor(item),
		Summary:   lo.Substring(strings.TrimSpace(ing.sanitizer.Sanitize(item.Description)), 0, 500),
		Source:    source,
	}
	if item.PublishedParsed != nil {
		e.Published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		e.Published = *item.UpdatedParsed
	}

	if body := strings.TrimSpace(ing.sanitizer.Sanitize(item.Content)); body != "" {
		if err := ing.store.SetEntryContent(ctx, e, body); err != nil {
			return nil, err
		}
	} else if _, err := ing.store.ResolveEntryContent(ctx, e); err != nil {
		return nil, err
	}

	if err := ing.store.SaveEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// fetch downloads and parses the feed body. gofeed sniffs RSS vs Atom from
// the payload.
func (ing *Ingestor) fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", feedURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := ing.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feedURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned status %d", feedURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed %s: %w", feedURL, err)
	}
	parsed, err := ing.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}
	return parsed, nil
}

func feedEntity(parsed *gofeed.Feed, feedURL string) *entity.Feed {
	f := &entity.Feed{
		Title:    parsed.Title,
		Link:     lo.CoalesceOrEmpty(parsed.Link, feedURL),
		Language: parsed.Language,
		Rights:   parsed.Copyright,
		Subtitle: parsed.Description,
	}
	if parsed.UpdatedParsed != nil {
		f.Updated = *parsed.UpdatedParsed
	} else if parsed.PublishedParsed != nil {
		f.Updated = *parsed.PublishedParsed
	}
	if len(parsed.Authors) > 0 && parsed.Authors[0] != nil {
		f.Publisher = parsed.Authors[0].Name
	}
	if parsed.Image != nil {
		f.Image = map[string]string{"url": parsed.Image.URL, "title": parsed.Image.Title}
	}
	return f
}

func itemAuthor(item *gofeed.Item) string {
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return item.Authors[0].Name
	}
	return ""
}
