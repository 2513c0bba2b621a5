// Package rssmill is the public API for the feed ingestion pipeline: change
// detection over configured feeds, content-addressed persistence of feeds
// and entries, and AI enrichment of persisted entries.
package rssmill

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/rbarrimond/rssmill/internal/config"
	"github.com/rbarrimond/rssmill/internal/enrich"
	"github.com/rbarrimond/rssmill/internal/entity"
	"github.com/rbarrimond/rssmill/internal/feeds"
	"github.com/rbarrimond/rssmill/internal/queue"
	"github.com/rbarrimond/rssmill/internal/store"
)

const (
	checkpointTable     = "checkpoints"
	checkpointPartition = "rss"
	checkpointRow       = "last_ingestion"
)

// EngineConfig configures a new Engine. Settings usually comes from
// config.Load; Clients overrides the storage backends, which tests use to
// run against local stores.
type EngineConfig struct {
	Settings config.Settings
	Logger   *log.Logger
	Clients  *store.Clients
}

// Engine wires the poller, ingestor, and enricher over a shared client
// bundle.
type Engine struct {
	clients  *store.Clients
	store    *entity.Store
	poller   *feeds.Poller
	ingestor *feeds.Ingestor
	enricher *enrich.Enricher
	settings config.Settings
	logger   *log.Logger
	closers  []func() error
}

// NewEngine creates an engine over the storage backends named in Settings.
// A non-empty storage account selects the Azure backends with default
// credentials; otherwise local sqlite and filesystem stores are used.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "rssmill: ", log.LstdFlags)
	}

	eng := &Engine{settings: cfg.Settings, logger: logger}

	clients := cfg.Clients
	if clients == nil {
		var err error
		clients, err = eng.buildClients(cfg.Settings)
		if err != nil {
			return nil, err
		}
	}
	eng.clients = clients

	eng.store = entity.NewStore(clients, entity.StoreOptions{
		FeedsTable:       cfg.Settings.FeedsTable,
		EntriesTable:     cfg.Settings.EntriesTable,
		EnrichmentsTable: cfg.Settings.EnrichmentsTable,
		PostsTable:       cfg.Settings.PostsTable,
		EntriesContainer: cfg.Settings.EntriesContainer,
		CascadeBlobs:     cfg.Settings.CascadeBlobs,
	})

	detector := feeds.NewDetector(clients.HTTPClient(), logger)
	eng.poller = feeds.NewPoller(detector, clients.Queues, cfg.Settings.FeedQueue, logger)
	eng.ingestor = feeds.NewIngestor(eng.store, clients, cfg.Settings.EntryQueue, logger)
	eng.enricher = enrich.NewEnricher(eng.store, clients, cfg.Settings.EntryQueue, enrich.Options{
		APIKey:         cfg.Settings.OpenAIKey,
		BaseURL:        cfg.Settings.OpenAIBaseURL,
		ChatModel:      cfg.Settings.ChatModel,
		EmbeddingModel: cfg.Settings.EmbeddingModel,
	}, logger)

	return eng, nil
}

func (e *Engine) buildClients(s config.Settings) (*store.Clients, error) {
	if s.StorageAccount != "" {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("acquire credentials: %w", err)
		}
		clients, err := store.NewAzureClients(s.StorageAccount, cred)
		if err != nil {
			return nil, fmt.Errorf("create storage clients: %w", err)
		}
		return clients, nil
	}

	local, err := store.OpenLocal(s.LocalDB)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	e.closers = append(e.closers, local.Close)
	return &store.Clients{
		Tables: local,
		Blobs:  store.NewFileBlobStore(s.LocalBlobDir),
		Queues: local.Queue(),
	}, nil
}

// Store exposes the entity store for callers that manage entities directly.
func (e *Engine) Store() *entity.Store { return e.store }

// Poll sweeps the configured feed list, enqueueing changed feeds, and
// advances the shared ingestion checkpoint.
func (e *Engine) Poll(ctx context.Context) error {
	urls, err := config.LoadFeeds(ctx, e.clients.Blobs, e.settings)
	if err != nil {
		return err
	}

	since, err := e.loadCheckpoint(ctx)
	if err != nil {
		return err
	}

	next, err := e.poller.PollAll(ctx, urls, since)
	if err != nil {
		return err
	}
	return e.saveCheckpoint(ctx, next)
}

// Ingest parses and persists a single feed immediately, bypassing the
// feed-level queue.
func (e *Engine) Ingest(ctx context.Context, feedURL string) error {
	return e.ingestor.Ingest(ctx, feedURL)
}

// IngestQueued drains the feed-level queue, ingesting each enqueued URL.
// A failed feed is logged and dropped so it cannot wedge the queue; it will
// be re-enqueued by the next poll that detects it changed.
func (e *Engine) IngestQueued(ctx context.Context) (int, error) {
	ingested := 0
	for {
		raw, err := e.clients.Queues.Receive(ctx, e.settings.FeedQueue)
		if errors.Is(err, store.ErrNotFound) {
			return ingested, nil
		}
		if err != nil {
			return ingested, err
		}

		msg, err := queue.Decode(raw.Payload)
		if err != nil {
			e.logger.Printf("dropping malformed feed message %s: %v", raw.ID, err)
		} else if err := e.ingestor.Ingest(ctx, msg.Feed); err != nil {
			e.logger.Printf("ingest failed for %s: %v", msg.Feed, err)
		} else {
			ingested++
		}

		if err := e.clients.Queues.Delete(ctx, e.settings.FeedQueue, raw); err != nil {
			return ingested, err
		}
	}
}

// EnrichQueued drains the entry-level queue, enriching every batch.
func (e *Engine) EnrichQueued(ctx context.Context) (int, error) {
	batches := 0
	for {
		processed, err := e.enricher.ProcessNext(ctx)
		if err != nil {
			return batches, err
		}
		if !processed {
			return batches, nil
		}
		batches++
	}
}

// RunChain executes one full poll, ingest, and enrich pass.
func (e *Engine) RunChain(ctx context.Context) (RunStats, error) {
	var stats RunStats
	if err := e.Poll(ctx); err != nil {
		return stats, fmt.Errorf("poll: %w", err)
	}
	ingested, err := e.IngestQueued(ctx)
	stats.FeedsIngested = ingested
	if err != nil {
		return stats, fmt.Errorf("ingest: %w", err)
	}
	batches, err := e.EnrichQueued(ctx)
	stats.BatchesEnriched = batches
	if err != nil {
		return stats, fmt.Errorf("enrich: %w", err)
	}
	return stats, nil
}

// Close releases the engine's local resources.
func (e *Engine) Close() error {
	var firstErr error
	for _, c := range e.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// loadCheckpoint reads the shared last-ingestion timestamp, defaulting to
// zero when no poll has ever completed.
func (e *Engine) loadCheckpoint(ctx context.Context) (time.Time, error) {
	fields, err := e.clients.Tables.Get(ctx, checkpointTable, checkpointPartition, checkpointRow)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load checkpoint: %w", err)
	}
	raw, _ := fields["Timestamp"].(string)
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt checkpoint %q: %w", raw, err)
	}
	return ts, nil
}

func (e *Engine) saveCheckpoint(ctx context.Context, ts time.Time) error {
	fields := map[string]any{"Timestamp": ts.UTC().Format(time.RFC3339)}
	if err := e.clients.Tables.Upsert(ctx, checkpointTable, checkpointPartition, checkpointRow, fields); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
