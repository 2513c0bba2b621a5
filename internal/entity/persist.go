package entity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rbarrimond/rssmill/internal/retry"
	"github.com/rbarrimond/rssmill/internal/store"
)

// StoreOptions names the tables and containers used by the Store. Zero
// values fall back to the defaults below.
type StoreOptions struct {
	FeedsTable       string
	EntriesTable     string
	EnrichmentsTable string
	PostsTable       string
	EntriesContainer string

	// CascadeBlobs controls whether deleting an entry or enrichment also
	// deletes its blob-backed content. Off by default: blobs are content-
	// addressed and may be shared by equivalent records.
	CascadeBlobs bool

	// HTTPRetry governs content retrieval over HTTP. Zero value means
	// three attempts two seconds apart.
	HTTPRetry retry.Policy
}

func (o *StoreOptions) withDefaults() StoreOptions {
	opts := *o
	if opts.FeedsTable == "" {
		opts.FeedsTable = "feeds"
	}
	if opts.EntriesTable == "" {
		opts.EntriesTable = "entries"
	}
	if opts.EnrichmentsTable == "" {
		opts.EnrichmentsTable = "aienrichment"
	}
	if opts.PostsTable == "" {
		opts.PostsTable = "posts"
	}
	if opts.EntriesContainer == "" {
		opts.EntriesContainer = "entries"
	}
	if opts.HTTPRetry == (retry.Policy{}) {
		opts.HTTPRetry = retry.Policy{Attempts: 2, Delay: 2 * time.Second}
	}
	return opts
}

// Store persists entities through the injected client bundle. All writes are
// idempotent upserts keyed by content-derived identity, so concurrent writers
// converge without locking.
type Store struct {
	clients *store.Clients
	opts    StoreOptions
}

// NewStore creates an entity store over the given clients.
func NewStore(clients *store.Clients, opts StoreOptions) *Store {
	return &Store{
		clients: clients,
		opts:    opts.withDefaults(),
	}
}

// SaveFeed validates and upserts a feed record.
func (s *Store) SaveFeed(ctx context.Context, f *Feed) error {
	if err := f.Validate(); err != nil {
		return err
	}
	attrs, err := f.Attributes()
	if err != nil {
		return fmt.Errorf("serialize feed %s: %w", f.RowKey(), err)
	}
	return s.clients.Tables.Upsert(ctx, s.opts.FeedsTable, f.PartitionKey(), f.RowKey(), attrs)
}

// DeleteFeed removes a feed record.
func (s *Store) DeleteFeed(ctx context.Context, f *Feed) error {
	return s.clients.Tables.Delete(ctx, s.opts.FeedsTable, f.PartitionKey(), f.RowKey())
}

// SaveEntry validates and upserts an entry record. The body, if any, has
// already been pushed to the blob store by SetEntryContent.
func (s *Store) SaveEntry(ctx context.Context, e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	attrs, err := e.Attributes()
	if err != nil {
		return fmt.Errorf("serialize entry %s: %w", e.RowKey(), err)
	}
	return s.clients.Tables.Upsert(ctx, s.opts.EntriesTable, e.PartitionKey(), e.RowKey(), attrs)
}

// GetEntry loads an entry record by identity. The body is left unresolved.
func (s *Store) GetEntry(ctx context.Context, partitionKey, rowKey string) (*Entry, error) {
	attrs, err := s.clients.Tables.Get(ctx, s.opts.EntriesTable, partitionKey, rowKey)
	if err != nil {
		return nil, err
	}
	return EntryFromAttributes(partitionKey, attrs)
}

// DeleteEntry removes an entry record, and its content blob when the
// CascadeBlobs policy is enabled.
func (s *Store) DeleteEntry(ctx context.Context, e *Entry) error {
	if err := s.clients.Tables.Delete(ctx, s.opts.EntriesTable, e.PartitionKey(), e.RowKey()); err != nil {
		return err
	}
	if s.opts.CascadeBlobs && e.ContentKey != "" {
		key := fmt.Sprintf("%s/%s.txt", e.PartitionKey(), e.ContentKey)
		if err := s.clients.Blobs.Delete(ctx, s.opts.EntriesContainer, key); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("delete content blob %s: %w", key, err)
		}
	}
	return nil
}

// SetEntryContent hashes text, uploads it to the blob store, and records the
// content key. The key and the in-memory cache change together only after the
// upload succeeds, so they can never disagree.
func (s *Store) SetEntryContent(ctx context.Context, e *Entry, text string) error {
	key := HashBytes([]byte(text))
	blobKey := fmt.Sprintf("%s/%s.txt", e.PartitionKey(), key)
	if err := s.clients.Blobs.Put(ctx, s.opts.EntriesContainer, blobKey, []byte(text)); err != nil {
		return fmt.Errorf("upload content blob %s: %w", blobKey, err)
	}
	e.setContent(key, text)
	return nil
}

// ResolveEntryContent materializes the entry body: cache, then blob store,
// then HTTP retrieval from the entry's link. A body fetched over HTTP is
// written through SetEntryContent so the content key is valid afterward.
func (s *Store) ResolveEntryContent(ctx context.Context, e *Entry) (string, error) {
	if text, ok := e.Content(); ok {
		return text, nil
	}

	if e.ContentKey != "" {
		blobKey := fmt.Sprintf("%s/%s.txt", e.PartitionKey(), e.ContentKey)
		data, err := s.clients.Blobs.Get(ctx, s.opts.EntriesContainer, blobKey)
		switch {
		case err == nil:
			text := string(data)
			e.setContent(e.ContentKey, text)
			return text, nil
		case !errors.Is(err, store.ErrNotFound):
			return "", fmt.Errorf("read content blob %s: %w", blobKey, err)
		}
		// blob missing: fall through to HTTP
	}

	text, err := s.fetchContentHTTP(ctx, e.Link)
	if err != nil {
		return "", fmt.Errorf("content unavailable for entry %s: %w", e.RowKey(), err)
	}
	if err := s.SetEntryContent(ctx, e, text); err != nil {
		return "", err
	}
	return text, nil
}

func (s *Store) fetchContentHTTP(ctx context.Context, link string) (string, error) {
	var body string
	err := s.opts.HTTPRetry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
		if err != nil {
			return err
		}
		resp, err := s.clients.HTTPClient().Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("GET %s returned status %d", link, resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = string(data)
		return nil
	})
	return body, err
}

// SaveEnrichment validates and upserts an enrichment record under its
// entry's identity.
func (s *Store) SaveEnrichment(ctx context.Context, a *AIEnrichment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	return s.clients.Tables.Upsert(ctx, s.opts.EnrichmentsTable, a.PartitionKey(), a.RowKey(), a.Attributes())
}

// DeleteEnrichment removes an enrichment record, and its embeddings blob
// when the CascadeBlobs policy is enabled. The owning entry is untouched.
func (s *Store) DeleteEnrichment(ctx context.Context, a *AIEnrichment) error {
	if err := s.clients.Tables.Delete(ctx, s.opts.EnrichmentsTable, a.PartitionKey(), a.RowKey()); err != nil {
		return err
	}
	if s.opts.CascadeBlobs && a.EmbeddingsKey != "" {
		key := fmt.Sprintf("%s/%s.npy", a.PartitionKey(), a.EmbeddingsKey)
		if err := s.clients.Blobs.Delete(ctx, s.opts.EntriesContainer, key); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("delete embeddings blob %s: %w", key, err)
		}
	}
	return nil
}

// SetEmbeddings serializes the vector, uploads it, and records its key.
// Key and cache change together after a successful upload.
func (s *Store) SetEmbeddings(ctx context.Context, a *AIEnrichment, vec []float64) error {
	data := encodeNpy(vec)
	key := HashBytes(data)
	blobKey := fmt.Sprintf("%s/%s.npy", a.PartitionKey(), key)
	if err := s.clients.Blobs.Put(ctx, s.opts.EntriesContainer, blobKey, data); err != nil {
		return fmt.Errorf("upload embeddings blob %s: %w", blobKey, err)
	}
	a.setEmbeddings(key, vec)
	return nil
}

// ResolveEmbeddings materializes the embedding vector from cache or the blob
// store. Unlike entry bodies there is no HTTP fallback: a missing blob is an
// error.
func (s *Store) ResolveEmbeddings(ctx context.Context, a *AIEnrichment) ([]float64, error) {
	if vec, ok := a.Embeddings(); ok {
		return vec, nil
	}
	if a.EmbeddingsKey == "" {
		return nil, fmt.Errorf("enrichment %s has no embeddings", a.RowKey())
	}
	blobKey := fmt.Sprintf("%s/%s.npy", a.PartitionKey(), a.EmbeddingsKey)
	data, err := s.clients.Blobs.Get(ctx, s.opts.EntriesContainer, blobKey)
	if err != nil {
		return nil, fmt.Errorf("read embeddings blob %s: %w", blobKey, err)
	}
	vec, err := decodeNpy(data)
	if err != nil {
		return nil, fmt.Errorf("decode embeddings blob %s: %w", blobKey, err)
	}
	a.setEmbeddings(a.EmbeddingsKey, vec)
	return vec, nil
}

// SavePost validates and upserts a post record.
func (s *Store) SavePost(ctx context.Context, p *Post) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return s.clients.Tables.Upsert(ctx, s.opts.PostsTable, p.PartitionKey(), p.RowKey(), p.Attributes())
}

// DeletePost removes a post record.
func (s *Store) DeletePost(ctx context.Context, p *Post) error {
	return s.clients.Tables.Delete(ctx, s.opts.PostsTable, p.PartitionKey(), p.RowKey())
}
