package feeds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rbarrimond/rssmill/internal/queue"
	"github.com/rbarrimond/rssmill/internal/store"
)

const feedQueue = "feed-urls"

func TestPollAllEnqueuesChangedFeeds(t *testing.T) {
	changed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer changed.Close()
	unchanged := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer unchanged.Close()

	clients := newTestClients(t)
	p := NewPoller(NewDetector(nil, quietLogger()), clients.Queues, feedQueue, quietLogger())

	before := time.Now().UTC()
	last := before.Add(-24 * time.Hour)
	ctx := context.Background()

	checkpoint, err := p.PollAll(ctx, []string{changed.URL, unchanged.URL}, last)
	if err != nil {
		t.Fatalf("PollAll: %v", err)
	}
	if checkpoint.Before(before) {
		t.Errorf("checkpoint %v did not advance past %v", checkpoint, before)
	}

	raw, err := clients.Queues.Receive(ctx, feedQueue)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	msg, err := queue.Decode(raw.Payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Envelope.Status != queue.StatusEnqueued {
		t.Errorf("status=%q, want %q", msg.Envelope.Status, queue.StatusEnqueued)
	}
	if msg.Feed != changed.URL {
		t.Errorf("feed=%q, want %q", msg.Feed, changed.URL)
	}
	if len(msg.Entries) != 0 {
		t.Errorf("feed-level message carries %d entries", len(msg.Entries))
	}

	// the unchanged feed produced nothing
	if _, err := clients.Queues.Receive(ctx, feedQueue); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unexpected second message: %v", err)
	}
}

func TestPollAllIsolatesCheckFailures(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	changed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer changed.Close()

	clients := newTestClients(t)
	p := NewPoller(NewDetector(nil, quietLogger()), clients.Queues, feedQueue, quietLogger())

	ctx := context.Background()
	if _, err := p.PollAll(ctx, []string{failing.URL, changed.URL}, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("PollAll: %v", err)
	}

	raw, err := clients.Queues.Receive(ctx, feedQueue)
	if err != nil {
		t.Fatalf("the healthy feed was not enqueued: %v", err)
	}
	msg, _ := queue.Decode(raw.Payload)
	if msg.Feed != changed.URL {
		t.Errorf("feed=%q, want %q", msg.Feed, changed.URL)
	}
}

type brokenQueue struct{}

func (brokenQueue) Send(context.Context, string, []byte) error {
	return errors.New("service unavailable")
}
func (brokenQueue) Receive(context.Context, string) (*store.Message, error) {
	return nil, store.ErrNotFound
}
func (brokenQueue) Delete(context.Context, string, *store.Message) error { return nil }

func TestPollAllQueueFailureIsFatal(t *testing.T) {
	changed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer changed.Close()

	p := NewPoller(NewDetector(nil, quietLogger()), brokenQueue{}, feedQueue, quietLogger())

	last := time.Now().Add(-time.Hour)
	checkpoint, err := p.PollAll(context.Background(), []string{changed.URL}, last)
	if err == nil {
		t.Fatal("expected a fatal error when the queue is unreachable")
	}
	if !checkpoint.Equal(last) {
		t.Errorf("checkpoint advanced despite a failed run: %v", checkpoint)
	}
}
