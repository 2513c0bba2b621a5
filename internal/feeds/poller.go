package feeds

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rbarrimond/rssmill/internal/queue"
	"github.com/rbarrimond/rssmill/internal/store"
)

// Poller sweeps the configured feed URLs, applying the change detector and
// enqueueing the URLs that changed for the ingestion stage. It maintains a
// single checkpoint shared by all feeds.
type Poller struct {
	detector  *Detector
	queues    store.QueueClient
	feedQueue string
	logger    *log.Logger
}

// NewPoller creates a poller publishing to the named feed-level queue.
func NewPoller(detector *Detector, queues store.QueueClient, feedQueue string, logger *log.Logger) *Poller {
	return &Poller{
		detector:  detector,
		queues:    queues,
		feedQueue: feedQueue,
		logger:    logger,
	}
}

// PollAll checks every URL against lastIngestion and enqueues the changed
// ones. It returns the new checkpoint, taken after the sweep completes. A
// failed feed check skips that feed; a queue failure aborts the whole run
// so no checkpoint advance can mask unpublished work.
func (p *Poller) PollAll(ctx context.Context, feedURLs []string, lastIngestion time.Time) (time.Time, error) {
	for _, url := range feedURLs {
		if !p.detector.HasUpdate(ctx, url, lastIngestion) {
			continue
		}
		if err := queue.Publish(ctx, p.queues, p.feedQueue, queue.FeedMessage(url)); err != nil {
			return lastIngestion, fmt.Errorf("poll aborted: %w", err)
		}
		p.logger.Printf("enqueued feed %s", url)
	}
	return time.Now().UTC(), nil
}
