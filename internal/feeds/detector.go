// Package feeds implements the polling and ingestion pipeline: cheap change
// detection against feed endpoints, full parse and entity materialization,
// and hand-off to the enrichment queue.
package feeds

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/rbarrimond/rssmill/internal/retry"
)

const userAgent = "rssmill/1.0"

// Detector decides whether a feed endpoint has new content since a given
// time, without downloading the feed body when the server supports
// conditional requests.
type Detector struct {
	client  *http.Client
	policy  retry.Policy
	failLog *retry.Recorder
}

// NewDetector creates a detector over the given HTTP client. A transient
// check failure is retried once with no delay.
func NewDetector(client *http.Client, logger *log.Logger) *Detector {
	if client == nil {
		client = http.DefaultClient
	}
	return &Detector{
		client:  client,
		policy:  retry.Policy{Attempts: 1},
		failLog: retry.NewRecorder(logger),
	}
}

// HasUpdate sends a conditional GET carrying If-Modified-Since and reports
// whether the endpoint claims new content. A zero since means the feed has
// never been checked and is sent as the Unix epoch. Check failures fail
// safe: the feed is reported as unchanged and the failure is logged once
// per distinct message.
func (d *Detector) HasUpdate(ctx context.Context, feedURL string, since time.Time) bool {
	updated, err := d.check(ctx, feedURL, since)
	if err != nil {
		d.failLog.Record(fmt.Sprintf("feed check failed for %s", feedURL), err)
		return false
	}
	return updated
}

func (d *Detector) check(ctx context.Context, feedURL string, since time.Time) (bool, error) {
	if since.IsZero() {
		since = time.Unix(0, 0)
	}

	var updated bool
	err := d.policy.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
		if err != nil {
			return fmt.Errorf("build request for %s: %w", feedURL, err)
		}
		req.Header.Set("User-Agent", userAgent)
		// RFC 1123 in UTC, the exact format conditional GET servers expect
		req.Header.Set("If-Modified-Since", since.UTC().Format(http.TimeFormat))

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("check %s: %w", feedURL, err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			updated = true
			return nil
		case http.StatusNotModified:
			updated = false
			return nil
		default:
			return fmt.Errorf("check %s returned status %d", feedURL, resp.StatusCode)
		}
	})
	return updated, err
}
