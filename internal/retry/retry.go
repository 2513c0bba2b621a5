// Package retry provides the explicit retry and failure-logging policies that
// wrap network operations throughout the pipeline.
package retry

import (
	"context"
	"log"
	"sync"
	"time"
)

// Policy retries an operation a bounded number of times with a fixed delay
// between attempts. A zero Policy runs the operation exactly once.
type Policy struct {
	Attempts int           // additional attempts after the first failure
	Delay    time.Duration // pause between attempts
}

// Do runs op, retrying per the policy. The last error is returned when all
// attempts fail. Context cancellation stops further attempts.
func (p Policy) Do(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= p.Attempts; attempt++ {
		if attempt > 0 && p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err = op(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

// Recorder logs failure messages at most once per distinct message text for
// the lifetime of the process. Repeated failures with identical text are
// counted but not re-logged.
type Recorder struct {
	logger *log.Logger
	seen   sync.Map // message text -> *int64 (suppressed count)
}

// NewRecorder creates a Recorder writing through logger. A nil logger uses
// the standard logger.
func NewRecorder(logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.Default()
	}
	return &Recorder{logger: logger}
}

// Record logs "message: err" unless an identical message text has already
// been recorded. Returns true when the message was actually logged.
func (r *Recorder) Record(message string, err error) bool {
	if _, dup := r.seen.LoadOrStore(message, struct{}{}); dup {
		return false
	}
	if err != nil {
		r.logger.Printf("%s: %v", message, err)
	} else {
		r.logger.Print(message)
	}
	return true
}
