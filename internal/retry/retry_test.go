package retry

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"
)

func TestPolicyRetriesUntilSuccess(t *testing.T) {
	calls := 0
	p := Policy{Attempts: 2}
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls=%d, want 3", calls)
	}
}

func TestPolicyExhaustsAttempts(t *testing.T) {
	calls := 0
	p := Policy{Attempts: 1}
	err := p.Do(context.Background(), func() error {
		calls++
		return errors.New("still broken")
	})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if calls != 2 {
		t.Errorf("calls=%d, want 2 (one attempt plus one retry)", calls)
	}
}

func TestPolicyZeroValueRunsOnce(t *testing.T) {
	calls := 0
	var p Policy
	p.Do(context.Background(), func() error {
		calls++
		return errors.New("nope")
	})
	if calls != 1 {
		t.Errorf("calls=%d, want 1", calls)
	}
}

func TestPolicyRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{Attempts: 5, Delay: time.Minute}
	start := time.Now()
	err := p.Do(ctx, func() error { return errors.New("fail") })
	if err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > time.Second {
		t.Error("Do blocked on delay despite cancelled context")
	}
}

func TestRecorderSuppressesDuplicates(t *testing.T) {
	var buf bytes.Buffer
	r := NewRecorder(log.New(&buf, "", 0))

	if !r.Record("feed check failed", errors.New("timeout")) {
		t.Error("first Record should log")
	}
	if r.Record("feed check failed", errors.New("timeout again")) {
		t.Error("duplicate Record should be suppressed")
	}
	if !r.Record("different failure", nil) {
		t.Error("distinct message should log")
	}

	out := buf.String()
	if strings.Count(out, "feed check failed") != 1 {
		t.Errorf("expected one occurrence, got output:\n%s", out)
	}
	if !strings.Contains(out, "different failure") {
		t.Errorf("missing distinct message in output:\n%s", out)
	}
}
