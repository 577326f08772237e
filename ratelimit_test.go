package stratum

import (
	"context"
	"testing"
	"time"
)

func TestRateLimitAllowsUnderBudget(t *testing.T) {
	c := &stubCompleter{results: []stubResult{{out: "a"}, {out: "b"}, {out: "c"}}}
	r := WithRateLimit(c, RPM(10))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := r.Complete(ctx, "p", "c"); err != nil {
			t.Fatalf("Complete(%d) error = %v", i, err)
		}
	}
	if c.calls != 3 {
		t.Errorf("calls = %d, want 3", c.calls)
	}
}

func TestRateLimitBlocksAtRPM(t *testing.T) {
	c := &stubCompleter{}
	r := WithRateLimit(c, RPM(2))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := r.Complete(ctx, "p", "c"); err != nil {
		t.Fatalf("first Complete() error = %v", err)
	}
	if _, err := r.Complete(ctx, "p", "c"); err != nil {
		t.Fatalf("second Complete() error = %v", err)
	}
	// The third request exceeds RPM=2 and must block until the window
	// slides, which is longer than the context timeout.
	if _, err := r.Complete(ctx, "p", "c"); err != context.DeadlineExceeded {
		t.Errorf("third Complete() error = %v, want context.DeadlineExceeded", err)
	}
	if c.calls != 2 {
		t.Errorf("calls = %d, want 2", c.calls)
	}
}

func TestRateLimitBlocksAtTPM(t *testing.T) {
	c := &stubCompleter{results: []stubResult{
		{out: "a long first response that consumes a chunk of the token budget"},
	}}
	r := WithRateLimit(c, TPM(5))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// First request passes (window empty) and records token usage well
	// over the TPM budget.
	if _, err := r.Complete(ctx, "some prompt text", "some content text"); err != nil {
		t.Fatalf("first Complete() error = %v", err)
	}
	if _, err := r.Complete(ctx, "p", "c"); err != context.DeadlineExceeded {
		t.Errorf("second Complete() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestRateLimitNoLimitsPassesThrough(t *testing.T) {
	c := &stubCompleter{results: []stubResult{{out: "ok"}}}
	r := WithRateLimit(c)
	got, err := r.Complete(context.Background(), "p", "c")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Complete() = %q, want %q", got, "ok")
	}
	if r.Name() != "stub" {
		t.Errorf("Name() = %q, want forwarded %q", r.Name(), "stub")
	}
}

func TestPruneTime(t *testing.T) {
	now := time.Now()
	s := []time.Time{now.Add(-2 * time.Minute), now.Add(-90 * time.Second), now}
	got := pruneTime(s, now.Add(-time.Minute))
	if len(got) != 1 {
		t.Errorf("pruneTime kept %d entries, want 1", len(got))
	}
}
