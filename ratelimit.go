package stratum

import (
	"context"
	"sync"
	"time"
)

// rateLimitCompleter wraps a Completer with proactive rate limiting.
// Requests block until the rate budget allows them to proceed.
type rateLimitCompleter struct {
	inner Completer
	mu    sync.Mutex

	// RPM state: sliding window of request timestamps.
	rpm       int
	rpmWindow []time.Time

	// TPM state: sliding window of (timestamp, tokenCount) pairs.
	tpm       int
	tpmWindow []tpmEntry
}

type tpmEntry struct {
	at     time.Time
	tokens int
}

// RateLimitOption configures a rateLimitCompleter.
type RateLimitOption func(*rateLimitCompleter)

// RPM sets the maximum requests per minute.
func RPM(n int) RateLimitOption {
	return func(r *rateLimitCompleter) { r.rpm = n }
}

// TPM sets the maximum estimated tokens per minute. Token counts are
// estimated from prompt plus content before each request. This is a soft
// limit: the request that exceeds the budget completes, but subsequent
// requests block until the window slides.
func TPM(n int) RateLimitOption {
	return func(r *rateLimitCompleter) { r.tpm = n }
}

// WithRateLimit wraps c with proactive rate limiting. Compose with other
// wrappers:
//
//	svc = stratum.WithRateLimit(provider, stratum.RPM(60))
//	svc = stratum.WithRateLimit(stratum.WithRetry(provider), stratum.RPM(60), stratum.TPM(100000))
func WithRateLimit(c Completer, opts ...RateLimitOption) Completer {
	r := &rateLimitCompleter{inner: c}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *rateLimitCompleter) Name() string { return r.inner.Name() }

func (r *rateLimitCompleter) Complete(ctx context.Context, prompt, content string) (string, error) {
	if err := r.waitForBudget(ctx); err != nil {
		return "", err
	}
	out, err := r.inner.Complete(ctx, prompt, content)
	if err == nil {
		r.recordTokens(EstimateTokens(prompt) + EstimateTokens(content) + EstimateTokens(out))
	}
	return out, err
}

// waitForBudget blocks until both RPM and TPM budgets allow a request.
// Returns ctx.Err() if the context is cancelled while waiting.
func (r *rateLimitCompleter) waitForBudget(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-time.Minute)

		r.rpmWindow = pruneTime(r.rpmWindow, cutoff)
		r.tpmWindow = pruneTpm(r.tpmWindow, cutoff)

		rpmOK := r.rpm <= 0 || len(r.rpmWindow) < r.rpm

		tpmOK := true
		if r.tpm > 0 {
			var total int
			for _, e := range r.tpmWindow {
				total += e.tokens
			}
			tpmOK = total < r.tpm
		}

		if rpmOK && tpmOK {
			if r.rpm > 0 {
				r.rpmWindow = append(r.rpmWindow, now)
			}
			r.mu.Unlock()
			return nil
		}

		// Wait until the oldest entry in the blocking window expires.
		var wait time.Duration
		if !rpmOK && len(r.rpmWindow) > 0 {
			wait = r.rpmWindow[0].Add(time.Minute).Sub(now)
		}
		if !tpmOK && len(r.tpmWindow) > 0 {
			w := r.tpmWindow[0].at.Add(time.Minute).Sub(now)
			if wait == 0 || w < wait {
				wait = w
			}
		}
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// recordTokens adds an estimate to the TPM sliding window.
func (r *rateLimitCompleter) recordTokens(n int) {
	if r.tpm <= 0 || n <= 0 {
		return
	}
	r.mu.Lock()
	r.tpmWindow = append(r.tpmWindow, tpmEntry{at: time.Now(), tokens: n})
	r.mu.Unlock()
}

// pruneTime removes entries older than cutoff from a sorted time slice.
func pruneTime(s []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(s) && s[i].Before(cutoff) {
		i++
	}
	return s[i:]
}

// pruneTpm removes entries older than cutoff from a sorted tpmEntry slice.
func pruneTpm(s []tpmEntry, cutoff time.Time) []tpmEntry {
	i := 0
	for i < len(s) && s[i].at.Before(cutoff) {
		i++
	}
	return s[i:]
}

// compile-time check
var _ Completer = (*rateLimitCompleter)(nil)
