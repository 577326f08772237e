package stratum

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrHTTP is a transport-level failure from an external service.
// Status 429 and 503 are treated as transient and retried.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration // parsed from the Retry-After header, 0 if absent
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses a Retry-After header value, accepting both the
// delay-seconds and HTTP-date forms. Returns 0 for empty or unparseable
// values.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// ErrSchema is a malformed extraction response: the external service replied,
// but the reply failed schema validation. The raw output is kept for operator
// inspection and must never be silently discarded.
type ErrSchema struct {
	KnowledgeType string
	Raw           string
	Reason        string
}

func (e *ErrSchema) Error() string {
	return fmt.Sprintf("%s: invalid extraction output: %s", e.KnowledgeType, e.Reason)
}

// ErrProvenance is a programming invariant violation: a record references
// fragments outside its context node. Records failing this check are never
// persisted.
type ErrProvenance struct {
	RecordType string
	NodeID     string
	FragmentID string
}

func (e *ErrProvenance) Error() string {
	return fmt.Sprintf("%s record for node %s references fragment %s outside the node", e.RecordType, e.NodeID, e.FragmentID)
}

// ErrDimension is an embedding dimensionality mismatch on write. The write
// fails; vectors are never truncated or padded.
type ErrDimension struct {
	Want, Got int
}

func (e *ErrDimension) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}
