package stratum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnix returns current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}

// FragmentID derives a stable fragment id from source, position, and content.
// Identical input always produces the same id, so re-ingesting an unchanged
// source is idempotent and extraction provenance survives re-runs.
func FragmentID(sourceID string, pos Position, text string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00", sourceID, pos.Chapter, pos.Section, pos.Index)
	h.Write([]byte(text))
	return "frag_" + hex.EncodeToString(h.Sum(nil)[:16])
}
