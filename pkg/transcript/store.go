// Package transcript is the append-only per-call transcript log. Entries live
// for 30 minutes after the last append; readers tail with a zero-based cursor.
package transcript

import (
	"context"
	"time"
)

// Entry kinds.
const (
	KindAudioTranscriptDelta = "audio-transcript-delta"
	KindTextDelta            = "text-delta"
)

// TTL is refreshed on every append.
const TTL = 30 * time.Minute

// Entry is one transcript line.
type Entry struct {
	TimestampMS int64  `json:"ts_ms"`
	Kind        string `json:"kind"`
	Text        string `json:"text"`
}

// Store is the per-key append log.
//
// Range returns entries[cursor:] along with the new sequence length, which is
// the caller's next cursor. A reader that always passes back the returned
// cursor sees every entry exactly once, in insertion order.
type Store interface {
	Append(ctx context.Context, key string, e Entry) error
	Range(ctx context.Context, key string, cursor int) ([]Entry, int, error)
}
