package transcript

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMemoryStoreRangeCursorProperty(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var appended []Entry
	cursor := 0
	var seen []Entry

	for round := 0; round < 5; round++ {
		for i := 0; i < round+1; i++ {
			e := Entry{TimestampMS: int64(len(appended)), Kind: KindTextDelta, Text: fmt.Sprintf("t%d", len(appended))}
			appended = append(appended, e)
			if err := s.Append(ctx, "CA1", e); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
		entries, next, err := s.Range(ctx, "CA1", cursor)
		if err != nil {
			t.Fatalf("range: %v", err)
		}
		seen = append(seen, entries...)
		cursor = next
	}

	if len(seen) != len(appended) {
		t.Fatalf("saw %d entries, appended %d", len(seen), len(appended))
	}
	for i := range appended {
		if seen[i] != appended[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, seen[i], appended[i])
		}
	}

	// Cursor at the tail yields nothing and stays put.
	entries, next, err := s.Range(ctx, "CA1", cursor)
	if err != nil || len(entries) != 0 || next != cursor {
		t.Fatalf("tail read = (%v, %d, %v)", entries, next, err)
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	if err := s.Append(ctx, "CA1", Entry{Kind: KindTextDelta, Text: "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	now = now.Add(29 * time.Minute)
	if entries, _, _ := s.Range(ctx, "CA1", 0); len(entries) != 1 {
		t.Fatalf("entries before expiry = %d, want 1", len(entries))
	}

	// An append refreshes the TTL.
	if err := s.Append(ctx, "CA1", Entry{Kind: KindTextDelta, Text: "again"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	now = now.Add(29 * time.Minute)
	if entries, _, _ := s.Range(ctx, "CA1", 0); len(entries) != 2 {
		t.Fatalf("entries after refresh = %d, want 2", len(entries))
	}

	now = now.Add(31 * time.Minute)
	if entries, _, _ := s.Range(ctx, "CA1", 0); len(entries) != 0 {
		t.Fatalf("entries after expiry = %d, want 0", len(entries))
	}
}

func TestMemoryStoreKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Append(ctx, "CA1", Entry{Text: "a"})
	_ = s.Append(ctx, "MZ1", Entry{Text: "b"})

	entries, _, _ := s.Range(ctx, "CA1", 0)
	if len(entries) != 1 || entries[0].Text != "a" {
		t.Fatalf("CA1 entries = %+v", entries)
	}
}

type failingStore struct{ err error }

func (f failingStore) Append(context.Context, string, Entry) error { return f.err }
func (f failingStore) Range(context.Context, string, int) ([]Entry, int, error) {
	return nil, 0, f.err
}

func TestFallbackStoreDegrades(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	s := NewFallbackStore(failingStore{err: errors.New("backend down")}, mem, nil)

	if err := s.Append(ctx, "CA1", Entry{Text: "x"}); err != nil {
		t.Fatalf("append must not fail when fallback succeeds: %v", err)
	}
	entries, next, err := s.Range(ctx, "CA1", 0)
	if err != nil || len(entries) != 1 || next != 1 {
		t.Fatalf("range = (%v, %d, %v)", entries, next, err)
	}
}
