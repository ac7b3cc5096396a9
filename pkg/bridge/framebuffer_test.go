package bridge

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

type sinkRecorder struct {
	mu     sync.Mutex
	frames [][]byte
	times  []time.Time
}

func (r *sinkRecorder) sink(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	r.frames = append(r.frames, cp)
	r.times = append(r.times, time.Now())
	return nil
}

func (r *sinkRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func waitForCount(t *testing.T, r *sinkRecorder, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.count() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("sink received %d frames, want %d", r.count(), want)
}

func TestFrameBufferPacing(t *testing.T) {
	rec := &sinkRecorder{}
	b := NewFrameBuffer(rec.sink, nil, WithInterval(10*time.Millisecond))

	b.Enqueue(bytes.Repeat([]byte{0x42}, 5*FrameBytes))
	waitForCount(t, rec, 5, time.Second)

	time.Sleep(30 * time.Millisecond)
	if got := rec.count(); got != 5 {
		t.Fatalf("sink received %d frames, want exactly 5", got)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, f := range rec.frames {
		if len(f) != FrameBytes {
			t.Fatalf("frame length %d, want %d", len(f), FrameBytes)
		}
	}
	// Frames must be paced, not burst: the last frame arrives no sooner than
	// (n-1) intervals after the first, with generous slack for CI.
	elapsed := rec.times[len(rec.times)-1].Sub(rec.times[0])
	if elapsed < 4*10*time.Millisecond/2 {
		t.Fatalf("frames arrived in %v, too fast for paced delivery", elapsed)
	}
}

func TestFrameBufferPadding(t *testing.T) {
	rec := &sinkRecorder{}
	b := NewFrameBuffer(rec.sink, nil, WithInterval(time.Millisecond))

	b.Enqueue(bytes.Repeat([]byte{0x01}, FrameBytes+25))
	waitForCount(t, rec, 2, time.Second)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	last := rec.frames[1]
	if len(last) != FrameBytes {
		t.Fatalf("padded frame length %d", len(last))
	}
	for i := 0; i < 25; i++ {
		if last[i] != 0x01 {
			t.Fatalf("payload byte %d = %#x", i, last[i])
		}
	}
	for i := 25; i < FrameBytes; i++ {
		if last[i] != 0xFF {
			t.Fatalf("padding byte %d = %#x, want 0xFF", i, last[i])
		}
	}
}

func TestFrameBufferClearStopsPlayback(t *testing.T) {
	rec := &sinkRecorder{}
	b := NewFrameBuffer(rec.sink, nil, WithInterval(20*time.Millisecond))

	b.Enqueue(bytes.Repeat([]byte{0x7F}, 50*FrameBytes))
	waitForCount(t, rec, 2, time.Second)

	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("queue length after clear = %d", b.Len())
	}
	// One frame may already be in flight; after it, nothing more arrives.
	time.Sleep(30 * time.Millisecond)
	settled := rec.count()
	time.Sleep(100 * time.Millisecond)
	if got := rec.count(); got != settled {
		t.Fatalf("sink received %d frames after clear settled at %d", got, settled)
	}
}

func TestFrameBufferOverflowDropsOldestHalf(t *testing.T) {
	var dropped int
	rec := &sinkRecorder{}
	b := NewFrameBuffer(rec.sink, nil,
		WithInterval(time.Hour), // effectively freeze the pacer after one frame
		WithMaxQueue(100),
		WithDropObserver(func(n int) { dropped += n }),
	)

	// 50 000 bytes is 313 frames; the enqueue overflows the 100-frame bound
	// and discards the oldest 50.
	b.Enqueue(bytes.Repeat([]byte{0x11}, 50000))
	if dropped != 50 {
		t.Fatalf("dropped %d frames, want 50", dropped)
	}
	if got := b.Len(); got < 260 || got > 263 { // pacer may hold one frame
		t.Fatalf("queue length after overflow = %d, want ~263", got)
	}
}

func TestFrameBufferShutdown(t *testing.T) {
	rec := &sinkRecorder{}
	b := NewFrameBuffer(rec.sink, nil, WithInterval(5*time.Millisecond))
	b.Enqueue(bytes.Repeat([]byte{0x01}, 10*FrameBytes))
	b.Shutdown()

	settled := rec.count()
	time.Sleep(50 * time.Millisecond)
	if got := rec.count(); got != settled {
		t.Fatalf("frames after shutdown: %d -> %d", settled, got)
	}

	b.Enqueue([]byte{0x01})
	if b.Len() != 0 {
		t.Fatal("enqueue after shutdown must be a no-op")
	}
}
