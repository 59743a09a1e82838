package commitstack

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
)

type fakeCommitter struct {
	mu      sync.Mutex
	calls   []ids.Offset
	perPart map[ids.Partition]ids.Offset
	fail    bool
}

func newFakeCommitter() *fakeCommitter {
	return &fakeCommitter{perPart: make(map[ids.Partition]ids.Offset)}
}

func (f *fakeCommitter) CommitOffset(_ context.Context, tp ids.TopicPartition, nextOffset ids.Offset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errFakeCommitFailed
	}
	f.calls = append(f.calls, nextOffset)
	if prev, ok := f.perPart[tp.Partition]; ok && nextOffset < prev {
		return errNonMonotonic
	}
	f.perPart[tp.Partition] = nextOffset
	return nil
}

var errFakeCommitFailed = fakeErr("commit failed")
var errNonMonotonic = fakeErr("commit went backwards")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func entryAt(partition ids.Partition, offset ids.Offset, at time.Time) CommitEntry {
	return CommitEntry{
		WsMessageId: ids.WsMessageId{Topic: "events", Partition: partition, Offset: offset, Timestamp: ids.Timestamp(at.UnixMilli())},
		Partition:   partition,
		Offset:      offset,
		EnqueuedAt:  at,
	}
}

func noAutoCommit() Config {
	return Config{MaxStackSize: 100, AutoCommitEnabled: false}
}

// S5: ack with a gap commits the max acked offset and evicts older entries
// on the same partition without committing them individually.
func TestStack_AcknowledgeWithGapCommitsOnce(t *testing.T) {
	fc := newFakeCommitter()
	s := New(ids.FullConsumerId{GroupId: "g1", ClientId: "c1"}, "events", fc, noAutoCommit(), nil)
	defer s.Close(context.Background())

	now := time.Now()
	e10 := entryAt(0, 10, now)
	e11 := entryAt(0, 11, now)
	e12 := entryAt(0, 12, now)
	for _, e := range []CommitEntry{e10, e11, e12} {
		if err := s.Enqueue(context.Background(), e); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	if err := s.Acknowledge(context.Background(), e12.WsMessageId); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	fc.mu.Lock()
	calls := append([]ids.Offset(nil), fc.calls...)
	fc.mu.Unlock()
	if len(calls) != 1 || calls[0] != 13 {
		t.Fatalf("expected a single commit of offset 13 (next-to-read), got %v", calls)
	}
	if s.Len() != 0 {
		t.Fatalf("expected all three entries evicted, got %d remaining", s.Len())
	}
}

func TestStack_AcknowledgeUnknownIdIsNoOp(t *testing.T) {
	fc := newFakeCommitter()
	s := New(ids.FullConsumerId{GroupId: "g1", ClientId: "c1"}, "events", fc, noAutoCommit(), nil)
	defer s.Close(context.Background())

	unknown := ids.WsMessageId{Topic: "events", Partition: 0, Offset: 99}
	if err := s.Acknowledge(context.Background(), unknown); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	fc.mu.Lock()
	n := len(fc.calls)
	fc.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no commit calls, got %d", n)
	}
}

// Invariant 7: committed offsets on a partition never decrease, even across
// interleaved acks on different partitions.
func TestStack_MonotonicAcrossPartitions(t *testing.T) {
	fc := newFakeCommitter()
	s := New(ids.FullConsumerId{GroupId: "g1", ClientId: "c1"}, "events", fc, noAutoCommit(), nil)
	defer s.Close(context.Background())

	now := time.Now()
	for p := ids.Partition(0); p < 2; p++ {
		for o := ids.Offset(0); o < 5; o++ {
			if err := s.Enqueue(context.Background(), entryAt(p, o, now)); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
		}
	}

	ack := func(p ids.Partition, o ids.Offset) {
		id := ids.WsMessageId{Topic: "events", Partition: p, Offset: o, Timestamp: ids.Timestamp(now.UnixMilli())}
		if err := s.Acknowledge(context.Background(), id); err != nil {
			t.Fatalf("acknowledge p%d/%d: %v", p, o, err)
		}
	}
	ack(0, 2)
	ack(1, 1)
	ack(0, 4)
	ack(1, 3)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.perPart[0] != 5 {
		t.Fatalf("expected partition 0 committed through offset 5, got %d", fc.perPart[0])
	}
	if fc.perPart[1] != 4 {
		t.Fatalf("expected partition 1 committed through offset 4, got %d", fc.perPart[1])
	}
}

// S6: an entry enqueued and never acknowledged is committed once it has
// aged past AutoCommitMaxAge, and removed from the stack.
func TestStack_AutoCommitByAge(t *testing.T) {
	fc := newFakeCommitter()
	cfg := Config{
		MaxStackSize:       100,
		AutoCommitEnabled:  true,
		AutoCommitInterval: 10 * time.Millisecond,
		AutoCommitMaxAge:   30 * time.Millisecond,
	}
	s := New(ids.FullConsumerId{GroupId: "g1", ClientId: "c1"}, "events", fc, cfg, nil)
	defer s.Close(context.Background())

	stale := entryAt(0, 7, time.Now())
	if err := s.Enqueue(context.Background(), stale); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.Len() != 0 {
		t.Fatalf("expected auto-commit sweep to evict the aged entry")
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.perPart[0] != 8 {
		t.Fatalf("expected commit of offset 8, got %d", fc.perPart[0])
	}
}

// When full, Enqueue force-commits and evicts the oldest entry (by delivery
// order) to make room, rather than rejecting the new one.
func TestStack_FullEvictsOldestOnEnqueue(t *testing.T) {
	fc := newFakeCommitter()
	cfg := Config{MaxStackSize: 2, AutoCommitEnabled: false}
	s := New(ids.FullConsumerId{GroupId: "g1", ClientId: "c1"}, "events", fc, cfg, nil)
	defer s.Close(context.Background())

	now := time.Now()
	if err := s.Enqueue(context.Background(), entryAt(0, 1, now)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Enqueue(context.Background(), entryAt(0, 2, now)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Enqueue(context.Background(), entryAt(0, 3, now)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if s.Len() != 2 {
		t.Fatalf("expected stack capped at 2 entries, got %d", s.Len())
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.calls) != 1 || fc.calls[0] != 2 {
		t.Fatalf("expected the oldest entry (offset 1) force-committed as next-to-read 2, got %v", fc.calls)
	}
}

func TestStack_CloseFlushesRemainingEntries(t *testing.T) {
	fc := newFakeCommitter()
	s := New(ids.FullConsumerId{GroupId: "g1", ClientId: "c1"}, "events", fc, noAutoCommit(), nil)

	now := time.Now()
	if err := s.Enqueue(context.Background(), entryAt(0, 5, now)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Enqueue(context.Background(), entryAt(1, 9, now)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.perPart[0] != 6 || fc.perPart[1] != 10 {
		t.Fatalf("expected both partitions flushed on close, got %v", fc.perPart)
	}

	if err := s.Enqueue(context.Background(), entryAt(0, 10, now)); err != ErrClosed {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}
