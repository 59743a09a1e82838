// Package commitstack implements §4.E's per-consumer commit stack: the
// ordered buffer that reconciles WebSocket-acknowledged message ids with the
// monotonically non-decreasing offset commits Kafka requires. One Stack is
// owned by exactly one consumer stream; the stream's delivery goroutine, its
// ack-reading goroutine and the auto-commit sweeper all call into it, and
// are serialized against each other by the Stack's mutex.
package commitstack

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/metrics"
)

// Committer is the Kafka-facing collaborator a Stack commits through. The
// production implementation (KafkaCommitter) wraps a *kadm.Client's
// group-offset commit API; tests supply a fake.
type Committer interface {
	CommitOffset(ctx context.Context, tp ids.TopicPartition, nextOffset ids.Offset) error
}

// CommitEntry is one record delivered over a consumer's socket, pending
// client acknowledgement.
type CommitEntry struct {
	WsMessageId ids.WsMessageId
	Partition   ids.Partition
	Offset      ids.Offset
	EnqueuedAt  time.Time
}

type entry struct {
	CommitEntry
	listElem *list.Element
}

func entryLess(a, b *entry) bool {
	if a.Partition != b.Partition {
		return a.Partition < b.Partition
	}
	return a.Offset < b.Offset
}

// Config bounds a Stack's size and age. Zero AutoCommitMaxAge disables the
// age-based sweep; it is still meaningful to run a Stack with MaxStackSize
// bounding it alone.
type Config struct {
	MaxStackSize       int
	AutoCommitEnabled  bool
	AutoCommitInterval time.Duration
	AutoCommitMaxAge   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxStackSize:       10_000,
		AutoCommitEnabled:  true,
		AutoCommitInterval: 5 * time.Second,
		AutoCommitMaxAge:   30 * time.Second,
	}
}

// Stack is the per-FullConsumerId ordered offset buffer described in §4.E.
type Stack struct {
	cfg       Config
	committer Committer
	topic     ids.TopicName
	owner     ids.FullConsumerId
	metrics   *metrics.Registry

	mu         sync.Mutex
	byId       map[ids.WsMessageId]*entry
	delivery   *list.List // FIFO by enqueue order, for size-based eviction
	byPartition map[ids.Partition]*btree.BTreeG[*entry]

	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// New constructs a Stack for one consumer socket and starts its auto-commit
// sweeper if cfg.AutoCommitEnabled. reg may be nil (no metrics recorded).
func New(owner ids.FullConsumerId, topic ids.TopicName, committer Committer, cfg Config, reg *metrics.Registry) *Stack {
	s := &Stack{
		cfg:         cfg,
		committer:   committer,
		topic:       topic,
		owner:       owner,
		metrics:     reg,
		byId:        make(map[ids.WsMessageId]*entry),
		delivery:    list.New(),
		byPartition: make(map[ids.Partition]*btree.BTreeG[*entry]),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if cfg.AutoCommitEnabled && cfg.AutoCommitMaxAge > 0 {
		go s.runAutoCommit()
	} else {
		close(s.done)
	}
	return s
}

func (s *Stack) treeFor(p ids.Partition) *btree.BTreeG[*entry] {
	t, ok := s.byPartition[p]
	if !ok {
		t = btree.NewG(16, entryLess)
		s.byPartition[p] = t
	}
	return t
}

// Enqueue records a newly delivered record as pending acknowledgement. If
// the stack is at MaxStackSize, the oldest entry (by delivery order,
// irrespective of partition) is force-committed and evicted first.
func (s *Stack) Enqueue(ctx context.Context, e CommitEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if s.cfg.MaxStackSize > 0 && s.delivery.Len() >= s.cfg.MaxStackSize {
		oldest := s.delivery.Front().Value.(*entry)
		if err := s.commitThroughLocked(ctx, oldest.Partition, oldest.Offset, "eviction"); err != nil {
			return err
		}
	}

	en := &entry{CommitEntry: e}
	en.listElem = s.delivery.PushBack(en)
	s.byId[e.WsMessageId] = en
	s.treeFor(e.Partition).ReplaceOrInsert(en)
	return nil
}

// Acknowledge commits the offset of the entry matching id, and with it every
// older entry on the same partition, per the §4.E non-decreasing ordering
// guarantee. Acknowledging an id the stack no longer holds (already evicted,
// already committed, or unknown) is a no-op, not an error: at-least-once
// delivery means the client may legitimately ack something twice.
func (s *Stack) Acknowledge(ctx context.Context, id ids.WsMessageId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	en, ok := s.byId[id]
	if !ok {
		return nil
	}
	return s.commitThroughLocked(ctx, en.Partition, en.Offset, "ack")
}

// commitThroughLocked commits maxOffset+1 (the next offset to read) for
// partition p, then evicts every entry on that partition with Offset <=
// maxOffset. Must be called with s.mu held.
func (s *Stack) commitThroughLocked(ctx context.Context, p ids.Partition, maxOffset ids.Offset, trigger string) error {
	tp := ids.TopicPartition{Topic: s.topic, Partition: p}
	if err := s.committer.CommitOffset(ctx, tp, maxOffset+1); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.CommitsTotal.WithLabelValues(trigger).Inc()
	}
	tree := s.byPartition[p]
	if tree == nil {
		return nil
	}
	var toRemove []*entry
	tree.Ascend(func(item *entry) bool {
		if item.Offset > maxOffset {
			return false
		}
		toRemove = append(toRemove, item)
		return true
	})
	for _, item := range toRemove {
		tree.Delete(item)
		s.delivery.Remove(item.listElem)
		delete(s.byId, item.WsMessageId)
	}
	return nil
}

// Len reports how many entries are currently buffered, across all
// partitions. Exposed for tests and metrics.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivery.Len()
}

// Close runs the auto-commit sweeper down and commits everything still
// buffered, oldest first per partition, then marks the stack unusable.
func (s *Stack) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for p, tree := range s.byPartition {
		if tree.Len() == 0 {
			continue
		}
		max, _ := tree.Max()
		if err := s.commitThroughLocked(ctx, p, max.Offset, "close"); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var ErrClosed = stackClosedError{}

type stackClosedError struct{}

func (stackClosedError) Error() string { return "commitstack: stack is closed" }
