package session

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/twmb/franz-go/pkg/kgo"
)

// nextSeq returns this handler's next per-node monotonic sequence number,
// attached to every event it emits so operators can spot gaps/reordering
// when inspecting the topic directly (§4.C).
func (h *Handler) nextSeq() uint64 {
	return atomic.AddUint64(&h.seq, 1)
}

// recordKey computes the compaction key for e. The session-state topic is
// compacted, so the key must identify the single entity a delta mutates, not
// just the session it belongs to: keying every event by sessionId alone
// would let compaction collapse a session's whole history of InstanceAdded
// deltas down to only the most recent one, losing every other live instance
// on a replay-from-earliest. Each instance therefore gets its own key
// (sessionId + its instance identity), and the session header (created/
// removed) gets a third, disjoint key of its own, mirroring the way
// streams/stores.SimpleStore keys one change-log entry per store entry
// rather than one entry per store. InstanceRemoved reuses its target
// instance's key, so the removal record itself becomes that instance's
// latest (and, once the log cleaner has compacted it, only) value under
// compaction — a tombstone in effect even though its body stays populated
// for observability.
func recordKey(e Event) []byte {
	switch e.Kind {
	case InstanceAdded:
		return []byte(string(e.SessionId) + "\x00I\x00" + e.Instance.key())
	case InstanceRemoved:
		return []byte(string(e.SessionId) + "\x00I\x00" + e.RemovedKey.key())
	default: // SessionCreated, SessionRemoved
		return []byte(string(e.SessionId) + "\x00H")
	}
}

// partitionFor hashes sessionId alone, not recordKey, so that every event
// belonging to one session — its header and every one of its instances'
// deltas — always lands on the same partition and is therefore replayed by
// every node in exactly one shared order. The producer client is configured
// with kgo.ManualPartitioner() so this is the only thing that decides
// placement; the default key-hash partitioner is never consulted.
func partitionFor(sessionId string, numPartitions int32) int32 {
	return int32(xxhash.Sum64String(sessionId) % uint64(numPartitions))
}

// publish encodes e and produces it to the session-state topic, keyed per
// recordKey so compaction retains one live value per instance (and one per
// session header) rather than collapsing a session's whole delta history
// down to a single record. It blocks for the broker ack and, on success,
// returns the partition and offset the broker assigned the record so the
// caller can correlate it with the copy the log consumer hands back later.
// It must only be called from the mailbox goroutine.
func (h *Handler) publish(ctx context.Context, e Event) (partition int32, offset int64, err error) {
	var codec EventCodec
	var buf bytes.Buffer
	if err := codec.Encode(&buf, e); err != nil {
		return 0, 0, fmt.Errorf("session: encode event: %w", err)
	}
	record := &kgo.Record{
		Topic:     h.cfg.Topic,
		Partition: partitionFor(string(e.SessionId), h.cfg.Partitions),
		Key:       recordKey(e),
		Value:     append([]byte(nil), buf.Bytes()...),
	}

	start := time.Now()
	type result struct {
		rec *kgo.Record
		err error
	}
	done := make(chan result, 1)
	h.producer.Produce(ctx, record, func(rec *kgo.Record, err error) {
		done <- result{rec: rec, err: err}
	})
	select {
	case res := <-done:
		if res.err == nil && h.metrics != nil {
			h.metrics.PublishLatency.Observe(time.Since(start).Seconds())
		}
		if res.err != nil {
			return 0, 0, res.err
		}
		return res.rec.Partition, res.rec.Offset, nil
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}
