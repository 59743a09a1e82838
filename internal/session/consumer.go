package session

import (
	"context"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/logging"
)

// logRecord is what the consume loop hands off to the mailbox goroutine: a
// decoded Event plus enough positional information to update the per-
// partition watermark the startup barrier and awaitUpTo() are built on.
type logRecord struct {
	partition int32
	offset    int64
	event     Event
	decodeErr error
}

// runConsumeLoop polls client for records on every partition it was assigned
// and forwards each one, decoded, to out. It returns only when ctx is
// cancelled or the client is closed out from under it — both of which are
// treated the same way by the caller (handler shutdown).
//
// The handler's consumer is a group-less direct consumer of every partition
// (kgo.ConsumeTopics without kgo.ConsumerGroup), not a balanced consumer group: every node needs to see the *entire* topic
// to converge, which rules out the usual "one consumer group, partitions
// split across members" shape used for ordinary Kafka consumption.
func runConsumeLoop(ctx context.Context, client *kgo.Client, out chan<- logRecord) {
	var codec EventCodec
	for {
		fetches := client.PollFetches(ctx)
		if ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			logging.L().Errorf("session: fetch error topic=%s partition=%d: %v", topic, partition, err)
		})
		fetches.EachRecord(func(r *kgo.Record) {
			event, err := codec.Decode(r.Value)
			rec := logRecord{partition: r.Partition, offset: r.Offset, event: event, decodeErr: err}
			select {
			case out <- rec:
			case <-ctx.Done():
			}
		})
	}
}
