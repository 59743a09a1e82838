package commitstack

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
)

// KafkaCommitter commits offsets for one consumer group against the real
// Kafka cluster the proxy is fronting, via the admin client's group-offset
// API rather than a group member's auto-commit. The consumer socket's client
// joins the group with kgo auto-commit disabled (see socket.ServeConsumer),
// so the group's offsets move only through this committer.
type KafkaCommitter struct {
	admin   *kadm.Client
	groupId ids.GroupId
}

func NewKafkaCommitter(admin *kadm.Client, groupId ids.GroupId) *KafkaCommitter {
	return &KafkaCommitter{admin: admin, groupId: groupId}
}

func (c *KafkaCommitter) CommitOffset(ctx context.Context, tp ids.TopicPartition, nextOffset ids.Offset) error {
	offsets := make(kadm.Offsets)
	offsets.Add(kadm.Offset{
		Topic:     string(tp.Topic),
		Partition: int32(tp.Partition),
		At:        int64(nextOffset),
	})
	responses, err := c.admin.CommitOffsets(ctx, string(c.groupId), offsets)
	if err != nil {
		return fmt.Errorf("commitstack: commit offsets for group %s: %w", c.groupId, err)
	}
	var firstErr error
	responses.Each(func(r kadm.OffsetResponse) {
		if r.Err != nil && firstErr == nil {
			firstErr = r.Err
		}
	})
	if firstErr != nil {
		return fmt.Errorf("commitstack: broker rejected commit for group %s: %w", c.groupId, firstErr)
	}
	return nil
}
