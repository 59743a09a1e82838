package session

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/kafkatopic"
)

// Cluster abstracts the broker connection options, so tests can point a
// Handler at an in-memory fake without dragging in a real cluster. Modeled
// on the teacher's streams.Cluster interface.
type Cluster interface {
	Config() ([]kgo.Opt, error)
}

// SeedCluster is a plaintext bootstrap-list Cluster, adequate for anything
// that isn't talking to MSK with IAM auth.
type SeedCluster []string

func (sc SeedCluster) Config() ([]kgo.Opt, error) {
	return []kgo.Opt{kgo.SeedBrokers(sc...)}, nil
}

func newClient(cluster Cluster, opts ...kgo.Opt) (*kgo.Client, error) {
	return kafkatopic.NewClient(cluster, opts...)
}

// ensureTopic creates the session-state topic if it is absent, matching the
// compacted/infinite-retention-plus-delete-fallback policy from §6. It is a
// no-op (not an error) if the topic already exists.
func ensureTopic(ctx context.Context, client *kgo.Client, cfg HandlerConfig) error {
	retentionMs := fmt.Sprintf("%d", cfg.RetentionDeleteFallback.Milliseconds())
	spec := kafkatopic.CompactedSpec(ids.TopicName(cfg.Topic), cfg.Partitions, cfg.ReplicationFactor, retentionMs)
	return kafkatopic.EnsureTopic(ctx, client, spec)
}
