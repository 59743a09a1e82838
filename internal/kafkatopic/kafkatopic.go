// Package kafkatopic is §4.K's Kafka topic administration: the one place
// that talks to the admin API about topics. The Session Handler's
// session-state topic is created here, with its partition count, replication
// factor and retention policy, when absent; a consumer socket's
// user-supplied topic is checked for existence here. An existing topic's
// settings are not checked or altered.
package kafkatopic

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/logging"
)

// Cluster abstracts the broker connection options. Any type with this method
// set satisfies it, including session.SeedCluster, without either package
// importing the other.
type Cluster interface {
	Config() ([]kgo.Opt, error)
}

// NewClient builds a kgo.Client from cluster's options plus opts, wired to
// the process-wide logger the same way every other Kafka client in this
// proxy is. Every client gets its own generated client.id so broker-side
// request logs and quota tracking can tell one proxy connection apart from
// another, the same opaque-uuid-per-ephemeral-thing idiom the teacher uses
// for its own transactional ids and sync markers.
func NewClient(cluster Cluster, opts ...kgo.Opt) (*kgo.Client, error) {
	base := []kgo.Opt{
		kgo.WithLogger(logging.KgoLogger()),
		kgo.ClientID("wsproxy-" + uuid.NewString()),
	}
	clusterOpts, err := cluster.Config()
	if err != nil {
		return nil, fmt.Errorf("kafkatopic: cluster config: %w", err)
	}
	base = append(base, clusterOpts...)
	base = append(base, opts...)
	return kgo.NewClient(base...)
}

// Ping issues a raw, topic-less metadata request to confirm the seed brokers
// are reachable. kadm has no bare connectivity check of its own; this drops
// to the underlying protocol request directly.
func Ping(ctx context.Context, client *kgo.Client) error {
	req := kmsg.NewPtrMetadataRequest()
	req.Topics = []kmsg.MetadataRequestTopic{}
	resp, err := client.Request(ctx, req)
	if err != nil {
		return fmt.Errorf("kafkatopic: ping cluster: %w", err)
	}
	metaResp, ok := resp.(*kmsg.MetadataResponse)
	if !ok {
		return fmt.Errorf("kafkatopic: ping cluster: unexpected response type %T", resp)
	}
	if len(metaResp.Brokers) == 0 {
		return fmt.Errorf("kafkatopic: ping cluster: no brokers reported")
	}
	return nil
}

// Spec describes the topic EnsureTopic should converge on.
type Spec struct {
	Name              ids.TopicName
	Partitions        int32
	ReplicationFactor int16
	// Configs are applied only at creation time; EnsureTopic never alters an
	// already-existing topic's configuration.
	Configs map[string]string
}

// CompactedSpec is the shape §6 calls for: infinite retention for
// compaction, with a delete-retention fallback bounding how long a
// tombstoned key survives.
func CompactedSpec(name ids.TopicName, partitions int32, replicationFactor int16, deleteRetentionMs string) Spec {
	return Spec{
		Name:              name,
		Partitions:        partitions,
		ReplicationFactor: replicationFactor,
		Configs: map[string]string{
			"cleanup.policy":      "compact",
			"retention.ms":        deleteRetentionMs,
			"min.insync.replicas": "1",
		},
	}
}

// EnsureTopic creates spec's topic if absent. A no-op, not an error, if the
// topic already exists — this proxy never tries to reconcile an existing
// topic's configuration, only to guarantee one exists at all.
func EnsureTopic(ctx context.Context, client *kgo.Client, spec Spec) error {
	admin := kadm.NewClient(client)
	defer admin.Close()

	existing, err := admin.ListTopics(ctx, string(spec.Name))
	if err != nil {
		return fmt.Errorf("kafkatopic: list topics: %w", err)
	}
	if existing.Has(string(spec.Name)) {
		return nil
	}

	topicConfigs := make(map[string]*string, len(spec.Configs))
	for k, v := range spec.Configs {
		v := v
		topicConfigs[k] = &v
	}
	resp, err := admin.CreateTopics(ctx, spec.Partitions, spec.ReplicationFactor, topicConfigs, string(spec.Name))
	if err != nil {
		return fmt.Errorf("kafkatopic: create topic %s: %w", spec.Name, err)
	}
	if r, ok := resp[string(spec.Name)]; ok && r.Err != nil {
		return fmt.Errorf("kafkatopic: create topic %s: %w", spec.Name, r.Err)
	}
	logging.L().Infof("kafkatopic: ensured topic %s (partitions=%d, rf=%d)", spec.Name, spec.Partitions, spec.ReplicationFactor)
	return nil
}

// Exists reports whether name is already present on the cluster, used by the
// consumer socket lifecycle glue to reject a stream request against an
// unknown topic (§7's TopicNotFoundError) rather than letting the consumer
// client run against it. Producer sockets are not checked; their client is
// built with kgo.AllowAutoTopicCreation.
func Exists(ctx context.Context, client *kgo.Client, name ids.TopicName) (bool, error) {
	admin := kadm.NewClient(client)
	defer admin.Close()
	existing, err := admin.ListTopics(ctx, string(name))
	if err != nil {
		return false, fmt.Errorf("kafkatopic: list topics: %w", err)
	}
	return existing.Has(string(name)), nil
}
