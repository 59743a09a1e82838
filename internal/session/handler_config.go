package session

import "time"

// HandlerConfig configures one Handler instance. It is assembled from the
// session-handler.* configuration keys (see internal/config) and is
// immutable once a Handler has been constructed from it.
type HandlerConfig struct {
	// Topic is the compacted session-state topic name. Defaults to
	// "_wsproxy.session.state".
	Topic string
	// Partitions is the number of partitions to create the topic with if it
	// does not already exist.
	Partitions int32
	// ReplicationFactor is applied only at topic-creation time.
	ReplicationFactor int16
	// RetentionDeleteFallback bounds how long a tombstoned key is kept
	// around once compaction would otherwise have dropped it; a 30 day
	// fallback per §6.
	RetentionDeleteFallback time.Duration
	// RPCTimeout is the default deadline applied to a mutation RPC when the
	// caller doesn't supply its own context deadline.
	RPCTimeout time.Duration
	// MailboxSize bounds the handler's request queue; once full, callers
	// block on send rather than the queue growing without bound.
	MailboxSize int
}

func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		Topic:                   "_wsproxy.session.state",
		Partitions:              6,
		ReplicationFactor:       3,
		RetentionDeleteFallback: 30 * 24 * time.Hour,
		RPCTimeout:              3 * time.Second,
		MailboxSize:             1024,
	}
}
