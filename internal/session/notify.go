package session

import "github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"

// EvictionHandler is invoked whenever the Handler observes, on the
// replicated log, an InstanceRemoved event addressed to this node's
// ServerId — whether that removal was this node's own graceful
// removeConsumer/removeProducer call or a compensating eviction emitted by
// some other node after a capacity race (§4.D). The socket lifecycle glue
// (§4.F) registers one of these to close the corresponding local socket.
//
// Implementations must be idempotent and non-blocking: the handler calls
// this synchronously from its mailbox goroutine, so a slow or blocking
// EvictionHandler stalls the entire registry.
type EvictionHandler func(sessionId ids.SessionId, key InstanceKey)

func noopEviction(ids.SessionId, InstanceKey) {}
