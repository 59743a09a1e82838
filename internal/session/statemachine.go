package session

import (
	"fmt"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
)

// OpResultKind tags the outcome of a state machine operation. The zero value
// is never produced by a real operation, so an accidentally-unset OpResult
// is easy to spot in tests.
type OpResultKind int

const (
	resultUnset OpResultKind = iota
	Updated
	Unchanged
	InstanceLimitReached
	InstanceTypeForSessionIncorrect
	SessionNotFound
	IncompleteOp
)

func (k OpResultKind) String() string {
	switch k {
	case Updated:
		return "Updated"
	case Unchanged:
		return "Unchanged"
	case InstanceLimitReached:
		return "InstanceLimitReached"
	case InstanceTypeForSessionIncorrect:
		return "InstanceTypeForSessionIncorrect"
	case SessionNotFound:
		return "SessionNotFound"
	case IncompleteOp:
		return "IncompleteOp"
	default:
		return "Unset"
	}
}

// OpResult is the tagged variant SessionOpResult from the design: exactly one
// of Session/SessionId/Message is meaningful, selected by Kind.
type OpResult struct {
	Kind      OpResultKind
	session   Session
	sessionId ids.SessionId
	message   string
}

// Session returns the session carried by this result. Panics if Kind is
// SessionNotFound or IncompleteOp, which don't carry one — callers are
// expected to switch on Kind before calling this, the same discipline the
// design requires of every caller of the state machine.
func (r OpResult) Session() Session {
	if r.Kind == SessionNotFound || r.Kind == IncompleteOp {
		panic(fmt.Sprintf("session: Session() called on a %s result", r.Kind))
	}
	return r.session
}

func (r OpResult) SessionId() ids.SessionId {
	if r.Kind != SessionNotFound {
		panic(fmt.Sprintf("session: SessionId() called on a %s result", r.Kind))
	}
	return r.sessionId
}

func (r OpResult) Message() string {
	if r.Kind != IncompleteOp {
		panic(fmt.Sprintf("session: Message() called on a %s result", r.Kind))
	}
	return r.message
}

func updated(s Session) OpResult      { return OpResult{Kind: Updated, session: s} }
func unchanged(s Session) OpResult    { return OpResult{Kind: Unchanged, session: s} }
func limitReached(s Session) OpResult { return OpResult{Kind: InstanceLimitReached, session: s} }
func kindMismatch(s Session) OpResult {
	return OpResult{Kind: InstanceTypeForSessionIncorrect, session: s}
}

func NotFound(id ids.SessionId) OpResult {
	return OpResult{Kind: SessionNotFound, sessionId: id}
}

func Incomplete(message string) OpResult {
	return OpResult{Kind: IncompleteOp, message: message}
}

// AddInstance is the pure addInstance transition from §4.B. It never mutates
// s; a new Session value is always returned inside the result.
//
//   - wrong kind offered                         -> InstanceTypeForSessionIncorrect(s unchanged)
//   - instance already present (same key)        -> Unchanged(s)
//   - at capacity (maxConnections > 0)            -> InstanceLimitReached(s unchanged)
//   - otherwise                                   -> Updated(s + instance)
func AddInstance(s Session, inst Instance) OpResult {
	if inst.Kind() != s.kind {
		return kindMismatch(s)
	}
	key := inst.key()
	if s.contains(key) {
		return unchanged(s)
	}
	if s.maxConnections > 0 && uint(len(s.instances)) >= s.maxConnections {
		return limitReached(s)
	}
	next := s.cloneInstances()
	next[key] = inst
	return updated(s.withInstances(next))
}

// RemoveInstance is the pure removeInstance transition from §4.B.
//
//   - instance absent  -> Unchanged(s)
//   - otherwise        -> Updated(s - instance)
func RemoveInstance(s Session, key InstanceKey) OpResult {
	k := key.key()
	if !s.contains(k) {
		return unchanged(s)
	}
	next := s.cloneInstances()
	delete(next, k)
	return updated(s.withInstances(next))
}

// InstanceKey identifies an instance for removal without requiring the
// caller to reconstruct a full Instance (and therefore its ServerId, which
// removeInstance doesn't need to know to find the entry).
type InstanceKey struct {
	consumer *ids.FullConsumerId
	producer *ids.FullProducerId
}

func ConsumerKey(id ids.FullConsumerId) InstanceKey { return InstanceKey{consumer: &id} }
func ProducerKey(id ids.FullProducerId) InstanceKey { return InstanceKey{producer: &id} }

func (k InstanceKey) key() string {
	if k.consumer != nil {
		return k.consumer.String()
	}
	return k.producer.String()
}

func (k InstanceKey) IsConsumer() bool { return k.consumer != nil }

// ConsumerId panics if IsConsumer() is false.
func (k InstanceKey) ConsumerId() ids.FullConsumerId {
	if k.consumer == nil {
		panic("session: ConsumerId called on a producer instance key")
	}
	return *k.consumer
}

// ProducerId panics if IsConsumer() is true.
func (k InstanceKey) ProducerId() ids.FullProducerId {
	if k.producer == nil {
		panic("session: ProducerId called on a consumer instance key")
	}
	return *k.producer
}

// CanOpenSocket mirrors Session.CanOpenSocket; exposed at package level
// alongside the other operations so callers don't need to reach into the
// Session value for this one check.
func CanOpenSocket(s Session) bool {
	return s.CanOpenSocket()
}
