// Package session implements the session registry core: the pure session
// records and state machine (components A and B of the design), the
// replicated log codec (C), the single-writer Session Handler actor (D), and
// the types that glue them together.
package session

import (
	"fmt"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
)

// Kind tags whether a Session/Instance belongs to the producer or consumer
// side. There is no third kind; adding one is a breaking change to every
// switch in this package, which is intentional — it keeps the two call paths
// (§4.F's addConsumer/addProducer) from accidentally sharing logic that isn't
// actually shared.
type Kind int

const (
	Consumer Kind = iota
	Producer
)

func (k Kind) String() string {
	if k == Consumer {
		return "consumer"
	}
	return "producer"
}

// Instance is one live socket's registration inside a session. Exactly one
// of the identity fields is populated, matching its Kind; NewConsumerInstance
// and NewProducerInstance are the only ways to build one so that invariant
// can't be violated by construction.
type Instance struct {
	kind       Kind
	consumerId ids.FullConsumerId
	producerId ids.FullProducerId
	serverId   ids.ServerId
}

func NewConsumerInstance(id ids.FullConsumerId, server ids.ServerId) Instance {
	return Instance{kind: Consumer, consumerId: id, serverId: server}
}

func NewProducerInstance(id ids.FullProducerId, server ids.ServerId) Instance {
	return Instance{kind: Producer, producerId: id, serverId: server}
}

func (i Instance) Kind() Kind           { return i.kind }
func (i Instance) ServerId() ids.ServerId { return i.serverId }

// ConsumerId panics if this instance is not a consumer instance; callers are
// expected to branch on Kind() first, exactly as they must with the pure
// state machine's SessionOpResult.
func (i Instance) ConsumerId() ids.FullConsumerId {
	if i.kind != Consumer {
		panic("session: ConsumerId called on a producer instance")
	}
	return i.consumerId
}

func (i Instance) ProducerId() ids.FullProducerId {
	if i.kind != Producer {
		panic("session: ProducerId called on a consumer instance")
	}
	return i.producerId
}

// key is the identity this instance is deduplicated and looked up by within
// a session's instance set.
func (i Instance) key() string {
	if i.kind == Consumer {
		return i.consumerId.String()
	}
	return i.producerId.String()
}

func (i Instance) String() string {
	return fmt.Sprintf("%s-instance{id=%s, server=%s}", i.kind, i.key(), i.serverId)
}

// Session is the tagged-variant central entity: a ConsumerSession or a
// ProducerSession depending on Kind. It is treated as immutable by every
// exported method except the package-private mutators used by the state
// machine in statemachine.go — callers only ever see the result of an
// operation, never a Session they can mutate out from under the registry.
type Session struct {
	sessionId      ids.SessionId
	kind           Kind
	groupId        ids.GroupId // only meaningful when kind == Consumer
	maxConnections uint        // 0 means unlimited
	instances      map[string]Instance
}

func (s Session) SessionId() ids.SessionId   { return s.sessionId }
func (s Session) Kind() Kind                 { return s.kind }
func (s Session) GroupId() ids.GroupId       { return s.groupId }
func (s Session) MaxConnections() uint       { return s.maxConnections }

// Instances returns a defensive copy; mutating the returned slice never
// affects the session.
func (s Session) Instances() []Instance {
	out := make([]Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst)
	}
	return out
}

func (s Session) Len() int { return len(s.instances) }

func (s Session) contains(key string) bool {
	_, ok := s.instances[key]
	return ok
}

// CanOpenSocket reports whether one more instance could be admitted right
// now: maxConnections == 0 (unlimited) or the set is below capacity.
func (s Session) CanOpenSocket() bool {
	return s.maxConnections == 0 || uint(len(s.instances)) < s.maxConnections
}

// Equal performs the structural comparison the design calls for: same
// identity, same kind, same capacity, same instance set (by key and server).
func (s Session) Equal(other Session) bool {
	if s.sessionId != other.sessionId || s.kind != other.kind ||
		s.groupId != other.groupId || s.maxConnections != other.maxConnections ||
		len(s.instances) != len(other.instances) {
		return false
	}
	for k, inst := range s.instances {
		o, ok := other.instances[k]
		if !ok || o.serverId != inst.serverId || o.kind != inst.kind {
			return false
		}
	}
	return true
}

func (s Session) withInstances(instances map[string]Instance) Session {
	s.instances = instances
	return s
}

func (s Session) cloneInstances() map[string]Instance {
	out := make(map[string]Instance, len(s.instances))
	for k, v := range s.instances {
		out[k] = v
	}
	return out
}

// defaultMaxConnections is applied whenever a session is initialized without
// an explicit quota, per the data model: "default = 1 if unconfigured".
const defaultMaxConnections = 1

// NewConsumerSession constructs an empty ConsumerSession. maxConnections of 0
// disables the per-session cap.
func NewConsumerSession(sessionId ids.SessionId, groupId ids.GroupId, maxConnections uint) Session {
	return Session{
		sessionId:      sessionId,
		kind:           Consumer,
		groupId:        groupId,
		maxConnections: maxConnections,
		instances:      make(map[string]Instance),
	}
}

// NewProducerSession constructs an empty ProducerSession.
func NewProducerSession(sessionId ids.SessionId, maxConnections uint) Session {
	return Session{
		sessionId:      sessionId,
		kind:           Producer,
		maxConnections: maxConnections,
		instances:      make(map[string]Instance),
	}
}

// NewSession dispatches to NewConsumerSession/NewProducerSession, defaulting
// an unconfigured (zero-value-looking) maxConnections to 1. Used by the
// handler when synthesizing a session for an initSession op.
func NewSession(sessionId ids.SessionId, kind Kind, groupId ids.GroupId, maxConnections uint, explicit bool) Session {
	if !explicit {
		maxConnections = defaultMaxConnections
	}
	if kind == Consumer {
		return NewConsumerSession(sessionId, groupId, maxConnections)
	}
	return NewProducerSession(sessionId, maxConnections)
}

// withInitialInstances validates and installs a starting instance set. It is
// the only place invariant (1) — a session only ever contains instances of
// its own kind — is enforced with a panic rather than an Op result, because
// it is only ever called by trusted internal code (snapshot replacement from
// the replicated log) rather than by an arbitrary caller-supplied op.
func (s Session) withInitialInstances(instances ...Instance) Session {
	set := make(map[string]Instance, len(instances))
	for _, inst := range instances {
		if inst.Kind() != s.kind {
			panic(fmt.Sprintf("session: instance kind %s offered to a %s session", inst.Kind(), s.kind))
		}
		set[inst.key()] = inst
	}
	return s.withInstances(set)
}
