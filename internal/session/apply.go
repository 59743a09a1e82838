package session

import (
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/logging"
)

// applyEvent folds one log event into sessions, the handler's authoritative
// in-memory map, following the state machine described in §4.D ("State
// machine of a session entry inside the handler"). It returns whether the
// map actually changed and, when the event represents a conflicting add
// (§4.D "Conflict resolution"), the compensating InstanceRemoved event that
// must itself be published to the log.
//
// applyEvent must only ever be called from the handler's single mailbox
// goroutine; it has no locking of its own.
func applyEvent(sessions map[ids.SessionId]Session, e Event) (changed bool, compensation *Event) {
	switch e.Kind {
	case SessionCreated:
		if _, exists := sessions[e.SessionId]; exists {
			// First SessionCreated for a given id wins; a second one racing
			// in from another node is treated the same as Unchanged.
			return false, nil
		}
		sessions[e.SessionId] = NewSession(e.SessionId, e.SessionKind, e.GroupId, e.MaxConnections, true)
		return true, nil

	case InstanceAdded:
		s, ok := sessions[e.SessionId]
		if !ok {
			// The InstanceAdded outran its SessionCreated (possible on
			// replay from a truncated tail, or a SessionCreated that never
			// made it through). Synthesize a shell with the default
			// capacity (explicit=false) rather than drop the event; a later
			// SessionCreated, if any arrives, will not overwrite it (see
			// case above).
			s = NewSession(e.SessionId, e.Instance.Kind(), groupIdOf(e.Instance), 0, false)
		}
		result := AddInstance(s, e.Instance)
		switch result.Kind {
		case Updated:
			sessions[e.SessionId] = result.Session()
			return true, nil
		case Unchanged:
			sessions[e.SessionId] = result.Session()
			return false, nil
		case InstanceLimitReached:
			logging.L().Warnf("session: capacity race on %s, compensating eviction of %s", e.SessionId, e.Instance)
			// The violating instance is kept, over capacity, until its
			// compensating removal comes back through the log; no existing
			// instance is dropped.
			over := s.cloneInstances()
			over[e.Instance.key()] = e.Instance
			sessions[e.SessionId] = s.withInstances(over)
			comp := NewInstanceRemovedEvent(e.SessionId, instanceKeyOf(e.Instance), e.Instance.ServerId(), 0)
			return false, &comp
		default:
			logging.L().Errorf("session: InstanceAdded for %s rejected as %s, dropping", e.SessionId, result.Kind)
			return false, nil
		}

	case InstanceRemoved:
		s, ok := sessions[e.SessionId]
		if !ok {
			return false, nil
		}
		result := RemoveInstance(s, e.RemovedKey)
		sessions[e.SessionId] = result.Session()
		return result.Kind == Updated, nil

	case SessionRemoved:
		if _, ok := sessions[e.SessionId]; !ok {
			return false, nil
		}
		delete(sessions, e.SessionId)
		return true, nil

	default:
		logging.L().Errorf("session: unknown event kind %v, dropping", e.Kind)
		return false, nil
	}
}

func groupIdOf(inst Instance) ids.GroupId {
	if inst.Kind() == Consumer {
		return inst.ConsumerId().GroupId
	}
	return ""
}

func instanceKeyOf(inst Instance) InstanceKey {
	if inst.Kind() == Consumer {
		return ConsumerKey(inst.ConsumerId())
	}
	return ProducerKey(inst.ProducerId())
}
