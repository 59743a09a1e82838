package session

import "github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"

// EventKind tags one of the four envelope variants carried by the
// session-state topic (§4.C).
type EventKind int

const (
	SessionCreated EventKind = iota
	InstanceAdded
	InstanceRemoved
	SessionRemoved
)

func (k EventKind) String() string {
	switch k {
	case SessionCreated:
		return "SessionCreated"
	case InstanceAdded:
		return "InstanceAdded"
	case InstanceRemoved:
		return "InstanceRemoved"
	case SessionRemoved:
		return "SessionRemoved"
	default:
		return "Unknown"
	}
}

// Event is a single entry on the replicated log. Every event carries the
// emitting ServerId and a per-node monotonic Seq for observability, as
// required by §4.C; only the fields relevant to Kind are populated.
type Event struct {
	Kind           EventKind
	SessionId      ids.SessionId
	ServerId       ids.ServerId
	Seq            uint64
	SessionKind    Kind           // SessionCreated only
	GroupId        ids.GroupId    // SessionCreated, consumer sessions only
	MaxConnections uint           // SessionCreated only
	Instance       Instance       // InstanceAdded only
	RemovedKey     InstanceKey    // InstanceRemoved only
}

func NewSessionCreatedEvent(sessionId ids.SessionId, kind Kind, groupId ids.GroupId, maxConnections uint, server ids.ServerId, seq uint64) Event {
	return Event{Kind: SessionCreated, SessionId: sessionId, SessionKind: kind, GroupId: groupId, MaxConnections: maxConnections, ServerId: server, Seq: seq}
}

func NewInstanceAddedEvent(sessionId ids.SessionId, inst Instance, server ids.ServerId, seq uint64) Event {
	return Event{Kind: InstanceAdded, SessionId: sessionId, Instance: inst, ServerId: server, Seq: seq}
}

func NewInstanceRemovedEvent(sessionId ids.SessionId, key InstanceKey, server ids.ServerId, seq uint64) Event {
	return Event{Kind: InstanceRemoved, SessionId: sessionId, RemovedKey: key, ServerId: server, Seq: seq}
}

func NewSessionRemovedEvent(sessionId ids.SessionId, server ids.ServerId, seq uint64) Event {
	return Event{Kind: SessionRemoved, SessionId: sessionId, ServerId: server, Seq: seq}
}
