package session

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
)

var wireJson = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec mirrors the Encode/Decode shape used throughout the proxy's Kafka
// record handling: one small interface, swappable per record type. Event is
// the only type that needs one in this package; the record payload codecs
// (JSON/Avro) are out of scope.
type Codec[T any] interface {
	Encode(*bytes.Buffer, T) error
	Decode([]byte) (T, error)
}

// wireKindConsumer/wireKindProducer are the on-the-wire spellings of Kind,
// kept distinct from Kind.String() so a future rename of the Go-side enum
// doesn't silently change already-written log records.
const (
	wireKindConsumer = "consumer"
	wireKindProducer = "producer"
)

func kindToWire(k Kind) string {
	if k == Consumer {
		return wireKindConsumer
	}
	return wireKindProducer
}

func wireToKind(s string) (Kind, error) {
	switch s {
	case wireKindConsumer:
		return Consumer, nil
	case wireKindProducer:
		return Producer, nil
	default:
		return Consumer, fmt.Errorf("session: unknown kind %q", s)
	}
}

// wireInstance is the envelope's instance sub-object. Exactly one of the
// id pairs is populated, selected by Kind, same as Instance itself.
type wireInstance struct {
	Kind         string  `json:"kind"`
	GroupId      string  `json:"groupId,omitempty"`
	ClientId     string  `json:"clientId,omitempty"`
	ProducerId   string  `json:"producerId,omitempty"`
	InstanceId   *string `json:"instanceId,omitempty"`
	ServerId     string  `json:"serverId"`
}

func instanceToWire(inst Instance) wireInstance {
	w := wireInstance{Kind: kindToWire(inst.Kind()), ServerId: string(inst.ServerId())}
	if inst.Kind() == Consumer {
		cid := inst.ConsumerId()
		w.GroupId = string(cid.GroupId)
		w.ClientId = string(cid.ClientId)
	} else {
		pid := inst.ProducerId()
		w.ProducerId = string(pid.ProducerId)
		if pid.InstanceId != nil {
			s := string(*pid.InstanceId)
			w.InstanceId = &s
		}
	}
	return w
}

func wireToInstance(w wireInstance) (Instance, error) {
	kind, err := wireToKind(w.Kind)
	if err != nil {
		return Instance{}, err
	}
	server := ids.ServerId(w.ServerId)
	if kind == Consumer {
		return NewConsumerInstance(ids.FullConsumerId{GroupId: ids.GroupId(w.GroupId), ClientId: ids.ClientId(w.ClientId)}, server), nil
	}
	fpid := ids.FullProducerId{ProducerId: ids.ProducerId(w.ProducerId)}
	if w.InstanceId != nil {
		iid := ids.ProducerInstanceId(*w.InstanceId)
		fpid.InstanceId = &iid
	}
	return NewProducerInstance(fpid, server), nil
}

// wireInstanceKey mirrors wireInstance but for InstanceRemoved, which needs
// identity only, not a hosting ServerId (that belongs to the envelope's own
// ServerId field — the server that is emitting the removal, which for a
// compensating removal is the server that *owns* the over-quota socket, not
// necessarily the server doing the removing).
type wireInstanceKey struct {
	Kind       string  `json:"kind"`
	GroupId    string  `json:"groupId,omitempty"`
	ClientId   string  `json:"clientId,omitempty"`
	ProducerId string  `json:"producerId,omitempty"`
	InstanceId *string `json:"instanceId,omitempty"`
}

func instanceKeyToWire(k InstanceKey) wireInstanceKey {
	if k.IsConsumer() {
		cid := k.ConsumerId()
		return wireInstanceKey{Kind: wireKindConsumer, GroupId: string(cid.GroupId), ClientId: string(cid.ClientId)}
	}
	pid := k.ProducerId()
	w := wireInstanceKey{Kind: wireKindProducer, ProducerId: string(pid.ProducerId)}
	if pid.InstanceId != nil {
		s := string(*pid.InstanceId)
		w.InstanceId = &s
	}
	return w
}

func wireToInstanceKey(w wireInstanceKey) (InstanceKey, error) {
	kind, err := wireToKind(w.Kind)
	if err != nil {
		return InstanceKey{}, err
	}
	if kind == Consumer {
		return ConsumerKey(ids.FullConsumerId{GroupId: ids.GroupId(w.GroupId), ClientId: ids.ClientId(w.ClientId)}), nil
	}
	fpid := ids.FullProducerId{ProducerId: ids.ProducerId(w.ProducerId)}
	if w.InstanceId != nil {
		iid := ids.ProducerInstanceId(*w.InstanceId)
		fpid.InstanceId = &iid
	}
	return ProducerKey(fpid), nil
}

// wireEnvelope is the on-the-wire shape of Event. Unknown fields are ignored
// on decode (jsoniter's default struct-tag behavior), giving the codec the
// forwards-compatibility §4.C requires; new optional fields can be added to
// this struct by future versions without breaking older readers.
type wireEnvelope struct {
	Type           string        `json:"type"`
	SessionId      string        `json:"sessionId"`
	ServerId       string        `json:"serverId"`
	Seq            uint64        `json:"seq"`
	Kind           string        `json:"kind,omitempty"`
	GroupId        string        `json:"groupId,omitempty"`
	MaxConnections *uint         `json:"maxConnections,omitempty"`
	Instance       *wireInstance `json:"instance,omitempty"`
	InstanceKey    *wireInstanceKey `json:"instanceKey,omitempty"`
}

// EventCodec implements Codec[Event] for the session-state topic.
type EventCodec struct{}

func (EventCodec) Encode(b *bytes.Buffer, e Event) error {
	w := wireEnvelope{
		Type:      e.Kind.String(),
		SessionId: string(e.SessionId),
		ServerId:  string(e.ServerId),
		Seq:       e.Seq,
	}
	switch e.Kind {
	case SessionCreated:
		w.Kind = kindToWire(e.SessionKind)
		w.GroupId = string(e.GroupId)
		mc := e.MaxConnections
		w.MaxConnections = &mc
	case InstanceAdded:
		wi := instanceToWire(e.Instance)
		w.Instance = &wi
	case InstanceRemoved:
		wk := instanceKeyToWire(e.RemovedKey)
		w.InstanceKey = &wk
	case SessionRemoved:
		// identity only, already set above
	default:
		return fmt.Errorf("session: cannot encode unknown event kind %v", e.Kind)
	}

	stream := wireJson.BorrowStream(b)
	defer wireJson.ReturnStream(stream)
	stream.WriteVal(w)
	return stream.Flush()
}

func (EventCodec) Decode(data []byte) (Event, error) {
	var w wireEnvelope
	iter := wireJson.BorrowIterator(data)
	defer wireJson.ReturnIterator(iter)
	iter.ReadVal(&w)
	if iter.Error != nil {
		return Event{}, fmt.Errorf("session: decode envelope: %w", iter.Error)
	}

	e := Event{
		SessionId: ids.SessionId(w.SessionId),
		ServerId:  ids.ServerId(w.ServerId),
		Seq:       w.Seq,
	}
	switch w.Type {
	case SessionCreated.String():
		e.Kind = SessionCreated
		kind, err := wireToKind(w.Kind)
		if err != nil {
			return Event{}, err
		}
		e.SessionKind = kind
		e.GroupId = ids.GroupId(w.GroupId)
		if w.MaxConnections != nil {
			e.MaxConnections = *w.MaxConnections
		}
	case InstanceAdded.String():
		e.Kind = InstanceAdded
		if w.Instance == nil {
			return Event{}, fmt.Errorf("session: InstanceAdded envelope missing instance")
		}
		inst, err := wireToInstance(*w.Instance)
		if err != nil {
			return Event{}, err
		}
		e.Instance = inst
	case InstanceRemoved.String():
		e.Kind = InstanceRemoved
		if w.InstanceKey == nil {
			return Event{}, fmt.Errorf("session: InstanceRemoved envelope missing instanceKey")
		}
		key, err := wireToInstanceKey(*w.InstanceKey)
		if err != nil {
			return Event{}, err
		}
		e.RemovedKey = key
	case SessionRemoved.String():
		e.Kind = SessionRemoved
	default:
		return Event{}, fmt.Errorf("session: unknown envelope type %q", w.Type)
	}
	return e, nil
}
