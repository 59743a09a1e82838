// Package ids defines the opaque identifier newtypes shared across the
// session registry: server, session, group/client and producer identity, and
// the Kafka coordinates a WebSocket message carries. Keeping them as
// distinct string types (rather than passing bare strings around) means the
// compiler catches a ServerId accidentally passed where a SessionId is
// expected.
package ids

import "fmt"

type ServerId string

type SessionId string

type GroupId string

type ClientId string

type ProducerId string

type ProducerInstanceId string

type TopicName string

type Partition int32

type Offset int64

type Timestamp int64

// FullConsumerId globally identifies one consumer socket: a client id inside
// a consumer group.
type FullConsumerId struct {
	GroupId  GroupId
	ClientId ClientId
}

func (id FullConsumerId) String() string {
	return fmt.Sprintf("%s/%s", id.GroupId, id.ClientId)
}

// FullProducerId globally identifies one producer socket: a producer id with
// an optional instance discriminator (multiple tabs/processes sharing one
// logical producer id but each holding their own socket).
type FullProducerId struct {
	ProducerId ProducerId
	InstanceId *ProducerInstanceId
}

func (id FullProducerId) String() string {
	if id.InstanceId == nil {
		return string(id.ProducerId)
	}
	return fmt.Sprintf("%s/%s", id.ProducerId, *id.InstanceId)
}

// FullClientId is the tagged union of FullConsumerId and FullProducerId. Only
// one of Consumer/Producer is ever populated; IsConsumer reports which.
type FullClientId struct {
	Consumer   *FullConsumerId
	Producer   *FullProducerId
}

func ConsumerClientId(id FullConsumerId) FullClientId {
	return FullClientId{Consumer: &id}
}

func ProducerClientId(id FullProducerId) FullClientId {
	return FullClientId{Producer: &id}
}

func (f FullClientId) IsConsumer() bool { return f.Consumer != nil }

func (f FullClientId) String() string {
	switch {
	case f.Consumer != nil:
		return f.Consumer.String()
	case f.Producer != nil:
		return f.Producer.String()
	default:
		return ""
	}
}

// WsMessageId identifies one record as delivered over a WebSocket frame, so a
// client can acknowledge it unambiguously and out of order.
type WsMessageId struct {
	Topic     TopicName
	Partition Partition
	Offset    Offset
	Timestamp Timestamp
}

func (w WsMessageId) String() string {
	return fmt.Sprintf("%s[%d]@%d", w.Topic, w.Partition, w.Offset)
}

// TopicPartition is the (topic, partition) coordinate the commit stack and
// the session-state log both key their per-partition ordering on.
type TopicPartition struct {
	Topic     TopicName
	Partition Partition
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s[%d]", tp.Topic, tp.Partition)
}
