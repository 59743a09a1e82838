package socket

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
)

var wireJson = jsoniter.ConfigCompatibleWithStandardLibrary

// wireMessageId is the on-the-wire WsMessageId, matching §6's "Frame payloads
// ... carrying WsMessageId".
type wireMessageId struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
	Timestamp int64  `json:"timestamp"`
}

func toWireMessageId(id ids.WsMessageId) wireMessageId {
	return wireMessageId{
		Topic:     string(id.Topic),
		Partition: int32(id.Partition),
		Offset:    int64(id.Offset),
		Timestamp: int64(id.Timestamp),
	}
}

func (w wireMessageId) toMessageId() ids.WsMessageId {
	return ids.WsMessageId{
		Topic:     ids.TopicName(w.Topic),
		Partition: ids.Partition(w.Partition),
		Offset:    ids.Offset(w.Offset),
		Timestamp: ids.Timestamp(w.Timestamp),
	}
}

// deliveryFrame is what a consumer socket writes for each record fetched
// from Kafka: coordinates plus key/value/headers, all opaque byte payloads
// base64-encoded by the standard JSON []byte marshaling.
type deliveryFrame struct {
	WsMessageId wireMessageId     `json:"wsMessageId"`
	Headers     map[string]string `json:"headers,omitempty"`
	Key         []byte            `json:"key,omitempty"`
	Value       []byte            `json:"value"`
}

func encodeDelivery(id ids.WsMessageId, key, value []byte, headers map[string]string) ([]byte, error) {
	f := deliveryFrame{WsMessageId: toWireMessageId(id), Headers: headers, Key: key, Value: value}
	return wireJson.Marshal(f)
}

// ackFrame is what a consumer socket reads from the client: an
// acknowledgement of one previously delivered WsMessageId.
type ackFrame struct {
	WsMessageId wireMessageId `json:"wsMessageId"`
}

func decodeAck(data []byte) (ids.WsMessageId, error) {
	var f ackFrame
	if err := wireJson.Unmarshal(data, &f); err != nil {
		return ids.WsMessageId{}, fmt.Errorf("socket: decode ack frame: %w", err)
	}
	return f.WsMessageId.toMessageId(), nil
}

// produceFrame is what a producer socket reads from the client: a record to
// publish, key/value as opaque bytes, with optional headers.
type produceFrame struct {
	Headers map[string]string `json:"headers,omitempty"`
	Key     []byte            `json:"key,omitempty"`
	Value   []byte            `json:"value"`
}

func decodeProduce(data []byte) (produceFrame, error) {
	var f produceFrame
	if err := wireJson.Unmarshal(data, &f); err != nil {
		return produceFrame{}, fmt.Errorf("socket: decode produce frame: %w", err)
	}
	return f, nil
}
