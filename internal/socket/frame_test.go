package socket

import (
	"testing"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
)

func TestEncodeDecodeDelivery_RoundTripsAck(t *testing.T) {
	id := ids.WsMessageId{Topic: "t1", Partition: 2, Offset: 42, Timestamp: 1700000000000}
	frame, err := encodeDelivery(id, []byte("key"), []byte("value"), map[string]string{"h1": "v1"})
	if err != nil {
		t.Fatalf("encodeDelivery: %v", err)
	}

	ack, err := decodeAck(frame)
	if err != nil {
		t.Fatalf("decodeAck: %v", err)
	}
	if ack != id {
		t.Fatalf("expected ack to round-trip %+v, got %+v", id, ack)
	}
}

func TestDecodeAck_RejectsMalformedFrame(t *testing.T) {
	if _, err := decodeAck([]byte("not json")); err == nil {
		t.Fatalf("expected error for malformed ack frame")
	}
}

func TestDecodeProduce_RoundTripsKeyValueHeaders(t *testing.T) {
	encoded, err := wireJson.Marshal(produceFrame{
		Headers: map[string]string{"trace": "abc"},
		Key:     []byte("k"),
		Value:   []byte("v"),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	f, err := decodeProduce(encoded)
	if err != nil {
		t.Fatalf("decodeProduce: %v", err)
	}
	if string(f.Key) != "k" || string(f.Value) != "v" || f.Headers["trace"] != "abc" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestDecodeProduce_RejectsMalformedFrame(t *testing.T) {
	if _, err := decodeProduce([]byte("{")); err == nil {
		t.Fatalf("expected error for malformed produce frame")
	}
}
