package session

import (
	"bytes"
	"testing"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
)

func roundTrip(t *testing.T, e Event) Event {
	t.Helper()
	var buf bytes.Buffer
	var codec EventCodec
	if err := codec.Encode(&buf, e); err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := codec.Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return decoded
}

func TestCodec_RoundTrip_SessionCreated(t *testing.T) {
	e := NewSessionCreatedEvent("g1", Consumer, "g1", 2, "node-a", 7)
	got := roundTrip(t, e)
	if got.Kind != SessionCreated || got.SessionId != e.SessionId || got.SessionKind != e.SessionKind ||
		got.GroupId != e.GroupId || got.MaxConnections != e.MaxConnections || got.ServerId != e.ServerId || got.Seq != e.Seq {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestCodec_RoundTrip_InstanceAdded_Consumer(t *testing.T) {
	inst := NewConsumerInstance(fcid("g1", "c1"), "node-a")
	e := NewInstanceAddedEvent("g1", inst, "node-a", 1)
	got := roundTrip(t, e)
	if got.Kind != InstanceAdded || got.Instance.Kind() != Consumer {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Instance.ConsumerId() != inst.ConsumerId() || got.Instance.ServerId() != inst.ServerId() {
		t.Fatalf("instance identity mismatch: got %+v, want %+v", got.Instance, inst)
	}
}

func TestCodec_RoundTrip_InstanceAdded_ProducerWithInstanceId(t *testing.T) {
	instanceId := ids.ProducerInstanceId("i1")
	inst := NewProducerInstance(ids.FullProducerId{ProducerId: "pX", InstanceId: &instanceId}, "node-b")
	e := NewInstanceAddedEvent("pX", inst, "node-b", 2)
	got := roundTrip(t, e)
	if got.Instance.Kind() != Producer {
		t.Fatalf("expected producer instance, got %s", got.Instance.Kind())
	}
	gotId := got.Instance.ProducerId()
	if gotId.ProducerId != "pX" || gotId.InstanceId == nil || *gotId.InstanceId != "i1" {
		t.Fatalf("producer id round trip mismatch: %+v", gotId)
	}
}

func TestCodec_RoundTrip_InstanceRemoved(t *testing.T) {
	e := NewInstanceRemovedEvent("g1", ConsumerKey(fcid("g1", "c1")), "node-a", 3)
	got := roundTrip(t, e)
	if got.Kind != InstanceRemoved || !got.RemovedKey.IsConsumer() {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.RemovedKey.ConsumerId() != fcid("g1", "c1") {
		t.Fatalf("removed key mismatch: %+v", got.RemovedKey)
	}
}

func TestCodec_RoundTrip_SessionRemoved(t *testing.T) {
	e := NewSessionRemovedEvent("g1", "node-a", 4)
	got := roundTrip(t, e)
	if got.Kind != SessionRemoved || got.SessionId != "g1" || got.ServerId != "node-a" || got.Seq != 4 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

// Unknown future fields must be ignored deterministically rather than
// causing a decode error.
func TestCodec_UnknownFieldsIgnored(t *testing.T) {
	raw := []byte(`{"type":"SessionRemoved","sessionId":"g1","serverId":"node-a","seq":5,"futureField":{"nested":true}}`)
	var codec EventCodec
	got, err := codec.Decode(raw)
	if err != nil {
		t.Fatalf("decode with unknown field should succeed, got: %v", err)
	}
	if got.Kind != SessionRemoved || got.SessionId != "g1" {
		t.Fatalf("unexpected decode result: %+v", got)
	}
}

func TestCodec_UnknownType_IsError(t *testing.T) {
	raw := []byte(`{"type":"SomethingElse","sessionId":"g1"}`)
	var codec EventCodec
	if _, err := codec.Decode(raw); err == nil {
		t.Fatalf("expected decode error for unknown envelope type")
	}
}
