package socket

import (
	"context"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/logging"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/wsconn"
)

// producerStream reads record frames off one WebSocket connection and
// publishes each to Kafka. A malformed frame is a protocol violation and
// ends the stream; an individual publish failure is logged and the stream
// continues, since one bad record shouldn't cost the client every
// subsequent one.
type producerStream struct {
	id     ids.FullProducerId
	topic  ids.TopicName
	conn   *wsconn.Conn
	client *kgo.Client
}

func (s *producerStream) Run(ctx context.Context) {
	for {
		select {
		case msg, ok := <-s.conn.Inbound:
			if !ok {
				return
			}
			frame, err := decodeProduce(msg)
			if err != nil {
				logging.L().Warnf("socket: producer %s sent unparseable frame, closing: %v", s.id, err)
				_ = s.conn.Close()
				return
			}
			s.publish(ctx, frame)
		case <-ctx.Done():
			return
		}
	}
}

func (s *producerStream) publish(ctx context.Context, f produceFrame) {
	record := &kgo.Record{Topic: string(s.topic), Key: f.Key, Value: f.Value}
	for k, v := range f.Headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	done := make(chan error, 1)
	s.client.Produce(ctx, record, func(_ *kgo.Record, err error) { done <- err })
	select {
	case err := <-done:
		if err != nil {
			logging.L().Errorf("socket: producer %s publish to %s failed: %v", s.id, s.topic, err)
		}
	case <-ctx.Done():
	}
}
