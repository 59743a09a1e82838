package socket

import (
	"context"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/time/rate"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/commitstack"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/logging"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/wsconn"
)

// consumerStream pumps records from one Kafka consumer client into one
// WebSocket connection, and acknowledgements the other way into the Commit
// Stack. It is owned exclusively by the goroutine that calls Run; the Commit
// Stack it drives is safe for the concurrent ack reader because Stack itself
// is mutex-protected (§5).
type consumerStream struct {
	id      ids.FullConsumerId
	topic   ids.TopicName
	conn    *wsconn.Conn
	client  *kgo.Client
	stack   *commitstack.Stack
	limiter *rate.Limiter // nil means unlimited
}

func newLimiter(recordsPerSecond, burst int) *rate.Limiter {
	if recordsPerSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = recordsPerSecond
	}
	return rate.NewLimiter(rate.Limit(recordsPerSecond), burst)
}

// Run polls client and forwards each record to conn until ctx is cancelled
// (driven by conn.Done(), see lifecycle.go) or a send or rate-limit wait
// fails; fetch errors are logged and polling continues. It starts its own goroutine to drain acknowledgements from
// conn.Inbound for as long as the connection stays open.
func (s *consumerStream) Run(ctx context.Context) {
	go s.drainAcks(ctx)

	for {
		fetches := s.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			logging.L().Errorf("socket: consumer %s fetch error topic=%s partition=%d: %v", s.id, topic, partition, err)
		})

		var sendErr error
		fetches.EachRecord(func(r *kgo.Record) {
			if sendErr != nil {
				return
			}
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					sendErr = err
					return
				}
			}
			msgId := ids.WsMessageId{
				Topic:     ids.TopicName(r.Topic),
				Partition: ids.Partition(r.Partition),
				Offset:    ids.Offset(r.Offset),
				Timestamp: ids.Timestamp(r.Timestamp.UnixMilli()),
			}
			frame, err := encodeDelivery(msgId, r.Key, r.Value, headersOf(r))
			if err != nil {
				logging.L().Errorf("socket: consumer %s encode delivery: %v", s.id, err)
				return
			}
			if err := s.stack.Enqueue(ctx, commitstack.CommitEntry{
				WsMessageId: msgId,
				Partition:   ids.Partition(r.Partition),
				Offset:      ids.Offset(r.Offset),
				EnqueuedAt:  time.Now(),
			}); err != nil {
				logging.L().Errorf("socket: consumer %s enqueue commit entry: %v", s.id, err)
				return
			}
			// Send blocks under peer backpressure, which stalls this
			// EachRecord loop and therefore the next PollFetches — the proxy
			// never buffers unbounded ahead of a slow client (§5).
			if err := s.conn.Send(frame); err != nil {
				sendErr = err
			}
		})
		if sendErr != nil {
			return
		}
	}
}

func (s *consumerStream) drainAcks(ctx context.Context) {
	for {
		select {
		case msg, ok := <-s.conn.Inbound:
			if !ok {
				return
			}
			id, err := decodeAck(msg)
			if err != nil {
				logging.L().Warnf("socket: consumer %s sent unparseable ack frame: %v", s.id, err)
				continue
			}
			if err := s.stack.Acknowledge(ctx, id); err != nil {
				logging.L().Errorf("socket: consumer %s acknowledge %s: %v", s.id, id, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func headersOf(r *kgo.Record) map[string]string {
	if len(r.Headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		out[h.Key] = string(h.Value)
	}
	return out
}
