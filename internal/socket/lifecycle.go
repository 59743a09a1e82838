package socket

import (
	"context"
	"fmt"
	"net/http"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/apierr"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/auth"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/commitstack"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/config"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/kafkatopic"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/logging"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/session"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/wsconn"
)

// sendBufferSize bounds how many undelivered frames a socket's write pump
// may queue before Send starts applying backpressure to its producer.
const sendBufferSize = 256

// Server wires together everything the socket lifecycle (§4.F) drives: auth,
// the Session Handler, the Commit Stack manager, and the Kafka cluster the
// proxied topics themselves live on (distinct from the session-state
// cluster connection the Handler owns, though in practice the same seed
// brokers).
type Server struct {
	serverId    ids.ServerId
	handler     *session.Handler
	commitMgr   *commitstack.Manager
	consumerDir auth.Directive
	producerDir auth.Directive
	cluster     kafkatopic.Cluster
	consumerCfg config.ConsumerCfg
	admin       *kgo.Client
}

// NewServer constructs a Server. Both directive parameters may be the same
// value when one auth mode protects every endpoint, which is the common
// case; they are split so a future deployment could, say, require OIDC on
// producers and allow anonymous consumers.
func NewServer(serverId ids.ServerId, handler *session.Handler, commitMgr *commitstack.Manager, consumerDir, producerDir auth.Directive, cluster kafkatopic.Cluster, consumerCfg config.ConsumerCfg) (*Server, error) {
	admin, err := kafkatopic.NewClient(cluster)
	if err != nil {
		return nil, fmt.Errorf("socket: create admin client: %w", err)
	}
	return &Server{
		serverId:    serverId,
		handler:     handler,
		commitMgr:   commitMgr,
		consumerDir: consumerDir,
		producerDir: producerDir,
		cluster:     cluster,
		consumerCfg: consumerCfg,
		admin:       admin,
	}, nil
}

// Close releases the Server's own Kafka admin client. It does not touch the
// Session Handler or Commit Manager, which the caller owns independently.
func (s *Server) Close() { s.admin.Close() }

// Routes returns the two WebSocket endpoints from §6 mounted on a
// *http.ServeMux, so the caller can add further routes (e.g. /metrics)
// before starting the listener. A bare stdlib mux is enough for this route
// count; nothing in the corpus reaches for a router library at this scale.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/socket/out", s.ServeConsumer)
	mux.HandleFunc("/socket/in", s.ServeProducer)
	return mux
}

func (s *Server) ServeConsumer(w http.ResponseWriter, r *http.Request) {
	if _, err := s.consumerDir.Authenticate(r); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	params, err := ParseConsumerParams(r, s.consumerCfg.DefaultRateLimit, s.consumerCfg.DefaultBatchSize)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if params.SocketPayload != PayloadJSON {
		apierr.WriteJSON(w, apierr.New(apierr.KindRequestValidation, r.URL.Path, fmt.Errorf("unsupported socketPayload %q", params.SocketPayload)))
		return
	}

	ctx := r.Context()
	exists, err := kafkatopic.Exists(ctx, s.admin, params.Topic)
	if err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.KindKafkaBroker, r.URL.Path, err))
		return
	}
	if !exists {
		apierr.WriteJSON(w, apierr.New(apierr.KindTopicNotFound, r.URL.Path, nil))
		return
	}

	fullId := params.FullConsumerId()
	result := s.handler.AddConsumer(ctx, fullId, s.serverId)
	if err := s.rejectionFor(result); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	conn, err := wsconn.Upgrade(w, r, sendBufferSize)
	if err != nil {
		logging.L().Warnf("socket: upgrade failed for consumer %s: %v", fullId, err)
		s.cleanupConsumer(fullId)
		return
	}

	client, err := kafkatopic.NewClient(s.cluster,
		kgo.ConsumeTopics(string(params.Topic)),
		kgo.ConsumerGroup(string(params.GroupId)),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		logging.L().Errorf("socket: create consumer client for %s: %v", fullId, err)
		_ = conn.Close()
		s.cleanupConsumer(fullId)
		return
	}

	cfg := s.commitMgr.DefaultStackConfig()
	cfg.AutoCommitEnabled = cfg.AutoCommitEnabled && params.AutoCommit
	stack := s.commitMgr.OpenWithConfig(fullId, params.Topic, cfg)
	stream := &consumerStream{id: fullId, topic: params.Topic, conn: conn, client: client, stack: stack, limiter: newLimiter(params.Rate, params.BatchSize)}

	go func() {
		streamCtx, cancel := context.WithCancel(context.Background())
		go func() {
			<-conn.Done()
			cancel()
		}()
		stream.Run(streamCtx)
		cancel()
		client.Close()
		s.teardownConsumer(fullId, stack)
	}()
}

func (s *Server) ServeProducer(w http.ResponseWriter, r *http.Request) {
	if _, err := s.producerDir.Authenticate(r); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	params, err := ParseProducerParams(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if params.SocketPayload != PayloadJSON {
		apierr.WriteJSON(w, apierr.New(apierr.KindRequestValidation, r.URL.Path, fmt.Errorf("unsupported socketPayload %q", params.SocketPayload)))
		return
	}

	ctx := r.Context()
	fullId := params.FullProducerId()
	result := s.handler.AddProducer(ctx, fullId, s.serverId)
	if err := s.rejectionFor(result); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	conn, err := wsconn.Upgrade(w, r, sendBufferSize)
	if err != nil {
		logging.L().Warnf("socket: upgrade failed for producer %s: %v", fullId, err)
		s.cleanupProducer(fullId)
		return
	}

	client, err := kafkatopic.NewClient(s.cluster, kgo.AllowAutoTopicCreation())
	if err != nil {
		logging.L().Errorf("socket: create producer client for %s: %v", fullId, err)
		_ = conn.Close()
		s.cleanupProducer(fullId)
		return
	}

	stream := &producerStream{id: fullId, topic: params.Topic, conn: conn, client: client}

	go func() {
		streamCtx, cancel := context.WithCancel(context.Background())
		go func() {
			<-conn.Done()
			cancel()
		}()
		stream.Run(streamCtx)
		cancel()
		client.Close()
		s.cleanupProducer(fullId)
	}()
}

// rejectionFor maps an OpResult from the Session Handler onto the matching
// *apierr.Error, or returns nil for the one success case (Updated) that
// permits opening a stream (§4.F step 4).
func (s *Server) rejectionFor(result session.OpResult) error {
	switch result.Kind {
	case session.Updated:
		return nil
	case session.Unchanged:
		return apierr.New(apierr.KindInstanceLimitReached, "", fmt.Errorf("instance already registered"))
	case session.InstanceLimitReached:
		return apierr.New(apierr.KindInstanceLimitReached, "", nil)
	case session.InstanceTypeForSessionIncorrect:
		return apierr.New(apierr.KindInstanceTypeIncorrect, "", nil)
	case session.SessionNotFound:
		return apierr.New(apierr.KindNotFound, "", nil)
	case session.IncompleteOp:
		return apierr.New(apierr.KindIncompleteOp, "", fmt.Errorf(result.Message()))
	default:
		return apierr.New(apierr.KindKafkaBroker, "", fmt.Errorf("unexpected session result %s", result.Kind))
	}
}

// teardownConsumer runs the Commit Stack flush before the idempotent session
// removal, so every committable offset is flushed even if the socket died
// mid-delivery.
func (s *Server) teardownConsumer(id ids.FullConsumerId, stack *commitstack.Stack) {
	ctx := context.Background()
	if err := s.commitMgr.Close(ctx, id); err != nil {
		logging.L().Errorf("socket: flushing commit stack for %s: %v", id, err)
	}
	s.cleanupConsumer(id)
}

func (s *Server) cleanupConsumer(id ids.FullConsumerId) {
	if result := s.handler.RemoveConsumer(context.Background(), id, s.serverId); result.Kind == session.IncompleteOp {
		logging.L().Errorf("socket: remove consumer %s: %s", id, result.Message())
	}
}

func (s *Server) cleanupProducer(id ids.FullProducerId) {
	if result := s.handler.RemoveProducer(context.Background(), id, s.serverId); result.Kind == session.IncompleteOp {
		logging.L().Errorf("socket: remove producer %s: %s", id, result.Message())
	}
}
