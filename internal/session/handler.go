package session

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/logging"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/metrics"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/sak"
)

// Handler is the Session Handler actor from §4.D: a single-threaded,
// message-serialized owner of Map<SessionId, Session>, folded from the
// replicated log and exposed to local socket handlers as an asynchronous
// request/response protocol. Every exported method is safe to call
// concurrently from many goroutines; all of them funnel through the mailbox
// to the one goroutine that actually touches the map.
type Handler struct {
	cfg      HandlerConfig
	serverId ids.ServerId

	consumerClient *kgo.Client
	producer       *kgo.Client

	mailbox  chan request
	fromLog  chan logRecord
	awaitCh  chan awaitRequest
	caughtUp chan struct{}

	runStatus sak.RunStatus
	done      chan struct{}

	onEvicted EvictionHandler
	metrics   *metrics.Registry
	seq       uint64

	// mailbox-goroutine-owned state; never touched from any other goroutine.
	sessions   map[ids.SessionId]Session
	watermarks map[int32]int64
	awaiters   []awaitRequest
	pending    map[pendingKey]request
}

// pendingKey correlates a record this handler just produced with the copy
// its own log consumer hands back later. The handler never replies to a
// mutation RPC off the back of its own publish ack — only off the back of
// that same event coming around through the log, so every node (including
// the publisher) learns the outcome from the one authoritative, totally
// ordered source (§4.D "Conflict resolution"). Replying eagerly would let
// two nodes racing for the same slot each apply their own add locally before
// either has seen the other's, so both independently (and wrongly) believe
// they need to compensate the other's request instead of their own.
type pendingKey struct {
	partition int32
	offset    int64
}

// NewHandler constructs a Handler. It does not start consuming or serving
// requests; call Start for that.
func NewHandler(serverId ids.ServerId, cluster Cluster, cfg HandlerConfig, onEvicted EvictionHandler, reg *metrics.Registry) (*Handler, error) {
	if onEvicted == nil {
		onEvicted = noopEviction
	}
	// ManualPartitioner hands partition choice to publish() itself: every
	// event for a session must land on the same partition regardless of its
	// per-instance compaction key, so that every node's consumer observes
	// the full set of a session's events in one single, totally ordered
	// sequence rather than split (and independently, inconsistently
	// interleaved) across partitions — the property §4.D's conflict
	// resolution depends on. The teacher uses the identical option for its
	// change-log producers (streams/change_log.go) for the same reason:
	// changelog partitioning must mirror source partitioning, not follow
	// the record key.
	producer, err := newClient(cluster, kgo.AllowAutoTopicCreation(), kgo.RecordPartitioner(kgo.ManualPartitioner()))
	if err != nil {
		return nil, fmt.Errorf("session: create producer client: %w", err)
	}

	h := &Handler{
		cfg:        cfg,
		serverId:   serverId,
		producer:   producer,
		mailbox:    make(chan request, cfg.MailboxSize),
		fromLog:    make(chan logRecord, cfg.MailboxSize),
		awaitCh:    make(chan awaitRequest, 16),
		caughtUp:   make(chan struct{}),
		runStatus:  sak.NewRunStatus(context.Background()),
		done:       make(chan struct{}),
		onEvicted:  onEvicted,
		metrics:    reg,
		sessions:   make(map[ids.SessionId]Session),
		watermarks: make(map[int32]int64),
		pending:    make(map[pendingKey]request),
	}

	consumerClient, err := newConsumerClient(cluster, cfg.Topic)
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("session: create consumer client: %w", err)
	}
	h.consumerClient = consumerClient
	return h, nil
}

func newConsumerClient(cluster Cluster, topic string) (*kgo.Client, error) {
	return newClient(cluster,
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.FetchIsolationLevel(kgo.ReadUncommitted()),
		kgo.DisableAutoCommit(),
	)
}

// Start ensures the topic exists, fetches the startup high watermark,
// launches the log consumer goroutine, and runs the mailbox loop until Stop
// is called. Start blocks until the handler has caught up to the
// high-watermark that existed at the time Start was called — the one-time
// barrier required by §4.D before any request may be served.
func (h *Handler) Start(ctx context.Context) error {
	if err := ensureTopic(ctx, h.producer, h.cfg); err != nil {
		return err
	}
	targets, err := h.fetchEndOffsets(ctx)
	if err != nil {
		return err
	}

	go runConsumeLoop(h.runStatus.Ctx(), h.consumerClient, h.fromLog)
	go h.run(targets)

	select {
	case <-h.caughtUp:
		logging.L().Infof("session: handler for %s caught up to startup watermark", h.serverId)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.runStatus.Done():
		return fmt.Errorf("session: handler stopped before catching up")
	}
}

// Stop halts the mailbox loop, closes the log clients and returns once the
// mailbox goroutine has exited. Requests still queued in the mailbox are not
// served.
func (h *Handler) Stop() {
	h.runStatus.Halt()
	<-h.done
	h.consumerClient.Close()
	h.producer.Close()
}

// run is the single-writer mailbox loop. Everything that touches
// h.sessions/h.watermarks/h.awaiters happens here and only here.
func (h *Handler) run(startupTargets map[int32]int64) {
	defer close(h.done)

	caughtUpAlready := len(startupTargets) == 0 || h.satisfied(startupTargets)
	if caughtUpAlready {
		close(h.caughtUp)
	}

	for {
		select {
		case <-h.runStatus.Done():
			return

		case rec := <-h.fromLog:
			h.consume(rec)
			if !caughtUpAlready && h.satisfied(startupTargets) {
				caughtUpAlready = true
				close(h.caughtUp)
			}
			h.wakeAwaiters()

		case req := <-h.mailbox:
			h.handleRequest(req)

		case awReq := <-h.awaitCh:
			if h.satisfied(awReq.targets) {
				close(awReq.done)
			} else {
				h.awaiters = append(h.awaiters, awReq)
			}
		}
	}
}

func (h *Handler) consume(rec logRecord) {
	h.watermarks[rec.partition] = rec.offset
	if rec.decodeErr != nil {
		logging.L().Warnf("session: dropping undecodable record at partition %d offset %d: %v", rec.partition, rec.offset, rec.decodeErr)
		return
	}
	changed, compensation := applyEvent(h.sessions, rec.event)
	h.resolvePending(rec, changed, compensation)

	if rec.event.Kind == InstanceRemoved && rec.event.ServerId == h.serverId {
		h.onEvicted(rec.event.SessionId, rec.event.RemovedKey)
	}

	if compensation != nil {
		if h.metrics != nil {
			h.metrics.InstancesEvicted.Inc()
		}
		compensation.Seq = h.nextSeq()
		ctx, cancel := context.WithTimeout(h.runStatus.Ctx(), h.cfg.RPCTimeout)
		if _, _, err := h.publish(ctx, *compensation); err != nil {
			logging.L().Errorf("session: failed to publish compensating removal for %s: %v", compensation.SessionId, err)
		}
		cancel()
	}
}

// resolvePending replies to the local RPC (if any) whose own publish is what
// produced rec, now that rec has come back through the log and applyEvent
// has folded it into h.sessions. This is the only place a mutation RPC whose
// event was published is replied to — see the pendingKey doc comment for
// why. Rejected results and publish failures are replied to directly by the
// request handlers.
func (h *Handler) resolvePending(rec logRecord, changed bool, compensation *Event) {
	key := pendingKey{partition: rec.partition, offset: rec.offset}
	req, ok := h.pending[key]
	if !ok {
		return
	}
	delete(h.pending, key)

	switch rec.event.Kind {
	case SessionCreated:
		if changed && h.metrics != nil {
			h.metrics.SessionsCreated.Inc()
		}
		req.reply <- updated(h.sessions[rec.event.SessionId])

	case InstanceAdded:
		switch {
		case compensation != nil:
			// This node's own add lost the capacity race once replayed in
			// true log order; the loser is the one being compensated.
			if h.metrics != nil {
				h.metrics.InstancesRejected.WithLabelValues("quota").Inc()
			}
			req.reply <- limitReached(h.sessions[rec.event.SessionId])
		case changed:
			if h.metrics != nil {
				h.metrics.InstancesAdded.WithLabelValues(kindLabel(rec.event.Instance.Kind())).Inc()
			}
			req.reply <- updated(h.sessions[rec.event.SessionId])
		default:
			req.reply <- unchanged(h.sessions[rec.event.SessionId])
		}

	case InstanceRemoved:
		if changed && h.metrics != nil {
			h.metrics.InstancesRemoved.WithLabelValues(kindLabel(instanceKindOf(rec.event.RemovedKey))).Inc()
		}
		if s, ok := h.sessions[rec.event.SessionId]; ok {
			req.reply <- updated(s)
		} else {
			req.reply <- updated(NewSession(rec.event.SessionId, instanceKindOf(rec.event.RemovedKey), req.groupId, req.maxConnections, false))
		}

	default:
		req.reply <- Incomplete(fmt.Sprintf("session: unexpected pending request for event kind %s", rec.event.Kind))
	}
}

func (h *Handler) wakeAwaiters() {
	if len(h.awaiters) == 0 {
		return
	}
	remaining := h.awaiters[:0]
	for _, aw := range h.awaiters {
		if h.satisfied(aw.targets) {
			close(aw.done)
		} else {
			remaining = append(remaining, aw)
		}
	}
	h.awaiters = remaining
}

func (h *Handler) handleRequest(req request) {
	switch req.kind {
	case reqInitSession:
		h.handleInit(req)
	case reqAddConsumer:
		h.handleAdd(req, NewConsumerInstance(req.consumerId, req.serverId))
	case reqAddProducer:
		h.handleAdd(req, NewProducerInstance(req.producerId, req.serverId))
	case reqRemoveConsumer:
		h.handleRemove(req, ConsumerKey(req.consumerId))
	case reqRemoveProducer:
		h.handleRemove(req, ProducerKey(req.producerId))
	case reqSessionFor:
		h.handleSessionFor(req)
	default:
		req.reply <- Incomplete(fmt.Sprintf("session: unknown request kind %d", req.kind))
	}
}

func (h *Handler) handleInit(req request) {
	if existing, ok := h.sessions[req.sessionId]; ok {
		req.reply <- unchanged(existing)
		return
	}
	e := NewSessionCreatedEvent(req.sessionId, req.initKind, req.groupId, req.maxConnections, h.serverId, h.nextSeq())
	partition, offset, err := h.publish(req.ctx, e)
	if err != nil {
		req.reply <- Incomplete("session: failed to publish SessionCreated: " + err.Error())
		return
	}
	h.pending[pendingKey{partition: partition, offset: offset}] = req
}

func (h *Handler) handleAdd(req request, inst Instance) {
	current, ok := h.sessions[req.sessionId]
	if !ok {
		current = NewSession(req.sessionId, inst.Kind(), req.groupId, req.maxConnections, req.explicitMax)
	}
	result := AddInstance(current, inst)
	if result.Kind != Updated {
		if h.metrics != nil && result.Kind == InstanceLimitReached {
			h.metrics.InstancesRejected.WithLabelValues("quota").Inc()
		}
		req.reply <- result
		return
	}
	e := NewInstanceAddedEvent(req.sessionId, inst, req.serverId, h.nextSeq())
	partition, offset, err := h.publish(req.ctx, e)
	if err != nil {
		req.reply <- Incomplete("session: failed to publish InstanceAdded: " + err.Error())
		return
	}
	// Do not apply or reply here: this node's own view that there was room
	// for inst was necessarily taken before this publish, and may already be
	// stale by the time the broker acks it. The authoritative answer — which
	// of possibly several nodes racing for the same slot actually won —
	// is only known once this event is replayed back in true log order, in
	// resolvePending.
	h.pending[pendingKey{partition: partition, offset: offset}] = req
}

func kindLabel(k Kind) string {
	if k == Consumer {
		return "consumer"
	}
	return "producer"
}

func (h *Handler) handleRemove(req request, key InstanceKey) {
	current, ok := h.sessions[req.sessionId]
	if !ok {
		req.reply <- unchanged(NewSession(req.sessionId, instanceKindOf(key), req.groupId, req.maxConnections, false))
		return
	}
	result := RemoveInstance(current, key)
	if result.Kind != Updated {
		req.reply <- result
		return
	}
	e := NewInstanceRemovedEvent(req.sessionId, key, req.serverId, h.nextSeq())
	partition, offset, err := h.publish(req.ctx, e)
	if err != nil {
		req.reply <- Incomplete("session: failed to publish InstanceRemoved: " + err.Error())
		return
	}
	h.pending[pendingKey{partition: partition, offset: offset}] = req
}

func (h *Handler) handleSessionFor(req request) {
	s, ok := h.sessions[req.sessionId]
	if !ok {
		req.reply <- NotFound(req.sessionId)
		return
	}
	req.reply <- updated(s)
}

func instanceKindOf(key InstanceKey) Kind {
	if key.IsConsumer() {
		return Consumer
	}
	return Producer
}

// --- public RPC surface -----------------------------------------------

func (h *Handler) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, h.cfg.RPCTimeout)
}

// InitSession creates the session if absent (emitting SessionCreated) or
// returns the existing one unchanged. kind/groupId/maxConnections are only
// used when the session does not already exist.
func (h *Handler) InitSession(ctx context.Context, sessionId ids.SessionId, kind Kind, groupId ids.GroupId, maxConnections uint) OpResult {
	ctx, cancel := h.deadline(ctx)
	defer cancel()
	return h.send(request{ctx: ctx, kind: reqInitSession, sessionId: sessionId, initKind: kind, groupId: groupId, maxConnections: maxConnections, explicitMax: true})
}

func (h *Handler) AddConsumer(ctx context.Context, id ids.FullConsumerId, server ids.ServerId) OpResult {
	ctx, cancel := h.deadline(ctx)
	defer cancel()
	return h.send(request{ctx: ctx, kind: reqAddConsumer, sessionId: ids.SessionId(id.GroupId), groupId: id.GroupId, consumerId: id, serverId: server})
}

func (h *Handler) AddProducer(ctx context.Context, id ids.FullProducerId, server ids.ServerId) OpResult {
	ctx, cancel := h.deadline(ctx)
	defer cancel()
	return h.send(request{ctx: ctx, kind: reqAddProducer, sessionId: ids.SessionId(id.ProducerId), producerId: id, serverId: server})
}

func (h *Handler) RemoveConsumer(ctx context.Context, id ids.FullConsumerId, server ids.ServerId) OpResult {
	ctx, cancel := h.deadline(ctx)
	defer cancel()
	return h.send(request{ctx: ctx, kind: reqRemoveConsumer, sessionId: ids.SessionId(id.GroupId), groupId: id.GroupId, consumerId: id, serverId: server})
}

func (h *Handler) RemoveProducer(ctx context.Context, id ids.FullProducerId, server ids.ServerId) OpResult {
	ctx, cancel := h.deadline(ctx)
	defer cancel()
	return h.send(request{ctx: ctx, kind: reqRemoveProducer, sessionId: ids.SessionId(id.ProducerId), producerId: id, serverId: server})
}

func (h *Handler) SessionFor(ctx context.Context, sessionId ids.SessionId) OpResult {
	ctx, cancel := h.deadline(ctx)
	defer cancel()
	return h.send(request{ctx: ctx, kind: reqSessionFor, sessionId: sessionId})
}
