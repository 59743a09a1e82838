package session

import (
	"context"
	"time"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
)

// requestKind tags the six RPCs the Handler serves through its mailbox;
// awaitUpTo, the remaining §4.D RPC, travels on its own channel (awaitCh).
type requestKind int

const (
	reqInitSession requestKind = iota
	reqAddConsumer
	reqAddProducer
	reqRemoveConsumer
	reqRemoveProducer
	reqSessionFor
)

// request is a single message in the handler's mailbox. Exactly one reply is
// ever sent on reply, then reply is never touched again — callers must not
// receive from it twice.
type request struct {
	ctx    context.Context
	kind   requestKind
	reply  chan OpResult

	sessionId      ids.SessionId
	initKind       Kind
	groupId        ids.GroupId
	maxConnections uint
	explicitMax    bool

	consumerId ids.FullConsumerId
	producerId ids.FullProducerId
	serverId   ids.ServerId
}

// send enqueues req on the mailbox, respecting both the request's own
// deadline and the handler's shutdown signal, and waits for the reply. This
// is the only way a caller interacts with the single-writer map.
func (h *Handler) send(req request) OpResult {
	start := time.Now()
	req.reply = make(chan OpResult, 1)
	select {
	case h.mailbox <- req:
	case <-req.ctx.Done():
		return Incomplete("session handler: request timed out before it was accepted: " + req.ctx.Err().Error())
	case <-h.runStatus.Done():
		return Incomplete("session handler: handler is shutting down")
	}

	select {
	case res := <-req.reply:
		if h.metrics != nil {
			h.metrics.ObserveRPCLatency(time.Since(start))
		}
		return res
	case <-req.ctx.Done():
		// The handler may still pick this request off the mailbox and apply
		// it later; per §5 the caller must tolerate that "at-most-once for
		// the client, at-least-once for the cluster" outcome.
		return Incomplete("session handler: request timed out awaiting response: " + req.ctx.Err().Error())
	case <-h.runStatus.Done():
		return Incomplete("session handler: handler is shutting down")
	}
}
