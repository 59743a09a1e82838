package session

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
)

// awaitRequest asks the mailbox goroutine to signal done once every
// partition's consumed watermark has reached the corresponding offset in
// targets. It is the mechanism behind awaitUpTo(): "wait until the local
// view has caught up to the tail of the log at call time."
type awaitRequest struct {
	targets map[int32]int64
	done    chan struct{}
}

// fetchEndOffsets asks the broker for the current (as of now) end offset of
// every partition of the session-state topic. It talks to the broker
// directly via the admin client rather than going through the mailbox, so it
// never contends with in-flight mutation RPCs.
func (h *Handler) fetchEndOffsets(ctx context.Context) (map[int32]int64, error) {
	admin := kadm.NewClient(h.producer)
	offsets, err := admin.ListEndOffsets(ctx, h.cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("session: list end offsets: %w", err)
	}
	targets := make(map[int32]int64)
	offsets.Each(func(o kadm.ListedOffset) {
		if o.Err != nil {
			return
		}
		// ListedOffset.Offset is the next offset that would be written; an
		// empty partition reports 0, which a watermark of -1 (nothing
		// consumed yet) trivially satisfies once seen as >= 0 records.
		targets[o.Partition] = o.Offset
	})
	return targets, nil
}

// satisfied reports whether the handler's current watermarks already meet
// every target. Missing partitions (not yet assigned/consumed at all) are
// treated as watermark -1.
func (h *Handler) satisfied(targets map[int32]int64) bool {
	for partition, target := range targets {
		if target == 0 {
			continue // nothing has ever been written to this partition
		}
		watermark, ok := h.watermarks[partition]
		if !ok {
			watermark = -1
		}
		if watermark < target-1 {
			return false
		}
	}
	return true
}

// AwaitUpTo blocks until the handler's in-memory view has caught up to the
// tail of the session-state log as of the moment this call was made, or
// until ctx is done, whichever comes first.
func (h *Handler) AwaitUpTo(ctx context.Context) error {
	targets, err := h.fetchEndOffsets(ctx)
	if err != nil {
		return err
	}
	req := awaitRequest{targets: targets, done: make(chan struct{})}
	select {
	case h.awaitCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.runStatus.Done():
		return fmt.Errorf("session: handler stopped")
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.runStatus.Done():
		return fmt.Errorf("session: handler stopped")
	}
}
