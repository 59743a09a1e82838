package commitstack

import (
	"context"
	"time"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/logging"
)

// runAutoCommit is the age-based fallback from §4.E: a periodic sweep that
// commits any entry that has sat unacknowledged for AutoCommitMaxAge,
// bounding the at-least-once redelivery window for silent clients. It runs
// alongside the owning stream's goroutines and takes the same Stack mutex.
func (s *Stack) runAutoCommit() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.AutoCommitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepAged()
		}
	}
}

// sweepAged commits every partition's oldest eligible run: entries are
// ordered by offset within a partition, which tracks delivery order, so the
// newest entry still at or past AutoCommitMaxAge is also the highest offset
// that's safe to commit in one call.
func (s *Stack) sweepAged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	cutoff := time.Now().Add(-s.cfg.AutoCommitMaxAge)

	for p, tree := range s.byPartition {
		var commitThrough ids.Offset
		found := false
		tree.Ascend(func(item *entry) bool {
			if item.EnqueuedAt.After(cutoff) {
				return false
			}
			commitThrough = item.Offset
			found = true
			return true
		})
		if !found {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.commitThroughLocked(ctx, p, commitThrough, "auto-commit-age"); err != nil {
			logging.L().Warnf("commitstack: auto-commit for %s partition %d failed: %v", s.owner, p, err)
		}
		cancel()
	}
}
