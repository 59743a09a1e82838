package commitstack

import (
	"context"
	"sync"

	"github.com/twmb/franz-go/pkg/kadm"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/metrics"
)

// Manager owns one Stack per active consumer socket and is the handle the
// socket lifecycle glue (§4.F) and process shutdown path reach for. It does
// not itself serialize access to any individual Stack — that's the owning
// stream's job — it only guards the registry of which stacks currently
// exist.
type Manager struct {
	admin   *kadm.Client
	cfg     Config
	metrics *metrics.Registry

	mu     sync.Mutex
	stacks map[ids.FullConsumerId]*Stack
}

func NewManager(admin *kadm.Client, cfg Config, reg *metrics.Registry) *Manager {
	return &Manager{
		admin:   admin,
		cfg:     cfg,
		metrics: reg,
		stacks:  make(map[ids.FullConsumerId]*Stack),
	}
}

// Open creates and registers a Stack for id, committing against topic under
// id.GroupId, using the Manager's default Config. Opening a second stack for
// an id that already has one replaces it without flushing the old one —
// callers are expected to have already removed the prior socket via the
// session handler before reusing an id.
func (m *Manager) Open(id ids.FullConsumerId, topic ids.TopicName) *Stack {
	return m.OpenWithConfig(id, topic, m.cfg)
}

// OpenWithConfig is Open with a per-socket Config override, used when a
// request's own autoCommit query parameter (§6) disagrees with the
// process-wide default.
func (m *Manager) OpenWithConfig(id ids.FullConsumerId, topic ids.TopicName, cfg Config) *Stack {
	s := New(id, topic, NewKafkaCommitter(m.admin, id.GroupId), cfg, m.metrics)
	m.mu.Lock()
	m.stacks[id] = s
	m.mu.Unlock()
	return s
}

// DefaultStackConfig returns the Config new stacks are opened with absent an
// override.
func (m *Manager) DefaultStackConfig() Config { return m.cfg }

// Close flushes and unregisters the stack for id. Idempotent: closing an id
// with no open stack is a no-op, matching the socket lifecycle's requirement
// that cleanup runs exactly once but tolerates being invoked defensively.
func (m *Manager) Close(ctx context.Context, id ids.FullConsumerId) error {
	m.mu.Lock()
	s, ok := m.stacks[id]
	if ok {
		delete(m.stacks, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// CloseAll flushes every open stack. Called once on process shutdown.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	stacks := make([]*Stack, 0, len(m.stacks))
	for _, s := range m.stacks {
		stacks = append(stacks, s)
	}
	m.stacks = make(map[ids.FullConsumerId]*Stack)
	m.mu.Unlock()

	var firstErr error
	for _, s := range stacks {
		if err := s.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
