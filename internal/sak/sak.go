// Package sak ("swiss army knife") holds small generic helpers: pointer,
// min/max and map/slice utilities, plus the RunStatus halt signal that the
// session package's handler is built on.
package sak

import "context"

// Ptr returns a pointer to a copy of v. Handy for optional struct fields
// that are filled in from literals, e.g.
// ids.FullProducerId{ProducerId: "p1", InstanceId: sak.Ptr(ids.ProducerInstanceId("i1"))}.
func Ptr[T any](v T) *T {
	return &v
}

type Signed interface {
	~int | ~int16 | ~int32 | ~int64 | ~int8
}

type Number interface {
	Signed | ~uint | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

func Min[T Number](a, b T) T {
	if a < b {
		return a
	}
	return b
}

func Max[T Number](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// MapValuesToSlice extracts all values from m. Useful for snapshotting a map
// that is otherwise guarded by a mutex.
func MapValuesToSlice[K comparable, V any](m map[K]V) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// MapKeysToSlice extracts all keys from m.
func MapKeysToSlice[K comparable, V any](m map[K]V) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Must panics on a non-nil error. Reserved for invariants that are truly
// unrecoverable (e.g. malformed compiled-in defaults), never for request-path
// errors.
func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// RunStatus wraps a cancellable context for the common "is this subsystem
// still running, or has it been told to halt" check used by long-lived
// goroutines (the session handler's mailbox loop and its log consumer).
type RunStatus struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRunStatus(parent context.Context) RunStatus {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return RunStatus{ctx, cancel}
}

func (rs RunStatus) Ctx() context.Context { return rs.ctx }
func (rs RunStatus) Err() error           { return rs.ctx.Err() }
func (rs RunStatus) Done() <-chan struct{} { return rs.ctx.Done() }
func (rs RunStatus) Running() bool        { return rs.ctx.Err() == nil }
func (rs RunStatus) Halt()                { rs.cancel() }

// Fork creates a child RunStatus using rs.Ctx() as the parent, so halting the
// parent also halts the child, but halting the child leaves the parent alone.
func (rs RunStatus) Fork() RunStatus {
	return NewRunStatus(rs.ctx)
}
