// Package logging provides the leveled logger used across the proxy. It is
// deliberately small: an interface the rest of the codebase logs through,
// a stdout implementation good enough for local development, and a level
// filter so the Kafka driver's own chatter can be tuned separately from the
// proxy's.
package logging

import (
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

type Level int

const (
	LevelNone Level = iota
	LevelTrace
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func toKgoLevel(l Level) kgo.LogLevel {
	switch l {
	case LevelTrace, LevelDebug:
		return kgo.LogLevelDebug
	case LevelInfo:
		return kgo.LogLevelInfo
	case LevelWarn:
		return kgo.LogLevelWarn
	case LevelError:
		return kgo.LogLevelError
	}
	return kgo.LogLevelNone
}

// Logger is the interface every package in this module logs through. Plug in
// your own backend by implementing it and calling Init.
type Logger interface {
	Tracef(msg string, args ...any)
	Debugf(msg string, args ...any)
	Infof(msg string, args ...any)
	Warnf(msg string, args ...any)
	Errorf(msg string, args ...any)
}

// StdoutLogger is a Logger that writes RFC3339Nano-timestamped lines to
// stdout. Adequate for local development; production deployments are
// expected to Init a structured logger instead.
type StdoutLogger Level

type lazyTimestamp struct{}

func (lazyTimestamp) String() string { return time.Now().UTC().Format(time.RFC3339Nano) }

var stamp = lazyTimestamp{}

func (l StdoutLogger) Tracef(msg string, args ...any) { l.emit(LevelTrace, "TRACE", msg, args) }
func (l StdoutLogger) Debugf(msg string, args ...any) { l.emit(LevelDebug, "DEBUG", msg, args) }
func (l StdoutLogger) Infof(msg string, args ...any)  { l.emit(LevelInfo, "INFO", msg, args) }
func (l StdoutLogger) Warnf(msg string, args ...any)  { l.emit(LevelWarn, "WARN", msg, args) }
func (l StdoutLogger) Errorf(msg string, args ...any) { l.emit(LevelError, "ERROR", msg, args) }

func (l StdoutLogger) emit(at Level, tag, msg string, args []any) {
	if Level(l) == LevelNone || at < Level(l) {
		return
	}
	fmt.Println(stamp, "["+tag+"] -", fmt.Sprintf(msg, args...))
}

// leveled wraps an arbitrary Logger with an independent minimum level, so a
// caller can run their own logger at Debug while asking this module to only
// surface Warn and above.
type leveled struct {
	level Level
	inner Logger
}

func Leveled(inner Logger, level Level) Logger {
	return leveled{level: level, inner: inner}
}

func (l leveled) Tracef(msg string, a ...any) { l.call(LevelTrace, l.inner.Tracef, msg, a) }
func (l leveled) Debugf(msg string, a ...any) { l.call(LevelDebug, l.inner.Debugf, msg, a) }
func (l leveled) Infof(msg string, a ...any)  { l.call(LevelInfo, l.inner.Infof, msg, a) }
func (l leveled) Warnf(msg string, a ...any)  { l.call(LevelWarn, l.inner.Warnf, msg, a) }
func (l leveled) Errorf(msg string, a ...any) { l.call(LevelError, l.inner.Errorf, msg, a) }

func (l leveled) call(at Level, fn func(string, ...any), msg string, a []any) {
	if l.level == LevelNone || at < l.level {
		return
	}
	fn(msg, a...)
}

var (
	current   Logger      = StdoutLogger(LevelInfo)
	kafkaHook kgo.Logger  = kgoHook(kgo.LogLevelError)
	initOnce  sync.Once
)

type kgoHook kgo.LogLevel

func (h kgoHook) Level() kgo.LogLevel { return kgo.LogLevel(h) }

func (h kgoHook) Log(level kgo.LogLevel, msg string, keyvals ...interface{}) {
	switch level {
	case kgo.LogLevelDebug:
		current.Debugf(msg, keyvals...)
	case kgo.LogLevelInfo:
		current.Infof(msg, keyvals...)
	case kgo.LogLevelWarn:
		current.Warnf(msg, keyvals...)
	case kgo.LogLevelError:
		current.Errorf(msg, keyvals...)
	}
}

// Init installs l as the process-wide logger and sets the level at which the
// underlying kgo client logs. Only the first call has effect; later calls are
// no-ops so that library code can call Init with a safe default without
// clobbering a caller's earlier choice.
func Init(l Logger, kafkaDriverLevel Level) {
	initOnce.Do(func() {
		current = l
		kafkaHook = kgoHook(toKgoLevel(kafkaDriverLevel))
	})
}

// L returns the process-wide logger.
func L() Logger { return current }

// KgoLogger returns the kgo.Logger adapter wired to the process-wide logger,
// suitable for passing to kgo.WithLogger.
func KgoLogger() kgo.Logger { return kafkaHook }
