package logger

import (
	"os"
	"strings"
)

const jobBufferSize = 100
const logSinkPathEnvVar = "RDSHA_LOG_PATH"

// LogSink represents a logging implementation. It is deliberately a subset
// of go-logr/logr's LogSink interface so a caller's existing logr sink can
// be plugged in directly.
type LogSink interface {
	Info(level int, msg string, keysAndValues ...interface{})
}

type job struct {
	level Level
	comp  Component
	msg   string
	kvs   []interface{}
}

// Logger dispatches leveled, component-scoped messages to a LogSink on a
// dedicated goroutine so callers never block on logging I/O.
type Logger struct {
	ComponentLevels map[Component]Level
	Sink            LogSink

	jobs chan job
}

// New constructs a Logger and starts its printer goroutine. If sink is nil,
// component levels are unset, or both, values are sourced from the
// environment (RDSHA_LOG_ALL or RDSHA_LOG_<COMPONENT>, RDSHA_LOG_PATH).
func New(sink LogSink, componentLevels map[Component]Level) *Logger {
	l := &Logger{
		ComponentLevels: selectComponentLevels(
			func() map[Component]Level { return componentLevels },
			getEnvComponentLevels,
		),
		Sink: selectLogSink(
			func() LogSink { return sink },
			getEnvLogSink,
		),
		jobs: make(chan job, jobBufferSize),
	}
	StartPrintListener(l)
	return l
}

// Close stops accepting new messages and lets the printer goroutine drain.
func (l *Logger) Close() {
	close(l.jobs)
}

// Is reports whether level is enabled for component.
func (l *Logger) Is(level Level, component Component) bool {
	return l.ComponentLevels[component] >= level
}

// Print enqueues a message for the printer goroutine. If the queue is full
// the message is dropped rather than blocking the caller.
func (l *Logger) Print(level Level, component Component, msg string, keysAndValues ...interface{}) {
	select {
	case l.jobs <- job{level, component, msg, keysAndValues}:
	default:
	}
}

// StartPrintListener starts the goroutine that drains jobs into the sink.
// It returns immediately; the goroutine exits once Close has been called
// and the channel drains.
func StartPrintListener(l *Logger) {
	go func() {
		for j := range l.jobs {
			if !l.Is(j.level, j.comp) {
				continue
			}
			sink := l.Sink
			if sink == nil {
				continue
			}
			sink.Info(int(j.level)-DiffToInfo, j.msg, append([]interface{}{"component", string(j.comp)}, j.kvs...)...)
		}
	}()
}

type logSinkPath string

const (
	logSinkPathStdOut logSinkPath = "stdout"
	logSinkPathStdErr logSinkPath = "stderr"
)

func getEnvLogSink() LogSink {
	path := os.Getenv(logSinkPathEnvVar)
	lowerPath := strings.ToLower(path)

	switch lowerPath {
	case string(logSinkPathStdErr):
		return newOSSink(os.Stderr)
	case string(logSinkPathStdOut):
		return newOSSink(os.Stdout)
	}

	if path != "" {
		if f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			return newOSSink(f)
		}
	}

	return nil
}

func selectLogSink(getters ...func() LogSink) LogSink {
	for _, get := range getters {
		if sink := get(); sink != nil {
			return sink
		}
	}
	return newOSSink(os.Stderr)
}

func getEnvComponentLevels() map[Component]Level {
	componentLevels := make(map[Component]Level)
	globalLevel := ParseLevel(os.Getenv(string(componentEnvVarAll)))

	for _, envVar := range allComponentEnvVars {
		if envVar == componentEnvVarAll {
			continue
		}

		level := globalLevel
		if globalLevel == LevelOff {
			level = ParseLevel(os.Getenv(string(envVar)))
		}

		componentLevels[envVar.component()] = level
	}

	return componentLevels
}

// selectComponentLevels merges maps in priority order, earlier maps winning.
func selectComponentLevels(getters ...func() map[Component]Level) map[Component]Level {
	selected := make(map[Component]Level)
	set := make(map[Component]struct{})

	for _, get := range getters {
		for component, level := range get() {
			if _, ok := set[component]; !ok {
				selected[component] = level
			}
			set[component] = struct{}{}
		}
	}

	return selected
}
