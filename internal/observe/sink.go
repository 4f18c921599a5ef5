package observe

import "log/slog"

// Sink receives counters and events from the pipeline. Implementations
// live outside this module; everything here works without one.
type Sink interface {
	Count(name string, delta int64)
	Event(name string, attrs map[string]string)
}

// LogSink emits counters and events as structured log lines. It is the
// sink the binary wires by default.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink backed by logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "observe")}
}

func (s *LogSink) Count(name string, delta int64) {
	s.logger.Debug("count", "name", name, "delta", delta)
}

func (s *LogSink) Event(name string, attrs map[string]string) {
	args := make([]any, 0, 2+2*len(attrs))
	args = append(args, "name", name)
	for k, v := range attrs {
		args = append(args, k, v)
	}
	s.logger.Info("event", args...)
}

// Count records a counter increment on s, ignoring a nil or panicking sink.
func Count(s Sink, name string, delta int64) {
	if s == nil {
		return
	}
	defer func() { _ = recover() }()
	s.Count(name, delta)
}

// Event records a one-off event on s, ignoring a nil or panicking sink.
func Event(s Sink, name string, attrs map[string]string) {
	if s == nil {
		return
	}
	defer func() { _ = recover() }()
	s.Event(name, attrs)
}
