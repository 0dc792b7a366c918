package report

import (
	"sync"

	"go.uber.org/zap"

	"github.com/browserwarden/warden/internal/engine"
	"github.com/browserwarden/warden/internal/logging"
)

// Sink consumes finalized threat events. Implementations must be safe for
// concurrent use and must never block the caller for long; slow delivery
// belongs behind an internal queue.
type Sink interface {
	Report(t engine.ThreatEvent)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(t engine.ThreatEvent)

// Report implements Sink.
func (f SinkFunc) Report(t engine.ThreatEvent) { f(t) }

// Fanout delivers each threat to every registered sink. A failing or
// panicking sink never affects the others and never surfaces to the
// detection path.
type Fanout struct {
	logger *logging.Logger

	mu    sync.RWMutex
	sinks []Sink
}

// NewFanout creates a fanout over the given sinks.
func NewFanout(logger *logging.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Fanout{logger: logger, sinks: sinks}
}

// Add registers another sink.
func (f *Fanout) Add(s Sink) {
	if s == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

// Report implements Sink.
func (f *Fanout) Report(t engine.ThreatEvent) {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()

	for _, s := range sinks {
		f.deliver(s, t)
	}
}

func (f *Fanout) deliver(s Sink, t engine.ThreatEvent) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("report sink panicked",
				zap.Any("panic", r),
				zap.String("threat_type", t.Type))
		}
	}()
	s.Report(t)
}

// LogSink writes each threat as a structured log record. Severity maps to
// log level so operators can filter on it directly.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LogSink{logger: logger.Named("threats")}
}

// Report implements Sink.
func (s *LogSink) Report(t engine.ThreatEvent) {
	fields := []zap.Field{
		zap.String("id", t.ID),
		zap.String("type", t.Type),
		zap.String("severity", t.Severity.String()),
		zap.Float64("score", t.Score),
		zap.String("monitor", t.SourceMonitor),
		zap.String("subject", t.SubjectKey),
		zap.String("description", t.Description),
	}
	switch {
	case t.Severity >= engine.SeverityCritical:
		s.logger.Error("threat detected", fields...)
	case t.Severity >= engine.SeverityHigh:
		s.logger.Warn("threat detected", fields...)
	default:
		s.logger.Info("threat detected", fields...)
	}
}
