// Package diag carries non-fatal diagnostics: unmatched columns, values that
// could not be converted, and messages sent by the remote server. Fatal
// problems travel as returned errors instead.
package diag

import (
	"sync"

	"github.com/rs/zerolog"
)

// Level is the severity of a diagnostic.
type Level int

// Diagnostic levels.
const (
	LevelDebug Level = iota
	LevelNotice
	LevelWarning
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelNotice:
		return "notice"
	default:
		return "warning"
	}
}

// Kind classifies what a diagnostic is about.
type Kind string

// Diagnostic kinds.
const (
	KindUnmatchedSource  Kind = "unmatched_source_column"
	KindForcedNull       Kind = "forced_null_column"
	KindConversionFailed Kind = "conversion_failed"
	KindNotConvertible   Kind = "not_convertible"
	KindPlanColumns      Kind = "plan_columns_missing"
	KindServerMessage    Kind = "server_message"
)

// Diagnostic is a single non-fatal report.
type Diagnostic struct {
	Level   Level
	Kind    Kind
	Column  string
	Message string
}

// Sink receives diagnostics. Implementations must be safe to call from the
// goroutine driving a scan.
type Sink interface {
	Report(d Diagnostic)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(d Diagnostic)

// Report calls f(d).
func (f SinkFunc) Report(d Diagnostic) { f(d) }

// Discard drops every diagnostic.
var Discard Sink = SinkFunc(func(Diagnostic) {})

// Warn reports a warning level diagnostic to sink.
func Warn(sink Sink, kind Kind, column, message string) {
	sink.Report(Diagnostic{Level: LevelWarning, Kind: kind, Column: column, Message: message})
}

// LogSink writes diagnostics to a zerolog logger.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that logs through logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Report logs d at the zerolog level matching its severity.
func (s *LogSink) Report(d Diagnostic) {
	var ev *zerolog.Event
	switch d.Level {
	case LevelDebug:
		ev = s.logger.Debug()
	case LevelNotice:
		ev = s.logger.Info()
	default:
		ev = s.logger.Warn()
	}
	ev = ev.Str("kind", string(d.Kind))
	if d.Column != "" {
		ev = ev.Str("column", d.Column)
	}
	ev.Msg(d.Message)
}

// Recorder keeps every diagnostic in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Diagnostic
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Report records d.
func (r *Recorder) Report(d Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, d)
}

// Diagnostics returns a copy of everything recorded so far.
func (r *Recorder) Diagnostics() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Diagnostic, len(r.items))
	copy(out, r.items)
	return out
}

// Kinds returns the kinds recorded so far, in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, len(r.items))
	for i, d := range r.items {
		kinds[i] = d.Kind
	}
	return kinds
}

// Multi fans a diagnostic out to several sinks.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(d Diagnostic) {
		for _, s := range sinks {
			s.Report(d)
		}
	})
}
