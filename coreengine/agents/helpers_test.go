package agents

import (
	"context"
	"sync"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
)

// =============================================================================
// TEST LOGGER
// =============================================================================

type logEntry struct {
	Level  string
	Msg    string
	Fields []any
}

type logSink struct {
	mu      sync.Mutex
	entries []logEntry
}

type recordingLogger struct {
	sink  *logSink
	bound []any
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{sink: &logSink{}}
}

func (l *recordingLogger) record(level, msg string, fields []any) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	all := append(append([]any{}, l.bound...), fields...)
	l.sink.entries = append(l.sink.entries, logEntry{Level: level, Msg: msg, Fields: all})
}

func (l *recordingLogger) Info(msg string, fields ...any)  { l.record("info", msg, fields) }
func (l *recordingLogger) Debug(msg string, fields ...any) { l.record("debug", msg, fields) }
func (l *recordingLogger) Warn(msg string, fields ...any)  { l.record("warn", msg, fields) }
func (l *recordingLogger) Error(msg string, fields ...any) { l.record("error", msg, fields) }

func (l *recordingLogger) Bind(fields ...any) Logger {
	return &recordingLogger{sink: l.sink, bound: append(append([]any{}, l.bound...), fields...)}
}

// has reports whether a message was logged at the given level.
func (l *recordingLogger) has(level, msg string) bool {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	for _, e := range l.sink.entries {
		if e.Level == level && e.Msg == msg {
			return true
		}
	}
	return false
}

// =============================================================================
// STATE HELPERS
// =============================================================================

// nodeEvents returns the node events for one stage.
func nodeEvents(s envelope.RunState, stage envelope.Stage) []envelope.Event {
	var out []envelope.Event
	for _, e := range s.Events() {
		if e.Kind == envelope.EventKindNode && e.Data["name"] == string(stage) {
			out = append(out, e)
		}
	}
	return out
}

// lastEnd returns the data of the last end event for a stage.
func lastEnd(s envelope.RunState, stage envelope.Stage) map[string]any {
	events := nodeEvents(s, stage)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Data["phase"] == envelope.PhaseEnd {
			return events[i].Data
		}
	}
	return nil
}

func planned(request string) envelope.RunState {
	s := envelope.New(request)
	s.Control.RunID = "run-test"
	plan, _ := DefaultPlan(envelope.IntentAnalysis, request)
	s.Plan = &plan
	s.Budgets = envelope.Budgets{CurrentLoop: 1, MaxLoops: 3}
	return s
}

// stubRunner returns canned results.
type stubRunner struct {
	batches [][]envelope.ToolCall
	respond func(calls []envelope.ToolCall) []envelope.ToolResult
	closed  bool
}

func (r *stubRunner) ExecuteBatch(_ context.Context, calls []envelope.ToolCall) []envelope.ToolResult {
	r.batches = append(r.batches, calls)
	return r.respond(calls)
}

func (r *stubRunner) Close() error {
	r.closed = true
	return nil
}

func stubFactory(r *stubRunner) RunnerFactory {
	return func(string, string) (ToolRunner, error) { return r, nil }
}
