package grpc

import (
	"sync"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// TestLogger captures log calls for verification.
type TestLogger struct {
	mu         sync.Mutex
	debugCalls []map[string]any
	infoCalls  []map[string]any
	warnCalls  []map[string]any
	errorCalls []map[string]any
}

func (l *TestLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugCalls = append(l.debugCalls, toMap(msg, keysAndValues))
}

func (l *TestLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoCalls = append(l.infoCalls, toMap(msg, keysAndValues))
}

func (l *TestLogger) Warn(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnCalls = append(l.warnCalls, toMap(msg, keysAndValues))
}

func (l *TestLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorCalls = append(l.errorCalls, toMap(msg, keysAndValues))
}

// messages returns every logged message at any level.
func (l *TestLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, calls := range [][]map[string]any{l.debugCalls, l.infoCalls, l.warnCalls, l.errorCalls} {
		for _, c := range calls {
			out = append(out, c["msg"].(string))
		}
	}
	return out
}

func toMap(msg string, keysAndValues []any) map[string]any {
	m := map[string]any{"msg": msg}
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			m[key] = keysAndValues[i+1]
		}
	}
	return m
}
