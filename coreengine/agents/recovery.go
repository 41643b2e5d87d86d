package agents

import (
	"fmt"
	"runtime/debug"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
)

// safeRun executes fn with panic recovery. A panic is logged with its
// stack and returned as an error so the caller can apply its fallback.
func safeRun(
	logger Logger,
	stage envelope.Stage,
	fn func() (envelope.RunState, map[string]any, error),
) (out envelope.RunState, extra map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic_recovered",
				"stage", string(stage),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic in %s: %v", stage, r)
		}
	}()
	return fn()
}

// safeCall is the single-value form of safeRun used inside stage bodies.
func safeCall[T any](logger Logger, operation string, fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic_recovered",
				"operation", operation,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic in %s: %v", operation, r)
		}
	}()
	return fn()
}
