// Package runtime contains panic-safety helpers for long-running loops and
// background goroutines.
package runtime

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/tsu-platform/notify/internal/nilcheck"
	"github.com/tsu-platform/notify/log"
)

// RecoverAndLog recovers a panic in the calling goroutine and logs it with a
// stack trace. Use as `defer runtime.RecoverAndLog(ctx, logger, component, op)`.
func RecoverAndLog(ctx context.Context, logger log.Logger, component, operation string) {
	recovered := recover()
	if recovered == nil {
		return
	}

	if nilcheck.Interface(logger) {
		logger = log.NewNop()
	}

	logger.Log(ctx, log.LevelError, "recovered from panic",
		log.String("component", component),
		log.String("operation", operation),
		log.String("panic", fmt.Sprintf("%v", recovered)),
		log.String("stack", string(debug.Stack())),
	)
}

// SafeGo runs fn in a new goroutine with panic recovery. A panic is logged
// and the goroutine exits; it is never re-raised.
func SafeGo(logger log.Logger, name string, fn func()) {
	go func() {
		defer RecoverAndLog(context.Background(), logger, "goroutine", name)

		fn()
	}()
}
