package goroutine

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

const (
	// StackTraceBufferSize is the buffer size for stack trace collection
	StackTraceBufferSize = 8192
)

// Stack returns the current goroutine's stack trace
func Stack() string {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Recover recovers from panics in goroutines and logs them.
// If logger is nil, falls back to stderr to ensure the panic is recorded.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		logPanic(name, r, logger)
	}
}

func logPanic(name string, r any, logger *zap.SugaredLogger) {
	stack := Stack()
	if logger != nil {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", stack)
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n", name, r, stack)
}

// Go runs fn on a new goroutine tracked by wg. A panic in fn is logged, passed to
// onPanic when it is non-nil, and does not crash the process.
func Go(wg *sync.WaitGroup, name string, logger *zap.SugaredLogger, fn func(), onPanic func(any)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logPanic(name, r, logger)
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
