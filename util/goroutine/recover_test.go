package goroutine

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecover_NoPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)

	func() {
		defer Recover("test-goroutine", zap.New(core).Sugar())
	}()

	assert.Zero(t, logs.Len())
}

func TestRecover_StringPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	func() {
		defer Recover("string-panic-goroutine", logger)
		panic("test panic message")
	}()

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Goroutine panic recovered", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "string-panic-goroutine", fields["goroutine"])
	assert.Equal(t, "test panic message", fields["panic"])
	stack, ok := fields["stack"].(string)
	require.True(t, ok)
	assert.Contains(t, stack, "goroutine")
}

func TestRecover_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		defer Recover("no-logger", nil)
		panic(errors.New("boom"))
	})
}

func TestGo(t *testing.T) {
	var wg sync.WaitGroup
	var ran, panicked atomic.Int32
	logger := zaptest.NewLogger(t).Sugar()

	Go(&wg, "ok", logger, func() { ran.Add(1) }, nil)
	Go(&wg, "bad", logger, func() { panic("bad") }, func(any) { panicked.Add(1) })
	wg.Wait()

	assert.Equal(t, int32(1), ran.Load())
	assert.Equal(t, int32(1), panicked.Load())
}
