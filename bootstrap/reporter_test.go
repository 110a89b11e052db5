package bootstrap

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStageResult_Outcome(t *testing.T) {
	assert.Equal(t, OutcomeSucceeded, StageResult{Stage: "x"}.Outcome())
	assert.Equal(t, OutcomeSkipped, StageResult{Stage: "x", Skipped: true}.Outcome())
	assert.Equal(t, OutcomeFailed, StageResult{Stage: "x", Skipped: true, Err: errors.New("boom")}.Outcome())
}

func TestZapReporter(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	reporter := NewZapReporter(zap.New(core).Sugar())

	cause := errors.New("unable to open database file")
	reporter.Report(StageResult{Stage: StageMigrations, Critical: true, Duration: time.Millisecond, Err: fmt.Errorf("ping: %w", cause)})
	reporter.Report(StageResult{Stage: StageSeed, Skipped: true, Detail: "seeding disabled"})
	reporter.Report(StageResult{Stage: StageSeed, Detail: "created 1"})

	entries := logs.All()
	require.Len(t, entries, 3)

	failed := entries[0]
	assert.Equal(t, zapcore.ErrorLevel, failed.Level)
	assert.Equal(t, "Boot stage failed, continuing startup", failed.Message)
	fields := failed.ContextMap()
	assert.Equal(t, StageMigrations, fields["stage"])
	assert.Equal(t, true, fields["critical"])
	assert.Contains(t, fields["error"], "unable to open database file")
	assert.Len(t, fields["causes"], 2)

	assert.Equal(t, "Boot stage skipped", entries[1].Message)
	assert.Equal(t, "Boot stage completed", entries[2].Message)
}

// panicCore fails every write
type panicCore struct{ zapcore.LevelEnabler }

func (c panicCore) With([]zapcore.Field) zapcore.Core { return c }
func (c panicCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return ce.AddCore(e, c)
}
func (panicCore) Write(zapcore.Entry, []zapcore.Field) error { panic("log sink gone") }
func (panicCore) Sync() error                                { return nil }

func TestZapReporter_NeverPanics(t *testing.T) {
	var fallback bytes.Buffer
	reporter := &ZapReporter{logger: zap.New(panicCore{zapcore.DebugLevel}).Sugar(), fallback: &fallback}

	assert.NotPanics(t, func() {
		reporter.Report(StageResult{Stage: StageSeed, Err: errors.New("boom")})
	})
	assert.Contains(t, fallback.String(), "boot reporter failed for stage seed")
}

func TestZapReporter_NilLogger(t *testing.T) {
	var fallback bytes.Buffer
	reporter := &ZapReporter{fallback: &fallback}

	reporter.Report(StageResult{Stage: StageMigrations, Err: errors.New("boom")})
	assert.Contains(t, fallback.String(), "boot stage migrations failed: boom")
}

func TestRecorderAndFanOut(t *testing.T) {
	var a, b Recorder
	Reporters{&a, &b}.Report(StageResult{Stage: StageMigrations})
	Reporters{&a, &b}.Report(StageResult{Stage: StageSeed})

	for _, r := range []*Recorder{&a, &b} {
		results := r.Results()
		require.Len(t, results, 2)
		assert.Equal(t, StageMigrations, results[0].Stage)
		assert.Equal(t, StageSeed, results[1].Stage)
	}
}

// brokenReporter panics on every result
type brokenReporter struct{}

func (brokenReporter) Report(StageResult) { panic("sink down") }

func TestReporters_IsolatesPanickingReporter(t *testing.T) {
	var before, after Recorder

	assert.NotPanics(t, func() {
		Reporters{&before, brokenReporter{}, &after}.Report(StageResult{Stage: StageSeed})
	})

	require.Len(t, before.Results(), 1)
	require.Len(t, after.Results(), 1, "reporters after a failing one still receive the result")
	assert.Equal(t, StageSeed, after.Results()[0].Stage)
}

func TestReportIsolated_WritesFallback(t *testing.T) {
	var fallback bytes.Buffer
	reportIsolated(brokenReporter{}, StageResult{Stage: StageMigrations}, &fallback)
	assert.Contains(t, fallback.String(), "failed for stage migrations: sink down")
}
