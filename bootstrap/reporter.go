package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"snap/metrics"
	"snap/util"

	"go.uber.org/zap"
)

// Outcome of a boot stage
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// StageResult is what a boot stage hands back to the orchestrator instead of
// failing the process. Critical is informational: a critical stage that fails is
// logged loudly but boot still continues.
type StageResult struct {
	Stage    string
	Err      error
	Skipped  bool
	Duration time.Duration
	// Detail is a short human-readable summary, e.g. "applied 2 of 2 migrations"
	Detail   string
	Critical bool
}

// Outcome classifies the result
func (r StageResult) Outcome() Outcome {
	switch {
	case r.Err != nil:
		return OutcomeFailed
	case r.Skipped:
		return OutcomeSkipped
	}
	return OutcomeSucceeded
}

// Reporter receives boot stage outcomes. Implementations must not panic or block.
type Reporter interface {
	Report(result StageResult)
}

// ZapReporter writes stage outcomes to the structured log and the boot metrics
type ZapReporter struct {
	logger   *zap.SugaredLogger
	fallback io.Writer
}

// NewZapReporter creates a reporter. A nil logger reports to stderr only.
func NewZapReporter(logger *zap.SugaredLogger) *ZapReporter {
	return &ZapReporter{logger: logger, fallback: os.Stderr}
}

// Report logs result. A failure inside the logger is written to stderr and
// otherwise ignored.
func (z *ZapReporter) Report(result StageResult) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(z.fallback, "boot reporter failed for stage %s: %v\n", result.Stage, r)
		}
	}()

	outcome := result.Outcome()
	metrics.BootStages.WithLabelValues(result.Stage, string(outcome)).Inc()
	metrics.BootStageDuration.WithLabelValues(result.Stage).Observe(result.Duration.Seconds())

	if z.logger == nil {
		fmt.Fprintf(z.fallback, "boot stage %s %s: %v\n", result.Stage, outcome, result.Err)
		return
	}

	switch outcome {
	case OutcomeFailed:
		z.logger.Errorw("Boot stage failed, continuing startup",
			"stage", result.Stage,
			"critical", result.Critical,
			"duration", result.Duration,
			"detail", result.Detail,
			"error", util.SanitizeError(result.Err),
			"causes", errorChain(result.Err))
	case OutcomeSkipped:
		z.logger.Infow("Boot stage skipped",
			"stage", result.Stage,
			"detail", result.Detail)
	default:
		z.logger.Infow("Boot stage completed",
			"stage", result.Stage,
			"duration", result.Duration,
			"detail", result.Detail)
	}
}

// errorChain flattens wrapped and joined errors, outermost first
func errorChain(err error) []string {
	var chain []string
	var walk func(error)
	walk = func(e error) {
		for e != nil {
			chain = append(chain, util.SanitizeString(e.Error()))
			if joined, ok := e.(interface{ Unwrap() []error }); ok {
				for _, inner := range joined.Unwrap() {
					walk(inner)
				}
				return
			}
			e = errors.Unwrap(e)
		}
	}
	walk(err)
	return chain
}

// Recorder keeps every reported result in memory
type Recorder struct {
	mu      sync.Mutex
	results []StageResult
}

// Report appends result
func (r *Recorder) Report(result StageResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

// Results returns a copy of the recorded results in report order
func (r *Recorder) Results() []StageResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StageResult(nil), r.results...)
}

// Reporters fans a result out to several reporters
type Reporters []Reporter

// Report forwards result to every reporter. A reporter that panics is noted on
// stderr and the rest still receive the result.
func (rs Reporters) Report(result StageResult) {
	for _, r := range rs {
		reportIsolated(r, result, os.Stderr)
	}
}

func reportIsolated(r Reporter, result StageResult, fallback io.Writer) {
	defer func() {
		if p := recover(); p != nil {
			fmt.Fprintf(fallback, "boot reporter %T failed for stage %s: %v\n", r, result.Stage, p)
		}
	}()
	r.Report(result)
}
