// Package domheal is a resilient locator resolution and recovery engine
// for web record/replay. A recorded step carries a bundle of independent
// locating strategies plus an optional container scope; at replay time
// the engine narrows the search to the scope, scores every strategy
// against the live tree, and, when nothing matches, runs a five-tier
// self-healing cascade ending in learned corrections and AI matching.
// Confirmed fixes feed back into correction memory so the same breakage
// heals faster next time.
//
// Usage:
//
//	h, err := domheal.New(cfg, logger)
//	defer h.Close()
//	run := h.StartStep(step)
//	res, err := run.Resolve(ctx, tree, screenshot)
//	// actuator clicks/types res.Element here
//	vres, err := run.Verify(ctx, nil, provider)
//	run.Finish()
package domheal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/domheal/dbopen"
	"github.com/hazyhaar/domheal/domtree"
	"github.com/hazyhaar/domheal/idgen"
	"github.com/hazyhaar/domheal/internal/aiclient"
	"github.com/hazyhaar/domheal/internal/heal"
	"github.com/hazyhaar/domheal/internal/memory"
	"github.com/hazyhaar/domheal/internal/resolve"
	"github.com/hazyhaar/domheal/internal/scope"
	"github.com/hazyhaar/domheal/internal/stepmetrics"
	"github.com/hazyhaar/domheal/internal/verify"
	"github.com/hazyhaar/domheal/locator"
)

// Step-boundary failures. Everything below them (a dead AI service, a
// strategy matching zero nodes) is recovered inside the engine and
// never surfaces as an error.
var (
	// ErrScopeNotFound: the recorded scope container is absent and no
	// recovery tier produced an element. Strategies were never run
	// page-wide.
	ErrScopeNotFound = errors.New("domheal: scope container not found")

	// ErrAmbiguous: several candidates survived disambiguation. The
	// StepResult carries the full candidate list.
	ErrAmbiguous = errors.New("domheal: ambiguous match")

	// ErrRecoveryExhausted: every cascade tier failed.
	ErrRecoveryExhausted = errors.New("domheal: recovery exhausted")

	// ErrVerificationTimeout: the success condition never held within
	// its budget. The action may still have executed.
	ErrVerificationTimeout = errors.New("domheal: verification timed out")
)

// Step is one recorded replay step. The engine only reads it.
type Step struct {
	ID                 string             `json:"id,omitempty"`
	SessionID          string             `json:"session_id,omitempty"`
	PageType           string             `json:"page_type,omitempty"`
	Bundle             *locator.Bundle    `json:"bundle"`
	Signature          locator.Signature  `json:"signature"`
	Condition          *locator.Condition `json:"condition,omitempty"`
	RecordedScreenshot []byte             `json:"-"`
}

// StepResult is what the actuator gets back: the element to act on plus
// how it was found.
type StepResult struct {
	Outcome         string            `json:"outcome"` // resolved, recovered, ambiguous, failed
	Element         *domtree.Node     `json:"-"`
	Selector        string            `json:"selector,omitempty"`
	Confidence      float64           `json:"confidence"`
	Method          string            `json:"method"` // "primary" or a cascade tier name
	WinningStrategy *locator.Strategy `json:"winning_strategy,omitempty"`
	Candidates      []*domtree.Node   `json:"-"` // populated when ambiguous
	Reasoning       string            `json:"reasoning,omitempty"`
	Recovery        *heal.Result      `json:"recovery,omitempty"`
}

// Healer is the engine orchestrator. One Healer owns its correction
// memory and metrics scope; hosts running concurrent workflow sessions
// create one per session or serialize access themselves.
type Healer struct {
	cfg        *Config
	mem        *memory.Store
	ai         *aiclient.Client
	ctxBuilder *aiclient.ContextBuilder // nil without an AI endpoint
	cascade    *heal.Cascade
	metrics    stepmetrics.Sink
	dbSink     *stepmetrics.DBSink // nil when persistence is off
	ids        idgen.Generator
	logger     *slog.Logger
}

// New creates a Healer. A missing or unopenable database degrades the
// engine to a non-learning mode instead of failing: resolution and
// recovery keep working, corrections are not persisted.
func New(cfg *Config, logger *slog.Logger) (*Healer, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	h := &Healer{
		cfg:    cfg,
		ids:    idgen.Prefixed("step_", idgen.Default),
		logger: logger,
	}

	if cfg.DBPath == "" {
		h.mem = memory.Discard()
		h.metrics = &stepmetrics.LogSink{Logger: logger}
	} else {
		db, err := dbopen.Open(cfg.DBPath,
			dbopen.WithMkdirAll(),
			dbopen.WithSchema(memory.Schema),
			dbopen.WithSchema(stepmetrics.Schema),
		)
		if err != nil {
			logger.Warn("domheal: persistence unavailable, running degraded",
				"path", cfg.DBPath, "error", err)
			h.mem = memory.Discard()
			h.metrics = &stepmetrics.LogSink{Logger: logger}
		} else {
			h.mem = memory.New(db)
			h.mem.MaxEntries = cfg.MaxCorrections
			h.dbSink = stepmetrics.NewDBSink(db, cfg.MetricsBuffer, cfg.MetricsFlush)
			h.metrics = h.dbSink
		}
	}

	if cfg.AI.Endpoint != "" {
		h.ai = aiclient.New(aiclient.Config{
			Endpoint:         cfg.AI.Endpoint,
			APIKey:           cfg.AI.APIKey,
			Timeout:          cfg.AI.Timeout,
			FailureThreshold: cfg.AI.FailureThreshold,
			ResetAfter:       cfg.AI.ResetAfter,
		}, logger)
		h.ctxBuilder = aiclient.NewContextBuilder(0)
	}

	h.cascade = heal.New(cfg.Heal, h.mem, h.ai, logger)
	return h, nil
}

// Degraded reports whether the engine runs without persistence.
func (h *Healer) Degraded() bool { return h.mem.Degraded() }

// Memory returns the underlying correction store for direct access
// (testing, admin).
func (h *Healer) Memory() *memory.Store { return h.mem }

// Close flushes metrics and closes the database.
func (h *Healer) Close() error {
	if h.dbSink != nil {
		h.dbSink.Close()
	}
	return h.mem.Close()
}

// StartStep begins an instrumented step run. Call Finish on the
// returned run once the step (including verification) is over.
func (h *Healer) StartStep(step Step) *StepRun {
	if step.ID == "" {
		step.ID = h.ids()
	}
	return &StepRun{
		h:       h,
		step:    step,
		rec:     stepmetrics.NewRecorder(h.metrics, step.ID, step.SessionID),
		outcome: "failed",
	}
}

// ResolveStep is the one-shot form for hosts that do not verify:
// StartStep, Resolve, Finish.
func (h *Healer) ResolveStep(ctx context.Context, step Step, tree *domtree.Tree) (*StepResult, error) {
	run := h.StartStep(step)
	defer run.Finish()
	return run.Resolve(ctx, tree, nil)
}

// StepRun tracks one step through resolution, recovery and
// verification, and emits its metrics exactly once.
type StepRun struct {
	h           *Healer
	step        Step
	rec         *stepmetrics.Recorder
	outcome     string
	baselineURL string
}

// Resolve finds the step's target element in the tree. On primary
// failure it runs the recovery cascade; a recovered element comes back
// with its cascade method and a pending correction is written to
// memory for human review. The screenshot, when given, feeds the
// visual recovery tier.
func (r *StepRun) Resolve(ctx context.Context, tree *domtree.Tree, screenshot []byte) (*StepResult, error) {
	if err := r.step.Bundle.Validate(); err != nil {
		return nil, err
	}
	r.baselineURL = tree.URL
	start := time.Now()

	containers, scopeErr := scope.ResolveAll(r.step.Bundle.Scope, tree)
	if scopeErr != nil {
		r.h.logger.Warn("domheal: scope resolution failed",
			"step_id", r.step.ID, "error", scopeErr)
		return r.recover(ctx, tree, screenshot, "", scopeErr, start)
	}

	res := resolve.Resolve(r.step.Bundle, containers, r.h.cfg.Weights)
	r.recordResolution(res, time.Since(start))

	switch res.Outcome {
	case resolve.Resolved:
		r.outcome = "resolved"
		return &StepResult{
			Outcome:         "resolved",
			Element:         res.Element,
			Selector:        res.Winner.Value,
			Confidence:      winnerScore(res),
			Method:          "primary",
			WinningStrategy: res.Winner,
		}, nil

	case resolve.Ambiguous:
		r.outcome = "ambiguous"
		return &StepResult{
			Outcome:    "ambiguous",
			Candidates: res.Candidates,
			Method:     "primary",
			Reasoning:  res.Reason,
		}, fmt.Errorf("%w: %s", ErrAmbiguous, res.Reason)

	default: // NotFound
		err := errors.New(res.Reason)
		return r.recover(ctx, tree, screenshot, failedSelector(r.step.Bundle), err, start)
	}
}

func (r *StepRun) recover(ctx context.Context, tree *domtree.Tree, screenshot []byte, failedSel string, cause error, start time.Time) (*StepResult, error) {
	rcStart := time.Now()
	hc := &heal.Context{
		Tree:               tree,
		Signature:          r.step.Signature,
		FailedSelector:     failedSel,
		FailureReason:      cause.Error(),
		Screenshot:         screenshot,
		RecordedScreenshot: r.step.RecordedScreenshot,
	}
	if r.h.ctxBuilder != nil {
		hc.PageContext = r.h.ctxBuilder.Build(tree)
	}
	result := r.h.cascade.Recover(ctx, hc)
	r.rec.SetRecovery(stepmetrics.Recovery{
		Used:       true,
		Methods:    result.MethodsTried,
		Attempts:   len(result.MethodsTried),
		Succeeded:  result.Success,
		Method:     result.Method,
		DurationMs: time.Since(rcStart).Milliseconds(),
	})

	if !result.Success {
		r.outcome = "failed"
		if errors.Is(cause, scope.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrScopeNotFound, result.Reasoning)
		}
		return nil, fmt.Errorf("%w: %s", ErrRecoveryExhausted, result.Reasoning)
	}

	r.outcome = "recovered"
	r.savePending(ctx, tree, failedSel, result)
	return &StepResult{
		Outcome:    "recovered",
		Element:    result.Element,
		Selector:   result.Selector,
		Confidence: result.Confidence,
		Method:     result.Method,
		Reasoning:  result.Reasoning,
		Recovery:   result,
	}, nil
}

// savePending records a cascade fix as a pending correction so a human
// can confirm or reject it. Learned-tier hits are already in memory;
// reusing them only bumps counters.
func (r *StepRun) savePending(ctx context.Context, tree *domtree.Tree, failedSel string, result *heal.Result) {
	if result.LearnedFrom != nil || failedSel == "" || result.Selector == "" {
		return
	}
	e := &memory.Entry{
		PageURL:           tree.URL,
		PageType:          r.step.PageType,
		OriginalSelector:  failedSel,
		CorrectedSelector: result.Selector,
		Signature:         r.step.Signature,
		Validated:         memory.StatusPending,
	}
	if err := r.h.mem.Save(ctx, e); err != nil {
		r.h.logger.Error("domheal: save pending correction", "error", err)
	}
}

// Verify evaluates the success condition against fresh trees from the
// provider. A nil condition falls back to the step's recorded one; if
// that is also nil, verification trivially passes.
func (r *StepRun) Verify(ctx context.Context, cond *locator.Condition, provider TreeProvider) (*VerifyResult, error) {
	if cond == nil {
		cond = r.step.Condition
	}
	if cond == nil {
		return &verify.Result{Passed: true}, nil
	}

	v := verify.New(provider)
	v.Interval = r.h.cfg.VerifyInterval
	v.BaselineURL = r.baselineURL

	start := time.Now()
	res, err := v.Evaluate(ctx, cond)
	if err != nil {
		return nil, err
	}
	r.rec.SetVerification(stepmetrics.Verification{
		ConditionOp:   string(cond.Op),
		Passed:        res.Passed,
		FailureReason: res.Reason,
		DurationMs:    time.Since(start).Milliseconds(),
	})

	if !res.Passed {
		r.outcome = "failed"
		if res.TimedOut {
			return res, fmt.Errorf("%w: %s", ErrVerificationTimeout, res.Reason)
		}
		return res, fmt.Errorf("domheal: verification failed: %s", res.Reason)
	}
	return res, nil
}

// Finish emits the step's metrics. Safe to call exactly once; later
// calls are no-ops.
func (r *StepRun) Finish() *StepMetrics {
	return r.rec.Finish(r.outcome)
}

func (r *StepRun) recordResolution(res *resolve.Resolution, d time.Duration) {
	per := make(map[string]int, len(res.Attempts))
	for _, a := range res.Attempts {
		per[string(a.Strategy.Kind)] = a.Matches
	}
	m := stepmetrics.Resolution{
		StrategiesAttempted: len(res.Attempts),
		CandidatesPer:       per,
		WasAmbiguous:        res.Outcome == resolve.Ambiguous,
		DisambiguationUsed:  res.DisambiguatorUsed,
		DurationMs:          d.Milliseconds(),
	}
	if res.Winner != nil {
		m.WinningStrategy = string(res.Winner.Kind)
	}
	r.rec.SetResolution(m)
}

// winnerScore digs the winning strategy's score out of the attempts.
func winnerScore(res *resolve.Resolution) float64 {
	if res.Winner == nil {
		return 0
	}
	for _, a := range res.Attempts {
		if a.Strategy.Kind == res.Winner.Kind && a.Strategy.Value == res.Winner.Value {
			return a.Score
		}
	}
	return 0
}

// failedSelector picks the selector the cascade reports as broken: the
// first css strategy, else the first strategy of any kind.
func failedSelector(b *locator.Bundle) string {
	for _, s := range b.Strategies {
		if s.Kind == locator.KindCSS {
			return s.Value
		}
	}
	if len(b.Strategies) > 0 {
		return b.Strategies[0].Value
	}
	return ""
}

// --- Correction review surface ---

// PendingCorrections lists cascade fixes awaiting human review, oldest
// first.
func (h *Healer) PendingCorrections(ctx context.Context, limit int) ([]*Correction, error) {
	return h.mem.ListPending(ctx, limit)
}

// ConfirmCorrection marks a pending correction as human-confirmed,
// making it available to the learned recovery tier.
func (h *Healer) ConfirmCorrection(ctx context.Context, id string) error {
	return h.mem.Confirm(ctx, id)
}

// RejectCorrection discards a pending correction without learning it.
func (h *Healer) RejectCorrection(ctx context.Context, id string) error {
	return h.mem.Reject(ctx, id)
}

// SaveCorrection stores a human-supplied fix directly as confirmed.
func (h *Healer) SaveCorrection(ctx context.Context, c *Correction) error {
	c.Validated = memory.StatusConfirmed
	return h.mem.Save(ctx, c)
}

// --- Metrics surface ---

// RecentMetrics returns the latest emitted step records, newest first.
// Nil without persistence.
func (h *Healer) RecentMetrics(ctx context.Context, limit int) ([]*StepMetrics, error) {
	if h.dbSink == nil {
		return nil, nil
	}
	h.dbSink.Flush()
	return h.dbSink.Recent(ctx, limit)
}

// MetricsAggregate returns outcome/strategy/recovery-method counts for
// failure-pattern analysis. Nil without persistence.
func (h *Healer) MetricsAggregate(ctx context.Context) (*MetricsStats, error) {
	if h.dbSink == nil {
		return nil, nil
	}
	h.dbSink.Flush()
	return h.dbSink.Aggregate(ctx)
}
