// Package stepmetrics records per-step resolution, recovery and
// verification telemetry. Emission is append-only and decoupled from
// control flow: the engine never blocks on a sink's persistence, and a
// full buffer drops datapoints rather than applying backpressure.
package stepmetrics

import (
	"log/slog"
	"time"
)

// Resolution captures how the strategy scorer did on one step.
type Resolution struct {
	StrategiesAttempted int            `json:"strategies_attempted"`
	CandidatesPer       map[string]int `json:"candidates_per_strategy,omitempty"`
	WinningStrategy     string         `json:"winning_strategy,omitempty"`
	WasAmbiguous        bool           `json:"was_ambiguous"`
	DisambiguationUsed  bool           `json:"disambiguation_used"`
	DurationMs          int64          `json:"duration_ms"`
}

// Recovery captures the cascade's work when primary resolution failed.
type Recovery struct {
	Used       bool     `json:"used"`
	Methods    []string `json:"methods,omitempty"` // tiers attempted, in order
	Attempts   int      `json:"attempts"`
	Succeeded  bool     `json:"succeeded"`
	Method     string   `json:"method,omitempty"` // winning tier
	DurationMs int64    `json:"duration_ms"`
}

// Verification captures the success-condition outcome.
type Verification struct {
	ConditionOp   string `json:"condition_op,omitempty"`
	Passed        bool   `json:"passed"`
	FailureReason string `json:"failure_reason,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
}

// StepMetrics is one step's full telemetry record. Immutable once
// emitted.
type StepMetrics struct {
	StepID       string       `json:"step_id"`
	SessionID    string       `json:"session_id,omitempty"`
	Resolution   Resolution   `json:"resolution"`
	Recovery     Recovery     `json:"recovery"`
	Verification Verification `json:"verification"`
	Outcome      string       `json:"outcome"` // resolved, recovered, ambiguous, failed
	TotalMs      int64        `json:"total_ms"`
	CreatedAt    int64        `json:"created_at"`
}

// Sink consumes emitted records. Implementations must return quickly;
// persistence happens on their own time.
type Sink interface {
	Emit(m *StepMetrics)
}

// Recorder accumulates one step's metrics and emits them exactly once.
type Recorder struct {
	m       StepMetrics
	sink    Sink
	start   time.Time
	emitted bool
}

// NewRecorder starts a recorder for one step. A nil sink records into
// the void, which keeps call sites unconditional.
func NewRecorder(sink Sink, stepID, sessionID string) *Recorder {
	return &Recorder{
		m:     StepMetrics{StepID: stepID, SessionID: sessionID},
		sink:  sink,
		start: time.Now(),
	}
}

// SetResolution records the resolution phase.
func (r *Recorder) SetResolution(res Resolution) {
	if r.emitted {
		return
	}
	r.m.Resolution = res
}

// SetRecovery records the recovery phase.
func (r *Recorder) SetRecovery(rec Recovery) {
	if r.emitted {
		return
	}
	r.m.Recovery = rec
}

// SetVerification records the verification phase.
func (r *Recorder) SetVerification(v Verification) {
	if r.emitted {
		return
	}
	r.m.Verification = v
}

// Finish stamps the outcome and emits the record. Further calls are
// no-ops; the record is immutable once emitted.
func (r *Recorder) Finish(outcome string) *StepMetrics {
	if r.emitted {
		return &r.m
	}
	r.emitted = true
	r.m.Outcome = outcome
	r.m.TotalMs = time.Since(r.start).Milliseconds()
	r.m.CreatedAt = time.Now().UnixMilli()
	if r.sink != nil {
		r.sink.Emit(&r.m)
	}
	return &r.m
}

// LogSink writes each record to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Emit(m *StepMetrics) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("stepmetrics: step finished",
		"step_id", m.StepID,
		"outcome", m.Outcome,
		"winning_strategy", m.Resolution.WinningStrategy,
		"recovery_method", m.Recovery.Method,
		"verified", m.Verification.Passed,
		"total_ms", m.TotalMs,
	)
}
