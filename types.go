package domheal

import (
	"github.com/hazyhaar/domheal/internal/heal"
	"github.com/hazyhaar/domheal/internal/memory"
	"github.com/hazyhaar/domheal/internal/resolve"
	"github.com/hazyhaar/domheal/internal/stepmetrics"
	"github.com/hazyhaar/domheal/internal/verify"
	"github.com/hazyhaar/domheal/locator"
)

// Bundle is the record-time locator description. Re-exported from locator.
type Bundle = locator.Bundle

// Strategy is one candidate way to find an element.
type Strategy = locator.Strategy

// Scope narrows strategy search to a container.
type Scope = locator.Scope

// Signature carries role/text/name hints independent of the bundle.
type Signature = locator.Signature

// Condition is a compound success-condition tree.
type Condition = locator.Condition

// Resolution is the primary resolver's outcome.
type Resolution = resolve.Resolution

// RecoveryResult is the cascade's outcome.
type RecoveryResult = heal.Result

// Correction is one learned-fix entry in correction memory.
type Correction = memory.Entry

// CorrectionMatch pairs an entry with its similarity score.
type CorrectionMatch = memory.Match

// VerifyResult is a success-condition evaluation outcome.
type VerifyResult = verify.Result

// TreeProvider fetches a fresh tree for condition polling.
type TreeProvider = verify.Provider

// StepMetrics is one step's telemetry record.
type StepMetrics = stepmetrics.StepMetrics

// MetricsStats aggregates emitted step metrics.
type MetricsStats = stepmetrics.Stats
