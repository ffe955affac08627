// Package heal is the self-healing recovery cascade. When primary
// resolution fails, five tiers run strictly in order, cheapest first:
// coordinate proximity, learned corrections, semantic AI matching,
// visual AI matching, and finally a plain text search over the target
// signature. The first qualifying success wins; an unreachable AI
// service counts as a zero-confidence tier and the cascade moves on.
package heal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/domheal/domtree"
	"github.com/hazyhaar/domheal/internal/aiclient"
	"github.com/hazyhaar/domheal/internal/memory"
	"github.com/hazyhaar/domheal/locator"
)

// Tier method names, in cascade order.
const (
	MethodCoordinate = "coordinate"
	MethodLearned    = "learned_pattern"
	MethodSemantic   = "semantic_ai"
	MethodVisual     = "visual_ai"
	MethodTextSearch = "text_search"
)

// Config holds the cascade thresholds and limits.
type Config struct {
	CoordinateThreshold float64       `yaml:"coordinate_threshold"` // exact-point acceptance
	GridThreshold       float64       `yaml:"grid_threshold"`       // grid-sample acceptance
	GridRadius          float64       `yaml:"grid_radius"`          // px around the recorded point
	GridStep            float64       `yaml:"grid_step"`            // px between samples
	LearnedConfidence   float64       `yaml:"learned_confidence"`   // fixed confidence for memory hits
	LearnedLimit        int           `yaml:"learned_limit"`        // corrections tried per step
	SemanticThreshold   float64       `yaml:"semantic_threshold"`   // service confidence floor
	VisualThreshold     float64       `yaml:"visual_threshold"`
	TierTimeout         time.Duration `yaml:"tier_timeout"` // budget per AI tier
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		CoordinateThreshold: 0.5,
		GridThreshold:       0.4,
		GridRadius:          100,
		GridStep:            20,
		LearnedConfidence:   0.82,
		LearnedLimit:        5,
		SemanticThreshold:   0.7,
		VisualThreshold:     0.6,
		TierTimeout:         20 * time.Second,
	}
}

// Context carries everything one recovery attempt may use. The
// signature's hints are independent of the failed bundle so that a
// stale selector does not poison the fallbacks.
type Context struct {
	Tree               *domtree.Tree
	Signature          locator.Signature
	FailedSelector     string // primary selector of the failed bundle
	FailureReason      string
	Screenshot         []byte
	RecordedScreenshot []byte
	PageContext        string // optional markdown context for AI tiers
}

// Result is the outcome of one cascade run.
type Result struct {
	Success      bool          `json:"success"`
	Element      *domtree.Node `json:"-"`
	Selector     string        `json:"selector,omitempty"`
	Confidence   float64       `json:"confidence"`
	Method       string        `json:"method"`
	Reasoning    string        `json:"reasoning"`
	MethodsTried []string      `json:"methods_tried"`
	LearnedFrom  *memory.Entry `json:"-"` // set when the learned tier matched
}

// Cascade runs the recovery tiers.
type Cascade struct {
	cfg    Config
	memory *memory.Store
	ai     *aiclient.Client
	logger *slog.Logger
}

// New creates a Cascade. Memory and AI client may be nil; the
// corresponding tiers are then skipped.
func New(cfg Config, mem *memory.Store, ai *aiclient.Client, logger *slog.Logger) *Cascade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cascade{cfg: cfg, memory: mem, ai: ai, logger: logger}
}

// Recover walks the tiers in order and returns the first qualifying
// success, or a failure result carrying the original reason. Tiers are
// never retried and never reordered; cancellation is honoured between
// tiers, not inside one.
func (c *Cascade) Recover(ctx context.Context, rc *Context) *Result {
	tiers := []struct {
		name string
		run  func(context.Context, *Context) *Result
	}{
		{MethodCoordinate, c.tierCoordinate},
		{MethodLearned, c.tierLearned},
		{MethodSemantic, c.tierSemantic},
		{MethodVisual, c.tierVisual},
		{MethodTextSearch, c.tierTextSearch},
	}

	var tried []string
	for _, tier := range tiers {
		if ctx.Err() != nil {
			break
		}
		tried = append(tried, tier.name)
		res := tier.run(ctx, rc)
		if res != nil && res.Success {
			res.Method = tier.name
			res.MethodsTried = tried
			if res.Selector == "" && res.Element != nil {
				res.Selector = domtree.SelectorFor(res.Element)
			}
			c.logger.Info("heal: recovered", "method", tier.name,
				"confidence", res.Confidence, "selector", res.Selector)
			return res
		}
	}

	return &Result{
		Method:       "none",
		Reasoning:    fmt.Sprintf("all recovery tiers failed; original failure: %s", rc.FailureReason),
		MethodsTried: tried,
	}
}
