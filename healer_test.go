package domheal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/domheal/domtree"
	"github.com/hazyhaar/domheal/internal/verify"
	"github.com/hazyhaar/domheal/locator"
)

func parse(t *testing.T, src string) *domtree.Tree {
	t.Helper()
	tree, err := domtree.ParseString(src, "https://example.com/app")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return tree
}

func testHealer(t *testing.T) *Healer {
	t.Helper()
	h, err := New(&Config{DBPath: filepath.Join(t.TempDir(), "domheal.db")}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func cssBundle(sel string) *locator.Bundle {
	return &locator.Bundle{
		Strategies: []locator.Strategy{{Kind: locator.KindCSS, Value: sel}},
		TagName:    "button",
	}
}

func TestResolveStepPrimary(t *testing.T) {
	h := testHealer(t)
	tree := parse(t, `<html><body><button id="go">Submit</button></body></html>`)

	res, err := h.ResolveStep(context.Background(), Step{Bundle: cssBundle("#go")}, tree)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Outcome != "resolved" || res.Method != "primary" {
		t.Errorf("outcome = %s method = %s", res.Outcome, res.Method)
	}
	if res.WinningStrategy == nil || res.WinningStrategy.Kind != locator.KindCSS {
		t.Errorf("winning strategy = %+v", res.WinningStrategy)
	}
	if res.Confidence <= 0 {
		t.Errorf("confidence = %f", res.Confidence)
	}
	if domtree.Attr(res.Element, "id") != "go" {
		t.Errorf("element = %s", domtree.Attr(res.Element, "id"))
	}
}

func TestResolveStepRecoversAndSavesPending(t *testing.T) {
	h := testHealer(t)
	ctx := context.Background()
	// Recorded selector is gone; only the signature text survives.
	tree := parse(t, `<html><body><button id="new-btn">Submit</button></body></html>`)

	res, err := h.ResolveStep(ctx, Step{
		Bundle:    cssBundle("#old-btn"),
		Signature: locator.Signature{Text: "Submit", Interactive: true},
	}, tree)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Outcome != "recovered" {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if res.Selector != "#new-btn" {
		t.Errorf("selector = %s", res.Selector)
	}

	pending, err := h.PendingCorrections(ctx, 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d entries", len(pending))
	}
	if pending[0].OriginalSelector != "#old-btn" || pending[0].CorrectedSelector != "#new-btn" {
		t.Errorf("correction = %s -> %s", pending[0].OriginalSelector, pending[0].CorrectedSelector)
	}
}

func TestConfirmedCorrectionIsReused(t *testing.T) {
	h := testHealer(t)
	ctx := context.Background()
	tree := parse(t, `<html><body><button id="new-btn">Submit</button></body></html>`)
	step := Step{
		Bundle: cssBundle("#old-btn"),
		Signature: locator.Signature{
			Text: "Submit", Interactive: true,
			PageURL: "https://example.com/app",
		},
	}

	// First breakage heals the slow way and leaves a pending fix.
	if _, err := h.ResolveStep(ctx, step, tree); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	pending, err := h.PendingCorrections(ctx, 1)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v, %v", pending, err)
	}
	if err := h.ConfirmCorrection(ctx, pending[0].ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// Same breakage again: the learned tier must win now.
	res, err := h.ResolveStep(ctx, step, tree)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if res.Method != "learned_pattern" {
		t.Errorf("method = %s, want the learned tier", res.Method)
	}
}

func TestResolveStepAmbiguous(t *testing.T) {
	h := testHealer(t)
	tree := parse(t, `<html><body>
		<button class="action">Go</button>
		<button class="action">Go</button>
	</body></html>`)

	res, err := h.ResolveStep(context.Background(), Step{Bundle: cssBundle(".action")}, tree)
	if !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("err = %v", err)
	}
	if len(res.Candidates) != 2 {
		t.Errorf("candidates = %d", len(res.Candidates))
	}
}

func TestResolveStepScopeNotFound(t *testing.T) {
	h := testHealer(t)
	tree := parse(t, `<html><body><p>no dialogs here</p></body></html>`)
	bundle := cssBundle("#ok")
	bundle.Scope = locator.ModalScope("")

	_, err := h.ResolveStep(context.Background(), Step{Bundle: bundle}, tree)
	if !errors.Is(err, ErrScopeNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestResolveStepRecoveryExhausted(t *testing.T) {
	h := testHealer(t)
	tree := parse(t, `<html><body><p>bare</p></body></html>`)

	_, err := h.ResolveStep(context.Background(), Step{
		Bundle:    cssBundle("#gone"),
		Signature: locator.Signature{Text: "Vanished"},
	}, tree)
	if !errors.Is(err, ErrRecoveryExhausted) {
		t.Fatalf("err = %v", err)
	}
}

func TestStepRunVerify(t *testing.T) {
	h := testHealer(t)
	tree := parse(t, `<html><body><button id="go">Submit</button><div id="result">done</div></body></html>`)

	run := h.StartStep(Step{Bundle: cssBundle("#go")})
	defer run.Finish()
	if _, err := run.Resolve(context.Background(), tree, nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	cond := locator.VisibleWithin("#result", 500*time.Millisecond)
	res, err := run.Verify(context.Background(), cond, verify.Static(tree))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Passed {
		t.Errorf("not passed: %s", res.Reason)
	}
}

func TestStepRunVerifyTimeout(t *testing.T) {
	h := testHealer(t)
	h.cfg.VerifyInterval = 2 * time.Millisecond
	tree := parse(t, `<html><body><button id="go">Submit</button></body></html>`)

	run := h.StartStep(Step{Bundle: cssBundle("#go")})
	defer run.Finish()
	if _, err := run.Resolve(context.Background(), tree, nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	cond := locator.VisibleWithin("#never", 20*time.Millisecond)
	_, err := run.Verify(context.Background(), cond, verify.Static(tree))
	if !errors.Is(err, ErrVerificationTimeout) {
		t.Fatalf("err = %v", err)
	}
}

func TestStepRunVerifyNilCondition(t *testing.T) {
	h := testHealer(t)
	run := h.StartStep(Step{Bundle: cssBundle("#go")})
	defer run.Finish()

	res, err := run.Verify(context.Background(), nil, nil)
	if err != nil || !res.Passed {
		t.Fatalf("res = %+v, err = %v", res, err)
	}
}

func TestDegradedMode(t *testing.T) {
	h, err := New(&Config{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer h.Close()
	if !h.Degraded() {
		t.Fatal("expected degraded mode without a db path")
	}

	tree := parse(t, `<html><body><button id="go">Submit</button></body></html>`)
	res, rerr := h.ResolveStep(context.Background(), Step{Bundle: cssBundle("#go")}, tree)
	if rerr != nil || res.Outcome != "resolved" {
		t.Fatalf("res = %+v, err = %v", res, rerr)
	}

	pending, perr := h.PendingCorrections(context.Background(), 0)
	if perr != nil || pending != nil {
		t.Errorf("pending = %v, %v", pending, perr)
	}
	if m, merr := h.RecentMetrics(context.Background(), 10); merr != nil || m != nil {
		t.Errorf("metrics = %v, %v", m, merr)
	}
}

func TestMetricsRecorded(t *testing.T) {
	h := testHealer(t)
	ctx := context.Background()
	tree := parse(t, `<html><body><button id="go">Submit</button></body></html>`)

	if _, err := h.ResolveStep(ctx, Step{Bundle: cssBundle("#go"), SessionID: "s1"}, tree); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	recent, err := h.RecentMetrics(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("recent = %d records", len(recent))
	}
	m := recent[0]
	if m.Outcome != "resolved" || m.Resolution.WinningStrategy != "css" {
		t.Errorf("outcome = %s strategy = %s", m.Outcome, m.Resolution.WinningStrategy)
	}
	if m.SessionID != "s1" {
		t.Errorf("session = %s", m.SessionID)
	}

	stats, err := h.MetricsAggregate(ctx)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if stats.TotalSteps != 1 || stats.ByOutcome["resolved"] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

// The semantic tier should see the page rendered as markdown context,
// not just the candidate list.
func TestRecoveryRequestCarriesPageContext(t *testing.T) {
	var gotContext string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !strings.HasSuffix(req.URL.Path, "/semantic") {
			io.WriteString(w, `{"confidence":0}`)
			return
		}
		body, _ := io.ReadAll(req.Body)
		var in struct {
			PageContext string `json:"page_context"`
		}
		if err := json.Unmarshal(body, &in); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotContext = in.PageContext
		io.WriteString(w, `{"candidate_index":0,"confidence":0.9,"reasoning":"text match"}`)
	}))
	defer srv.Close()

	h, err := New(&Config{
		DBPath: filepath.Join(t.TempDir(), "domheal.db"),
		AI:     AIConfig{Endpoint: srv.URL},
	}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { h.Close() })

	tree := parse(t, `<html><body>
		<h1>Invoice review</h1>
		<button id="new-btn">Submit</button>
	</body></html>`)
	res, err := h.ResolveStep(context.Background(), Step{
		Bundle: cssBundle("#old-btn"),
		Signature: locator.Signature{
			TagName:     "button",
			Text:        "Submit",
			Interactive: true,
		},
	}, tree)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Method != "semantic_ai" {
		t.Fatalf("method = %s", res.Method)
	}
	if gotContext == "" {
		t.Fatal("semantic request carried no page context")
	}
	if !strings.Contains(gotContext, "Invoice review") || !strings.Contains(gotContext, "Submit") {
		t.Errorf("page context = %q", gotContext)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domheal.yaml")
	data := strings.Join([]string{
		"db_path: /tmp/heal.db",
		"max_corrections: 50",
		"ai:",
		"  endpoint: http://localhost:9090",
		"  failure_threshold: 5",
	}, "\n")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "/tmp/heal.db" || cfg.MaxCorrections != 50 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.AI.Endpoint != "http://localhost:9090" || cfg.AI.FailureThreshold != 5 {
		t.Errorf("ai = %+v", cfg.AI)
	}
}

func TestInvalidBundle(t *testing.T) {
	h := testHealer(t)
	tree := parse(t, `<html><body></body></html>`)

	_, err := h.ResolveStep(context.Background(), Step{Bundle: &locator.Bundle{}}, tree)
	if err == nil {
		t.Fatal("expected a validation error")
	}
}
