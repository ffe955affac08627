package memory

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/domheal/dbopen"
	"github.com/hazyhaar/domheal/idgen"
	"github.com/hazyhaar/domheal/locator"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := New(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
	s.IDs = idgen.Sequential("corr_")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveInfersPatternAndDomain(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	e := &Entry{
		PageURL:           "https://app.example.com/billing",
		OriginalSelector:  "#submit-btn-123",
		CorrectedSelector: "#submit-btn-456",
		Signature:         locator.Signature{TagName: "button", Text: "Submit"},
	}
	if err := s.Save(ctx, e); err != nil {
		t.Fatalf("save: %v", err)
	}
	if e.ID == "" {
		t.Error("save should assign an id")
	}

	got, err := s.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Domain != "app.example.com" {
		t.Errorf("domain = %q", got.Domain)
	}
	if got.Pattern.Kind != PatternRegex {
		t.Fatalf("pattern kind = %s", got.Pattern.Kind)
	}
	if out, ok := got.Pattern.Apply("#submit-btn-123"); !ok || out != "#submit-btn-456" {
		t.Errorf("apply = %q, %v", out, ok)
	}
	if got.Signature.Text != "Submit" {
		t.Errorf("signature text = %q", got.Signature.Text)
	}
}

func TestGetMissing(t *testing.T) {
	s := testStore(t)
	got, err := s.Get(context.Background(), "corr_nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestFindSimilarIgnoresPending(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	pending := &Entry{
		PageURL:           "https://example.com/a",
		OriginalSelector:  "#old",
		CorrectedSelector: "[data-testid=go]",
		Signature:         locator.Signature{Text: "Go"},
	}
	if err := s.Save(ctx, pending); err != nil {
		t.Fatalf("save: %v", err)
	}

	matches, err := s.FindSimilar(ctx, Query{PageURL: "https://example.com/b", Text: "Go"}, 5)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("pending entry returned: %d matches", len(matches))
	}

	if err := s.Confirm(ctx, pending.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	matches, err = s.FindSimilar(ctx, Query{PageURL: "https://example.com/b", Text: "Go"}, 5)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("confirmed entry missing: %d matches", len(matches))
	}
}

func TestFindSimilarRanksBySuccessRate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	flaky := &Entry{
		PageURL:           "https://example.com/list",
		OriginalSelector:  "#row-1",
		CorrectedSelector: "#row-2",
		Signature:         locator.Signature{Text: "Edit customer"},
		Validated:         StatusConfirmed,
		SuccessCount:      1,
		FailureCount:      3,
	}
	solid := &Entry{
		PageURL:           "https://example.com/list",
		OriginalSelector:  "#row-3",
		CorrectedSelector: "#row-4",
		Signature:         locator.Signature{Text: "Edit customer"},
		Validated:         StatusConfirmed,
		SuccessCount:      4,
	}
	for _, e := range []*Entry{flaky, solid} {
		if err := s.Save(ctx, e); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	matches, err := s.FindSimilar(ctx, Query{
		PageURL:  "https://example.com/detail",
		Text:     "Edit customer",
		Selector: "#row-9",
	}, 5)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches: %d, want 2", len(matches))
	}
	if matches[0].Entry.ID != solid.ID {
		t.Errorf("first match %s, want the high success-rate entry", matches[0].Entry.ID)
	}
}

func TestFindSimilarUnrelatedScoresZero(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	e := &Entry{
		PageURL:           "https://other.example.net/x",
		OriginalSelector:  ".widget",
		CorrectedSelector: ".widget-v2",
		Signature:         locator.Signature{Text: "Quarterly report"},
		Validated:         StatusConfirmed,
	}
	if err := s.Save(ctx, e); err != nil {
		t.Fatalf("save: %v", err)
	}

	matches, err := s.FindSimilar(ctx, Query{PageURL: "https://unrelated.io/y", Text: "Logout"}, 5)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("unrelated entry returned with score %f", matches[0].Score)
	}
}

func TestRecordFailurePrunes(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	e := &Entry{
		PageURL:           "https://example.com/a",
		OriginalSelector:  "#a",
		CorrectedSelector: "#b",
		Signature:         locator.Signature{Text: "Save"},
		Validated:         StatusConfirmed,
	}
	if err := s.Save(ctx, e); err != nil {
		t.Fatalf("save: %v", err)
	}

	for i := 0; i < 4; i++ {
		if err := s.RecordFailure(ctx, e.ID); err != nil {
			t.Fatalf("record failure %d: %v", i, err)
		}
	}

	got, err := s.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("entry survived 4 failures with 0 successes: %+v", got)
	}
	matches, err := s.FindSimilar(ctx, Query{PageURL: "https://example.com/a", Text: "Save"}, 5)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(matches) != 0 {
		t.Error("pruned entry still retrievable")
	}
}

func TestRecordFailureKeepsUsefulEntries(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	e := &Entry{
		PageURL:           "https://example.com/a",
		OriginalSelector:  "#a",
		CorrectedSelector: "#b",
		Validated:         StatusConfirmed,
	}
	if err := s.Save(ctx, e); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.RecordSuccess(ctx, e.ID); err != nil {
		t.Fatalf("record success: %v", err)
	}
	for i := 0; i < 6; i++ {
		if err := s.RecordFailure(ctx, e.ID); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	got, err := s.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("entry with a past success must not be pruned")
	}
	if got.FailureCount != 6 || got.SuccessCount != 1 {
		t.Errorf("counts = %d/%d", got.SuccessCount, got.FailureCount)
	}
}

func TestRejectDiscards(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	e := &Entry{PageURL: "https://example.com", OriginalSelector: "#a", CorrectedSelector: "#b"}
	if err := s.Save(ctx, e); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Reject(ctx, e.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	got, err := s.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("rejected entry still present")
	}
}

func TestTrimEvictsLeastUseful(t *testing.T) {
	s := testStore(t)
	s.MaxEntries = 2
	ctx := context.Background()

	old := &Entry{
		PageURL: "https://example.com", OriginalSelector: "#a", CorrectedSelector: "#b",
		SuccessCount: 5, CreatedAt: 1000,
	}
	loser := &Entry{
		PageURL: "https://example.com", OriginalSelector: "#c", CorrectedSelector: "#d",
		FailureCount: 2, CreatedAt: 2000,
	}
	fresh := &Entry{
		PageURL: "https://example.com", OriginalSelector: "#e", CorrectedSelector: "#f",
		SuccessCount: 1, CreatedAt: 3000,
	}
	for _, e := range []*Entry{old, loser, fresh} {
		if err := s.Save(ctx, e); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
	gone, err := s.Get(ctx, loser.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if gone != nil {
		t.Error("lowest net-success entry should have been evicted")
	}
}

func TestPendingLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	e := &Entry{PageURL: "https://example.com", OriginalSelector: "#a", CorrectedSelector: "#b"}
	if err := s.Save(ctx, e); err != nil {
		t.Fatalf("save: %v", err)
	}

	pending, err := s.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != e.ID {
		t.Fatalf("pending = %d entries", len(pending))
	}

	if err := s.Confirm(ctx, e.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	pending, err = s.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 0 {
		t.Error("confirmed entry still pending")
	}

	// Rejecting after confirmation must not delete.
	if err := s.Reject(ctx, e.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	got, err := s.Get(ctx, e.ID)
	if err != nil || got == nil {
		t.Fatalf("confirmed entry deleted by late reject (err %v)", err)
	}
}

func TestDegradedStoreIsSilent(t *testing.T) {
	s := Discard()
	ctx := context.Background()

	if !s.Degraded() {
		t.Fatal("Discard should be degraded")
	}
	e := &Entry{PageURL: "https://example.com", OriginalSelector: "#a", CorrectedSelector: "#b"}
	if err := s.Save(ctx, e); err != nil {
		t.Errorf("save: %v", err)
	}
	matches, err := s.FindSimilar(ctx, Query{Text: "x"}, 5)
	if err != nil || matches != nil {
		t.Errorf("find: %v, %v", matches, err)
	}
	if err := s.RecordFailure(ctx, "whatever"); err != nil {
		t.Errorf("record failure: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestInferPatternPreferredAttributes(t *testing.T) {
	p := InferPattern("div.toolbar > button.primary", `[data-testid="save"]`)
	if p.Kind != PatternAttributes {
		t.Fatalf("kind = %s", p.Kind)
	}
	if len(p.Attributes) != 1 || p.Attributes[0] != "data-testid" {
		t.Errorf("attributes = %v", p.Attributes)
	}
	if _, ok := p.Apply("div.toolbar > button.primary"); ok {
		t.Error("attribute pattern must not apply as a rewrite")
	}
}

func TestInferPatternNoStructure(t *testing.T) {
	p := InferPattern("#a", "#a")
	if p.Kind != PatternNone {
		t.Errorf("identical selectors: kind = %s", p.Kind)
	}
}

func TestSelectorShape(t *testing.T) {
	a := selectorShape("#item-123 > .row")
	b := selectorShape("#item-987 > .row")
	if a != b {
		t.Errorf("shapes differ: %q vs %q", a, b)
	}
}
