package processor

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/pollmark/internal/core/claim"
	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/engine/effect"
	"github.com/vietddude/pollmark/internal/engine/emitter"
	"github.com/vietddude/pollmark/internal/engine/extract"
	"github.com/vietddude/pollmark/internal/engine/predicate"
	"github.com/vietddude/pollmark/internal/infra/document"
	"github.com/vietddude/pollmark/internal/infra/store/memory"
)

const (
	submitted = "Assessment Submitted"
	reviewed  = "Assessment Reviewed"
	email     = "Email"
	file      = "Assessment File URL"
)

type stubProvider struct {
	mu       sync.Mutex
	calls    []string
	fail     map[string]error
	requires effect.Requirement
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Requires() effect.Requirement { return s.requires }

func (s *stubProvider) Apply(ctx context.Context, rec domain.Record) (domain.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, rec.ID)
	if err := s.fail[rec.ID]; err != nil {
		return domain.Outcome{}, err
	}
	return domain.Outcome{
		Receipt: "r-" + rec.ID,
		Fields:  map[string]domain.Value{"Receipt": domain.RichText("r-" + rec.ID)},
	}, nil
}

func (s *stubProvider) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// flakyStore fails the next patches with the queued errors.
type flakyStore struct {
	*memory.Store
	patchErrs []error
}

func (f *flakyStore) Patch(ctx context.Context, id string, updates map[string]domain.Value) error {
	if len(f.patchErrs) > 0 {
		err := f.patchErrs[0]
		f.patchErrs = f.patchErrs[1:]
		return err
	}
	return f.Store.Patch(ctx, id, updates)
}

type recordingEmitter struct {
	events []emitter.CompletionEvent
}

func (r *recordingEmitter) Emit(ctx context.Context, ev emitter.CompletionEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEmitter) Close() error { return nil }

func eligibility() predicate.Expr {
	return predicate.All(predicate.Checkbox(submitted, true), predicate.Checkbox(reviewed, false))
}

func row(id string) domain.Row {
	return domain.Row{ID: id, Properties: map[string]domain.Value{
		"Name":    domain.Title("Applicant " + id),
		email:     domain.Email(id + "@example.com"),
		file:      domain.URL("https://files.example.com/" + id + ".docx"),
		submitted: domain.Checkbox(true),
		reviewed:  domain.Checkbox(false),
	}}
}

func newProcessor(t *testing.T, st *memory.Store, prov effect.Provider, mutate func(*Config)) *Processor {
	t.Helper()
	cfg := Config{
		Instance:        "assessment",
		CompletionField: reviewed,
		Store:           st,
		Extractor:       extract.New(extract.Fields{Name: "Name", Contact: email, Payload: file}, domain.ContactEmail, ""),
		Provider:        prov,
		Predicate:       eligibility(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

// cycle runs one query and batch the way the scheduler does.
func cycle(t *testing.T, p *Processor, st interface {
	Query(context.Context, predicate.Expr) ([]domain.Row, error)
}) (Summary, error) {
	t.Helper()
	rows, err := st.Query(context.Background(), eligibility())
	require.NoError(t, err)
	return p.Process(context.Background(), rows)
}

func docx(t *testing.T, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>` + text + `</w:t></w:r></w:p></w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type staticFetcher []byte

func (f staticFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) { return f, nil }

type countingGenerator struct {
	reply string
	calls int
}

func (g *countingGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.calls++
	return g.reply, nil
}

func TestEndToEndEvaluation(t *testing.T) {
	st := memory.New(row("p1"))
	gen := &countingGenerator{reply: "SCORE: 8\nFEEDBACK: Good."}
	ev, err := effect.NewEvaluator(staticFetcher(docx(t, "X")), gen, effect.EvaluatorConfig{
		ScoreField:    "Assessment Score",
		FeedbackField: "Assessment Feedback",
	})
	require.NoError(t, err)

	p := newProcessor(t, st, ev, nil)

	summary, err := cycle(t, p, st)
	require.NoError(t, err)
	assert.Equal(t, Summary{Eligible: 1, Marked: 1}, summary)

	patches := st.Patches()
	require.Len(t, patches, 1)
	assert.Equal(t, "p1", patches[0].ID)
	assert.Equal(t, map[string]domain.Value{
		"Assessment Score":    domain.Number(8),
		"Assessment Feedback": domain.RichText("Good."),
		reviewed:              domain.Checkbox(true),
	}, patches[0].Updates)

	summary, err = cycle(t, p, st)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
	assert.Equal(t, 1, gen.calls, "completed rows must not reach the provider again")
	assert.Len(t, st.Patches(), 1)
}

func TestIsolation(t *testing.T) {
	st := memory.New(row("a"), row("b"), row("c"), row("d"), row("e"))
	prov := &stubProvider{fail: map[string]error{"c": fmt.Errorf("send: %w", domain.ErrUnavailable)}}
	p := newProcessor(t, st, prov, nil)

	summary, err := cycle(t, p, st)
	require.NoError(t, err)
	assert.Equal(t, Summary{Eligible: 5, Marked: 4, Failed: 1}, summary)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, prov.Calls())

	rows, err := st.Query(context.Background(), eligibility())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c", rows[0].ID, "failed record stays eligible")
}

func TestDeniedDocumentOnlyFailsItsRecord(t *testing.T) {
	body := docx(t, "Essay")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/a.docx" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write(body)
	}))
	defer server.Close()

	var rows []domain.Row
	for _, id := range []string{"a", "b", "c"} {
		r := row(id)
		r.Properties[file] = domain.URL(server.URL + "/" + id + ".docx")
		rows = append(rows, r)
	}
	st := memory.New(rows...)

	gen := &countingGenerator{reply: "SCORE: 7\nFEEDBACK: Fine."}
	ev, err := effect.NewEvaluator(document.NewFetcher(5*time.Second, document.DefaultMaxBytes), gen, effect.EvaluatorConfig{
		ScoreField:    "Assessment Score",
		FeedbackField: "Assessment Feedback",
	})
	require.NoError(t, err)
	p := newProcessor(t, st, ev, nil)

	summary, err := cycle(t, p, st)
	require.NoError(t, err, "a denied download must not abort the batch")
	assert.Equal(t, Summary{Eligible: 3, Marked: 2, Failed: 1}, summary)
	assert.Equal(t, 2, gen.calls)

	left, err := st.Query(context.Background(), eligibility())
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "a", left[0].ID)
}

type panicProvider struct {
	stubProvider
	on string
}

func (p *panicProvider) Apply(ctx context.Context, rec domain.Record) (domain.Outcome, error) {
	if rec.ID == p.on {
		panic("boom")
	}
	return p.stubProvider.Apply(ctx, rec)
}

func TestPanickingProviderOnlyFailsItsRecord(t *testing.T) {
	st := memory.New(row("a"), row("b"), row("c"))
	ledger := claim.NewMemoryLedger()
	prov := &panicProvider{on: "a"}
	p := newProcessor(t, st, prov, func(c *Config) { c.Ledger = ledger })

	var summary Summary
	require.NotPanics(t, func() {
		var err error
		summary, err = cycle(t, p, st)
		require.NoError(t, err)
	})
	assert.Equal(t, Summary{Eligible: 3, Marked: 2, Failed: 1}, summary)
	assert.Equal(t, []string{"b", "c"}, prov.Calls())

	claimed, err := ledger.Claim(context.Background(), "assessment", "a", claim.DefaultTTL)
	require.NoError(t, err)
	assert.True(t, claimed, "claim released after panic")

	var marked []string
	for _, patch := range st.Patches() {
		marked = append(marked, patch.ID)
	}
	assert.Equal(t, "b,c", strings.Join(marked, ","))
}

func TestAuthFailureAbortsBatch(t *testing.T) {
	st := memory.New(row("a"), row("b"), row("c"))
	prov := &stubProvider{fail: map[string]error{"b": fmt.Errorf("send: %w", domain.ErrAuth)}}
	p := newProcessor(t, st, prov, nil)

	summary, err := cycle(t, p, st)
	assert.ErrorIs(t, err, domain.ErrAuth)
	assert.Equal(t, Summary{Eligible: 3, Marked: 1, Failed: 1}, summary)
	assert.Equal(t, []string{"a", "b"}, prov.Calls())
}

func TestStoreAuthFailureAbortsBatch(t *testing.T) {
	st := &flakyStore{Store: memory.New(row("a"), row("b")), patchErrs: []error{fmt.Errorf("patch: %w", domain.ErrAuth)}}
	prov := &stubProvider{}
	p := newProcessor(t, st.Store, prov, func(c *Config) { c.Store = st })

	summary, err := cycle(t, p, st)
	assert.ErrorIs(t, err, domain.ErrAuth)
	assert.Equal(t, Summary{Eligible: 2, MarkFailed: 1}, summary)
	assert.Equal(t, []string{"a"}, prov.Calls())
}

func TestSkipsRecordsWithoutRequiredFields(t *testing.T) {
	noEmail := row("a")
	delete(noEmail.Properties, email)
	st := memory.New(noEmail, row("b"))
	prov := &stubProvider{requires: effect.RequireContact}
	p := newProcessor(t, st, prov, nil)

	summary, err := cycle(t, p, st)
	require.NoError(t, err)
	assert.Equal(t, Summary{Eligible: 2, Marked: 1, Skipped: 1}, summary)
	assert.Equal(t, []string{"b"}, prov.Calls())
}

func TestSkipsRowsNotMatchingPredicate(t *testing.T) {
	done := row("a")
	done.Properties[reviewed] = domain.Checkbox(true)
	st := memory.New(row("b"))
	prov := &stubProvider{}
	p := newProcessor(t, st, prov, nil)

	summary, err := p.Process(context.Background(), []domain.Row{done, row("b")})
	require.NoError(t, err)
	assert.Equal(t, Summary{Eligible: 2, Marked: 1, Skipped: 1}, summary)
	assert.Equal(t, []string{"b"}, prov.Calls())
}

func TestMarkFailureIsReconciledWithoutSecondSideEffect(t *testing.T) {
	st := &flakyStore{Store: memory.New(row("a")), patchErrs: []error{fmt.Errorf("patch: %w", domain.ErrUnavailable)}}
	ledger := claim.NewMemoryLedger()
	prov := &stubProvider{}
	p := newProcessor(t, st.Store, prov, func(c *Config) {
		c.Store = st
		c.Ledger = ledger
	})

	summary, err := cycle(t, p, st)
	require.NoError(t, err)
	assert.Equal(t, Summary{Eligible: 1, MarkFailed: 1}, summary)

	_, ok, err := ledger.Outcome(context.Background(), "assessment", "a")
	require.NoError(t, err)
	assert.True(t, ok, "outcome kept for the next cycle")

	summary, err = cycle(t, p, st)
	require.NoError(t, err)
	assert.Equal(t, Summary{Eligible: 1, Reconciled: 1}, summary)
	assert.Equal(t, []string{"a"}, prov.Calls(), "side effect ran once")

	patches := st.Patches()
	require.Len(t, patches, 1)
	assert.Equal(t, domain.RichText("r-a"), patches[0].Updates["Receipt"])

	pending, err := ledger.Pending(context.Background(), "assessment")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFailedSideEffectReleasesClaim(t *testing.T) {
	st := memory.New(row("a"))
	ledger := claim.NewMemoryLedger()
	prov := &stubProvider{fail: map[string]error{"a": fmt.Errorf("llm: %w", domain.ErrValidation)}}
	p := newProcessor(t, st, prov, func(c *Config) { c.Ledger = ledger })

	summary, err := cycle(t, p, st)
	require.NoError(t, err)
	assert.Equal(t, Summary{Eligible: 1, Failed: 1}, summary)

	claimed, err := ledger.Claim(context.Background(), "assessment", "a", claim.DefaultTTL)
	require.NoError(t, err)
	assert.True(t, claimed, "claim released after failure")
}

func TestLiveClaimSkipsRecord(t *testing.T) {
	st := memory.New(row("a"))
	ledger := claim.NewMemoryLedger()
	_, err := ledger.Claim(context.Background(), "assessment", "a", claim.DefaultTTL)
	require.NoError(t, err)

	prov := &stubProvider{}
	p := newProcessor(t, st, prov, func(c *Config) { c.Ledger = ledger })

	summary, err := cycle(t, p, st)
	require.NoError(t, err)
	assert.Equal(t, Summary{Eligible: 1, Skipped: 1}, summary)
	assert.Empty(t, prov.Calls())
}

func TestVanishedRecordIsSkipped(t *testing.T) {
	st := memory.New(row("a"))
	ledger := claim.NewMemoryLedger()
	prov := &stubProvider{}
	p := newProcessor(t, st, prov, func(c *Config) { c.Ledger = ledger })

	rows, err := st.Query(context.Background(), eligibility())
	require.NoError(t, err)
	st.Delete("a")

	summary, err := p.Process(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, Summary{Eligible: 1, Skipped: 1}, summary)

	pending, err := ledger.Pending(context.Background(), "assessment")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEmitsCompletionEvents(t *testing.T) {
	st := memory.New(row("a"), row("b"))
	rec := &recordingEmitter{}
	p := newProcessor(t, st, &stubProvider{}, func(c *Config) { c.Emitter = rec })

	_, err := cycle(t, p, st)
	require.NoError(t, err)

	require.Len(t, rec.events, 2)
	assert.Equal(t, "a", rec.events[0].RecordID)
	assert.Equal(t, "Applicant a", rec.events[0].Name)
	assert.Equal(t, "r-a", rec.events[0].Receipt)
	assert.Equal(t, "assessment", rec.events[1].Instance)
}

func TestManualMark(t *testing.T) {
	st := memory.New(row("a"))
	p := newProcessor(t, st, &stubProvider{}, nil)

	out := effect.ScoreOutcome(9, "Great work.", "Assessment Score", "Assessment Feedback")
	require.NoError(t, p.Mark(context.Background(), domain.Record{ID: "a"}, out))

	got, err := st.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, domain.Checkbox(true), got.Properties[reviewed])
	assert.Equal(t, domain.Number(9), got.Properties["Assessment Score"])

	err = p.Mark(context.Background(), domain.Record{ID: "missing"}, out)
	assert.Error(t, err)
}

func TestCancelledContextStopsBatch(t *testing.T) {
	st := memory.New(row("a"), row("b"))
	prov := &stubProvider{}
	p := newProcessor(t, st, prov, nil)

	rows, err := st.Query(context.Background(), eligibility())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Process(ctx, rows)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, prov.Calls())
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
