package connector

import (
	"context"
	"fmt"
	"testing"

	"github.com/wolfgrid/sherlock/internal/retrieval"
	"github.com/wolfgrid/sherlock/internal/schema"
)

// mockProvider is a test double for retrieval.Provider.
type mockProvider struct {
	responses []string // returned in order; last entry repeats if exhausted
	err       error
	calls     int
	prompts   []string
}

func (m *mockProvider) Complete(_ context.Context, _, userPrompt string, _ int, _ float64) (string, error) {
	m.calls++
	m.prompts = append(m.prompts, userPrompt)
	if m.err != nil {
		return "", m.err
	}
	idx := m.calls - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

// installProvider swaps the provider factory for the test's lifetime.
func installProvider(t *testing.T, p retrieval.Provider, err error) {
	t.Helper()
	orig := retrieval.NewProvider
	retrieval.NewProvider = func(retrieval.Config) (retrieval.Provider, error) {
		return p, err
	}
	t.Cleanup(func() { retrieval.NewProvider = orig })
}

const fencedAnswer = "```json\n" + `[
  {"summary": "Armed robbery at a fuel station on Rivonia Road overnight, two suspects fled.", "sourceUrl": "https://news.example/a", "sourceId": "news-a", "latitude": -26.05, "longitude": 28.06, "severity": 4, "postedAt": "2026-08-31T21:00:00Z"},
  {"summary": "Vehicle hijacking reported outside a school in Soweto this morning.", "sourceUrl": "https://news.example/b", "locationLabel": "Soweto"},
  {"summary": "Missing sourceUrl entry should be discarded"},
  {"sourceUrl": "https://news.example/d"}
]` + "\n```"

func TestWebCollect(t *testing.T) {
	mock := &mockProvider{responses: []string{fencedAnswer}}
	installProvider(t, mock, nil)

	c := &WebConnector{Queries: []string{"List recent incidents. Focus geography: Sandton."}}
	res, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if mock.calls != 1 {
		t.Errorf("provider calls = %d, want 1", mock.calls)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("got %d candidates, want 2 (entries without both summary and sourceUrl are dropped)", len(res.Candidates))
	}

	first := res.Candidates[0]
	if first.SourcePlatform != schema.PlatformWeb {
		t.Errorf("platform = %q", first.SourcePlatform)
	}
	if first.SourceID != "news-a" {
		t.Errorf("sourceId = %q, want news-a", first.SourceID)
	}
	if first.Latitude == nil || *first.Latitude != -26.05 {
		t.Errorf("latitude = %v", first.Latitude)
	}
	if first.Severity == nil || *first.Severity != 4 {
		t.Errorf("severity = %v", first.Severity)
	}

	// No id in the payload: a synthetic one is derived from url+summary.
	second := res.Candidates[1]
	wantID := schema.SyntheticSourceID(schema.PlatformWeb, second.SourceURL, second.Summary)
	if second.SourceID != wantID {
		t.Errorf("synthetic sourceId = %q, want %q", second.SourceID, wantID)
	}
	if second.LocationLabel != "Soweto" {
		t.Errorf("locationLabel = %q", second.LocationLabel)
	}
	if second.Latitude != nil {
		t.Errorf("expected no coordinates, got %v", *second.Latitude)
	}
}

func TestWebCollectRunsEveryQuery(t *testing.T) {
	mock := &mockProvider{responses: []string{"[]"}}
	installProvider(t, mock, nil)

	c := &WebConnector{Queries: []string{"q one", "q two", "q three"}}
	res, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if mock.calls != 3 {
		t.Errorf("provider calls = %d, want 3", mock.calls)
	}
	if mock.prompts[1] != "q two" {
		t.Errorf("second prompt = %q", mock.prompts[1])
	}
	if len(res.Candidates) != 0 {
		t.Errorf("candidates = %d, want 0", len(res.Candidates))
	}
}

func TestWebCollectMissingKey(t *testing.T) {
	installProvider(t, nil, retrieval.ErrMissingAPIKey)

	c := &WebConnector{Queries: []string{"q"}}
	res, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("missing key must not be an error, got %v", err)
	}
	if len(res.Candidates) != 0 || len(res.Warnings) != 1 {
		t.Errorf("candidates=%d warnings=%v", len(res.Candidates), res.Warnings)
	}
}

func TestWebCollectProviderFailure(t *testing.T) {
	mock := &mockProvider{err: fmt.Errorf("upstream 502")}
	installProvider(t, mock, nil)

	c := &WebConnector{Queries: []string{"q"}}
	if _, err := c.Collect(context.Background()); err == nil {
		t.Fatal("expected error when the retrieval call fails")
	}
}

func TestWebCollectMalformedAnswer(t *testing.T) {
	mock := &mockProvider{responses: []string{"I could not find any incidents today, sorry."}}
	installProvider(t, mock, nil)

	c := &WebConnector{Queries: []string{"q"}}
	res, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("malformed answer must not be an error, got %v", err)
	}
	if len(res.Warnings) == 0 {
		t.Error("expected a warning for the unparseable answer")
	}
	if len(res.Candidates) != 0 {
		t.Errorf("candidates = %d, want 0", len(res.Candidates))
	}
}

func TestWebCollectSummaryTruncated(t *testing.T) {
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'a'
	}
	answer := fmt.Sprintf(`[{"summary": %q, "sourceUrl": "https://news.example/long"}]`, string(long))
	mock := &mockProvider{responses: []string{answer}}
	installProvider(t, mock, nil)

	c := &WebConnector{Queries: []string{"q"}}
	res, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if len(res.Candidates) != 1 {
		t.Fatalf("got %d candidates", len(res.Candidates))
	}
	if len(res.Candidates[0].Summary) != 280 {
		t.Errorf("summary length = %d, want 280", len(res.Candidates[0].Summary))
	}
}
