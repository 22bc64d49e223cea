package cycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wolfgrid/sherlock/internal/config"
	"github.com/wolfgrid/sherlock/internal/connector"
	"github.com/wolfgrid/sherlock/internal/geocode"
	"github.com/wolfgrid/sherlock/internal/schema"
	"github.com/wolfgrid/sherlock/internal/state"
)

type stubConnector struct {
	name  string
	cands []schema.IncidentCandidate
	cp    schema.Checkpoint
	calls int
}

func (s *stubConnector) Name() string { return s.name }

func (s *stubConnector) Collect(_ context.Context) (*schema.ConnectorResult, error) {
	s.calls++
	return &schema.ConnectorResult{
		Connector:  s.name,
		Candidates: s.cands,
		Checkpoint: s.cp,
	}, nil
}

type stubSubmitter struct {
	calls  int
	gotLen int
	dryRun bool
	err    error
	result *schema.SubmissionResult
}

func (s *stubSubmitter) Submit(_ context.Context, incidents []schema.NormalizedIncident, dryRun bool) (*schema.SubmissionResult, error) {
	s.calls++
	s.gotLen = len(incidents)
	s.dryRun = dryRun
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &schema.SubmissionResult{Submitted: len(incidents), Accepted: len(incidents)}, nil
}

type nilGeocoder struct{}

func (nilGeocoder) Resolve(context.Context, string) *geocode.Result { return nil }

func fptr(v float64) *float64 { return &v }

func candidate(id string) schema.IncidentCandidate {
	return schema.IncidentCandidate{
		Connector:      connector.XName,
		SourcePlatform: schema.PlatformX,
		SourceID:       id,
		SourceURL:      "https://x.com/i/web/status/" + id,
		Summary:        "Armed robbery in progress near the mall entrance, " + id,
		RawText:        "Armed robbery in progress near the mall entrance, " + id,
		Latitude:       fptr(-26.20),
		Longitude:      fptr(28.04),
		CollectedAt:    time.Now().UTC(),
	}
}

func testRunner(sub Submitter, cands ...schema.IncidentCandidate) (*Runner, *stubConnector) {
	stub := &stubConnector{
		name:  connector.XName,
		cands: cands,
		cp:    schema.Checkpoint{SinceID: "987", LastRunAt: "2026-09-01T00:00:00Z"},
	}
	r := &Runner{
		Config:    config.Config{ReporterID: "sherlock-agent"},
		Logger:    zap.NewNop(),
		Submitter: sub,
		Geocoder:  nilGeocoder{},
		Connectors: func(schema.CollectionPlan, string) []connector.Connector {
			return []connector.Connector{stub}
		},
	}
	return r, stub
}

func TestRunStopsEarlyWhenEnough(t *testing.T) {
	sub := &stubSubmitter{}
	r, stub := testRunner(sub, candidate("a"), candidate("b"), candidate("c"))

	summary, err := r.Run(context.Background(), Options{
		Mode:      schema.ModeAutonomous,
		DryRun:    true,
		StateFile: filepath.Join(t.TempDir(), "state.json"),
		MaxPasses: 4,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Passes) != 1 {
		t.Fatalf("passes = %d, want 1", len(summary.Passes))
	}
	if stub.calls != 1 {
		t.Errorf("connector calls = %d, want 1", stub.calls)
	}
	if summary.Normalized != 3 {
		t.Errorf("normalized = %d, want 3", summary.Normalized)
	}
}

func TestRunExhaustsPassesWhenShort(t *testing.T) {
	sub := &stubSubmitter{}
	r, stub := testRunner(sub, candidate("only"))

	summary, err := r.Run(context.Background(), Options{
		Mode:      schema.ModeAutonomous,
		DryRun:    true,
		StateFile: filepath.Join(t.TempDir(), "state.json"),
		MaxPasses: 3,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Passes) != 3 {
		t.Fatalf("passes = %d, want 3", len(summary.Passes))
	}
	if stub.calls != 3 {
		t.Errorf("connector calls = %d, want 3", stub.calls)
	}
	// The same candidate re-collected each pass never inflates the output.
	if summary.Normalized != 1 {
		t.Errorf("normalized = %d, want 1", summary.Normalized)
	}
	if sub.calls != 1 {
		t.Errorf("submitter calls = %d, want exactly 1", sub.calls)
	}
}

func TestRunMaxPassesClamped(t *testing.T) {
	sub := &stubSubmitter{}
	r, _ := testRunner(sub) // no candidates, never reaches the floor

	summary, err := r.Run(context.Background(), Options{
		Mode:      schema.ModeAutonomous,
		DryRun:    true,
		StateFile: filepath.Join(t.TempDir(), "state.json"),
		MaxPasses: 99,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Passes) != MaxPasses {
		t.Errorf("passes = %d, want clamp at %d", len(summary.Passes), MaxPasses)
	}
}

func TestRunDryRunNeverWritesState(t *testing.T) {
	sub := &stubSubmitter{}
	r, _ := testRunner(sub, candidate("a"))
	stateFile := filepath.Join(t.TempDir(), "state.json")

	summary, err := r.Run(context.Background(), Options{
		Mode:      schema.ModeAutonomous,
		DryRun:    true,
		StateFile: stateFile,
		MaxPasses: 1,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.StateCommitted {
		t.Error("StateCommitted = true on dry run")
	}
	if !sub.dryRun {
		t.Error("submitter did not see dryRun")
	}
	if _, err := os.Stat(stateFile); !os.IsNotExist(err) {
		t.Errorf("state file exists after dry run (stat err = %v)", err)
	}
}

func TestRunCleanCommit(t *testing.T) {
	sub := &stubSubmitter{}
	r, _ := testRunner(sub, candidate("a"), candidate("b"), candidate("c"))
	stateFile := filepath.Join(t.TempDir(), "state.json")

	summary, err := r.Run(context.Background(), Options{
		Mode:      schema.ModeAutonomous,
		TaskID:    "t-9",
		StateFile: stateFile,
		MaxPasses: 1,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.StateCommitted {
		t.Fatal("StateCommitted = false, want commit")
	}

	st, err := state.Load(stateFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.Connectors.XAPI.SinceID != "987" {
		t.Errorf("sinceId = %q, want checkpoint cursor", st.Connectors.XAPI.SinceID)
	}
	if len(st.Autonomy.RecentIncidentFingerprints) != 3 {
		t.Errorf("fingerprints = %d, want 3", len(st.Autonomy.RecentIncidentFingerprints))
	}
	if st.Autonomy.LastRunMode != string(schema.ModeAutonomous) {
		t.Errorf("lastRunMode = %q", st.Autonomy.LastRunMode)
	}
	if st.Autonomy.LastTaskID != "t-9" {
		t.Errorf("lastTaskId = %q", st.Autonomy.LastTaskID)
	}
	if st.LastChecks.SherlockCycle == "" {
		t.Error("sherlock_cycle lastCheck not set")
	}
	if st.LastChecks.WolfIngestSubmit == "" {
		t.Error("wolf_ingest_submit lastCheck not set after accepted submission")
	}
}

func TestRunSubmissionErrorBlocksCommit(t *testing.T) {
	sub := &stubSubmitter{err: errors.New("ingest down")}
	r, _ := testRunner(sub, candidate("a"), candidate("b"), candidate("c"))
	stateFile := filepath.Join(t.TempDir(), "state.json")

	summary, err := r.Run(context.Background(), Options{
		Mode:      schema.ModeAutonomous,
		StateFile: stateFile,
		MaxPasses: 1,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.SubmissionError == "" {
		t.Fatal("SubmissionError empty, want populated")
	}
	if summary.StateCommitted {
		t.Error("StateCommitted = true after failed submission")
	}
	if _, statErr := os.Stat(stateFile); !os.IsNotExist(statErr) {
		t.Errorf("state file written despite failed submission (stat err = %v)", statErr)
	}
}

func TestRunEmptyBatchStillSubmitsOnce(t *testing.T) {
	sub := &stubSubmitter{}
	r, _ := testRunner(sub) // no candidates at all

	_, err := r.Run(context.Background(), Options{
		Mode:      schema.ModeAutonomous,
		DryRun:    true,
		StateFile: filepath.Join(t.TempDir(), "state.json"),
		MaxPasses: 2,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sub.calls != 1 {
		t.Errorf("submitter calls = %d, want 1", sub.calls)
	}
	if sub.gotLen != 0 {
		t.Errorf("submitted batch size = %d, want 0", sub.gotLen)
	}
}

func TestRunMalformedStateFatal(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(stateFile, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	sub := &stubSubmitter{}
	r, _ := testRunner(sub)
	if _, err := r.Run(context.Background(), Options{StateFile: stateFile, MaxPasses: 1}); err == nil {
		t.Fatal("expected fatal error on malformed state")
	}
	if sub.calls != 0 {
		t.Errorf("submitter calls = %d, want 0 after fatal state load", sub.calls)
	}
}
