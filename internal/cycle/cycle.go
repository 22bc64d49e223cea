// Package cycle drives one end-to-end discovery run: a bounded multi-pass
// collect/enrich loop, exactly one submission, and a state commit that only
// happens on a clean (non-dry-run, error-free) outcome.
package cycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wolfgrid/sherlock/internal/collect"
	"github.com/wolfgrid/sherlock/internal/config"
	"github.com/wolfgrid/sherlock/internal/connector"
	"github.com/wolfgrid/sherlock/internal/enrich"
	"github.com/wolfgrid/sherlock/internal/geocode"
	"github.com/wolfgrid/sherlock/internal/ingest"
	"github.com/wolfgrid/sherlock/internal/retrieval"
	"github.com/wolfgrid/sherlock/internal/schema"
	"github.com/wolfgrid/sherlock/internal/state"
)

// Pass-loop bounds.
const (
	MinPasses           = 1
	MaxPasses           = 4
	DefaultMinIncidents = 3
)

// Options configures one cycle.
type Options struct {
	Mode           schema.Mode
	DryRun         bool
	TaskID         string
	StateFile      string
	FocusLocations []string
	MinIncidents   int // 0 means DefaultMinIncidents
	MaxPasses      int // clamped to [MinPasses, MaxPasses]
	Overrides      collect.Overrides
}

// Runner executes cycles. Submitter and Geocoder are interfaces so tests can
// run a full cycle without network I/O.
type Runner struct {
	Config    config.Config
	Logger    *zap.Logger
	Submitter Submitter
	Geocoder  enrich.Geocoder

	// Connectors overrides connector construction; nil uses the production
	// set. Exists so tests can run full cycles without network I/O.
	Connectors func(plan schema.CollectionPlan, sinceID string) []connector.Connector
}

// Submitter is the slice of ingest.Client the runner needs.
type Submitter interface {
	Submit(ctx context.Context, incidents []schema.NormalizedIncident, dryRun bool) (*schema.SubmissionResult, error)
}

// NewRunner wires the production runner from configuration.
func NewRunner(cfg config.Config, logger *zap.Logger) *Runner {
	return &Runner{
		Config: cfg,
		Logger: logger,
		Submitter: &ingest.Client{
			URL:            cfg.WolfIngestURL,
			Token:          cfg.WolfIngestToken,
			ProductType:    cfg.WolfProductType,
			DispatchAlerts: cfg.WolfDispatch,
		},
		Geocoder: &geocode.Resolver{
			HereAPIKey: cfg.HereAPIKey,
			Timeout:    cfg.GeocodeTimeout,
		},
	}
}

// Run executes one cycle. The returned error covers process-fatal
// conditions only (unreadable or unwritable state); submission failure is
// reported through the summary's SubmissionError, and connector failures
// are pass-level warnings.
func (r *Runner) Run(ctx context.Context, opts Options) (*schema.RunSummary, error) {
	st, err := state.Load(opts.StateFile)
	if err != nil {
		return nil, err
	}

	minIncidents := opts.MinIncidents
	if minIncidents <= 0 {
		minIncidents = DefaultMinIncidents
	}
	maxPasses := clamp(opts.MaxPasses, MinPasses, MaxPasses)

	summary := &schema.RunSummary{
		RunID:     uuid.NewString(),
		Mode:      opts.Mode,
		DryRun:    opts.DryRun,
		StartedAt: time.Now().UTC(),
	}
	log := r.Logger.With(zap.String("runId", summary.RunID), zap.String("mode", string(opts.Mode)))

	rotationIndex := st.Autonomy.FocusRotationIndex
	sinceID := st.Connectors.XAPI.SinceID
	checkpoints := map[string]schema.Checkpoint{}
	queryFamilies := []string{}

	var accumulated []schema.IncidentCandidate
	var enriched enrich.Result

	for pass := 1; pass <= maxPasses; pass++ {
		plan := collect.BuildPlan(pass, opts.Mode, opts.FocusLocations, rotationIndex, opts.Overrides)
		rotationIndex = plan.NextFocusRotationIndex
		queryFamilies = append(queryFamilies, plan.QueryFamily)

		outcome := collect.Run(ctx, plan, r.connectors(plan, sinceID))
		for _, cr := range outcome.Results {
			checkpoints[cr.Connector] = cr.Checkpoint
			if cr.Connector == connector.XName && cr.Checkpoint.SinceID != "" {
				sinceID = cr.Checkpoint.SinceID
			}
		}
		accumulated = append(accumulated, outcome.Candidates...)

		// Enrichment reruns over the whole accumulated set, not just this
		// pass's candidates. Later passes must not resurrect duplicates an
		// earlier pass already claimed, and the cheapest way to keep the
		// within-run ordering rule intact is to re-derive from scratch.
		enriched = enrich.Run(ctx, accumulated, enrich.Options{
			ReporterID:            r.Config.ReporterID,
			MinSummaryLength:      r.Config.MinSummaryLength,
			RequireSourceIdentity: true,
			PreviousFingerprints:  st.Autonomy.RecentIncidentFingerprints,
			Geocoder:              r.Geocoder,
		})

		ps := schema.PassSummary{
			Pass:            pass,
			QueryFamily:     plan.QueryFamily,
			FocusLocations:  plan.FocusLocations,
			RawCandidates:   len(outcome.Candidates),
			ConnectorErrors: outcome.Errors,
		}
		for _, cr := range outcome.Results {
			ps.Warnings = append(ps.Warnings, cr.Warnings...)
		}
		summary.Passes = append(summary.Passes, ps)

		for _, e := range outcome.Errors {
			log.Warn("connector failed", zap.Int("pass", pass), zap.String("error", e))
		}
		log.Info("pass complete",
			zap.Int("pass", pass),
			zap.String("queryFamily", plan.QueryFamily),
			zap.Int("rawCandidates", len(outcome.Candidates)),
			zap.Int("normalized", len(enriched.NormalizedIncidents)))

		if len(enriched.NormalizedIncidents) >= minIncidents {
			break
		}
	}

	summary.Dedupe = enriched.Dedupe
	summary.Rejected = enriched.Rejected
	summary.Geocoding = enriched.Geocoding
	summary.Normalized = len(enriched.NormalizedIncidents)

	// Exactly one submission per cycle, empty batch included.
	submission, err := r.Submitter.Submit(ctx, enriched.NormalizedIncidents, opts.DryRun)
	if err != nil {
		summary.SubmissionError = err.Error()
		log.Error("submission failed", zap.Error(err))
	} else {
		summary.Submission = submission
	}

	if !opts.DryRun && summary.SubmissionError == "" {
		if err := r.commit(st, opts, summary, checkpoints, queryFamilies, enriched.NewFingerprints, rotationIndex); err != nil {
			return summary, err
		}
		summary.StateCommitted = true
	}

	summary.FinishedAt = time.Now().UTC()
	return summary, nil
}

// connectors builds the per-pass connector set. The social connector comes
// first: enrichment keeps the first occurrence of a duplicate, and social
// results carry richer engagement signals.
func (r *Runner) connectors(plan schema.CollectionPlan, sinceID string) []connector.Connector {
	if r.Connectors != nil {
		return r.Connectors(plan, sinceID)
	}
	return []connector.Connector{
		&connector.XConnector{
			BearerToken: r.Config.XBearerToken,
			APIURL:      r.Config.XAPIURL,
			Query:       plan.XQuery,
			MaxResults:  min(r.Config.XMaxResults, plan.Limit),
			SinceID:     sinceID,
		},
		&connector.WebConnector{
			Provider: retrieval.Config{
				Provider: r.Config.RetrievalProvider,
				Model:    r.Config.PerplexityModel,
				APIKey:   r.Config.PerplexityAPIKey,
				BaseURL:  r.Config.PerplexityAPIURL,
			},
			Queries: plan.PerplexityQueries,
		},
	}
}

// commit folds the cycle's outcome into persisted state and writes it.
func (r *Runner) commit(
	st *state.RunState,
	opts Options,
	summary *schema.RunSummary,
	checkpoints map[string]schema.Checkpoint,
	queryFamilies []string,
	newFingerprints []string,
	rotationIndex int,
) error {
	now := time.Now().UTC().Format(time.RFC3339)

	if cp, ok := checkpoints[connector.XName]; ok {
		if cp.SinceID != "" {
			st.Connectors.XAPI.SinceID = cp.SinceID
		}
		st.Connectors.XAPI.LastRunAt = cp.LastRunAt
	}
	if cp, ok := checkpoints[connector.WebName]; ok {
		st.Connectors.PerplexityWeb.LastRunAt = cp.LastRunAt
	}

	st.LastChecks.SherlockCycle = now
	if summary.Submission != nil && summary.Submission.Accepted > 0 {
		st.LastChecks.WolfIngestSubmit = now
	}

	st.Autonomy.FocusRotationIndex = rotationIndex
	st.Autonomy.LastSuccessfulQueryFamilies = state.AppendCapped(
		st.Autonomy.LastSuccessfulQueryFamilies, queryFamilies, state.MaxQueryFamilies)
	st.Autonomy.RecentIncidentFingerprints = state.AppendCapped(
		st.Autonomy.RecentIncidentFingerprints, newFingerprints, state.MaxFingerprints)
	st.Autonomy.LastRunMode = string(opts.Mode)
	if n := len(queryFamilies); n > 0 {
		st.Autonomy.LastQueryFamily = queryFamilies[n-1]
	}
	st.Autonomy.LastTaskID = opts.TaskID
	st.Autonomy.LastRunAt = now

	return state.Save(opts.StateFile, st)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
