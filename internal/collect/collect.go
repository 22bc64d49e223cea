// Package collect builds per-pass collection plans and fans the source
// connectors out concurrently with failure isolation: one connector's error
// never cancels or discards the other's results.
package collect

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/wolfgrid/sherlock/internal/connector"
	"github.com/wolfgrid/sherlock/internal/focus"
	"github.com/wolfgrid/sherlock/internal/schema"
)

// focusWindowSize is how many focus locations an autonomous pass scopes its
// queries to. Directed passes always use the full list.
const focusWindowSize = 2

// defaultXQuery is the narrow pass-1 social query.
const defaultXQuery = `(shooting OR "armed robbery" OR hijacking OR carjacking OR stabbing) -is:retweet lang:en`

// broadenedXQuery widens the social query on later passes.
const broadenedXQuery = `(shooting OR robbery OR hijacking OR carjacking OR stabbing OR burglary OR assault OR theft OR "shots fired" OR looting) -is:retweet lang:en`

var defaultWebQueries = []string{
	"List violent crime incidents (shootings, armed robberies, hijackings) reported in the last 24 hours.",
}

var broadenedWebQueries = []string{
	"List crime and public-safety incidents (violent crime, property crime, fires) reported in the last 48 hours.",
	"List breaking news reports of robberies, assaults, or suspicious activity from the last 48 hours.",
}

// Overrides carries directed-task or CLI query overrides applied to pass 1
// and every later pass of a cycle.
type Overrides struct {
	XQuery            string
	PerplexityQueries []string
	QueryFamily       string // task_hypothesis or manual_override when set
	Limit             int
}

// BuildPlan computes the collection plan for one pass. Pass 1 uses the
// narrow default queries and a rotated focus window; pass 2 and later
// broaden the queries and advance the window. In directed mode the full
// focus list is always used so task intent is not diluted by windowing.
func BuildPlan(pass int, mode schema.Mode, focusLocations []string, rotationIndex int, ov Overrides) schema.CollectionPlan {
	plan := schema.CollectionPlan{
		Pass:  pass,
		Mode:  mode,
		Limit: ov.Limit,
	}
	if plan.Limit <= 0 {
		plan.Limit = 25
	}

	var window []string
	if mode == schema.ModeDirected {
		window = append([]string(nil), focusLocations...)
		plan.NextFocusRotationIndex = rotationIndex
	} else {
		window, plan.NextFocusRotationIndex = focus.Window(focusLocations, rotationIndex, focusWindowSize)
	}
	plan.FocusLocations = window

	xBase := defaultXQuery
	webBases := defaultWebQueries
	plan.QueryFamily = schema.FamilyDefault
	if pass >= 2 {
		xBase = broadenedXQuery
		webBases = broadenedWebQueries
		plan.QueryFamily = schema.FamilyBroadened
	}
	if ov.XQuery != "" {
		xBase = ov.XQuery
	}
	if len(ov.PerplexityQueries) > 0 {
		webBases = ov.PerplexityQueries
	}
	if ov.QueryFamily != "" && (ov.XQuery != "" || len(ov.PerplexityQueries) > 0) {
		plan.QueryFamily = ov.QueryFamily
	}

	plan.XQuery = focus.ApplyToXQuery(xBase, window)
	plan.PerplexityQueries = focus.BuildPerplexityQueries(webBases, window)
	return plan
}

// Outcome is the joined result of one fan-out: every connector's result or
// error, plus the flattened candidate union in connector order.
type Outcome struct {
	Plan       schema.CollectionPlan
	Results    []schema.ConnectorResult
	Errors     []string
	Candidates []schema.IncidentCandidate
}

// Run executes the connectors concurrently and joins their outcomes.
// Candidates keep the callers' connector ordering (social before web), which
// within-run dedupe depends on.
func Run(ctx context.Context, plan schema.CollectionPlan, connectors []connector.Connector) Outcome {
	type slot struct {
		result *schema.ConnectorResult
		err    error
	}
	slots := make([]slot, len(connectors))

	// errgroup is used purely as a join; every goroutine returns nil so a
	// failing connector can never cancel its sibling.
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range connectors {
		g.Go(func() error {
			res, err := c.Collect(gctx)
			slots[i] = slot{result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	out := Outcome{Plan: plan}
	for i, s := range slots {
		if s.err != nil {
			out.Errors = append(out.Errors, s.err.Error())
			continue
		}
		if s.result == nil {
			out.Errors = append(out.Errors, connectors[i].Name()+": returned no result")
			continue
		}
		out.Results = append(out.Results, *s.result)
		out.Candidates = append(out.Candidates, s.result.Candidates...)
	}
	return out
}
