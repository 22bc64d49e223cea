// Package task is the directed-task adapter boundary. The task store itself
// (claiming, result documents, completion) lives in an external service; the
// pipeline consumes only the planner interface defined here, which turns a
// free-text task brief into pass-1 overrides for a directed cycle.
package task

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/wolfgrid/sherlock/internal/schema"
)

// Brief is the task description handed to the planner.
type Brief struct {
	TaskID              string
	TaskName            string
	Description         string
	FocusLocations      []string
	DefaultMinIncidents int
	DefaultMaxPasses    int
}

// QueryPlan carries the query overrides derived from a brief.
type QueryPlan struct {
	XQuery            string
	PerplexityQueries []string
	QueryFamily       string
}

// RunConfig carries pass and threshold overrides.
type RunConfig struct {
	MinIncidents int
	MaxPasses    int
}

// Plan is the planner's full output, consumed verbatim by the cycle
// orchestrator as directed-mode pass-1 overrides.
type Plan struct {
	FocusLocations []string
	QueryPlan      QueryPlan
	RunConfig      RunConfig
	LeadURLs       []string
	Notes          []string
}

// Planner converts a brief into a run plan.
type Planner interface {
	Plan(ctx context.Context, brief Brief) (*Plan, error)
}

// KeywordPlanner is the deterministic built-in planner: it ranks the
// brief's significant terms by frequency and builds queries from the top
// ranks. It performs no network I/O; richer planners (lead-URL evidence
// fetching) live behind the same interface in the task service.
type KeywordPlanner struct {
	// MaxTerms caps how many ranked terms feed the queries. Zero means 5.
	MaxTerms int
}

var urlRe = regexp.MustCompile(`https?://[^\s)>\]]+`)

// stopwords excluded from term ranking.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "have": true, "about": true, "into": true,
	"near": true, "over": true, "incident": true, "incidents": true,
	"report": true, "reports": true, "reported": true, "please": true,
	"investigate": true, "find": true, "look": true, "recent": true,
}

// Plan implements Planner.
func (p *KeywordPlanner) Plan(_ context.Context, brief Brief) (*Plan, error) {
	if strings.TrimSpace(brief.Description) == "" && brief.TaskName == "" {
		return nil, fmt.Errorf("task: brief %s has no description", brief.TaskID)
	}

	terms := rankTerms(brief.TaskName+" "+brief.Description, p.maxTerms())
	plan := &Plan{
		FocusLocations: append([]string(nil), brief.FocusLocations...),
		QueryPlan: QueryPlan{
			QueryFamily: schema.FamilyTaskHypothesis,
		},
		RunConfig: RunConfig{
			MinIncidents: brief.DefaultMinIncidents,
			MaxPasses:    brief.DefaultMaxPasses,
		},
		LeadURLs: urlRe.FindAllString(brief.Description, -1),
	}

	if len(terms) > 0 {
		plan.QueryPlan.XQuery = "(" + strings.Join(quoteTerms(terms), " OR ") + ") -is:retweet lang:en"
		plan.QueryPlan.PerplexityQueries = []string{
			fmt.Sprintf("Find recent reports of incidents involving %s. List each as a separate incident.",
				strings.Join(terms, ", ")),
		}
		plan.Notes = append(plan.Notes, "query built from task terms: "+strings.Join(terms, ", "))
	} else {
		plan.Notes = append(plan.Notes, "no significant terms in brief; default queries apply")
	}
	return plan, nil
}

func (p *KeywordPlanner) maxTerms() int {
	if p.MaxTerms > 0 {
		return p.MaxTerms
	}
	return 5
}

// rankTerms returns the max most frequent significant terms, ties broken by
// first appearance so output is deterministic.
func rankTerms(text string, max int) []string {
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	for i, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:\"'()[]")
		if len(tok) <= 3 || stopwords[tok] || urlRe.MatchString(tok) {
			continue
		}
		if _, ok := counts[tok]; !ok {
			firstSeen[tok] = i
		}
		counts[tok]++
	}

	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return firstSeen[terms[i]] < firstSeen[terms[j]]
	})
	if len(terms) > max {
		terms = terms[:max]
	}
	return terms
}

func quoteTerms(terms []string) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		if strings.ContainsRune(t, ' ') {
			out[i] = `"` + t + `"`
		} else {
			out[i] = t
		}
	}
	return out
}
