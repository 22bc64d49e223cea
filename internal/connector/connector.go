// Package connector adapts external data sources (the X recent-search API
// and a web/LLM retrieval backend) into the pipeline's common candidate
// shape. Connectors never fail for "no data" or "missing credentials"; those
// conditions produce an empty candidate list plus a warning. A non-2xx
// response from a connector's own provider is an error, which the collection
// orchestrator isolates to that connector.
package connector

import (
	"context"
	"strings"

	"github.com/wolfgrid/sherlock/internal/schema"
)

// Connector is the uniform contract both sources implement.
type Connector interface {
	Name() string
	Collect(ctx context.Context) (*schema.ConnectorResult, error)
}

// incidentLexicon is the fixed crime/incident vocabulary used for keyword
// tagging via substring match. Multi-word entries match as phrases.
var incidentLexicon = []string{
	"shooting", "shots fired", "gunman", "stabbing", "stabbed",
	"carjacking", "hijacking", "robbery", "armed robbery", "mugging",
	"theft", "stolen", "burglary", "break-in", "looting",
	"assault", "attacked", "kidnapping", "abduction",
	"vandalism", "arson", "fire", "explosion", "suspicious",
}

// matchKeywords returns the lexicon entries found in text, lowercase,
// preserving lexicon order.
func matchKeywords(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, kw := range incidentLexicon {
		if strings.Contains(lower, kw) {
			out = append(out, kw)
		}
	}
	return out
}

// severityFromEngagement buckets an engagement score into a 1..5 severity
// at thresholds {20, 80, 200, 500}.
func severityFromEngagement(score int) int {
	switch {
	case score >= 500:
		return 5
	case score >= 200:
		return 4
	case score >= 80:
		return 3
	case score >= 20:
		return 2
	default:
		return 1
	}
}
