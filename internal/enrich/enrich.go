// Package enrich turns raw connector candidates into submission-ready
// incidents: within-run dedupe, quality gating, geocoding fallback,
// normalization, and cross-cycle dedupe against persisted fingerprints.
// Every stage except the geocoding I/O is pure.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfgrid/sherlock/internal/geocode"
	"github.com/wolfgrid/sherlock/internal/schema"
)

// DefaultMinSummaryLength is the quality-gate floor for summaries.
const DefaultMinSummaryLength = 24

const maxKeywords = 12

// Geocoder is the slice of geocode.Resolver the pipeline needs. A nil
// result means unresolved, which is not an error.
type Geocoder interface {
	Resolve(ctx context.Context, text string) *geocode.Result
}

// Options configures one enrichment run.
type Options struct {
	ReporterID            string
	MinSummaryLength      int  // 0 means DefaultMinSummaryLength
	RequireSourceIdentity bool
	PreviousFingerprints  []string // cross-cycle dedupe set from persisted state
	Geocoder              Geocoder // nil disables the fallback stage
}

// Result is the full enrichment outcome for one candidate set.
type Result struct {
	NormalizedIncidents []schema.NormalizedIncident
	Rejected            []schema.Rejection
	Dedupe              schema.DedupeStats
	Geocoding           schema.GeocodingStats
	NewFingerprints     []string
}

// Run drives all five stages over candidates in arrival order. Arrival
// order decides which duplicate survives, so callers must pass candidates
// in a deterministic connector order.
func Run(ctx context.Context, candidates []schema.IncidentCandidate, opts Options) Result {
	minSummary := opts.MinSummaryLength
	if minSummary <= 0 {
		minSummary = DefaultMinSummaryLength
	}

	prev := make(map[string]bool, len(opts.PreviousFingerprints))
	for _, fp := range opts.PreviousFingerprints {
		prev[fp] = true
	}

	res := Result{Dedupe: schema.DedupeStats{Raw: len(candidates)}}
	seenSource := make(map[string]bool)
	seenSemantic := make(map[string]bool)
	newFingerprints := make(map[string]bool)

	for i := range candidates {
		cand := &candidates[i]

		// Stage 1: within-run dedupe. First occurrence always wins.
		sourceKey := string(cand.SourcePlatform) + ":" + cand.SourceID
		if cand.SourceID != "" && seenSource[sourceKey] {
			res.reject(cand, schema.RejectDuplicateSource)
			res.Dedupe.DroppedWithinRun++
			continue
		}
		semanticKey := semanticKey(cand)
		if seenSemantic[semanticKey] {
			res.reject(cand, schema.RejectDuplicateSemantic)
			res.Dedupe.DroppedWithinRun++
			continue
		}
		if cand.SourceID != "" {
			seenSource[sourceKey] = true
		}
		seenSemantic[semanticKey] = true
		res.Dedupe.KeptWithinRun++

		// Stage 2: quality gate.
		if opts.RequireSourceIdentity && (cand.SourceID == "" || cand.SourceURL == "") {
			res.reject(cand, schema.RejectMissingSourceID)
			continue
		}
		if len(cand.Summary) < minSummary {
			res.reject(cand, schema.RejectSummaryTooShort)
			continue
		}

		// Stage 3: geocoding fallback, only when the candidate has no valid
		// coordinates of its own. Failure is not terminal here; stage 4
		// rejects coordinate-less candidates.
		if !cand.HasCoordinates() && opts.Geocoder != nil {
			if hit := resolveFallback(ctx, opts.Geocoder, cand); hit != nil {
				cand.Latitude = &hit.Coordinates.Latitude
				cand.Longitude = &hit.Coordinates.Longitude
				if cand.LocationLabel == "" {
					cand.LocationLabel = hit.Label
				}
				res.Geocoding.SuccessfulFallbacks++
			} else {
				res.Geocoding.UnresolvedCandidates++
			}
		}

		// Stage 4: normalization.
		incident, ok := normalize(cand, opts.ReporterID)
		if !ok {
			res.reject(cand, schema.RejectInvalidCoordinates)
			continue
		}

		// Stage 5: cross-cycle dedupe.
		fp := incident.Fingerprint()
		if prev[fp] || newFingerprints[fp] {
			res.reject(cand, schema.RejectDuplicateCrossCycle)
			res.Dedupe.DroppedCrossCycle++
			continue
		}
		newFingerprints[fp] = true
		res.NewFingerprints = append(res.NewFingerprints, fp)
		res.NormalizedIncidents = append(res.NormalizedIncidents, incident)
	}

	return res
}

func (r *Result) reject(cand *schema.IncidentCandidate, reason string) {
	r.Rejected = append(r.Rejected, schema.Rejection{SourceID: cand.SourceID, Reason: reason})
}

// semanticKey combines rounded coordinates (or a no-coordinates marker) with
// the normalized summary prefix.
func semanticKey(cand *schema.IncidentCandidate) string {
	coordPart := "no-coordinates"
	if cand.HasCoordinates() {
		coordPart = fmt.Sprintf("%.3f:%.3f", *cand.Latitude, *cand.Longitude)
	}
	return coordPart + "|" + schema.NormalizeSummary(cand.Summary, 120)
}

// resolveFallback tries the candidate's raw text first (which catches inline
// coordinate pairs), then its location label. Calls run sequentially, each
// bounded by the resolver's own timeout.
func resolveFallback(ctx context.Context, g Geocoder, cand *schema.IncidentCandidate) *geocode.Result {
	if hit := g.Resolve(ctx, cand.RawText); hit != nil {
		return hit
	}
	if cand.LocationLabel != "" {
		return g.Resolve(ctx, cand.LocationLabel)
	}
	return nil
}

// normalize builds the submission-ready incident. It fails only when the
// candidate still lacks valid coordinates after the fallback stage.
func normalize(cand *schema.IncidentCandidate, reporterID string) (schema.NormalizedIncident, bool) {
	if !cand.HasCoordinates() {
		return schema.NormalizedIncident{}, false
	}
	coords := schema.Coordinates{Latitude: *cand.Latitude, Longitude: *cand.Longitude}

	text := strings.ToLower(cand.Summary + " " + cand.RawText + " " + strings.Join(cand.Keywords, " "))
	incidentType := inferType(text)

	severity := inferSeverity(text)
	if cand.Severity != nil {
		severity = clamp(*cand.Severity, 1, 5)
	}

	incident := schema.NormalizedIncident{
		ReporterID:  reporterID,
		Coordinates: coords,
		Type:        incidentType,
		Severity:    fmt.Sprintf("%d", severity),
		Keywords:    buildKeywords(cand, incidentType),
		Summary:     truncate(cand.Summary, 280),
		Source: schema.SourceRef{
			Platform: cand.SourcePlatform,
			SourceID: cand.SourceID,
			URL:      cand.SourceURL,
			Author:   cand.Author,
			PostedAt: cand.PostedAt,
		},
		Evidence: schema.EvidenceRef{
			Text:          cand.RawText,
			Connector:     cand.Connector,
			LocationLabel: cand.LocationLabel,
			Virality:      cand.Virality,
			CollectedAt:   cand.CollectedAt,
		},
	}
	incident.Date, incident.Time = splitPostedAt(cand.PostedAt)
	return incident, true
}

// typeRules maps incident categories to their trigger terms, checked in
// priority order with first match winning.
var typeRules = []struct {
	name  string
	terms []string
}{
	{"Carjacking", []string{"carjacking", "car-jacking", "hijacking", "hijacked"}},
	{"Burglary", []string{"burglary", "break-in", "breakin", "burgled"}},
	{"Theft/Robbery", []string{"robbery", "robbed", "theft", "stolen", "mugging", "looting"}},
	{"Assault", []string{"assault", "attacked", "stabbing", "stabbed", "beaten"}},
	{"Shooting", []string{"shooting", "shots fired", "gunman", "gunfire", "shot"}},
	{"Vandalism", []string{"vandalism", "vandalized", "graffiti"}},
	{"Fire", []string{"fire", "arson", "blaze", "explosion"}},
}

const defaultType = "Suspicious Activity"

func inferType(text string) string {
	for _, rule := range typeRules {
		for _, term := range rule.terms {
			if strings.Contains(text, term) {
				return rule.name
			}
		}
	}
	return defaultType
}

// inferSeverity applies the keyword severity heuristic used when the
// candidate carries no explicit severity.
func inferSeverity(text string) int {
	switch {
	case strings.Contains(text, "shooting") || strings.Contains(text, "shots fired") ||
		strings.Contains(text, "stab"):
		return 5
	case strings.Contains(text, "armed") || strings.Contains(text, "carjacking") ||
		strings.Contains(text, "hijack"):
		return 4
	case strings.Contains(text, "assault") || strings.Contains(text, "robbery") ||
		strings.Contains(text, "robbed"):
		return 3
	case strings.Contains(text, "theft") || strings.Contains(text, "stolen") ||
		strings.Contains(text, "burglary"):
		return 2
	default:
		return 1
	}
}

// buildKeywords merges candidate keywords, inferred-type tokens, and raw
// text tokens longer than three characters into a lowercase, deduplicated
// list capped at maxKeywords.
func buildKeywords(cand *schema.IncidentCandidate, incidentType string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, maxKeywords)
	add := func(word string) {
		word = strings.ToLower(strings.TrimSpace(word))
		if word == "" || seen[word] || len(out) >= maxKeywords {
			return
		}
		seen[word] = true
		out = append(out, word)
	}

	for _, kw := range cand.Keywords {
		add(kw)
	}
	for _, tok := range strings.FieldsFunc(incidentType, func(r rune) bool { return r == '/' || r == ' ' }) {
		add(tok)
	}
	for _, tok := range strings.Fields(cand.RawText) {
		tok = strings.Trim(tok, ".,!?;:\"'()[]#@")
		if len(tok) > 3 {
			add(tok)
		}
	}
	return out
}

// splitPostedAt derives date and time strings from an ISO timestamp.
// Unparseable or empty input yields empty strings.
func splitPostedAt(postedAt string) (date, tod string) {
	if postedAt == "" {
		return "", ""
	}
	t, err := time.Parse(time.RFC3339, postedAt)
	if err != nil {
		return "", ""
	}
	return t.Format("2006-01-02"), t.Format("15:04:05")
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

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
