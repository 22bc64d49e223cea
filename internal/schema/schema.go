// Package schema defines the canonical data types shared across the Sherlock
// discovery pipeline: raw candidates from connectors, submission-ready
// normalized incidents, collection plans, and the per-cycle run summary.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

// Platform identifies the origin platform of a candidate.
type Platform string

const (
	PlatformX   Platform = "x"
	PlatformWeb Platform = "web"
)

// Mode selects how a cycle is driven.
type Mode string

const (
	ModeAutonomous Mode = "autonomous"
	ModeDirected   Mode = "directed"
)

// Query family tags used for strategy-memory bookkeeping. They never branch
// behavior beyond logging and the persisted autonomy block.
const (
	FamilyDefault        = "default"
	FamilyBroadened      = "broadened"
	FamilyTaskHypothesis = "task_hypothesis"
	FamilyManualOverride = "manual_override"
)

// Rejection reasons attached to candidates dropped during enrichment.
const (
	RejectDuplicateSource     = "duplicate_source"
	RejectDuplicateSemantic   = "duplicate_semantic"
	RejectMissingSourceID     = "missing_source_identity"
	RejectSummaryTooShort     = "summary_too_short"
	RejectInvalidCoordinates  = "missing_or_invalid_coordinates"
	RejectDuplicateCrossCycle = "duplicate_cross_cycle"
)

// Virality holds engagement counters for a candidate.
type Virality struct {
	Likes   int `json:"likes"`
	Reposts int `json:"reposts"`
	Replies int `json:"replies"`
	Views   int `json:"views"`
}

// EngagementScore combines engagement counters into a single number used for
// coarse severity inference: likes + 2*reposts + replies.
func (v Virality) EngagementScore() int {
	return v.Likes + 2*v.Reposts + v.Replies
}

// Coordinates is a validated latitude/longitude pair.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the pair lies within the WGS84 envelope. The zero
// value (0,0) is treated as unset: no connector in the pipeline produces a
// genuine Null Island incident, and several upstream payloads zero-fill
// missing geo fields.
func (c Coordinates) Valid() bool {
	if c.Latitude == 0 && c.Longitude == 0 {
		return false
	}
	return math.Abs(c.Latitude) <= 90 && math.Abs(c.Longitude) <= 180
}

// IncidentCandidate is the raw, unvalidated incident signal produced by one
// connector. Candidates are ephemeral: they exist only within one collection
// pass and are never persisted.
type IncidentCandidate struct {
	Connector      string    `json:"connector"`
	SourcePlatform Platform  `json:"sourcePlatform"`
	SourceID       string    `json:"sourceId"`
	SourceURL      string    `json:"sourceUrl"`
	Summary        string    `json:"summary"`
	RawText        string    `json:"rawText"`
	Author         string    `json:"author,omitempty"`
	PostedAt       string    `json:"postedAt,omitempty"` // ISO 8601, empty if unknown
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	LocationLabel  string    `json:"locationLabel,omitempty"`
	Keywords       []string  `json:"keywords"`
	Severity       *int      `json:"severity,omitempty"` // 1..5 when present
	Virality       Virality  `json:"virality"`
	CollectedAt    time.Time `json:"collectedAt"`
}

// HasCoordinates reports whether the candidate carries a valid coordinate
// pair of its own.
func (c *IncidentCandidate) HasCoordinates() bool {
	if c.Latitude == nil || c.Longitude == nil {
		return false
	}
	return Coordinates{Latitude: *c.Latitude, Longitude: *c.Longitude}.Valid()
}

// SourceRef records where a normalized incident came from.
type SourceRef struct {
	Platform Platform `json:"platform"`
	SourceID string   `json:"sourceId"`
	URL      string   `json:"url"`
	Author   string   `json:"author,omitempty"`
	PostedAt string   `json:"postedAt,omitempty"`
}

// EvidenceRef carries the raw material backing a normalized incident.
type EvidenceRef struct {
	Text          string    `json:"text"`
	Connector     string    `json:"connector"`
	LocationLabel string    `json:"locationLabel,omitempty"`
	Virality      Virality  `json:"virality"`
	CollectedAt   time.Time `json:"collectedAt"`
}

// NormalizedIncident is a submission-ready incident. Invariants: Coordinates
// is always valid, and Source.SourceID and Source.URL are non-empty.
type NormalizedIncident struct {
	ReporterID  string      `json:"reporterId"`
	Coordinates Coordinates `json:"coordinates"`
	Type        string      `json:"type"`
	Severity    string      `json:"severity"` // "1".."5"
	Keywords    []string    `json:"keywords"` // <=12, lowercase, deduplicated
	Summary     string      `json:"summary"`  // <=280 chars
	Date        string      `json:"date,omitempty"`
	Time        string      `json:"time,omitempty"`
	Source      SourceRef   `json:"source"`
	Evidence    EvidenceRef `json:"evidence"`
}

// Fingerprint derives the stable cross-cycle dedupe key for an incident:
// "{platform}:{sourceId}|{lat:3dp}:{lon:3dp}|{normalizedSummaryPrefix(120)}".
func (n *NormalizedIncident) Fingerprint() string {
	return fmt.Sprintf("%s:%s|%.3f:%.3f|%s",
		n.Source.Platform, n.Source.SourceID,
		n.Coordinates.Latitude, n.Coordinates.Longitude,
		NormalizeSummary(n.Summary, 120))
}

// NormalizeSummary lowercases s, strips everything but letters, digits, and
// single spaces, and truncates to max characters. Used for both the semantic
// within-run dedupe key and the fingerprint suffix.
func NormalizeSummary(s string, max int) string {
	var sb strings.Builder
	lastSpace := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace && sb.Len() > 0 {
				sb.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	out := strings.TrimSpace(sb.String())
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// SyntheticSourceID computes a stable id for providers that omit one: the
// first 16 hex characters of sha256 over "platform|url|summary".
func SyntheticSourceID(platform Platform, url, summary string) string {
	sum := sha256.Sum256([]byte(string(platform) + "|" + url + "|" + summary))
	return hex.EncodeToString(sum[:])[:16]
}

// CollectionPlan describes one collection pass: which queries run, which
// focus locations scope them, and where the focus rotation lands next.
// Plans are built fresh per pass; only the rotation index outlives them.
type CollectionPlan struct {
	Pass                   int      `json:"pass"` // 1-based
	Mode                   Mode     `json:"mode"`
	QueryFamily            string   `json:"queryFamily"`
	FocusLocations         []string `json:"focusLocations"`
	Limit                  int      `json:"limit"`
	XQuery                 string   `json:"xQuery"`
	PerplexityQueries      []string `json:"perplexityQueries"`
	NextFocusRotationIndex int      `json:"nextFocusRotationIndex"`
}

// ConnectorResult is the uniform output of one connector run.
type ConnectorResult struct {
	Connector  string              `json:"connector"`
	Candidates []IncidentCandidate `json:"candidates"`
	Checkpoint Checkpoint          `json:"checkpoint"`
	Meta       map[string]any      `json:"meta,omitempty"`
	Warnings   []string            `json:"warnings,omitempty"`
}

// Checkpoint is a connector's resumption marker, persisted in RunState on a
// clean cycle.
type Checkpoint struct {
	SinceID   string `json:"sinceId,omitempty"`
	LastRunAt string `json:"lastRunAt,omitempty"`
}

// PassSummary records what one pass of the cycle produced.
type PassSummary struct {
	Pass            int      `json:"pass"`
	QueryFamily     string   `json:"queryFamily"`
	FocusLocations  []string `json:"focusLocations"`
	RawCandidates   int      `json:"rawCandidates"`
	ConnectorErrors []string `json:"connectorErrors,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

// Rejection names one dropped candidate and why.
type Rejection struct {
	SourceID string `json:"sourceId"`
	Reason   string `json:"reason"`
}

// DedupeStats aggregates enrichment dedupe counters.
type DedupeStats struct {
	Raw               int `json:"raw"`
	KeptWithinRun     int `json:"keptWithinRun"`
	DroppedWithinRun  int `json:"droppedWithinRun"`
	DroppedCrossCycle int `json:"droppedCrossCycle"`
}

// GeocodingStats aggregates geocoding fallback outcomes.
type GeocodingStats struct {
	SuccessfulFallbacks  int `json:"successfulFallbacks"`
	UnresolvedCandidates int `json:"unresolvedCandidates"`
}

// SubmissionResult is the downstream ingest service's acknowledgement.
type SubmissionResult struct {
	Submitted  int            `json:"submitted"`
	Accepted   int            `json:"accepted"`
	Duplicates int            `json:"duplicates"`
	Failed     int            `json:"failed"`
	Details    map[string]any `json:"details,omitempty"`
}

// RunSummary is the complete record of one cycle. It is emitted to stdout
// (JSON mode) or logged compactly; it is never persisted.
type RunSummary struct {
	RunID           string            `json:"runId"`
	Mode            Mode              `json:"mode"`
	DryRun          bool              `json:"dryRun"`
	StartedAt       time.Time         `json:"startedAt"`
	FinishedAt      time.Time         `json:"finishedAt"`
	Passes          []PassSummary     `json:"passes"`
	Dedupe          DedupeStats       `json:"dedupe"`
	Rejected        []Rejection       `json:"rejected,omitempty"`
	Geocoding       GeocodingStats    `json:"geocoding"`
	Normalized      int               `json:"normalized"`
	Submission      *SubmissionResult `json:"submission,omitempty"`
	SubmissionError string            `json:"submissionError,omitempty"`
	StateCommitted  bool              `json:"stateCommitted"`
}
