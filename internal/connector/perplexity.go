package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wolfgrid/sherlock/internal/httpx"
	"github.com/wolfgrid/sherlock/internal/retrieval"
	"github.com/wolfgrid/sherlock/internal/schema"
)

// WebName is the web/LLM retrieval connector's name.
const WebName = "perplexity_web"

// DefaultWebTimeout bounds one retrieval call.
const DefaultWebTimeout = 25 * time.Second

const webMaxTokens = 2000

// webSystemPrompt instructs the retrieval backend to answer with a strict
// JSON array. The entry filter below tolerates deviation anyway.
const webSystemPrompt = `You are an incident discovery assistant. Search recent web and news ` +
	`sources for the requested crime and public-safety incidents. Respond with ONLY a JSON array, ` +
	`no prose and no markdown. Each element must be an object with: "summary" (string, required, ` +
	`max 280 chars), "sourceUrl" (string, required), and optionally "sourceId", "postedAt" (ISO 8601), ` +
	`"latitude", "longitude", "locationLabel", "severity" (1-5), "author". ` +
	`If nothing qualifies, respond with [].`

// WebConnector sends focus-expanded natural-language queries to an LLM
// retrieval backend configured to answer with a strict JSON array.
type WebConnector struct {
	Provider retrieval.Config
	Queries  []string // already focus-expanded by the collection plan
	Timeout  time.Duration
}

func (c *WebConnector) Name() string { return WebName }

// Collect runs every query against the retrieval backend. A missing API key
// disables the connector (warning, no error); malformed JSON in one answer
// drops that answer with a warning; a provider call failure is an error.
func (c *WebConnector) Collect(ctx context.Context) (*schema.ConnectorResult, error) {
	now := time.Now().UTC()
	res := &schema.ConnectorResult{
		Connector:  WebName,
		Checkpoint: schema.Checkpoint{LastRunAt: now.Format(time.RFC3339)},
	}

	provider, err := retrieval.NewProvider(c.Provider)
	if err != nil {
		if errors.Is(err, retrieval.ErrMissingAPIKey) {
			res.Warnings = append(res.Warnings, WebName+": api key not configured, skipping")
			return res, nil
		}
		return nil, fmt.Errorf("%s: create provider: %w", WebName, err)
	}

	for _, query := range c.Queries {
		qctx, cancel := context.WithTimeout(ctx, c.timeout())
		raw, err := provider.Complete(qctx, webSystemPrompt, query, webMaxTokens, 0.2)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%s: retrieval query failed: %w", WebName, err)
		}

		items, err := httpx.ExtractJSONArray(raw)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: unparseable answer for %q: %v", WebName, truncate(query, 80), err))
			continue
		}
		for _, item := range items {
			if cand, ok := candidateFromEntry(gjson.ParseBytes(item), now); ok {
				res.Candidates = append(res.Candidates, cand)
			}
		}
	}

	if len(res.Candidates) == 0 && len(res.Warnings) == 0 {
		res.Warnings = append(res.Warnings, WebName+": retrieval returned no qualifying incidents")
	}
	res.Meta = map[string]any{"queries": len(c.Queries)}
	return res, nil
}

func (c *WebConnector) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultWebTimeout
}

// candidateFromEntry validates and coerces one loosely typed array entry.
// Entries without both a summary and a source URL are discarded, never
// errored: the backend's schema discipline is advisory at best.
func candidateFromEntry(entry gjson.Result, now time.Time) (schema.IncidentCandidate, bool) {
	summary := entry.Get("summary").String()
	sourceURL := entry.Get("sourceUrl").String()
	if summary == "" || sourceURL == "" {
		return schema.IncidentCandidate{}, false
	}
	summary = truncate(summary, 280)

	sourceID := entry.Get("sourceId").String()
	if sourceID == "" {
		sourceID = schema.SyntheticSourceID(schema.PlatformWeb, sourceURL, summary)
	}

	rawText := entry.Get("rawText").String()
	if rawText == "" {
		rawText = summary
	}

	cand := schema.IncidentCandidate{
		Connector:      WebName,
		SourcePlatform: schema.PlatformWeb,
		SourceID:       sourceID,
		SourceURL:      sourceURL,
		Summary:        summary,
		RawText:        rawText,
		Author:         entry.Get("author").String(),
		PostedAt:       entry.Get("postedAt").String(),
		LocationLabel:  entry.Get("locationLabel").String(),
		Keywords:       matchKeywords(summary + " " + rawText),
		CollectedAt:    now,
	}

	if lat, lon := entry.Get("latitude"), entry.Get("longitude"); lat.Exists() && lon.Exists() {
		la, lo := lat.Float(), lon.Float()
		if (schema.Coordinates{Latitude: la, Longitude: lo}).Valid() {
			cand.Latitude = &la
			cand.Longitude = &lo
		}
	}
	if sev := entry.Get("severity"); sev.Exists() {
		s := int(sev.Int())
		if s >= 1 && s <= 5 {
			cand.Severity = &s
		}
	}
	return cand, true
}
