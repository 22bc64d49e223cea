// Package ingest submits normalized incident batches to the downstream Wolf
// ingest service. Dry-run mode and the empty batch both short-circuit with
// no network I/O.
package ingest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wolfgrid/sherlock/internal/httpx"
	"github.com/wolfgrid/sherlock/internal/schema"
)

// SourceAgent identifies this pipeline in ingest payloads.
const SourceAgent = "sherlock"

// DefaultTimeout bounds the batched submission POST.
const DefaultTimeout = 20 * time.Second

// ErrMissingIngestConfig is returned when a live (non-dry-run) submission is
// attempted without an ingest URL or token.
var ErrMissingIngestConfig = errors.New("ingest: url and token are required outside dry-run")

// Client posts incident batches to the ingest endpoint.
type Client struct {
	URL            string
	Token          string
	ProductType    string
	DispatchAlerts bool
	Timeout        time.Duration
}

type batchPayload struct {
	SourceAgent    string                      `json:"sourceAgent"`
	ProductType    string                      `json:"productType"`
	DispatchAlerts bool                        `json:"dispatchAlerts"`
	Incidents      []schema.NormalizedIncident `json:"incidents"`
}

// Submit sends one batched POST. An empty batch returns a zero-valued
// success with no network call; dry-run returns submitted=len(incidents),
// accepted=0, also with no network call. Everything else requires the URL
// and token and fails on any non-2xx response.
func (c *Client) Submit(ctx context.Context, incidents []schema.NormalizedIncident, dryRun bool) (*schema.SubmissionResult, error) {
	if len(incidents) == 0 {
		return &schema.SubmissionResult{}, nil
	}
	if dryRun {
		return &schema.SubmissionResult{Submitted: len(incidents)}, nil
	}
	if c.URL == "" || c.Token == "" {
		return nil, ErrMissingIngestConfig
	}

	body, err := httpx.Do(ctx, httpx.Request{
		Method: http.MethodPost,
		URL:    c.URL,
		Headers: map[string]string{
			"Authorization": "Bearer " + c.Token,
		},
		Body: batchPayload{
			SourceAgent:    SourceAgent,
			ProductType:    c.ProductType,
			DispatchAlerts: c.DispatchAlerts,
			Incidents:      incidents,
		},
		Timeout: c.timeout(),
	})
	if err != nil {
		return nil, err
	}

	result := &schema.SubmissionResult{
		Submitted:  len(incidents),
		Accepted:   int(gjson.GetBytes(body, "accepted").Int()),
		Duplicates: int(gjson.GetBytes(body, "duplicates").Int()),
		Failed:     int(gjson.GetBytes(body, "failed").Int()),
	}
	// Unknown response fields ride along for the run summary.
	for key, value := range gjson.ParseBytes(body).Map() {
		switch key {
		case "accepted", "duplicates", "failed":
		default:
			if result.Details == nil {
				result.Details = make(map[string]any)
			}
			result.Details[key] = value.Value()
		}
	}
	return result, nil
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}
