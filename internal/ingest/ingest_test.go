package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wolfgrid/sherlock/internal/httpx"
	"github.com/wolfgrid/sherlock/internal/schema"
)

func sampleIncidents(n int) []schema.NormalizedIncident {
	out := make([]schema.NormalizedIncident, n)
	for i := range out {
		out[i] = schema.NormalizedIncident{
			ReporterID:  "sherlock-agent",
			Coordinates: schema.Coordinates{Latitude: -26.2, Longitude: 28.04},
			Type:        "Theft/Robbery",
			Severity:    "3",
			Summary:     "Robbery reported near the taxi rank.",
			Source:      schema.SourceRef{Platform: schema.PlatformX, SourceID: "id", URL: "https://x.com/1"},
		}
	}
	return out
}

func TestSubmitEmptyBatchNoNetwork(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	c := &Client{URL: srv.URL, Token: "tok"}
	res, err := c.Submit(context.Background(), nil, false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Submitted != 0 || res.Accepted != 0 {
		t.Errorf("result = %+v, want zero", res)
	}
	if calls != 0 {
		t.Errorf("server calls = %d, want 0", calls)
	}
}

func TestSubmitDryRunNoNetwork(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	c := &Client{URL: srv.URL, Token: "tok"}
	res, err := c.Submit(context.Background(), sampleIncidents(3), true)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Submitted != 3 {
		t.Errorf("submitted = %d, want 3", res.Submitted)
	}
	if res.Accepted != 0 {
		t.Errorf("accepted = %d, want 0", res.Accepted)
	}
	if calls != 0 {
		t.Errorf("server calls = %d, want 0", calls)
	}
}

func TestSubmitMissingConfig(t *testing.T) {
	c := &Client{}
	_, err := c.Submit(context.Background(), sampleIncidents(1), false)
	if !errors.Is(err, ErrMissingIngestConfig) {
		t.Fatalf("err = %v, want ErrMissingIngestConfig", err)
	}
}

func TestSubmitSuccess(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotPayload); err != nil {
			t.Errorf("payload not JSON: %v", err)
		}
		w.Write([]byte(`{"accepted":2,"duplicates":1,"failed":0,"batchId":"b-77"}`))
	}))
	defer srv.Close()

	c := &Client{URL: srv.URL, Token: "secret", ProductType: "incident_batch", DispatchAlerts: true}
	res, err := c.Submit(context.Background(), sampleIncidents(3), false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPayload["sourceAgent"] != "sherlock" {
		t.Errorf("sourceAgent = %v", gotPayload["sourceAgent"])
	}
	if gotPayload["productType"] != "incident_batch" {
		t.Errorf("productType = %v", gotPayload["productType"])
	}
	if gotPayload["dispatchAlerts"] != true {
		t.Errorf("dispatchAlerts = %v", gotPayload["dispatchAlerts"])
	}
	if incidents, ok := gotPayload["incidents"].([]any); !ok || len(incidents) != 3 {
		t.Errorf("incidents in payload = %v", gotPayload["incidents"])
	}

	if res.Submitted != 3 || res.Accepted != 2 || res.Duplicates != 1 || res.Failed != 0 {
		t.Errorf("result = %+v", res)
	}
	if res.Details["batchId"] != "b-77" {
		t.Errorf("details = %+v, want batchId passthrough", res.Details)
	}
}

func TestSubmitServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := &Client{URL: srv.URL, Token: "tok"}
	_, err := c.Submit(context.Background(), sampleIncidents(1), false)
	if err == nil {
		t.Fatal("expected error on 503")
	}
	var statusErr *httpx.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %T, want *httpx.StatusError", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d", statusErr.StatusCode)
	}
}
