// Package geocode resolves free text to coordinates through an ordered
// fallback chain: inline coordinate extraction, the HERE geocoding API
// (key-gated), then Nominatim (keyless). Provider timeouts and non-2xx
// responses count as "no result", never as errors; the chain simply moves
// on to the next strategy.
package geocode

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wolfgrid/sherlock/internal/httpx"
	"github.com/wolfgrid/sherlock/internal/schema"
)

// Result is one successful resolution.
type Result struct {
	Coordinates schema.Coordinates
	Label       string
	Provider    string // "inline", "here", "nominatim"
}

// Resolver holds provider configuration. The zero value resolves inline
// coordinates only.
type Resolver struct {
	HereAPIKey   string
	HereURL      string // defaults to the public HERE geocode endpoint
	NominatimURL string // defaults to the public Nominatim endpoint
	Timeout      time.Duration
}

// DefaultTimeout bounds each provider call when Resolver.Timeout is unset.
const DefaultTimeout = 8 * time.Second

const (
	defaultHereURL      = "https://geocode.search.hereapi.com/v1/geocode"
	defaultNominatimURL = "https://nominatim.openstreetmap.org/search"
)

// Resolve walks the fallback chain for text. A nil result means every
// strategy came up empty; that is the normal outcome for unresolvable text,
// not a failure.
func (r *Resolver) Resolve(ctx context.Context, text string) *Result {
	if text == "" {
		return nil
	}
	if res := extractInline(text); res != nil {
		return res
	}
	if r.HereAPIKey != "" {
		if res := r.resolveHere(ctx, text); res != nil {
			return res
		}
	}
	return r.resolveNominatim(ctx, text)
}

func (r *Resolver) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

// inlinePairRe matches two signed decimal numbers separated by a comma, the
// usual shape of coordinates pasted into post text.
var inlinePairRe = regexp.MustCompile(`(-?\d{1,3}\.\d+)\s*,\s*(-?\d{1,3}\.\d+)`)

// extractInline pulls an explicit "lat, lon" pair out of text. Either
// ordering is accepted: whichever assignment satisfies the valid coordinate
// ranges wins, preferring the written order when both do.
func extractInline(text string) *Result {
	m := inlinePairRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	a, err1 := strconv.ParseFloat(m[1], 64)
	b, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	asWritten := schema.Coordinates{Latitude: a, Longitude: b}
	if asWritten.Valid() {
		return &Result{Coordinates: asWritten, Provider: "inline"}
	}
	swapped := schema.Coordinates{Latitude: b, Longitude: a}
	if swapped.Valid() {
		return &Result{Coordinates: swapped, Provider: "inline"}
	}
	return nil
}

func (r *Resolver) resolveHere(ctx context.Context, text string) *Result {
	base := r.HereURL
	if base == "" {
		base = defaultHereURL
	}
	u := fmt.Sprintf("%s?q=%s&limit=1&apiKey=%s",
		base, url.QueryEscape(text), url.QueryEscape(r.HereAPIKey))

	body, err := httpx.Do(ctx, httpx.Request{
		Method:  http.MethodGet,
		URL:     u,
		Timeout: r.timeout(),
	})
	if err != nil {
		return nil
	}

	item := gjson.GetBytes(body, "items.0")
	if !item.Exists() {
		return nil
	}
	coords := schema.Coordinates{
		Latitude:  item.Get("position.lat").Float(),
		Longitude: item.Get("position.lng").Float(),
	}
	if !coords.Valid() {
		return nil
	}
	return &Result{Coordinates: coords, Label: item.Get("title").String(), Provider: "here"}
}

func (r *Resolver) resolveNominatim(ctx context.Context, text string) *Result {
	base := r.NominatimURL
	if base == "" {
		base = defaultNominatimURL
	}
	u := fmt.Sprintf("%s?q=%s&format=json&limit=1", base, url.QueryEscape(text))

	body, err := httpx.Do(ctx, httpx.Request{
		Method: http.MethodGet,
		URL:    u,
		// Nominatim's usage policy requires an identifying User-Agent.
		Headers: map[string]string{"User-Agent": "sherlock-incident-pipeline/1.0"},
		Timeout: r.timeout(),
	})
	if err != nil {
		return nil
	}

	item := gjson.GetBytes(body, "0")
	if !item.Exists() {
		return nil
	}
	coords := schema.Coordinates{
		Latitude:  item.Get("lat").Float(),
		Longitude: item.Get("lon").Float(),
	}
	if !coords.Valid() {
		return nil
	}
	return &Result{Coordinates: coords, Label: item.Get("display_name").String(), Provider: "nominatim"}
}
