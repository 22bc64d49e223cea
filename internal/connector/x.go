package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wolfgrid/sherlock/internal/httpx"
	"github.com/wolfgrid/sherlock/internal/schema"
)

// XName is the social connector's name as reported in results and state.
const XName = "x_api"

// DefaultXTimeout bounds the recent-search HTTP call.
const DefaultXTimeout = 15 * time.Second

// XConnector queries the X recent-search API by keyword and geo filter,
// paginating via a persisted since-id cursor.
type XConnector struct {
	BearerToken string
	APIURL      string
	Query       string // already focus-expanded by the collection plan
	MaxResults  int
	SinceID     string // cursor from the previous clean cycle, may be empty
	Timeout     time.Duration
}

func (c *XConnector) Name() string { return XName }

// Collect runs one recent-search request. A missing bearer token disables
// the connector for this pass (warning, no error). A non-2xx response from
// the API is an error.
func (c *XConnector) Collect(ctx context.Context) (*schema.ConnectorResult, error) {
	now := time.Now().UTC()
	res := &schema.ConnectorResult{
		Connector:  XName,
		Checkpoint: schema.Checkpoint{SinceID: c.SinceID, LastRunAt: now.Format(time.RFC3339)},
	}
	if c.BearerToken == "" {
		res.Warnings = append(res.Warnings, "x_api: bearer token not configured, skipping")
		return res, nil
	}

	body, err := httpx.Do(ctx, httpx.Request{
		Method:  http.MethodGet,
		URL:     c.searchURL(),
		Headers: map[string]string{"Authorization": "Bearer " + c.BearerToken},
		Timeout: c.timeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("x_api: recent search: %w", err)
	}

	root := gjson.ParseBytes(body)
	posts := root.Get("data")
	if !posts.Exists() || len(posts.Array()) == 0 {
		res.Warnings = append(res.Warnings, "x_api: no posts matched the query window")
		return res, nil
	}

	places := indexPlaces(root.Get("includes.places"))
	users := indexUsers(root.Get("includes.users"))

	// The API does not guarantee response ordering, so the cursor is the
	// maximum id seen across the whole batch, not the first or last entry.
	maxID := c.SinceID
	for _, post := range posts.Array() {
		cand := c.candidateFromPost(post, places, users, now)
		res.Candidates = append(res.Candidates, cand)
		if compareXIDs(cand.SourceID, maxID) > 0 {
			maxID = cand.SourceID
		}
	}
	res.Checkpoint.SinceID = maxID
	res.Meta = map[string]any{"resultCount": len(res.Candidates)}
	return res, nil
}

func (c *XConnector) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultXTimeout
}

func (c *XConnector) searchURL() string {
	q := url.Values{}
	q.Set("query", c.Query)
	q.Set("max_results", fmt.Sprintf("%d", c.maxResults()))
	q.Set("tweet.fields", "created_at,geo,public_metrics,author_id")
	q.Set("expansions", "geo.place_id,author_id")
	q.Set("place.fields", "full_name,geo")
	q.Set("user.fields", "username")
	if c.SinceID != "" {
		q.Set("since_id", c.SinceID)
	}
	return c.APIURL + "?" + q.Encode()
}

func (c *XConnector) maxResults() int {
	if c.MaxResults >= 10 && c.MaxResults <= 100 {
		return c.MaxResults
	}
	return 25
}

// candidateFromPost maps one post object into an IncidentCandidate.
// Coordinates come from the post's own geo point when present, otherwise
// from the centroid of the referenced place's bounding box.
func (c *XConnector) candidateFromPost(post gjson.Result, places map[string]gjson.Result, users map[string]string, now time.Time) schema.IncidentCandidate {
	id := post.Get("id").String()
	text := post.Get("text").String()
	metrics := post.Get("public_metrics")

	cand := schema.IncidentCandidate{
		Connector:      XName,
		SourcePlatform: schema.PlatformX,
		SourceID:       id,
		SourceURL:      "https://x.com/i/web/status/" + id,
		Summary:        truncate(text, 280),
		RawText:        text,
		Author:         users[post.Get("author_id").String()],
		PostedAt:       post.Get("created_at").String(),
		Keywords:       matchKeywords(text),
		Virality: schema.Virality{
			Likes:   int(metrics.Get("like_count").Int()),
			Reposts: int(metrics.Get("retweet_count").Int()),
			Replies: int(metrics.Get("reply_count").Int()),
			Views:   int(metrics.Get("impression_count").Int()),
		},
		CollectedAt: now,
	}

	sev := severityFromEngagement(cand.Virality.EngagementScore())
	cand.Severity = &sev

	// Point geo is [longitude, latitude] per GeoJSON.
	if point := post.Get("geo.coordinates.coordinates"); point.Exists() && len(point.Array()) == 2 {
		lon := point.Array()[0].Float()
		lat := point.Array()[1].Float()
		cand.Latitude = &lat
		cand.Longitude = &lon
		return cand
	}

	if place, ok := places[post.Get("geo.place_id").String()]; ok {
		cand.LocationLabel = place.Get("full_name").String()
		if lat, lon, ok := bboxCentroid(place.Get("geo.bbox")); ok {
			cand.Latitude = &lat
			cand.Longitude = &lon
		}
	}
	return cand
}

// bboxCentroid approximates a named place with the center of its bounding
// box [west, south, east, north].
func bboxCentroid(bbox gjson.Result) (lat, lon float64, ok bool) {
	arr := bbox.Array()
	if len(arr) != 4 {
		return 0, 0, false
	}
	west, south, east, north := arr[0].Float(), arr[1].Float(), arr[2].Float(), arr[3].Float()
	return (south + north) / 2, (west + east) / 2, true
}

func indexPlaces(places gjson.Result) map[string]gjson.Result {
	out := make(map[string]gjson.Result)
	for _, p := range places.Array() {
		out[p.Get("id").String()] = p
	}
	return out
}

func indexUsers(users gjson.Result) map[string]string {
	out := make(map[string]string)
	for _, u := range users.Array() {
		out[u.Get("id").String()] = u.Get("username").String()
	}
	return out
}

// compareXIDs orders two X post ids numerically. Ids are decimal strings of
// a monotonically increasing 64-bit id, so a longer string is always larger
// and equal lengths compare lexicographically. Empty sorts first.
func compareXIDs(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}
	if len(a) != len(b) {
		if len(a) > len(b) {
			return 1
		}
		return -1
	}
	if a > b {
		return 1
	}
	return -1
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
