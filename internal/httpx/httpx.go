// Package httpx provides the outbound HTTP plumbing shared by connectors,
// the geocoder, and the submission client: bounded-timeout JSON requests
// with cancellation, and extraction of JSON arrays from possibly fenced
// LLM output.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// StatusError is returned for non-2xx responses so callers can distinguish
// provider rejections from transport failures.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("httpx: unexpected status %d: %s", e.StatusCode, body)
}

// maxResponseBytes caps how much of a provider response is read. 4 MB is far
// beyond any payload the pipeline consumes.
const maxResponseBytes = 4 << 20

// Request describes one outbound JSON call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any           // marshalled to JSON when non-nil
	Timeout time.Duration // required; every call is bounded
}

// Do issues the request under a timeout-bounded child context and returns
// the raw response body. Non-2xx responses return a *StatusError.
func Do(ctx context.Context, req Request) ([]byte, error) {
	if req.Timeout <= 0 {
		return nil, fmt.Errorf("httpx: request to %s has no timeout", req.URL)
	}
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	var bodyReader io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("httpx: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("httpx: build request: %w", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("httpx: %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("httpx: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// GetJSON fetches url and unmarshals the response into dst.
func GetJSON(ctx context.Context, url string, headers map[string]string, timeout time.Duration, dst any) error {
	body, err := Do(ctx, Request{Method: http.MethodGet, URL: url, Headers: headers, Timeout: timeout})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("httpx: unmarshal response from %s: %w", url, err)
	}
	return nil
}

// fenceRe matches a markdown code fence block (``` or ~~~) with an optional
// language tag and captures the content between the fences. The content
// group uses `.*?` (not `.+?`) to allow empty bodies inside fences.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches only an opening fence line. Used to strip orphaned
// opening fences from truncated responses.
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

// StripMarkdownFences removes leading/trailing markdown code fences that
// LLMs sometimes wrap around JSON output (e.g., "```json\n...\n```"). If
// only an opening fence is present the opening line is stripped so the JSON
// content can still be parsed.
func StripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// invalidJSONEscapeRe matches a backslash followed by any character that is
// not a valid JSON string escape character ("\/bfnrtu). LLMs sometimes emit
// patterns like \d+ unescaped inside JSON strings; the sanitizer converts
// them to properly double-escaped sequences so the parser accepts them.
var invalidJSONEscapeRe = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

func fixInvalidJSONEscapes(s string) string {
	return invalidJSONEscapeRe.ReplaceAllString(s, `\\$1`)
}

// ExtractJSONArray pulls the first top-level JSON array out of raw LLM
// output. Fences are stripped first; if the remainder is not itself an
// array, the substring between the first '[' and the last ']' is tried.
// A parse failure triggers one escape-sanitization retry before giving up.
func ExtractJSONArray(raw string) ([]json.RawMessage, error) {
	s := StripMarkdownFences(raw)
	if !strings.HasPrefix(strings.TrimSpace(s), "[") {
		start := strings.Index(s, "[")
		end := strings.LastIndex(s, "]")
		if start == -1 || end == -1 || end < start {
			return nil, fmt.Errorf("httpx: no JSON array found in response")
		}
		s = s[start : end+1]
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		fixed := fixInvalidJSONEscapes(s)
		if err2 := json.Unmarshal([]byte(fixed), &items); err2 != nil {
			return nil, fmt.Errorf("httpx: parse JSON array: %w", err)
		}
	}
	return items, nil
}
