// Package focus parses configured geographic focus terms and expands base
// queries into location-scoped variants for each source type.
package focus

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Placeholder is the token a base query may carry to control exactly where
// the focus terms are substituted.
const Placeholder = "{location}"

// ParseLocations accepts a JSON array, a "||"-delimited string, or a
// newline-delimited string of focus locations. Entries are trimmed and
// deduplicated preserving first-seen order.
func ParseLocations(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var parts []string
	if strings.HasPrefix(raw, "[") {
		var arr []string
		if err := json.Unmarshal([]byte(raw), &arr); err == nil {
			parts = arr
		}
	}
	if parts == nil {
		if strings.Contains(raw, "||") {
			parts = strings.Split(raw, "||")
		} else {
			parts = strings.Split(raw, "\n")
		}
	}

	seen := make(map[string]bool, len(parts))
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

// ApplyToXQuery scopes an X search query to the given locations. With a
// placeholder present the OR-group is substituted in place; otherwise it is
// appended. Empty locations return the base unchanged.
func ApplyToXQuery(base string, locations []string) string {
	if len(locations) == 0 {
		return base
	}
	group := "(" + strings.Join(quoteMulti(locations), " OR ") + ")"
	if strings.Contains(base, Placeholder) {
		return strings.ReplaceAll(base, Placeholder, group)
	}
	if strings.TrimSpace(base) == "" {
		return group
	}
	return base + " " + group
}

// quoteMulti wraps multi-word location terms in double quotes so X treats
// them as phrases.
func quoteMulti(locations []string) []string {
	out := make([]string, len(locations))
	for i, loc := range locations {
		if strings.ContainsRune(loc, ' ') {
			out[i] = `"` + loc + `"`
		} else {
			out[i] = loc
		}
	}
	return out
}

// BuildPerplexityQueries produces one variant per base query per location.
// Queries without a placeholder get an explicit focus-geography instruction;
// queries with one get the location substituted. Empty locations pass the
// base queries through untouched.
func BuildPerplexityQueries(baseQueries, locations []string) []string {
	if len(locations) == 0 {
		return append([]string(nil), baseQueries...)
	}
	var out []string
	for _, base := range baseQueries {
		for _, loc := range locations {
			if strings.Contains(base, Placeholder) {
				out = append(out, strings.ReplaceAll(base, Placeholder, loc))
				continue
			}
			out = append(out, fmt.Sprintf("%s Focus geography: %s. Exclude incidents outside %s.", base, loc, loc))
		}
	}
	return out
}

// Window returns windowSize locations starting at rotation index start,
// wrapping around the list, plus the rotation index for the next pass. A
// windowSize at or above the list length returns the whole list.
func Window(locations []string, start, windowSize int) (window []string, next int) {
	n := len(locations)
	if n == 0 {
		return nil, 0
	}
	if windowSize >= n {
		return append([]string(nil), locations...), start % n
	}
	start = ((start % n) + n) % n
	for i := 0; i < windowSize; i++ {
		window = append(window, locations[(start+i)%n])
	}
	return window, (start + windowSize) % n
}
