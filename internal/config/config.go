// Package config loads pipeline configuration from environment variables.
// CLI flags may override individual fields after Load; nothing here reads
// flags directly.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full environment-derived configuration for one cycle.
type Config struct {
	// Web/LLM retrieval.
	RetrievalProvider string // "openai-compatible" (default), "anthropic", "google"
	PerplexityAPIKey  string
	PerplexityModel   string
	PerplexityAPIURL  string

	// X recent-search.
	XBearerToken string
	XAPIURL      string
	XQuery       string
	XMaxResults  int

	// Geocoding.
	HereAPIKey     string
	GeocodeTimeout time.Duration

	// Focus and quality gates.
	FocusLocations   string
	MinSummaryLength int

	// Wolf ingest.
	WolfIngestURL    string
	WolfIngestToken  string
	WolfProductType  string
	WolfDispatch     bool
	ReporterID       string
}

// Load reads every SHERLOCK_* (and related) environment variable once.
// Absent variables fall back to defaults; malformed numeric values also fall
// back rather than failing, since a bad env var should never kill a cycle
// that flags could still correct.
func Load() Config {
	timeoutMS := getEnvInt("SHERLOCK_GEOCODE_TIMEOUT_MS", 8000)

	return Config{
		RetrievalProvider: getEnv("SHERLOCK_RETRIEVAL_PROVIDER", "openai-compatible"),
		PerplexityAPIKey:  getEnv("PERPLEXITY_API_KEY", ""),
		PerplexityModel:   getEnv("SHERLOCK_PERPLEXITY_MODEL", "sonar"),
		PerplexityAPIURL:  getEnv("SHERLOCK_PERPLEXITY_API_URL", "https://api.perplexity.ai"),

		XBearerToken: getEnv("SHERLOCK_X_BEARER_TOKEN", ""),
		XAPIURL:      getEnv("SHERLOCK_X_API_URL", "https://api.x.com/2/tweets/search/recent"),
		XQuery:       getEnv("SHERLOCK_X_QUERY", ""),
		XMaxResults:  getEnvInt("SHERLOCK_X_MAX_RESULTS", 25),

		HereAPIKey:     getEnv("HERE_API_KEY", ""),
		GeocodeTimeout: time.Duration(timeoutMS) * time.Millisecond,

		FocusLocations:   getEnv("SHERLOCK_FOCUS_LOCATIONS", ""),
		MinSummaryLength: getEnvInt("SHERLOCK_MIN_SUMMARY_LENGTH", 24),

		WolfIngestURL:   getEnv("SHERLOCK_WOLF_INGEST_URL", ""),
		WolfIngestToken: getEnv("SHERLOCK_WOLF_INGEST_TOKEN", ""),
		WolfProductType: getEnv("SHERLOCK_WOLF_PRODUCT_TYPE", "incident_batch"),
		WolfDispatch:    getEnvBool("SHERLOCK_WOLF_DISPATCH_ALERTS", false),
		ReporterID:      getEnv("SHERLOCK_REPORTER_ID", "sherlock-agent"),
	}
}

func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}
