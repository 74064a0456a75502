// Package config holds all citeScout configuration. Configuration is loaded
// from an optional YAML file and then overridden by environment variables,
// so deployments can run with nothing but env vars set.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all citeScout configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	HTTP         HTTPConfig         `yaml:"http"`
	Sources      SourcesConfig      `yaml:"sources"`
	Pressure     PressureConfig     `yaml:"pressure"`
	Planner      PlannerConfig      `yaml:"planner"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Quality      QualityConfig      `yaml:"quality"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// HTTPConfig configures the rate-limited HTTP client.
type HTTPConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Timeout      time.Duration `yaml:"timeout"`

	// Proxies come from PROXY_LIST (comma-separated host:port[:user:pass]).
	// Empty list disables proxy rotation.
	Proxies []string `yaml:"proxies"`
}

// SourcesConfig configures the source adapters.
type SourcesConfig struct {
	CrossrefRPS        float64 `yaml:"crossref_rps"`
	SemanticScholarRPS float64 `yaml:"semantic_scholar_rps"`
	SerpRPS            float64 `yaml:"serp_rps"`
	GroundedWebRPS     float64 `yaml:"grounded_web_rps"`

	MaxResultsPerQuery int  `yaml:"max_results_per_query"`
	EnableSemantic     bool `yaml:"enable_semantic_scholar"`

	// DataForSEO credentials for the SERP adapter. Without them the
	// adapter falls back to HTML search result parsing.
	DataForSEOLogin    string `yaml:"dataforseo_login"`
	DataForSEOPassword string `yaml:"dataforseo_password"`
}

// PressureConfig configures the backpressure manager.
type PressureConfig struct {
	Window        time.Duration `yaml:"window"`         // decay window for 429 counts
	CriticalCount int           `yaml:"critical_count"` // 429s in window that saturate pressure
	MinDelay      time.Duration `yaml:"min_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	PauseAbove    float64       `yaml:"pause_above"`
	ResumeBelow   float64       `yaml:"resume_below"`
}

// PlannerConfig configures the LLM research planner.
type PlannerConfig struct {
	APIKey         string        `yaml:"api_key"` // GEMINI_API_KEY
	Model          string        `yaml:"model"`
	Tier           string        `yaml:"tier"` // free, paid, custom (GEMINI_API_TIER)
	Timeout        time.Duration `yaml:"timeout"`
	SafetyRetries  int           `yaml:"safety_retries"`
	MinQueries     int           `yaml:"min_queries"`
	CoverageFactor float64       `yaml:"coverage_factor"` // fraction of target that must be covered
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// OrchestratorConfig configures the research orchestrator.
type OrchestratorConfig struct {
	ParallelWorkers   int           `yaml:"parallel_workers"`
	PerQueryTimeout   time.Duration `yaml:"per_query_timeout"`
	EarlyStopHeadroom float64       `yaml:"early_stop_headroom"` // fraction above target, default 0.10
	MultiSource       bool          `yaml:"multi_source"`        // fan out to the whole chain per query
	InterBatchDelay   time.Duration `yaml:"inter_batch_delay"`   // ignored when proxies are configured
}

// QualityConfig configures the quality filter.
type QualityConfig struct {
	Strict       bool `yaml:"strict"`
	CheckDOILive bool `yaml:"check_doi_live"`
	CheckURLLive bool `yaml:"check_url_live"`
}

// LoggingConfig configures categorized logging.
type LoggingConfig struct {
	Enabled    bool            `yaml:"enabled"`
	Level      string          `yaml:"level"`
	Dir        string          `yaml:"dir"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "citeScout",
		Version: "1.2.0",
		HTTP: HTTPConfig{
			MaxRetries:   4,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Timeout:      30 * time.Second,
		},
		Sources: SourcesConfig{
			CrossrefRPS:        10,
			SemanticScholarRPS: 5,
			SerpRPS:            20,
			GroundedWebRPS:     2,
			MaxResultsPerQuery: 5,
			EnableSemantic:     true,
		},
		Pressure: PressureConfig{
			Window:        60 * time.Second,
			CriticalCount: 25,
			MinDelay:      100 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			PauseAbove:    0.8,
			ResumeBelow:   0.5,
		},
		Planner: PlannerConfig{
			Model:          "gemini-2.5-flash",
			Tier:           "free",
			Timeout:        120 * time.Second,
			SafetyRetries:  3,
			MinQueries:     10,
			CoverageFactor: 0.7,
			CacheTTL:       30 * time.Minute,
		},
		Orchestrator: OrchestratorConfig{
			ParallelWorkers:   8,
			PerQueryTimeout:   45 * time.Second,
			EarlyStopHeadroom: 0.10,
			InterBatchDelay:   500 * time.Millisecond,
		},
		Quality: QualityConfig{
			Strict: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path (if it exists), applies defaults for
// missing fields, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies recognized environment variables on top of the
// loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PROXY_LIST"); v != "" {
		c.HTTP.Proxies = splitNonEmpty(v, ",")
	}
	if v := os.Getenv("ENABLE_SEMANTIC_SCHOLAR"); v != "" {
		c.Sources.EnableSemantic = !strings.EqualFold(v, "false")
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Planner.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_TIER"); v != "" {
		c.Planner.Tier = v
		// Paid tier lifts the grounded-web pacing cap.
		if strings.EqualFold(v, "paid") && c.Sources.GroundedWebRPS < 10 {
			c.Sources.GroundedWebRPS = 10
		}
	}
	if v := os.Getenv("DATAFORSEO_LOGIN"); v != "" {
		c.Sources.DataForSEOLogin = v
	}
	if v := os.Getenv("DATAFORSEO_PASSWORD"); v != "" {
		c.Sources.DataForSEOPassword = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be non-negative")
	}
	if c.Pressure.PauseAbove <= c.Pressure.ResumeBelow {
		return fmt.Errorf("pressure.pause_above (%v) must exceed pressure.resume_below (%v)",
			c.Pressure.PauseAbove, c.Pressure.ResumeBelow)
	}
	if c.Orchestrator.ParallelWorkers < 1 {
		return fmt.Errorf("orchestrator.parallel_workers must be at least 1")
	}
	switch strings.ToLower(c.Planner.Tier) {
	case "free", "paid", "custom":
	default:
		return fmt.Errorf("planner.tier must be free, paid, or custom, got %q", c.Planner.Tier)
	}
	return nil
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
