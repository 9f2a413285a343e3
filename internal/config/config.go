package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/longregen/promptopt/internal/domain"
	"github.com/longregen/promptopt/internal/domain/models"
)

// Config holds all configuration for promptopt
type Config struct {
	LLM        LLMConfig        `json:"llm"`
	Agents     AgentsConfig     `json:"agents"`
	Target     TargetConfig     `json:"target"`
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	Log        LogConfig        `json:"log"`
	Tracing    TracingConfig    `json:"tracing"`
	Resilience ResilienceConfig `json:"resilience"`
	Optimizer  OptimizerConfig  `json:"optimizer"`
}

// LLMConfig holds the OpenAI-compatible endpoint used by the oracle roles
type LLMConfig struct {
	URL            string `json:"url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// AgentConfig is the model setup of one oracle role
type AgentConfig struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// AgentsConfig holds per-role model settings
type AgentsConfig struct {
	Generator    AgentConfig `json:"generator"`
	TestDesigner AgentConfig `json:"test_designer"`
	Evaluator    AgentConfig `json:"evaluator"`
	Refiner      AgentConfig `json:"refiner"`
}

// TargetConfig holds the assistant under test. An empty URL reuses LLM.URL.
type TargetConfig struct {
	URL         string  `json:"url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Path is used for SQLite (default)
	Path string `json:"path"`
	// PostgreSQL connection, takes precedence when set
	PostgresURL string `json:"postgres_url"`
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	CORSOrigins []string `json:"cors_origins"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// TracingConfig toggles the stdout OpenTelemetry exporter
type TracingConfig struct {
	Enabled bool `json:"enabled"`
}

// ResilienceConfig bounds retries and request rate around oracle calls
type ResilienceConfig struct {
	MaxRetries            int     `json:"max_retries"`
	InitialIntervalMs     int     `json:"initial_interval_ms"`
	MaxIntervalMs         int     `json:"max_interval_ms"`
	RequestsPerSecond     float64 `json:"requests_per_second"` // 0 disables rate limiting
	Burst                 int     `json:"burst"`
	BreakerMaxFailures    int     `json:"breaker_max_failures"`
	BreakerTimeoutSeconds int     `json:"breaker_timeout_seconds"`
}

func (r ResilienceConfig) InitialInterval() time.Duration {
	return time.Duration(r.InitialIntervalMs) * time.Millisecond
}

func (r ResilienceConfig) MaxInterval() time.Duration {
	return time.Duration(r.MaxIntervalMs) * time.Millisecond
}

func (r ResilienceConfig) BreakerTimeout() time.Duration {
	return time.Duration(r.BreakerTimeoutSeconds) * time.Second
}

// OptimizerConfig holds the pipeline knobs
type OptimizerConfig struct {
	NumInitialPrompts        int                     `json:"num_initial_prompts"`
	QuickTestDistribution    models.TestDistribution `json:"quick_test_distribution"`
	RigorousTestDistribution models.TestDistribution `json:"rigorous_test_distribution"`
	TopKAdvance              int                     `json:"top_k_advance"`
	TopMRefine               int                     `json:"top_m_refine"`
	MaxIterationsPerTrack    int                     `json:"max_iterations_per_track"`
	ConvergenceThreshold     float64                 `json:"convergence_threshold"`
	EarlyStoppingPatience    int                     `json:"early_stopping_patience"`
	ScoringWeights           models.ScoringWeights   `json:"scoring_weights"`
	MaxConcurrentEvaluations int                     `json:"max_concurrent_evaluations"`
	ParallelExecution        bool                    `json:"parallel_execution"`

	// WeaknessThreshold is the overall score below which a test counts as failed
	WeaknessThreshold  float64 `json:"weakness_threshold"`
	MaxWeaknessSamples int     `json:"max_weakness_samples"`

	// IncludeOriginalPrompt adds the task's original prompt to the initial pool
	IncludeOriginalPrompt bool `json:"include_original_prompt"`
	// EvaluateOriginalForComparison scores the original on the rigorous suite without advancing it
	EvaluateOriginalForComparison bool `json:"evaluate_original_for_comparison"`

	OutputDir string `json:"output_dir"`
}

// DefaultOptimizerConfig returns the pipeline defaults
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		NumInitialPrompts: 15,
		QuickTestDistribution: models.TestDistribution{
			Core: 2, Edge: 2, Boundary: 1, Adversarial: 1, Consistency: 1, Format: 0,
		},
		RigorousTestDistribution: models.TestDistribution{
			Core: 20, Edge: 10, Boundary: 10, Adversarial: 5, Consistency: 3, Format: 2,
		},
		TopKAdvance:                   5,
		TopMRefine:                    3,
		MaxIterationsPerTrack:         10,
		ConvergenceThreshold:          0.02,
		EarlyStoppingPatience:         2,
		ScoringWeights:                models.DefaultScoringWeights(),
		MaxConcurrentEvaluations:      15,
		ParallelExecution:             true,
		WeaknessThreshold:             7.0,
		MaxWeaknessSamples:            5,
		IncludeOriginalPrompt:         true,
		EvaluateOriginalForComparison: true,
		OutputDir:                     "results",
	}
}

// Validate checks the pipeline knobs. Errors wrap domain.ErrInvalidConfig.
func (o *OptimizerConfig) Validate() error {
	var errs []string

	if o.NumInitialPrompts < 1 {
		errs = append(errs, "num_initial_prompts must be at least 1")
	}
	if err := o.QuickTestDistribution.Validate(); err != nil {
		errs = append(errs, "quick_test_distribution: "+err.Error())
	}
	if err := o.RigorousTestDistribution.Validate(); err != nil {
		errs = append(errs, "rigorous_test_distribution: "+err.Error())
	}
	if o.TopKAdvance < 1 {
		errs = append(errs, "top_k_advance must be at least 1")
	}
	if o.TopMRefine < 1 {
		errs = append(errs, "top_m_refine must be at least 1")
	}
	if o.TopMRefine > o.TopKAdvance {
		errs = append(errs, "top_m_refine must not exceed top_k_advance")
	}
	if o.MaxIterationsPerTrack < 1 {
		errs = append(errs, "max_iterations_per_track must be at least 1")
	}
	if o.ConvergenceThreshold < 0 {
		errs = append(errs, "convergence_threshold must not be negative")
	}
	if o.EarlyStoppingPatience < 1 {
		errs = append(errs, "early_stopping_patience must be at least 1")
	}
	if err := o.ScoringWeights.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if o.MaxConcurrentEvaluations < 1 {
		errs = append(errs, "max_concurrent_evaluations must be at least 1")
	}
	if o.WeaknessThreshold < 0 || o.WeaknessThreshold > 10 {
		errs = append(errs, "weakness_threshold must be between 0 and 10")
	}
	if o.MaxWeaknessSamples < 0 {
		errs = append(errs, "max_weakness_samples must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".promptopt")

	return &Config{
		LLM: LLMConfig{
			URL:            "https://api.openai.com/v1",
			APIKey:         "",
			TimeoutSeconds: 120,
		},
		Agents: AgentsConfig{
			Generator:    AgentConfig{Model: "gpt-4o", Temperature: 0.8, MaxTokens: 8192},
			TestDesigner: AgentConfig{Model: "gpt-4o", Temperature: 0.7, MaxTokens: 8192},
			Evaluator:    AgentConfig{Model: "gpt-4o-mini", Temperature: 0.3, MaxTokens: 1024},
			Refiner:      AgentConfig{Model: "gpt-4o", Temperature: 0.7, MaxTokens: 4096},
		},
		Target: TargetConfig{
			URL:         "",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   1024,
		},
		Database: DatabaseConfig{
			Path:        filepath.Join(dataDir, "promptopt.db"),
			PostgresURL: "",
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
		Resilience: ResilienceConfig{
			MaxRetries:            3,
			InitialIntervalMs:     1000,
			MaxIntervalMs:         30000,
			RequestsPerSecond:     0,
			Burst:                 1,
			BreakerMaxFailures:    10,
			BreakerTimeoutSeconds: 30,
		},
		Optimizer: DefaultOptimizerConfig(),
	}
}

// envString loads a string environment variable into the target pointer if set
func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// envInt loads an integer environment variable into the target pointer if set and valid
func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

// envFloat loads a float64 environment variable into the target pointer if set and valid
func envFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

// envBool loads a boolean environment variable into the target pointer if set and valid
func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// envStringSlice loads a comma-separated environment variable into a string slice
func envStringSlice(key string, target *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			*target = result
		}
	}
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPath()
	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to parse config file %s: %v\n", configPath, err)
		}
	}

	applyEnv(cfg)

	if cfg.Database.PostgresURL == "" {
		dataDir := filepath.Dir(cfg.Database.Path)
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	// LLM endpoint. OPENAI_API_KEY is honored as a fallback for the common case.
	envString("OPENAI_API_KEY", &cfg.LLM.APIKey)
	envString("PROMPTOPT_LLM_URL", &cfg.LLM.URL)
	envString("PROMPTOPT_LLM_API_KEY", &cfg.LLM.APIKey)
	envInt("PROMPTOPT_LLM_TIMEOUT_SECONDS", &cfg.LLM.TimeoutSeconds)

	// Per-role models
	envString("PROMPTOPT_GENERATOR_MODEL", &cfg.Agents.Generator.Model)
	envFloat("PROMPTOPT_GENERATOR_TEMPERATURE", &cfg.Agents.Generator.Temperature)
	envString("PROMPTOPT_TEST_DESIGNER_MODEL", &cfg.Agents.TestDesigner.Model)
	envFloat("PROMPTOPT_TEST_DESIGNER_TEMPERATURE", &cfg.Agents.TestDesigner.Temperature)
	envString("PROMPTOPT_EVALUATOR_MODEL", &cfg.Agents.Evaluator.Model)
	envFloat("PROMPTOPT_EVALUATOR_TEMPERATURE", &cfg.Agents.Evaluator.Temperature)
	envString("PROMPTOPT_REFINER_MODEL", &cfg.Agents.Refiner.Model)
	envFloat("PROMPTOPT_REFINER_TEMPERATURE", &cfg.Agents.Refiner.Temperature)

	// Target model
	envString("PROMPTOPT_TARGET_URL", &cfg.Target.URL)
	envString("PROMPTOPT_TARGET_API_KEY", &cfg.Target.APIKey)
	envString("PROMPTOPT_TARGET_MODEL", &cfg.Target.Model)
	envFloat("PROMPTOPT_TARGET_TEMPERATURE", &cfg.Target.Temperature)

	// Database
	envString("PROMPTOPT_DB_PATH", &cfg.Database.Path)
	envString("PROMPTOPT_POSTGRES_URL", &cfg.Database.PostgresURL)

	// Server
	envString("PROMPTOPT_SERVER_HOST", &cfg.Server.Host)
	envInt("PROMPTOPT_SERVER_PORT", &cfg.Server.Port)
	envStringSlice("PROMPTOPT_CORS_ORIGINS", &cfg.Server.CORSOrigins)

	// Logging and tracing
	envString("PROMPTOPT_LOG_LEVEL", &cfg.Log.Level)
	envBool("PROMPTOPT_LOG_PRETTY", &cfg.Log.Pretty)
	envBool("PROMPTOPT_TRACING_ENABLED", &cfg.Tracing.Enabled)

	// Resilience
	envInt("PROMPTOPT_MAX_RETRIES", &cfg.Resilience.MaxRetries)
	envFloat("PROMPTOPT_REQUESTS_PER_SECOND", &cfg.Resilience.RequestsPerSecond)
	envInt("PROMPTOPT_BURST", &cfg.Resilience.Burst)

	// Optimizer
	envInt("PROMPTOPT_NUM_INITIAL_PROMPTS", &cfg.Optimizer.NumInitialPrompts)
	envInt("PROMPTOPT_TOP_K", &cfg.Optimizer.TopKAdvance)
	envInt("PROMPTOPT_TOP_M", &cfg.Optimizer.TopMRefine)
	envInt("PROMPTOPT_MAX_ITERATIONS", &cfg.Optimizer.MaxIterationsPerTrack)
	envFloat("PROMPTOPT_CONVERGENCE_THRESHOLD", &cfg.Optimizer.ConvergenceThreshold)
	envInt("PROMPTOPT_PATIENCE", &cfg.Optimizer.EarlyStoppingPatience)
	envInt("PROMPTOPT_MAX_CONCURRENT_EVALUATIONS", &cfg.Optimizer.MaxConcurrentEvaluations)
	envBool("PROMPTOPT_PARALLEL_EXECUTION", &cfg.Optimizer.ParallelExecution)
	envFloat("PROMPTOPT_WEAKNESS_THRESHOLD", &cfg.Optimizer.WeaknessThreshold)
	envString("PROMPTOPT_OUTPUT_DIR", &cfg.Optimizer.OutputDir)
}

// TargetURL returns the endpoint of the model under test
func (c *Config) TargetURL() string {
	if c.Target.URL != "" {
		return c.Target.URL
	}
	return c.LLM.URL
}

// TargetAPIKey returns the key of the model under test
func (c *Config) TargetAPIKey() string {
	if c.Target.APIKey != "" {
		return c.Target.APIKey
	}
	return c.LLM.APIKey
}

// IsPostgresConfigured returns true when runs are stored in PostgreSQL
func (c *Config) IsPostgresConfigured() bool {
	return c.Database.PostgresURL != ""
}

// isValidURL validates that a URL has proper format
func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks that the configuration has valid values
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}

	// LLM validation
	if c.LLM.URL == "" {
		errs = append(errs, "LLM URL is required")
	} else if !isValidURL(c.LLM.URL) {
		errs = append(errs, "LLM URL must be a valid URL")
	}
	if c.Target.URL != "" && !isValidURL(c.Target.URL) {
		errs = append(errs, "target URL must be a valid URL")
	}

	agents := map[string]AgentConfig{
		"generator":     c.Agents.Generator,
		"test_designer": c.Agents.TestDesigner,
		"evaluator":     c.Agents.Evaluator,
		"refiner":       c.Agents.Refiner,
	}
	for name, a := range agents {
		if a.Model == "" {
			errs = append(errs, fmt.Sprintf("agent %s: model is required", name))
		}
		if a.Temperature < 0 || a.Temperature > 2 {
			errs = append(errs, fmt.Sprintf("agent %s: temperature must be between 0 and 2", name))
		}
	}
	if c.Target.Temperature < 0 || c.Target.Temperature > 2 {
		errs = append(errs, "target temperature must be between 0 and 2")
	}

	// Database validation
	if c.Database.PostgresURL == "" && c.Database.Path == "" {
		errs = append(errs, "either PostgreSQL URL or database path is required")
	}
	if c.Database.PostgresURL != "" && !isValidURL(c.Database.PostgresURL) {
		errs = append(errs, "PostgreSQL URL must be a valid URL")
	}

	// Resilience validation
	if c.Resilience.MaxRetries < 0 {
		errs = append(errs, "max_retries must not be negative")
	}
	if c.Resilience.RequestsPerSecond < 0 {
		errs = append(errs, "requests_per_second must not be negative")
	}

	if err := c.Optimizer.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// getConfigPath returns the path to the config file
func getConfigPath() string {
	if path := os.Getenv("PROMPTOPT_CONFIG"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}

	// Check ~/.config/promptopt/config.json first
	configPath := filepath.Join(homeDir, ".config", "promptopt", "config.json")
	if _, err := os.Stat(configPath); err == nil {
		return configPath
	}

	// Check ~/.promptopt/config.json
	altPath := filepath.Join(homeDir, ".promptopt", "config.json")
	if _, err := os.Stat(altPath); err == nil {
		return altPath
	}

	return configPath
}
