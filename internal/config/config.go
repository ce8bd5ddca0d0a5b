package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urlsentry/urlsentry/internal/logger"
	"github.com/urlsentry/urlsentry/internal/types"
	"gopkg.in/yaml.v3"
)

var cfgLog = logger.New("config")

// Config represents the urlsentry configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Scan    ScanConfig    `yaml:"scan"`
	Rules   RulesConfig   `yaml:"rules"`
	Learner LearnerConfig `yaml:"learner"`
	History HistoryConfig `yaml:"history"`
}

// ServerConfig holds HTTP API server settings
type ServerConfig struct {
	Port     int            `yaml:"port"`
	LogLevel types.LogLevel `yaml:"log_level"`
	NoColor  bool           `yaml:"no_color"`
}

// ScanConfig holds scan engine settings
type ScanConfig struct {
	// Policy selects the verdict mapping: "safety-percentage" (default)
	// or "risk-factor".
	Policy string `yaml:"policy"`
	// CacheTTLHours is how long a completed decision is served from cache.
	CacheTTLHours int `yaml:"cache_ttl_hours"`
	// ProducerTimeout in seconds for each evidence producer call.
	ProducerTimeout int `yaml:"producer_timeout"`
	// PollAttempts bounds how many times Await checks for a terminal decision.
	PollAttempts int `yaml:"poll_attempts"`
	// PollIntervalMs is the wait between poll attempts.
	PollIntervalMs int `yaml:"poll_interval_ms"`
}

// RulesConfig holds heuristic rule store settings
type RulesConfig struct {
	// StorePath is the JSON rule store file (default: ~/.urlsentry/rules.json)
	StorePath string `yaml:"store_path"`
	// SeedDir holds YAML seed rule files loaded into an empty store.
	SeedDir string `yaml:"seed_dir"`
	// Watch enables fsnotify hot reload of the store file.
	Watch bool `yaml:"watch"`
	// EvaluatorBudget is the heuristics phase maxScore.
	EvaluatorBudget int `yaml:"evaluator_budget"`
}

// LearnerConfig holds supervised learning settings
type LearnerConfig struct {
	Enabled           bool    `yaml:"enabled"`
	InitialConfidence float64 `yaml:"initial_confidence"`
	DecayPerDay       float64 `yaml:"decay_per_day"`
	MinConfidence     float64 `yaml:"min_confidence"`
	FalsePositiveStep float64 `yaml:"false_positive_step"`
	// MinPatterns is the minimum number of pattern flags required before a
	// confirmed-malicious sample produces a rule.
	MinPatterns int `yaml:"min_patterns"`
}

// HistoryConfig holds decision history database settings
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"` // 0 = forever
}

// DefaultConfigPath returns the default config file path (~/.urlsentry/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".urlsentry", "config.yaml")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./urlsentry.db"
	}
	return filepath.Join(home, ".urlsentry", "urlsentry.db")
}

// DefaultRuleStorePath returns the default rule store file path.
func DefaultRuleStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "rules.json"
	}
	return filepath.Join(home, ".urlsentry", "rules.json")
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8844,
			LogLevel: types.LogLevelInfo,
			NoColor:  false,
		},
		Scan: ScanConfig{
			Policy:          "safety-percentage",
			CacheTTLHours:   24,
			ProducerTimeout: 5,
			PollAttempts:    20,
			PollIntervalMs:  500,
		},
		Rules: RulesConfig{
			StorePath:       "", // empty means DefaultRuleStorePath
			SeedDir:         "",
			Watch:           true,
			EvaluatorBudget: 25,
		},
		Learner: LearnerConfig{
			Enabled:           true,
			InitialConfidence: 0.85,
			DecayPerDay:       0.01,
			MinConfidence:     0.30,
			FalsePositiveStep: 0.10,
			MinPatterns:       2,
		},
		History: HistoryConfig{
			Enabled:       true,
			DBPath:        defaultDBPath(),
			RetentionDays: 30,
		},
	}
}

// knownPolicies is the set of verdict policies the engine can be configured with.
var knownPolicies = map[string]bool{
	"safety-percentage": true,
	"risk-factor":       true,
}

// Validate checks all Config fields and returns a multi-error report.
// Call this AFTER CLI overrides have been applied, not during Load().
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port: must be 1-65535 (got %d)", c.Server.Port))
	}
	if !c.Server.LogLevel.Valid() {
		errs = append(errs, fmt.Sprintf("server.log_level: unknown log level %q (valid: trace, debug, info, warn, error)", c.Server.LogLevel))
	}

	if !knownPolicies[c.Scan.Policy] {
		errs = append(errs, fmt.Sprintf("scan.policy: unknown policy %q (valid: safety-percentage, risk-factor)", c.Scan.Policy))
	}
	if c.Scan.CacheTTLHours <= 0 {
		errs = append(errs, fmt.Sprintf("scan.cache_ttl_hours: must be positive (got %d)", c.Scan.CacheTTLHours))
	}
	if c.Scan.ProducerTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("scan.producer_timeout: must be positive (got %d)", c.Scan.ProducerTimeout))
	}
	if c.Scan.PollAttempts <= 0 {
		errs = append(errs, fmt.Sprintf("scan.poll_attempts: must be positive (got %d)", c.Scan.PollAttempts))
	}
	if c.Scan.PollIntervalMs <= 0 {
		errs = append(errs, fmt.Sprintf("scan.poll_interval_ms: must be positive (got %d)", c.Scan.PollIntervalMs))
	}

	if c.Rules.EvaluatorBudget <= 0 {
		errs = append(errs, fmt.Sprintf("rules.evaluator_budget: must be positive (got %d)", c.Rules.EvaluatorBudget))
	}

	if c.Learner.InitialConfidence <= 0 || c.Learner.InitialConfidence > 1 {
		errs = append(errs, fmt.Sprintf("learner.initial_confidence: must be in (0,1] (got %g)", c.Learner.InitialConfidence))
	}
	if c.Learner.DecayPerDay < 0 || c.Learner.DecayPerDay > 1 {
		errs = append(errs, fmt.Sprintf("learner.decay_per_day: must be 0.0-1.0 (got %g)", c.Learner.DecayPerDay))
	}
	if c.Learner.MinConfidence < 0 || c.Learner.MinConfidence > 1 {
		errs = append(errs, fmt.Sprintf("learner.min_confidence: must be 0.0-1.0 (got %g)", c.Learner.MinConfidence))
	}
	if c.Learner.FalsePositiveStep <= 0 || c.Learner.FalsePositiveStep > 1 {
		errs = append(errs, fmt.Sprintf("learner.false_positive_step: must be in (0,1] (got %g)", c.Learner.FalsePositiveStep))
	}
	if c.Learner.MinPatterns < 1 {
		errs = append(errs, fmt.Sprintf("learner.min_patterns: must be >= 1 (got %d)", c.Learner.MinPatterns))
	}

	if c.History.RetentionDays < 0 || c.History.RetentionDays > 36500 {
		errs = append(errs, fmt.Sprintf("history.retention_days: must be 0-36500 (got %d)", c.History.RetentionDays))
	}

	if len(errs) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("config validation failed:\n")
	for i, e := range errs {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e)
	}
	return errors.New(sb.String())
}

// RuleStorePath returns the configured rule store path, or the default.
func (c *Config) RuleStorePath() string {
	if c.Rules.StorePath != "" {
		return c.Rules.StorePath
	}
	return DefaultRuleStorePath()
}

// isUnknownFieldError returns true if the error is from yaml.Decoder.KnownFields(true)
// detecting an unrecognized key (e.g. typo like "servr:").
func isUnknownFieldError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found in type")
}

// Load loads configuration from a YAML file.
// Note: Load does NOT call Validate(). Callers should apply CLI overrides
// first, then call cfg.Validate() themselves.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	// Try strict decode to warn about unknown fields (typos like "servr:")
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if isUnknownFieldError(err) {
			cfgLog.Warn("config has unknown fields (ignored): %v", err)
			// Re-parse without strict mode for forward compatibility
			cfg = DefaultConfig()
			if err2 := yaml.Unmarshal(data, cfg); err2 != nil {
				return nil, fmt.Errorf("config parse error: %w", err2)
			}
		} else {
			return nil, fmt.Errorf("config parse error: %w", err)
		}
	}

	return cfg, nil
}
