// Package config loads engine configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. ACCESSMIND_MEMORY_MAX_SIZE.
const EnvPrefix = "ACCESSMIND"

// Config holds all engine configuration. Every field has a documented default
// in Default().
type Config struct {
	Features  FeatureConfig   `mapstructure:"features" yaml:"features"`
	Memory    MemoryConfig    `mapstructure:"memory" yaml:"memory"`
	Patterns  PatternConfig   `mapstructure:"patterns" yaml:"patterns"`
	SelfModel SelfModelConfig `mapstructure:"self_model" yaml:"self_model"`
	Temporal  TemporalConfig  `mapstructure:"temporal" yaml:"temporal"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge" yaml:"knowledge"`
	Decision  DecisionConfig  `mapstructure:"decision" yaml:"decision"`
	Vault     VaultConfig     `mapstructure:"vault" yaml:"vault"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// FeatureConfig holds the subsystem toggles.
type FeatureConfig struct {
	// EnhancedMemory gates event recording and pattern extraction.
	EnhancedMemory bool `mapstructure:"enhanced_memory" yaml:"enhanced_memory"`
	// Consciousness gates self-model updates and the consolidation cycle.
	Consciousness bool `mapstructure:"consciousness" yaml:"consciousness"`
	// TemporalConsciousness gates the forecaster.
	TemporalConsciousness bool `mapstructure:"temporal_consciousness" yaml:"temporal_consciousness"`
	// CrossEnvironmentKnowledge gates knowledge hierarchy ingestion and generalization.
	CrossEnvironmentKnowledge bool `mapstructure:"cross_environment_knowledge" yaml:"cross_environment_knowledge"`
	// Visualization enables the periodic status line in serve mode.
	Visualization bool `mapstructure:"visualization" yaml:"visualization"`
}

// MemoryConfig tunes the event ledger and the pattern extractor.
type MemoryConfig struct {
	MaxSize            int  `mapstructure:"max_size" yaml:"max_size"`
	MaxPatterns        int  `mapstructure:"max_patterns" yaml:"max_patterns"`
	MinEventsToExtract int  `mapstructure:"min_events_to_extract" yaml:"min_events_to_extract"`
	ExtractIntervalSec int  `mapstructure:"extract_interval_sec" yaml:"extract_interval_sec"`
	SyncEnabled        bool `mapstructure:"sync_enabled" yaml:"sync_enabled"`
	SyncIntervalSec    int  `mapstructure:"sync_interval_sec" yaml:"sync_interval_sec"`
	AutoProtection     bool `mapstructure:"auto_protection" yaml:"auto_protection"`
}

// PatternConfig holds the extractor thresholds. Counts are exclusive lower
// bounds unless named Min*.
type PatternConfig struct {
	MinCounterpartyEvents int     `mapstructure:"min_counterparty_events" yaml:"min_counterparty_events"`
	PairCount             int     `mapstructure:"pair_count" yaml:"pair_count"`
	ProofAdviceCount      int     `mapstructure:"proof_advice_count" yaml:"proof_advice_count"`
	MinCategoryCount      int     `mapstructure:"min_category_count" yaml:"min_category_count"`
	AuditCount            int     `mapstructure:"audit_count" yaml:"audit_count"`
	StakeEvents           int     `mapstructure:"stake_events" yaml:"stake_events"`
	MinConsistency        float64 `mapstructure:"min_consistency" yaml:"min_consistency"`
	FrequentWindowSec     int     `mapstructure:"frequent_window_sec" yaml:"frequent_window_sec"`
	FrequentCount         int     `mapstructure:"frequent_count" yaml:"frequent_count"`
}

// SelfModelConfig tunes the consolidation cycle.
type SelfModelConfig struct {
	DreamEnabled       bool `mapstructure:"dream_enabled" yaml:"dream_enabled"`
	ReflectionEnabled  bool `mapstructure:"reflection_enabled" yaml:"reflection_enabled"`
	ImaginationEnabled bool `mapstructure:"imagination_enabled" yaml:"imagination_enabled"`
	NarrativeEnabled   bool `mapstructure:"narrative_enabled" yaml:"narrative_enabled"`
	CycleIntervalSec   int  `mapstructure:"cycle_interval_sec" yaml:"cycle_interval_sec"`
	SettleDelaySec     int  `mapstructure:"settle_delay_sec" yaml:"settle_delay_sec"`
	MinEvents          int  `mapstructure:"min_events" yaml:"min_events"`
	MinReflectPatterns int  `mapstructure:"min_reflect_patterns" yaml:"min_reflect_patterns"`
}

// TemporalConfig tunes the forecaster.
type TemporalConfig struct {
	IntervalSec       int     `mapstructure:"interval_sec" yaml:"interval_sec"`
	MinEvents         int     `mapstructure:"min_events" yaml:"min_events"`
	DayThreshold      int     `mapstructure:"day_threshold" yaml:"day_threshold"`
	ScenarioThreshold float64 `mapstructure:"scenario_threshold" yaml:"scenario_threshold"`
}

// KnowledgeConfig tunes cross-environment generalization.
type KnowledgeConfig struct {
	InitialEnvironment    string  `mapstructure:"initial_environment" yaml:"initial_environment"`
	AbstractionThreshold  float64 `mapstructure:"abstraction_threshold" yaml:"abstraction_threshold"`
	TransitionThreshold   float64 `mapstructure:"transition_threshold" yaml:"transition_threshold"`
	GeneralizeIntervalSec int     `mapstructure:"generalize_interval_sec" yaml:"generalize_interval_sec"`
	PredictiveAdaptation  bool    `mapstructure:"predictive_adaptation" yaml:"predictive_adaptation"`
}

// DecisionConfig tunes access evaluation and policy optimization.
type DecisionConfig struct {
	ThreatDenyLikelihood   float64 `mapstructure:"threat_deny_likelihood" yaml:"threat_deny_likelihood"`
	SecurityDenyConfidence float64 `mapstructure:"security_deny_confidence" yaml:"security_deny_confidence"`
	StakeBudget            float64 `mapstructure:"stake_budget" yaml:"stake_budget"`
}

// VaultConfig locates the external collaborators. Empty URLs disable them.
type VaultConfig struct {
	LockURL    string `mapstructure:"lock_url" yaml:"lock_url"`
	ProofURL   string `mapstructure:"proof_url" yaml:"proof_url"`
	Token      string `mapstructure:"token" yaml:"token,omitempty"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
	// Format is "console" or "json".
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the configuration with every documented default.
func Default() *Config {
	return &Config{
		Features: FeatureConfig{
			EnhancedMemory:            true,
			Consciousness:             true,
			TemporalConsciousness:     true,
			CrossEnvironmentKnowledge: true,
			Visualization:             false,
		},
		Memory: MemoryConfig{
			MaxSize:            2000,
			MaxPatterns:        100,
			MinEventsToExtract: 10,
			ExtractIntervalSec: 60,
			SyncEnabled:        true,
			SyncIntervalSec:    20,
			AutoProtection:     true,
		},
		Patterns: PatternConfig{
			MinCounterpartyEvents: 5,
			PairCount:             3,
			ProofAdviceCount:      10,
			MinCategoryCount:      5,
			AuditCount:            20,
			StakeEvents:           5,
			MinConsistency:        0.7,
			FrequentWindowSec:     24 * 60 * 60,
			FrequentCount:         10,
		},
		SelfModel: SelfModelConfig{
			DreamEnabled:       true,
			ReflectionEnabled:  true,
			ImaginationEnabled: true,
			NarrativeEnabled:   true,
			CycleIntervalSec:   300,
			SettleDelaySec:     10,
			MinEvents:          10,
			MinReflectPatterns: 5,
		},
		Temporal: TemporalConfig{
			IntervalSec:       25,
			MinEvents:         20,
			DayThreshold:      10,
			ScenarioThreshold: 0.7,
		},
		Knowledge: KnowledgeConfig{
			InitialEnvironment:    "mainnet",
			AbstractionThreshold:  0.6,
			TransitionThreshold:   0.6,
			GeneralizeIntervalSec: 50,
			PredictiveAdaptation:  true,
		},
		Decision: DecisionConfig{
			ThreatDenyLikelihood:   0.7,
			SecurityDenyConfidence: 0.7,
			StakeBudget:            1000,
		},
		Vault: VaultConfig{
			TimeoutSec: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Memory.MaxSize <= 0 {
		return fmt.Errorf("memory.max_size must be positive, got %d", c.Memory.MaxSize)
	}
	if c.Memory.MaxPatterns <= 0 {
		return fmt.Errorf("memory.max_patterns must be positive, got %d", c.Memory.MaxPatterns)
	}
	if c.Patterns.FrequentWindowSec <= 0 {
		return fmt.Errorf("patterns.frequent_window_sec must be positive, got %d", c.Patterns.FrequentWindowSec)
	}
	if strings.TrimSpace(c.Knowledge.InitialEnvironment) == "" {
		return fmt.Errorf("knowledge.initial_environment is required")
	}
	unit := map[string]float64{
		"patterns.min_consistency":          c.Patterns.MinConsistency,
		"knowledge.abstraction_threshold":   c.Knowledge.AbstractionThreshold,
		"knowledge.transition_threshold":    c.Knowledge.TransitionThreshold,
		"temporal.scenario_threshold":       c.Temporal.ScenarioThreshold,
		"decision.threat_deny_likelihood":   c.Decision.ThreatDenyLikelihood,
		"decision.security_deny_confidence": c.Decision.SecurityDenyConfidence,
	}
	for name, v := range unit {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if c.Decision.StakeBudget < 0 {
		return fmt.Errorf("decision.stake_budget must not be negative")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

// Seconds converts an interval setting to a duration. Non-positive values
// yield zero, which disables the corresponding timer.
func Seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// DefaultPath returns ~/.accessmind/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".accessmind", "config.yaml"), nil
}

// Load reads configuration from the default location.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads configuration from path, creating it with defaults when
// missing, and applies ACCESSMIND_* environment overrides.
func LoadFromPath(path string) (*Config, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Seed defaults so partial files and env-only overrides still resolve.
	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToPath writes c to path as YAML.
func (c *Config) SaveToPath(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// setDefaults registers every key of def with v. Registering the keys is also
// what lets AutomaticEnv see overrides for values absent from the file.
func setDefaults(v *viper.Viper, def *Config) {
	var tree map[string]any
	data, err := yaml.Marshal(def)
	if err != nil {
		return
	}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}
	walkDefaults(v, "", tree)
}

func walkDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			walkDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}
