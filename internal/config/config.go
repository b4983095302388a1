// Package config loads the single JSON configuration file that drives a
// run. Every key is simultaneously overridable by an environment variable
// of a documented name, implemented with spf13/viper's
// AutomaticEnv/SetEnvKeyReplacer. Unknown keys are logged and ignored — the
// recognized set is closed.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"revai/internal/logging"
)

// Credentials holds an optional API key for one oracle provider, keyed by
// provider name.
type Credentials struct {
	Provider string `json:"provider" mapstructure:"provider"`
	APIKey   string `json:"api_key" mapstructure:"api_key"`
}

// Config is the closed set of recognized configuration options.
type Config struct {
	GhidraPath        string        `json:"ghidra_path" mapstructure:"ghidra_path"`
	MaxWorkers        int           `json:"max_workers" mapstructure:"max_workers"`
	OracleModel       string        `json:"oracle_model" mapstructure:"oracle_model"`
	OracleEndpointURL string        `json:"oracle_endpoint_url" mapstructure:"oracle_endpoint_url"`
	Credentials       []Credentials `json:"credentials" mapstructure:"credentials"`

	// Ambient settings not part of the original wire contract but needed to
	// drive the pipeline's components; still closed and env-overridable.
	TargetReliability  float64       `json:"target_reliability" mapstructure:"target_reliability"`
	EstimatedErrorRate float64       `json:"estimated_error_rate" mapstructure:"estimated_error_rate"`
	MaxOutputTokens    int           `json:"max_output_tokens" mapstructure:"max_output_tokens"`
	OracleTimeout      time.Duration `json:"oracle_timeout" mapstructure:"oracle_timeout"`
	JudgeTimeout       time.Duration `json:"judge_timeout" mapstructure:"judge_timeout"`
	MinModuleSize      int           `json:"min_module_size" mapstructure:"min_module_size"`
	MaxModuleSize      int           `json:"max_module_size" mapstructure:"max_module_size"`
	DebugMode          bool          `json:"debug_mode" mapstructure:"debug_mode"`
	JSONLogging        bool          `json:"json_logging" mapstructure:"json_logging"`
}

// Default returns the documented defaults for a fresh run.
func Default() *Config {
	return &Config{
		MaxWorkers:         0, // 0 => min(2*CPU, 16), resolved at orchestrator construction
		OracleModel:        "",
		TargetReliability:  0.95,
		EstimatedErrorRate: 0.01,
		MaxOutputTokens:    1000,
		OracleTimeout:      60 * time.Second,
		JudgeTimeout:       60 * time.Second,
		MinModuleSize:      3,
		MaxModuleSize:      15,
	}
}

// Load reads path (if non-empty) as the JSON configuration file, then
// applies environment variable overrides for every recognized key, using
// the prefix REVAI_ (e.g. REVAI_MAX_WORKERS overrides max_workers).
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("json")
	for key, val := range map[string]interface{}{
		"ghidra_path":          cfg.GhidraPath,
		"max_workers":          cfg.MaxWorkers,
		"oracle_model":         cfg.OracleModel,
		"oracle_endpoint_url":  cfg.OracleEndpointURL,
		"target_reliability":   cfg.TargetReliability,
		"estimated_error_rate": cfg.EstimatedErrorRate,
		"max_output_tokens":    cfg.MaxOutputTokens,
		"oracle_timeout":       cfg.OracleTimeout,
		"judge_timeout":        cfg.JudgeTimeout,
		"min_module_size":      cfg.MinModuleSize,
		"max_module_size":      cfg.MaxModuleSize,
		"debug_mode":           cfg.DebugMode,
		"json_logging":         cfg.JSONLogging,
	} {
		v.SetDefault(key, val)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: stat %s: %w", path, err)
			}
		} else {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
			warnUnknownKeys(v.AllKeys(), path)
		}
	}

	v.SetEnvPrefix("REVAI")
	v.AutomaticEnv()
	for _, key := range []string{
		"ghidra_path", "max_workers", "oracle_model", "oracle_endpoint_url",
		"target_reliability", "estimated_error_rate", "max_output_tokens",
		"oracle_timeout", "judge_timeout", "min_module_size", "max_module_size",
		"debug_mode", "json_logging",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return cfg, nil
}

var recognizedKeys = map[string]bool{
	"ghidra_path": true, "max_workers": true, "oracle_model": true,
	"oracle_endpoint_url": true, "credentials": true,
	"target_reliability": true, "estimated_error_rate": true,
	"max_output_tokens": true, "oracle_timeout": true, "judge_timeout": true,
	"min_module_size": true, "max_module_size": true,
	"debug_mode": true, "json_logging": true,
}

func warnUnknownKeys(keys []string, path string) {
	log := logging.Get(logging.CategoryBoot)
	for _, k := range keys {
		if !recognizedKeys[k] {
			log.Warn("config %s: unrecognized key %q ignored", path, k)
		}
	}
}

// CredentialFor returns the API key configured for provider, or "" if none.
func (c *Config) CredentialFor(provider string) string {
	for _, cr := range c.Credentials {
		if cr.Provider == provider {
			return cr.APIKey
		}
	}
	return ""
}
