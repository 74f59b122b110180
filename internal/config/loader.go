package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "TERMMAP"

// DefaultFile is read when Load is given no path and the file exists.
const DefaultFile = "termmap.yaml"

// defaults registers every key so AutomaticEnv can override keys that are
// absent from the file.
var defaults = map[string]any{
	"data.lexicon":                     "",
	"data.mappings":                    "",
	"data.catalog":                     "",
	"resolver.search_limit":            10,
	"resolver.pool_limit":              5,
	"resolver.max_per_group":           3,
	"resolver.workers":                 4,
	"resolver.traditional_marker":      "TM2",
	"resolver.curated_baseline_weight": 0.4,
	"resolver.curated_semantic_weight": 0.6,
	"resolver.lexical_baseline_weight": 0.5,
	"resolver.lexical_semantic_weight": 0.5,
	"embedder.provider":                ProviderNone,
	"embedder.model_id":                "",
	"embedder.onnx.runtime":            "",
	"embedder.onnx.model":              "",
	"embedder.onnx.tokenizer":          "",
	"embedder.onnx.max_seq_len":        512,
	"embedder.onnx.dimension":          0,
	"embedder.onnx.output_name":        "last_hidden_state",
	"embedder.onnx.token_type_ids":     false,
	"embedder.ollama.url":              "",
	"embedder.ollama.model":            "",
	"embedder.ollama.timeout":          "30s",
	"cache.backend":                    CacheBolt,
	"cache.path":                       "",
	"cache.max_entries":                0,
	"icd.client_id":                    "",
	"icd.client_secret":                "",
	"icd.token_url":                    "",
	"icd.base_url":                     "",
	"icd.language":                     "en",
	"icd.timeout":                      "15s",
	"icd.flexisearch":                  true,
	"log.level":                        "info",
	"log.format":                       "console",
}

// newViper returns a viper instance with the TERMMAP_ env prefix and "."
// mapped to "_", so "icd.client_id" reads TERMMAP_ICD_CLIENT_ID.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// Load reads configPath (YAML or JSON by extension), merges TERMMAP_*
// overrides, applies defaults and validates. With an empty path DefaultFile
// is used when present, otherwise only env and defaults apply.
func Load(configPath string) (*Config, error) {
	v := newViper()
	if configPath == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			configPath = DefaultFile
		}
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
		}
	}
	return unmarshalAndFinalize(v)
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// IsNotConfigured reports whether err came from a missing lexicon path,
// which the CLI turns into a usage hint.
func IsNotConfigured(err error) bool {
	return err != nil && errors.Is(err, errLexiconRequired)
}
