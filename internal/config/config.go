// Package config loads termmap settings from a YAML/JSON file and TERMMAP_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"yashubustudio/termmap/emb"
	"yashubustudio/termmap/internal/icd"
	"yashubustudio/termmap/resolver"
)

// Embedder providers.
const (
	ProviderNone   = "none"
	ProviderOnnx   = "onnx"
	ProviderOllama = "ollama"
)

// Config is the root configuration.
type Config struct {
	Data     DataConfig     `mapstructure:"data"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Embedder EmbedderConfig `mapstructure:"embedder"`
	Cache    CacheConfig    `mapstructure:"cache"`
	ICD      ICDConfig      `mapstructure:"icd"`
	Log      LogConfig      `mapstructure:"log"`
}

// DataConfig points at the source files.
type DataConfig struct {
	Lexicon  string `mapstructure:"lexicon"`
	Mappings string `mapstructure:"mappings"`
	Catalog  string `mapstructure:"catalog"`
}

// ResolverConfig tunes the resolution engine.
type ResolverConfig struct {
	SearchLimit       int     `mapstructure:"search_limit"`
	PoolLimit         int     `mapstructure:"pool_limit"`
	MaxPerGroup       int     `mapstructure:"max_per_group"`
	Workers           int     `mapstructure:"workers"`
	TraditionalMarker string  `mapstructure:"traditional_marker"`
	CuratedBaseline   float64 `mapstructure:"curated_baseline_weight"`
	CuratedSemantic   float64 `mapstructure:"curated_semantic_weight"`
	LexicalBaseline   float64 `mapstructure:"lexical_baseline_weight"`
	LexicalSemantic   float64 `mapstructure:"lexical_semantic_weight"`
}

// EmbedderConfig selects and configures the embedding backend.
type EmbedderConfig struct {
	Provider string       `mapstructure:"provider"`
	ModelID  string       `mapstructure:"model_id"`
	Onnx     OnnxConfig   `mapstructure:"onnx"`
	Ollama   OllamaConfig `mapstructure:"ollama"`
}

// OnnxConfig mirrors emb.Config.
type OnnxConfig struct {
	Runtime      string `mapstructure:"runtime"`
	Model        string `mapstructure:"model"`
	Tokenizer    string `mapstructure:"tokenizer"`
	MaxSeqLen    int    `mapstructure:"max_seq_len"`
	Dimension    int    `mapstructure:"dimension"`
	OutputName   string `mapstructure:"output_name"`
	TokenTypeIDs bool   `mapstructure:"token_type_ids"`
}

// OllamaConfig configures the HTTP embedder.
type OllamaConfig struct {
	URL     string        `mapstructure:"url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Cache backends.
const (
	CacheBolt = "bolt"
	CacheFile = "file"
)

// CacheConfig locates the persisted vector cache. An empty path disables persistence.
type CacheConfig struct {
	Backend    string `mapstructure:"backend"`
	Path       string `mapstructure:"path"`
	MaxEntries int    `mapstructure:"max_entries"`
}

// ICDConfig holds WHO ICD-11 API access settings.
type ICDConfig struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	TokenURL     string        `mapstructure:"token_url"`
	BaseURL      string        `mapstructure:"base_url"`
	Language     string        `mapstructure:"language"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Flexisearch  bool          `mapstructure:"flexisearch"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var errLexiconRequired = errors.New("data.lexicon is required")

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields. Blend weights are defaulted as pairs so a
// partially set pair is left for Validate to reject.
func ApplyDefaults(cfg *Config) {
	r := &cfg.Resolver
	if r.SearchLimit <= 0 {
		r.SearchLimit = 10
	}
	if r.PoolLimit <= 0 {
		r.PoolLimit = 5
	}
	if r.MaxPerGroup < 0 {
		r.MaxPerGroup = 0
	}
	if r.Workers <= 0 {
		r.Workers = 4
	}
	if strings.TrimSpace(r.TraditionalMarker) == "" {
		r.TraditionalMarker = "TM2"
	}
	if r.CuratedBaseline == 0 && r.CuratedSemantic == 0 {
		r.CuratedBaseline, r.CuratedSemantic = 0.4, 0.6
	}
	if r.LexicalBaseline == 0 && r.LexicalSemantic == 0 {
		r.LexicalBaseline, r.LexicalSemantic = 0.5, 0.5
	}

	e := &cfg.Embedder
	e.Provider = strings.ToLower(strings.TrimSpace(e.Provider))
	if e.Provider == "" {
		e.Provider = ProviderNone
	}
	if e.Onnx.MaxSeqLen <= 0 {
		e.Onnx.MaxSeqLen = 512
	}
	if e.Onnx.OutputName == "" {
		e.Onnx.OutputName = "last_hidden_state"
	}
	if e.Ollama.Timeout <= 0 {
		e.Ollama.Timeout = 30 * time.Second
	}

	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheBolt
	}

	if cfg.ICD.TokenURL == "" {
		cfg.ICD.TokenURL = icd.DefaultTokenURL
	}
	if cfg.ICD.BaseURL == "" {
		cfg.ICD.BaseURL = icd.DefaultBaseURL
	}
	if cfg.ICD.Language == "" {
		cfg.ICD.Language = "en"
	}
	if cfg.ICD.Timeout <= 0 {
		cfg.ICD.Timeout = 15 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Data.Lexicon) == "" {
		errs = append(errs, errLexiconRequired)
	}
	if err := c.ResolverConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("resolver: %w", err))
	}
	if c.Resolver.SearchLimit < 1 {
		errs = append(errs, errors.New("resolver.search_limit must be at least 1"))
	}
	switch c.Embedder.Provider {
	case ProviderNone:
	case ProviderOnnx:
		if c.Embedder.Onnx.Model == "" || c.Embedder.Onnx.Tokenizer == "" {
			errs = append(errs, errors.New("embedder.onnx.model and embedder.onnx.tokenizer are required"))
		}
		if c.Embedder.Onnx.Dimension <= 0 {
			errs = append(errs, errors.New("embedder.onnx.dimension must be positive"))
		}
	case ProviderOllama:
		if c.Embedder.Ollama.Model == "" {
			errs = append(errs, errors.New("embedder.ollama.model is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("embedder.provider %q is not one of none, onnx, ollama", c.Embedder.Provider))
	}
	if c.Cache.Backend != CacheBolt && c.Cache.Backend != CacheFile {
		errs = append(errs, fmt.Errorf("cache.backend %q is not one of bolt, file", c.Cache.Backend))
	}
	if c.Cache.MaxEntries < 0 {
		errs = append(errs, errors.New("cache.max_entries must not be negative"))
	}
	if (c.ICD.ClientID == "") != (c.ICD.ClientSecret == "") {
		errs = append(errs, errors.New("icd.client_id and icd.client_secret must be set together"))
	}
	return errors.Join(errs...)
}

// ResolverConfig converts the resolver section into engine settings.
func (c *Config) ResolverConfig() resolver.Config {
	r := c.Resolver
	return resolver.Config{
		PoolLimit:         r.PoolLimit,
		MaxPerGroup:       r.MaxPerGroup,
		Workers:           r.Workers,
		TraditionalMarker: r.TraditionalMarker,
		CuratedBlend:      resolver.Blend{Baseline: r.CuratedBaseline, Semantic: r.CuratedSemantic},
		LexicalBlend:      resolver.Blend{Baseline: r.LexicalBaseline, Semantic: r.LexicalSemantic},
	}
}

// EncoderConfig converts the onnx section.
func (c *Config) EncoderConfig() emb.Config {
	o := c.Embedder.Onnx
	return emb.Config{
		OrtDLL:        o.Runtime,
		ModelPath:     o.Model,
		TokenizerPath: o.Tokenizer,
		MaxSeqLen:     o.MaxSeqLen,
		Dimension:     o.Dimension,
		OutputName:    o.OutputName,
		TokenTypeIDs:  o.TokenTypeIDs,
	}
}

// ICDClientConfig converts the icd section.
func (c *Config) ICDClientConfig() icd.Config {
	i := c.ICD
	return icd.Config{
		ClientID:     i.ClientID,
		ClientSecret: i.ClientSecret,
		TokenURL:     i.TokenURL,
		BaseURL:      i.BaseURL,
		Language:     i.Language,
		Timeout:      i.Timeout,
		Flexisearch:  i.Flexisearch,
	}
}
