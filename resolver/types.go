package resolver

import (
	"errors"
	"fmt"
	"math"
)

// Source tags how a match candidate was produced.
type Source string

const (
	// SourcePredefined marks candidates taken verbatim from the curated mapping store.
	SourcePredefined Source = "predefined"
	// SourceLexical marks candidates scored only by the lexical matcher.
	SourceLexical Source = "lexical"
	// SourceSemantic marks candidates scored only by embedding similarity.
	SourceSemantic Source = "semantic"
	// SourceHybrid marks candidates whose score blends a baseline with a semantic signal.
	SourceHybrid Source = "hybrid"
)

// Equivalence is the qualitative relationship between a source and a target code.
type Equivalence string

const (
	Equivalent Equivalence = "equivalent"
	Narrower   Equivalence = "narrower"
	Broader    Equivalence = "broader"
	Related    Equivalence = "related"
)

// Valid reports whether e is one of the known equivalence kinds.
func (e Equivalence) Valid() bool {
	switch e {
	case Equivalent, Narrower, Broader, Related:
		return true
	default:
		return false
	}
}

// Mapping names the branch that produced a resolution.
type Mapping string

const (
	MappingPredefined  Mapping = "predefined"
	MappingAlgorithmic Mapping = "algorithmic"
)

// Status distinguishes a resolution with candidates from a valid but empty one.
type Status string

const (
	StatusMatched Status = "matched"
	StatusEmpty   Status = "empty"
)

// Entry is a single source-terminology record held by the Lexicon.
type Entry struct {
	Code          string   `json:"code"`
	Display       string   `json:"display"`
	Synonyms      []string `json:"synonyms,omitempty"`
	Description   string   `json:"description,omitempty"`
	AlternateTerm string   `json:"alternateTerm,omitempty"`
	System        string   `json:"system,omitempty"`
	Category      string   `json:"category,omitempty"`
}

func (e Entry) clone() Entry {
	e.Synonyms = cloneStrings(e.Synonyms)
	return e
}

// TargetEntry is one curated correspondence inside a MappingRecord.
type TargetEntry struct {
	Code        string      `json:"code"`
	Display     string      `json:"display"`
	Equivalence Equivalence `json:"equivalence"`
	Confidence  float64     `json:"confidence"`
}

// MappingRecord holds every curated target for a single source code.
type MappingRecord struct {
	SourceCode string        `json:"sourceCode"`
	Targets    []TargetEntry `json:"targets"`
}

func (r MappingRecord) clone() MappingRecord {
	out := MappingRecord{SourceCode: r.SourceCode}
	if r.Targets != nil {
		out.Targets = make([]TargetEntry, len(r.Targets))
		copy(out.Targets, r.Targets)
	}
	return out
}

// TargetCandidate is a raw hit returned by an approximate-match collaborator.
type TargetCandidate struct {
	Code  string `json:"code"`
	Title string `json:"title"`
	URI   string `json:"uri,omitempty"`
}

// MatchCandidate is a scored target produced for a single resolution call.
type MatchCandidate struct {
	Code          string      `json:"code"`
	Display       string      `json:"display"`
	URI           string      `json:"uri,omitempty"`
	Equivalence   Equivalence `json:"equivalence,omitempty"`
	Confidence    *float64    `json:"confidence,omitempty"`
	LexicalScore  *float64    `json:"lexicalScore,omitempty"`
	SemanticScore *float64    `json:"semanticScore,omitempty"`
	CombinedScore float64     `json:"combinedScore"`
	Source        Source      `json:"source"`
}

// Resolution is the outcome of translating one source code.
type Resolution struct {
	Status      Status           `json:"status"`
	Entry       Entry            `json:"entry"`
	Mapping     Mapping          `json:"mapping"`
	Traditional []MatchCandidate `json:"traditional"`
	Biomedical  []MatchCandidate `json:"biomedical"`
	Primary     *MatchCandidate  `json:"primary,omitempty"`
	Enhanced    bool             `json:"enhanced"`
	Degraded    bool             `json:"degraded,omitempty"`
	Message     string           `json:"message,omitempty"`
}

// Candidates returns both groups concatenated, traditional first.
func (r Resolution) Candidates() []MatchCandidate {
	out := make([]MatchCandidate, 0, len(r.Traditional)+len(r.Biomedical))
	out = append(out, r.Traditional...)
	return append(out, r.Biomedical...)
}

// LexiconMatch pairs a lexicon entry with its lexical score for a query.
type LexiconMatch struct {
	Entry Entry   `json:"entry"`
	Score float64 `json:"score"`
}

// SearchHit is a free-text search result, optionally re-scored semantically.
type SearchHit struct {
	Entry         Entry    `json:"entry"`
	MatchScore    float64  `json:"matchScore"`
	SemanticScore *float64 `json:"semanticScore,omitempty"`
	CombinedScore float64  `json:"combinedScore"`
	Source        Source   `json:"source"`
}

// SearchResult is the outcome of a free-text lexicon search.
type SearchResult struct {
	Query    string      `json:"query"`
	Hits     []SearchHit `json:"hits"`
	Enhanced bool        `json:"enhanced"`
	Degraded bool        `json:"degraded,omitempty"`
}

// BatchItem is the per-code outcome of TranslateBatch.
type BatchItem struct {
	Code       string
	Resolution Resolution
	Err        error
}

// Blend is a two-weight convex combination of a baseline signal and a semantic signal.
type Blend struct {
	Baseline float64 `json:"baseline"`
	Semantic float64 `json:"semantic"`
}

// Combine merges the two signals using the blend weights.
func (b Blend) Combine(baseline, semantic float64) float64 {
	return b.Baseline*baseline + b.Semantic*semantic
}

// Validate checks that both weights lie in [0,1] and sum to 1.
func (b Blend) Validate() error {
	if b.Baseline < 0 || b.Baseline > 1 || b.Semantic < 0 || b.Semantic > 1 {
		return fmt.Errorf("blend weights must be within [0,1], got %.3f/%.3f", b.Baseline, b.Semantic)
	}
	if math.Abs(b.Baseline+b.Semantic-1) > 1e-9 {
		return fmt.Errorf("blend weights must sum to 1, got %.3f", b.Baseline+b.Semantic)
	}
	return nil
}

func (b Blend) isZero() bool {
	return b.Baseline == 0 && b.Semantic == 0
}

const defaultTraditionalMarker = "TM2"

// Config tunes the resolution engine.
type Config struct {
	// PoolLimit caps how many approximate-match candidates are scored.
	PoolLimit int `json:"poolLimit"`
	// MaxPerGroup truncates each target group after partitioning; zero keeps everything.
	MaxPerGroup int `json:"maxPerGroup"`
	// CuratedBlend merges a curated confidence with a semantic score.
	CuratedBlend Blend `json:"curatedBlend"`
	// LexicalBlend merges a lexical score with a semantic score.
	LexicalBlend Blend `json:"lexicalBlend"`
	// Workers bounds concurrency in TranslateBatch.
	Workers int `json:"workers"`
	// TraditionalMarker identifies target codes of the traditional-medicine linearization.
	TraditionalMarker string `json:"traditionalMarker"`
}

// ApplyDefaults populates zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.PoolLimit <= 0 {
		c.PoolLimit = 5
	}
	if c.MaxPerGroup < 0 {
		c.MaxPerGroup = 0
	}
	if c.CuratedBlend.isZero() {
		c.CuratedBlend = Blend{Baseline: 0.4, Semantic: 0.6}
	}
	if c.LexicalBlend.isZero() {
		c.LexicalBlend = Blend{Baseline: 0.5, Semantic: 0.5}
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.TraditionalMarker == "" {
		c.TraditionalMarker = defaultTraditionalMarker
	}
}

// Validate reports configuration values the engine cannot work with.
func (c Config) Validate() error {
	if err := c.CuratedBlend.Validate(); err != nil {
		return fmt.Errorf("curated blend: %w", err)
	}
	if err := c.LexicalBlend.Validate(); err != nil {
		return fmt.Errorf("lexical blend: %w", err)
	}
	if c.PoolLimit <= 0 {
		return errors.New("pool limit must be positive")
	}
	return nil
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func floatPtr(v float64) *float64 {
	return &v
}
