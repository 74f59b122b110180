package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine resolves source codes and free text against the target terminology.
// It holds no per-call state; the lexicon and mapping store are read-only and
// the provider's cache is the only shared mutable structure.
type Engine struct {
	lexicon  *Lexicon
	mappings *MappingStore
	provider *Provider
	pool     CandidateSource
	matcher  Matcher
	cfg      Config
	logger   *zap.Logger
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMatcher replaces the default lexical matcher.
func WithMatcher(m Matcher) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.matcher = m
		}
	}
}

// NewEngine wires the engine. mappings, provider and pool may be nil: a nil
// store has no curated mappings, a nil provider disables semantic ranking and
// a nil pool yields no approximate candidates.
func NewEngine(lexicon *Lexicon, mappings *MappingStore, provider *Provider, pool CandidateSource, cfg Config, opts ...EngineOption) (*Engine, error) {
	if lexicon == nil {
		return nil, errors.New("lexicon is required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		lexicon:  lexicon,
		mappings: mappings,
		provider: provider,
		pool:     pool,
		matcher:  LexicalMatcher,
		cfg:      cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Entry looks up a lexicon entry by exact code.
func (e *Engine) Entry(code string) (Entry, error) {
	entry, ok := e.lexicon.Get(code)
	if !ok {
		return Entry{}, &NotFoundError{Code: code}
	}
	return entry, nil
}

// Translate resolves one source code. Curated mappings win; otherwise the
// approximate-match pool is scored lexically. With semantic set, every
// candidate is re-scored against the entry's display name. A code missing
// from the lexicon is a NotFoundError; no usable candidates is a
// StatusEmpty resolution, not an error.
func (e *Engine) Translate(ctx context.Context, code string, semantic bool) (Resolution, error) {
	entry, ok := e.lexicon.Get(code)
	if !ok {
		return Resolution{}, &NotFoundError{Code: code}
	}
	res := Resolution{Entry: entry}

	var cands []MatchCandidate
	if rec, ok := e.mappings.Lookup(code); ok {
		res.Mapping = MappingPredefined
		cands = predefinedCandidates(rec)
	} else {
		res.Mapping = MappingAlgorithmic
		var err error
		cands, err = e.approximateCandidates(ctx, entry)
		if err != nil {
			e.logger.Warn("approximate match unavailable",
				zap.String("code", code), zap.Error(err))
			res.Degraded = true
		}
	}

	if semantic && len(cands) > 0 {
		enhanced, err := e.enhanceCandidates(ctx, entry.Display, cands)
		if err != nil {
			e.logger.Warn("semantic ranking unavailable, keeping baseline scores",
				zap.String("code", code), zap.Error(err))
			res.Degraded = true
		} else {
			cands = enhanced
			res.Enhanced = true
		}
	}

	ranked := rankCandidates(cands)
	res.Traditional, res.Biomedical = partitionCandidates(ranked, e.cfg.TraditionalMarker)
	res.Traditional = limitCandidates(res.Traditional, e.cfg.MaxPerGroup)
	res.Biomedical = limitCandidates(res.Biomedical, e.cfg.MaxPerGroup)

	if len(ranked) == 0 {
		res.Status = StatusEmpty
		res.Message = emptyMessage(entry, res.Degraded)
		e.logger.Debug("no usable correspondence", zap.String("code", code))
		return res, nil
	}
	res.Status = StatusMatched
	primary := ranked[0]
	res.Primary = &primary
	e.logger.Debug("resolved",
		zap.String("code", code),
		zap.String("mapping", string(res.Mapping)),
		zap.String("primary", primary.Code),
		zap.Float64("score", primary.CombinedScore),
		zap.Bool("enhanced", res.Enhanced))
	return res, nil
}

// TranslateBatch translates codes concurrently and returns outcomes in input order.
func (e *Engine) TranslateBatch(ctx context.Context, codes []string, semantic bool) []BatchItem {
	out := make([]BatchItem, len(codes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, code := range codes {
		i, code := i, code
		g.Go(func() error {
			res, err := e.Translate(gctx, code, semantic)
			out[i] = BatchItem{Code: code, Resolution: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Search runs a free-text lexicon search. With semantic set, each hit's
// lexical score is blended with the similarity between query and the
// entry's display name and the hits are re-sorted.
func (e *Engine) Search(ctx context.Context, query string, limit int, semantic bool) (SearchResult, error) {
	matches, err := e.lexicon.SearchWith(e.matcher, query, limit)
	if err != nil {
		return SearchResult{}, err
	}
	result := SearchResult{Query: query, Hits: make([]SearchHit, len(matches))}
	for i, m := range matches {
		result.Hits[i] = SearchHit{
			Entry:         m.Entry,
			MatchScore:    m.Score,
			CombinedScore: m.Score,
			Source:        SourceLexical,
		}
	}
	if !semantic || len(result.Hits) == 0 {
		return result, nil
	}
	enhanced, err := e.enhanceHits(ctx, query, result.Hits)
	if err != nil {
		e.logger.Warn("semantic search ranking unavailable, keeping lexical scores",
			zap.String("query", query), zap.Error(err))
		result.Degraded = true
		return result, nil
	}
	result.Hits = enhanced
	result.Enhanced = true
	return result, nil
}

func (e *Engine) approximateCandidates(ctx context.Context, entry Entry) ([]MatchCandidate, error) {
	if e.pool == nil {
		return nil, nil
	}
	pool, err := e.pool.Search(ctx, entry.Display)
	if err != nil {
		if !errors.Is(err, ErrCollaboratorUnavailable) {
			err = fmt.Errorf("%w: %w", ErrCollaboratorUnavailable, err)
		}
		return nil, err
	}
	out := make([]MatchCandidate, 0, min(len(pool), e.cfg.PoolLimit))
	for _, c := range pool {
		if len(out) >= e.cfg.PoolLimit {
			break
		}
		if c.Code == "" {
			continue
		}
		score := e.matcher.Similarity(entry.Display, c.Title)
		out = append(out, MatchCandidate{
			Code:          c.Code,
			Display:       c.Title,
			URI:           c.URI,
			LexicalScore:  floatPtr(score),
			CombinedScore: score,
			Source:        SourceLexical,
		})
	}
	return out, nil
}

func (e *Engine) enhanceCandidates(ctx context.Context, display string, cands []MatchCandidate) ([]MatchCandidate, error) {
	if e.provider == nil {
		return nil, fmt.Errorf("%w: no embedding provider configured", ErrCollaboratorUnavailable)
	}
	out := make([]MatchCandidate, len(cands))
	for i, c := range cands {
		sim, err := e.provider.Similarity(ctx, display, c.Display)
		if err != nil {
			return nil, err
		}
		semantic := clamp01(sim)
		c.SemanticScore = floatPtr(semantic)
		switch {
		case c.Confidence != nil:
			c.CombinedScore = e.cfg.CuratedBlend.Combine(*c.Confidence, semantic)
		case c.LexicalScore != nil:
			c.CombinedScore = e.cfg.LexicalBlend.Combine(*c.LexicalScore, semantic)
		default:
			c.CombinedScore = semantic
		}
		c.Source = SourceHybrid
		out[i] = c
	}
	return out, nil
}

func (e *Engine) enhanceHits(ctx context.Context, query string, hits []SearchHit) ([]SearchHit, error) {
	if e.provider == nil {
		return nil, fmt.Errorf("%w: no embedding provider configured", ErrCollaboratorUnavailable)
	}
	out := make([]SearchHit, len(hits))
	for i, h := range hits {
		sim, err := e.provider.Similarity(ctx, query, h.Entry.Display)
		if err != nil {
			return nil, err
		}
		semantic := clamp01(sim)
		h.SemanticScore = floatPtr(semantic)
		h.CombinedScore = e.cfg.LexicalBlend.Combine(h.MatchScore, semantic)
		h.Source = SourceHybrid
		out[i] = h
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CombinedScore > out[j].CombinedScore
	})
	return out, nil
}

func predefinedCandidates(rec MappingRecord) []MatchCandidate {
	out := make([]MatchCandidate, len(rec.Targets))
	for i, t := range rec.Targets {
		out[i] = MatchCandidate{
			Code:          t.Code,
			Display:       t.Display,
			Equivalence:   t.Equivalence,
			Confidence:    floatPtr(t.Confidence),
			CombinedScore: t.Confidence,
			Source:        SourcePredefined,
		}
	}
	return out
}

// rankCandidates returns a new slice ordered by combined score, ties in insertion order.
func rankCandidates(cands []MatchCandidate) []MatchCandidate {
	out := make([]MatchCandidate, len(cands))
	copy(out, cands)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CombinedScore > out[j].CombinedScore
	})
	return out
}

// partitionCandidates splits ranked candidates by target linearization, preserving order.
func partitionCandidates(ranked []MatchCandidate, marker string) (traditional, biomedical []MatchCandidate) {
	traditional = make([]MatchCandidate, 0)
	biomedical = make([]MatchCandidate, 0)
	for _, c := range ranked {
		if strings.Contains(c.Code, marker) {
			traditional = append(traditional, c)
		} else {
			biomedical = append(biomedical, c)
		}
	}
	return traditional, biomedical
}

func limitCandidates(in []MatchCandidate, k int) []MatchCandidate {
	if k <= 0 || len(in) <= k {
		return in
	}
	return in[:k]
}

func emptyMessage(entry Entry, degraded bool) string {
	if degraded {
		return fmt.Sprintf("no usable correspondence for %s (%s): approximate match unavailable", entry.Code, entry.Display)
	}
	return fmt.Sprintf("no usable correspondence for %s (%s)", entry.Code, entry.Display)
}
