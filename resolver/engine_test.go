package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func prameha() Entry {
	return Entry{Code: "NAM0004", Display: "Prameha", Synonyms: []string{"Madhumeha"}, Description: "sweet urine disease"}
}

func diabetesMapping(t *testing.T) *MappingStore {
	t.Helper()
	store, err := NewMappingStore([]MappingRecord{{
		SourceCode: "NAM0004",
		Targets:    []TargetEntry{{Code: "5A00", Display: "Diabetes mellitus", Equivalence: Equivalent, Confidence: 0.95}},
	}})
	require.NoError(t, err)
	return store
}

func staticPool(cands ...TargetCandidate) CandidateSource {
	return CandidateSourceFunc(func(ctx context.Context, text string) ([]TargetCandidate, error) {
		return cands, nil
	})
}

func failingPool(t *testing.T) CandidateSource {
	return CandidateSourceFunc(func(ctx context.Context, text string) ([]TargetCandidate, error) {
		t.Fatalf("approximate match queried for %q", text)
		return nil, nil
	})
}

func newTestEngine(t *testing.T, entries []Entry, mappings *MappingStore, provider *Provider, pool CandidateSource, cfg Config, opts ...EngineOption) *Engine {
	t.Helper()
	lex, err := NewLexicon(entries)
	require.NoError(t, err)
	opts = append([]EngineOption{WithLogger(zaptest.NewLogger(t))}, opts...)
	engine, err := NewEngine(lex, mappings, provider, pool, cfg, opts...)
	require.NoError(t, err)
	return engine
}

func newTestProvider(t *testing.T, vectors map[string][]float32) (*Provider, *stubEmbedder) {
	t.Helper()
	emb := newStubEmbedder(vectors)
	p, err := NewProvider(emb)
	require.NoError(t, err)
	return p, emb
}

func TestEngine_PredefinedWins(t *testing.T) {
	engine := newTestEngine(t, []Entry{prameha()}, diabetesMapping(t), nil, failingPool(t), Config{})

	res, err := engine.Translate(context.Background(), "NAM0004", false)
	require.NoError(t, err)
	assert.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, MappingPredefined, res.Mapping)
	assert.False(t, res.Enhanced)

	cands := res.Candidates()
	require.Len(t, cands, 1)
	assert.Equal(t, "5A00", cands[0].Code)
	assert.Equal(t, 0.95, cands[0].CombinedScore)
	assert.Equal(t, SourcePredefined, cands[0].Source)
	require.NotNil(t, cands[0].Confidence)
	assert.Nil(t, cands[0].SemanticScore)
	assert.Empty(t, res.Traditional)
	require.NotNil(t, res.Primary)
	assert.Equal(t, "5A00", res.Primary.Code)
}

func TestEngine_LexicalFallback(t *testing.T) {
	engine := newTestEngine(t, []Entry{prameha()}, nil, nil,
		staticPool(TargetCandidate{Code: "5A00", Title: "Diabetes mellitus"}), Config{},
		WithMatcher(constMatcher(0.62)))

	res, err := engine.Translate(context.Background(), "NAM0004", false)
	require.NoError(t, err)
	assert.Equal(t, MappingAlgorithmic, res.Mapping)
	cands := res.Candidates()
	require.Len(t, cands, 1)
	assert.Equal(t, 0.62, cands[0].CombinedScore)
	assert.Equal(t, SourceLexical, cands[0].Source)
	require.NotNil(t, cands[0].LexicalScore)
	assert.Equal(t, 0.62, *cands[0].LexicalScore)
	assert.Nil(t, cands[0].Confidence)
}

func TestEngine_DefaultMatcherScoresDisplayAgainstTitle(t *testing.T) {
	engine := newTestEngine(t, []Entry{prameha()}, nil, nil,
		staticPool(TargetCandidate{Code: "5A00", Title: "Diabetes mellitus"}), Config{})

	res, err := engine.Translate(context.Background(), "NAM0004", false)
	require.NoError(t, err)
	require.NotNil(t, res.Primary)
	assert.InDelta(t, Similarity("Prameha", "Diabetes mellitus"), res.Primary.CombinedScore, 1e-12)
}

func TestEngine_EmptyPool(t *testing.T) {
	for name, pool := range map[string]CandidateSource{
		"no candidates": staticPool(),
		"no pool":       nil,
		"only blank":    staticPool(TargetCandidate{Code: "", Title: "x"}),
	} {
		t.Run(name, func(t *testing.T) {
			engine := newTestEngine(t, []Entry{prameha()}, nil, nil, pool, Config{})
			res, err := engine.Translate(context.Background(), "NAM0004", false)
			require.NoError(t, err)
			assert.Equal(t, StatusEmpty, res.Status)
			assert.NotEmpty(t, res.Message)
			assert.Nil(t, res.Primary)
			assert.False(t, res.Degraded)
			assert.Empty(t, res.Candidates())
		})
	}
}

func TestEngine_PoolFailureDegrades(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	pool := CandidateSourceFunc(func(ctx context.Context, text string) ([]TargetCandidate, error) {
		return nil, errors.New("connection refused")
	})
	engine := newTestEngine(t, []Entry{prameha()}, nil, nil, pool, Config{}, WithLogger(zap.New(core)))

	res, err := engine.Translate(context.Background(), "NAM0004", false)
	require.NoError(t, err)
	assert.Equal(t, StatusEmpty, res.Status)
	assert.True(t, res.Degraded)
	assert.Contains(t, res.Message, "unavailable")
	assert.Equal(t, 1, logs.FilterMessage("approximate match unavailable").Len())
}

func TestEngine_NotFound(t *testing.T) {
	engine := newTestEngine(t, []Entry{prameha()}, diabetesMapping(t), nil, nil, Config{})

	_, err := engine.Translate(context.Background(), "NAM9999", false)
	assert.ErrorIs(t, err, ErrNotFound)
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "NAM9999", nf.Code)

	_, err = engine.Translate(context.Background(), "nam0004", false)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = engine.Entry("NAM9999")
	assert.ErrorIs(t, err, ErrNotFound)
	e, err := engine.Entry("NAM0004")
	require.NoError(t, err)
	assert.Equal(t, "Prameha", e.Display)
}

func TestEngine_PoolLimit(t *testing.T) {
	pool := staticPool(
		TargetCandidate{Code: "", Title: "blank"},
		TargetCandidate{Code: "A1", Title: "a"},
		TargetCandidate{Code: "A2", Title: "b"},
		TargetCandidate{Code: "A3", Title: "c"},
		TargetCandidate{Code: "A4", Title: "d"},
		TargetCandidate{Code: "A5", Title: "e"},
		TargetCandidate{Code: "A6", Title: "f"},
	)
	engine := newTestEngine(t, []Entry{prameha()}, nil, nil, pool, Config{}, WithMatcher(constMatcher(0.5)))

	res, err := engine.Translate(context.Background(), "NAM0004", false)
	require.NoError(t, err)
	codes := make([]string, 0)
	for _, c := range res.Candidates() {
		codes = append(codes, c.Code)
	}
	assert.Equal(t, []string{"A1", "A2", "A3", "A4", "A5"}, codes)
}

func TestEngine_EnhancedPredefined(t *testing.T) {
	provider, _ := newTestProvider(t, map[string][]float32{
		"Prameha":           {1, 0},
		"Diabetes mellitus": {0.6, 0.8},
	})
	engine := newTestEngine(t, []Entry{prameha()}, diabetesMapping(t), provider, nil, Config{})

	first, err := engine.Translate(context.Background(), "NAM0004", true)
	require.NoError(t, err)
	assert.True(t, first.Enhanced)
	assert.False(t, first.Degraded)
	require.NotNil(t, first.Primary)
	assert.Equal(t, SourceHybrid, first.Primary.Source)
	require.NotNil(t, first.Primary.SemanticScore)
	assert.InDelta(t, 0.6, *first.Primary.SemanticScore, 1e-6)
	assert.InDelta(t, 0.4*0.95+0.6*0.6, first.Primary.CombinedScore, 1e-6)
	assert.Equal(t, 0.95, *first.Primary.Confidence)

	second, err := engine.Translate(context.Background(), "NAM0004", true)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEngine_EnhancedLexical(t *testing.T) {
	provider, _ := newTestProvider(t, map[string][]float32{
		"Prameha":           {1, 0},
		"Diabetes mellitus": {0.6, 0.8},
	})
	engine := newTestEngine(t, []Entry{prameha()}, nil, provider,
		staticPool(TargetCandidate{Code: "5A00", Title: "Diabetes mellitus"}), Config{},
		WithMatcher(constMatcher(0.62)))

	res, err := engine.Translate(context.Background(), "NAM0004", true)
	require.NoError(t, err)
	require.NotNil(t, res.Primary)
	assert.InDelta(t, (0.62+0.6)/2, res.Primary.CombinedScore, 1e-6)
	assert.Equal(t, 0.62, *res.Primary.LexicalScore)
}

func TestEngine_NegativeSimilarityClamped(t *testing.T) {
	provider, _ := newTestProvider(t, map[string][]float32{
		"Prameha":           {1, 0},
		"Diabetes mellitus": {-1, 0},
	})
	engine := newTestEngine(t, []Entry{prameha()}, diabetesMapping(t), provider, nil, Config{})

	res, err := engine.Translate(context.Background(), "NAM0004", true)
	require.NoError(t, err)
	assert.Equal(t, 0.0, *res.Primary.SemanticScore)
	assert.InDelta(t, 0.4*0.95, res.Primary.CombinedScore, 1e-9)
}

func TestEngine_EmbeddingFailureKeepsBaseline(t *testing.T) {
	provider, emb := newTestProvider(t, nil)
	emb.err = errors.New("model not loaded")
	engine := newTestEngine(t, []Entry{prameha()}, diabetesMapping(t), provider, nil, Config{})

	res, err := engine.Translate(context.Background(), "NAM0004", true)
	require.NoError(t, err)
	assert.False(t, res.Enhanced)
	assert.True(t, res.Degraded)
	assert.Equal(t, 0.95, res.Primary.CombinedScore)
	assert.Equal(t, SourcePredefined, res.Primary.Source)
}

func TestEngine_SemanticWithoutProvider(t *testing.T) {
	engine := newTestEngine(t, []Entry{prameha()}, diabetesMapping(t), nil, nil, Config{})
	res, err := engine.Translate(context.Background(), "NAM0004", true)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, 0.95, res.Primary.CombinedScore)
}

func partitionMapping(t *testing.T) *MappingStore {
	t.Helper()
	store, err := NewMappingStore([]MappingRecord{{
		SourceCode: "NAM0004",
		Targets: []TargetEntry{
			{Code: "TM2.7", Display: "Prameha disorder", Confidence: 0.8},
			{Code: "5A00", Display: "Diabetes mellitus", Confidence: 0.95},
			{Code: "TM2.1", Display: "Madhumeha disorder", Confidence: 0.9},
			{Code: "5A01", Display: "Type 1 diabetes", Confidence: 0.5},
			{Code: "5A02", Display: "Type 2 diabetes", Confidence: 0.5},
		},
	}})
	require.NoError(t, err)
	return store
}

func TestEngine_PartitionPreservesRank(t *testing.T) {
	engine := newTestEngine(t, []Entry{prameha()}, partitionMapping(t), nil, nil, Config{})

	res, err := engine.Translate(context.Background(), "NAM0004", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"TM2.1", "TM2.7"}, candidateCodes(res.Traditional))
	assert.Equal(t, []string{"5A00", "5A01", "5A02"}, candidateCodes(res.Biomedical))
	assert.Equal(t, "5A00", res.Primary.Code)
	assert.Len(t, res.Candidates(), 5)
}

func TestEngine_MaxPerGroup(t *testing.T) {
	engine := newTestEngine(t, []Entry{prameha()}, partitionMapping(t), nil, nil, Config{MaxPerGroup: 1})

	res, err := engine.Translate(context.Background(), "NAM0004", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"TM2.1"}, candidateCodes(res.Traditional))
	assert.Equal(t, []string{"5A00"}, candidateCodes(res.Biomedical))
}

func candidateCodes(cands []MatchCandidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Code
	}
	return out
}

func TestEngine_TranslateBatch(t *testing.T) {
	entries := []Entry{prameha(), {Code: "NAM0001", Display: "Kasa"}}
	engine := newTestEngine(t, entries, diabetesMapping(t), nil, staticPool(), Config{Workers: 2})

	items := engine.TranslateBatch(context.Background(), []string{"NAM0004", "NAM9999", "NAM0001", "NAM0004"}, false)
	require.Len(t, items, 4)
	assert.Equal(t, "NAM0004", items[0].Code)
	assert.NoError(t, items[0].Err)
	assert.Equal(t, StatusMatched, items[0].Resolution.Status)
	assert.ErrorIs(t, items[1].Err, ErrNotFound)
	assert.Equal(t, StatusEmpty, items[2].Resolution.Status)
	assert.Equal(t, items[0].Resolution, items[3].Resolution)
}

func TestEngine_ConcurrentTranslate(t *testing.T) {
	provider, _ := newTestProvider(t, nil)
	engine := newTestEngine(t, []Entry{prameha()}, diabetesMapping(t), provider, nil, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(semantic bool) {
			defer wg.Done()
			res, err := engine.Translate(context.Background(), "NAM0004", semantic)
			assert.NoError(t, err)
			assert.Equal(t, semantic, res.Enhanced)
		}(i%2 == 0)
	}
	wg.Wait()
}

func TestEngine_Search(t *testing.T) {
	engine := newTestEngine(t, testEntries(), nil, nil, nil, Config{})

	res, err := engine.Search(context.Background(), "meha", 10, false)
	require.NoError(t, err)
	assert.False(t, res.Enhanced)
	require.Len(t, res.Hits, 3)
	assert.Equal(t, "NAM0004", res.Hits[0].Entry.Code)
	assert.Equal(t, SourceLexical, res.Hits[0].Source)
	assert.Equal(t, res.Hits[0].MatchScore, res.Hits[0].CombinedScore)

	res, err = engine.Search(context.Background(), "fever", 10, false)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)

	_, err = engine.Search(context.Background(), "meha", 0, false)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestEngine_SearchEnhanced(t *testing.T) {
	provider, _ := newTestProvider(t, map[string][]float32{
		"meha":    {1, 0},
		"Prameha": {0, 1},
		"Shotha":  {1, 0},
		"Amavata": {1, 0},
	})
	engine := newTestEngine(t, testEntries(), nil, provider, nil, Config{})

	res, err := engine.Search(context.Background(), "meha", 10, true)
	require.NoError(t, err)
	assert.True(t, res.Enhanced)
	var codes []string
	for _, h := range res.Hits {
		codes = append(codes, h.Entry.Code)
		assert.Equal(t, SourceHybrid, h.Source)
	}
	assert.Equal(t, []string{"NAM0011", "NAM0010", "NAM0004"}, codes)
	assert.InDelta(t, 0.5*0.4+0.5*1.0, res.Hits[0].CombinedScore, 1e-6)
}

func TestEngine_SearchEmbeddingFailure(t *testing.T) {
	provider, emb := newTestProvider(t, nil)
	emb.err = errors.New("down")
	engine := newTestEngine(t, testEntries(), nil, provider, nil, Config{})

	res, err := engine.Search(context.Background(), "meha", 10, true)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.False(t, res.Enhanced)
	assert.Equal(t, "NAM0004", res.Hits[0].Entry.Code)
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(nil, nil, nil, nil, Config{})
	assert.Error(t, err)

	lex, err := NewLexicon([]Entry{prameha()})
	require.NoError(t, err)
	_, err = NewEngine(lex, nil, nil, nil, Config{CuratedBlend: Blend{Baseline: 0.7, Semantic: 0.7}})
	assert.Error(t, err)

	engine, err := NewEngine(lex, nil, nil, nil, Config{})
	require.NoError(t, err)
	cfg := engine.Config()
	assert.Equal(t, 5, cfg.PoolLimit)
	assert.Equal(t, Blend{Baseline: 0.4, Semantic: 0.6}, cfg.CuratedBlend)
	assert.Equal(t, Blend{Baseline: 0.5, Semantic: 0.5}, cfg.LexicalBlend)
}
