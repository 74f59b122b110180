package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// CachedVector is one persisted cache entry. Seq is the insertion order.
type CachedVector struct {
	Text   string
	Vector []float32
	Seq    uint64
}

// VectorStore persists embedding cache snapshots scoped by model ID.
type VectorStore interface {
	SaveVectors(ctx context.Context, modelID string, vectors []CachedVector) error
	LoadVectors(ctx context.Context, modelID string) ([]CachedVector, error)
}

type cacheEntry struct {
	vec []float32
	seq uint64
}

// Provider wraps an Embedder with a cache keyed by the exact input text.
// Concurrent misses on the same key may both compute; the last write wins.
type Provider struct {
	embedder Embedder

	mu    sync.RWMutex
	cache map[string]cacheEntry
	seq   uint64
}

// NewProvider constructs a provider over embedder.
func NewProvider(embedder Embedder) (*Provider, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	return &Provider{
		embedder: embedder,
		cache:    make(map[string]cacheEntry),
	}, nil
}

// ModelID returns the embedder's model identifier.
func (p *Provider) ModelID() string {
	return p.embedder.ModelID()
}

// Close releases the embedder.
func (p *Provider) Close() error {
	return p.embedder.Close()
}

// VectorOf returns the vector for text, computing and caching it on a miss.
func (p *Provider) VectorOf(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := p.get(text); ok {
		return vec, nil
	}
	vec, err := p.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed %q: %w", ErrCollaboratorUnavailable, text, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: embed %q: empty vector", ErrCollaboratorUnavailable, text)
	}
	p.put(text, vec)
	return cloneVector(vec), nil
}

// Similarity returns the cosine similarity of the vectors of a and b, in [-1,1].
func (p *Provider) Similarity(ctx context.Context, a, b string) (float64, error) {
	va, err := p.VectorOf(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := p.VectorOf(ctx, b)
	if err != nil {
		return 0, err
	}
	return CosineSimilarity(va, vb), nil
}

// Len returns the number of cached vectors.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}

// Clear drops every cached vector.
func (p *Provider) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]cacheEntry)
}

// Trim evicts the oldest inserted entries until at most max remain and
// returns how many were evicted.
func (p *Provider) Trim(max int) int {
	if max < 0 {
		max = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	excess := len(p.cache) - max
	if excess <= 0 {
		return 0
	}
	ordered := p.orderedLocked()
	for _, cv := range ordered[:excess] {
		delete(p.cache, cv.Text)
	}
	return excess
}

// Snapshot returns a copy of the cache in insertion order.
func (p *Provider) Snapshot() []CachedVector {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ordered := p.orderedLocked()
	for i := range ordered {
		ordered[i].Vector = cloneVector(ordered[i].Vector)
	}
	return ordered
}

// Save persists the current cache to store under the embedder's model ID.
func (p *Provider) Save(ctx context.Context, store VectorStore) error {
	return store.SaveVectors(ctx, p.ModelID(), p.Snapshot())
}

// Restore loads a snapshot from store. Texts already cached are kept as is.
// It returns the number of vectors added.
func (p *Provider) Restore(ctx context.Context, store VectorStore) (int, error) {
	vectors, err := store.LoadVectors(ctx, p.ModelID())
	if err != nil {
		return 0, err
	}
	sort.SliceStable(vectors, func(i, j int) bool { return vectors[i].Seq < vectors[j].Seq })
	p.mu.Lock()
	defer p.mu.Unlock()
	added := 0
	for _, cv := range vectors {
		if len(cv.Vector) == 0 {
			continue
		}
		if _, ok := p.cache[cv.Text]; ok {
			continue
		}
		p.seq++
		p.cache[cv.Text] = cacheEntry{vec: cloneVector(cv.Vector), seq: p.seq}
		added++
	}
	return added, nil
}

func (p *Provider) get(text string) ([]float32, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if entry, ok := p.cache[text]; ok {
		return cloneVector(entry.vec), true
	}
	return nil, false
}

func (p *Provider) put(text string, vec []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.cache[text] = cacheEntry{vec: cloneVector(vec), seq: p.seq}
}

func (p *Provider) orderedLocked() []CachedVector {
	out := make([]CachedVector, 0, len(p.cache))
	for text, entry := range p.cache {
		out = append(out, CachedVector{Text: text, Vector: entry.vec, Seq: entry.seq})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
