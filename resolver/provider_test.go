package resolver

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder returns fixed vectors per text and counts calls.
type stubEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   map[string]int
	err     error
	model   string
}

func newStubEmbedder(vectors map[string][]float32) *stubEmbedder {
	return &stubEmbedder{vectors: vectors, calls: make(map[string]int), model: "stub"}
}

func (s *stubEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[text]++
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0}, nil
}

func (s *stubEmbedder) ModelID() string { return s.model }
func (s *stubEmbedder) Close() error    { return nil }

func (s *stubEmbedder) callCount(text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[text]
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, []float32{1}))
}

func TestProvider_CachesByExactText(t *testing.T) {
	emb := newStubEmbedder(map[string][]float32{"Prameha": {0.6, 0.8}})
	p, err := NewProvider(emb)
	require.NoError(t, err)
	ctx := context.Background()

	v1, err := p.VectorOf(ctx, "Prameha")
	require.NoError(t, err)
	v2, err := p.VectorOf(ctx, "Prameha")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, emb.callCount("Prameha"))

	_, err = p.VectorOf(ctx, "prameha")
	require.NoError(t, err)
	assert.Equal(t, 1, emb.callCount("prameha"))
	assert.Equal(t, 2, p.Len())

	v1[0] = 99
	v3, _ := p.VectorOf(ctx, "Prameha")
	assert.InDelta(t, 0.6, v3[0], 1e-6)
}

func TestProvider_Similarity(t *testing.T) {
	emb := newStubEmbedder(map[string][]float32{
		"a": {1, 0},
		"b": {0, 1},
		"c": {1, 1},
	})
	p, err := NewProvider(emb)
	require.NoError(t, err)
	ctx := context.Background()

	s, err := p.Similarity(ctx, "a", "b")
	require.NoError(t, err)
	assert.InDelta(t, 0.0, s, 1e-9)
	s, err = p.Similarity(ctx, "a", "c")
	require.NoError(t, err)
	assert.InDelta(t, 0.7071, s, 1e-4)
}

func TestProvider_Failure(t *testing.T) {
	emb := newStubEmbedder(nil)
	emb.err = errors.New("model offline")
	p, err := NewProvider(emb)
	require.NoError(t, err)

	_, err = p.VectorOf(context.Background(), "x")
	assert.ErrorIs(t, err, ErrCollaboratorUnavailable)
	assert.Equal(t, 0, p.Len())

	emb.err = nil
	emb.vectors = map[string][]float32{"empty": {}}
	_, err = p.VectorOf(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrCollaboratorUnavailable)
}

func TestProvider_Concurrent(t *testing.T) {
	emb := newStubEmbedder(nil)
	p, err := NewProvider(emb)
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	texts := []string{"a", "b", "c", "d"}
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.VectorOf(ctx, texts[i%len(texts)])
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, len(texts), p.Len())
}

func TestProvider_TrimAndClear(t *testing.T) {
	p, err := NewProvider(newStubEmbedder(nil))
	require.NoError(t, err)
	ctx := context.Background()
	for _, text := range []string{"first", "second", "third"} {
		_, err := p.VectorOf(ctx, text)
		require.NoError(t, err)
	}

	assert.Equal(t, 0, p.Trim(5))
	assert.Equal(t, 1, p.Trim(2))
	snap := p.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "second", snap[0].Text)
	assert.Equal(t, "third", snap[1].Text)

	p.Clear()
	assert.Equal(t, 0, p.Len())
}

func TestProvider_FileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewFileVectorStore(filepath.Join(t.TempDir(), "cache", "vectors.bin"))

	emb := newStubEmbedder(map[string][]float32{"Prameha": {0.6, 0.8}, "Kasa": {1, 0}})
	p, err := NewProvider(emb)
	require.NoError(t, err)
	_, err = p.VectorOf(ctx, "Prameha")
	require.NoError(t, err)
	_, err = p.VectorOf(ctx, "Kasa")
	require.NoError(t, err)
	require.NoError(t, p.Save(ctx, store))

	fresh, err := NewProvider(emb)
	require.NoError(t, err)
	n, err := fresh.Restore(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, p.Snapshot()[0].Text, fresh.Snapshot()[0].Text)

	v, err := fresh.VectorOf(ctx, "Prameha")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.6, 0.8}, v)
	assert.Equal(t, 1, emb.callCount("Prameha"))

	n, err = fresh.Restore(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestProvider_FileStoreModelMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewFileVectorStore(filepath.Join(t.TempDir(), "vectors.bin"))

	a := newStubEmbedder(nil)
	pa, err := NewProvider(a)
	require.NoError(t, err)
	_, err = pa.VectorOf(ctx, "x")
	require.NoError(t, err)
	require.NoError(t, pa.Save(ctx, store))

	b := newStubEmbedder(nil)
	b.model = "other"
	pb, err := NewProvider(b)
	require.NoError(t, err)
	_, err = pb.Restore(ctx, store)
	assert.ErrorIs(t, err, ErrModelMismatch)
	assert.Equal(t, 0, pb.Len())
}

func TestFileVectorStore_MissingAndRemove(t *testing.T) {
	ctx := context.Background()
	store := NewFileVectorStore(filepath.Join(t.TempDir(), "vectors.bin"))
	got, err := store.LoadVectors(ctx, "stub")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, store.SaveVectors(ctx, "stub", []CachedVector{{Text: "a", Vector: []float32{1}, Seq: 1}}))
	require.NoError(t, store.Remove())
	require.NoError(t, store.Remove())
	got, err = store.LoadVectors(ctx, "stub")
	require.NoError(t, err)
	assert.Empty(t, got)
}

// snapshotHeader writes a valid header for model "stub" followed by count.
func snapshotHeader(count uint32) *bytes.Buffer {
	buf := &bytes.Buffer{}
	buf.Write(fileCacheMagic[:])
	_ = binary.Write(buf, binary.LittleEndian, fileCacheVersion)
	writeString(buf, "stub")
	_ = binary.Write(buf, binary.LittleEndian, count)
	return buf
}

func TestFileVectorStore_CorruptSnapshot(t *testing.T) {
	hugeDim := snapshotHeader(1)
	_ = binary.Write(hugeDim, binary.LittleEndian, uint64(1))
	writeString(hugeDim, "a")
	_ = binary.Write(hugeDim, binary.LittleEndian, uint32(0xFFFFFFFF))

	hugeText := snapshotHeader(1)
	_ = binary.Write(hugeText, binary.LittleEndian, uint64(1))
	_ = binary.Write(hugeText, binary.LittleEndian, uint32(1<<30))

	shortVector := snapshotHeader(1)
	_ = binary.Write(shortVector, binary.LittleEndian, uint64(1))
	writeString(shortVector, "a")
	_ = binary.Write(shortVector, binary.LittleEndian, uint32(2))
	_ = binary.Write(shortVector, binary.LittleEndian, float32(1))

	hugeCount := snapshotHeader(0xFFFFFFFF)

	tests := []struct {
		name string
		data []byte
	}{
		{"bad magic", []byte("XXXX\x01\x00\x00\x00")},
		{"header only", fileCacheMagic[:]},
		{"vector length beyond file", hugeDim.Bytes()},
		{"text length beyond file", hugeText.Bytes()},
		{"short vector", shortVector.Bytes()},
		{"count beyond file", hugeCount.Bytes()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "vectors.bin")
			require.NoError(t, os.WriteFile(path, tt.data, 0o644))
			store := NewFileVectorStore(path)

			_, err := store.LoadVectors(context.Background(), "stub")
			require.Error(t, err)

			p, err := NewProvider(newStubEmbedder(nil))
			require.NoError(t, err)
			n, err := p.Restore(context.Background(), store)
			assert.Error(t, err)
			assert.Equal(t, 0, n)
			assert.Equal(t, 0, p.Len())
		})
	}
}
