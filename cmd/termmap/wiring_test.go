package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"yashubustudio/termmap/internal/config"
	"yashubustudio/termmap/resolver"
)

type fixedEmbedder struct{ model string }

func (f fixedEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (f fixedEmbedder) ModelID() string { return f.model }
func (f fixedEmbedder) Close() error    { return nil }

func newCacheApp(t *testing.T, model string, store resolver.VectorStore) (*app, *observer.ObservedLogs) {
	t.Helper()
	provider, err := resolver.NewProvider(fixedEmbedder{model: model})
	require.NoError(t, err)
	core, logs := observer.New(zapcore.WarnLevel)
	return &app{cfg: config.Default(), logger: zap.New(core), provider: provider, store: store}, logs
}

func TestClose_KeepsOtherModelSnapshot(t *testing.T) {
	ctx := context.Background()
	store := resolver.NewFileVectorStore(filepath.Join(t.TempDir(), "vectors.bin"))

	first, _ := newCacheApp(t, "model-a", store)
	first.restoreCache(ctx)
	_, err := first.provider.VectorOf(ctx, "Jvara")
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	second, logs := newCacheApp(t, "model-b", store)
	second.restoreCache(ctx)
	assert.True(t, second.foreign)
	_, err = second.provider.VectorOf(ctx, "Kasa")
	require.NoError(t, err)
	require.NoError(t, second.Close(ctx))
	assert.Equal(t, 1, logs.FilterMessageSnippet("not saved").Len())

	got, err := store.LoadVectors(ctx, "model-a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Jvara", got[0].Text)
}

func TestClose_SavesSameModel(t *testing.T) {
	ctx := context.Background()
	store := resolver.NewFileVectorStore(filepath.Join(t.TempDir(), "vectors.bin"))

	first, _ := newCacheApp(t, "model-a", store)
	first.restoreCache(ctx)
	_, err := first.provider.VectorOf(ctx, "Jvara")
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	second, _ := newCacheApp(t, "model-a", store)
	second.restoreCache(ctx)
	assert.False(t, second.foreign)
	assert.Equal(t, 1, second.restored)
	_, err = second.provider.VectorOf(ctx, "Kasa")
	require.NoError(t, err)
	require.NoError(t, second.Close(ctx))

	got, err := store.LoadVectors(ctx, "model-a")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
