package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"yashubustudio/termmap/internal/boltcache"
	"yashubustudio/termmap/internal/config"
	"yashubustudio/termmap/internal/icd"
	"yashubustudio/termmap/internal/logging"
	"yashubustudio/termmap/resolver"
)

var errNoEmbedder = errors.New("semantic ranking needs embedder.provider set to onnx or ollama")

// app holds everything a command needs. Close persists the vector cache.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	lexicon  *resolver.Lexicon
	mappings *resolver.MappingStore
	provider *resolver.Provider
	store    resolver.VectorStore
	engine   *resolver.Engine

	closers  []func() error
	restored int
	// foreign is set when the store holds another model's snapshot.
	foreign bool
}

type appOptions struct {
	withEmbedder bool
}

func newApp(ctx context.Context, root *rootOptions, opts appOptions) (*app, error) {
	cfg, err := config.Load(root.configPath)
	if err != nil {
		if config.IsNotConfigured(err) {
			return nil, fmt.Errorf("%w (pass --config or set TERMMAP_DATA_LEXICON)", err)
		}
		return nil, err
	}
	if root.logLevel != "" {
		cfg.Log.Level = root.logLevel
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() error {
		_ = logger.Sync()
		return nil
	})
	if err := a.init(ctx, opts); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, opts appOptions) error {
	var err error
	a.lexicon, err = resolver.LoadLexiconCSV(a.cfg.Data.Lexicon)
	if err != nil {
		return err
	}
	if a.cfg.Data.Mappings != "" {
		a.mappings, err = resolver.LoadMappingsJSON(a.cfg.Data.Mappings)
		if err != nil {
			return err
		}
	}
	a.logger.Info("data loaded",
		zap.Int("entries", a.lexicon.Len()),
		zap.Int("mappings", a.mappings.Len()))

	if opts.withEmbedder {
		if err := a.initProvider(ctx); err != nil {
			return err
		}
	}

	pool, err := a.candidateSource(ctx)
	if err != nil {
		return err
	}
	a.engine, err = resolver.NewEngine(a.lexicon, a.mappings, a.provider, pool,
		a.cfg.ResolverConfig(), resolver.WithLogger(a.logger))
	return err
}

func (a *app) initProvider(ctx context.Context) error {
	embedder, err := a.newEmbedder()
	if err != nil {
		return err
	}
	a.provider, err = resolver.NewProvider(embedder)
	if err != nil {
		_ = embedder.Close()
		return err
	}
	a.closers = append(a.closers, a.provider.Close)

	if err := a.openStore(); err != nil {
		return err
	}
	if a.store == nil {
		return nil
	}
	a.restoreCache(ctx)
	return nil
}

// restoreCache loads persisted vectors. Failures only cost recomputation.
func (a *app) restoreCache(ctx context.Context) {
	restored, err := a.provider.Restore(ctx, a.store)
	if err != nil {
		a.foreign = errors.Is(err, resolver.ErrModelMismatch)
		a.logger.Warn("vector cache not restored", zap.Error(err))
		return
	}
	a.restored = restored
	a.logger.Info("vector cache restored",
		zap.String("model", a.provider.ModelID()),
		zap.Int("vectors", restored))
}

func (a *app) newEmbedder() (resolver.Embedder, error) {
	ec := a.cfg.Embedder
	switch ec.Provider {
	case config.ProviderOnnx:
		return resolver.NewOrtEmbedder(a.cfg.EncoderConfig(), ec.ModelID)
	case config.ProviderOllama:
		return resolver.NewOllamaEmbedder(ec.Ollama.Model, ec.Ollama.URL, ec.Ollama.Timeout), nil
	default:
		return nil, errNoEmbedder
	}
}

func (a *app) openStore() error {
	path := a.cfg.Cache.Path
	if path == "" {
		return nil
	}
	switch a.cfg.Cache.Backend {
	case config.CacheFile:
		a.store = resolver.NewFileVectorStore(path)
	default:
		store, err := boltcache.Open(path)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
	}
	return nil
}

// candidateSource prefers the live ICD-11 API and falls back to the offline catalog.
func (a *app) candidateSource(ctx context.Context) (resolver.CandidateSource, error) {
	icdCfg := a.cfg.ICDClientConfig()
	if icdCfg.Configured() {
		a.logger.Info("approximate matching via ICD-11 API", zap.String("base_url", icdCfg.BaseURL))
		return icd.NewClient(ctx, icdCfg, a.logger.Named("icd"))
	}
	if a.cfg.Data.Catalog != "" {
		catalog, err := resolver.LoadCatalogCSV(a.cfg.Data.Catalog)
		if err != nil {
			return nil, err
		}
		a.logger.Info("approximate matching via offline catalog", zap.Int("targets", catalog.Len()))
		return catalog, nil
	}
	a.logger.Info("approximate matching disabled")
	return nil, nil
}

// Close trims and persists the vector cache when new vectors were computed,
// then releases resources in reverse order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.foreign && a.provider != nil && a.provider.Len() != a.restored {
		a.logger.Warn("vector cache belongs to another model, not saved; run cache clear to replace it",
			zap.String("model", a.provider.ModelID()))
	} else if a.provider != nil && a.store != nil && a.provider.Len() != a.restored {
		if max := a.cfg.Cache.MaxEntries; max > 0 {
			if evicted := a.provider.Trim(max); evicted > 0 {
				a.logger.Info("vector cache trimmed", zap.Int("evicted", evicted))
			}
		}
		if err := a.provider.Save(ctx, a.store); err != nil {
			errs = append(errs, fmt.Errorf("save vector cache: %w", err))
		} else {
			a.logger.Info("vector cache saved", zap.Int("vectors", a.provider.Len()))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
