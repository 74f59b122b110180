package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yashubustudio/termmap/internal/boltcache"
	"yashubustudio/termmap/resolver"
)

var errNoCachePath = errors.New("cache.path is not configured")

func newCacheCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the persisted embedding cache",
	}
	cmd.AddCommand(newCacheWarmCmd(root), newCacheClearCmd(root), newCacheStatsCmd(root))
	return cmd
}

func newCacheWarmCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "warm",
		Short: "Embed every lexicon display name and persist the vectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root, appOptions{withEmbedder: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			if a.store == nil {
				return errNoCachePath
			}

			entries := a.lexicon.Entries()
			failed := 0
			for i, entry := range entries {
				if _, err := a.provider.VectorOf(ctx, entry.Display); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					failed++
					a.logger.Warn("embed failed", zap.String("code", entry.Code), zap.Error(err))
				}
				if (i+1)%100 == 0 {
					a.logger.Info("warming", zap.Int("done", i+1), zap.Int("total", len(entries)))
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cached %d vectors (%d new, %d failed)\n",
				a.provider.Len(), a.provider.Len()-a.restored, failed)
			return nil
		},
	}
}

func newCacheClearCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop the persisted vectors of the configured model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root, appOptions{withEmbedder: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			switch store := a.store.(type) {
			case nil:
				return errNoCachePath
			case *boltcache.Store:
				if err := store.Drop(a.provider.ModelID()); err != nil {
					return err
				}
			case *resolver.FileVectorStore:
				if err := store.Remove(); err != nil {
					return err
				}
			}
			a.provider.Clear()
			a.restored = 0
			fmt.Fprintf(cmd.OutOrStdout(), "cleared vector cache for %s\n", a.provider.ModelID())
			return nil
		},
	}
}

type cacheStats struct {
	Model   string         `json:"model"`
	Backend string         `json:"backend"`
	Path    string         `json:"path"`
	Vectors int            `json:"vectors"`
	Models  map[string]int `json:"models,omitempty"`
}

func newCacheStatsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show how many vectors are persisted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root, appOptions{withEmbedder: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			if a.store == nil {
				return errNoCachePath
			}

			stats := cacheStats{
				Model:   a.provider.ModelID(),
				Backend: a.cfg.Cache.Backend,
				Path:    a.cfg.Cache.Path,
				Vectors: a.provider.Len(),
			}
			if store, ok := a.store.(*boltcache.Store); ok {
				stats.Models, err = store.ModelStats()
				if err != nil {
					return err
				}
			}
			if root.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			printCacheStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}
