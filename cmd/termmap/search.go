package main

import (
	"github.com/spf13/cobra"
)

func newSearchCmd(root *rootOptions) *cobra.Command {
	var (
		limit    int
		semantic bool
	)
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search the lexicon by display name, synonyms and alternate term",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root, appOptions{withEmbedder: semantic})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.Resolver.SearchLimit
			}
			result, err := a.engine.Search(ctx, joinArgs(args), limit, semantic)
			if err != nil {
				return err
			}
			if root.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			return printSearch(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&semantic, "semantic", false, "Blend in embedding similarity")
	return cmd
}
