package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"yashubustudio/termmap/resolver"
)

func newTranslateCmd(root *rootOptions) *cobra.Command {
	var (
		semantic   bool
		outputPath string
	)
	cmd := &cobra.Command{
		Use:   "translate CODE...",
		Short: "Translate NAMASTE codes to ICD-11 TM2 and biomedical targets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root, appOptions{withEmbedder: semantic})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			var items []resolver.BatchItem
			if len(args) == 1 {
				res, err := a.engine.Translate(ctx, args[0], semantic)
				if err != nil {
					return err
				}
				items = []resolver.BatchItem{{Code: args[0], Resolution: res}}
			} else {
				items = a.engine.TranslateBatch(ctx, args, semantic)
			}

			if outputPath != "" {
				path, err := resolveOutputPath(outputPath)
				if err != nil {
					return err
				}
				if err := writeResultCSV(path, items); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "results saved to %s\n", path)
			}
			if root.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), toBatchJSON(items))
			}
			return printTranslations(cmd.OutOrStdout(), items)
		},
	}
	cmd.Flags().BoolVar(&semantic, "semantic", false, "Re-rank candidates with embedding similarity")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Also write results to this CSV file")
	return cmd
}

func newLookupCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup CODE",
		Short: "Show a lexicon entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			entry, err := a.engine.Entry(args[0])
			if err != nil {
				return err
			}
			if root.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), entry)
			}
			printEntry(cmd.OutOrStdout(), entry)
			return nil
		},
	}
}
