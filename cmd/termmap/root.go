package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	jsonOutput bool
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "termmap",
		Short:         "NAMASTE to ICD-11 terminology resolution",
		Long:          "Search the NAMASTE lexicon and translate codes into ICD-11 TM2 and biomedical targets.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to config file (default: ./termmap.yaml when present)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Print results as JSON")
	flags.StringVar(&opts.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newTranslateCmd(opts))
	cmd.AddCommand(newLookupCmd(opts))
	cmd.AddCommand(newCacheCmd(opts))
	return cmd
}
