package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bilgisen/chanpost/internal/ai"
	"github.com/bilgisen/chanpost/internal/config"
)

var (
	previewLimit    int
	previewFallback bool
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Collect and rewrite items, printing posts without sending or recording them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadMaintenance()
		if err != nil {
			return err
		}
		log, err := initLogger(cfg)
		if err != nil {
			return err
		}

		var gen ai.Generator
		if !previewFallback {
			if gen, err = ai.NewGenerator(cfg.AIProvider, cfg.AIApiKey, cfg.AIModel, cfg.AITimeout); err != nil {
				return err
			}
		}
		rewriter := ai.NewRewriter(gen, ai.RewriterConfig{
			Language:  cfg.PostLanguage,
			MaxOutput: cfg.AIMaxTokens,
		}, log)

		out := cmd.OutOrStdout()
		shown := 0
		for _, c := range buildCollectors(cfg, log) {
			items, err := c.Collect(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "# %s: %v\n\n", c.Source(), err)
				continue
			}
			for _, item := range items {
				if shown == previewLimit {
					return nil
				}
				post := rewriter.Rewrite(cmd.Context(), item)
				fmt.Fprintf(out, "# %s (fallback=%t)\n%s\n\n", item.Identifier, post.Fallback, post.Body)
				shown++
			}
		}
		return nil
	},
}

func init() {
	previewCmd.Flags().IntVarP(&previewLimit, "limit", "n", 3, "Number of posts to preview")
	previewCmd.Flags().BoolVar(&previewFallback, "fallback", false, "Skip generation and show fallback posts")
	rootCmd.AddCommand(previewCmd)
}
