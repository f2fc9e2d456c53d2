package cmd

import (
	"github.com/spf13/cobra"

	"github.com/spigell/shortlister/internal/pipeline"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Ask the AI provider to assess applicants whose snapshot changed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		svc, err := e.newEnrichment(ctx)
		if err != nil {
			return err
		}

		force, _ := cmd.Flags().GetBool("force")
		stages := []pipeline.Stage{pipeline.NewEnrich(svc, force)}
		return e.runBatch(ctx, cmd, stages, false)
	},
}

func init() {
	rootCmd.AddCommand(enrichCmd)

	enrichCmd.Flags().BoolP("force", "f", false, "assess applicants even when their snapshot hash is unchanged")
}
