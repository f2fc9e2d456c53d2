package cmd

import (
	"github.com/spf13/cobra"

	"github.com/spigell/shortlister/internal/aggregator"
	"github.com/spigell/shortlister/internal/enrichment"
	"github.com/spigell/shortlister/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Aggregate, evaluate and enrich every applicant",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		force, _ := cmd.Flags().GetBool("force")
		skipEnrich, _ := cmd.Flags().GetBool("skip-enrich")

		var svc *enrichment.Service
		if !skipEnrich {
			if svc, err = e.newEnrichment(ctx); err != nil {
				return err
			}
		}

		stages := []pipeline.Stage{
			pipeline.NewAggregate(aggregator.New(e.store, e.logger)),
			pipeline.NewEvaluate(e.shortlister()),
			pipeline.NewEnrich(svc, force),
		}
		if skipEnrich {
			pipeline.DisableByName(stages, enrichment.Operation, "skip requested via flag")
		}

		return e.runBatch(ctx, cmd, stages, false)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("force", "f", false, "assess applicants even when their snapshot hash is unchanged")
	runCmd.Flags().Bool("skip-enrich", false, "do not call the AI provider")
}
