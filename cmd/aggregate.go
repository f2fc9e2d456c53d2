package cmd

import (
	"github.com/spf13/cobra"

	"github.com/spigell/shortlister/internal/aggregator"
	"github.com/spigell/shortlister/internal/pipeline"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Build the snapshot of each applicant from its linked records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		stages := []pipeline.Stage{pipeline.NewAggregate(aggregator.New(e.store, e.logger))}
		return e.runBatch(ctx, cmd, stages, false)
	},
}

func init() {
	rootCmd.AddCommand(aggregateCmd)
}
