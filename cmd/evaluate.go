package cmd

import (
	"github.com/spf13/cobra"

	"github.com/spigell/shortlister/internal/eligibility"
	"github.com/spigell/shortlister/internal/pipeline"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Check stored snapshots against the shortlist criteria and record leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		stages := []pipeline.Stage{pipeline.NewEvaluate(e.shortlister())}
		return e.runBatch(ctx, cmd, stages, false)
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
}

func (e *env) shortlister() *eligibility.Shortlister {
	return eligibility.NewShortlister(e.store, eligibility.New(e.config.Eligibility), e.logger)
}
