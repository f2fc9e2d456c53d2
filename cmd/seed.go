package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/shortlister/internal/fixtures"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the sample applicants with their linked records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		for _, a := range fixtures.Samples() {
			id, err := fixtures.Seed(ctx, e.store, a)
			if err != nil {
				return err
			}
			e.logger.Info("sample applicant created", zap.String("applicant_id", id), zap.String("label", a.Label))
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, a.Label)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
