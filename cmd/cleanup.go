package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/shortlister/internal/fixtures"
	"github.com/spigell/shortlister/internal/store"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete an applicant with its linked records, or every record of every collection",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		applicantID, _ := cmd.Flags().GetString("applicant-id")
		applicantID = strings.TrimSpace(applicantID)

		label := "Delete ALL records from every collection?"
		if applicantID != "" {
			label = fmt.Sprintf("Delete applicant %s with its linked records and leads?", applicantID)
		}
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			if err := confirm(label, e.logger); err != nil {
				return err
			}
		}

		deleted, err := fixtures.Cleanup(ctx, e.store, applicantID)
		for _, c := range store.Collections {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", c, deleted[c])
		}
		if err != nil {
			return err
		}

		e.logger.Info("cleanup finished", zap.String("applicant_id", applicantID), zap.Int("applicants", deleted[store.Applicants]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
}
