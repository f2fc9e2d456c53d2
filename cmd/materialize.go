package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/shortlister/internal/materializer"
	"github.com/spigell/shortlister/internal/pipeline"
	"github.com/spigell/shortlister/internal/snapshot"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var errAborted = errors.New("aborted by user")

var materializeCmd = &cobra.Command{
	Use:   "materialize",
	Short: "Write snapshots back into the personal, experience and salary records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		strategy, err := materializer.ParseStrategy(viper.GetString("materialize.strategy"))
		if err != nil {
			return err
		}

		snap, err := snapshotFromFlag(cmd)
		if err != nil {
			return err
		}

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		yes, _ := cmd.Flags().GetBool("yes")
		if !dryRun && !yes {
			if err := confirm(fmt.Sprintf("Rewrite normalized records using the %s strategy?", strategy), e.logger); err != nil {
				return err
			}
		}

		m := materializer.New(e.store, e.logger, materializer.WithStrategy(strategy))
		stages := []pipeline.Stage{pipeline.NewMaterialize(m, snap, dryRun)}
		return e.runBatch(ctx, cmd, stages, snap == nil)
	},
}

func init() {
	rootCmd.AddCommand(materializeCmd)

	materializeCmd.Flags().String("snapshot-file", "", "materialize this snapshot file instead of the stored one (requires --applicant-id)")
	materializeCmd.Flags().Bool("dry-run", false, "log the planned writes without performing them")
	materializeCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	materializeCmd.Flags().String("strategy", "", "work experience strategy: replace or diff")

	viper.BindPFlag("materialize.strategy", materializeCmd.Flags().Lookup("strategy"))
}

func snapshotFromFlag(cmd *cobra.Command) (*snapshot.Snapshot, error) {
	path, _ := cmd.Flags().GetString("snapshot-file")
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}

	if id, _ := cmd.Flags().GetString("applicant-id"); strings.TrimSpace(id) == "" {
		return nil, errors.New("--snapshot-file requires --applicant-id")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot file: %w", err)
	}
	snap, err := snapshot.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("snapshot file %s: %w", path, err)
	}
	return snap, nil
}

func confirm(label string, log *zap.Logger) error {
	prompt := promptui.Select{
		Label: label,
		Items: []string{PromptYes, PromptNo},
	}
	_, answer, err := prompt.Run()
	if err != nil {
		return fmt.Errorf("prompt failed: %w", err)
	}
	if answer != PromptYes {
		log.Info("exiting", zap.String("reason", "user declined"))
		return errAborted
	}
	return nil
}
