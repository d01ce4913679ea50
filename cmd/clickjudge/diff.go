package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/clickjudge/internal/config"
	"github.com/rewired-gh/clickjudge/internal/logger"
	"github.com/rewired-gh/clickjudge/internal/monitor"
	"github.com/rewired-gh/clickjudge/internal/report"
	"github.com/rewired-gh/clickjudge/internal/storage"
)

func diffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff [old-set-id new-set-id]",
		Short: "Show judgment drift between two judgment sets",
		Long: `Compare the posterior click probabilities of the pairs judged in two
judgment sets and list the queries whose judgments moved the most.
Without arguments the two most recent sets are compared.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected 0 or 2 judgment set IDs, got %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store, err := storage.New(cfg.Storage.MaxJudgmentSets, cfg.Storage.DBPath)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() {
				if err := store.Close(); err != nil {
					logger.Error("Failed to close storage: %v", err)
				}
			}()

			var oldID, newID string
			if len(args) == 2 {
				oldID, newID = args[0], args[1]
			}
			return diff(cmd.Context(), store, cfg.Drift, oldID, newID, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Int("top-k", 10, "number of queries to show")
	cmd.Flags().Float64("min-score", 0, "minimum drift score")
	cmd.Flags().Float64("view-ref", 100, "view count that receives weight 1.0")
	cmd.Flags().Float64("min-change", 0.01, "minimum posterior change unless the pair crosses its expected rate")

	return cmd
}

// diff compares two judgment sets. Empty IDs select the two most recent sets.
func diff(ctx context.Context, store *storage.Storage, cfg config.DriftConfig, oldID, newID string, out io.Writer) error {
	if oldID == "" || newID == "" {
		sets, err := store.ListJudgmentSets(ctx)
		if err != nil {
			return err
		}
		if len(sets) < 2 {
			return errors.New("at least two judgment sets are needed for a diff")
		}
		oldID, newID = sets[1].ID, sets[0].ID
		logger.Info("Comparing judgment sets %s and %s", oldID, newID)
	}

	comp, err := monitor.New(store).Compare(ctx, oldID, newID)
	if err != nil {
		return err
	}
	for _, derr := range comp.Errors {
		logger.Warn("Skipped pair: %v", derr)
	}

	groups := monitor.ScoreAndRank(comp.Changes, cfg.MinScore, cfg.TopK, cfg.ViewRef, cfg.MinAbsChange)
	return report.Drift(out, comp, groups)
}
