package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/clickjudge/internal/evaluation"
	"github.com/rewired-gh/clickjudge/internal/logger"
	"github.com/rewired-gh/clickjudge/internal/report"
	"github.com/rewired-gh/clickjudge/internal/storage"
)

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a ranking against a stored judgment set",
		Long: `Compute DCG@k, NDCG@k and precision@k for a ranking CSV with the columns
query, document, rank. Each ranked document's judgment is its graded
relevance; documents without a judgment count as irrelevant.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			setID, _ := cmd.Flags().GetString("set")
			rankingPath, _ := cmd.Flags().GetString("ranking")
			k, _ := cmd.Flags().GetInt("k")
			threshold, _ := cmd.Flags().GetFloat64("threshold")
			if rankingPath == "" {
				return errors.New("--ranking is required")
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

			return evaluate(cmd.Context(), store, setID, rankingPath, k, threshold, cmd.OutOrStdout())
		},
	}

	cmd.Flags().String("set", "", "judgment set ID (default: most recent)")
	cmd.Flags().String("ranking", "", "ranking CSV with query, document, rank columns")
	cmd.Flags().Int("k", 10, "rank cutoff")
	cmd.Flags().Float64("threshold", 1, "minimum judgment counted as relevant for precision")

	return cmd
}

func evaluate(ctx context.Context, store *storage.Storage, setID, rankingPath string, k int, threshold float64, out io.Writer) error {
	if setID == "" {
		sets, err := store.ListJudgmentSets(ctx)
		if err != nil {
			return err
		}
		if len(sets) == 0 {
			return errors.New("no judgment sets stored")
		}
		setID = sets[0].ID
		logger.Info("Evaluating against most recent judgment set %s", setID)
	}

	judgments, err := store.GetJudgments(ctx, setID)
	if err != nil {
		return err
	}
	if len(judgments) == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, setID)
	}

	f, err := os.Open(rankingPath)
	if err != nil {
		return fmt.Errorf("failed to open ranking: %w", err)
	}
	defer f.Close()

	ranking, err := evaluation.ReadRanking(f)
	if err != nil {
		return fmt.Errorf("failed to read ranking %s: %w", rankingPath, err)
	}

	summary, err := evaluation.Evaluate(ranking, judgments, k, threshold)
	if err != nil {
		return err
	}
	return report.Evaluation(out, summary)
}
