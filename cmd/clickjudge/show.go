package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/clickjudge/internal/logger"
	"github.com/rewired-gh/clickjudge/internal/models"
	"github.com/rewired-gh/clickjudge/internal/report"
	"github.com/rewired-gh/clickjudge/internal/storage"
)

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [set-id]",
		Short: "List stored judgment sets or show one set's top judgments",
		Args:  cobra.MaximumNArgs(1),
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

			if len(args) == 0 {
				return listSets(cmd.Context(), store, cmd.OutOrStdout())
			}
			return showSet(cmd.Context(), store, args[0], cfg.Output.TopN, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Int("top", 0, "number of top judgments to show")

	return cmd
}

func listSets(ctx context.Context, store *storage.Storage, out io.Writer) error {
	sets, err := store.ListJudgmentSets(ctx)
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		fmt.Fprintln(out, "no judgment sets stored")
		return nil
	}
	return report.JudgmentSets(out, sets)
}

func showSet(ctx context.Context, store *storage.Storage, id string, top int, out io.Writer) error {
	set, err := store.GetJudgmentSet(ctx, id)
	if err != nil {
		return err
	}
	judgments, err := store.TopJudgments(ctx, id, top)
	if err != nil {
		return err
	}

	if err := report.JudgmentSets(out, []*models.JudgmentSet{set}); err != nil {
		return err
	}
	fmt.Fprintln(out)
	if err := report.RankClickThrough(out, set.RankClickThrough); err != nil {
		return err
	}
	fmt.Fprintln(out)
	return report.Judgments(out, judgments)
}
