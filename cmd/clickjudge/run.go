package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/clickjudge/internal/config"
	"github.com/rewired-gh/clickjudge/internal/estimator"
	"github.com/rewired-gh/clickjudge/internal/events"
	"github.com/rewired-gh/clickjudge/internal/export"
	"github.com/rewired-gh/clickjudge/internal/logger"
	"github.com/rewired-gh/clickjudge/internal/models"
	"github.com/rewired-gh/clickjudge/internal/report"
	"github.com/rewired-gh/clickjudge/internal/storage"
	"github.com/rewired-gh/clickjudge/internal/telegram"
	"github.com/rewired-gh/clickjudge/internal/telemetry"
)

// notifier delivers run outcomes; *telegram.Client implements it.
type notifier interface {
	SendRunSummary(s telegram.RunSummary) error
	SendFailure(dataset string, runErr error, elapsed time.Duration) error
}

// runner holds the dependencies shared by all datasets of one run.
type runner struct {
	cfg      *config.Config
	store    *storage.Storage
	metrics  *telemetry.Metrics
	notifier notifier
	fetcher  *events.Client
}

// datasetRun is the outcome of processing one input file.
type datasetRun struct {
	dataset string
	setID   string
	result  *estimator.Result
	csvPath string
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Estimate judgments from one or more event files",
		Long: `Read click/impression events from each input (.csv or .zip file or an
http(s) URL to one), estimate a
judgment per (query, document) pair and store the result as a judgment set.

Inputs are independent datasets processed concurrently. With a non-zero
seed, input i uses seed+i so reruns reproduce the same judgments.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringSlice("input", nil, "event file (.csv or .zip) or http(s) URL; repeatable")
	cmd.Flags().String("output", "", "directory for judgment CSV files")
	cmd.Flags().Bool("full", false, "include intermediate estimator columns in the CSV")
	cmd.Flags().Int("top", 0, "number of top judgments to report")
	cmd.Flags().String("name", "", "judgment set name")
	cmd.Flags().Uint64("seed", 0, "random seed; 0 seeds from the clock")
	cmd.Flags().Float64("percentile", 0, "percentile of bootstrap variances used as the prior variance")
	cmd.Flags().Int("iterations", 0, "bootstrap iterations")
	cmd.Flags().Int("sample-size", 0, "bootstrap sample size; 0 uses the number of usable contexts")
	cmd.Flags().Bool("weighted", false, "weight bootstrap draws by context pair count")

	return cmd
}

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if len(cfg.Input.Paths) == 0 {
		return errors.New("no input: set input.paths or pass --input")
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

	r := &runner{
		cfg:     cfg,
		store:   store,
		metrics: telemetry.NewMetrics(),
		fetcher: events.NewClient(cfg.Input.Timeout, cfg.Input.MaxRetries, cfg.Input.RetryDelay),
	}
	reg := prometheus.NewRegistry()
	if err := r.metrics.Register(reg); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	if cfg.Telegram.Enabled {
		client, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		r.notifier = client
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	runs := make([]*datasetRun, len(cfg.Input.Paths))
	var g errgroup.Group
	for i, path := range cfg.Input.Paths {
		g.Go(func() error {
			dr, err := r.processDataset(ctx, i, path)
			runs[i] = dr
			return err
		})
	}
	runErr := g.Wait()

	for _, dr := range runs {
		if dr == nil || dr.result == nil {
			continue
		}
		if err := report.Run(out, dr.dataset, dr.result, cfg.Output.TopN); err != nil {
			logger.Warn("Failed to render report for %s: %v", dr.dataset, err)
		}
		fmt.Fprintf(out, "\njudgment set %s written to %s\n", dr.setID, dr.csvPath)
	}

	removed, err := store.RotateJudgmentSets(ctx)
	if err != nil {
		logger.Warn("Failed to rotate judgment sets: %v", err)
	} else if removed > 0 {
		logger.Info("Rotated out %d old judgment sets", removed)
	}

	if cfg.Metrics.Enabled {
		if err := telemetry.WriteTextfile(cfg.Metrics.Textfile, reg); err != nil {
			logger.Warn("Failed to export metrics: %v", err)
		} else {
			logger.Debug("Metrics written to %s", cfg.Metrics.Textfile)
		}
	}

	return runErr
}

// processDataset runs the estimator over one input file and persists the
// resulting judgment set. Failures are recorded in metrics and notified.
func (r *runner) processDataset(ctx context.Context, index int, path string) (*datasetRun, error) {
	start := time.Now()
	dataset := events.Name(path)
	ctx = logger.WithContext(ctx, "dataset", dataset)
	log := logger.FromContext(ctx)

	dr, err := r.estimate(ctx, index, path)
	if err != nil {
		elapsed := time.Since(start)
		r.metrics.ObserveFailure(dataset, elapsed)
		log.Errorf("Judgment run failed after %v: %v", elapsed, err)
		if r.notifier != nil {
			if sendErr := r.notifier.SendFailure(dataset, err, elapsed); sendErr != nil {
				log.Warnf("Failed to send failure notification to Telegram: %v", sendErr)
			}
		}
		return nil, fmt.Errorf("%s: %w", dataset, err)
	}

	elapsed := time.Since(start)
	r.metrics.ObserveRun(dataset, dr.result, elapsed)
	log.Infof("Judgment set %s stored with %d judgments in %v", dr.setID, len(dr.result.Judgments), elapsed)

	if r.notifier != nil {
		summary := telegram.RunSummary{
			Dataset:         dataset,
			SetID:           dr.setID,
			Prior:           dr.result.Prior,
			Events:          dr.result.Events,
			Pairs:           dr.result.Pairs,
			Judgments:       len(dr.result.Judgments),
			Rejected:        len(dr.result.Rejected),
			DroppedContexts: dr.result.DroppedContexts,
			Elapsed:         elapsed,
			Top:             report.TopJudgments(dr.result.Judgments, r.cfg.Output.TopN),
		}
		if err := r.notifier.SendRunSummary(summary); err != nil {
			log.Warnf("Failed to send run summary to Telegram: %v", err)
		}
	}
	return dr, nil
}

func (r *runner) estimate(ctx context.Context, index int, path string) (*datasetRun, error) {
	log := logger.FromContext(ctx)
	dataset := events.Name(path)

	var raw []models.RawEvent
	var err error
	if events.IsURL(path) {
		raw, err = r.fetcher.Fetch(ctx, path)
	} else {
		raw, err = events.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	log.Infof("Read %d events from %s", len(raw), path)

	ecfg := estimatorConfig(r.cfg.Estimator)
	seed := r.cfg.Estimator.Seed
	if seed != 0 {
		seed += uint64(index)
	}
	res, err := estimator.New(ecfg, estimator.NewSource(seed)).Run(raw)
	if err != nil {
		return nil, err
	}
	for _, ev := range res.InvalidEvents {
		log.Debugf("Skipped %v", ev)
	}
	if n := len(res.InvalidEvents); n > 0 {
		log.Warnf("Skipped %d invalid events", n)
	}
	for _, pe := range res.Rejected {
		log.Debugf("Rejected %v", pe)
	}
	if n := len(res.Rejected); n > 0 {
		log.Warnf("Rejected %d pairs with invalid shape parameters", n)
	}

	params := ecfg.Parameters()
	params["dataset"] = dataset
	params["seed"] = strconv.FormatUint(seed, 10)
	set := &models.JudgmentSet{
		ID:               uuid.New().String(),
		Name:             r.cfg.JudgmentSet.Name,
		Type:             r.cfg.JudgmentSet.Type,
		Generator:        r.cfg.JudgmentSet.Generator,
		Parameters:       params,
		Prior:            res.Prior,
		DroppedContexts:  res.DroppedContexts,
		RejectedPairs:    len(res.Rejected),
		JudgmentCount:    len(res.Judgments),
		RankClickThrough: res.RankClickThrough,
		CreatedAt:        time.Now(),
	}
	if err := r.store.SaveJudgmentSet(ctx, set, res.Judgments); err != nil {
		return nil, fmt.Errorf("failed to store judgment set: %w", err)
	}

	csvPath := filepath.Join(r.cfg.Output.Dir, csvName(dataset, set.ID))
	if err := export.WriteFile(csvPath, res.Judgments, r.cfg.Output.Full); err != nil {
		return nil, fmt.Errorf("failed to export judgments: %w", err)
	}
	log.Debugf("Judgments written to %s", csvPath)

	return &datasetRun{dataset: dataset, setID: set.ID, result: res, csvPath: csvPath}, nil
}

func estimatorConfig(c config.EstimatorConfig) estimator.Config {
	return estimator.Config{
		Percentile:       c.Percentile,
		SampleSize:       c.SampleSize,
		Iterations:       c.Iterations,
		ResultSetSizeCap: c.ResultSetSizeCap,
		Weighted:         c.Weighted,
	}
}

// csvName derives the judgment CSV file name from the input file name.
func csvName(dataset, setID string) string {
	base := strings.TrimSuffix(dataset, filepath.Ext(dataset))
	return fmt.Sprintf("%s-judgments-%s.csv", base, setID[:8])
}
