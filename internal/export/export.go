// Package export writes judgment tables as CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rewired-gh/clickjudge/internal/models"
)

// MinimalColumns is the header of the minimal judgment table.
var MinimalColumns = []string{"query", "product", "log_judgment", "judgment"}

// FullColumns is the header of the judgment table with intermediate values.
var FullColumns = []string{
	"query", "product", "views", "clicks", "position", "cp", "weight", "theta",
	"tau2", "alpha", "beta", "expected", "posterior", "judgment", "log_judgment",
}

// Write writes judgments to w as CSV with a header row. When full is set the
// intermediate estimator columns are included.
func Write(w io.Writer, judgments []models.Judgment, full bool) error {
	cw := csv.NewWriter(w)

	header := MinimalColumns
	if full {
		header = FullColumns
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i := range judgments {
		if err := cw.Write(record(&judgments[i], full)); err != nil {
			return fmt.Errorf("failed to write judgment %s: %w", judgments[i].Pair(), err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

// WriteFile writes judgments to path, replacing any existing file atomically.
func WriteFile(path string, judgments []models.Judgment, full bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Write to temporary file first (atomic write)
	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := Write(f, judgments, full); err != nil {
		_ = f.Close()
		_ = os.Remove(tempPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

func record(j *models.Judgment, full bool) []string {
	if !full {
		return []string{j.Query, j.Document, formatFloat(j.LogJudgment), formatFloat(j.Judgment)}
	}
	return []string{
		j.Query,
		j.Document,
		strconv.Itoa(j.Views),
		strconv.Itoa(j.Clicks),
		formatFloat(j.Position),
		formatFloat(j.CP),
		formatFloat(j.Weight),
		formatFloat(j.Theta),
		formatFloat(j.Tau2),
		formatFloat(j.Alpha),
		formatFloat(j.Beta),
		formatFloat(j.Expected),
		formatFloat(j.Posterior),
		formatFloat(j.Judgment),
		formatFloat(j.LogJudgment),
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
