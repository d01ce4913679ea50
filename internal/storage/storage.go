// Package storage persists judgment sets and their judgments in SQLite.
//
// Each estimator run is stored as one judgment set row plus one row per
// judged (query, document) pair. Rotation keeps the most recent sets and
// removes older ones together with their judgments.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rewired-gh/clickjudge/internal/models"
)

// ErrNotFound is returned when a judgment set does not exist.
var ErrNotFound = errors.New("judgment set not found")

const schema = `
CREATE TABLE IF NOT EXISTS judgment_sets (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	type               TEXT NOT NULL,
	generator          TEXT NOT NULL,
	parameters         TEXT NOT NULL,
	mu                 REAL NOT NULL,
	sigma2             REAL NOT NULL,
	dropped_contexts   INTEGER NOT NULL,
	rejected_pairs     INTEGER NOT NULL,
	judgment_count     INTEGER NOT NULL,
	rank_click_through TEXT NOT NULL,
	created_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_judgment_sets_created_at ON judgment_sets(created_at);

CREATE TABLE IF NOT EXISTS judgments (
	set_id       TEXT NOT NULL,
	query        TEXT NOT NULL,
	document     TEXT NOT NULL,
	views        INTEGER NOT NULL,
	clicks       INTEGER NOT NULL,
	position     REAL NOT NULL,
	cp           REAL NOT NULL,
	weight       REAL NOT NULL,
	theta        REAL NOT NULL,
	tau2         REAL NOT NULL,
	alpha        REAL NOT NULL,
	beta         REAL NOT NULL,
	expected     REAL NOT NULL,
	posterior    REAL NOT NULL,
	judgment     REAL NOT NULL,
	log_judgment REAL NOT NULL,
	PRIMARY KEY (set_id, query, document)
);
`

const judgmentColumns = `query, document, views, clicks, position, cp, weight, theta, tau2,
	alpha, beta, expected, posterior, judgment, log_judgment`

const setColumns = `id, name, type, generator, parameters, mu, sigma2, dropped_contexts,
	rejected_pairs, judgment_count, rank_click_through, created_at`

// Storage is a SQLite-backed judgment set store. It is safe for concurrent use.
type Storage struct {
	db      *sql.DB
	maxSets int
}

// New opens (creating if needed) the database at dbPath and applies the schema.
// dbPath ":memory:" gives a private in-memory database.
func New(maxSets int, dbPath string) (*Storage, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Storage{db: db, maxSets: maxSets}, nil
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// SaveJudgmentSet stores a judgment set and its judgments in one transaction.
func (s *Storage) SaveJudgmentSet(ctx context.Context, set *models.JudgmentSet, judgments []models.Judgment) error {
	if err := set.Validate(); err != nil {
		return fmt.Errorf("invalid judgment set: %w", err)
	}
	for i := range judgments {
		if err := judgments[i].Validate(); err != nil {
			return fmt.Errorf("invalid judgment %s: %w", judgments[i].Pair(), err)
		}
	}

	params, err := json.Marshal(set.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}
	ctr, err := json.Marshal(set.RankClickThrough)
	if err != nil {
		return fmt.Errorf("failed to marshal rank click-through: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO judgment_sets (`+setColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		set.ID, set.Name, set.Type, set.Generator, string(params),
		set.Prior.Mu, set.Prior.Sigma2, set.DroppedContexts, set.RejectedPairs,
		set.JudgmentCount, string(ctr), set.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert judgment set %s: %w", set.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO judgments (set_id, `+judgmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare judgment insert: %w", err)
	}
	defer stmt.Close()

	for i := range judgments {
		j := &judgments[i]
		if _, err := stmt.ExecContext(ctx, set.ID, j.Query, j.Document, j.Views, j.Clicks,
			j.Position, j.CP, j.Weight, j.Theta, j.Tau2, j.Alpha, j.Beta,
			j.Expected, j.Posterior, j.Judgment, j.LogJudgment); err != nil {
			return fmt.Errorf("failed to insert judgment %s: %w", j.Pair(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit judgment set %s: %w", set.ID, err)
	}
	return nil
}

// GetJudgmentSet retrieves a judgment set by ID
func (s *Storage) GetJudgmentSet(ctx context.Context, id string) (*models.JudgmentSet, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+setColumns+` FROM judgment_sets WHERE id = ?`, id)
	set, err := scanJudgmentSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return set, nil
}

// ListJudgmentSets returns all judgment sets, newest first.
func (s *Storage) ListJudgmentSets(ctx context.Context) ([]*models.JudgmentSet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+setColumns+` FROM judgment_sets ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query judgment sets: %w", err)
	}
	defer rows.Close()

	var sets []*models.JudgmentSet
	for rows.Next() {
		set, err := scanJudgmentSet(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

// GetJudgments returns the judgments of a set ordered by query, then by
// descending log judgment.
func (s *Storage) GetJudgments(ctx context.Context, setID string) ([]models.Judgment, error) {
	return s.queryJudgments(ctx, `SELECT `+judgmentColumns+` FROM judgments
		WHERE set_id = ? ORDER BY query, log_judgment DESC, document`, setID)
}

// TopJudgments returns the k judgments of a set with the highest log judgment.
func (s *Storage) TopJudgments(ctx context.Context, setID string, k int) ([]models.Judgment, error) {
	return s.queryJudgments(ctx, `SELECT `+judgmentColumns+` FROM judgments
		WHERE set_id = ? ORDER BY log_judgment DESC, query, document LIMIT ?`, setID, k)
}

// RotateJudgmentSets removes the oldest judgment sets exceeding the max limit
// and returns how many were removed.
func (s *Storage) RotateJudgmentSets(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM judgment_sets
		ORDER BY created_at DESC, id LIMIT -1 OFFSET ?`, s.maxSets)
	if err != nil {
		return 0, fmt.Errorf("failed to query old judgment sets: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan judgment set id: %w", err)
		}
		stale = append(stale, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read old judgment sets: %w", err)
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM judgments WHERE set_id = ?`, id); err != nil {
			return 0, fmt.Errorf("failed to delete judgments of %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM judgment_sets WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("failed to delete judgment set %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rotation: %w", err)
	}
	return len(stale), nil
}

func (s *Storage) queryJudgments(ctx context.Context, query string, args ...any) ([]models.Judgment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query judgments: %w", err)
	}
	defer rows.Close()

	var judgments []models.Judgment
	for rows.Next() {
		var j models.Judgment
		if err := rows.Scan(&j.Query, &j.Document, &j.Views, &j.Clicks, &j.Position, &j.CP,
			&j.Weight, &j.Theta, &j.Tau2, &j.Alpha, &j.Beta, &j.Expected, &j.Posterior,
			&j.Judgment, &j.LogJudgment); err != nil {
			return nil, fmt.Errorf("failed to scan judgment: %w", err)
		}
		judgments = append(judgments, j)
	}
	return judgments, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJudgmentSet(row scanner) (*models.JudgmentSet, error) {
	var (
		set       models.JudgmentSet
		params    string
		ctr       string
		createdAt int64
	)
	if err := row.Scan(&set.ID, &set.Name, &set.Type, &set.Generator, &params,
		&set.Prior.Mu, &set.Prior.Sigma2, &set.DroppedContexts, &set.RejectedPairs,
		&set.JudgmentCount, &ctr, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan judgment set: %w", err)
	}

	if err := json.Unmarshal([]byte(params), &set.Parameters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal parameters of %s: %w", set.ID, err)
	}
	if err := json.Unmarshal([]byte(ctr), &set.RankClickThrough); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rank click-through of %s: %w", set.ID, err)
	}
	set.CreatedAt = time.Unix(0, createdAt).UTC()

	return &set, nil
}
