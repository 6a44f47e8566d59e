package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite implements Store on a single SQLite file.
type SQLite struct {
	db *sql.DB
}

// Open opens/creates a SQLite database at path and applies migrations.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite is not concurrent for writes

	s := &SQLite{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies pending schema migrations.
func (s *SQLite) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, sub)
	if err != nil {
		return fmt.Errorf("store: migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// --------- Progress ---------

func (s *SQLite) GetBestScore(ctx context.Context) (int, error) {
	var best int
	err := s.db.QueryRowContext(ctx, `SELECT best_score FROM progress WHERE id = 1`).Scan(&best)
	if err != nil {
		return 0, fmt.Errorf("store: get best score: %w", err)
	}
	return best, nil
}

func (s *SQLite) SetBestScore(ctx context.Context, score int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO progress (id, best_score, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET best_score = excluded.best_score, updated_at = excluded.updated_at
	`, score, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: set best score: %w", err)
	}
	return nil
}

// GetUnlockedAchievements returns the unlocked ids in sorted order.
func (s *SQLite) GetUnlockedAchievements(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM achievements ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list achievements: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan achievement: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetUnlockedAchievements replaces the stored set with ids. Ids that were
// already stored keep their unlock time.
func (s *SQLite) SetUnlockedAchievements(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	existing, err := tx.QueryContext(ctx, `SELECT id FROM achievements`)
	if err != nil {
		return fmt.Errorf("store: list achievements: %w", err)
	}
	var stale []string
	for existing.Next() {
		var id string
		if err := existing.Scan(&id); err != nil {
			existing.Close()
			return fmt.Errorf("store: scan achievement: %w", err)
		}
		if !slices.Contains(ids, id) {
			stale = append(stale, id)
		}
	}
	existing.Close()
	if err := existing.Err(); err != nil {
		return fmt.Errorf("store: list achievements: %w", err)
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM achievements WHERE id = ?`, id); err != nil {
			return fmt.Errorf("store: delete achievement %s: %w", id, err)
		}
	}
	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO achievements (id, unlocked_at) VALUES (?, ?)`, id, now); err != nil {
			return fmt.Errorf("store: insert achievement %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// ResetProgress clears the best score and all achievements. Run history is
// kept.
func (s *SQLite) ResetProgress(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE progress SET best_score = 0, updated_at = ? WHERE id = 1`, time.Now().UTC()); err != nil {
		return fmt.Errorf("store: reset best score: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM achievements`); err != nil {
		return fmt.Errorf("store: reset achievements: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// --------- Runs ---------

func (s *SQLite) SaveRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, created_at, region_id, crop, water, daily, score, badge, degraded,
			efficiency, stress, productivity, samples, growth_rate, water_drain, yield_multiplier
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.CreatedAt.UTC(), r.RegionID, r.Crop, r.Water, r.Daily, r.Score, r.Badge, r.Degraded,
		r.Efficiency, r.Stress, r.Productivity, r.Samples, r.GrowthRate, r.WaterDrain, r.YieldMultiplier,
	)
	if err != nil {
		return fmt.Errorf("store: save run: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first. A non-positive limit
// returns all runs.
func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, region_id, crop, water, daily, score, badge, degraded,
		       efficiency, stress, productivity, samples, growth_rate, water_drain, yield_multiplier
		FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r     Run
			idStr string
		)
		if err := rows.Scan(&idStr, &r.CreatedAt, &r.RegionID, &r.Crop, &r.Water, &r.Daily, &r.Score, &r.Badge, &r.Degraded,
			&r.Efficiency, &r.Stress, &r.Productivity, &r.Samples, &r.GrowthRate, &r.WaterDrain, &r.YieldMultiplier); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("store: run id %q: %w", idStr, err)
		}
		r.ID = id
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
