// Package store persists challenges and round submissions in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"cssbattle/pkg/challenge"
	"cssbattle/pkg/metrics"
	"cssbattle/pkg/round"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and runs migrations.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite is not concurrent for writes
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS challenges (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			target TEXT NOT NULL,
			difficulty TEXT NOT NULL DEFAULT 'EASY',
			palette_json TEXT NOT NULL DEFAULT '[]',
			reference_html TEXT,
			reference_css TEXT,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS submissions (
			round_id TEXT PRIMARY KEY,
			challenge_id TEXT NOT NULL,
			score REAL NOT NULL,
			trigger_kind TEXT NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			submitted_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_challenge_score ON submissions(challenge_id, score DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_submitted_at ON submissions(submitted_at DESC);`,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// --------- Challenges ---------

// SaveChallenge inserts or replaces a challenge.
func (s *Store) SaveChallenge(ctx context.Context, c challenge.Challenge) error {
	if err := c.Validate(); err != nil {
		return err
	}
	defer metrics.RecordDBOperation("upsert", "challenges", time.Now())

	palette, err := json.Marshal(challenge.NormalizePalette(c.Palette))
	if err != nil {
		return fmt.Errorf("encoding palette: %w", err)
	}
	difficulty := c.Difficulty
	if difficulty == "" {
		difficulty = challenge.Easy
	}
	var refHTML, refCSS sql.NullString
	if c.Reference != nil {
		refHTML = sql.NullString{String: c.Reference.HTML, Valid: true}
		refCSS = sql.NullString{String: c.Reference.CSS, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO challenges (id, title, target, difficulty, palette_json, reference_html, reference_css, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			target = excluded.target,
			difficulty = excluded.difficulty,
			palette_json = excluded.palette_json,
			reference_html = excluded.reference_html,
			reference_css = excluded.reference_css,
			updated_at = excluded.updated_at`,
		c.ID, c.Title, c.Target, string(difficulty), string(palette), refHTML, refCSS, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving challenge %s: %w", c.ID, err)
	}
	return nil
}

const challengeColumns = `id, title, target, difficulty, palette_json, reference_html, reference_css`

type scanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row scanner) (challenge.Challenge, error) {
	var (
		c               challenge.Challenge
		difficulty      string
		palette         string
		refHTML, refCSS sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Title, &c.Target, &difficulty, &palette, &refHTML, &refCSS); err != nil {
		return c, err
	}
	c.Difficulty = challenge.Difficulty(difficulty)
	if err := json.Unmarshal([]byte(palette), &c.Palette); err != nil {
		return c, fmt.Errorf("decoding palette of %s: %w", c.ID, err)
	}
	if refHTML.Valid || refCSS.Valid {
		c.Reference = &challenge.Reference{HTML: refHTML.String, CSS: refCSS.String}
	}
	return c, nil
}

// GetChallenge returns the challenge with the given id.
func (s *Store) GetChallenge(ctx context.Context, id string) (challenge.Challenge, error) {
	defer metrics.RecordDBOperation("get", "challenges", time.Now())
	row := s.db.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = ?`, id)
	c, err := scanChallenge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("challenge %s: %w", id, ErrNotFound)
	}
	return c, err
}

// ListChallenges returns every challenge ordered by id.
func (s *Store) ListChallenges(ctx context.Context) ([]challenge.Challenge, error) {
	defer metrics.RecordDBOperation("list", "challenges", time.Now())
	rows, err := s.db.QueryContext(ctx, `SELECT `+challengeColumns+` FROM challenges ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []challenge.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --------- Submissions ---------

// RecordSubmission stores a submission. A round id is recorded once; later
// submissions for the same round are ignored and reported as false.
func (s *Store) RecordSubmission(ctx context.Context, sub round.Submission) (bool, error) {
	defer metrics.RecordDBOperation("insert", "submissions", time.Now())
	at := sub.At
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (round_id, challenge_id, score, trigger_kind, elapsed_ms, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(round_id) DO NOTHING`,
		sub.RoundID, sub.ChallengeID, sub.Score, string(sub.Trigger), sub.Elapsed.Milliseconds(), at.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("recording submission %s: %w", sub.RoundID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListSubmissions returns the most recent submissions first.
func (s *Store) ListSubmissions(ctx context.Context, limit int) ([]round.Submission, error) {
	defer metrics.RecordDBOperation("list", "submissions", time.Now())
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT round_id, challenge_id, score, trigger_kind, elapsed_ms, submitted_at
		FROM submissions ORDER BY submitted_at DESC, round_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []round.Submission
	for rows.Next() {
		var (
			sub     round.Submission
			trigger string
			elapsed int64
		)
		if err := rows.Scan(&sub.RoundID, &sub.ChallengeID, &sub.Score, &trigger, &elapsed, &sub.At); err != nil {
			return nil, err
		}
		sub.Trigger = round.Trigger(trigger)
		sub.Elapsed = time.Duration(elapsed) * time.Millisecond
		out = append(out, sub)
	}
	return out, rows.Err()
}

// BestScore returns the highest submitted score for a challenge.
func (s *Store) BestScore(ctx context.Context, challengeID string) (float64, error) {
	defer metrics.RecordDBOperation("best", "submissions", time.Now())
	var best sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(score) FROM submissions WHERE challenge_id = ?`, challengeID).Scan(&best)
	if err != nil {
		return 0, err
	}
	if !best.Valid {
		return 0, fmt.Errorf("no submissions for %s: %w", challengeID, ErrNotFound)
	}
	return best.Float64, nil
}

// Journal records every forwarded submission in the store.
type Journal struct {
	store *Store
}

// NewJournal returns a round.Submitter backed by s.
func NewJournal(s *Store) *Journal {
	return &Journal{store: s}
}

// Submit implements round.Submitter.
func (j *Journal) Submit(ctx context.Context, sub round.Submission) error {
	_, err := j.store.RecordSubmission(ctx, sub)
	return err
}
