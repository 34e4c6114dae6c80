package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

type Store struct {
	DB *sql.DB
}

// Run outcomes persisted in agent_runs.outcome.
const (
	OutcomeCompleted = "completed"
	OutcomeDegraded  = "degraded"
	OutcomeFailed    = "failed"
)

// RunStep is one step the critic accepted.
type RunStep struct {
	Instruction string `json:"instruction"`
	Output      string `json:"output"`
}

// RunRecord is the journal entry of one orchestrated run.
type RunRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	Goal       string    `json:"goal"`
	Plan       []string  `json:"plan"`
	Steps      []RunStep `json:"steps"`
	Answer     string    `json:"answer"`
	Iterations int       `json:"iterations"`
	Outcome    string    `json:"outcome"`
	Terminated bool      `json:"terminated"`
	Error      string    `json:"error,omitempty"`
	Duration   int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewWithDSN opens and pings the Postgres database at dsn.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// SaveRun inserts rec, replacing an earlier entry with the same id.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if rec.Outcome == "" {
		return fmt.Errorf("run outcome is required")
	}
	if rec.Plan == nil {
		rec.Plan = []string{}
	}
	if rec.Steps == nil {
		rec.Steps = []RunStep{}
	}
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO agent_runs (id, user_id, goal, plan, steps, answer, iterations, outcome, terminated, error, duration_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
ON CONFLICT (id) DO UPDATE SET
  plan = EXCLUDED.plan,
  steps = EXCLUDED.steps,
  answer = EXCLUDED.answer,
  iterations = EXCLUDED.iterations,
  outcome = EXCLUDED.outcome,
  terminated = EXCLUDED.terminated,
  error = EXCLUDED.error,
  duration_ms = EXCLUDED.duration_ms;
`, rec.ID, rec.UserID, rec.Goal, pq.Array(rec.Plan), steps, rec.Answer, rec.Iterations, rec.Outcome, rec.Terminated, rec.Error, rec.Duration)
	return err
}

const runColumns = `id, user_id, goal, plan, steps, answer, iterations, outcome, terminated, error, duration_ms, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var (
		rec   RunRecord
		plan  pq.StringArray
		steps []byte
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Goal, &plan, &steps, &rec.Answer, &rec.Iterations, &rec.Outcome, &rec.Terminated, &rec.Error, &rec.Duration, &rec.CreatedAt); err != nil {
		return RunRecord{}, err
	}
	rec.Plan = []string(plan)
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &rec.Steps); err != nil {
			return RunRecord{}, fmt.Errorf("decode steps: %w", err)
		}
	}
	return rec, nil
}

// GetRun returns the journal entry for id; ok is false when none exists.
func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, bool, error) {
	if id == "" {
		return RunRecord{}, false, fmt.Errorf("run id is required")
	}
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM agent_runs WHERE id=$1`, id)
	rec, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return RunRecord{}, false, nil
		}
		return RunRecord{}, false, err
	}
	return rec, true, nil
}

// ListRuns returns the most recent runs of userID, newest first.
func (s *Store) ListRuns(ctx context.Context, userID string, limit int) ([]RunRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM agent_runs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
