package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

var runRowColumns = []string{"id", "user_id", "goal", "plan", "steps", "answer", "iterations", "outcome", "terminated", "error", "duration_ms", "created_at"}

func TestSaveRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	rec := RunRecord{
		ID:         "6f1c3c1e-8a57-4d8f-9d55-0f3b2b8a1f00",
		UserID:     "alice",
		Goal:       "What is my PTO balance?",
		Plan:       []string{"Search documents for PTO"},
		Steps:      []RunStep{{Instruction: "Search documents for PTO", Output: "12 days"}},
		Answer:     "You have 12 days left.",
		Iterations: 2,
		Outcome:    OutcomeCompleted,
		Terminated: true,
		Duration:   1500,
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO agent_runs (id, user_id, goal, plan, steps, answer, iterations, outcome, terminated, error, duration_ms, created_at)`)).
		WithArgs(rec.ID, rec.UserID, rec.Goal, sqlmock.AnyArg(), []byte(`[{"instruction":"Search documents for PTO","output":"12 days"}]`), rec.Answer, rec.Iterations, rec.Outcome, rec.Terminated, "", rec.Duration).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.SaveRun(context.Background(), rec); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveRunRequiresIDAndOutcome(t *testing.T) {
	st := &Store{}
	if err := st.SaveRun(context.Background(), RunRecord{Outcome: OutcomeFailed}); err == nil {
		t.Fatalf("expected an error without id")
	}
	if err := st.SaveRun(context.Background(), RunRecord{ID: "x"}); err == nil {
		t.Fatalf("expected an error without outcome")
	}
}

func TestGetRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()
	query := regexp.QuoteMeta(`SELECT ` + runColumns + ` FROM agent_runs WHERE id=$1`)
	mock.ExpectQuery(query).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows(runRowColumns).
			AddRow("run-1", "alice", "goal", "{a,b}", []byte(`[{"instruction":"a","output":"A"}]`), "answer", 3, OutcomeDegraded, false, "", int64(900), now))

	rec, ok, err := st.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !ok {
		t.Fatalf("expected record")
	}
	if len(rec.Plan) != 2 || len(rec.Steps) != 1 || rec.Steps[0].Output != "A" || rec.Outcome != OutcomeDegraded {
		t.Fatalf("unexpected record: %+v", rec)
	}

	mock.ExpectQuery(query).WithArgs("missing").WillReturnRows(sqlmock.NewRows(runRowColumns))
	if _, ok, err := st.GetRun(context.Background(), "missing"); err != nil || ok {
		t.Fatalf("expected no record, got ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListRuns(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM agent_runs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`)).
		WithArgs("alice", 20).
		WillReturnRows(sqlmock.NewRows(runRowColumns).
			AddRow("r2", "alice", "g2", "{}", []byte(`[]`), "a2", 1, OutcomeCompleted, true, "", int64(10), now).
			AddRow("r1", "alice", "g1", "{}", []byte(`[]`), "a1", 1, OutcomeCompleted, true, "", int64(10), now.Add(-time.Hour)))

	runs, err := st.ListRuns(context.Background(), "alice", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "r2" {
		t.Fatalf("unexpected runs %+v", runs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
