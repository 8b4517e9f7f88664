package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ojcore/internal/common/db"
)

// ErrRunConflict means another writer took the same run number.
var ErrRunConflict = errors.New("run number already taken")

// Run is one immutable entry of a submission's evaluation history.
// Verdict is empty when the attempt failed before producing one.
type Run struct {
	SubmissionID string
	RunNo        int
	Verdict      Verdict
	Score        int
	MaxTimeMs    int64
	MaxMemoryKB  int64
	ErrorMessage string
	CreatedAt    time.Time
}

// Failed reports whether the attempt ended without a verdict.
func (r *Run) Failed() bool {
	return r.Verdict == ""
}

// RunRepository persists the append-only run history.
type RunRepository interface {
	// Append assigns the next run number to run and inserts it.
	Append(ctx context.Context, tx db.Transaction, run *Run) error
	List(ctx context.Context, tx db.Transaction, submissionID string) ([]Run, error)
}

const insertRunQuery = `
	INSERT INTO submission_runs
	(submission_id, run_no, verdict, score, max_time_ms, max_memory_kb, error_message, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

type MySQLRunRepository struct {
	db db.Database
}

func NewRunRepository(database db.Database) RunRepository {
	return &MySQLRunRepository{db: database}
}

func (r *MySQLRunRepository) Append(ctx context.Context, tx db.Transaction, run *Run) error {
	if run == nil {
		return errors.New("run is nil")
	}
	if run.SubmissionID == "" {
		return errors.New("submissionID is required")
	}
	querier := db.GetQuerier(r.db, tx)

	next := "SELECT COALESCE(MAX(run_no), 0) + 1 FROM submission_runs WHERE submission_id = ?"
	if tx != nil {
		next += " FOR UPDATE"
	}
	if err := querier.QueryRow(ctx, next, run.SubmissionID).Scan(&run.RunNo); err != nil {
		return err
	}

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	_, err := querier.Exec(
		ctx,
		insertRunQuery,
		run.SubmissionID,
		run.RunNo,
		string(run.Verdict),
		run.Score,
		run.MaxTimeMs,
		run.MaxMemoryKB,
		nullString(run.ErrorMessage),
		run.CreatedAt,
	)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return ErrRunConflict
		}
		return err
	}
	return nil
}

func (r *MySQLRunRepository) List(ctx context.Context, tx db.Transaction, submissionID string) ([]Run, error) {
	query := `
		SELECT submission_id, run_no, verdict, score, max_time_ms, max_memory_kb, error_message, created_at
		FROM submission_runs
		WHERE submission_id = ?
		ORDER BY run_no
	`
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run     Run
			verdict string
			message sql.NullString
		)
		if err := rows.Scan(&run.SubmissionID, &run.RunNo, &verdict, &run.Score, &run.MaxTimeMs, &run.MaxMemoryKB, &message, &run.CreatedAt); err != nil {
			return nil, err
		}
		run.Verdict = Verdict(verdict)
		run.ErrorMessage = message.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}
