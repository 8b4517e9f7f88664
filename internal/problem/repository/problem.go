package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ojcore/internal/common/cache"
	"ojcore/internal/common/db"
)

const (
	defaultProblemTTL      = time.Minute
	defaultProblemEmptyTTL = 30 * time.Second
	problemKeyPrefix       = "problem:grading:"
)

var (
	ErrProblemNotFound = errors.New("problem not found")
)

// ProblemRepository reads problem definitions and maintains their counters.
type ProblemRepository interface {
	// GetByID loads the problem with its test cases. Counters may lag behind
	// when served from cache; use GetCounters for exact values.
	GetByID(ctx context.Context, tx db.Transaction, problemID int64) (*Problem, error)
	GetCounters(ctx context.Context, tx db.Transaction, problemID int64) (Counters, error)
	// IncrementCounters adds the deltas, clamping each counter at zero.
	IncrementCounters(ctx context.Context, tx db.Transaction, problemID int64, submissionDelta, acceptedDelta int64) error
	SetCounters(ctx context.Context, tx db.Transaction, problemID int64, counters Counters) error
	ListIDs(ctx context.Context) ([]int64, error)
	Invalidate(ctx context.Context, problemID int64)
}

type MySQLProblemRepository struct {
	db       db.Database
	cache    cache.BasicOps
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewProblemRepository(database db.Database, cacheClient cache.BasicOps) ProblemRepository {
	return NewProblemRepositoryWithTTL(database, cacheClient, defaultProblemTTL, defaultProblemEmptyTTL)
}

func NewProblemRepositoryWithTTL(database db.Database, cacheClient cache.BasicOps, ttl, emptyTTL time.Duration) ProblemRepository {
	if ttl <= 0 {
		ttl = defaultProblemTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultProblemEmptyTTL
	}
	return &MySQLProblemRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

func (r *MySQLProblemRepository) GetByID(ctx context.Context, tx db.Transaction, problemID int64) (*Problem, error) {
	if r.cache != nil && tx == nil {
		problem, err := cache.GetWithCached[*Problem](
			ctx,
			r.cache,
			problemKey(problemID),
			r.ttl,
			r.emptyTTL,
			func(p *Problem) bool { return p == nil },
			marshalProblem,
			unmarshalProblem,
			func(ctx context.Context) (*Problem, error) {
				problem, err := r.getFromDB(ctx, nil, problemID)
				if errors.Is(err, ErrProblemNotFound) {
					return nil, nil
				}
				return problem, err
			},
		)
		if err != nil {
			return nil, err
		}
		if problem == nil {
			return nil, ErrProblemNotFound
		}
		return problem, nil
	}
	return r.getFromDB(ctx, tx, problemID)
}

func (r *MySQLProblemRepository) GetCounters(ctx context.Context, tx db.Transaction, problemID int64) (Counters, error) {
	query := "SELECT submission_count, accepted_count FROM problems WHERE id = ?"
	var counters Counters
	err := db.GetQuerier(r.db, tx).QueryRow(ctx, query, problemID).Scan(&counters.SubmissionCount, &counters.AcceptedCount)
	if err != nil {
		if db.IsNoRows(err) {
			return Counters{}, ErrProblemNotFound
		}
		return Counters{}, err
	}
	return counters, nil
}

func (r *MySQLProblemRepository) IncrementCounters(ctx context.Context, tx db.Transaction, problemID int64, submissionDelta, acceptedDelta int64) error {
	if submissionDelta == 0 && acceptedDelta == 0 {
		return nil
	}
	query := `
		UPDATE problems
		SET submission_count = GREATEST(submission_count + ?, 0),
		    accepted_count = GREATEST(accepted_count + ?, 0)
		WHERE id = ?`
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, submissionDelta, acceptedDelta, problemID)
	if err != nil {
		return err
	}
	return r.requireRow(ctx, tx, result, problemID)
}

func (r *MySQLProblemRepository) SetCounters(ctx context.Context, tx db.Transaction, problemID int64, counters Counters) error {
	query := "UPDATE problems SET submission_count = ?, accepted_count = ? WHERE id = ?"
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, counters.SubmissionCount, counters.AcceptedCount, problemID)
	if err != nil {
		return err
	}
	return r.requireRow(ctx, tx, result, problemID)
}

func (r *MySQLProblemRepository) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, "SELECT id FROM problems ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *MySQLProblemRepository) Invalidate(ctx context.Context, problemID int64) {
	if r.cache != nil {
		_ = r.cache.Del(ctx, problemKey(problemID))
	}
}

// requireRow turns "zero rows changed" into ErrProblemNotFound unless the row
// exists and simply kept its values.
func (r *MySQLProblemRepository) requireRow(ctx context.Context, tx db.Transaction, result db.Result, problemID int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	_, err = r.GetCounters(ctx, tx, problemID)
	return err
}

func (r *MySQLProblemRepository) getFromDB(ctx context.Context, tx db.Transaction, problemID int64) (*Problem, error) {
	query := `
		SELECT id, title, statement, owner_id, visible, cpu_time_limit, memory_limit,
		       allowed_languages, submission_count, accepted_count, created_at, updated_at
		FROM problems
		WHERE id = ?`
	querier := db.GetQuerier(r.db, tx)
	problem, err := scanProblem(querier.QueryRow(ctx, query, problemID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}

	rows, err := querier.Query(ctx, `
		SELECT ordinal, input, expected_output, points
		FROM problem_test_cases
		WHERE problem_id = ?
		ORDER BY ordinal`, problemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tc TestCase
		if err := rows.Scan(&tc.Ordinal, &tc.Input, &tc.ExpectedOutput, &tc.Points); err != nil {
			return nil, err
		}
		problem.TestCases = append(problem.TestCases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return problem, nil
}

func scanProblem(scanner db.Scanner) (*Problem, error) {
	var (
		p         Problem
		cpuLimit  sql.NullFloat64
		memLimit  sql.NullInt64
		languages sql.NullString
	)
	err := scanner.Scan(
		&p.ID,
		&p.Title,
		&p.Statement,
		&p.OwnerID,
		&p.Visible,
		&cpuLimit,
		&memLimit,
		&languages,
		&p.SubmissionCount,
		&p.AcceptedCount,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if cpuLimit.Valid {
		p.CPUTimeLimit = &cpuLimit.Float64
	}
	if memLimit.Valid {
		p.MemoryLimit = &memLimit.Int64
	}
	if languages.Valid && languages.String != "" {
		if err := json.Unmarshal([]byte(languages.String), &p.AllowedLanguages); err != nil {
			return nil, fmt.Errorf("decode allowed_languages of problem %d: %w", p.ID, err)
		}
	}
	return &p, nil
}

func problemKey(problemID int64) string {
	return problemKeyPrefix + strconv.FormatInt(problemID, 10)
}

func marshalProblem(p *Problem) string {
	payload, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalProblem(data string) (*Problem, error) {
	var p Problem
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
