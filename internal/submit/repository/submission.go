package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"ojcore/internal/common/cache"
	"ojcore/internal/common/db"
)

const (
	defaultSubmissionCacheTTL      = 10 * time.Minute
	defaultSubmissionCacheEmptyTTL = time.Minute
	submissionCacheKeyPrefix       = "submission:"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
)

// Verdict is the aggregate outcome stored on a submission.
type Verdict string

const (
	VerdictAccepted      Verdict = "AC"
	VerdictWrongAnswer   Verdict = "WA"
	VerdictTimeLimit     Verdict = "TLE"
	VerdictRuntimeError  Verdict = "RTE"
	VerdictCompileError  Verdict = "CE"
	VerdictMemoryLimit   Verdict = "MLE"
	VerdictPresentation  Verdict = "PE"
	VerdictInternalError Verdict = "IE"
	VerdictPartial       Verdict = "PARTIAL"
	VerdictPending       Verdict = "PENDING"
)

// Submission is the current state of one graded submission.
type Submission struct {
	SubmissionID string
	ProblemID    int64
	UserID       int64
	LanguageID   int
	SourceCode   string // empty on legacy rows
	SourceKey    string
	Verdict      Verdict
	Score        int
	MaxTimeMs    int64
	MaxMemoryKB  int64
	Results      []byte // zstd-compressed case results, see EncodeResults
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// Deleted reports whether the submission carries a tombstone.
func (s *Submission) Deleted() bool {
	return s.DeletedAt != nil
}

// Evaluation is the set of fields a grading run overwrites.
type Evaluation struct {
	Verdict     Verdict
	Score       int
	MaxTimeMs   int64
	MaxMemoryKB int64
	Results     []byte
	UpdatedAt   time.Time // defaults to now
}

// ProblemTotals is an aggregate of live submissions for one problem.
type ProblemTotals struct {
	Submissions int64
	Accepted    int64
}

// SubmissionRepository defines submission persistence interfaces.
type SubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, submission *Submission) error
	// GetByID returns tombstoned rows as well; callers check Deleted.
	GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*Submission, error)
	UpdateEvaluation(ctx context.Context, tx db.Transaction, submissionID string, eval Evaluation) error
	// SoftDelete reports whether this call placed the tombstone.
	SoftDelete(ctx context.Context, tx db.Transaction, submissionID string) (bool, error)
	CountByProblem(ctx context.Context, tx db.Transaction, problemID int64) (ProblemTotals, error)
	// Invalidate drops the cached row. Writes made with a nil tx invalidate
	// themselves; writes inside a transaction must be followed by Invalidate
	// once the transaction has committed.
	Invalidate(ctx context.Context, submissionID string)
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db       db.Database
	cache    cache.BasicOps
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewSubmissionRepository creates a submission repository with defaults.
func NewSubmissionRepository(database db.Database, cacheClient cache.BasicOps) SubmissionRepository {
	return NewSubmissionRepositoryWithTTL(database, cacheClient, defaultSubmissionCacheTTL, defaultSubmissionCacheEmptyTTL)
}

// NewSubmissionRepositoryWithTTL creates a submission repository with custom TTL.
func NewSubmissionRepositoryWithTTL(database db.Database, cacheClient cache.BasicOps, ttl, emptyTTL time.Duration) SubmissionRepository {
	if ttl <= 0 {
		ttl = defaultSubmissionCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultSubmissionCacheEmptyTTL
	}
	return &MySQLSubmissionRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

const submissionColumns = "submission_id, problem_id, user_id, language_id, source_code, source_key, verdict, score, " +
	"max_time_ms, max_memory_kb, results, created_at, updated_at, deleted_at"

const insertSubmissionQuery = `
	INSERT INTO submissions
	(submission_id, problem_id, user_id, language_id, source_code, source_key, verdict, score,
	 max_time_ms, max_memory_kb, results, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Create inserts a submission record.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, submission *Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.SubmissionID == "" {
		return errors.New("submissionID is required")
	}
	if submission.ProblemID <= 0 {
		return errors.New("problemID is required")
	}
	if submission.UserID <= 0 {
		return errors.New("userID is required")
	}
	if submission.Verdict == "" {
		submission.Verdict = VerdictPending
	}

	now := time.Now()
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = now
	}
	if submission.UpdatedAt.IsZero() {
		submission.UpdatedAt = submission.CreatedAt
	}

	_, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		insertSubmissionQuery,
		submission.SubmissionID,
		submission.ProblemID,
		submission.UserID,
		submission.LanguageID,
		nullString(submission.SourceCode),
		nullString(submission.SourceKey),
		string(submission.Verdict),
		submission.Score,
		submission.MaxTimeMs,
		submission.MaxMemoryKB,
		submission.Results,
		submission.CreatedAt,
		submission.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tx == nil {
		r.Invalidate(ctx, submission.SubmissionID)
	}
	return nil
}

// GetByID retrieves a submission by id.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*Submission, error) {
	if submissionID == "" {
		return nil, errors.New("submissionID is required")
	}
	if r.cache != nil && tx == nil {
		submission, err := cache.GetWithCached[*Submission](
			ctx,
			r.cache,
			submissionCacheKey(submissionID),
			r.ttl,
			r.emptyTTL,
			func(submission *Submission) bool { return submission == nil },
			marshalSubmission,
			unmarshalSubmission,
			func(ctx context.Context) (*Submission, error) {
				submission, err := r.getByIDFromDB(ctx, nil, submissionID)
				if err != nil {
					if errors.Is(err, ErrSubmissionNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return submission, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if submission == nil {
			return nil, ErrSubmissionNotFound
		}
		return submission, nil
	}
	return r.getByIDFromDB(ctx, tx, submissionID)
}

// UpdateEvaluation overwrites the current verdict, score, timing and results of a live submission.
func (r *MySQLSubmissionRepository) UpdateEvaluation(ctx context.Context, tx db.Transaction, submissionID string, eval Evaluation) error {
	query := `
		UPDATE submissions
		SET verdict = ?, score = ?, max_time_ms = ?, max_memory_kb = ?, results = ?, updated_at = ?
		WHERE submission_id = ? AND deleted_at IS NULL
	`
	updatedAt := eval.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	querier := db.GetQuerier(r.db, tx)
	result, err := querier.Exec(ctx, query, string(eval.Verdict), eval.Score, eval.MaxTimeMs, eval.MaxMemoryKB, eval.Results, updatedAt, submissionID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// MySQL reports zero for an update that left every column unchanged.
		var exists int
		err := querier.QueryRow(ctx, "SELECT 1 FROM submissions WHERE submission_id = ? AND deleted_at IS NULL", submissionID).Scan(&exists)
		if err != nil {
			if db.IsNoRows(err) {
				return ErrSubmissionNotFound
			}
			return err
		}
	}
	if tx == nil {
		r.Invalidate(ctx, submissionID)
	}
	return nil
}

// SoftDelete marks a submission deleted.
func (r *MySQLSubmissionRepository) SoftDelete(ctx context.Context, tx db.Transaction, submissionID string) (bool, error) {
	query := "UPDATE submissions SET deleted_at = CURRENT_TIMESTAMP(3) WHERE submission_id = ? AND deleted_at IS NULL"
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, submissionID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if tx == nil {
		r.Invalidate(ctx, submissionID)
	}
	return affected > 0, nil
}

// CountByProblem aggregates live submissions of one problem.
func (r *MySQLSubmissionRepository) CountByProblem(ctx context.Context, tx db.Transaction, problemID int64) (ProblemTotals, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN verdict = ? THEN 1 ELSE 0 END), 0)
		FROM submissions
		WHERE problem_id = ? AND deleted_at IS NULL
	`
	var totals ProblemTotals
	err := db.GetQuerier(r.db, tx).QueryRow(ctx, query, string(VerdictAccepted), problemID).Scan(&totals.Submissions, &totals.Accepted)
	if err != nil {
		return ProblemTotals{}, err
	}
	return totals, nil
}

func (r *MySQLSubmissionRepository) getByIDFromDB(ctx context.Context, tx db.Transaction, submissionID string) (*Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE submission_id = ? LIMIT 1"
	submission, err := scanSubmission(db.GetQuerier(r.db, tx).QueryRow(ctx, query, submissionID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return submission, nil
}

func (r *MySQLSubmissionRepository) Invalidate(ctx context.Context, submissionID string) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Del(ctx, submissionCacheKey(submissionID))
}

func scanSubmission(scanner db.Scanner) (*Submission, error) {
	var (
		submission Submission
		sourceCode sql.NullString
		sourceKey  sql.NullString
		verdict    string
		deletedAt  sql.NullTime
	)
	if err := scanner.Scan(
		&submission.SubmissionID,
		&submission.ProblemID,
		&submission.UserID,
		&submission.LanguageID,
		&sourceCode,
		&sourceKey,
		&verdict,
		&submission.Score,
		&submission.MaxTimeMs,
		&submission.MaxMemoryKB,
		&submission.Results,
		&submission.CreatedAt,
		&submission.UpdatedAt,
		&deletedAt,
	); err != nil {
		return nil, err
	}
	submission.SourceCode = sourceCode.String
	submission.SourceKey = sourceKey.String
	submission.Verdict = Verdict(verdict)
	if deletedAt.Valid {
		submission.DeletedAt = &deletedAt.Time
	}
	return &submission, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func submissionCacheKey(submissionID string) string {
	return submissionCacheKeyPrefix + submissionID
}

func marshalSubmission(submission *Submission) string {
	if submission == nil {
		return ""
	}
	data, err := json.Marshal(submission)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalSubmission(data string) (*Submission, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var submission Submission
	if err := json.Unmarshal([]byte(data), &submission); err != nil {
		return nil, err
	}
	return &submission, nil
}
