package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ojcore/internal/common/cache"
	"ojcore/internal/common/db"
	"ojcore/internal/common/mq"
	"ojcore/internal/judge/runner"
	problemRepo "ojcore/internal/problem/repository"
	statsService "ojcore/internal/stats/service"
	"ojcore/internal/submit/repository"
	appErr "ojcore/pkg/errors"
	"ojcore/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	rateUserKeyPrefix = "submit:rate:user:"
	// maxWriteAttempts bounds replays of a transaction that hit a deadlock.
	maxWriteAttempts = 2

	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// Grader grades source code against test cases.
type Grader interface {
	Grade(ctx context.Context, in runner.GradeInput) (*runner.GradeResult, error)
}

// LanguageCatalog answers whether the judge knows a language.
type LanguageCatalog interface {
	SupportsLanguage(ctx context.Context, languageID int) (bool, error)
}

// StatsRecorder applies daily activity deltas.
type StatsRecorder interface {
	Increment(ctx context.Context, tx db.Transaction, userID int64, day string, delta statsService.Delta) error
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID int64
	Role   string
}

// Elevated reports whether the actor may act on other users' resources.
func (a Actor) Elevated() bool {
	return a.Role == RoleAdmin || a.Role == RoleSuperAdmin
}

// RateLimitConfig holds submit throttling configuration.
type RateLimitConfig struct {
	UserMax int           `yaml:"userMax"`
	Window  time.Duration `yaml:"window"`
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB      time.Duration `yaml:"db"`
	Cache   time.Duration `yaml:"cache"`
	MQ      time.Duration `yaml:"mq"`
	Storage time.Duration `yaml:"storage"`
}

// Config holds submit service dependencies and settings.
type Config struct {
	Database    db.Provider
	Submissions repository.SubmissionRepository
	Runs        repository.RunRepository
	Problems    problemRepo.ProblemRepository
	Stats       StatsRecorder
	Grader      Grader

	// Optional collaborators.
	Languages LanguageCatalog
	Cache     cache.Cache
	Archive   *repository.SourceArchive
	Events    mq.Producer

	EventTopic   string
	MaxCodeBytes int
	LockTTL      time.Duration
	RateLimit    RateLimitConfig
	Timeouts     TimeoutConfig
	Now          func() time.Time
}

// SubmitService evaluates submissions and keeps counters consistent with them.
type SubmitService struct {
	database    db.Provider
	submissions repository.SubmissionRepository
	runs        repository.RunRepository
	problems    problemRepo.ProblemRepository
	stats       StatsRecorder
	grader      Grader

	languages LanguageCatalog
	cache     cache.Cache
	archive   *repository.SourceArchive
	events    mq.Producer
	locks     *evaluationLocks

	eventTopic   string
	maxCodeBytes int
	rateLimit    RateLimitConfig
	timeouts     TimeoutConfig
	now          func() time.Time
}

// SubmitInput describes a new submission.
type SubmitInput struct {
	ProblemID  int64
	LanguageID int
	SourceCode string
}

// Submission is the evaluated state returned to callers.
type Submission struct {
	SubmissionID string
	ProblemID    int64
	UserID       int64
	LanguageID   int
	Verdict      repository.Verdict
	Score        int
	MaxTimeMs    int64
	MaxMemoryKB  int64
	RunNo        int
	Cases        []runner.CaseResult
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewSubmitService creates a new submit service.
func NewSubmitService(cfg Config) (*SubmitService, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("database provider is required")
	}
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Runs == nil {
		return nil, fmt.Errorf("run repository is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.Stats == nil {
		return nil, fmt.Errorf("stats recorder is required")
	}
	if cfg.Grader == nil {
		return nil, fmt.Errorf("grader is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	var lockOps cache.LockOps
	if cfg.Cache != nil {
		lockOps = cfg.Cache
	}
	return &SubmitService{
		database:     cfg.Database,
		submissions:  cfg.Submissions,
		runs:         cfg.Runs,
		problems:     cfg.Problems,
		stats:        cfg.Stats,
		grader:       cfg.Grader,
		languages:    cfg.Languages,
		cache:        cfg.Cache,
		archive:      cfg.Archive,
		events:       cfg.Events,
		locks:        newEvaluationLocks(lockOps, cfg.LockTTL, cfg.Timeouts.Cache),
		eventTopic:   cfg.EventTopic,
		maxCodeBytes: cfg.MaxCodeBytes,
		rateLimit:    cfg.RateLimit,
		timeouts:     cfg.Timeouts,
		now:          cfg.Now,
	}, nil
}

// Submit grades a new submission and persists it together with the problem
// counters and the user's daily stats. Nothing is persisted when grading fails.
func (s *SubmitService) Submit(ctx context.Context, actor Actor, input SubmitInput) (*Submission, error) {
	if err := s.validateInput(actor, input); err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, actor.UserID); err != nil {
		return nil, err
	}

	problem, err := s.loadProblem(ctx, input.ProblemID)
	if err != nil {
		return nil, err
	}
	if !problem.Visible && problem.OwnerID != actor.UserID && !actor.Elevated() {
		return nil, appErr.New(appErr.ProblemAccessDenied)
	}
	if err := s.checkLanguage(ctx, problem, input.LanguageID); err != nil {
		return nil, err
	}
	if len(problem.TestCases) == 0 {
		return nil, appErr.New(appErr.ProblemNotSubmittable).WithMessage("problem has no test cases")
	}

	graded, err := s.grader.Grade(ctx, gradeInput(problem, input.SourceCode, input.LanguageID))
	if err != nil {
		logger.Warn(ctx, "grading failed", zap.Int64("problem_id", problem.ID), zap.Error(err))
		return nil, judgeFailure(err)
	}
	results, err := repository.EncodeResults(graded.Cases)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "encode case results failed")
	}

	now := s.now()
	verdict := DeriveVerdict(graded)
	submission := &repository.Submission{
		SubmissionID: uuid.NewString(),
		ProblemID:    problem.ID,
		UserID:       actor.UserID,
		LanguageID:   input.LanguageID,
		SourceCode:   input.SourceCode,
		Verdict:      verdict,
		Score:        graded.Score,
		MaxTimeMs:    graded.MaxTimeMs,
		MaxMemoryKB:  graded.MaxMemoryKB,
		Results:      results,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	submission.SourceKey = s.archiveSource(ctx, submission.SubmissionID, input.SourceCode)

	run := &repository.Run{
		SubmissionID: submission.SubmissionID,
		Verdict:      verdict,
		Score:        graded.Score,
		MaxTimeMs:    graded.MaxTimeMs,
		MaxMemoryKB:  graded.MaxMemoryKB,
	}
	accepted := acceptedCount(verdict)
	err = s.writeUnit(ctx, "submit", func(tx db.Transaction) error {
		if err := s.submissions.Create(ctx, tx, submission); err != nil {
			return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
		}
		if err := s.runs.Append(ctx, tx, run); err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "append run failed")
		}
		if err := s.problems.IncrementCounters(ctx, tx, problem.ID, 1, accepted); err != nil {
			return counterError(err)
		}
		return s.stats.Increment(ctx, tx, actor.UserID, statsService.DayKey(now), statsService.Delta{Submit: 1, AC: accepted})
	})
	if err != nil {
		return nil, err
	}
	s.problems.Invalidate(ctx, problem.ID)

	logger.Info(ctx, "submission judged",
		zap.String("submission_id", submission.SubmissionID),
		zap.Int64("problem_id", problem.ID),
		zap.String("verdict", string(verdict)),
		zap.Int("score", graded.Score),
	)
	out := newSubmission(submission, graded.Cases)
	out.RunNo = run.RunNo
	s.publishJudged(ctx, out)
	return out, nil
}

func (s *SubmitService) validateInput(actor Actor, input SubmitInput) error {
	if actor.UserID <= 0 {
		return appErr.New(appErr.Unauthorized)
	}
	if input.ProblemID <= 0 {
		return appErr.ValidationError("problem_id", "required")
	}
	if input.LanguageID <= 0 {
		return appErr.ValidationError("language_id", "required")
	}
	if strings.TrimSpace(input.SourceCode) == "" {
		return appErr.ValidationError("source_code", "required")
	}
	if s.maxCodeBytes > 0 && len(input.SourceCode) > s.maxCodeBytes {
		return appErr.New(appErr.CodeTooLarge).WithMessage("source code too large")
	}
	return nil
}

// checkLanguage accepts any catalog language when the problem leaves its set empty.
func (s *SubmitService) checkLanguage(ctx context.Context, problem *problemRepo.Problem, languageID int) error {
	if len(problem.AllowedLanguages) > 0 {
		if !problem.AllowsLanguage(languageID) {
			return appErr.New(appErr.LanguageNotSupported)
		}
		return nil
	}
	if s.languages == nil {
		return nil
	}
	ok, err := s.languages.SupportsLanguage(ctx, languageID)
	if err != nil {
		return judgeFailure(err)
	}
	if !ok {
		return appErr.New(appErr.LanguageNotSupported)
	}
	return nil
}

func (s *SubmitService) loadProblem(ctx context.Context, problemID int64) (*problemRepo.Problem, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	problem, err := s.problems.GetByID(ctxDB.ctx, nil, problemID)
	if err != nil {
		if errors.Is(err, problemRepo.ErrProblemNotFound) {
			return nil, appErr.New(appErr.ProblemNotFound)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get problem failed")
	}
	return problem, nil
}

// archiveSource returns the object key, or "" when archiving is off or failed.
func (s *SubmitService) archiveSource(ctx context.Context, submissionID, source string) string {
	if s.archive == nil {
		return ""
	}
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	key, err := s.archive.Put(ctxStorage.ctx, submissionID, source)
	if err != nil {
		logger.Warn(ctx, "archive source failed", zap.String("submission_id", submissionID), zap.Error(err))
		return ""
	}
	return key
}

func (s *SubmitService) checkRateLimit(ctx context.Context, userID int64) error {
	if s.cache == nil || s.rateLimit.Window <= 0 || s.rateLimit.UserMax <= 0 {
		return nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	key := rateUserKeyPrefix + strconv.FormatInt(userID, 10)
	count, err := s.cache.Incr(ctxCache.ctx, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if count == 1 {
		_ = s.cache.Expire(ctxCache.ctx, key, s.rateLimit.Window)
	} else if ttl, err := s.cache.TTL(ctxCache.ctx, key); err == nil && ttl < 0 {
		_ = s.cache.Expire(ctxCache.ctx, key, s.rateLimit.Window)
	}
	if int(count) > s.rateLimit.UserMax {
		return appErr.New(appErr.SubmitTooFrequently).WithMessage("submit too frequently")
	}
	return nil
}

// writeUnit applies fn atomically when the store honours transactions and
// falls back to sequential writes (tx == nil) when it does not.
func (s *SubmitService) writeUnit(ctx context.Context, operation string, fn func(tx db.Transaction) error) error {
	database, err := db.CurrentDatabase(s.database)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "database unavailable")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	if db.SupportsTransactions(s.database) {
		for attempt := 1; ; attempt++ {
			err = database.Transaction(ctxDB.ctx, fn)
			if err == nil || attempt >= maxWriteAttempts || !db.IsRetryable(err) {
				break
			}
			logger.Warn(ctx, "transaction conflict, retrying",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
	} else {
		logger.Warn(ctx, "store does not support transactions, writing sequentially", zap.String("operation", operation))
		err = fn(nil)
	}
	if err == nil {
		return nil
	}
	if _, ok := appErr.As(err); ok {
		return err
	}
	return appErr.Wrapf(err, appErr.DatabaseError, "%s failed", operation)
}

func gradeInput(problem *problemRepo.Problem, source string, languageID int) runner.GradeInput {
	cases := make([]runner.TestCase, 0, len(problem.TestCases))
	for _, tc := range problem.TestCases {
		cases = append(cases, runner.TestCase{
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			Points:         tc.Points,
		})
	}
	return runner.GradeInput{
		SourceCode:   source,
		LanguageID:   languageID,
		TestCases:    cases,
		CPUTimeLimit: problem.CPUTimeLimit,
		MemoryLimit:  problem.MemoryLimit,
	}
}

// judgeFailure keeps admission errors as they are and reports everything
// else as a failed judge execution.
func judgeFailure(err error) error {
	if appErr.Is(err, appErr.JudgeQueueFull) || appErr.Is(err, appErr.Timeout) || appErr.Is(err, appErr.JudgeExecutionFailed) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return appErr.Wrapf(err, appErr.Timeout, "grading interrupted")
	}
	return appErr.Wrapf(err, appErr.JudgeExecutionFailed, "judge execution failed")
}

func counterError(err error) error {
	if errors.Is(err, problemRepo.ErrProblemNotFound) {
		return appErr.Wrapf(err, appErr.DatabaseError, "problem counters row missing")
	}
	return appErr.Wrapf(err, appErr.DatabaseError, "update problem counters failed")
}

func newSubmission(sub *repository.Submission, cases []runner.CaseResult) *Submission {
	return &Submission{
		SubmissionID: sub.SubmissionID,
		ProblemID:    sub.ProblemID,
		UserID:       sub.UserID,
		LanguageID:   sub.LanguageID,
		Verdict:      sub.Verdict,
		Score:        sub.Score,
		MaxTimeMs:    sub.MaxTimeMs,
		MaxMemoryKB:  sub.MaxMemoryKB,
		Cases:        cases,
		CreatedAt:    sub.CreatedAt,
		UpdatedAt:    sub.UpdatedAt,
	}
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
