package service

import (
	"context"
	"errors"

	"ojcore/internal/common/db"
	problemRepo "ojcore/internal/problem/repository"
	"ojcore/internal/submit/repository"
	appErr "ojcore/pkg/errors"
	"ojcore/pkg/utils/logger"

	"go.uber.org/zap"
)

// Resubmit re-grades an existing submission against the problem's current
// test cases. Every attempt appends one run; a failed attempt leaves the
// current verdict untouched and returns the judge error.
func (s *SubmitService) Resubmit(ctx context.Context, actor Actor, submissionID string) (*Submission, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	current, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if current.UserID != actor.UserID && !actor.Elevated() {
		return nil, appErr.New(appErr.Forbidden).WithMessage("not the owner of this submission")
	}

	release, err := s.locks.acquire(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	defer release()

	source, err := s.resolveSource(ctx, current)
	if err != nil {
		return nil, err
	}
	problem, err := s.loadProblem(ctx, current.ProblemID)
	if err != nil {
		return nil, err
	}

	graded, gradeErr := s.grader.Grade(ctx, gradeInput(problem, source, current.LanguageID))
	if gradeErr != nil {
		s.recordFailedRun(ctx, submissionID, gradeErr)
		return nil, judgeFailure(gradeErr)
	}
	results, err := repository.EncodeResults(graded.Cases)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "encode case results failed")
	}

	verdict := DeriveVerdict(graded)
	now := s.now()
	eval := repository.Evaluation{
		Verdict:     verdict,
		Score:       graded.Score,
		MaxTimeMs:   graded.MaxTimeMs,
		MaxMemoryKB: graded.MaxMemoryKB,
		Results:     results,
		UpdatedAt:   now,
	}
	run := &repository.Run{
		SubmissionID: submissionID,
		Verdict:      verdict,
		Score:        graded.Score,
		MaxTimeMs:    graded.MaxTimeMs,
		MaxMemoryKB:  graded.MaxMemoryKB,
		CreatedAt:    now,
	}

	var previous repository.Verdict
	err = s.writeUnit(ctx, "resubmit", func(tx db.Transaction) error {
		latest, err := s.submissions.GetByID(ctx, tx, submissionID)
		if err != nil {
			if errors.Is(err, repository.ErrSubmissionNotFound) {
				return appErr.New(appErr.SubmissionNotFound)
			}
			return appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
		}
		if latest.Deleted() {
			return appErr.New(appErr.SubmissionNotFound)
		}
		previous = latest.Verdict

		if err := s.submissions.UpdateEvaluation(ctx, tx, submissionID, eval); err != nil {
			if errors.Is(err, repository.ErrSubmissionNotFound) {
				return appErr.Wrapf(err, appErr.DatabaseError, "submission row vanished during update")
			}
			return appErr.Wrapf(err, appErr.DatabaseError, "update submission failed")
		}
		if err := s.runs.Append(ctx, tx, run); err != nil {
			if errors.Is(err, repository.ErrRunConflict) {
				return appErr.New(appErr.SubmissionInProgress).WithMessage("submission is being re-evaluated")
			}
			return appErr.Wrapf(err, appErr.DatabaseError, "append run failed")
		}
		if delta := acceptedCount(verdict) - acceptedCount(previous); delta != 0 {
			if err := s.problems.IncrementCounters(ctx, tx, current.ProblemID, 0, delta); err != nil {
				return counterError(err)
			}
		}
		return nil
	})
	s.submissions.Invalidate(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	s.problems.Invalidate(ctx, current.ProblemID)

	logger.Info(ctx, "submission re-judged",
		zap.String("submission_id", submissionID),
		zap.Int("run_no", run.RunNo),
		zap.String("previous_verdict", string(previous)),
		zap.String("verdict", string(verdict)),
	)
	current.Verdict = verdict
	current.Score = graded.Score
	current.MaxTimeMs = graded.MaxTimeMs
	current.MaxMemoryKB = graded.MaxMemoryKB
	current.UpdatedAt = now
	out := newSubmission(current, graded.Cases)
	out.RunNo = run.RunNo
	s.publishJudged(ctx, out)
	return out, nil
}

// Delete tombstones a submission and withdraws it from the problem counters.
// Daily stats keep the activity. Deleting twice is a no-op.
func (s *SubmitService) Delete(ctx context.Context, actor Actor, submissionID string) error {
	if actor.Role != RoleSuperAdmin {
		return appErr.New(appErr.PermissionDenied)
	}
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	var problemID int64
	err := s.writeUnit(ctx, "delete", func(tx db.Transaction) error {
		sub, err := s.submissions.GetByID(ctx, tx, submissionID)
		if err != nil {
			if errors.Is(err, repository.ErrSubmissionNotFound) {
				return appErr.New(appErr.SubmissionNotFound)
			}
			return appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
		}
		if sub.Deleted() {
			return nil
		}
		deleted, err := s.submissions.SoftDelete(ctx, tx, submissionID)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "delete submission failed")
		}
		if !deleted {
			return nil
		}
		if err := s.problems.IncrementCounters(ctx, tx, sub.ProblemID, -1, -acceptedCount(sub.Verdict)); err != nil {
			return counterError(err)
		}
		problemID = sub.ProblemID
		logger.Info(ctx, "submission deleted",
			zap.String("submission_id", submissionID),
			zap.Int64("problem_id", sub.ProblemID),
			zap.String("verdict", string(sub.Verdict)),
		)
		return nil
	})
	s.submissions.Invalidate(ctx, submissionID)
	if err != nil {
		return err
	}
	if problemID > 0 {
		s.problems.Invalidate(ctx, problemID)
	}
	return nil
}

// RecomputeCounters rebuilds a problem's counters from its live submissions.
func (s *SubmitService) RecomputeCounters(ctx context.Context, problemID int64) (problemRepo.Counters, error) {
	if problemID <= 0 {
		return problemRepo.Counters{}, appErr.ValidationError("problem_id", "required")
	}
	var counters problemRepo.Counters
	err := s.writeUnit(ctx, "recompute counters", func(tx db.Transaction) error {
		totals, err := s.submissions.CountByProblem(ctx, tx, problemID)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "aggregate submissions failed")
		}
		counters = problemRepo.Counters{SubmissionCount: totals.Submissions, AcceptedCount: totals.Accepted}
		if err := s.problems.SetCounters(ctx, tx, problemID, counters); err != nil {
			if errors.Is(err, problemRepo.ErrProblemNotFound) {
				return appErr.New(appErr.ProblemNotFound)
			}
			return appErr.Wrapf(err, appErr.DatabaseError, "overwrite problem counters failed")
		}
		return nil
	})
	if err != nil {
		return problemRepo.Counters{}, err
	}
	s.problems.Invalidate(ctx, problemID)
	logger.Info(ctx, "problem counters recomputed",
		zap.Int64("problem_id", problemID),
		zap.Int64("submission_count", counters.SubmissionCount),
		zap.Int64("accepted_count", counters.AcceptedCount),
	)
	return counters, nil
}

// RecomputeAllCounters repairs every problem and returns how many were processed.
func (s *SubmitService) RecomputeAllCounters(ctx context.Context) (int, error) {
	ids, err := s.problems.ListIDs(ctx)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "list problems failed")
	}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if _, err := s.RecomputeCounters(ctx, id); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}

// recordFailedRun persists the failure entry on a best-effort basis.
func (s *SubmitService) recordFailedRun(ctx context.Context, submissionID string, cause error) {
	run := &repository.Run{SubmissionID: submissionID, ErrorMessage: cause.Error(), CreatedAt: s.now()}
	err := s.writeUnit(ctx, "record failed run", func(tx db.Transaction) error {
		return s.runs.Append(ctx, tx, run)
	})
	if err != nil {
		logger.Error(ctx, "record failed run failed",
			zap.String("submission_id", submissionID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	logger.Warn(ctx, "re-judge failed",
		zap.String("submission_id", submissionID),
		zap.Int("run_no", run.RunNo),
		zap.Error(cause),
	)
}

// resolveSource prefers the inline column and falls back to the archive.
func (s *SubmitService) resolveSource(ctx context.Context, sub *repository.Submission) (string, error) {
	if sub.SourceCode != "" {
		return sub.SourceCode, nil
	}
	if sub.SourceKey == "" || s.archive == nil {
		return "", appErr.New(appErr.SourceUnavailable)
	}
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	source, err := s.archive.Get(ctxStorage.ctx, sub.SourceKey)
	if err != nil || source == "" {
		logger.Warn(ctx, "load archived source failed",
			zap.String("submission_id", sub.SubmissionID),
			zap.String("source_key", sub.SourceKey),
			zap.Error(err),
		)
		if err == nil {
			return "", appErr.New(appErr.SourceUnavailable)
		}
		return "", appErr.Wrapf(err, appErr.SourceUnavailable, "source unavailable")
	}
	return source, nil
}

func (s *SubmitService) loadSubmission(ctx context.Context, submissionID string) (*repository.Submission, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	sub, err := s.submissions.GetByID(ctxDB.ctx, nil, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	if sub.Deleted() {
		return nil, appErr.New(appErr.SubmissionNotFound)
	}
	return sub, nil
}
