package service

import (
	"context"

	"ojcore/internal/submit/repository"
	appErr "ojcore/pkg/errors"
)

// Get returns the current state of a submission visible to actor.
func (s *SubmitService) Get(ctx context.Context, actor Actor, submissionID string) (*Submission, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	sub, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != actor.UserID && !actor.Elevated() {
		return nil, appErr.New(appErr.Forbidden).WithMessage("not the owner of this submission")
	}
	cases, err := repository.DecodeResults(sub.Results)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "decode case results failed")
	}
	return newSubmission(sub, cases), nil
}

// ListRuns returns the evaluation history of a submission, oldest first.
func (s *SubmitService) ListRuns(ctx context.Context, actor Actor, submissionID string) ([]repository.Run, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	sub, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != actor.UserID && !actor.Elevated() {
		return nil, appErr.New(appErr.Forbidden).WithMessage("not the owner of this submission")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	runs, err := s.runs.List(ctxDB.ctx, nil, submissionID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list runs failed")
	}
	if runs == nil {
		runs = []repository.Run{}
	}
	return runs, nil
}
