package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ojcore/internal/common/db"
	problemRepo "ojcore/internal/problem/repository"
	statsService "ojcore/internal/stats/service"
	"ojcore/internal/submit/repository"
	appErr "ojcore/pkg/errors"
)

func TestResubmit_AcceptedDeltaNetsToZero(t *testing.T) {
	h := newHarness(t, nil, wrongAnswer(2), accepted(2), wrongAnswer(2))
	ctx := context.Background()

	first, err := h.svc.Submit(ctx, alice, submitInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if subs, acs := h.counters(1); subs != 1 || acs != 0 {
		t.Fatalf("after WA counters = %d/%d", subs, acs)
	}

	second, err := h.svc.Resubmit(ctx, alice, first.SubmissionID)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.Verdict != repository.VerdictAccepted || second.RunNo != 2 || second.SubmissionID != first.SubmissionID {
		t.Fatalf("unexpected second run: %+v", second)
	}
	if subs, acs := h.counters(1); subs != 1 || acs != 1 {
		t.Fatalf("after AC counters = %d/%d, want 1/1", subs, acs)
	}

	runsBefore := append([]repository.Run(nil), h.store.runs[first.SubmissionID]...)
	third, err := h.svc.Resubmit(ctx, admin, first.SubmissionID)
	if err != nil {
		t.Fatalf("resubmit by admin: %v", err)
	}
	if third.Verdict != repository.VerdictWrongAnswer || third.RunNo != 3 {
		t.Fatalf("unexpected third run: %+v", third)
	}
	if subs, acs := h.counters(1); subs != 1 || acs != 0 {
		t.Fatalf("WA->AC->WA counters = %d/%d, want 1/0", subs, acs)
	}

	runs := h.store.runs[first.SubmissionID]
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i, run := range runs {
		if run.RunNo != i+1 {
			t.Fatalf("run %d has number %d", i, run.RunNo)
		}
		if i < len(runsBefore) && run != runsBefore[i] {
			t.Fatalf("run %d changed: %+v -> %+v", i, runsBefore[i], run)
		}
	}
	if got := h.store.stats[statsKey(7, "2024-06-01")]; got != (statsService.Delta{Submit: 1}) {
		t.Fatalf("resubmit must not touch daily stats, got %+v", got)
	}
	if stored := h.store.submissions[first.SubmissionID]; stored.Verdict != repository.VerdictWrongAnswer {
		t.Fatalf("current verdict = %s", stored.Verdict)
	}
}

func TestResubmit_UsesCurrentTestCases(t *testing.T) {
	h := newHarness(t, nil, accepted(2), accepted(3))
	ctx := context.Background()

	sub, err := h.svc.Submit(ctx, alice, submitInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	p := h.store.problems[1]
	p.TestCases = append(p.TestCases, problemRepo.TestCase{Ordinal: 3, Input: "5 5", ExpectedOutput: "10", Points: 1})
	h.store.problems[1] = p

	if _, err := h.svc.Resubmit(ctx, alice, sub.SubmissionID); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if got := len(h.grader.inputs[1].TestCases); got != 3 {
		t.Fatalf("resubmit graded %d cases, want 3", got)
	}
	if h.grader.inputs[1].SourceCode != submitInput().SourceCode {
		t.Fatalf("resubmit should reuse the stored source")
	}
}

func TestResubmit_GradingFailureRecordsRun(t *testing.T) {
	h := newHarness(t, nil, accepted(2), gradeOutcome{err: errors.New("judge unreachable")})
	ctx := context.Background()

	sub, err := h.svc.Submit(ctx, alice, submitInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = h.svc.Resubmit(ctx, alice, sub.SubmissionID)
	if !appErr.Is(err, appErr.JudgeExecutionFailed) {
		t.Fatalf("expected JudgeExecutionFailed, got %v", err)
	}

	runs := h.store.runs[sub.SubmissionID]
	if len(runs) != 2 {
		t.Fatalf("expected failure run to be appended, got %d runs", len(runs))
	}
	failed := runs[1]
	if !failed.Failed() || failed.RunNo != 2 || failed.ErrorMessage == "" {
		t.Fatalf("unexpected failure run: %+v", failed)
	}
	stored := h.store.submissions[sub.SubmissionID]
	if stored.Verdict != repository.VerdictAccepted || stored.Score != 100 {
		t.Fatalf("current fields changed on failure: %+v", stored)
	}
	if subs, acs := h.counters(1); subs != 1 || acs != 1 {
		t.Fatalf("counters changed on failure: %d/%d", subs, acs)
	}
}

func TestResubmit_Preconditions(t *testing.T) {
	h := newHarness(t, nil, accepted(2))
	ctx := context.Background()
	sub, err := h.svc.Submit(ctx, alice, submitInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	legacy := h.store.submissions[sub.SubmissionID]
	legacy.SubmissionID = "legacy"
	legacy.SourceCode = ""
	h.store.submissions["legacy"] = legacy

	tests := []struct {
		name     string
		actor    Actor
		id       string
		wantCode appErr.ErrorCode
	}{
		{name: "unknown", actor: alice, id: "nope", wantCode: appErr.SubmissionNotFound},
		{name: "not owner", actor: mallory, id: sub.SubmissionID, wantCode: appErr.Forbidden},
		{name: "source missing", actor: alice, id: "legacy", wantCode: appErr.SourceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := h.grader.calls
			_, err := h.svc.Resubmit(ctx, tt.actor, tt.id)
			if !appErr.Is(err, tt.wantCode) {
				t.Fatalf("expected code %d, got %v", tt.wantCode, err)
			}
			if h.grader.calls != calls {
				t.Fatalf("judge must not be called")
			}
		})
	}

	if err := h.svc.Delete(ctx, superAdmin, sub.SubmissionID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.svc.Resubmit(ctx, alice, sub.SubmissionID); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("deleted submission should be not found, got %v", err)
	}
}

func TestResubmit_SourceFromArchive(t *testing.T) {
	store := &memoryObjects{objects: map[string]string{}}
	archive, err := repository.NewSourceArchive(store, "sources", "")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	h := newHarness(t, func(cfg *Config) { cfg.Archive = archive }, accepted(2))
	ctx := context.Background()

	sub, err := h.svc.Submit(ctx, alice, submitInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	stored := h.store.submissions[sub.SubmissionID]
	if stored.SourceKey == "" {
		t.Fatalf("source should be archived")
	}
	stored.SourceCode = ""
	h.store.submissions[sub.SubmissionID] = stored

	if _, err := h.svc.Resubmit(ctx, alice, sub.SubmissionID); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if h.grader.inputs[1].SourceCode != submitInput().SourceCode {
		t.Fatalf("archived source not used")
	}
}

func TestResubmit_InProgress(t *testing.T) {
	h := newHarness(t, nil, accepted(2))
	ctx := context.Background()
	sub, err := h.svc.Submit(ctx, alice, submitInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	release, err := h.svc.locks.acquire(ctx, sub.SubmissionID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := h.svc.Resubmit(ctx, alice, sub.SubmissionID); !appErr.Is(err, appErr.SubmissionInProgress) {
		t.Fatalf("expected SubmissionInProgress, got %v", err)
	}
	release()
	if _, err := h.svc.Resubmit(ctx, alice, sub.SubmissionID); err != nil {
		t.Fatalf("resubmit after release: %v", err)
	}
}

func TestResubmit_ConcurrentCallsAppendDistinctRuns(t *testing.T) {
	h := newHarness(t, nil, accepted(2))
	ctx := context.Background()
	sub, err := h.svc.Submit(ctx, alice, submitInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Resubmit(ctx, alice, sub.SubmissionID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case appErr.Is(err, appErr.SubmissionInProgress):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	runs := h.store.runs[sub.SubmissionID]
	if len(runs) != succeeded+1 {
		t.Fatalf("runs = %d, want %d", len(runs), succeeded+1)
	}
	for i, run := range runs {
		if run.RunNo != i+1 {
			t.Fatalf("run numbers must be strictly increasing: %+v", runs)
		}
	}
}

func TestDelete(t *testing.T) {
	h := newHarness(t, nil, accepted(2), wrongAnswer(2))
	ctx := context.Background()

	ac, err := h.svc.Submit(ctx, alice, submitInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	wa, err := h.svc.Submit(ctx, alice, submitInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if subs, acs := h.counters(1); subs != 2 || acs != 1 {
		t.Fatalf("counters = %d/%d", subs, acs)
	}

	for _, actor := range []Actor{alice, admin} {
		if err := h.svc.Delete(ctx, actor, ac.SubmissionID); !appErr.Is(err, appErr.PermissionDenied) {
			t.Fatalf("role %s: expected PermissionDenied, got %v", actor.Role, err)
		}
	}

	if err := h.svc.Delete(ctx, superAdmin, ac.SubmissionID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if subs, acs := h.counters(1); subs != 1 || acs != 0 {
		t.Fatalf("after deleting AC counters = %d/%d, want 1/0", subs, acs)
	}
	if err := h.svc.Delete(ctx, superAdmin, ac.SubmissionID); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if subs, acs := h.counters(1); subs != 1 || acs != 0 {
		t.Fatalf("idempotent delete changed counters: %d/%d", subs, acs)
	}

	if err := h.svc.Delete(ctx, superAdmin, wa.SubmissionID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if subs, acs := h.counters(1); subs != 0 || acs != 0 {
		t.Fatalf("after deleting WA counters = %d/%d, want 0/0", subs, acs)
	}
	if got := h.store.stats[statsKey(7, "2024-06-01")]; got != (statsService.Delta{Submit: 2, AC: 1}) {
		t.Fatalf("delete must not touch daily stats, got %+v", got)
	}
	if _, ok := h.store.submissions[ac.SubmissionID]; !ok {
		t.Fatalf("soft delete must keep the row")
	}
	if err := h.svc.Delete(ctx, superAdmin, "nope"); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected SubmissionNotFound, got %v", err)
	}
}

func TestSubmissionCacheInvalidatedAfterCommit(t *testing.T) {
	h := newHarness(t, nil, wrongAnswer(2), accepted(2))
	ctx := context.Background()

	sub, err := h.svc.Submit(ctx, alice, submitInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := h.svc.Resubmit(ctx, alice, sub.SubmissionID); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if got := h.store.submissions[sub.SubmissionID].UpdatedAt; !got.Equal(fixedNow) {
		t.Fatalf("updated_at = %v, want %v", got, fixedNow)
	}
	if err := h.svc.Delete(ctx, superAdmin, sub.SubmissionID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if h.store.invalidatedInTx != 0 {
		t.Fatalf("%d invalidations ran before commit", h.store.invalidatedInTx)
	}
	count := 0
	for _, id := range h.store.invalidated {
		if id == sub.SubmissionID {
			count++
		}
	}
	if count < 2 {
		t.Fatalf("expected resubmit and delete to invalidate, got %v", h.store.invalidated)
	}
}

func TestRecomputeCounters(t *testing.T) {
	h := newHarness(t, nil, accepted(2), wrongAnswer(2), accepted(2))
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		sub, err := h.svc.Submit(ctx, alice, submitInput())
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, sub.SubmissionID)
	}
	if err := h.svc.Delete(ctx, superAdmin, ids[2]); err != nil {
		t.Fatalf("delete: %v", err)
	}

	p := h.store.problems[1]
	p.SubmissionCount, p.AcceptedCount = 42, 17
	h.store.problems[1] = p

	counters, err := h.svc.RecomputeCounters(ctx, 1)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if counters != (problemRepo.Counters{SubmissionCount: 2, AcceptedCount: 1}) {
		t.Fatalf("counters = %+v", counters)
	}
	if subs, acs := h.counters(1); subs != 2 || acs != 1 {
		t.Fatalf("stored counters = %d/%d", subs, acs)
	}
	if _, err := h.svc.RecomputeCounters(ctx, 404); !appErr.Is(err, appErr.ProblemNotFound) {
		t.Fatalf("expected ProblemNotFound, got %v", err)
	}

	h.store.problems[2] = problemRepo.Problem{ID: 2, SubmissionCount: 9}
	n, err := h.svc.RecomputeAllCounters(ctx)
	if err != nil || n != 2 {
		t.Fatalf("recompute all = %d, %v", n, err)
	}
	if h.store.problems[2].SubmissionCount != 0 {
		t.Fatalf("problem 2 not repaired")
	}
}

func TestGetAndListRuns(t *testing.T) {
	h := newHarness(t, nil, accepted(2), wrongAnswer(2))
	ctx := context.Background()
	sub, err := h.svc.Submit(ctx, alice, submitInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := h.svc.Resubmit(ctx, alice, sub.SubmissionID); err != nil {
		t.Fatalf("resubmit: %v", err)
	}

	got, err := h.svc.Get(ctx, alice, sub.SubmissionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Verdict != repository.VerdictWrongAnswer || len(got.Cases) != 2 {
		t.Fatalf("unexpected submission: %+v", got)
	}
	if _, err := h.svc.Get(ctx, mallory, sub.SubmissionID); !appErr.Is(err, appErr.Forbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
	if _, err := h.svc.Get(ctx, admin, sub.SubmissionID); err != nil {
		t.Fatalf("admin get: %v", err)
	}

	runs, err := h.svc.ListRuns(ctx, alice, sub.SubmissionID)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].Verdict != repository.VerdictAccepted || runs[1].Verdict != repository.VerdictWrongAnswer {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

var _ db.Database = (*fakeDatabase)(nil)
