package controller

import (
	"context"
	"strconv"
	"time"

	"ojcore/internal/common/http/middleware"
	"ojcore/internal/judge/runner"
	problemRepo "ojcore/internal/problem/repository"
	"ojcore/internal/submit/repository"
	"ojcore/internal/submit/service"
	"ojcore/pkg/errors"
	"ojcore/pkg/utils/response"
	"ojcore/pkg/utils/validate"

	"github.com/gin-gonic/gin"
)

// SubmissionService is the evaluator surface used by the HTTP layer.
type SubmissionService interface {
	Submit(ctx context.Context, actor service.Actor, input service.SubmitInput) (*service.Submission, error)
	Resubmit(ctx context.Context, actor service.Actor, submissionID string) (*service.Submission, error)
	Delete(ctx context.Context, actor service.Actor, submissionID string) error
	Get(ctx context.Context, actor service.Actor, submissionID string) (*service.Submission, error)
	ListRuns(ctx context.Context, actor service.Actor, submissionID string) ([]repository.Run, error)
	RecomputeCounters(ctx context.Context, problemID int64) (problemRepo.Counters, error)
}

// SubmitController handles submission HTTP endpoints.
type SubmitController struct {
	submitService SubmissionService
}

// NewSubmitController creates a new SubmitController.
func NewSubmitController(submitService SubmissionService) *SubmitController {
	return &SubmitController{submitService: submitService}
}

// Create handles submission requests.
func (h *SubmitController) Create(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req SubmitRequest
	if err := validate.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}

	submission, err := h.submitService.Submit(c.Request.Context(), actor, service.SubmitInput{
		ProblemID:  req.ProblemID,
		LanguageID: req.LanguageID,
		SourceCode: req.SourceCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toSubmissionResponse(submission))
}

// Get returns the current state of one submission.
func (h *SubmitController) Get(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	submission, err := h.submitService.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toSubmissionResponse(submission))
}

// ListRuns returns the run history of one submission.
func (h *SubmitController) ListRuns(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	runs, err := h.submitService.ListRuns(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		items = append(items, RunResponse{
			RunNo:        run.RunNo,
			Verdict:      string(run.Verdict),
			Score:        run.Score,
			MaxTimeMs:    run.MaxTimeMs,
			MaxMemoryKB:  run.MaxMemoryKB,
			ErrorMessage: run.ErrorMessage,
			CreatedAt:    formatTime(run.CreatedAt),
		})
	}
	response.Success(c, RunListResponse{SubmissionID: c.Param("id"), Items: items})
}

// Resubmit re-grades a submission.
func (h *SubmitController) Resubmit(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	submission, err := h.submitService.Resubmit(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toSubmissionResponse(submission))
}

// Delete soft-deletes a submission.
func (h *SubmitController) Delete(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	if err := h.submitService.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "Submission deleted", nil)
}

// Recount rebuilds a problem's counters from its submissions.
func (h *SubmitController) Recount(c *gin.Context) {
	problemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || problemID <= 0 {
		response.Error(c, errors.ValidationError("id", "invalid"))
		return
	}
	counters, err := h.submitService.RecomputeCounters(c.Request.Context(), problemID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, CountersResponse{
		ProblemID:       problemID,
		SubmissionCount: counters.SubmissionCount,
		AcceptedCount:   counters.AcceptedCount,
	})
}

func actorFrom(c *gin.Context) (service.Actor, bool) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		response.Unauthorized(c, "")
		return service.Actor{}, false
	}
	return service.Actor{UserID: identity.UserID, Role: identity.Role}, true
}

func toSubmissionResponse(s *service.Submission) SubmissionResponse {
	cases := s.Cases
	if cases == nil {
		cases = []runner.CaseResult{}
	}
	return SubmissionResponse{
		SubmissionID: s.SubmissionID,
		ProblemID:    s.ProblemID,
		UserID:       s.UserID,
		LanguageID:   s.LanguageID,
		Verdict:      string(s.Verdict),
		Score:        s.Score,
		MaxTimeMs:    s.MaxTimeMs,
		MaxMemoryKB:  s.MaxMemoryKB,
		RunNo:        s.RunNo,
		Cases:        cases,
		CreatedAt:    formatTime(s.CreatedAt),
		UpdatedAt:    formatTime(s.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// SubmitRequest defines submission payload.
type SubmitRequest struct {
	ProblemID  int64  `json:"problem_id" binding:"required,gt=0"`
	LanguageID int    `json:"language_id" binding:"required,gt=0"`
	SourceCode string `json:"source_code" binding:"required,max=262144"`
}

// SubmissionResponse is the public view of a graded submission.
type SubmissionResponse struct {
	SubmissionID string              `json:"submission_id"`
	ProblemID    int64               `json:"problem_id"`
	UserID       int64               `json:"user_id"`
	LanguageID   int                 `json:"language_id"`
	Verdict      string              `json:"verdict"`
	Score        int                 `json:"score"`
	MaxTimeMs    int64               `json:"max_time_ms"`
	MaxMemoryKB  int64               `json:"max_memory_kb"`
	RunNo        int                 `json:"run_no,omitempty"`
	Cases        []runner.CaseResult `json:"cases"`
	CreatedAt    string              `json:"created_at,omitempty"`
	UpdatedAt    string              `json:"updated_at,omitempty"`
}

// RunResponse is one run history entry.
type RunResponse struct {
	RunNo        int    `json:"run_no"`
	Verdict      string `json:"verdict,omitempty"`
	Score        int    `json:"score"`
	MaxTimeMs    int64  `json:"max_time_ms"`
	MaxMemoryKB  int64  `json:"max_memory_kb"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// RunListResponse wraps the run history.
type RunListResponse struct {
	SubmissionID string        `json:"submission_id"`
	Items        []RunResponse `json:"items"`
}

// CountersResponse reports recomputed problem counters.
type CountersResponse struct {
	ProblemID       int64 `json:"problem_id"`
	SubmissionCount int64 `json:"submission_count"`
	AcceptedCount   int64 `json:"accepted_count"`
}
