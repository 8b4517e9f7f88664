package service

import (
	"context"
	"encoding/json"

	"ojcore/internal/common/mq"
	"ojcore/pkg/utils/logger"

	"go.uber.org/zap"
)

const judgedEventType = "submission.judged"

// JudgedEvent is published after every evaluation that produced a verdict.
type JudgedEvent struct {
	Type         string `json:"type"`
	SubmissionID string `json:"submission_id"`
	ProblemID    int64  `json:"problem_id"`
	UserID       int64  `json:"user_id"`
	RunNo        int    `json:"run_no"`
	Verdict      string `json:"verdict"`
	Score        int    `json:"score"`
	MaxTimeMs    int64  `json:"max_time_ms"`
	MaxMemoryKB  int64  `json:"max_memory_kb"`
	JudgedAt     int64  `json:"judged_at"`
}

// publishJudged is best effort: the evaluation is already committed.
func (s *SubmitService) publishJudged(ctx context.Context, sub *Submission) {
	if s.events == nil || s.eventTopic == "" {
		return
	}
	event := JudgedEvent{
		Type:         judgedEventType,
		SubmissionID: sub.SubmissionID,
		ProblemID:    sub.ProblemID,
		UserID:       sub.UserID,
		RunNo:        sub.RunNo,
		Verdict:      string(sub.Verdict),
		Score:        sub.Score,
		MaxTimeMs:    sub.MaxTimeMs,
		MaxMemoryKB:  sub.MaxMemoryKB,
		JudgedAt:     sub.UpdatedAt.Unix(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		logger.Warn(ctx, "encode judged event failed", zap.Error(err))
		return
	}
	message := mq.NewMessage(sub.SubmissionID, body)
	message.SetHeader("type", judgedEventType)

	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	if err := s.events.Publish(ctxMQ.ctx, s.eventTopic, message); err != nil {
		logger.Warn(ctx, "publish judged event failed",
			zap.String("submission_id", sub.SubmissionID),
			zap.String("topic", s.eventTopic),
			zap.Error(err),
		)
	}
}
