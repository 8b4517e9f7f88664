package service

import (
	"context"
	"fmt"
	"time"

	"ojcore/internal/common/db"
	"ojcore/internal/stats/repository"
	appErr "ojcore/pkg/errors"
)

const (
	dayLayout       = "2006-01-02"
	defaultMaxRange = 366
)

// Delta is the change applied to one day's counters.
type Delta struct {
	Submit int64
	AC     int64
}

// IsZero reports whether applying d would change nothing.
func (d Delta) IsZero() bool {
	return d.Submit == 0 && d.AC == 0
}

// DayKey formats t as the UTC calendar day used for bucketing.
func DayKey(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// Config holds stats service dependencies.
type Config struct {
	Repo         repository.DailyStatsRepository
	MaxRangeDays int
	Now          func() time.Time
}

// StatsService aggregates per-user daily submission activity.
type StatsService struct {
	repo         repository.DailyStatsRepository
	maxRangeDays int
	now          func() time.Time
}

func NewStatsService(cfg Config) (*StatsService, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("daily stats repository is required")
	}
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = defaultMaxRange
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &StatsService{repo: cfg.Repo, maxRangeDays: cfg.MaxRangeDays, now: cfg.Now}, nil
}

// Increment adds delta to the user's row for day, creating it when missing.
// Counters only grow: deletions and re-runs never decrement them.
func (s *StatsService) Increment(ctx context.Context, tx db.Transaction, userID int64, day string, delta Delta) error {
	if delta.IsZero() {
		return nil
	}
	if delta.Submit < 0 || delta.AC < 0 {
		return appErr.New(appErr.InvalidParams).WithMessage("daily stats delta must not be negative")
	}
	if _, err := time.Parse(dayLayout, day); err != nil {
		return appErr.ValidationError("day", "format")
	}
	if err := s.repo.Add(ctx, tx, userID, day, delta.Submit, delta.AC); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update daily stats failed")
	}
	return nil
}

// ListRange returns the user's daily rows between from and to inclusive.
// Empty bounds default to the last 30 days ending today.
func (s *StatsService) ListRange(ctx context.Context, userID int64, from, to string) ([]repository.DailyStat, error) {
	if userID <= 0 {
		return nil, appErr.ValidationError("user_id", "required")
	}
	now := s.now()
	if to == "" {
		to = DayKey(now)
	}
	toDay, err := time.Parse(dayLayout, to)
	if err != nil {
		return nil, appErr.ValidationError("to", "format")
	}
	if from == "" {
		from = toDay.AddDate(0, 0, -29).Format(dayLayout)
	}
	fromDay, err := time.Parse(dayLayout, from)
	if err != nil {
		return nil, appErr.ValidationError("from", "format")
	}
	if fromDay.After(toDay) {
		return nil, appErr.ValidationError("from", "after_to")
	}
	if int(toDay.Sub(fromDay).Hours()/24)+1 > s.maxRangeDays {
		return nil, appErr.ValidationError("from", "range_too_large")
	}
	stats, err := s.repo.ListRange(ctx, userID, from, to)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list daily stats failed")
	}
	if stats == nil {
		stats = []repository.DailyStat{}
	}
	return stats, nil
}
