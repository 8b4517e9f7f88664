package repository

import (
	"context"
	"errors"

	"ojcore/internal/common/db"
)

// DailyStat is one user's activity on one UTC day.
type DailyStat struct {
	UserID      int64  `json:"user_id"`
	Day         string `json:"day"`
	SubmitCount int64  `json:"submit_count"`
	ACCount     int64  `json:"ac_count"`
}

// DailyStatsRepository persists per-user daily counters.
type DailyStatsRepository interface {
	// Add upserts the row and adds the deltas to it.
	Add(ctx context.Context, tx db.Transaction, userID int64, day string, submitDelta, acDelta int64) error
	ListRange(ctx context.Context, userID int64, from, to string) ([]DailyStat, error)
}

type MySQLDailyStatsRepository struct {
	db db.Database
}

func NewDailyStatsRepository(database db.Database) DailyStatsRepository {
	return &MySQLDailyStatsRepository{db: database}
}

func (r *MySQLDailyStatsRepository) Add(ctx context.Context, tx db.Transaction, userID int64, day string, submitDelta, acDelta int64) error {
	if userID <= 0 {
		return errors.New("userID is required")
	}
	if day == "" {
		return errors.New("day is required")
	}
	query := `
		INSERT INTO user_stats_daily (user_id, day, submit_count, ac_count)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			submit_count = submit_count + VALUES(submit_count),
			ac_count = ac_count + VALUES(ac_count)
	`
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, query, userID, day, submitDelta, acDelta)
	return err
}

func (r *MySQLDailyStatsRepository) ListRange(ctx context.Context, userID int64, from, to string) ([]DailyStat, error) {
	query := `
		SELECT user_id, day, submit_count, ac_count
		FROM user_stats_daily
		WHERE user_id = ? AND day >= ? AND day <= ?
		ORDER BY day
	`
	rows, err := r.db.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var stat DailyStat
		if err := rows.Scan(&stat.UserID, &stat.Day, &stat.SubmitCount, &stat.ACCount); err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}
