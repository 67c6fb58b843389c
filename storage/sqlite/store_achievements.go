package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"match-stats-server/matcherrors"
	"match-stats-server/storage"
)

// SeedAchievements inserts definitions that are not present yet.
func (s *Store) SeedAchievements(ctx context.Context, defs []storage.Achievement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return txFailure("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, d := range defs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO achievements (achievement_id, description, goal_type, goal_amount)
			VALUES (?, ?, ?, ?) ON CONFLICT (achievement_id) DO NOTHING`,
			d.ID, d.Description, d.GoalType, d.GoalAmount)
		if err != nil {
			return txFailure("seed achievement "+d.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return txFailure("commit", err)
	}
	return nil
}

// GetAchievement returns one catalog definition.
func (s *Store) GetAchievement(ctx context.Context, achievementID string) (storage.Achievement, error) {
	if err := ctx.Err(); err != nil {
		return storage.Achievement{}, err
	}
	var a storage.Achievement
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT achievement_id, description, goal_type, goal_amount FROM achievements WHERE achievement_id = ?`,
		achievementID).Scan(&a.ID, &a.Description, &a.GoalType, &a.GoalAmount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Achievement{}, matcherrors.NotFoundf("achievement %q not found", achievementID)
		}
		return storage.Achievement{}, fmt.Errorf("get achievement: %w", err)
	}
	return a, nil
}

func (s *Store) listAchievements(ctx context.Context, query string, args ...any) ([]storage.Achievement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	defer rows.Close()
	out := []storage.Achievement{}
	for rows.Next() {
		var a storage.Achievement
		if err := rows.Scan(&a.ID, &a.Description, &a.GoalType, &a.GoalAmount); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAchievements returns the catalog ordered by goal type, then goal amount.
func (s *Store) ListAchievements(ctx context.Context) ([]storage.Achievement, error) {
	return s.listAchievements(ctx, `
		SELECT achievement_id, description, goal_type, goal_amount
		FROM achievements ORDER BY goal_type, goal_amount, achievement_id`)
}

// ListAchievementsByType returns definitions of one goal type ordered by goal amount.
func (s *Store) ListAchievementsByType(ctx context.Context, goalType string) ([]storage.Achievement, error) {
	return s.listAchievements(ctx, `
		SELECT achievement_id, description, goal_type, goal_amount
		FROM achievements WHERE goal_type = ? ORDER BY goal_amount, achievement_id`, goalType)
}

// InsertUserAchievement records an unlock unless the pair already exists.
func (s *Store) InsertUserAchievement(ctx context.Context, userID int64, achievementID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO user_achievements (user_id, achievement_id, achieved_at)
		VALUES (?, ?, ?) ON CONFLICT (user_id, achievement_id) DO NOTHING`,
		userID, achievementID, toMillis(at))
	if err != nil {
		return fmt.Errorf("insert user achievement: %w", err)
	}
	return nil
}

// HasUserAchievement reports whether the user unlocked the achievement.
func (s *Store) HasUserAchievement(ctx context.Context, userID int64, achievementID string) (bool, error) {
	n, err := s.scalar(ctx,
		`SELECT COUNT(*) FROM user_achievements WHERE user_id = ? AND achievement_id = ?`,
		userID, achievementID)
	return n > 0, err
}

// ListUserAchievements returns the user's unlocks; empty when there are none.
func (s *Store) ListUserAchievements(ctx context.Context, userID int64) ([]storage.UserAchievement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT user_id, achievement_id, achieved_at
		FROM user_achievements WHERE user_id = ?
		ORDER BY achieved_at, achievement_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user achievements: %w", err)
	}
	defer rows.Close()
	out := []storage.UserAchievement{}
	for rows.Next() {
		var (
			ua storage.UserAchievement
			at int64
		)
		if err := rows.Scan(&ua.UserID, &ua.AchievementID, &at); err != nil {
			return nil, fmt.Errorf("scan user achievement: %w", err)
		}
		ua.AchievedAt = fromMillis(at)
		out = append(out, ua)
	}
	return out, rows.Err()
}

// CountUserAchievements returns the total number of unlocks across all users.
func (s *Store) CountUserAchievements(ctx context.Context) (int64, error) {
	return s.scalar(ctx, `SELECT COUNT(*) FROM user_achievements`)
}
