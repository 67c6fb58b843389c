package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"match-stats-server/matcherrors"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS match_win (
	match_id  VARCHAR(36) PRIMARY KEY,
	winner_id BIGINT NOT NULL,
	loser_id  BIGINT NOT NULL,
	CHECK (winner_id <> loser_id)
);
CREATE INDEX IF NOT EXISTS idx_match_win_winner ON match_win(winner_id);
CREATE INDEX IF NOT EXISTS idx_match_win_loser ON match_win(loser_id);
CREATE TABLE IF NOT EXISTS match_stats (
	match_id      VARCHAR(36) NOT NULL REFERENCES match_win(match_id),
	user_id       BIGINT NOT NULL,
	touched_balls BIGINT NOT NULL CHECK (touched_balls >= 0),
	max_in_a_row  BIGINT NOT NULL CHECK (max_in_a_row >= 0),
	time_total    BIGINT NOT NULL CHECK (time_total >= 0),
	PRIMARY KEY (match_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_match_stats_user ON match_stats(user_id);
CREATE TABLE IF NOT EXISTS achievements (
	achievement_id VARCHAR(36) PRIMARY KEY,
	description    TEXT NOT NULL,
	goal_type      VARCHAR(36) NOT NULL,
	goal_amount    BIGINT NOT NULL CHECK (goal_amount > 0)
);
CREATE TABLE IF NOT EXISTS user_achievements (
	user_id        BIGINT NOT NULL,
	achievement_id VARCHAR(36) NOT NULL,
	achieved_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, achievement_id)
);
`

// selectMatchSQL joins an outcome with both stat rows; absent stat rows read as zero.
const selectMatchSQL = `
SELECT mw.match_id, mw.winner_id, mw.loser_id,
	COALESCE(ws.touched_balls, 0), COALESCE(ws.max_in_a_row, 0), COALESCE(ws.time_total, 0),
	COALESCE(ls.touched_balls, 0), COALESCE(ls.max_in_a_row, 0), COALESCE(ls.time_total, 0)
FROM match_win mw
LEFT JOIN match_stats ws ON ws.match_id = mw.match_id AND ws.user_id = mw.winner_id
LEFT JOIN match_stats ls ON ls.match_id = mw.match_id AND ls.user_id = mw.loser_id`

const newestFirst = `ORDER BY CAST(SUBSTR(mw.match_id, 1, 13) AS BIGINT) DESC, mw.match_id DESC`

// PoolOptions tunes the pgx connection pool. Zero values keep pgxpool defaults.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store persists the match ledger and the achievement tables in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to Postgres and ensures the ledger tables exist.
func NewStore(ctx context.Context, databaseURL string, opts PoolOptions) (*Store, error) {
	if databaseURL == "" {
		return nil, errors.New("database url is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	slog.Info("connected to Postgres", "tag", "storage")
	return &Store{pool: pool}, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func txFailure(step string, err error) error {
	return matcherrors.Wrap(matcherrors.KindTransaction, step, err)
}

// InsertMatch writes the outcome row and both stat rows in one transaction.
// Re-inserting an identical record is a no-op reported as (false, nil); a
// different record under an existing match id is a conflict.
func (s *Store) InsertMatch(ctx context.Context, rec MatchRecord) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, txFailure("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO match_win (match_id, winner_id, loser_id) VALUES ($1, $2, $3) ON CONFLICT (match_id) DO NOTHING`,
		rec.MatchID, rec.WinnerID, rec.LoserID)
	if err != nil {
		return false, txFailure("insert outcome", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := getMatch(ctx, tx, rec.MatchID)
		if err != nil {
			return false, txFailure("load existing match", err)
		}
		if !existing.Same(rec) {
			return false, matcherrors.New(matcherrors.KindConflict,
				fmt.Sprintf("match %q already recorded with different content", rec.MatchID))
		}
		return false, nil
	}

	for _, row := range []struct {
		userID int64
		stat   PlayerStat
	}{{rec.WinnerID, rec.WinnerStat}, {rec.LoserID, rec.LoserStat}} {
		_, err = tx.Exec(ctx,
			`INSERT INTO match_stats (match_id, user_id, touched_balls, max_in_a_row, time_total) VALUES ($1, $2, $3, $4, $5)`,
			rec.MatchID, row.userID, row.stat.TouchedBalls, row.stat.MaxStreak, row.stat.Duration)
		if err != nil {
			return false, txFailure("insert stats", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, txFailure("commit", err)
	}
	return true, nil
}

func getMatch(ctx context.Context, q rowQuerier, matchID string) (MatchRecord, error) {
	var r MatchRecord
	err := q.QueryRow(ctx, selectMatchSQL+` WHERE mw.match_id = $1`, matchID).Scan(
		&r.MatchID, &r.WinnerID, &r.LoserID,
		&r.WinnerStat.TouchedBalls, &r.WinnerStat.MaxStreak, &r.WinnerStat.Duration,
		&r.LoserStat.TouchedBalls, &r.LoserStat.MaxStreak, &r.LoserStat.Duration)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MatchRecord{}, matcherrors.NotFoundf("match %q not found", matchID)
		}
		return MatchRecord{}, err
	}
	return r, nil
}

// GetMatch returns one outcome with both stat rows.
func (s *Store) GetMatch(ctx context.Context, matchID string) (MatchRecord, error) {
	return getMatch(ctx, s.pool, matchID)
}

// GetOutcome returns the match_win row only.
func (s *Store) GetOutcome(ctx context.Context, matchID string) (MatchOutcome, error) {
	var o MatchOutcome
	err := s.pool.QueryRow(ctx,
		`SELECT match_id, winner_id, loser_id FROM match_win WHERE match_id = $1`, matchID).
		Scan(&o.MatchID, &o.WinnerID, &o.LoserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MatchOutcome{}, matcherrors.NotFoundf("match %q not found", matchID)
		}
		return MatchOutcome{}, err
	}
	return o, nil
}

func (s *Store) scalar(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountMatches returns how many matches the user played.
func (s *Store) CountMatches(ctx context.Context, userID int64) (int64, error) {
	return s.scalar(ctx, `SELECT COUNT(*) FROM match_win WHERE winner_id = $1 OR loser_id = $1`, userID)
}

// CountWins returns how many matches the user won.
func (s *Store) CountWins(ctx context.Context, userID int64) (int64, error) {
	return s.scalar(ctx, `SELECT COUNT(*) FROM match_win WHERE winner_id = $1`, userID)
}

// CountLosses returns how many matches the user lost.
func (s *Store) CountLosses(ctx context.Context, userID int64) (int64, error) {
	return s.scalar(ctx, `SELECT COUNT(*) FROM match_win WHERE loser_id = $1`, userID)
}

// CountAllMatches returns the size of the ledger.
func (s *Store) CountAllMatches(ctx context.Context) (int64, error) {
	return s.scalar(ctx, `SELECT COUNT(*) FROM match_win`)
}

// CountPlayers returns the number of distinct players that appear in the ledger.
func (s *Store) CountPlayers(ctx context.Context) (int64, error) {
	return s.scalar(ctx, `
		SELECT COUNT(*) FROM (
			SELECT winner_id AS user_id FROM match_win
			UNION
			SELECT loser_id FROM match_win
		) p`)
}

func (s *Store) listMatches(ctx context.Context, query string, args ...any) ([]MatchRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []MatchRecord{}
	for rows.Next() {
		var r MatchRecord
		if err := rows.Scan(
			&r.MatchID, &r.WinnerID, &r.LoserID,
			&r.WinnerStat.TouchedBalls, &r.WinnerStat.MaxStreak, &r.WinnerStat.Duration,
			&r.LoserStat.TouchedBalls, &r.LoserStat.MaxStreak, &r.LoserStat.Duration); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListMatches returns one page of the global ledger, newest first.
func (s *Store) ListMatches(ctx context.Context, limit, offset int) ([]MatchRecord, error) {
	return s.listMatches(ctx, selectMatchSQL+` `+newestFirst+` LIMIT $1 OFFSET $2`, limit, offset)
}

// ListMatchesByUser returns one page of the user's matches, newest first.
func (s *Store) ListMatchesByUser(ctx context.Context, userID int64, limit, offset int) ([]MatchRecord, error) {
	return s.listMatches(ctx,
		selectMatchSQL+` WHERE mw.winner_id = $1 OR mw.loser_id = $1 `+newestFirst+` LIMIT $2 OFFSET $3`,
		userID, limit, offset)
}

// HeadToHead counts matches played strictly between the two players.
func (s *Store) HeadToHead(ctx context.Context, player1ID, player2ID int64) (HeadToHeadCounts, error) {
	var c HeadToHeadCounts
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN winner_id = $1 THEN 1 ELSE 0 END), 0)::BIGINT,
			COALESCE(SUM(CASE WHEN winner_id = $2 THEN 1 ELSE 0 END), 0)::BIGINT
		FROM match_win
		WHERE (winner_id = $1 AND loser_id = $2) OR (winner_id = $2 AND loser_id = $1)`,
		player1ID, player2ID).Scan(&c.Total, &c.Player1Wins, &c.Player2Wins)
	if err != nil {
		return HeadToHeadCounts{}, err
	}
	return c, nil
}

// SumTouchedBalls sums touched_balls over the user's stat rows.
func (s *Store) SumTouchedBalls(ctx context.Context, userID int64) (int64, error) {
	return s.scalar(ctx, `
		SELECT COALESCE(SUM(ms.touched_balls), 0)::BIGINT
		FROM match_stats ms JOIN match_win mw ON mw.match_id = ms.match_id
		WHERE ms.user_id = $1`, userID)
}

// MaxStreak returns the best max_in_a_row over the user's stat rows.
func (s *Store) MaxStreak(ctx context.Context, userID int64) (int64, error) {
	return s.scalar(ctx, `
		SELECT COALESCE(MAX(ms.max_in_a_row), 0)::BIGINT
		FROM match_stats ms JOIN match_win mw ON mw.match_id = ms.match_id
		WHERE ms.user_id = $1`, userID)
}

// SumDuration sums time_total over the user's stat rows.
func (s *Store) SumDuration(ctx context.Context, userID int64) (int64, error) {
	return s.scalar(ctx, `
		SELECT COALESCE(SUM(ms.time_total), 0)::BIGINT
		FROM match_stats ms JOIN match_win mw ON mw.match_id = ms.match_id
		WHERE ms.user_id = $1`, userID)
}

// SeedAchievements inserts definitions that are not present yet.
func (s *Store) SeedAchievements(ctx context.Context, defs []Achievement) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return txFailure("begin transaction", err)
	}
	defer tx.Rollback(ctx)
	for _, d := range defs {
		_, err := tx.Exec(ctx, `
			INSERT INTO achievements (achievement_id, description, goal_type, goal_amount)
			VALUES ($1, $2, $3, $4) ON CONFLICT (achievement_id) DO NOTHING`,
			d.ID, d.Description, d.GoalType, d.GoalAmount)
		if err != nil {
			return txFailure("seed achievement "+d.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return txFailure("commit", err)
	}
	return nil
}

// GetAchievement returns one catalog definition.
func (s *Store) GetAchievement(ctx context.Context, achievementID string) (Achievement, error) {
	var a Achievement
	err := s.pool.QueryRow(ctx,
		`SELECT achievement_id, description, goal_type, goal_amount FROM achievements WHERE achievement_id = $1`,
		achievementID).Scan(&a.ID, &a.Description, &a.GoalType, &a.GoalAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Achievement{}, matcherrors.NotFoundf("achievement %q not found", achievementID)
		}
		return Achievement{}, err
	}
	return a, nil
}

func (s *Store) listAchievements(ctx context.Context, query string, args ...any) ([]Achievement, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Achievement{}
	for rows.Next() {
		var a Achievement
		if err := rows.Scan(&a.ID, &a.Description, &a.GoalType, &a.GoalAmount); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAchievements returns the catalog ordered by goal type, then goal amount.
func (s *Store) ListAchievements(ctx context.Context) ([]Achievement, error) {
	return s.listAchievements(ctx, `
		SELECT achievement_id, description, goal_type, goal_amount
		FROM achievements ORDER BY goal_type, goal_amount, achievement_id`)
}

// ListAchievementsByType returns definitions of one goal type ordered by goal amount.
func (s *Store) ListAchievementsByType(ctx context.Context, goalType string) ([]Achievement, error) {
	return s.listAchievements(ctx, `
		SELECT achievement_id, description, goal_type, goal_amount
		FROM achievements WHERE goal_type = $1 ORDER BY goal_amount, achievement_id`, goalType)
}

// InsertUserAchievement records an unlock unless the pair already exists.
func (s *Store) InsertUserAchievement(ctx context.Context, userID int64, achievementID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_achievements (user_id, achievement_id, achieved_at)
		VALUES ($1, $2, $3) ON CONFLICT (user_id, achievement_id) DO NOTHING`,
		userID, achievementID, at.UTC())
	return err
}

// HasUserAchievement reports whether the user unlocked the achievement.
func (s *Store) HasUserAchievement(ctx context.Context, userID int64, achievementID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_achievements WHERE user_id = $1 AND achievement_id = $2)`,
		userID, achievementID).Scan(&ok)
	return ok, err
}

// ListUserAchievements returns the user's unlocks; empty when there are none.
func (s *Store) ListUserAchievements(ctx context.Context, userID int64) ([]UserAchievement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, achievement_id, achieved_at
		FROM user_achievements WHERE user_id = $1
		ORDER BY achieved_at, achievement_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []UserAchievement{}
	for rows.Next() {
		var ua UserAchievement
		if err := rows.Scan(&ua.UserID, &ua.AchievementID, &ua.AchievedAt); err != nil {
			return nil, err
		}
		ua.AchievedAt = ua.AchievedAt.UTC()
		out = append(out, ua)
	}
	return out, rows.Err()
}

// CountUserAchievements returns the total number of unlocks across all users.
func (s *Store) CountUserAchievements(ctx context.Context) (int64, error) {
	return s.scalar(ctx, `SELECT COUNT(*) FROM user_achievements`)
}
