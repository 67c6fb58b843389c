// Package sqlite provides a SQLite-backed match ledger for single-node
// deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"match-stats-server/matcherrors"
	"match-stats-server/storage"
)

//go:embed schema.sql
var schemaSQL string

const selectMatchSQL = `
SELECT mw.match_id, mw.winner_id, mw.loser_id,
	COALESCE(ws.touched_balls, 0), COALESCE(ws.max_in_a_row, 0), COALESCE(ws.time_total, 0),
	COALESCE(ls.touched_balls, 0), COALESCE(ls.max_in_a_row, 0), COALESCE(ls.time_total, 0)
FROM match_win mw
LEFT JOIN match_stats ws ON ws.match_id = mw.match_id AND ws.user_id = mw.winner_id
LEFT JOIN match_stats ls ON ls.match_id = mw.match_id AND ls.user_id = mw.loser_id`

const newestFirst = `ORDER BY CAST(SUBSTR(mw.match_id, 1, 13) AS INTEGER) DESC, mw.match_id DESC`

// Store persists the match ledger in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.StatsStore = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite ledger and creates its tables.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func txFailure(step string, err error) error {
	return matcherrors.Wrap(matcherrors.KindTransaction, step, err)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InsertMatch writes the outcome row and both stat rows in one transaction.
// Re-inserting an identical record is a no-op reported as (false, nil); a
// different record under an existing match id is a conflict.
func (s *Store) InsertMatch(ctx context.Context, rec storage.MatchRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, txFailure("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO match_win (match_id, winner_id, loser_id) VALUES (?, ?, ?) ON CONFLICT (match_id) DO NOTHING`,
		rec.MatchID, rec.WinnerID, rec.LoserID)
	if err != nil {
		return false, txFailure("insert outcome", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, txFailure("insert outcome", err)
	}
	if inserted == 0 {
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
		stat   storage.PlayerStat
	}{{rec.WinnerID, rec.WinnerStat}, {rec.LoserID, rec.LoserStat}} {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO match_stats (match_id, user_id, touched_balls, max_in_a_row, time_total) VALUES (?, ?, ?, ?, ?)`,
			rec.MatchID, row.userID, row.stat.TouchedBalls, row.stat.MaxStreak, row.stat.Duration)
		if err != nil {
			if isUniqueViolation(err) {
				return false, matcherrors.Wrap(matcherrors.KindConflict, "insert stats", err)
			}
			return false, txFailure("insert stats", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, txFailure("commit", err)
	}
	return true, nil
}

func scanMatch(scan func(dest ...any) error) (storage.MatchRecord, error) {
	var r storage.MatchRecord
	err := scan(
		&r.MatchID, &r.WinnerID, &r.LoserID,
		&r.WinnerStat.TouchedBalls, &r.WinnerStat.MaxStreak, &r.WinnerStat.Duration,
		&r.LoserStat.TouchedBalls, &r.LoserStat.MaxStreak, &r.LoserStat.Duration)
	return r, err
}

func getMatch(ctx context.Context, q rowQuerier, matchID string) (storage.MatchRecord, error) {
	r, err := scanMatch(q.QueryRowContext(ctx, selectMatchSQL+` WHERE mw.match_id = ?`, matchID).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MatchRecord{}, matcherrors.NotFoundf("match %q not found", matchID)
		}
		return storage.MatchRecord{}, fmt.Errorf("get match: %w", err)
	}
	return r, nil
}

// GetMatch returns one outcome with both stat rows.
func (s *Store) GetMatch(ctx context.Context, matchID string) (storage.MatchRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.MatchRecord{}, err
	}
	return getMatch(ctx, s.sqlDB, matchID)
}

// GetOutcome returns the match_win row only.
func (s *Store) GetOutcome(ctx context.Context, matchID string) (storage.MatchOutcome, error) {
	if err := ctx.Err(); err != nil {
		return storage.MatchOutcome{}, err
	}
	var o storage.MatchOutcome
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT match_id, winner_id, loser_id FROM match_win WHERE match_id = ?`, matchID).
		Scan(&o.MatchID, &o.WinnerID, &o.LoserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MatchOutcome{}, matcherrors.NotFoundf("match %q not found", matchID)
		}
		return storage.MatchOutcome{}, fmt.Errorf("get outcome: %w", err)
	}
	return o, nil
}

func (s *Store) scalar(ctx context.Context, query string, args ...any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	if err := s.sqlDB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountMatches returns how many matches the user played.
func (s *Store) CountMatches(ctx context.Context, userID int64) (int64, error) {
	return s.scalar(ctx, `SELECT COUNT(*) FROM match_win WHERE winner_id = ? OR loser_id = ?`, userID, userID)
}

// CountWins returns how many matches the user won.
func (s *Store) CountWins(ctx context.Context, userID int64) (int64, error) {
	return s.scalar(ctx, `SELECT COUNT(*) FROM match_win WHERE winner_id = ?`, userID)
}

// CountLosses returns how many matches the user lost.
func (s *Store) CountLosses(ctx context.Context, userID int64) (int64, error) {
	return s.scalar(ctx, `SELECT COUNT(*) FROM match_win WHERE loser_id = ?`, userID)
}

// CountAllMatches returns the size of the ledger.
func (s *Store) CountAllMatches(ctx context.Context) (int64, error) {
	return s.scalar(ctx, `SELECT COUNT(*) FROM match_win`)
}

// CountPlayers returns the number of distinct players in the ledger.
func (s *Store) CountPlayers(ctx context.Context) (int64, error) {
	return s.scalar(ctx, `
		SELECT COUNT(*) FROM (
			SELECT winner_id AS user_id FROM match_win
			UNION
			SELECT loser_id FROM match_win
		)`)
}

func (s *Store) listMatches(ctx context.Context, query string, args ...any) ([]storage.MatchRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()
	out := []storage.MatchRecord{}
	for rows.Next() {
		r, err := scanMatch(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListMatches returns one page of the global ledger, newest first.
func (s *Store) ListMatches(ctx context.Context, limit, offset int) ([]storage.MatchRecord, error) {
	return s.listMatches(ctx, selectMatchSQL+` `+newestFirst+` LIMIT ? OFFSET ?`, limit, offset)
}

// ListMatchesByUser returns one page of the user's matches, newest first.
func (s *Store) ListMatchesByUser(ctx context.Context, userID int64, limit, offset int) ([]storage.MatchRecord, error) {
	return s.listMatches(ctx,
		selectMatchSQL+` WHERE mw.winner_id = ? OR mw.loser_id = ? `+newestFirst+` LIMIT ? OFFSET ?`,
		userID, userID, limit, offset)
}

// HeadToHead counts matches played strictly between the two players.
func (s *Store) HeadToHead(ctx context.Context, player1ID, player2ID int64) (storage.HeadToHeadCounts, error) {
	if err := ctx.Err(); err != nil {
		return storage.HeadToHeadCounts{}, err
	}
	var c storage.HeadToHeadCounts
	err := s.sqlDB.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN winner_id = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN winner_id = ? THEN 1 ELSE 0 END), 0)
		FROM match_win
		WHERE (winner_id = ? AND loser_id = ?) OR (winner_id = ? AND loser_id = ?)`,
		player1ID, player2ID, player1ID, player2ID, player2ID, player1ID).Scan(&c.Total, &c.Player1Wins, &c.Player2Wins)
	if err != nil {
		return storage.HeadToHeadCounts{}, fmt.Errorf("head to head: %w", err)
	}
	return c, nil
}

// SumTouchedBalls sums touched_balls over the user's stat rows.
func (s *Store) SumTouchedBalls(ctx context.Context, userID int64) (int64, error) {
	return s.scalar(ctx, `
		SELECT COALESCE(SUM(ms.touched_balls), 0)
		FROM match_stats ms JOIN match_win mw ON mw.match_id = ms.match_id
		WHERE ms.user_id = ?`, userID)
}

// MaxStreak returns the best max_in_a_row over the user's stat rows.
func (s *Store) MaxStreak(ctx context.Context, userID int64) (int64, error) {
	return s.scalar(ctx, `
		SELECT COALESCE(MAX(ms.max_in_a_row), 0)
		FROM match_stats ms JOIN match_win mw ON mw.match_id = ms.match_id
		WHERE ms.user_id = ?`, userID)
}

// SumDuration sums time_total over the user's stat rows.
func (s *Store) SumDuration(ctx context.Context, userID int64) (int64, error) {
	return s.scalar(ctx, `
		SELECT COALESCE(SUM(ms.time_total), 0)
		FROM match_stats ms JOIN match_win mw ON mw.match_id = ms.match_id
		WHERE ms.user_id = ?`, userID)
}
