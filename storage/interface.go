package storage

import (
	"context"
	"time"
)

// LedgerStore persists match outcomes with their per-player stats and answers
// aggregate queries over them.
type LedgerStore interface {
	// InsertMatch reports false when an identical record was already stored.
	InsertMatch(ctx context.Context, rec MatchRecord) (bool, error)

	// Point reads
	GetOutcome(ctx context.Context, matchID string) (MatchOutcome, error)
	GetMatch(ctx context.Context, matchID string) (MatchRecord, error)

	// Counts (zero for unknown players)
	CountMatches(ctx context.Context, userID int64) (int64, error)
	CountWins(ctx context.Context, userID int64) (int64, error)
	CountLosses(ctx context.Context, userID int64) (int64, error)
	CountAllMatches(ctx context.Context) (int64, error)
	CountPlayers(ctx context.Context) (int64, error)

	// Pages, newest first
	ListMatches(ctx context.Context, limit, offset int) ([]MatchRecord, error)
	ListMatchesByUser(ctx context.Context, userID int64, limit, offset int) ([]MatchRecord, error)

	HeadToHead(ctx context.Context, player1ID, player2ID int64) (HeadToHeadCounts, error)

	// Per-user aggregates over the user's own stat rows
	SumTouchedBalls(ctx context.Context, userID int64) (int64, error)
	MaxStreak(ctx context.Context, userID int64) (int64, error)
	SumDuration(ctx context.Context, userID int64) (int64, error)
}

// CatalogStore holds achievement definitions.
type CatalogStore interface {
	// SeedAchievements inserts each definition unless one with the same id exists.
	SeedAchievements(ctx context.Context, defs []Achievement) error
	GetAchievement(ctx context.Context, achievementID string) (Achievement, error)
	// ListAchievements returns all definitions ordered by goal type, then goal amount.
	ListAchievements(ctx context.Context) ([]Achievement, error)
	ListAchievementsByType(ctx context.Context, goalType string) ([]Achievement, error)
}

// UnlockStore is the append-only user/achievement join.
type UnlockStore interface {
	// InsertUserAchievement is a no-op when the pair already exists.
	InsertUserAchievement(ctx context.Context, userID int64, achievementID string, at time.Time) error
	HasUserAchievement(ctx context.Context, userID int64, achievementID string) (bool, error)
	ListUserAchievements(ctx context.Context, userID int64) ([]UserAchievement, error)
	CountUserAchievements(ctx context.Context) (int64, error)
}

// StatsStore is the full persistence surface a backend provides.
type StatsStore interface {
	LedgerStore
	CatalogStore
	UnlockStore

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// Ensure *Store implements StatsStore at compile time.
var _ StatsStore = (*Store)(nil)
