package achievement

import (
	"context"

	"match-stats-server/storage"
)

// LedgerReader is the slice of the ledger the rules aggregate over.
type LedgerReader interface {
	CountWins(ctx context.Context, userID int64) (int64, error)
	SumTouchedBalls(ctx context.Context, userID int64) (int64, error)
	MaxStreak(ctx context.Context, userID int64) (int64, error)
	SumDuration(ctx context.Context, userID int64) (int64, error)
}

var _ LedgerReader = (storage.LedgerStore)(nil)

// Rule computes a user's current progress for one goal type.
type Rule func(ctx context.Context, ledger LedgerReader, userID int64) (int64, error)

var rules = map[GoalType]Rule{
	GoalWins: func(ctx context.Context, l LedgerReader, userID int64) (int64, error) {
		return l.CountWins(ctx, userID)
	},
	GoalTouchedBalls: func(ctx context.Context, l LedgerReader, userID int64) (int64, error) {
		return l.SumTouchedBalls(ctx, userID)
	},
	GoalMaxStreak: func(ctx context.Context, l LedgerReader, userID int64) (int64, error) {
		return l.MaxStreak(ctx, userID)
	},
	GoalPlayTime: func(ctx context.Context, l LedgerReader, userID int64) (int64, error) {
		return l.SumDuration(ctx, userID)
	},
}

// ruleFor returns the rule for g. Unknown goal types measure nothing.
func ruleFor(g GoalType) Rule {
	if r, ok := rules[g]; ok {
		return r
	}
	return func(context.Context, LedgerReader, int64) (int64, error) { return 0, nil }
}
