// Package ledger records match outcomes and answers per-player counts.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"match-stats-server/matcherrors"
	"match-stats-server/storage"
	"match-stats-server/telemetry"
)

// Observer is notified after a match has been committed.
type Observer interface {
	MatchRecorded(ctx context.Context, rec storage.MatchRecord)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, rec storage.MatchRecord)

// MatchRecorded calls f.
func (f ObserverFunc) MatchRecorded(ctx context.Context, rec storage.MatchRecord) { f(ctx, rec) }

// Ledger is the write path of the match ledger plus simple counts over it.
type Ledger struct {
	store     storage.LedgerStore
	ids       *storage.MatchIDGenerator
	observers []Observer
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithObserver registers an observer for committed matches.
func WithObserver(o Observer) Option {
	return func(l *Ledger) { l.observers = append(l.observers, o) }
}

// WithClock makes match ids read the given clock.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.ids = storage.NewMatchIDGenerator(now) }
}

// New returns a Ledger over store.
func New(store storage.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{store: store, ids: storage.NewMatchIDGenerator(nil)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Summary is a player's win/loss record.
type Summary struct {
	UserID       int64   `json:"user_id"`
	TotalMatches int64   `json:"total_matches"`
	Wins         int64   `json:"wins"`
	Losses       int64   `json:"losses"`
	WinRate      float64 `json:"win_rate"`
}

// GlobalSummary describes the whole ledger.
type GlobalSummary struct {
	TotalMatches int64 `json:"total_matches"`
	TotalPlayers int64 `json:"total_players"`
}

func validate(winnerID, loserID int64, winnerStat, loserStat storage.PlayerStat) error {
	if winnerID <= 0 || loserID <= 0 {
		return matcherrors.Validationf("player ids must be positive (winner=%d, loser=%d)", winnerID, loserID)
	}
	if winnerID == loserID {
		return matcherrors.Validationf("winner and loser must differ (both %d)", winnerID)
	}
	for _, s := range []struct {
		who  string
		stat storage.PlayerStat
	}{{"winner", winnerStat}, {"loser", loserStat}} {
		if s.stat.TouchedBalls < 0 || s.stat.MaxStreak < 0 || s.stat.Duration < 0 {
			return matcherrors.Validationf("%s stats must be non-negative: %+v", s.who, s.stat)
		}
	}
	return nil
}

// RecordOutcome validates and stores one match under a fresh match id.
func (l *Ledger) RecordOutcome(ctx context.Context, winnerID, loserID int64, winnerStat, loserStat storage.PlayerStat) (string, error) {
	if err := validate(winnerID, loserID, winnerStat, loserStat); err != nil {
		return "", err
	}
	matchID := l.ids.Next()
	if err := l.write(ctx, matchID, winnerID, loserID, winnerStat, loserStat); err != nil {
		return "", err
	}
	return matchID, nil
}

// RecordOutcomeWithID stores one match under a caller-supplied id.
// Repeating the identical call is a no-op; different content under the same id
// is a conflict.
func (l *Ledger) RecordOutcomeWithID(ctx context.Context, matchID string, winnerID, loserID int64, winnerStat, loserStat storage.PlayerStat) error {
	if _, ok := storage.MatchIDTimestamp(matchID); !ok {
		return matcherrors.Validationf("match id %q must start with a %d-digit millisecond timestamp", matchID, storage.MatchIDPrefixLen)
	}
	if len(matchID) > storage.MaxMatchIDLen {
		return matcherrors.Validationf("match id is %d characters, at most %d allowed", len(matchID), storage.MaxMatchIDLen)
	}
	if err := validate(winnerID, loserID, winnerStat, loserStat); err != nil {
		return err
	}
	return l.write(ctx, matchID, winnerID, loserID, winnerStat, loserStat)
}

func (l *Ledger) write(ctx context.Context, matchID string, winnerID, loserID int64, winnerStat, loserStat storage.PlayerStat) (err error) {
	ctx, span := telemetry.Start(ctx, "ledger.RecordOutcome",
		attribute.String("match.id", matchID),
		attribute.Int64("match.winner_id", winnerID),
		attribute.Int64("match.loser_id", loserID))
	defer func() { telemetry.End(span, err) }()

	rec := storage.MatchRecord{
		MatchOutcome: storage.MatchOutcome{MatchID: matchID, WinnerID: winnerID, LoserID: loserID},
		WinnerStat:   winnerStat,
		LoserStat:    loserStat,
	}
	inserted, err := l.store.InsertMatch(ctx, rec)
	if err != nil {
		slog.Error("recording match", "tag", "ledger", "match_id", matchID, "err", err)
		return err
	}
	if !inserted {
		slog.Debug("match already recorded", "tag", "ledger", "match_id", matchID)
		return nil
	}
	slog.Debug("match recorded", "tag", "ledger", "match_id", matchID, "winner", winnerID, "loser", loserID)
	for _, o := range l.observers {
		o.MatchRecorded(ctx, rec)
	}
	return nil
}

// GetOutcome returns the winner/loser pairing of a match.
func (l *Ledger) GetOutcome(ctx context.Context, matchID string) (storage.MatchOutcome, error) {
	return l.store.GetOutcome(ctx, matchID)
}

// CountMatchesForPlayer returns how many matches the user played.
func (l *Ledger) CountMatchesForPlayer(ctx context.Context, userID int64) (int64, error) {
	return l.store.CountMatches(ctx, userID)
}

// CountWinsForPlayer returns how many matches the user won.
func (l *Ledger) CountWinsForPlayer(ctx context.Context, userID int64) (int64, error) {
	return l.store.CountWins(ctx, userID)
}

// CountLossesForPlayer returns how many matches the user lost.
func (l *Ledger) CountLossesForPlayer(ctx context.Context, userID int64) (int64, error) {
	return l.store.CountLosses(ctx, userID)
}

// PlayerSummary returns the user's totals and win rate (percentage, 0 with no matches).
func (l *Ledger) PlayerSummary(ctx context.Context, userID int64) (Summary, error) {
	wins, err := l.store.CountWins(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	losses, err := l.store.CountLosses(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{UserID: userID, TotalMatches: wins + losses, Wins: wins, Losses: losses}
	if s.TotalMatches > 0 {
		s.WinRate = float64(wins) / float64(s.TotalMatches) * 100
	}
	return s, nil
}

// GlobalSummary returns the number of matches and distinct players.
func (l *Ledger) GlobalSummary(ctx context.Context) (GlobalSummary, error) {
	matches, err := l.store.CountAllMatches(ctx)
	if err != nil {
		return GlobalSummary{}, err
	}
	players, err := l.store.CountPlayers(ctx)
	if err != nil {
		return GlobalSummary{}, err
	}
	return GlobalSummary{TotalMatches: matches, TotalPlayers: players}, nil
}
