package storage

import "time"

// PlayerStat is one participant's performance in a single match.
type PlayerStat struct {
	TouchedBalls int64 `json:"touched_balls"`
	MaxStreak    int64 `json:"max_streak"`
	Duration     int64 `json:"duration"`
}

// MatchOutcome is the winner/loser pairing of one match (match_win row).
type MatchOutcome struct {
	MatchID  string `json:"match_id"`
	WinnerID int64  `json:"winner_id"`
	LoserID  int64  `json:"loser_id"`
}

// MatchRecord is an outcome together with both participants' stat rows.
// Reads fill missing stat rows with zero values.
type MatchRecord struct {
	MatchOutcome
	WinnerStat PlayerStat `json:"winner_stats"`
	LoserStat  PlayerStat `json:"loser_stats"`
}

// Same reports whether two records describe the identical ledger entry.
func (r MatchRecord) Same(other MatchRecord) bool {
	return r.MatchOutcome == other.MatchOutcome &&
		r.WinnerStat == other.WinnerStat &&
		r.LoserStat == other.LoserStat
}

// HeadToHeadCounts holds raw counts of matches between two players.
type HeadToHeadCounts struct {
	Total       int64
	Player1Wins int64
	Player2Wins int64
}

// Achievement is one catalog definition.
type Achievement struct {
	ID          string `json:"achievement_id"`
	Description string `json:"description"`
	GoalType    string `json:"goal_type"`
	GoalAmount  int64  `json:"goal_amount"`
}

// UserAchievement records when a user unlocked an achievement.
type UserAchievement struct {
	UserID        int64     `json:"user_id"`
	AchievementID string    `json:"achievement_id"`
	AchievedAt    time.Time `json:"achieved_at"`
}
