// Package achievement holds the achievement catalog and the engine that turns
// ledger aggregates into progress and unlocks.
package achievement

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"match-stats-server/matcherrors"
	"match-stats-server/storage"
)

// GoalType is the criterion an achievement measures.
type GoalType string

const (
	GoalWins         GoalType = "wins"
	GoalTouchedBalls GoalType = "touched_balls"
	GoalMaxStreak    GoalType = "max_streak"
	GoalPlayTime     GoalType = "play_time"
)

// GoalTypes lists every known goal type in catalog order.
var GoalTypes = []GoalType{GoalMaxStreak, GoalPlayTime, GoalTouchedBalls, GoalWins}

// Valid reports whether g is a known goal type.
func (g GoalType) Valid() bool {
	_, ok := rules[g]
	return ok
}

// ParseGoalType returns the goal type named s.
func ParseGoalType(s string) (GoalType, error) {
	g := GoalType(strings.TrimSpace(s))
	if !g.Valid() {
		return "", matcherrors.Validationf("unknown goal type %q", s)
	}
	return g, nil
}

// DefaultDefinitions returns the built-in catalog.
func DefaultDefinitions() []storage.Achievement {
	return []storage.Achievement{
		{ID: "first_win", Description: "First Victory", GoalType: string(GoalWins), GoalAmount: 1},
		{ID: "win_master", Description: "Win Master", GoalType: string(GoalWins), GoalAmount: 10},
		{ID: "pong_champion", Description: "Pong Champion", GoalType: string(GoalWins), GoalAmount: 50},
		{ID: "ball_rookie", Description: "Ball Rookie", GoalType: string(GoalTouchedBalls), GoalAmount: 100},
		{ID: "ball_expert", Description: "Ball Expert", GoalType: string(GoalTouchedBalls), GoalAmount: 500},
		{ID: "ball_master", Description: "Ball Master", GoalType: string(GoalTouchedBalls), GoalAmount: 1000},
		{ID: "steady_hand", Description: "Steady Hand", GoalType: string(GoalMaxStreak), GoalAmount: 5},
		{ID: "unstoppable", Description: "Unstoppable", GoalType: string(GoalMaxStreak), GoalAmount: 10},
		{ID: "legendary_streak", Description: "Legendary Streak", GoalType: string(GoalMaxStreak), GoalAmount: 20},
		{ID: "rookie_player", Description: "Rookie Player", GoalType: string(GoalPlayTime), GoalAmount: 60},
		{ID: "dedicated_player", Description: "Dedicated Player", GoalType: string(GoalPlayTime), GoalAmount: 300},
		{ID: "pong_veteran", Description: "Pong Veteran", GoalType: string(GoalPlayTime), GoalAmount: 1800},
	}
}

// ValidateDefinition checks one catalog entry.
func ValidateDefinition(d storage.Achievement) error {
	if strings.TrimSpace(d.ID) == "" {
		return matcherrors.Validationf("achievement id is required")
	}
	if !GoalType(d.GoalType).Valid() {
		return matcherrors.Validationf("achievement %q: unknown goal type %q", d.ID, d.GoalType)
	}
	if d.GoalAmount <= 0 {
		return matcherrors.Validationf("achievement %q: goal amount must be positive, got %d", d.ID, d.GoalAmount)
	}
	return nil
}

// LoadDefinitions decodes a JSON array of definitions and validates each one.
func LoadDefinitions(r io.Reader) ([]storage.Achievement, error) {
	var defs []storage.Achievement
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&defs); err != nil {
		return nil, matcherrors.Wrap(matcherrors.KindValidation, "decode achievement definitions", err)
	}
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if err := ValidateDefinition(d); err != nil {
			return nil, err
		}
		if seen[d.ID] {
			return nil, matcherrors.Validationf("achievement %q defined twice", d.ID)
		}
		seen[d.ID] = true
	}
	return defs, nil
}

// Catalog is the set of achievement definitions.
type Catalog struct {
	store storage.CatalogStore
}

// NewCatalog returns a Catalog backed by store.
func NewCatalog(store storage.CatalogStore) *Catalog {
	return &Catalog{store: store}
}

// Seed inserts each definition that is not present yet. Existing definitions
// are left untouched.
func (c *Catalog) Seed(ctx context.Context, defs []storage.Achievement) error {
	for _, d := range defs {
		if err := ValidateDefinition(d); err != nil {
			return err
		}
	}
	if err := c.store.SeedAchievements(ctx, defs); err != nil {
		return fmt.Errorf("seed achievements: %w", err)
	}
	slog.Info("achievement catalog seeded", "tag", "achievement", "definitions", len(defs))
	return nil
}

// SeedDefaults seeds DefaultDefinitions.
func (c *Catalog) SeedDefaults(ctx context.Context) error {
	return c.Seed(ctx, DefaultDefinitions())
}

// Get returns one definition.
func (c *Catalog) Get(ctx context.Context, achievementID string) (storage.Achievement, error) {
	return c.store.GetAchievement(ctx, achievementID)
}

// List returns every definition ordered by goal type, then goal amount.
func (c *Catalog) List(ctx context.Context) ([]storage.Achievement, error) {
	return c.store.ListAchievements(ctx)
}

// ListByType returns the definitions of one goal type ordered by goal amount.
func (c *Catalog) ListByType(ctx context.Context, goalType string) ([]storage.Achievement, error) {
	g, err := ParseGoalType(goalType)
	if err != nil {
		return nil, err
	}
	return c.store.ListAchievementsByType(ctx, string(g))
}
