package achievement

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"match-stats-server/matcherrors"
	"match-stats-server/storage"
	"match-stats-server/storage/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "achievements.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDefaultDefinitions(t *testing.T) {
	defs := DefaultDefinitions()
	if len(defs) != 12 {
		t.Fatalf("len = %d, want 12", len(defs))
	}
	perType := map[string]int{}
	seen := map[string]bool{}
	for _, d := range defs {
		if err := ValidateDefinition(d); err != nil {
			t.Errorf("invalid default %q: %v", d.ID, err)
		}
		if seen[d.ID] {
			t.Errorf("duplicate id %q", d.ID)
		}
		seen[d.ID] = true
		perType[d.GoalType]++
	}
	for _, g := range GoalTypes {
		if perType[string(g)] != 3 {
			t.Errorf("goal type %s has %d definitions, want 3", g, perType[string(g)])
		}
	}
}

func TestCatalogSeedIsIdempotent(t *testing.T) {
	c := NewCatalog(openStore(t))
	ctx := context.Background()

	if err := c.SeedDefaults(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := c.SeedDefaults(ctx); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	all, err := c.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 12 {
		t.Fatalf("len = %d after reseed, want 12", len(all))
	}
	for i := 1; i < len(all); i++ {
		a, b := all[i-1], all[i]
		if a.GoalType > b.GoalType || (a.GoalType == b.GoalType && a.GoalAmount > b.GoalAmount) {
			t.Fatalf("list out of order at %d: %s/%d before %s/%d", i, a.GoalType, a.GoalAmount, b.GoalType, b.GoalAmount)
		}
	}
}

func TestCatalogSeedRejectsInvalid(t *testing.T) {
	c := NewCatalog(openStore(t))
	tests := []storage.Achievement{
		{ID: "", GoalType: "wins", GoalAmount: 1},
		{ID: "x", GoalType: "jumps", GoalAmount: 1},
		{ID: "x", GoalType: "wins", GoalAmount: 0},
	}
	for _, d := range tests {
		if err := c.Seed(context.Background(), []storage.Achievement{d}); !errors.Is(err, matcherrors.ErrValidation) {
			t.Errorf("Seed(%+v) err = %v", d, err)
		}
	}
}

func TestCatalogLookups(t *testing.T) {
	c := NewCatalog(openStore(t))
	ctx := context.Background()
	if err := c.SeedDefaults(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	d, err := c.Get(ctx, "steady_hand")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d.GoalType != string(GoalMaxStreak) || d.GoalAmount != 5 {
		t.Fatalf("steady_hand = %+v", d)
	}
	if _, err := c.Get(ctx, "nope"); !errors.Is(err, matcherrors.ErrNotFound) {
		t.Fatalf("unknown id: %v", err)
	}

	playTime, err := c.ListByType(ctx, "play_time")
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(playTime) != 3 || playTime[0].ID != "rookie_player" || playTime[2].ID != "pong_veteran" {
		t.Fatalf("play_time = %+v", playTime)
	}
	if _, err := c.ListByType(ctx, "jumps"); !errors.Is(err, matcherrors.ErrValidation) {
		t.Fatalf("unknown type: %v", err)
	}
}

func TestLoadDefinitions(t *testing.T) {
	good := `[{"achievement_id":"marathon","description":"Marathon","goal_type":"play_time","goal_amount":7200}]`
	defs, err := LoadDefinitions(strings.NewReader(good))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs) != 1 || defs[0].ID != "marathon" || defs[0].GoalAmount != 7200 {
		t.Fatalf("defs = %+v", defs)
	}

	bad := map[string]string{
		"not json":      `{`,
		"unknown field": `[{"achievement_id":"a","goal_type":"wins","goal_amount":1,"points":5}]`,
		"bad amount":    `[{"achievement_id":"a","goal_type":"wins","goal_amount":-1}]`,
		"duplicate":     `[{"achievement_id":"a","goal_type":"wins","goal_amount":1},{"achievement_id":"a","goal_type":"wins","goal_amount":2}]`,
	}
	for name, input := range bad {
		if _, err := LoadDefinitions(strings.NewReader(input)); !errors.Is(err, matcherrors.ErrValidation) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}
