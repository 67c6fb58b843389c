// Package storagetest holds behaviour tests every storage.StatsStore backend must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"match-stats-server/matcherrors"
	"match-stats-server/storage"
)

// OpenFunc returns an empty store for one subtest. The store is closed by the caller's cleanup.
type OpenFunc func(t *testing.T) storage.StatsStore

// MatchID builds a match id with the given millisecond prefix.
func MatchID(ms int64, n int) string {
	return fmt.Sprintf("%0*d-%012x", storage.MatchIDPrefixLen, ms, n)
}

// Record builds a match record with the given stats.
func Record(id string, winner, loser int64, ws, ls storage.PlayerStat) storage.MatchRecord {
	return storage.MatchRecord{
		MatchOutcome: storage.MatchOutcome{MatchID: id, WinnerID: winner, LoserID: loser},
		WinnerStat:   ws,
		LoserStat:    ls,
	}
}

func mustInsert(t *testing.T, s storage.StatsStore, rec storage.MatchRecord) {
	t.Helper()
	if _, err := s.InsertMatch(context.Background(), rec); err != nil {
		t.Fatalf("insert %s: %v", rec.MatchID, err)
	}
}

// Run executes the suite against the backend returned by open.
func Run(t *testing.T, open OpenFunc) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.StatsStore)
	}{
		{"InsertAndGetMatch", testInsertAndGetMatch},
		{"ReinsertIdenticalIsNoop", testReinsertIdentical},
		{"ReinsertDifferentConflicts", testReinsertDifferent},
		{"UnknownMatchNotFound", testUnknownMatch},
		{"Counts", testCounts},
		{"ListMatchesNewestFirst", testListMatchesNewestFirst},
		{"ListMatchesByUser", testListMatchesByUser},
		{"HeadToHead", testHeadToHead},
		{"Aggregates", testAggregates},
		{"Catalog", testCatalog},
		{"Unlocks", testUnlocks},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, open(t))
		})
	}
}

func testInsertAndGetMatch(t *testing.T, s storage.StatsStore) {
	ctx := context.Background()
	rec := Record(MatchID(1700000000000, 1), 1, 2,
		storage.PlayerStat{TouchedBalls: 12, MaxStreak: 4, Duration: 90},
		storage.PlayerStat{TouchedBalls: 7, MaxStreak: 2, Duration: 90})
	mustInsert(t, s, rec)

	got, err := s.GetMatch(ctx, rec.MatchID)
	if err != nil {
		t.Fatalf("get match: %v", err)
	}
	if !got.Same(rec) {
		t.Fatalf("GetMatch = %+v, want %+v", got, rec)
	}
	out, err := s.GetOutcome(ctx, rec.MatchID)
	if err != nil {
		t.Fatalf("get outcome: %v", err)
	}
	if out != rec.MatchOutcome {
		t.Fatalf("GetOutcome = %+v, want %+v", out, rec.MatchOutcome)
	}
}

func testReinsertIdentical(t *testing.T, s storage.StatsStore) {
	ctx := context.Background()
	rec := Record(MatchID(1700000000000, 2), 1, 2, storage.PlayerStat{TouchedBalls: 3}, storage.PlayerStat{})
	inserted, err := s.InsertMatch(ctx, rec)
	if err != nil || !inserted {
		t.Fatalf("first insert = %v, %v; want true, nil", inserted, err)
	}
	inserted, err = s.InsertMatch(ctx, rec)
	if err != nil || inserted {
		t.Fatalf("retry = %v, %v; want false, nil", inserted, err)
	}

	n, err := s.CountAllMatches(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("CountAllMatches = %d, want 1", n)
	}
}

func testReinsertDifferent(t *testing.T, s storage.StatsStore) {
	ctx := context.Background()
	rec := Record(MatchID(1700000000000, 3), 1, 2, storage.PlayerStat{TouchedBalls: 3}, storage.PlayerStat{})
	mustInsert(t, s, rec)

	other := rec
	other.WinnerID, other.LoserID = 2, 1
	_, err := s.InsertMatch(ctx, other)
	if !errors.Is(err, matcherrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, err := s.GetMatch(ctx, rec.MatchID)
	if err != nil {
		t.Fatalf("get match: %v", err)
	}
	if !got.Same(rec) {
		t.Fatalf("stored record changed to %+v", got)
	}
}

func testUnknownMatch(t *testing.T, s storage.StatsStore) {
	ctx := context.Background()
	if _, err := s.GetMatch(ctx, "missing"); !errors.Is(err, matcherrors.ErrNotFound) {
		t.Fatalf("GetMatch: expected not found, got %v", err)
	}
	if _, err := s.GetOutcome(ctx, "missing"); !errors.Is(err, matcherrors.ErrNotFound) {
		t.Fatalf("GetOutcome: expected not found, got %v", err)
	}
}

func testCounts(t *testing.T, s storage.StatsStore) {
	ctx := context.Background()
	zero := storage.PlayerStat{}
	mustInsert(t, s, Record(MatchID(1700000000001, 1), 1, 2, zero, zero))
	mustInsert(t, s, Record(MatchID(1700000000002, 2), 1, 3, zero, zero))
	mustInsert(t, s, Record(MatchID(1700000000003, 3), 3, 1, zero, zero))

	checks := []struct {
		name string
		fn   func(context.Context, int64) (int64, error)
		user int64
		want int64
	}{
		{"matches(1)", s.CountMatches, 1, 3},
		{"wins(1)", s.CountWins, 1, 2},
		{"losses(1)", s.CountLosses, 1, 1},
		{"matches(2)", s.CountMatches, 2, 1},
		{"wins(2)", s.CountWins, 2, 0},
		{"matches(99)", s.CountMatches, 99, 0},
	}
	for _, c := range checks {
		got, err := c.fn(ctx, c.user)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if got != c.want {
			t.Errorf("%s = %d, want %d", c.name, got, c.want)
		}
	}

	all, err := s.CountAllMatches(ctx)
	if err != nil || all != 3 {
		t.Errorf("CountAllMatches = %d, %v; want 3", all, err)
	}
	players, err := s.CountPlayers(ctx)
	if err != nil || players != 3 {
		t.Errorf("CountPlayers = %d, %v; want 3", players, err)
	}
}

func testListMatchesNewestFirst(t *testing.T, s storage.StatsStore) {
	ctx := context.Background()
	zero := storage.PlayerStat{}
	// Inserted out of order.
	ids := []string{
		MatchID(1700000000200, 1),
		MatchID(1700000000100, 2),
		MatchID(1700000000300, 3),
	}
	for i, id := range ids {
		mustInsert(t, s, Record(id, int64(i+1), int64(i+10), zero, zero))
	}

	page, err := s.ListMatches(ctx, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].MatchID != ids[2] || page[1].MatchID != ids[0] {
		t.Fatalf("first page = %v", matchIDs(page))
	}
	page, err = s.ListMatches(ctx, 2, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 || page[0].MatchID != ids[1] {
		t.Fatalf("second page = %v", matchIDs(page))
	}
	page, err = s.ListMatches(ctx, 2, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page == nil || len(page) != 0 {
		t.Fatalf("past-the-end page = %#v, want empty slice", page)
	}
}

func testListMatchesByUser(t *testing.T, s storage.StatsStore) {
	ctx := context.Background()
	mustInsert(t, s, Record(MatchID(1700000000010, 1), 1, 2,
		storage.PlayerStat{TouchedBalls: 5}, storage.PlayerStat{TouchedBalls: 6}))
	mustInsert(t, s, Record(MatchID(1700000000020, 2), 3, 4,
		storage.PlayerStat{}, storage.PlayerStat{}))
	mustInsert(t, s, Record(MatchID(1700000000030, 3), 2, 1,
		storage.PlayerStat{TouchedBalls: 8}, storage.PlayerStat{TouchedBalls: 9}))

	page, err := s.ListMatchesByUser(ctx, 1, 10, 0)
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("len = %d, want 2", len(page))
	}
	if page[0].MatchID != MatchID(1700000000030, 3) {
		t.Fatalf("newest first violated: %v", matchIDs(page))
	}
	if page[0].LoserStat.TouchedBalls != 9 || page[1].WinnerStat.TouchedBalls != 5 {
		t.Fatalf("stats not joined: %+v", page)
	}

	none, err := s.ListMatchesByUser(ctx, 42, 10, 0)
	if err != nil {
		t.Fatalf("list by unknown user: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("unknown user page = %#v, want empty slice", none)
	}
}

func testHeadToHead(t *testing.T, s storage.StatsStore) {
	ctx := context.Background()
	zero := storage.PlayerStat{}
	mustInsert(t, s, Record(MatchID(1700000000001, 1), 1, 2, zero, zero))
	mustInsert(t, s, Record(MatchID(1700000000002, 2), 1, 2, zero, zero))
	mustInsert(t, s, Record(MatchID(1700000000003, 3), 2, 1, zero, zero))
	mustInsert(t, s, Record(MatchID(1700000000004, 4), 1, 3, zero, zero))

	got, err := s.HeadToHead(ctx, 1, 2)
	if err != nil {
		t.Fatalf("head to head: %v", err)
	}
	want := storage.HeadToHeadCounts{Total: 3, Player1Wins: 2, Player2Wins: 1}
	if got != want {
		t.Fatalf("HeadToHead(1,2) = %+v, want %+v", got, want)
	}
	got, err = s.HeadToHead(ctx, 2, 1)
	if err != nil {
		t.Fatalf("head to head: %v", err)
	}
	if got.Player1Wins != 1 || got.Player2Wins != 2 {
		t.Fatalf("HeadToHead(2,1) = %+v", got)
	}
	got, err = s.HeadToHead(ctx, 2, 3)
	if err != nil {
		t.Fatalf("head to head: %v", err)
	}
	if got != (storage.HeadToHeadCounts{}) {
		t.Fatalf("HeadToHead(2,3) = %+v, want zero", got)
	}
}

func testAggregates(t *testing.T, s storage.StatsStore) {
	ctx := context.Background()
	mustInsert(t, s, Record(MatchID(1700000000001, 1), 1, 2,
		storage.PlayerStat{TouchedBalls: 10, MaxStreak: 3, Duration: 60},
		storage.PlayerStat{TouchedBalls: 4, MaxStreak: 7, Duration: 60}))
	mustInsert(t, s, Record(MatchID(1700000000002, 2), 2, 1,
		storage.PlayerStat{TouchedBalls: 1, MaxStreak: 1, Duration: 30},
		storage.PlayerStat{TouchedBalls: 20, MaxStreak: 5, Duration: 30}))

	checks := []struct {
		name string
		fn   func(context.Context, int64) (int64, error)
		user int64
		want int64
	}{
		{"touched(1)", s.SumTouchedBalls, 1, 30},
		{"streak(1)", s.MaxStreak, 1, 5},
		{"duration(1)", s.SumDuration, 1, 90},
		{"touched(2)", s.SumTouchedBalls, 2, 5},
		{"streak(2)", s.MaxStreak, 2, 7},
		{"touched(99)", s.SumTouchedBalls, 99, 0},
		{"streak(99)", s.MaxStreak, 99, 0},
		{"duration(99)", s.SumDuration, 99, 0},
	}
	for _, c := range checks {
		got, err := c.fn(ctx, c.user)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if got != c.want {
			t.Errorf("%s = %d, want %d", c.name, got, c.want)
		}
	}
}

func testCatalog(t *testing.T, s storage.StatsStore) {
	ctx := context.Background()
	defs := []storage.Achievement{
		{ID: "win_master", Description: "Win Master", GoalType: "wins", GoalAmount: 10},
		{ID: "first_win", Description: "First Victory", GoalType: "wins", GoalAmount: 1},
		{ID: "ball_rookie", Description: "Ball Rookie", GoalType: "touched_balls", GoalAmount: 100},
	}
	if err := s.SeedAchievements(ctx, defs); err != nil {
		t.Fatalf("seed: %v", err)
	}
	changed := []storage.Achievement{{ID: "first_win", Description: "Renamed", GoalType: "wins", GoalAmount: 2}}
	if err := s.SeedAchievements(ctx, changed); err != nil {
		t.Fatalf("reseed: %v", err)
	}

	got, err := s.GetAchievement(ctx, "first_win")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Description != "First Victory" || got.GoalAmount != 1 {
		t.Fatalf("reseed overwrote definition: %+v", got)
	}
	if _, err := s.GetAchievement(ctx, "nope"); !errors.Is(err, matcherrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	all, err := s.ListAchievements(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	wantOrder := []string{"ball_rookie", "first_win", "win_master"}
	if len(all) != len(wantOrder) {
		t.Fatalf("len = %d, want %d", len(all), len(wantOrder))
	}
	for i, id := range wantOrder {
		if all[i].ID != id {
			t.Fatalf("ListAchievements[%d] = %s, want %s", i, all[i].ID, id)
		}
	}

	wins, err := s.ListAchievementsByType(ctx, "wins")
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(wins) != 2 || wins[0].ID != "first_win" {
		t.Fatalf("ListAchievementsByType(wins) = %+v", wins)
	}
	empty, err := s.ListAchievementsByType(ctx, "play_time")
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("ListAchievementsByType(play_time) = %#v, want empty slice", empty)
	}
}

func testUnlocks(t *testing.T, s storage.StatsStore) {
	ctx := context.Background()
	at := time.Date(2026, time.March, 4, 12, 30, 15, 250_000_000, time.UTC)

	none, err := s.ListUserAchievements(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("ListUserAchievements = %#v, want empty slice", none)
	}

	if err := s.InsertUserAchievement(ctx, 1, "first_win", at); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertUserAchievement(ctx, 1, "first_win", at.Add(time.Hour)); err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}

	has, err := s.HasUserAchievement(ctx, 1, "first_win")
	if err != nil || !has {
		t.Fatalf("HasUserAchievement = %v, %v", has, err)
	}
	has, err = s.HasUserAchievement(ctx, 2, "first_win")
	if err != nil || has {
		t.Fatalf("HasUserAchievement(other user) = %v, %v", has, err)
	}

	list, err := s.ListUserAchievements(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1", len(list))
	}
	if !list[0].AchievedAt.Equal(at) {
		t.Fatalf("AchievedAt = %v, want %v (first unlock kept)", list[0].AchievedAt, at)
	}

	n, err := s.CountUserAchievements(ctx)
	if err != nil || n != 1 {
		t.Fatalf("CountUserAchievements = %d, %v; want 1", n, err)
	}
}

func matchIDs(recs []storage.MatchRecord) []string {
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.MatchID)
	}
	return ids
}
