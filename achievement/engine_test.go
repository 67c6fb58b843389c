package achievement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"match-stats-server/matcherrors"
	"match-stats-server/storage"
	"match-stats-server/storage/sqlite"
)

type fixture struct {
	store  *sqlite.Store
	engine *Engine
	seq    int64
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	store := openStore(t)
	if err := NewCatalog(store).SeedDefaults(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return &fixture{store: store, engine: NewEngine(store, store, store, opts...)}
}

func (f *fixture) play(t *testing.T, winner, loser int64, ws, ls storage.PlayerStat) {
	t.Helper()
	f.seq++
	rec := storage.MatchRecord{
		MatchOutcome: storage.MatchOutcome{
			MatchID:  fmt.Sprintf("%013d-%012d", 1700000000000+f.seq, f.seq),
			WinnerID: winner,
			LoserID:  loser,
		},
		WinnerStat: ws,
		LoserStat:  ls,
	}
	if _, err := f.store.InsertMatch(context.Background(), rec); err != nil {
		t.Fatalf("insert match: %v", err)
	}
}

type observerFunc func(ctx context.Context, userID int64, def storage.Achievement, at time.Time)

func (f observerFunc) AchievementUnlocked(ctx context.Context, userID int64, def storage.Achievement, at time.Time) {
	f(ctx, userID, def, at)
}

type fakeLedger struct {
	wins, touched, streak, duration int64
}

func (f fakeLedger) CountWins(context.Context, int64) (int64, error)       { return f.wins, nil }
func (f fakeLedger) SumTouchedBalls(context.Context, int64) (int64, error) { return f.touched, nil }
func (f fakeLedger) MaxStreak(context.Context, int64) (int64, error)       { return f.streak, nil }
func (f fakeLedger) SumDuration(context.Context, int64) (int64, error)     { return f.duration, nil }

func TestRulesDispatchOnGoalType(t *testing.T) {
	l := fakeLedger{wins: 1, touched: 2, streak: 3, duration: 4}
	tests := []struct {
		goal GoalType
		want int64
	}{
		{GoalWins, 1},
		{GoalTouchedBalls, 2},
		{GoalMaxStreak, 3},
		{GoalPlayTime, 4},
		{GoalType("jumps"), 0},
	}
	for _, tc := range tests {
		got, err := ruleFor(tc.goal)(context.Background(), l, 1)
		if err != nil {
			t.Fatalf("%s: %v", tc.goal, err)
		}
		if got != tc.want {
			t.Errorf("%s = %d, want %d", tc.goal, got, tc.want)
		}
	}
}

func TestPercentageIsCappedBelowUnlock(t *testing.T) {
	tests := []struct {
		current, goal, want int64
	}{
		{0, 10, 0},
		{5, 10, 50},
		{995, 1000, 99},
		{10, 10, 99},
		{50, 10, 99},
	}
	for _, tc := range tests {
		p := Progress{CurrentProgress: tc.current, GoalAmount: tc.goal}
		if got := p.Percentage(); got != tc.want {
			t.Errorf("Percentage(%d/%d) = %d, want %d", tc.current, tc.goal, got, tc.want)
		}
	}
}

func TestFirstWinScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.engine.ComputeProgress(ctx, 1, "first_win")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.CurrentProgress != 0 || p.GoalAmount != 1 || p.GoalType != "wins" {
		t.Fatalf("progress = %+v", p)
	}

	f.play(t, 1, 2, storage.PlayerStat{}, storage.PlayerStat{})

	res, err := f.engine.CheckAndUnlock(ctx, 1, "first_win")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Unlocked || !res.IsNew {
		t.Fatalf("first check = %+v", res)
	}
	res, err = f.engine.CheckAndUnlock(ctx, 1, "first_win")
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !res.Unlocked || res.IsNew {
		t.Fatalf("second check = %+v", res)
	}

	list, err := f.store.ListUserAchievements(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("unlock rows = %d, want 1", len(list))
	}
}

func TestWinsProgressEqualsWinCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.play(t, 1, 2, storage.PlayerStat{}, storage.PlayerStat{})
	f.play(t, 2, 1, storage.PlayerStat{}, storage.PlayerStat{})
	f.play(t, 1, 3, storage.PlayerStat{}, storage.PlayerStat{})

	for _, user := range []int64{1, 2, 3, 4} {
		p, err := f.engine.ComputeProgress(ctx, user, "win_master")
		if err != nil {
			t.Fatalf("progress: %v", err)
		}
		wins, err := f.store.CountWins(ctx, user)
		if err != nil {
			t.Fatalf("count wins: %v", err)
		}
		if p.CurrentProgress != wins {
			t.Errorf("user %d: progress %d, wins %d", user, p.CurrentProgress, wins)
		}
	}
}

func TestProgressAggregatesBothSides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.play(t, 1, 2, storage.PlayerStat{TouchedBalls: 40, MaxStreak: 6, Duration: 50},
		storage.PlayerStat{TouchedBalls: 10, MaxStreak: 1, Duration: 50})
	f.play(t, 2, 1, storage.PlayerStat{TouchedBalls: 5, MaxStreak: 2, Duration: 20},
		storage.PlayerStat{TouchedBalls: 70, MaxStreak: 4, Duration: 20})

	want := map[string]int64{
		"ball_rookie":   110,
		"steady_hand":   6,
		"rookie_player": 70,
	}
	for id, w := range want {
		p, err := f.engine.ComputeProgress(ctx, 1, id)
		if err != nil {
			t.Fatalf("%s: %v", id, err)
		}
		if p.CurrentProgress != w {
			t.Errorf("%s = %d, want %d", id, p.CurrentProgress, w)
		}
	}
}

func TestProgressNeverRegresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := []string{"win_master", "ball_expert", "unstoppable", "dedicated_player"}
	prev := map[string]int64{}
	for i := 0; i < 5; i++ {
		if i%2 == 0 {
			f.play(t, 1, 2, storage.PlayerStat{TouchedBalls: 3, MaxStreak: int64(5 - i), Duration: 10}, storage.PlayerStat{})
		} else {
			f.play(t, 2, 1, storage.PlayerStat{}, storage.PlayerStat{TouchedBalls: 1, MaxStreak: 1, Duration: 5})
		}
		for _, id := range ids {
			p, err := f.engine.ComputeProgress(ctx, 1, id)
			if err != nil {
				t.Fatalf("%s: %v", id, err)
			}
			if p.CurrentProgress < prev[id] {
				t.Fatalf("%s regressed from %d to %d", id, prev[id], p.CurrentProgress)
			}
			prev[id] = p.CurrentProgress
		}
	}
}

func TestComputeProgressErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.ComputeProgress(ctx, 1, "nope"); !errors.Is(err, matcherrors.ErrNotFound) {
		t.Fatalf("unknown achievement: %v", err)
	}
	if _, err := f.engine.CheckAndUnlock(ctx, 1, "nope"); !errors.Is(err, matcherrors.ErrNotFound) {
		t.Fatalf("unknown achievement check: %v", err)
	}
	if _, err := f.engine.ComputeProgress(ctx, 0, "first_win"); !errors.Is(err, matcherrors.ErrValidation) {
		t.Fatalf("zero user: %v", err)
	}
}

func TestUnknownGoalTypeInStoreYieldsZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Bypasses catalog validation to simulate a row written by another version.
	if err := f.store.SeedAchievements(ctx, []storage.Achievement{{ID: "jumper", GoalType: "jumps", GoalAmount: 3}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.play(t, 1, 2, storage.PlayerStat{TouchedBalls: 10}, storage.PlayerStat{})

	p, err := f.engine.ComputeProgress(ctx, 1, "jumper")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.CurrentProgress != 0 {
		t.Fatalf("progress = %d, want 0", p.CurrentProgress)
	}
}

func TestCheckAndUnlockLockedReportsCappedProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.play(t, 1, 2, storage.PlayerStat{TouchedBalls: 995}, storage.PlayerStat{})

	res, err := f.engine.CheckAndUnlock(ctx, 1, "ball_master")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Unlocked || res.IsNew || res.Progress != 99 || res.CurrentProgress != 995 {
		t.Fatalf("result = %+v", res)
	}
	has, err := f.store.HasUserAchievement(ctx, 1, "ball_master")
	if err != nil || has {
		t.Fatalf("locked check wrote an unlock: %v, %v", has, err)
	}
}

func TestObserverAndClock(t *testing.T) {
	at := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	var got []string
	f := newFixture(t,
		WithNow(func() time.Time { return at }),
		WithUnlockObserver(observerFunc(func(_ context.Context, userID int64, def storage.Achievement, when time.Time) {
			got = append(got, fmt.Sprintf("%d:%s:%s", userID, def.ID, when.Format(time.RFC3339)))
		})))
	ctx := context.Background()
	f.play(t, 1, 2, storage.PlayerStat{}, storage.PlayerStat{})

	for i := 0; i < 2; i++ {
		if _, err := f.engine.CheckAndUnlock(ctx, 1, "first_win"); err != nil {
			t.Fatalf("check: %v", err)
		}
	}
	if len(got) != 1 || got[0] != "1:first_win:2026-05-01T09:00:00Z" {
		t.Fatalf("observer saw %v", got)
	}
	list, err := f.engine.UserAchievements(ctx, 1)
	if err != nil {
		t.Fatalf("user achievements: %v", err)
	}
	if len(list) != 1 || !list[0].AchievedAt.Equal(at) {
		t.Fatalf("unlocks = %+v", list)
	}
}

func TestCheckAllUnlocksEverythingEarned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.play(t, 1, 2, storage.PlayerStat{TouchedBalls: 120, MaxStreak: 5, Duration: 61}, storage.PlayerStat{})

	results, err := f.engine.CheckAll(ctx, 1)
	if err != nil {
		t.Fatalf("check all: %v", err)
	}
	if len(results) != 12 {
		t.Fatalf("results = %d, want 12", len(results))
	}
	var newly []string
	for _, r := range results {
		if r.IsNew {
			newly = append(newly, r.AchievementID)
		}
	}
	want := map[string]bool{"first_win": true, "ball_rookie": true, "steady_hand": true, "rookie_player": true}
	if len(newly) != len(want) {
		t.Fatalf("new unlocks = %v", newly)
	}
	for _, id := range newly {
		if !want[id] {
			t.Fatalf("unexpected unlock %s", id)
		}
	}

	again, err := f.engine.CheckAll(ctx, 1)
	if err != nil {
		t.Fatalf("check all again: %v", err)
	}
	for _, r := range again {
		if r.IsNew {
			t.Fatalf("second pass reported new unlock %s", r.AchievementID)
		}
	}
}

func TestListProgressOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.play(t, 1, 2, storage.PlayerStat{TouchedBalls: 250, MaxStreak: 2, Duration: 30}, storage.PlayerStat{})
	for _, id := range []string{"first_win", "ball_rookie"} {
		if _, err := f.engine.CheckAndUnlock(ctx, 1, id); err != nil {
			t.Fatalf("check %s: %v", id, err)
		}
	}

	entries, err := f.engine.ListProgress(ctx, 1)
	if err != nil {
		t.Fatalf("list progress: %v", err)
	}
	if len(entries) != 12 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].ID != "ball_rookie" || entries[1].ID != "first_win" {
		t.Fatalf("unlocked entries first: got %s, %s", entries[0].ID, entries[1].ID)
	}
	for _, e := range entries[:2] {
		if !e.Achieved || e.Progress != 100 || e.AchievedAt == nil {
			t.Fatalf("unlocked entry = %+v", e)
		}
	}
	if entries[2].ID != "steady_hand" || entries[2].Progress != 40 || entries[2].CurrentProgress != 2 || entries[2].Achieved {
		t.Fatalf("first locked entry = %+v", entries[2])
	}
	for i := 3; i < len(entries); i++ {
		a, b := entries[i-1], entries[i]
		if a.GoalType > b.GoalType || (a.GoalType == b.GoalType && a.GoalAmount >= b.GoalAmount) {
			t.Fatalf("locked entries out of order at %d: %s/%d then %s/%d", i, a.GoalType, a.GoalAmount, b.GoalType, b.GoalAmount)
		}
	}

	fresh, err := f.engine.ListProgress(ctx, 99)
	if err != nil {
		t.Fatalf("fresh user: %v", err)
	}
	for _, e := range fresh {
		if e.Achieved || e.Progress != 0 {
			t.Fatalf("fresh user entry = %+v", e)
		}
	}
}

func TestConcurrentChecksStoreOneUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.play(t, 1, 2, storage.PlayerStat{}, storage.PlayerStat{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.CheckAndUnlock(ctx, 1, "first_win"); err != nil {
				t.Errorf("check: %v", err)
			}
		}()
	}
	wg.Wait()

	list, err := f.store.ListUserAchievements(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("unlock rows = %d, want 1", len(list))
	}
}

func TestLockedResultAtZeroStillCarriesProgress(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.CheckAndUnlock(context.Background(), 1, "win_master")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Unlocked || res.Progress != 0 {
		t.Fatalf("result = %+v", res)
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	if v, ok := fields["progress"]; !ok || v != float64(0) {
		t.Fatalf("progress missing from %s", data)
	}
}
