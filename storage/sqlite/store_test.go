package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"match-stats-server/matcherrors"
	"match-stats-server/storage"
	"match-stats-server/storage/storagetest"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestStatsStoreSuite(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.StatsStore {
		return openTempStore(t)
	})
}

func TestInsertMatchRollsBackOnStatsFailure(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	_, err := store.sqlDB.ExecContext(ctx, `
		CREATE TRIGGER reject_stats BEFORE INSERT ON match_stats
		WHEN NEW.user_id = 666
		BEGIN SELECT RAISE(ABORT, 'stats rejected'); END`)
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	rec := storagetest.Record(storagetest.MatchID(1700000000000, 1), 1, 666,
		storage.PlayerStat{TouchedBalls: 3}, storage.PlayerStat{TouchedBalls: 2})
	_, err = store.InsertMatch(ctx, rec)
	if !errors.Is(err, matcherrors.ErrTransaction) {
		t.Fatalf("expected transaction failure, got %v", err)
	}

	if _, err := store.GetOutcome(ctx, rec.MatchID); !errors.Is(err, matcherrors.ErrNotFound) {
		t.Fatalf("outcome row survived rollback: %v", err)
	}
	touched, err := store.SumTouchedBalls(ctx, 1)
	if err != nil {
		t.Fatalf("sum touched: %v", err)
	}
	if touched != 0 {
		t.Fatalf("winner stats survived rollback: touched=%d", touched)
	}
}

func TestInsertMatchHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := storagetest.Record(storagetest.MatchID(1700000000000, 1), 1, 2, storage.PlayerStat{}, storage.PlayerStat{})
	if _, err := store.InsertMatch(ctx, rec); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConcurrentInsertsAllLand(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	const n = 10

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := storagetest.Record(storagetest.MatchID(1700000000000+int64(i), i), 1, int64(100+i),
				storage.PlayerStat{TouchedBalls: 1}, storage.PlayerStat{})
			_, err := store.InsertMatch(ctx, rec)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	wins, err := store.CountWins(ctx, 1)
	if err != nil {
		t.Fatalf("count wins: %v", err)
	}
	if wins != n {
		t.Fatalf("CountWins = %d, want %d", wins, n)
	}
	touched, err := store.SumTouchedBalls(ctx, 1)
	if err != nil {
		t.Fatalf("sum touched: %v", err)
	}
	if touched != n {
		t.Fatalf("SumTouchedBalls = %d, want %d", touched, n)
	}
}
