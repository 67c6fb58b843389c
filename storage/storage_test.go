package storage_test

import (
	"context"
	"os"
	"testing"

	"match-stats-server/storage"
	"match-stats-server/storage/storagetest"
)

// TEST_DATABASE_URL points at a disposable Postgres database; every table is truncated.
func openPostgres(t *testing.T) storage.StatsStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := storage.NewStore(ctx, url, storage.PoolOptions{MaxConns: 4})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := store.Truncate(ctx); err != nil {
		store.Close()
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresStatsStoreSuite(t *testing.T) {
	storagetest.Run(t, openPostgres)
}

func TestNewStoreRequiresURL(t *testing.T) {
	if _, err := storage.NewStore(context.Background(), "", storage.PoolOptions{}); err == nil {
		t.Fatal("expected error for empty database url")
	}
}
