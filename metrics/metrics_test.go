package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"match-stats-server/storage"
)

func TestMiddlewareLabelsByRouteTemplate(t *testing.T) {
	m := New()
	r := mux.NewRouter()
	r.Use(m.Middleware)
	r.HandleFunc("/api/users/{userId}/matches", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"1", "2", "3"} {
		req := httptest.NewRequest(http.MethodGet, "/api/users/"+id+"/matches", nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	got := testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/users/{userId}/matches", http.MethodGet, "418"))
	if got != 3 {
		t.Fatalf("requests = %v, want 3", got)
	}
}

func TestObserversAndSnapshot(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.MatchRecorded(ctx, storage.MatchRecord{})
	m.MatchRecorded(ctx, storage.MatchRecord{})
	m.AchievementUnlocked(ctx, 1, storage.Achievement{ID: "first_win", GoalType: "wins"}, time.Now())
	m.SetSnapshot(Snapshot{Matches: 7, Players: 4, Unlocks: 2, At: time.Unix(1700000000, 0)})

	if got := testutil.ToFloat64(m.matches); got != 2 {
		t.Errorf("matches = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.unlocks.WithLabelValues("wins")); got != 1 {
		t.Errorf("unlocks{wins} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.totalPlayers); got != 4 {
		t.Errorf("players gauge = %v, want 4", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.MatchRecorded(context.Background(), storage.MatchRecord{})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "match_stats_matches_recorded_total 1") {
		t.Fatalf("metric missing from output")
	}
}
