// Package history builds paginated, perspective-aware views over the match ledger.
package history

import (
	"context"
	"math"

	"match-stats-server/matcherrors"
	"match-stats-server/storage"
)

// MaxPageSize bounds the page size accepted by the paginated queries.
const MaxPageSize = 100

// missRatio is the stand-in miss count used by Precision, as a fraction of touches.
const missRatio = 0.2

// MatchView is one match seen from a single participant.
type MatchView struct {
	MatchID      string `json:"match_id"`
	Timestamp    int64  `json:"timestamp"`
	WinnerID     int64  `json:"winner_id"`
	LoserID      int64  `json:"loser_id"`
	ViewerID     int64  `json:"viewer_id"`
	Won          bool   `json:"won"`
	OpponentID   int64  `json:"opponent_id"`
	TouchedBalls int64  `json:"touched_balls"`
	Precision    int64  `json:"precision"`
	MaxStreak    int64  `json:"max_streak"`
	Duration     int64  `json:"duration"`
}

// Page is one page of match views.
type Page struct {
	Entries    []MatchView `json:"entries"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int64       `json:"total_pages"`
}

// HeadToHead summarises the matches played between two players.
type HeadToHead struct {
	Player1ID    int64   `json:"player1_id"`
	Player2ID    int64   `json:"player2_id"`
	TotalMatches int64   `json:"total_matches"`
	Player1Wins  int64   `json:"player1_wins"`
	Player2Wins  int64   `json:"player2_wins"`
	WinRate      float64 `json:"win_rate"`
}

// Service answers history queries.
type Service struct {
	store storage.LedgerStore
}

// NewService returns a Service reading from store.
func NewService(store storage.LedgerStore) *Service {
	return &Service{store: store}
}

// Precision is the display metric round(touched / (touched + misses) * 100),
// where misses is a fixed fraction of touched. Zero touches give 0.
func Precision(touched int64) int64 {
	if touched <= 0 {
		return 0
	}
	t := float64(touched)
	return int64(math.Round(t / (t + t*missRatio) * 100))
}

func checkPage(page, pageSize int) error {
	if page < 1 {
		return matcherrors.Validationf("page must be >= 1, got %d", page)
	}
	if pageSize <= 0 || pageSize > MaxPageSize {
		return matcherrors.Validationf("page size must be in 1..%d, got %d", MaxPageSize, pageSize)
	}
	return nil
}

func totalPages(total int64, pageSize int) int64 {
	return (total + int64(pageSize) - 1) / int64(pageSize)
}

// pageOffset returns the row offset of page, or false when the page lies past
// the last one. The range check comes first so the product cannot overflow.
func pageOffset(page, pageSize int, total int64) (int, bool) {
	if int64(page) > totalPages(total, pageSize) {
		return 0, false
	}
	return (page - 1) * pageSize, true
}

// view renders rec from viewerID's side. A viewer that is not a participant
// sees the winner's side.
func view(rec storage.MatchRecord, viewerID int64) MatchView {
	v := MatchView{
		MatchID:  rec.MatchID,
		WinnerID: rec.WinnerID,
		LoserID:  rec.LoserID,
	}
	v.Timestamp, _ = storage.MatchIDTimestamp(rec.MatchID)

	stat := rec.WinnerStat
	if viewerID == rec.LoserID {
		v.ViewerID = rec.LoserID
		v.OpponentID = rec.WinnerID
		stat = rec.LoserStat
	} else {
		v.ViewerID = rec.WinnerID
		v.Won = true
		v.OpponentID = rec.LoserID
	}
	v.TouchedBalls = stat.TouchedBalls
	v.Precision = Precision(stat.TouchedBalls)
	v.MaxStreak = stat.MaxStreak
	v.Duration = stat.Duration
	return v
}

func views(recs []storage.MatchRecord, viewerID int64) []MatchView {
	out := make([]MatchView, 0, len(recs))
	for _, r := range recs {
		out = append(out, view(r, viewerID))
	}
	return out
}

// GlobalHistory returns one page of all matches, newest first, each from the winner's side.
func (s *Service) GlobalHistory(ctx context.Context, page, pageSize int) (Page, error) {
	if err := checkPage(page, pageSize); err != nil {
		return Page{}, err
	}
	total, err := s.store.CountAllMatches(ctx)
	if err != nil {
		return Page{}, err
	}
	p := Page{Entries: []MatchView{}, Total: total, Page: page, PageSize: pageSize, TotalPages: totalPages(total, pageSize)}
	offset, ok := pageOffset(page, pageSize, total)
	if !ok {
		return p, nil
	}
	recs, err := s.store.ListMatches(ctx, pageSize, offset)
	if err != nil {
		return Page{}, err
	}
	p.Entries = views(recs, 0)
	return p, nil
}

// UserHistory returns one page of the user's matches, newest first, from the user's side.
func (s *Service) UserHistory(ctx context.Context, userID int64, page, pageSize int) (Page, error) {
	if err := checkPage(page, pageSize); err != nil {
		return Page{}, err
	}
	total, err := s.store.CountMatches(ctx, userID)
	if err != nil {
		return Page{}, err
	}
	p := Page{Entries: []MatchView{}, Total: total, Page: page, PageSize: pageSize, TotalPages: totalPages(total, pageSize)}
	offset, ok := pageOffset(page, pageSize, total)
	if !ok {
		return p, nil
	}
	recs, err := s.store.ListMatchesByUser(ctx, userID, pageSize, offset)
	if err != nil {
		return Page{}, err
	}
	p.Entries = views(recs, userID)
	return p, nil
}

// MatchDetail returns one match from viewerID's side. A zero viewerID means
// no viewer and shows the winner's side; a viewer who did not play the match
// gets NotFound.
func (s *Service) MatchDetail(ctx context.Context, matchID string, viewerID int64) (MatchView, error) {
	rec, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return MatchView{}, err
	}
	if viewerID != 0 && viewerID != rec.WinnerID && viewerID != rec.LoserID {
		return MatchView{}, matcherrors.NotFoundf("match %q not found for user %d", matchID, viewerID)
	}
	return view(rec, viewerID), nil
}

// HeadToHead counts matches strictly between two players. WinRate is
// player1's wins as a percentage of the total, 0 when they never met.
func (s *Service) HeadToHead(ctx context.Context, player1ID, player2ID int64) (HeadToHead, error) {
	if player1ID <= 0 || player2ID <= 0 {
		return HeadToHead{}, matcherrors.Validationf("player ids must be positive (%d, %d)", player1ID, player2ID)
	}
	if player1ID == player2ID {
		return HeadToHead{}, matcherrors.Validationf("head to head needs two different players (both %d)", player1ID)
	}
	c, err := s.store.HeadToHead(ctx, player1ID, player2ID)
	if err != nil {
		return HeadToHead{}, err
	}
	h := HeadToHead{
		Player1ID:    player1ID,
		Player2ID:    player2ID,
		TotalMatches: c.Total,
		Player1Wins:  c.Player1Wins,
		Player2Wins:  c.Player2Wins,
	}
	if c.Total > 0 {
		h.WinRate = float64(c.Player1Wins) / float64(c.Total) * 100
	}
	return h, nil
}
