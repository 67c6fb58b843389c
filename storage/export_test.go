package storage

import "context"

// Truncate empties every ledger table. Tests only.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE match_stats, match_win, achievements, user_achievements`)
	return err
}
