package storage

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MatchIDPrefixLen is the number of leading digits (Unix milliseconds) that
// order match ids chronologically.
const MatchIDPrefixLen = 13

const matchIDSuffixLen = 12

// MaxMatchIDLen is the longest match id the ledger tables accept.
const MaxMatchIDLen = 36

// MatchIDGenerator issues match ids of the form "<13-digit ms>-<12 hex>".
// The millisecond prefix never repeats or goes backwards within one generator.
type MatchIDGenerator struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

// NewMatchIDGenerator returns a generator reading the given clock (time.Now if nil).
func NewMatchIDGenerator(now func() time.Time) *MatchIDGenerator {
	if now == nil {
		now = time.Now
	}
	return &MatchIDGenerator{now: now}
}

// Next returns a fresh match id.
func (g *MatchIDGenerator) Next() string {
	g.mu.Lock()
	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	g.mu.Unlock()

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:matchIDSuffixLen]
	return fmt.Sprintf("%0*d-%s", MatchIDPrefixLen, ms, suffix)
}

// MatchIDTimestamp extracts the millisecond prefix of a match id.
func MatchIDTimestamp(matchID string) (int64, bool) {
	if len(matchID) < MatchIDPrefixLen {
		return 0, false
	}
	ms, err := strconv.ParseInt(matchID[:MatchIDPrefixLen], 10, 64)
	if err != nil || ms < 0 {
		return 0, false
	}
	return ms, true
}
