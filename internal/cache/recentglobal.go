package cache

import "fmt"

// RecentGlobal keeps the first globalTokens positions and the most recent
// capacity-globalTokens positions, discarding everything between. It needs
// no eviction signal and works with any cache mode.
type RecentGlobal struct {
	maxCacheLength int
	globalTokens   int
}

func newRecentGlobal(cfg PolicyConfig) *RecentGlobal {
	return &RecentGlobal{
		maxCacheLength: cfg.MaxCacheLength,
		globalTokens:   cfg.GlobalTokens,
	}
}

func (p *RecentGlobal) RequiresAttention() bool { return false }

func (p *RecentGlobal) Compatible(headSpecific bool) bool { return true }

func (p *RecentGlobal) Compress(span Span) (Result, error) {
	n := len(span.Positions)
	if n < p.maxCacheLength {
		return Result{}, fmt.Errorf("recent_global needs a span of at least %d positions, got %d", p.maxCacheLength, n)
	}

	keep := make([]int, 0, p.maxCacheLength)
	for i := 0; i < p.globalTokens; i++ {
		keep = append(keep, i)
	}
	for i := n - p.maxCacheLength + p.globalTokens; i < n; i++ {
		keep = append(keep, i)
	}
	if len(keep) != p.maxCacheLength {
		return Result{}, fmt.Errorf("recent_global kept %d slots, want exactly %d", len(keep), p.maxCacheLength)
	}

	// Eviction is uniform across heads: every head shares the index row.
	rows := make([][]int, span.Heads)
	for h := range rows {
		rows[h] = keep
	}
	keys, values := gather(span, rows, p.maxCacheLength)
	return Result{Keep: rows, Keys: keys, Values: values}, nil
}
