package cache

import (
	"fmt"
	"math"

	"github.com/samcharles93/condense/internal/tensor"
)

// L2 scores each cached position by the L2 norm of its key vector and
// retains the lowest-norm keys. Global and recent positions are forced to
// negative infinity so they always survive. Retaining the lowest norms is
// the authoritative behavior of this policy, not an inversion bug.
//
// Only usable with head-specific caches.
type L2 struct {
	maxCacheLength int
	globalTokens   int
	recentWindow   int
}

func newL2(cfg PolicyConfig) *L2 {
	return &L2{
		maxCacheLength: cfg.MaxCacheLength,
		globalTokens:   cfg.GlobalTokens,
		recentWindow:   cfg.RecentWindow,
	}
}

func (p *L2) RequiresAttention() bool { return false }

func (p *L2) Compatible(headSpecific bool) bool { return headSpecific }

func (p *L2) Compress(span Span) (Result, error) {
	n := len(span.Positions)
	if n < p.maxCacheLength {
		return Result{}, fmt.Errorf("l2 needs a span of at least %d positions, got %d", p.maxCacheLength, n)
	}

	negInf := float32(math.Inf(-1))
	hd := span.HeadDim
	keep := make([][]int, span.Heads)
	scores := make([]float32, n)
	for h := 0; h < span.Heads; h++ {
		base := h * n * hd
		for j := 0; j < n; j++ {
			pos := span.Positions[j]
			if pos < p.globalTokens || pos >= n-p.recentWindow {
				scores[j] = negInf
				continue
			}
			scores[j] = tensor.Norm2(span.Keys[base+j*hd : base+(j+1)*hd])
		}
		keep[h] = topKIndices(scores, p.maxCacheLength, false)
	}

	keys, values := gather(span, keep, p.maxCacheLength)
	return Result{Keep: keep, Keys: keys, Values: values}, nil
}
