package cache

import (
	"fmt"
	"sort"
)

// Span is one eviction invocation's view of a layer's over-capacity cache
// contents. Keys and Values are head-major: entry (h, slot, d) lives at
// h*n*headDim + slot*headDim + d where n = len(Positions).
//
// Attn carries attention weights for policies that require them, laid out
// [heads, qSteps, n]: the weight query step s assigned to key slot j for
// head h lives at (h*qSteps+s)*n + j. It is nil for other policies.
type Span struct {
	Positions []int
	Keys      []float32
	Values    []float32
	Heads     int
	HeadDim   int
	Attn      []float32
	QSteps    int
}

// Result is the surviving cache content after one eviction event. Keep holds
// ascending original-order slot indices per head, each exactly the policy's
// configured capacity long; Keys and Values are the compacted buffers in the
// same head-major layout as Span. History holds the retained raw attention
// score per kept slot for attention-aware policies, nil otherwise.
type Result struct {
	Keep    [][]int
	Keys    []float32
	Values  []float32
	History []float32
}

// Policy compresses an over-capacity span down to a fixed size. A policy is
// stateless across calls apart from hyperparameters fixed at construction; it
// never retains references to the tensors passed in.
type Policy interface {
	// RequiresAttention reports whether Compress needs per-step attention
	// weights in Span.Attn.
	RequiresAttention() bool
	// Compatible reports whether the policy can drive a cache with the given
	// head-specific setting.
	Compatible(headSpecific bool) bool
	// Compress selects the surviving slots and gathers their keys/values.
	Compress(span Span) (Result, error)
}

// PolicyConfig enumerates every policy hyperparameter. Zero values select
// the documented defaults where one exists.
type PolicyConfig struct {
	MaxCacheLength int
	GlobalTokens   int
	RecentWindow   int
	HeadSpecific   bool

	// SnapKV smoothing kernel width; defaults to 5.
	KernelSize int
	// SnapKV observation window; defaults to 16.
	ObservationLen int
}

// NewPolicy constructs the policy for the given strategy and verifies it is
// compatible with the cache's head-specific setting. Both failures are fatal
// configuration errors.
func NewPolicy(strategy Strategy, cfg PolicyConfig) (Policy, error) {
	if cfg.MaxCacheLength <= 0 {
		return nil, fmt.Errorf("policy capacity must be positive, got %d", cfg.MaxCacheLength)
	}
	var p Policy
	switch strategy {
	case StrategyRecentGlobal:
		p = newRecentGlobal(cfg)
	case StrategySnapKV:
		p = newSnapKV(cfg)
	case StrategyL2:
		p = newL2(cfg)
	default:
		return nil, fmt.Errorf("unknown eviction strategy %q", strategy)
	}
	if !p.Compatible(cfg.HeadSpecific) {
		return nil, fmt.Errorf("strategy %q is not compatible with head_specific=%v caches", strategy, cfg.HeadSpecific)
	}
	return p, nil
}

// gather compacts the kept slots of each head into freshly sized buffers.
func gather(span Span, keep [][]int, capacity int) (keys, values []float32) {
	hd := span.HeadDim
	n := len(span.Positions)
	keys = make([]float32, span.Heads*capacity*hd)
	values = make([]float32, span.Heads*capacity*hd)
	for h := 0; h < span.Heads; h++ {
		src := h * n * hd
		dst := h * capacity * hd
		for c, slot := range keep[h] {
			copy(keys[dst+c*hd:dst+(c+1)*hd], span.Keys[src+slot*hd:src+(slot+1)*hd])
			copy(values[dst+c*hd:dst+(c+1)*hd], span.Values[src+slot*hd:src+(slot+1)*hd])
		}
	}
	return keys, values
}

// topKIndices returns the indices of the k largest (or, with largest=false,
// smallest) values in scores, in ascending index order. O(n*k) insertion
// selection, fine for cache-sized inputs.
func topKIndices(scores []float32, k int, largest bool) []int {
	if k > len(scores) {
		k = len(scores)
	}
	idx := make([]int, 0, k+1)
	val := make([]float32, 0, k+1)
	better := func(a, b float32) bool {
		if largest {
			return a > b
		}
		return a < b
	}
	for i, s := range scores {
		pos := len(val)
		for pos > 0 && better(s, val[pos-1]) {
			pos--
		}
		if pos >= k {
			continue
		}
		idx = append(idx, 0)
		val = append(val, 0)
		copy(idx[pos+1:], idx[pos:])
		copy(val[pos+1:], val[pos:])
		idx[pos] = i
		val[pos] = s
		if len(val) > k {
			idx = idx[:k]
			val = val[:k]
		}
	}
	sort.Ints(idx)
	return idx
}
