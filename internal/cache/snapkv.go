package cache

import (
	"fmt"
	"math"
)

// SnapKV scores each cached position by the attention it received over the
// last observationLen query steps, smoothed with a centered moving average
// to reduce single-step noise. The trailing observation window is always
// retained. Follows the pseudo code on page 7 of
// https://arxiv.org/abs/2404.14469.
//
// Only usable with head-specific caches: different heads keep different
// positions.
type SnapKV struct {
	maxCacheLength int
	kernelSize     int
	observationLen int
}

func newSnapKV(cfg PolicyConfig) *SnapKV {
	kernel := cfg.KernelSize
	if kernel <= 0 {
		kernel = 5
	}
	obs := cfg.ObservationLen
	if obs <= 0 {
		obs = 16
	}
	return &SnapKV{
		maxCacheLength: cfg.MaxCacheLength,
		kernelSize:     kernel,
		observationLen: obs,
	}
}

func (p *SnapKV) RequiresAttention() bool { return true }

func (p *SnapKV) Compatible(headSpecific bool) bool { return headSpecific }

// ObservationLen reports how many trailing query steps of attention weights
// Compress consumes. Cache owners use it to size their recording window.
func (p *SnapKV) ObservationLen() int { return p.observationLen }

func (p *SnapKV) Compress(span Span) (Result, error) {
	n := len(span.Positions)
	if n < p.maxCacheLength {
		return Result{}, fmt.Errorf("snapkv needs a span of at least %d positions, got %d", p.maxCacheLength, n)
	}
	if span.Attn == nil || span.QSteps == 0 {
		return Result{}, fmt.Errorf("snapkv requires attention weights")
	}
	obsSteps := min(p.observationLen, span.QSteps)
	obsKeep := min(p.observationLen, n)

	keep := make([][]int, span.Heads)
	history := make([]float32, span.Heads*p.maxCacheLength)
	raw := make([]float32, n)
	for h := 0; h < span.Heads; h++ {
		// Mean attention per key slot over the trailing observation steps.
		for j := range raw {
			raw[j] = 0
		}
		for s := span.QSteps - obsSteps; s < span.QSteps; s++ {
			row := span.Attn[(h*span.QSteps+s)*n : (h*span.QSteps+s+1)*n]
			for j, w := range row {
				raw[j] += w
			}
		}
		scale := float32(1.0 / float64(obsSteps))
		for j := range raw {
			raw[j] *= scale
		}

		priority := smooth(raw, p.kernelSize)
		if len(priority) != len(raw) {
			panic(fmt.Sprintf("snapkv smoothing changed score length: %d -> %d", len(raw), len(priority)))
		}
		// The observation window is the most recent context and must never
		// be evicted by this pass.
		for j := n - obsKeep; j < n; j++ {
			priority[j] = float32(math.Inf(1))
		}

		idx := topKIndices(priority, p.maxCacheLength, true)
		keep[h] = idx
		// Retain the pre-smoothed score at each kept slot as partial
		// history for the next eviction event.
		for c, slot := range idx {
			history[h*p.maxCacheLength+c] = raw[slot]
		}
	}

	keys, values := gather(span, keep, p.maxCacheLength)
	return Result{Keep: keep, Keys: keys, Values: values, History: history}, nil
}

// smooth applies a centered moving average of the given window size. Edge
// positions are averaged over their in-range neighbors only.
func smooth(x []float32, kernel int) []float32 {
	out := make([]float32, len(x))
	half := kernel / 2
	for i := range x {
		lo := max(i-half, 0)
		hi := min(i+half, len(x)-1)
		var sum float32
		for j := lo; j <= hi; j++ {
			sum += x[j]
		}
		out[i] = sum / float32(hi-lo+1)
	}
	return out
}
