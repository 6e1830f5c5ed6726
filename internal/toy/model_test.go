package toy

import (
	"context"
	"testing"

	"github.com/samcharles93/condense/internal/cache"
	"github.com/samcharles93/condense/internal/generate"
	"github.com/samcharles93/condense/internal/logger"
	"github.com/samcharles93/condense/internal/model"
)

func testConfig() Config {
	return Config{
		Vocab:     64,
		Hidden:    16,
		Heads:     2,
		HeadDim:   4,
		FFN:       32,
		MaxSeqLen: 64,
		Seed:      1,
	}
}

func testPlan(t *testing.T, strategy cache.Strategy, headSpecific bool) *cache.Plan {
	t.Helper()
	plan, err := cache.NewPlan(cache.Config{
		MaxCacheLength: []float64{16},
		GlobalTokens:   2,
		RecentWindow:   4,
		DropAmount:     0.25,
		Strategy:       strategy,
		HeadSpecific:   headSpecific,
	}, 2, 64, nil, logger.Discard())
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	return plan
}

func newTestModel(t *testing.T, strategy cache.Strategy, headSpecific bool) *Model {
	t.Helper()
	m, err := New(testConfig(), testPlan(t, strategy, headSpecific), logger.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func seq(n int) ([]int, []int) {
	tokens := make([]int, n)
	positions := make([]int, n)
	for i := range tokens {
		tokens[i] = (i*7 + 3) % 64
		positions[i] = i
	}
	return tokens, positions
}

func TestPrefillWithinCapacityKeepsEverything(t *testing.T) {
	t.Parallel()
	m := newTestModel(t, cache.StrategyRecentGlobal, false)
	tokens, positions := seq(8)
	logits, err := m.Forward(tokens, positions, model.CausalMask(8))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(logits) != 64 {
		t.Fatalf("logits length: got %d want 64", len(logits))
	}
	for li := range 2 {
		if got := m.LayerLen(li); got != 8 {
			t.Fatalf("layer %d length: got %d want 8", li, got)
		}
	}
}

func TestPrefillCompressesOverCapacitySpan(t *testing.T) {
	t.Parallel()
	tests := []struct {
		strategy     cache.Strategy
		headSpecific bool
	}{
		{cache.StrategyRecentGlobal, false},
		{cache.StrategySnapKV, true},
		{cache.StrategyL2, true},
	}
	for _, tc := range tests {
		t.Run(string(tc.strategy), func(t *testing.T) {
			t.Parallel()
			m := newTestModel(t, tc.strategy, tc.headSpecific)
			tokens, positions := seq(24)
			if _, err := m.Forward(tokens, positions, model.CausalMask(24)); err != nil {
				t.Fatalf("Forward: %v", err)
			}
			for li := range 2 {
				if got := m.LayerLen(li); got != 16 {
					t.Fatalf("layer %d length after compression: got %d want 16", li, got)
				}
			}
		})
	}
}

func TestDecodeEvictsInBatches(t *testing.T) {
	t.Parallel()
	m := newTestModel(t, cache.StrategyRecentGlobal, false)
	tokens, positions := seq(10)
	if _, err := m.Forward(tokens, positions, model.CausalMask(10)); err != nil {
		t.Fatalf("prefill: %v", err)
	}

	// Decode far past capacity; the bound must hold after every step.
	for step := 0; step < 30; step++ {
		if _, err := m.Forward([]int{step % 64}, []int{10 + step}, nil); err != nil {
			t.Fatalf("decode step %d: %v", step, err)
		}
		for li := range 2 {
			if got := m.LayerLen(li); got > 16 {
				t.Fatalf("step %d layer %d: length %d exceeds capacity 16", step, li, got)
			}
		}
	}

	// Capacity 16 with drop ratio 0.25 frees 4 slots per eviction, so the
	// length after an eviction step lands at 13.
	if got := m.LayerLen(0); got > 16 || got < 13 {
		t.Fatalf("final layer length %d outside eviction cycle range [13, 16]", got)
	}
}

func TestDecodeRejectsMultiTokenSpan(t *testing.T) {
	t.Parallel()
	m := newTestModel(t, cache.StrategyRecentGlobal, false)
	if _, err := m.Forward([]int{1, 2}, []int{0, 1}, nil); err == nil {
		t.Fatal("expected error for multi-token decode span")
	}
}

func TestForwardRejectsBadInputs(t *testing.T) {
	t.Parallel()
	m := newTestModel(t, cache.StrategyRecentGlobal, false)
	if _, err := m.Forward([]int{64}, []int{0}, nil); err == nil {
		t.Fatal("expected error for out-of-vocab token")
	}
	if _, err := m.Forward([]int{1, 2}, []int{0}, nil); err == nil {
		t.Fatal("expected error for length mismatch")
	}
	if _, err := m.Forward([]int{1, 2}, []int{0, 1}, make([]bool, 3)); err == nil {
		t.Fatal("expected error for undersized mask")
	}
}

func TestResetCachesClearsState(t *testing.T) {
	t.Parallel()
	m := newTestModel(t, cache.StrategyRecentGlobal, false)
	tokens, positions := seq(8)
	if _, err := m.Forward(tokens, positions, model.CausalMask(8)); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	m.ResetCaches()
	for li := range 2 {
		if got := m.LayerLen(li); got != 0 {
			t.Fatalf("layer %d length after reset: got %d want 0", li, got)
		}
	}
}

// Full pipeline: prompt compression at prefill, batched eviction during
// decode, every strategy generating its whole budget.
func TestGenerateEndToEnd(t *testing.T) {
	t.Parallel()
	tests := []struct {
		strategy     cache.Strategy
		headSpecific bool
	}{
		{cache.StrategyRecentGlobal, false},
		{cache.StrategySnapKV, true},
		{cache.StrategyL2, true},
	}
	for _, tc := range tests {
		t.Run(string(tc.strategy), func(t *testing.T) {
			t.Parallel()
			m := newTestModel(t, tc.strategy, tc.headSpecific)
			d := &generate.Driver{Model: m, Log: logger.Discard()}

			prompt, _ := seq(24)
			res, err := d.Generate(context.Background(), prompt, generate.Options{MaxNewTokens: 20})
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if res.Stats.TokensGenerated != 20 {
				t.Fatalf("generated: got %d want 20", res.Stats.TokensGenerated)
			}
			if len(res.Tokens) != 44 {
				t.Fatalf("total tokens: got %d want 44", len(res.Tokens))
			}
			for li := range 2 {
				if got := m.LayerLen(li); got > 16 {
					t.Fatalf("layer %d length %d exceeds capacity 16", li, got)
				}
			}
		})
	}
}
