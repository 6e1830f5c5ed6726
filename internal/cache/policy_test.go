package cache

import (
	"math"
	"testing"
)

// makeSpan builds a span where key (h, slot, d) = base + h*1000 + slot*10 + d,
// values offset by 0.5, so gathered slices can be traced back to their slot.
func makeSpan(heads, n, headDim int) Span {
	positions := make([]int, n)
	keys := make([]float32, heads*n*headDim)
	values := make([]float32, heads*n*headDim)
	for j := range positions {
		positions[j] = j
	}
	for h := 0; h < heads; h++ {
		for j := 0; j < n; j++ {
			for d := 0; d < headDim; d++ {
				keys[(h*n+j)*headDim+d] = float32(h*1000 + j*10 + d)
				values[(h*n+j)*headDim+d] = float32(h*1000+j*10+d) + 0.5
			}
		}
	}
	return Span{Positions: positions, Keys: keys, Values: values, Heads: heads, HeadDim: headDim}
}

func assertAscending(t *testing.T, idx []int) {
	t.Helper()
	for i := 1; i < len(idx); i++ {
		if idx[i] <= idx[i-1] {
			t.Fatalf("keep indices not strictly ascending: %v", idx)
		}
	}
}

func TestRecentGlobalKeepSet(t *testing.T) {
	t.Parallel()
	p, err := NewPolicy(StrategyRecentGlobal, PolicyConfig{MaxCacheLength: 16, GlobalTokens: 4})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}

	span := makeSpan(2, 32, 4)
	res, err := p.Compress(span)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	want := []int{0, 1, 2, 3, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31}
	for h := 0; h < span.Heads; h++ {
		if len(res.Keep[h]) != 16 {
			t.Fatalf("head %d: kept %d slots, want 16", h, len(res.Keep[h]))
		}
		assertAscending(t, res.Keep[h])
		for i, slot := range res.Keep[h] {
			if slot != want[i] {
				t.Fatalf("head %d keep: got %v want %v", h, res.Keep[h], want)
			}
		}
	}
	if res.History != nil {
		t.Fatal("recent_global must not return attention history")
	}

	// Gathered keys must come from the kept slots, in order.
	hd := span.HeadDim
	for h := 0; h < span.Heads; h++ {
		for c, slot := range res.Keep[h] {
			got := res.Keys[(h*16+c)*hd]
			wantVal := float32(h*1000 + slot*10)
			if got != wantVal {
				t.Fatalf("head %d slot %d: gathered key %v want %v", h, c, got, wantVal)
			}
		}
	}
}

func TestRecentGlobalExactCapacitySpanIsIdentity(t *testing.T) {
	t.Parallel()
	p, err := NewPolicy(StrategyRecentGlobal, PolicyConfig{MaxCacheLength: 16, GlobalTokens: 4})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	res, err := p.Compress(makeSpan(1, 16, 2))
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	for i, slot := range res.Keep[0] {
		if slot != i {
			t.Fatalf("exact-capacity span should keep everything, got %v", res.Keep[0])
		}
	}
}

func TestRecentGlobalShortSpanFails(t *testing.T) {
	t.Parallel()
	p, err := NewPolicy(StrategyRecentGlobal, PolicyConfig{MaxCacheLength: 16, GlobalTokens: 4})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	if _, err := p.Compress(makeSpan(1, 10, 2)); err == nil {
		t.Fatal("expected error for span shorter than capacity")
	}
}

func TestSnapKVKeepsObservationWindow(t *testing.T) {
	t.Parallel()
	p, err := NewPolicy(StrategySnapKV, PolicyConfig{
		MaxCacheLength: 6,
		HeadSpecific:   true,
		KernelSize:     3,
		ObservationLen: 2,
	})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}

	const heads, n = 2, 8
	span := makeSpan(heads, n, 2)
	raw := [heads][n]float32{
		{0.9, 0.8, 0.7, 0.01, 0.02, 0.03, 0.1, 0.1},
		{0.01, 0.02, 0.03, 0.9, 0.8, 0.7, 0.1, 0.1},
	}
	// Two identical observation steps so the per-slot mean equals raw.
	span.QSteps = 2
	span.Attn = make([]float32, heads*span.QSteps*n)
	for h := 0; h < heads; h++ {
		for s := 0; s < span.QSteps; s++ {
			copy(span.Attn[(h*span.QSteps+s)*n:(h*span.QSteps+s+1)*n], raw[h][:])
		}
	}

	res, err := p.Compress(span)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	wantKeep := [heads][]int{
		{0, 1, 2, 3, 6, 7},
		{2, 3, 4, 5, 6, 7},
	}
	for h := 0; h < heads; h++ {
		assertAscending(t, res.Keep[h])
		if len(res.Keep[h]) != 6 {
			t.Fatalf("head %d kept %d slots, want 6", h, len(res.Keep[h]))
		}
		for i, slot := range res.Keep[h] {
			if slot != wantKeep[h][i] {
				t.Fatalf("head %d keep: got %v want %v", h, res.Keep[h], wantKeep[h])
			}
		}
		// The trailing observation window must always survive.
		last := res.Keep[h][len(res.Keep[h])-2:]
		if last[0] != n-2 || last[1] != n-1 {
			t.Fatalf("head %d: observation window evicted, keep=%v", h, res.Keep[h])
		}
	}

	// History carries the pre-smoothed scores at the kept slots.
	if res.History == nil {
		t.Fatal("snapkv must return retained attention history")
	}
	for h := 0; h < heads; h++ {
		for c, slot := range res.Keep[h] {
			got := res.History[h*6+c]
			if math.Abs(float64(got-raw[h][slot])) > 1e-6 {
				t.Fatalf("head %d history[%d]: got %v want raw score %v", h, c, got, raw[h][slot])
			}
		}
	}
}

func TestSnapKVRequiresAttention(t *testing.T) {
	t.Parallel()
	p, err := NewPolicy(StrategySnapKV, PolicyConfig{MaxCacheLength: 6, HeadSpecific: true})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	if !p.RequiresAttention() {
		t.Fatal("snapkv must require attention")
	}
	if _, err := p.Compress(makeSpan(1, 8, 2)); err == nil {
		t.Fatal("expected error for missing attention weights")
	}
}

func TestSmoothPreservesLengthAndEdges(t *testing.T) {
	t.Parallel()
	x := []float32{1, 2, 3, 4, 5}
	out := smooth(x, 3)
	if len(out) != len(x) {
		t.Fatalf("smooth changed length: %d -> %d", len(x), len(out))
	}
	// Edge positions average over in-range neighbors only.
	if math.Abs(float64(out[0]-1.5)) > 1e-6 {
		t.Fatalf("smooth[0]: got %v want 1.5", out[0])
	}
	if math.Abs(float64(out[2]-3)) > 1e-6 {
		t.Fatalf("smooth[2]: got %v want 3", out[2])
	}
	if math.Abs(float64(out[4]-4.5)) > 1e-6 {
		t.Fatalf("smooth[4]: got %v want 4.5", out[4])
	}
}

func TestL2KeepsProtectedPositions(t *testing.T) {
	t.Parallel()
	p, err := NewPolicy(StrategyL2, PolicyConfig{
		MaxCacheLength: 5,
		GlobalTokens:   2,
		RecentWindow:   2,
		HeadSpecific:   true,
	})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}

	const heads, n, hd = 2, 8, 2
	span := makeSpan(heads, n, hd)
	// Zero the keys, then set one distinct norm per middle slot, with the
	// minimum in a different slot per head.
	for i := range span.Keys {
		span.Keys[i] = 0
	}
	norms := [heads][n]float32{
		{9, 9, 5, 6, 1, 7, 9, 9},
		{9, 9, 1, 6, 5, 7, 9, 9},
	}
	for h := 0; h < heads; h++ {
		for j := 0; j < n; j++ {
			span.Keys[(h*n+j)*hd] = norms[h][j]
		}
	}

	res, err := p.Compress(span)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	wantKeep := [heads][]int{
		{0, 1, 4, 6, 7},
		{0, 1, 2, 6, 7},
	}
	for h := 0; h < heads; h++ {
		assertAscending(t, res.Keep[h])
		for i, slot := range res.Keep[h] {
			if slot != wantKeep[h][i] {
				t.Fatalf("head %d keep: got %v want %v", h, res.Keep[h], wantKeep[h])
			}
		}
		// Protected positions always survive: global prefix and recent window.
		seen := map[int]bool{}
		for _, slot := range res.Keep[h] {
			seen[span.Positions[slot]] = true
		}
		for _, pos := range []int{0, 1, 6, 7} {
			if !seen[pos] {
				t.Fatalf("head %d: protected position %d missing from %v", h, pos, res.Keep[h])
			}
		}
	}
}

func TestNewPolicyCompatibility(t *testing.T) {
	t.Parallel()
	tests := []struct {
		strategy     Strategy
		headSpecific bool
		wantErr      bool
	}{
		{StrategyRecentGlobal, false, false},
		{StrategyRecentGlobal, true, false},
		{StrategySnapKV, true, false},
		{StrategySnapKV, false, true},
		{StrategyL2, true, false},
		{StrategyL2, false, true},
	}
	for _, tc := range tests {
		_, err := NewPolicy(tc.strategy, PolicyConfig{MaxCacheLength: 16, HeadSpecific: tc.headSpecific})
		if (err != nil) != tc.wantErr {
			t.Errorf("NewPolicy(%s, head_specific=%v): err=%v, wantErr=%v", tc.strategy, tc.headSpecific, err, tc.wantErr)
		}
	}

	if _, err := NewPolicy(Strategy("nope"), PolicyConfig{MaxCacheLength: 16}); err == nil {
		t.Error("expected error for unknown strategy")
	}
	if _, err := NewPolicy(StrategyRecentGlobal, PolicyConfig{}); err == nil {
		t.Error("expected error for zero capacity")
	}
}

func TestTopKIndices(t *testing.T) {
	t.Parallel()
	scores := []float32{0.1, 0.9, 0.5, 0.7, 0.2}

	got := topKIndices(scores, 3, true)
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("largest top-3: got %v want %v", got, want)
		}
	}

	got = topKIndices(scores, 2, false)
	want = []int{0, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("smallest top-2: got %v want %v", got, want)
		}
	}
}
