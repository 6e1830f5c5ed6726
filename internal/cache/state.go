package cache

import (
	"errors"
	"fmt"
)

// ErrFull is returned by Append when a layer has no free slots. The owner
// must free slots (policy compression or batched eviction) before retrying.
var ErrFull = errors.New("layer cache is full")

// LayerState owns one layer's bounded key/value buffers and bookkeeping.
// Buffers are head-major arenas of shape [heads, capacity, headDim]; the
// live length never exceeds capacity. Positions record each slot's original
// sequence position per head, since head-specific eviction retains different
// positions across heads.
//
// A LayerState is exclusively owned by one in-flight generation. Reset it
// between independent sequences; there is no internal locking by design.
type LayerState struct {
	heads    int
	headDim  int
	capacity int

	k    []float32
	v    []float32
	pos  []int
	hist []float32

	length int
}

// NewLayerState allocates the arenas for one layer. withHistory additionally
// allocates the retained attention-history buffer used by attention-aware
// policies.
func NewLayerState(heads, headDim, capacity int, withHistory bool) *LayerState {
	if heads <= 0 || headDim <= 0 || capacity <= 0 {
		panic(fmt.Sprintf("invalid layer cache shape: heads=%d headDim=%d capacity=%d", heads, headDim, capacity))
	}
	s := &LayerState{
		heads:    heads,
		headDim:  headDim,
		capacity: capacity,
		k:        make([]float32, heads*capacity*headDim),
		v:        make([]float32, heads*capacity*headDim),
		pos:      make([]int, heads*capacity),
	}
	if withHistory {
		s.hist = make([]float32, heads*capacity)
	}
	return s
}

func (s *LayerState) Heads() int    { return s.heads }
func (s *LayerState) HeadDim() int  { return s.headDim }
func (s *LayerState) Capacity() int { return s.capacity }

// Len returns the live slot count.
func (s *LayerState) Len() int { return s.length }

// Free returns the number of unoccupied slots.
func (s *LayerState) Free() int { return s.capacity - s.length }

// Append writes one position's keys and values into the next free slot of
// every head. k and v are laid out [heads, headDim]. Returns ErrFull when no
// slot is free.
func (s *LayerState) Append(position int, k, v []float32) error {
	if s.length >= s.capacity {
		return fmt.Errorf("appending position %d: %w", position, ErrFull)
	}
	if len(k) != s.heads*s.headDim || len(v) != s.heads*s.headDim {
		panic(fmt.Sprintf("append shape mismatch: got k=%d v=%d want %d", len(k), len(v), s.heads*s.headDim))
	}
	hd := s.headDim
	for h := 0; h < s.heads; h++ {
		off := (h*s.capacity + s.length) * hd
		copy(s.k[off:off+hd], k[h*hd:(h+1)*hd])
		copy(s.v[off:off+hd], v[h*hd:(h+1)*hd])
		s.pos[h*s.capacity+s.length] = position
	}
	s.length++
	return nil
}

// Key returns a view of head h's key vector in the given slot.
func (s *LayerState) Key(h, slot int) []float32 {
	s.checkSlot(h, slot)
	off := (h*s.capacity + slot) * s.headDim
	return s.k[off : off+s.headDim]
}

// Value returns a view of head h's value vector in the given slot.
func (s *LayerState) Value(h, slot int) []float32 {
	s.checkSlot(h, slot)
	off := (h*s.capacity + slot) * s.headDim
	return s.v[off : off+s.headDim]
}

// Position returns the original sequence position stored in head h's slot.
func (s *LayerState) Position(h, slot int) int {
	s.checkSlot(h, slot)
	return s.pos[h*s.capacity+slot]
}

// History returns head h's retained attention-history row, or nil when the
// layer was allocated without one.
func (s *LayerState) History(h int) []float32 {
	if s.hist == nil {
		return nil
	}
	return s.hist[h*s.capacity : h*s.capacity+s.length]
}

func (s *LayerState) checkSlot(h, slot int) {
	if h < 0 || h >= s.heads || slot < 0 || slot >= s.length {
		panic(fmt.Sprintf("slot out of range: head=%d slot=%d (heads=%d len=%d)", h, slot, s.heads, s.length))
	}
}

// LoadResult replaces the layer contents with a policy's compacted output.
// positions is the span's original position sequence; per-head stored
// positions are remapped through the keep indices. The compacted buffers are
// copied into the arena, never aliased.
func (s *LayerState) LoadResult(res Result, positions []int) error {
	if len(res.Keep) != s.heads {
		return fmt.Errorf("result covers %d heads, cache has %d", len(res.Keep), s.heads)
	}
	kept := len(res.Keep[0])
	if kept > s.capacity {
		return fmt.Errorf("result keeps %d slots, capacity is %d", kept, s.capacity)
	}
	hd := s.headDim
	for h := 0; h < s.heads; h++ {
		if len(res.Keep[h]) != kept {
			return fmt.Errorf("head %d keeps %d slots, head 0 keeps %d", h, len(res.Keep[h]), kept)
		}
		copy(s.k[h*s.capacity*hd:], res.Keys[h*kept*hd:(h+1)*kept*hd])
		copy(s.v[h*s.capacity*hd:], res.Values[h*kept*hd:(h+1)*kept*hd])
		for c, slot := range res.Keep[h] {
			s.pos[h*s.capacity+c] = positions[slot]
		}
		if s.hist != nil && res.History != nil {
			copy(s.hist[h*s.capacity:], res.History[h*kept:(h+1)*kept])
		}
	}
	s.length = kept
	return nil
}

// EvictBatch frees drop slots by discarding the oldest entries after the
// protected global prefix, shifting the survivors left. Freeing in batches
// amortizes eviction cost instead of dropping one slot per step.
func (s *LayerState) EvictBatch(drop, globalTokens int) error {
	if drop <= 0 {
		return fmt.Errorf("eviction batch size must be positive, got %d", drop)
	}
	if globalTokens+drop > s.length {
		return fmt.Errorf("cannot evict %d slots: only %d unprotected entries", drop, s.length-globalTokens)
	}
	hd := s.headDim
	from := globalTokens + drop
	for h := 0; h < s.heads; h++ {
		base := h * s.capacity
		copy(s.k[(base+globalTokens)*hd:], s.k[(base+from)*hd:(base+s.length)*hd])
		copy(s.v[(base+globalTokens)*hd:], s.v[(base+from)*hd:(base+s.length)*hd])
		copy(s.pos[base+globalTokens:], s.pos[base+from:base+s.length])
		if s.hist != nil {
			copy(s.hist[base+globalTokens:], s.hist[base+from:base+s.length])
		}
	}
	s.length -= drop
	return nil
}

// Reset clears the layer for a new sequence. Buffers are retained and
// zeroed lazily by subsequent writes.
func (s *LayerState) Reset() {
	s.length = 0
}
