package model

import "fmt"

// Model represents a generative language model capable of autoregressive
// inference over bounded per-layer KV caches. The numeric forward pass is
// opaque to the generation driver; it only relies on this contract.
type Model interface {
	// Forward advances the model over tokens at the given positions and
	// returns the logits for the final position. mask is a row-major n*n
	// causal mask for batched prefill; it must be nil for single-token
	// decode steps.
	Forward(tokens, positions []int, mask []bool) ([]float32, error)
	// MinCacheLength returns the smallest per-layer cache capacity.
	MinCacheLength() int
	// ResetCaches clears all cache state between independent sequences.
	ResetCaches()
}

// Tokenizer is the tokenizer collaborator. Eviction strategies that score
// token classes resolve special and punctuation ids through it.
type Tokenizer interface {
	Encode(s string) ([]int, error)
	Decode(ids []int) (string, error)
	SpecialIDs() []int
	PunctuationIDs() []int
}

// CausalMask builds a row-major n*n lower-triangular mask: mask[q*n+k] is
// true when key position k is visible to query position q.
func CausalMask(n int) []bool {
	if n <= 0 {
		panic(fmt.Sprintf("causal mask size must be positive, got %d", n))
	}
	mask := make([]bool, n*n)
	for q := 0; q < n; q++ {
		for k := 0; k <= q; k++ {
			mask[q*n+k] = true
		}
	}
	return mask
}
