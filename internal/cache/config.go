package cache

import (
	"fmt"
	"math"

	"github.com/samcharles93/condense/internal/logger"
	"github.com/samcharles93/condense/internal/model"
)

// Strategy names an eviction policy family.
type Strategy string

const (
	StrategyRecentGlobal Strategy = "recent_global"
	StrategySnapKV       Strategy = "snapkv"
	StrategyL2           Strategy = "l2"
)

// knownStrategy reports whether s names a shipped policy.
func knownStrategy(s Strategy) bool {
	switch s {
	case StrategyRecentGlobal, StrategySnapKV, StrategyL2:
		return true
	}
	return false
}

// needsTokenClasses reports whether the strategy scores token classes and
// therefore needs special/punctuation ids from the tokenizer collaborator.
// None of the shipped strategies do; salience strategies added later hook in
// here.
func needsTokenClasses(s Strategy) bool {
	return false
}

// Config is the user-facing cache configuration. Every field is enumerated
// here; unknown settings are a construction-time error in the callers that
// parse them, never silently accepted.
type Config struct {
	// MaxCacheLength holds one entry per layer group: a fraction of the max
	// sequence length in (0,1], or an absolute whole number of slots.
	MaxCacheLength []float64
	// GlobalTokens is the always-retained prefix length.
	GlobalTokens int
	// RecentWindow protects the trailing window from L2 eviction.
	RecentWindow int
	// DropAmount is the eviction batch size as a ratio of each layer's
	// capacity. Ignored when DropAmounts is set.
	DropAmount float64
	// DropAmounts optionally fixes the eviction batch size per layer.
	DropAmounts []int
	// Strategy selects the eviction policy.
	Strategy Strategy
	// HeadSpecific controls whether eviction decisions are made
	// independently per attention head.
	HeadSpecific bool
}

// TokenClasses carries auxiliary token id sets resolved from the tokenizer
// for strategies that score token classes.
type TokenClasses struct {
	Special     []int
	Punctuation []int
}

// Plan is the resolved per-layer cache sizing, fixed once per model load.
type Plan struct {
	Capacities   []int
	DropAmounts  []int
	GlobalTokens int
	RecentWindow int
	Strategy     Strategy
	HeadSpecific bool
	TokenClasses *TokenClasses
}

// MinCapacity returns the smallest per-layer capacity.
func (p *Plan) MinCapacity() int {
	minCap := p.Capacities[0]
	for _, c := range p.Capacities[1:] {
		if c < minCap {
			minCap = c
		}
	}
	return minCap
}

// FindMultiple rounds n up to the next multiple of k.
func FindMultiple(n, k int) int {
	if k <= 0 {
		panic("FindMultiple: k must be positive")
	}
	if n%k == 0 {
		return n
	}
	return n + k - n%k
}

// NormalizeLength converts a cache length spec into an absolute slot count.
// Specs in (0,1] are fractions of maxSeqLen; larger specs must be whole
// numbers and are clamped to maxSeqLen with a warning. The result is rounded
// up to a multiple of multipleOf, then clamped again so rounding never
// exceeds the hard ceiling.
func NormalizeLength(spec float64, maxSeqLen, multipleOf int, log logger.Logger) (int, error) {
	if maxSeqLen <= 0 {
		return 0, fmt.Errorf("max sequence length must be positive, got %d", maxSeqLen)
	}
	if spec <= 0 {
		return 0, fmt.Errorf("cache length must be positive, got %v", spec)
	}
	var n int
	if spec <= 1 {
		n = int(math.Round(spec * float64(maxSeqLen)))
	} else {
		if spec != math.Trunc(spec) {
			return 0, fmt.Errorf("absolute cache length must be a whole number, got %v", spec)
		}
		n = int(spec)
		if n > maxSeqLen {
			log.Warn("cache length exceeds max sequence length, clamping",
				"requested", n, "max_seq_len", maxSeqLen)
			n = maxSeqLen
		}
	}
	n = FindMultiple(n, multipleOf)
	if n > maxSeqLen {
		n = maxSeqLen
	}
	return n, nil
}

// NewPlan expands the per-group configuration into per-layer capacities and
// eviction batch sizes. tok may be nil unless the strategy scores token
// classes. Configuration errors here are fatal; callers should not retry.
func NewPlan(cfg Config, layerCount, maxSeqLen int, tok model.Tokenizer, log logger.Logger) (*Plan, error) {
	if !knownStrategy(cfg.Strategy) {
		return nil, fmt.Errorf("unknown eviction strategy %q", cfg.Strategy)
	}
	groups := len(cfg.MaxCacheLength)
	if groups == 0 {
		return nil, fmt.Errorf("at least one cache length group is required")
	}
	if layerCount <= 0 || layerCount%groups != 0 {
		return nil, fmt.Errorf("layer count %d is not divisible by %d cache length groups", layerCount, groups)
	}
	if cfg.GlobalTokens < 0 {
		return nil, fmt.Errorf("global tokens must be non-negative, got %d", cfg.GlobalTokens)
	}
	if cfg.RecentWindow < 0 {
		return nil, fmt.Errorf("recent window must be non-negative, got %d", cfg.RecentWindow)
	}

	normalized := make([]int, groups)
	for i, spec := range cfg.MaxCacheLength {
		n, err := NormalizeLength(spec, maxSeqLen, 8, log)
		if err != nil {
			return nil, fmt.Errorf("cache length group %d: %w", i, err)
		}
		normalized[i] = n
	}

	// Each group's capacity covers a contiguous block of layers.
	tile := layerCount / groups
	capacities := make([]int, 0, layerCount)
	for _, n := range normalized {
		for range tile {
			capacities = append(capacities, n)
		}
	}

	var drops []int
	if cfg.DropAmounts != nil {
		if len(cfg.DropAmounts) != layerCount {
			return nil, fmt.Errorf("explicit drop amounts must cover all %d layers, got %d", layerCount, len(cfg.DropAmounts))
		}
		drops = append([]int(nil), cfg.DropAmounts...)
	} else {
		if cfg.DropAmount < 0 || cfg.DropAmount > 1 {
			return nil, fmt.Errorf("drop amount ratio must be in [0,1], got %v", cfg.DropAmount)
		}
		drops = make([]int, layerCount)
		for i, c := range capacities {
			drops[i] = max(int(cfg.DropAmount*float64(c)), 1)
		}
	}

	plan := &Plan{
		Capacities:   capacities,
		DropAmounts:  drops,
		GlobalTokens: cfg.GlobalTokens,
		RecentWindow: cfg.RecentWindow,
		Strategy:     cfg.Strategy,
		HeadSpecific: cfg.HeadSpecific,
	}
	if cfg.GlobalTokens > plan.MinCapacity() {
		return nil, fmt.Errorf("global tokens (%d) exceed the smallest layer capacity (%d)", cfg.GlobalTokens, plan.MinCapacity())
	}

	if needsTokenClasses(cfg.Strategy) {
		if tok == nil {
			return nil, fmt.Errorf("strategy %q needs token classes but no tokenizer was provided", cfg.Strategy)
		}
		plan.TokenClasses = &TokenClasses{
			Special:     tok.SpecialIDs(),
			Punctuation: tok.PunctuationIDs(),
		}
	}

	log.Debug("cache plan resolved",
		"strategy", string(cfg.Strategy),
		"capacities", capacities,
		"drop_amounts", drops,
		"head_specific", cfg.HeadSpecific)
	return plan, nil
}
