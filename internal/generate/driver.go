// Package generate runs the autoregressive loop over a bounded-cache model:
// one batched prefill forward, then single-token decode steps until the
// budget is spent or a terminator lands.
package generate

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/samcharles93/condense/internal/logger"
	"github.com/samcharles93/condense/internal/logits"
	"github.com/samcharles93/condense/internal/model"
	"github.com/samcharles93/condense/internal/tensor"
)

type Stats struct {
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
}

// Options controls a single Generate call.
type Options struct {
	// MaxNewTokens is the decode budget. Grows by the teacher-forced prefix
	// length when a long prompt is split.
	MaxNewTokens int
	// TerminatorIDs halt generation when one is emitted on a non-forced step.
	TerminatorIDs []int
	// FeedLongPrompts splits prompts longer than the smallest layer capacity
	// and replays the tail through decode instead of compressing at prefill.
	FeedLongPrompts bool
}

// Result carries the assembled token sequence: the fed prompt followed by
// everything decoded, with the unused sentinel tail stripped.
type Result struct {
	Tokens []int
	Stats  Stats
}

type Driver struct {
	Model   model.Model
	Sampler *logits.Sampler
	Log     logger.Logger
}

const sentinel = -1

// Generate produces up to MaxNewTokens tokens after the prompt. The prompt
// is prefilled in one batched forward; a prompt that would leave no free
// slot for the first decode step has its tail split off and teacher-forced
// back in, one token per step.
func (d *Driver) Generate(ctx context.Context, prompt []int, opts Options) (*Result, error) {
	if len(prompt) == 0 {
		return nil, fmt.Errorf("prompt must not be empty")
	}
	if opts.MaxNewTokens <= 0 {
		return nil, fmt.Errorf("max new tokens must be positive, got %d", opts.MaxNewTokens)
	}
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}

	d.Model.ResetCaches()

	// A prompt that exactly fills the smallest layer would force an eviction
	// before any token has attended to the cache, so that case always splits.
	maxPromptLen := d.Model.MinCacheLength() - 1
	inputs := prompt
	var prefix []int
	maxNew := opts.MaxNewTokens
	if (opts.FeedLongPrompts && len(prompt) > maxPromptLen) || len(prompt) == maxPromptLen+1 {
		inputs, prefix = prompt[:maxPromptLen], prompt[maxPromptLen:]
		maxNew += len(prefix)
		log.Debug("split long prompt",
			"prompt_len", len(prompt), "fed", len(inputs), "forced_prefix", len(prefix))
	}

	out := make([]int, len(inputs)+maxNew)
	for i := range out {
		out[i] = sentinel
	}
	copy(out, inputs)
	cursor := len(inputs)

	// Prefill.
	positions := make([]int, len(inputs))
	for i := range positions {
		positions[i] = i
	}
	logitsVec, err := d.Model.Forward(inputs, positions, model.CausalMask(len(inputs)))
	if err != nil {
		return nil, fmt.Errorf("prefill: %w", err)
	}

	var stats Stats
	start := time.Now()

	pos := len(inputs)
	for step := 0; step < maxNew; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var next int
		forced := len(prefix) > 0
		if forced {
			next, prefix = prefix[0], prefix[1:]
		} else {
			next = d.sample(logitsVec)
		}
		out[cursor] = next
		cursor++
		stats.TokensGenerated++

		// A terminator counts only when the model chose it itself.
		if !forced && slices.Contains(opts.TerminatorIDs, next) {
			break
		}
		if step == maxNew-1 {
			break
		}

		logitsVec, err = d.Model.Forward([]int{next}, []int{pos}, nil)
		if err != nil {
			return nil, fmt.Errorf("decode step %d: %w", step, err)
		}
		pos++
	}

	stats.Duration = time.Since(start)
	if stats.Duration.Seconds() > 0 {
		stats.TPS = float64(stats.TokensGenerated) / stats.Duration.Seconds()
	}

	// Strip the sentinel tail left by early termination.
	end := len(out)
	for i, id := range out {
		if id == sentinel {
			end = i
			break
		}
	}
	return &Result{Tokens: out[:end], Stats: stats}, nil
}

func (d *Driver) sample(logitsVec []float32) int {
	if d.Sampler == nil {
		return tensor.Argmax(logitsVec)
	}
	return d.Sampler.Sample(logitsVec)
}
