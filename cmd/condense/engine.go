package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/samcharles93/condense/internal/cache"
	"github.com/samcharles93/condense/internal/generate"
	"github.com/samcharles93/condense/internal/logger"
	"github.com/samcharles93/condense/internal/logits"
	"github.com/samcharles93/condense/internal/tokenizer"
	"github.com/samcharles93/condense/internal/toy"
)

func newLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	switch logFormat {
	case "json":
		return logger.JSON(os.Stderr, level)
	case "text":
		return logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	default:
		// Pretty output only makes sense on a terminal.
		if stderrIsTTY() {
			return logger.Pretty(os.Stderr, level)
		}
		return logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
}

func parseCacheLengths(spec string) ([]float64, error) {
	parts := strings.Split(spec, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("cache length %q: %w", p, err)
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no cache lengths in %q", spec)
	}
	return out, nil
}

type samplingOptions struct {
	temperature float64
	topK        int64
	topP        float64
}

// buildEngine assembles the tokenizer, cache plan, model and sampler from
// the global flag state.
func buildEngine(log logger.Logger, sampling samplingOptions, maxNewTokens int64, feedLongPrompts bool) (*generate.TextEngine, error) {
	lengths, err := parseCacheLengths(cacheLengths)
	if err != nil {
		return nil, err
	}

	tok := tokenizer.NewByteLevel()
	plan, err := cache.NewPlan(cache.Config{
		MaxCacheLength: lengths,
		GlobalTokens:   int(globalTokens),
		RecentWindow:   int(recentWindow),
		DropAmount:     dropAmount,
		Strategy:       cache.Strategy(strategy),
		HeadSpecific:   headSpecific,
	}, int(layerCount), int(maxSeqLen), tok, log)
	if err != nil {
		return nil, fmt.Errorf("cache plan: %w", err)
	}

	m, err := toy.New(toy.Config{
		Vocab:     tokenizer.VocabSize,
		Hidden:    int(hidden),
		Heads:     int(heads),
		HeadDim:   int(headDim),
		FFN:       int(ffnSize),
		MaxSeqLen: int(maxSeqLen),
		Seed:      seed,
	}, plan, log)
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}

	var sampler *logits.Sampler
	if sampling.temperature > 0 {
		sampler = logits.NewSampler(logits.SamplerConfig{
			Seed:        seed,
			Temperature: float32(sampling.temperature),
			TopK:        int(sampling.topK),
			TopP:        float32(sampling.topP),
		})
	}

	return &generate.TextEngine{
		Model:     m,
		Tokenizer: tok,
		Sampler:   sampler,
		Log:       log,
		Defaults: generate.Options{
			MaxNewTokens:    int(maxNewTokens),
			TerminatorIDs:   []int{tokenizer.EOS},
			FeedLongPrompts: feedLongPrompts,
		},
	}, nil
}
