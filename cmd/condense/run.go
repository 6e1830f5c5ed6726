package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
)

func runCmd() *cli.Command {
	var (
		prompt          string
		maxNewTokens    int64
		temp            float64
		topK            int64
		topP            float64
		feedLongPrompts bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt text",
			Destination: &prompt,
		},
		&cli.Int64Flag{
			Name:        "max-new-tokens",
			Aliases:     []string{"max_new_tokens", "n"},
			Usage:       "number of tokens to generate",
			Value:       64,
			Destination: &maxNewTokens,
		},
		&cli.Float64Flag{
			Name:        "temp",
			Aliases:     []string{"temperature", "t"},
			Usage:       "sampling temperature (0 = greedy)",
			Value:       0,
			Destination: &temp,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Aliases:     []string{"top_k", "topk"},
			Usage:       "top-k sampling parameter",
			Value:       40,
			Destination: &topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Aliases:     []string{"top_p", "topp"},
			Usage:       "top-p sampling parameter",
			Value:       0.95,
			Destination: &topP,
		},
		&cli.BoolFlag{
			Name:        "feed-long-prompts",
			Aliases:     []string{"feed_long_prompts"},
			Usage:       "replay over-capacity prompt tails through decode instead of compressing at prefill",
			Destination: &feedLongPrompts,
		},
	}
	flags = append(flags, cacheFlags()...)
	flags = append(flags, modelFlags()...)
	flags = append(flags, loggingFlags()...)

	return &cli.Command{
		Name:  "run",
		Usage: "Generate text with a bounded KV cache",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := LoadConfig()
			applyRunConfig(c, cfg, &temp, &topK, &topP, &maxNewTokens, &feedLongPrompts)

			log := newLogger()
			if prompt == "" {
				return cli.Exit("error: --prompt is required", 1)
			}

			engine, err := buildEngine(log, samplingOptions{temp, topK, topP}, maxNewTokens, feedLongPrompts)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			text, stats, err := engine.GenerateText(ctx, prompt, 0)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: generate: %v", err), 1)
			}

			fmt.Println(text)
			log.Info("generation complete",
				"tokens", stats.TokensGenerated,
				"duration", stats.Duration.Round(time.Millisecond),
				"tps", fmt.Sprintf("%.1f", stats.TPS))
			return nil
		},
	}
}
