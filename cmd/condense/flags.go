package main

import "github.com/urfave/cli/v3"

var (
	cacheLengths string
	globalTokens int64
	recentWindow int64
	dropAmount   float64
	strategy     string
	headSpecific bool
	maxSeqLen    int64
	layerCount   int64

	hidden  int64
	heads   int64
	headDim int64
	ffnSize int64
	seed    int64

	logLevel  string
	logFormat string
	debug     bool
)

func cacheFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "cache-lengths",
			Aliases:     []string{"cache_lengths"},
			Usage:       "per layer group cache sizes: fractions of max-seq-len or absolute slot counts, comma separated",
			Value:       "0.25",
			Destination: &cacheLengths,
		},
		&cli.Int64Flag{
			Name:        "global-tokens",
			Aliases:     []string{"global_tokens"},
			Usage:       "always-retained prefix length",
			Value:       4,
			Destination: &globalTokens,
		},
		&cli.Int64Flag{
			Name:        "recent-window",
			Aliases:     []string{"recent_window"},
			Usage:       "trailing window protected from l2 eviction",
			Value:       16,
			Destination: &recentWindow,
		},
		&cli.Float64Flag{
			Name:        "drop-amount",
			Aliases:     []string{"drop_amount"},
			Usage:       "eviction batch size as a ratio of layer capacity",
			Value:       0.1,
			Destination: &dropAmount,
		},
		&cli.StringFlag{
			Name:        "strategy",
			Usage:       "eviction strategy (recent_global, snapkv, l2)",
			Value:       "recent_global",
			Destination: &strategy,
		},
		&cli.BoolFlag{
			Name:        "head-specific",
			Aliases:     []string{"head_specific"},
			Usage:       "evict independently per attention head",
			Destination: &headSpecific,
		},
		&cli.Int64Flag{
			Name:        "max-seq-len",
			Aliases:     []string{"max_seq_len", "ctx"},
			Usage:       "max sequence length",
			Value:       256,
			Destination: &maxSeqLen,
		},
	}
}

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "layers",
			Usage:       "model layer count",
			Value:       4,
			Destination: &layerCount,
		},
		&cli.Int64Flag{
			Name:        "hidden",
			Usage:       "hidden size",
			Value:       64,
			Destination: &hidden,
		},
		&cli.Int64Flag{
			Name:        "heads",
			Usage:       "attention head count",
			Value:       4,
			Destination: &heads,
		},
		&cli.Int64Flag{
			Name:        "head-dim",
			Aliases:     []string{"head_dim"},
			Usage:       "attention head dimension",
			Value:       16,
			Destination: &headDim,
		},
		&cli.Int64Flag{
			Name:        "ffn",
			Usage:       "feed-forward size",
			Value:       128,
			Destination: &ffnSize,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "weight and sampling RNG seed",
			Value:       42,
			Destination: &seed,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
