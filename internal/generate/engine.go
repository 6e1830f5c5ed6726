package generate

import (
	"context"
	"fmt"

	"github.com/samcharles93/condense/internal/logger"
	"github.com/samcharles93/condense/internal/logits"
	"github.com/samcharles93/condense/internal/model"
)

// TextEngine ties the tokenizer to the generation driver so callers can work
// in plain strings. The CLI and the HTTP service both sit on top of it.
type TextEngine struct {
	Model     model.Model
	Tokenizer model.Tokenizer
	Sampler   *logits.Sampler
	Log       logger.Logger
	Defaults  Options
}

// GenerateText encodes the prompt, runs the driver and decodes only the
// newly generated tokens. maxNewTokens overrides the engine default when
// positive.
func (e *TextEngine) GenerateText(ctx context.Context, prompt string, maxNewTokens int) (string, Stats, error) {
	opts := e.Defaults
	if maxNewTokens > 0 {
		opts.MaxNewTokens = maxNewTokens
	}

	ids, err := e.Tokenizer.Encode(prompt)
	if err != nil {
		return "", Stats{}, fmt.Errorf("encode prompt: %w", err)
	}
	if len(ids) == 0 {
		return "", Stats{}, fmt.Errorf("prompt encoded to zero tokens")
	}

	d := &Driver{Model: e.Model, Sampler: e.Sampler, Log: e.Log}
	res, err := d.Generate(ctx, ids, opts)
	if err != nil {
		return "", Stats{}, err
	}

	text, err := e.Tokenizer.Decode(res.Tokens[len(ids):])
	if err != nil {
		return "", Stats{}, fmt.Errorf("decode output: %w", err)
	}
	return text, res.Stats, nil
}
