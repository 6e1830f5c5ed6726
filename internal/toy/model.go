// Package toy implements a small transformer-like language model with
// bounded per-layer KV caches. It exists to exercise the cache sizing,
// eviction policies and generation loop end to end with real attention
// arithmetic; weights are seeded pseudo-random, not trained.
package toy

import (
	"fmt"
	"math"

	"github.com/samcharles93/condense/internal/cache"
	"github.com/samcharles93/condense/internal/logger"
	"github.com/samcharles93/condense/internal/tensor"
)

// Config fixes the model dimensions. Layer count comes from the cache plan.
type Config struct {
	Vocab     int
	Hidden    int
	Heads     int
	HeadDim   int
	FFN       int
	MaxSeqLen int
	Seed      int64
}

type layer struct {
	wq, wk, wv tensor.Mat // [heads*headDim, hidden]
	wo         tensor.Mat // [hidden, heads*headDim]
	w1         tensor.Mat // [ffn, hidden]
	w2         tensor.Mat // [hidden, ffn]

	policy cache.Policy
	state  *cache.LayerState
	drop   int
}

// Model is a multi-layer attention model whose per-layer caches never grow
// past their planned capacities. Over-capacity prefill spans are compressed
// by the configured eviction policy; a full cache during decode frees a
// batch of slots before appending.
type Model struct {
	cfg    Config
	plan   *cache.Plan
	log    logger.Logger
	emb    tensor.Mat // [vocab, hidden]
	posEmb tensor.Mat // [maxSeqLen, hidden]
	wOut   tensor.Mat // [vocab, hidden]
	layers []*layer
}

// New builds the model with deterministic weights derived from cfg.Seed.
// The plan decides the layer count, per-layer capacities and the policy.
func New(cfg Config, plan *cache.Plan, log logger.Logger) (*Model, error) {
	if cfg.Vocab <= 0 || cfg.Hidden <= 0 || cfg.Heads <= 0 || cfg.HeadDim <= 0 || cfg.FFN <= 0 || cfg.MaxSeqLen <= 0 {
		return nil, fmt.Errorf("model dimensions must be positive: %+v", cfg)
	}
	if log == nil {
		log = logger.Discard()
	}

	m := &Model{
		cfg:    cfg,
		plan:   plan,
		log:    log,
		emb:    tensor.NewMat(cfg.Vocab, cfg.Hidden),
		posEmb: tensor.NewMat(cfg.MaxSeqLen, cfg.Hidden),
		wOut:   tensor.NewMat(cfg.Vocab, cfg.Hidden),
	}
	tensor.FillRand(&m.emb, cfg.Seed+11)
	tensor.FillRand(&m.posEmb, cfg.Seed+23)
	tensor.FillRand(&m.wOut, cfg.Seed+37)

	proj := cfg.Heads * cfg.HeadDim
	for i, capacity := range plan.Capacities {
		policy, err := cache.NewPolicy(plan.Strategy, cache.PolicyConfig{
			MaxCacheLength: capacity,
			GlobalTokens:   plan.GlobalTokens,
			RecentWindow:   plan.RecentWindow,
			HeadSpecific:   plan.HeadSpecific,
		})
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		l := &layer{
			wq:     tensor.NewMat(proj, cfg.Hidden),
			wk:     tensor.NewMat(proj, cfg.Hidden),
			wv:     tensor.NewMat(proj, cfg.Hidden),
			wo:     tensor.NewMat(cfg.Hidden, proj),
			w1:     tensor.NewMat(cfg.FFN, cfg.Hidden),
			w2:     tensor.NewMat(cfg.Hidden, cfg.FFN),
			policy: policy,
			state:  cache.NewLayerState(cfg.Heads, cfg.HeadDim, capacity, policy.RequiresAttention()),
			drop:   plan.DropAmounts[i],
		}
		base := cfg.Seed + int64(i)*101
		tensor.FillRand(&l.wq, base+1)
		tensor.FillRand(&l.wk, base+2)
		tensor.FillRand(&l.wv, base+3)
		tensor.FillRand(&l.wo, base+4)
		tensor.FillRand(&l.w1, base+5)
		tensor.FillRand(&l.w2, base+6)
		m.layers = append(m.layers, l)
	}
	return m, nil
}

// MinCacheLength returns the smallest per-layer cache capacity.
func (m *Model) MinCacheLength() int { return m.plan.MinCapacity() }

// ResetCaches clears every layer for a new sequence.
func (m *Model) ResetCaches() {
	for _, l := range m.layers {
		l.state.Reset()
	}
}

// LayerLen returns layer li's live cache length. Tests use it to check the
// capacity bound.
func (m *Model) LayerLen(li int) int { return m.layers[li].state.Len() }

// Forward advances the model and returns the final position's logits. A
// non-nil mask selects batched prefill over the whole token span; a nil
// mask is a decode step and must cover exactly one position.
func (m *Model) Forward(tokens, positions []int, mask []bool) ([]float32, error) {
	if len(tokens) == 0 || len(tokens) != len(positions) {
		return nil, fmt.Errorf("tokens and positions must be non-empty and equal length: %d vs %d", len(tokens), len(positions))
	}
	for _, tok := range tokens {
		if tok < 0 || tok >= m.cfg.Vocab {
			return nil, fmt.Errorf("token id %d out of range [0, %d)", tok, m.cfg.Vocab)
		}
	}
	if mask == nil {
		if len(tokens) != 1 {
			return nil, fmt.Errorf("decode step must cover exactly one position, got %d", len(tokens))
		}
		return m.decode(tokens[0], positions[0])
	}
	n := len(tokens)
	if len(mask) != n*n {
		return nil, fmt.Errorf("mask must be %d elements for a %d-token span, got %d", n*n, n, len(mask))
	}
	return m.prefill(tokens, positions, mask)
}

func (m *Model) prefill(tokens, positions []int, mask []bool) ([]float32, error) {
	n := len(tokens)
	heads, hd := m.cfg.Heads, m.cfg.HeadDim
	proj := heads * hd

	x := tensor.NewMat(n, m.cfg.Hidden)
	for i := range tokens {
		m.embed(x.Row(i), tokens[i], positions[i])
	}

	normed := make([]float32, m.cfg.Hidden)
	qkvRow := make([]float32, proj)
	scores := make([]float32, n)
	negInf := float32(math.Inf(-1))

	for li, l := range m.layers {
		// Head-major projections over the whole span.
		q := make([]float32, heads*n*hd)
		k := make([]float32, heads*n*hd)
		v := make([]float32, heads*n*hd)
		scatter := func(dst []float32, i int) {
			for h := 0; h < heads; h++ {
				copy(dst[(h*n+i)*hd:(h*n+i+1)*hd], qkvRow[h*hd:(h+1)*hd])
			}
		}
		for i := 0; i < n; i++ {
			rmsnorm(normed, x.Row(i))
			tensor.MatVec(qkvRow, l.wq, normed)
			scatter(q, i)
			tensor.MatVec(qkvRow, l.wk, normed)
			scatter(k, i)
			tensor.MatVec(qkvRow, l.wv, normed)
			scatter(v, i)
		}

		var attn []float32
		if l.policy.RequiresAttention() {
			attn = make([]float32, heads*n*n)
		}

		ctxOut := tensor.NewMat(n, proj)
		scale := float32(1 / math.Sqrt(float64(hd)))
		for h := 0; h < heads; h++ {
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					if mask[i*n+j] {
						scores[j] = tensor.Dot(q[(h*n+i)*hd:(h*n+i+1)*hd], k[(h*n+j)*hd:(h*n+j+1)*hd]) * scale
					} else {
						scores[j] = negInf
					}
				}
				tensor.Softmax(scores)
				if attn != nil {
					copy(attn[(h*n+i)*n:(h*n+i+1)*n], scores)
				}
				out := ctxOut.Row(i)[h*hd : (h+1)*hd]
				for j := 0; j < n; j++ {
					if scores[j] == 0 {
						continue
					}
					vj := v[(h*n+j)*hd : (h*n+j+1)*hd]
					for d := range out {
						out[d] += scores[j] * vj[d]
					}
				}
			}
		}

		for i := 0; i < n; i++ {
			l.applyOutputAndFFN(x.Row(i), ctxOut.Row(i), normed)
		}

		if err := m.fillCache(li, l, positions, k, v, attn, n); err != nil {
			return nil, err
		}
	}

	return m.logits(x.Row(n - 1)), nil
}

// fillCache stores a prefill span, compressing it first when it exceeds the
// layer's capacity.
func (m *Model) fillCache(li int, l *layer, positions []int, k, v, attn []float32, n int) error {
	heads, hd := m.cfg.Heads, m.cfg.HeadDim
	if n <= l.state.Capacity() {
		kRow := make([]float32, heads*hd)
		vRow := make([]float32, heads*hd)
		for i := 0; i < n; i++ {
			for h := 0; h < heads; h++ {
				copy(kRow[h*hd:(h+1)*hd], k[(h*n+i)*hd:(h*n+i+1)*hd])
				copy(vRow[h*hd:(h+1)*hd], v[(h*n+i)*hd:(h*n+i+1)*hd])
			}
			if err := l.state.Append(positions[i], kRow, vRow); err != nil {
				return fmt.Errorf("layer %d prefill: %w", li, err)
			}
		}
		return nil
	}

	res, err := l.policy.Compress(cache.Span{
		Positions: positions,
		Keys:      k,
		Values:    v,
		Heads:     heads,
		HeadDim:   hd,
		Attn:      attn,
		QSteps:    n,
	})
	if err != nil {
		return fmt.Errorf("layer %d prompt compression: %w", li, err)
	}
	if err := l.state.LoadResult(res, positions); err != nil {
		return fmt.Errorf("layer %d prompt compression: %w", li, err)
	}
	m.log.Debug("compressed prefill span",
		"layer", li, "span", n, "capacity", l.state.Capacity())
	return nil
}

func (m *Model) decode(token, position int) ([]float32, error) {
	heads, hd := m.cfg.Heads, m.cfg.HeadDim
	proj := heads * hd

	x := make([]float32, m.cfg.Hidden)
	m.embed(x, token, position)

	normed := make([]float32, m.cfg.Hidden)
	q := make([]float32, proj)
	k := make([]float32, proj)
	v := make([]float32, proj)
	ctxOut := make([]float32, proj)
	scale := float32(1 / math.Sqrt(float64(hd)))

	for li, l := range m.layers {
		if l.state.Free() == 0 {
			if err := l.state.EvictBatch(l.drop, m.plan.GlobalTokens); err != nil {
				return nil, fmt.Errorf("layer %d eviction: %w", li, err)
			}
			m.log.Debug("evicted cache batch", "layer", li, "dropped", l.drop)
		}

		rmsnorm(normed, x)
		tensor.MatVec(q, l.wq, normed)
		tensor.MatVec(k, l.wk, normed)
		tensor.MatVec(v, l.wv, normed)
		if err := l.state.Append(position, k, v); err != nil {
			return nil, fmt.Errorf("layer %d decode append: %w", li, err)
		}

		clear(ctxOut)
		length := l.state.Len()
		scores := make([]float32, length)
		for h := 0; h < heads; h++ {
			qh := q[h*hd : (h+1)*hd]
			for slot := 0; slot < length; slot++ {
				scores[slot] = tensor.Dot(qh, l.state.Key(h, slot)) * scale
			}
			tensor.Softmax(scores)
			out := ctxOut[h*hd : (h+1)*hd]
			for slot := 0; slot < length; slot++ {
				vs := l.state.Value(h, slot)
				for d := range out {
					out[d] += scores[slot] * vs[d]
				}
			}
		}

		l.applyOutputAndFFN(x, ctxOut, normed)
	}

	return m.logits(x), nil
}

// applyOutputAndFFN projects the attention context back to the hidden size
// and runs the feed-forward block, both with residual connections. normed is
// scratch of hidden length.
func (l *layer) applyOutputAndFFN(x, ctxOut, normed []float32) {
	hidden := l.wo.R
	projOut := make([]float32, hidden)
	tensor.MatVec(projOut, l.wo, ctxOut)
	tensor.Add(x, projOut)

	rmsnorm(normed, x)
	ff := make([]float32, l.w1.R)
	tensor.MatVec(ff, l.w1, normed)
	for i, f := range ff {
		if f < 0 {
			ff[i] = 0
		}
	}
	tensor.MatVec(projOut, l.w2, ff)
	tensor.Add(x, projOut)
}

func (m *Model) embed(dst []float32, token, position int) {
	copy(dst, m.emb.Row(token))
	tensor.Add(dst, m.posEmb.Row(position%m.cfg.MaxSeqLen))
}

func (m *Model) logits(x []float32) []float32 {
	normed := make([]float32, len(x))
	rmsnorm(normed, x)
	logits := make([]float32, m.cfg.Vocab)
	tensor.MatVec(logits, m.wOut, normed)
	return logits
}

// rmsnorm writes x scaled to unit root-mean-square into dst.
func rmsnorm(dst, x []float32) {
	var ss float64
	for _, v := range x {
		ss += float64(v) * float64(v)
	}
	inv := float32(1 / math.Sqrt(ss/float64(len(x))+1e-5))
	for i, v := range x {
		dst[i] = v * inv
	}
}
